package document

import (
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/docforge/docsync/crdt"
)

// Share and field names inside the replicated document.
const (
	shareMetadata   = "metadata"
	sharePages      = "pages"
	shareBlocks     = "blocks"
	shareComponents = "components"
	shareLocks      = "locks"

	fieldTitle    = "title"
	fieldParentID = "parentId"
	fieldOrder    = "order"
	fieldPageID   = "pageId"
	fieldName     = "name"
	fieldBlockID  = "blockId"
	fieldType     = "type"
	fieldHTML     = "html"

	propPrefix     = "prop:"
	htmlTextPrefix = "html:"
)

// Model is a handle to one replicated project: the page/block/component
// collections, the metadata map, and the advisory lock table. All reads are
// served from local state; all writes are CRDT transactions and become
// visible to every local observer synchronously.
type Model struct {
	doc  *crdt.Doc
	meta *crdt.Map

	pages      *crdt.NodeSet
	blocks     *crdt.NodeSet
	components *crdt.NodeSet
	locks      *crdt.Map

	log zerolog.Logger
}

// NewModel wraps a replicated document in a project model.
func NewModel(doc *crdt.Doc, log zerolog.Logger) *Model {
	return &Model{
		doc:        doc,
		meta:       doc.Map(shareMetadata),
		pages:      doc.Set(sharePages),
		blocks:     doc.Set(shareBlocks),
		components: doc.Set(shareComponents),
		locks:      doc.Map(shareLocks),
		log:        log.With().Str("component", "document").Logger(),
	}
}

// Doc returns the underlying replicated document.
func (m *Model) Doc() *crdt.Doc { return m.doc }

// Metadata returns the replicated metadata map.
func (m *Model) Metadata() *crdt.Map { return m.meta }

// Locks returns the replicated advisory lock table.
func (m *Model) Locks() *crdt.Map { return m.locks }

// ObservePages registers fn for committed page collection changes.
func (m *Model) ObservePages(fn func(crdt.SetEvent)) (unsubscribe func()) {
	return m.pages.Observe(fn)
}

// ObserveComponents registers fn for committed component collection changes.
func (m *Model) ObserveComponents(fn func(crdt.SetEvent)) (unsubscribe func()) {
	return m.components.Observe(fn)
}

// EncodeState serializes the whole replicated document as one binary update.
func (m *Model) EncodeState() ([]byte, error) { return m.doc.EncodeState() }

// ApplyState merges a binary update from another replica or from storage.
func (m *Model) ApplyState(data []byte) error { return m.doc.ApplyState(data) }

// Page returns one page by id.
func (m *Model) Page(id string) (PageNode, bool) {
	fields, ok := m.pages.Fields(id)
	if !ok {
		return PageNode{}, false
	}
	return pageFromFields(id, fields), true
}

// Pages returns all live pages, ordered by (parent, order, id).
func (m *Model) Pages() []PageNode {
	ids := m.pages.IDs()
	out := make([]PageNode, 0, len(ids))
	for _, id := range ids {
		if fields, ok := m.pages.Fields(id); ok {
			out = append(out, pageFromFields(id, fields))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ParentID != out[j].ParentID {
			return out[i].ParentID < out[j].ParentID
		}
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Tree returns the reconstructed page hierarchy.
func (m *Model) Tree() []*TreePage {
	return BuildTree(m.Pages())
}

// Block returns one block by id.
func (m *Model) Block(id string) (BlockNode, bool) {
	fields, ok := m.blocks.Fields(id)
	if !ok {
		return BlockNode{}, false
	}
	return blockFromFields(id, fields), true
}

// BlocksOf returns the live blocks of a page ordered by (order, id).
func (m *Model) BlocksOf(pageID string) []BlockNode {
	var out []BlockNode
	for _, id := range m.blocks.IDs() {
		fields, ok := m.blocks.Fields(id)
		if !ok || fields[fieldPageID] != pageID {
			continue
		}
		out = append(out, blockFromFields(id, fields))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Component returns one component by id, with its HTML read from the
// replicated text if one has been materialized.
func (m *Model) Component(id string) (ComponentNode, bool) {
	fields, ok := m.components.Fields(id)
	if !ok {
		return ComponentNode{}, false
	}
	c := componentFromFields(id, fields)
	if m.doc.HasText(htmlTextPrefix + id) {
		c.HTML = m.doc.Text(htmlTextPrefix + id).String()
	}
	return c, true
}

// ComponentsOf returns the live components of a block ordered by (order, id).
func (m *Model) ComponentsOf(blockID string) []ComponentNode {
	var out []ComponentNode
	for _, id := range m.components.IDs() {
		fields, ok := m.components.Fields(id)
		if !ok || fields[fieldBlockID] != blockID {
			continue
		}
		c := componentFromFields(id, fields)
		if m.doc.HasText(htmlTextPrefix + id) {
			c.HTML = m.doc.Text(htmlTextPrefix + id).String()
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// HTMLText materializes (on first call) and returns the replicated text
// holding a component's HTML. Until an editor binds, the HTML lives as a
// plain field; the first binding seeds the text from it.
func (m *Model) HTMLText(componentID string) (*crdt.Text, bool) {
	if !m.components.Has(componentID) {
		return nil, false
	}
	name := htmlTextPrefix + componentID
	if m.doc.HasText(name) {
		return m.doc.Text(name), true
	}
	seed, _ := m.components.Field(componentID, fieldHTML)
	text := m.doc.Text(name)
	if seed != "" {
		err := m.doc.Transact(crdt.OriginImport, func(tx *crdt.Tx) error {
			return text.SetString(tx, seed)
		})
		if err != nil {
			m.log.Error().Err(err).Str("component", componentID).Msg("seed html text")
		}
	}
	return text, true
}

// Touch stamps the modification time. Callers batch it into the same
// transaction as the substantive write.
func (m *Model) Touch(tx *crdt.Tx) {
	m.meta.Set(tx, MetaModifiedAt, time.Now().UTC().Format(time.RFC3339))
}

func pageFromFields(id string, fields map[string]string) PageNode {
	order, _ := strconv.Atoi(fields[fieldOrder])
	return PageNode{
		ID:       id,
		Title:    fields[fieldTitle],
		ParentID: fields[fieldParentID],
		Order:    order,
	}
}

func blockFromFields(id string, fields map[string]string) BlockNode {
	order, _ := strconv.Atoi(fields[fieldOrder])
	return BlockNode{
		ID:     id,
		PageID: fields[fieldPageID],
		Name:   fields[fieldName],
		Order:  order,
	}
}

func componentFromFields(id string, fields map[string]string) ComponentNode {
	order, _ := strconv.Atoi(fields[fieldOrder])
	c := ComponentNode{
		ID:      id,
		BlockID: fields[fieldBlockID],
		Type:    fields[fieldType],
		Order:   order,
		HTML:    fields[fieldHTML],
	}
	for k, v := range fields {
		if len(k) > len(propPrefix) && k[:len(propPrefix)] == propPrefix {
			if c.Properties == nil {
				c.Properties = make(map[string]string)
			}
			c.Properties[k[len(propPrefix):]] = v
		}
	}
	return c
}
