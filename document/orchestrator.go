package document

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/docforge/docsync/asset"
	"github.com/docforge/docsync/crdt"
)

// SyncCapableProjectManager is the structural mutation surface of the
// engine. Every operation is expressed as a CRDT insert, field update, or
// removal, never as a blind overwrite of a composite value. Operations on
// ids that no longer exist return false: the target was deleted by another
// replica and the caller should refresh its view.
type SyncCapableProjectManager interface {
	AddPage(title, parentID string) string
	MovePage(pageID, newParentID string, newIndex int) bool
	ClonePage(pageID string) (string, bool)
	DeletePage(pageID string) bool

	AddBlock(pageID, name string) (string, bool)
	CloneBlock(blockID string) (string, bool)
	DeleteBlock(blockID string) bool

	AddComponent(blockID, componentType string) (string, bool)
	CloneComponent(componentID string) (string, bool)
	DeleteComponent(componentID string) bool
	UpdateComponentHTML(pageID, blockID, componentID, html string) bool

	AcquireLock(componentID string) bool
	ReleaseLock(componentID string)
	GetLockInfo(componentID string) (LockInfo, bool)
}

// Orchestrator implements SyncCapableProjectManager by composition over the
// base model (it holds the model, it does not graft methods onto it). Locks
// are a UX courtesy: they gate editor affordances and have no bearing on
// document convergence.
type Orchestrator struct {
	model  *Model
	assets *asset.Store

	userID   string
	userName string
	log      zerolog.Logger
}

var _ SyncCapableProjectManager = (*Orchestrator)(nil)

// NewOrchestrator builds the mutation API for one user of a project.
func NewOrchestrator(model *Model, assets *asset.Store, userID, userName string, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		model:    model,
		assets:   assets,
		userID:   userID,
		userName: userName,
		log:      log.With().Str("component", "orchestrator").Logger(),
	}
}

// AddPage appends a new page with order = current page count.
func (o *Orchestrator) AddPage(title, parentID string) string {
	id := uuid.NewString()
	order := len(o.model.Pages())
	o.model.doc.Transact(crdt.OriginUser, func(tx *crdt.Tx) error {
		o.model.pages.Insert(tx, id, map[string]string{
			fieldTitle:    title,
			fieldParentID: parentID,
			fieldOrder:    strconv.Itoa(order),
		})
		o.model.Touch(tx)
		return nil
	})
	return id
}

// MovePage reparents and reorders a page by updating the two fields in
// place; they are independent, so concurrent moves of different pages merge
// cleanly. Returns false if the page no longer exists.
func (o *Orchestrator) MovePage(pageID, newParentID string, newIndex int) bool {
	if !o.model.pages.Has(pageID) {
		return false
	}
	if newIndex < 0 {
		newIndex = len(childPages(o.model.Pages(), newParentID))
	}
	moved := false
	o.model.doc.Transact(crdt.OriginUser, func(tx *crdt.Tx) error {
		ok1 := o.model.pages.SetField(tx, pageID, fieldParentID, newParentID)
		ok2 := o.model.pages.SetField(tx, pageID, fieldOrder, strconv.Itoa(newIndex))
		moved = ok1 && ok2
		if moved {
			o.model.Touch(tx)
		}
		return nil
	})
	return moved
}

// ClonePage deep-copies a page with its blocks and components under fresh
// ids. Lock state is not copied.
func (o *Orchestrator) ClonePage(pageID string) (string, bool) {
	src, ok := o.model.Page(pageID)
	if !ok {
		return "", false
	}
	blocks := o.model.BlocksOf(pageID)
	components := make(map[string][]ComponentNode, len(blocks))
	for _, b := range blocks {
		components[b.ID] = o.model.ComponentsOf(b.ID)
	}

	newPageID := uuid.NewString()
	order := len(o.model.Pages())
	o.model.doc.Transact(crdt.OriginUser, func(tx *crdt.Tx) error {
		o.model.pages.Insert(tx, newPageID, map[string]string{
			fieldTitle:    src.Title,
			fieldParentID: src.ParentID,
			fieldOrder:    strconv.Itoa(order),
		})
		for _, b := range blocks {
			newBlockID := uuid.NewString()
			o.model.blocks.Insert(tx, newBlockID, blockFields(newPageID, b.Name, b.Order))
			for _, c := range components[b.ID] {
				o.model.components.Insert(tx, uuid.NewString(), componentFields(newBlockID, c))
			}
		}
		o.model.Touch(tx)
		return nil
	})
	return newPageID, true
}

// DeletePage removes the page entry. Its blocks and components become
// unreachable and are left for compaction rather than walked here.
// TODO: prune orphaned blocks/components in a background compaction pass.
func (o *Orchestrator) DeletePage(pageID string) bool {
	if !o.model.pages.Has(pageID) {
		return false
	}
	removed := false
	o.model.doc.Transact(crdt.OriginUser, func(tx *crdt.Tx) error {
		removed = o.model.pages.Remove(tx, pageID)
		if removed {
			o.model.Touch(tx)
		}
		return nil
	})
	return removed
}

// AddBlock appends a block to a page. Returns false if the page is gone.
func (o *Orchestrator) AddBlock(pageID, name string) (string, bool) {
	if !o.model.pages.Has(pageID) {
		return "", false
	}
	id := uuid.NewString()
	order := len(o.model.BlocksOf(pageID))
	o.model.doc.Transact(crdt.OriginUser, func(tx *crdt.Tx) error {
		o.model.blocks.Insert(tx, id, blockFields(pageID, name, order))
		o.model.Touch(tx)
		return nil
	})
	return id, true
}

// CloneBlock deep-copies a block and its components under fresh ids, into
// the same page.
func (o *Orchestrator) CloneBlock(blockID string) (string, bool) {
	src, ok := o.model.Block(blockID)
	if !ok {
		return "", false
	}
	components := o.model.ComponentsOf(blockID)
	newBlockID := uuid.NewString()
	order := len(o.model.BlocksOf(src.PageID))
	o.model.doc.Transact(crdt.OriginUser, func(tx *crdt.Tx) error {
		o.model.blocks.Insert(tx, newBlockID, blockFields(src.PageID, src.Name, order))
		for _, c := range components {
			o.model.components.Insert(tx, uuid.NewString(), componentFields(newBlockID, c))
		}
		o.model.Touch(tx)
		return nil
	})
	return newBlockID, true
}

// DeleteBlock removes the block entry; components are left for compaction.
func (o *Orchestrator) DeleteBlock(blockID string) bool {
	if !o.model.blocks.Has(blockID) {
		return false
	}
	removed := false
	o.model.doc.Transact(crdt.OriginUser, func(tx *crdt.Tx) error {
		removed = o.model.blocks.Remove(tx, blockID)
		if removed {
			o.model.Touch(tx)
		}
		return nil
	})
	return removed
}

// AddComponent appends an empty component to a block.
func (o *Orchestrator) AddComponent(blockID, componentType string) (string, bool) {
	if !o.model.blocks.Has(blockID) {
		return "", false
	}
	id := uuid.NewString()
	order := len(o.model.ComponentsOf(blockID))
	o.model.doc.Transact(crdt.OriginUser, func(tx *crdt.Tx) error {
		o.model.components.Insert(tx, id, map[string]string{
			fieldBlockID: blockID,
			fieldType:    componentType,
			fieldOrder:   strconv.Itoa(order),
		})
		o.model.Touch(tx)
		return nil
	})
	return id, true
}

// CloneComponent copies a component under a fresh id, into the same block.
// The copy's HTML starts as a plain string even if the source had a
// materialized text; lock state is not copied.
func (o *Orchestrator) CloneComponent(componentID string) (string, bool) {
	src, ok := o.model.Component(componentID)
	if !ok {
		return "", false
	}
	newID := uuid.NewString()
	order := len(o.model.ComponentsOf(src.BlockID))
	src.Order = order
	o.model.doc.Transact(crdt.OriginUser, func(tx *crdt.Tx) error {
		o.model.components.Insert(tx, newID, componentFields(src.BlockID, src))
		o.model.Touch(tx)
		return nil
	})
	return newID, true
}

// DeleteComponent removes the component entry.
func (o *Orchestrator) DeleteComponent(componentID string) bool {
	if !o.model.components.Has(componentID) {
		return false
	}
	removed := false
	o.model.doc.Transact(crdt.OriginUser, func(tx *crdt.Tx) error {
		removed = o.model.components.Remove(tx, componentID)
		if removed {
			o.model.Touch(tx)
		}
		return nil
	})
	return removed
}

// UpdateComponentHTML replaces a component's full HTML. Bulk and import
// writes only: interactive typing goes through the editor binding's diff
// path so concurrent fine-grained edits survive. Returns false if the
// page/block/component chain does not resolve.
func (o *Orchestrator) UpdateComponentHTML(pageID, blockID, componentID, html string) bool {
	comp, ok := o.model.Component(componentID)
	if !ok || comp.BlockID != blockID {
		return false
	}
	block, ok := o.model.Block(blockID)
	if !ok || block.PageID != pageID {
		return false
	}
	var text *crdt.Text
	if o.model.doc.HasText(htmlTextPrefix + componentID) {
		text, _ = o.model.HTMLText(componentID)
	}
	o.model.doc.Transact(crdt.OriginImport, func(tx *crdt.Tx) error {
		if text != nil {
			if err := text.SetString(tx, html); err != nil {
				return err
			}
		}
		o.model.components.SetField(tx, componentID, fieldHTML, html)
		o.model.Touch(tx)
		return nil
	})
	return true
}

// AttachAsset stores a binary asset for a component and returns the
// persistent asset:// reference to embed in its HTML. The component only
// records the reference; the blob lives in the asset store.
func (o *Orchestrator) AttachAsset(componentID, filename, mime string, blob []byte) (string, bool) {
	if !o.model.components.Has(componentID) {
		return "", false
	}
	id, err := o.assets.InsertImage(filename, mime, blob)
	if err != nil {
		o.log.Error().Err(err).Str("component", componentID).Msg("attach asset")
		return "", false
	}
	return asset.FormatAssetURL(id, filename), true
}

// AcquireLock takes the advisory edit lock on a component. Returns false if
// another user holds it. Re-acquiring a lock you already hold succeeds.
func (o *Orchestrator) AcquireLock(componentID string) bool {
	if info, held := o.GetLockInfo(componentID); held && info.UserID != o.userID {
		return false
	}
	payload, err := json.Marshal(LockInfo{
		UserID:     o.userID,
		UserName:   o.userName,
		AcquiredAt: time.Now().UTC(),
	})
	if err != nil {
		return false
	}
	o.model.doc.Transact(crdt.OriginUser, func(tx *crdt.Tx) error {
		o.model.locks.Set(tx, componentID, string(payload))
		return nil
	})
	return true
}

// ReleaseLock drops the advisory lock if this user holds it. Releasing a
// lock you do not hold is a no-op.
func (o *Orchestrator) ReleaseLock(componentID string) {
	info, held := o.GetLockInfo(componentID)
	if !held || info.UserID != o.userID {
		return
	}
	o.model.doc.Transact(crdt.OriginUser, func(tx *crdt.Tx) error {
		o.model.locks.Delete(tx, componentID)
		return nil
	})
}

// GetLockInfo reports who holds the advisory lock on a component.
func (o *Orchestrator) GetLockInfo(componentID string) (LockInfo, bool) {
	raw, ok := o.model.locks.Get(componentID)
	if !ok {
		return LockInfo{}, false
	}
	var info LockInfo
	if err := json.Unmarshal([]byte(raw), &info); err != nil {
		o.log.Warn().Err(err).Str("component", componentID).Msg("bad lock payload")
		return LockInfo{}, false
	}
	return info, true
}

func childPages(pages []PageNode, parentID string) []PageNode {
	var out []PageNode
	for _, p := range pages {
		if p.ParentID == parentID {
			out = append(out, p)
		}
	}
	return out
}

func blockFields(pageID, name string, order int) map[string]string {
	return map[string]string{
		fieldPageID: pageID,
		fieldName:   name,
		fieldOrder:  strconv.Itoa(order),
	}
}

func componentFields(blockID string, c ComponentNode) map[string]string {
	fields := map[string]string{
		fieldBlockID: blockID,
		fieldType:    c.Type,
		fieldOrder:   strconv.Itoa(c.Order),
		fieldHTML:    c.HTML,
	}
	for k, v := range c.Properties {
		fields[propPrefix+k] = v
	}
	return fields
}
