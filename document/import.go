package document

import (
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/docforge/docsync/crdt"
)

// ImportProject ingests a normalized import structure (as produced by the
// legacy importer) into an empty model. Everything commits as one
// import-tagged transaction, so observers see the whole project at once.
func ImportProject(model *Model, project ImportedProject) error {
	return model.doc.Transact(crdt.OriginImport, func(tx *crdt.Tx) error {
		for k, v := range project.Metadata {
			model.meta.Set(tx, k, v)
		}
		if _, ok := project.Metadata[MetaCreatedAt]; !ok {
			model.meta.Set(tx, MetaCreatedAt, time.Now().UTC().Format(time.RFC3339))
		}
		importPages(model, tx, project.Pages, "")
		return nil
	})
}

func importPages(model *Model, tx *crdt.Tx, pages []ImportedPage, parentID string) {
	for i, p := range pages {
		pageID := uuid.NewString()
		model.pages.Insert(tx, pageID, map[string]string{
			fieldTitle:    p.Title,
			fieldParentID: parentID,
			fieldOrder:    strconv.Itoa(i),
		})
		for j, b := range p.Blocks {
			blockID := uuid.NewString()
			model.blocks.Insert(tx, blockID, blockFields(pageID, b.Name, j))
			for k, c := range b.Components {
				model.components.Insert(tx, uuid.NewString(), componentFields(blockID, ComponentNode{
					Type:       c.Type,
					Order:      k,
					HTML:       c.HTML,
					Properties: c.Properties,
				}))
			}
		}
		importPages(model, tx, p.Children, pageID)
	}
}
