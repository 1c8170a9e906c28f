// Package document implements the replicated document model: a flat page
// list with parent references, block and component collections, a metadata
// map, and the structural mutation API that edits them through CRDT
// operations.
package document

import "time"

// PageNode is one page of the project. Pages are stored flat with a ParentID
// reference instead of nested child arrays; two clients reparenting
// different subtrees concurrently then merge field-by-field instead of
// conflicting on a deep structure. The tree is rebuilt on read (BuildTree).
type PageNode struct {
	ID       string
	Title    string
	ParentID string // empty means root
	Order    int
}

// BlockNode is a content block owned by exactly one page.
type BlockNode struct {
	ID     string
	PageID string
	Name   string
	Order  int
}

// ComponentNode is a rich-text component owned by exactly one block. HTML is
// a plain string until an editor binds to it, at which point it is
// materialized as replicated text (Model.HTMLText).
type ComponentNode struct {
	ID         string
	BlockID    string
	Type       string
	Order      int
	HTML       string
	Properties map[string]string
}

// TreePage is a page with its children resolved, as produced by BuildTree.
type TreePage struct {
	PageNode
	Children []*TreePage
}

// LockInfo describes who holds the advisory edit lock on a component.
type LockInfo struct {
	UserID     string    `json:"userId"`
	UserName   string    `json:"userName"`
	AcquiredAt time.Time `json:"acquiredAt"`
}

// Metadata keys understood by the model. Other keys pass through untouched.
const (
	MetaTitle      = "title"
	MetaAuthor     = "author"
	MetaLanguage   = "language"
	MetaLicense    = "license"
	MetaModifiedAt = "modifiedAt"
	MetaCreatedAt  = "createdAt"
)

// ImportedPage is one page of the normalized import structure produced by
// the legacy importer. The engine only consumes it.
type ImportedPage struct {
	Title    string
	Blocks   []ImportedBlock
	Children []ImportedPage
}

// ImportedBlock is one block of the normalized import structure.
type ImportedBlock struct {
	Name       string
	Components []ImportedComponent
}

// ImportedComponent is one component of the normalized import structure.
type ImportedComponent struct {
	Type       string
	HTML       string
	Properties map[string]string
}

// ImportedProject is the root of the normalized import structure.
type ImportedProject struct {
	Metadata map[string]string
	Pages    []ImportedPage
}
