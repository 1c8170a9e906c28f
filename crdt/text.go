package crdt

import (
	"fmt"
	"unicode/utf8"
)

// TextEvent describes one committed transaction's change to a Text.
type TextEvent struct {
	Origin Origin
	Ops    []Operation
}

// Text is a replicated text value. Local edits are expressed as retain/
// insert/delete operations; remote operations made against an older version
// are transformed against the unseen local history before applying, so
// concurrent fine-grained edits merge instead of clobbering each other.
type Text struct {
	doc  *Doc
	name string

	content string
	version int
	history []Operation

	changed []Operation
	obs     observerSet[TextEvent]
}

// String returns the current text.
func (t *Text) String() string {
	t.doc.mu.Lock()
	defer t.doc.mu.Unlock()
	return t.content
}

// Len returns the current length in runes.
func (t *Text) Len() int {
	t.doc.mu.Lock()
	defer t.doc.mu.Unlock()
	return utf8.RuneCountInString(t.content)
}

// Version returns the number of operations applied so far.
func (t *Text) Version() int {
	t.doc.mu.Lock()
	defer t.doc.mu.Unlock()
	return t.version
}

// Insert inserts s at rune position pos within tx.
func (t *Text) Insert(tx *Tx, pos int, s string) error {
	return t.apply(tx, NewInsert(pos, s, utf8.RuneCountInString(t.content)))
}

// Delete removes count runes at pos within tx.
func (t *Text) Delete(tx *Tx, pos, count int) error {
	return t.apply(tx, NewDelete(pos, count, utf8.RuneCountInString(t.content)))
}

// Replace deletes count runes at pos and inserts s in their place as one
// operation, so the edit stays a single mergeable unit.
func (t *Text) Replace(tx *Tx, pos, count int, s string) error {
	return t.apply(tx, NewReplace(pos, count, s, utf8.RuneCountInString(t.content)))
}

// SetString replaces the whole content. Bulk writes only (import, clone);
// interactive edits must go through Insert/Delete/Replace so concurrent
// edits from other replicas survive.
func (t *Text) SetString(tx *Tx, s string) error {
	n := utf8.RuneCountInString(t.content)
	return t.apply(tx, NewReplace(0, n, s, n))
}

// ApplyRemote applies an operation produced by another replica against
// version baseVersion, transforming it over every local operation it has not
// seen.
func (t *Text) ApplyRemote(tx *Tx, op Operation, baseVersion int) error {
	if baseVersion < 0 || baseVersion > len(t.history) {
		return fmt.Errorf("invalid base version %d (history len %d)", baseVersion, len(t.history))
	}
	transformed := op
	for i := baseVersion; i < len(t.history); i++ {
		var err error
		transformed, _, err = Transform(transformed, t.history[i])
		if err != nil {
			return fmt.Errorf("transform against history[%d]: %w", i, err)
		}
	}
	return t.apply(tx, transformed)
}

func (t *Text) apply(tx *Tx, op Operation) error {
	if op.IsNoop() {
		return nil
	}
	result, err := ApplyOp(t.content, op)
	if err != nil {
		return fmt.Errorf("apply to text %q v%d: %w", t.name, t.version, err)
	}
	t.content = result
	t.version++
	t.history = append(t.history, op)
	t.changed = append(t.changed, op)
	tx.touch(t)
	return nil
}

// Observe registers fn for committed changes. One callback fires per
// transaction that touched this text.
func (t *Text) Observe(fn func(TextEvent)) (unsubscribe func()) {
	return t.obs.add(fn)
}

func (t *Text) capture(origin Origin) func() {
	ops := t.changed
	t.changed = nil
	if len(ops) == 0 {
		return nil
	}
	ev := TextEvent{Origin: origin, Ops: ops}
	return func() { t.obs.notify(ev) }
}
