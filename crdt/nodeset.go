package crdt

import "sort"

type setNode struct {
	fields  map[string]mapEntry
	created Stamp
	removed bool
	// removal is permanent: a node never comes back once removed, so a
	// concurrent field update on a deleted node converges to "deleted"
	// on every replica regardless of stamps.
}

// SetEvent describes one committed transaction's changes to a NodeSet.
type SetEvent struct {
	Origin  Origin
	Added   []string
	Removed []string
	Updated []string
}

// NodeSet is a replicated collection of nodes keyed by id. Each node is a
// bag of independent fields merged last-writer-wins per field, which keeps
// concurrent updates to different fields of the same node mergeable
// (move = reparent + reorder touches only parentId and order).
type NodeSet struct {
	doc   *Doc
	name  string
	nodes map[string]*setNode

	added, removed, updated []string
	obs                     observerSet[SetEvent]
}

// Insert adds a node with the given fields. Returns false if the id already
// exists (including as a tombstone).
func (s *NodeSet) Insert(tx *Tx, id string, fields map[string]string) bool {
	if _, exists := s.nodes[id]; exists {
		return false
	}
	n := &setNode{fields: make(map[string]mapEntry, len(fields)), created: tx.stamp}
	for k, v := range fields {
		n.fields[k] = mapEntry{value: v, stamp: tx.stamp}
	}
	s.nodes[id] = n
	s.added = append(s.added, id)
	tx.touch(s)
	return true
}

// SetField writes one field of a node. Returns false if the node does not
// exist or was removed.
func (s *NodeSet) SetField(tx *Tx, id, field, value string) bool {
	n, ok := s.nodes[id]
	if !ok || n.removed {
		return false
	}
	n.fields[field] = mapEntry{value: value, stamp: tx.stamp}
	s.updated = append(s.updated, id)
	tx.touch(s)
	return true
}

// Remove tombstones a node. Returns false if it does not exist or is already
// removed.
func (s *NodeSet) Remove(tx *Tx, id string) bool {
	n, ok := s.nodes[id]
	if !ok || n.removed {
		return false
	}
	n.removed = true
	n.fields = nil
	s.removed = append(s.removed, id)
	tx.touch(s)
	return true
}

// Has reports whether a live node with the given id exists.
func (s *NodeSet) Has(id string) bool {
	s.doc.mu.Lock()
	defer s.doc.mu.Unlock()
	n, ok := s.nodes[id]
	return ok && !n.removed
}

// Field returns one field of a node.
func (s *NodeSet) Field(id, field string) (string, bool) {
	s.doc.mu.Lock()
	defer s.doc.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok || n.removed {
		return "", false
	}
	e, ok := n.fields[field]
	if !ok || e.deleted {
		return "", false
	}
	return e.value, true
}

// Fields returns a copy of all fields of a node.
func (s *NodeSet) Fields(id string) (map[string]string, bool) {
	s.doc.mu.Lock()
	defer s.doc.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok || n.removed {
		return nil, false
	}
	out := make(map[string]string, len(n.fields))
	for k, e := range n.fields {
		if !e.deleted {
			out[k] = e.value
		}
	}
	return out, true
}

// IDs returns the ids of all live nodes in sorted order.
func (s *NodeSet) IDs() []string {
	s.doc.mu.Lock()
	defer s.doc.mu.Unlock()
	ids := make([]string, 0, len(s.nodes))
	for id, n := range s.nodes {
		if !n.removed {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Observe registers fn for committed changes. One callback fires per
// transaction that touched this set.
func (s *NodeSet) Observe(fn func(SetEvent)) (unsubscribe func()) {
	return s.obs.add(fn)
}

func (s *NodeSet) capture(origin Origin) func() {
	added, removed, updated := s.added, s.removed, s.updated
	s.added, s.removed, s.updated = nil, nil, nil
	if len(added)+len(removed)+len(updated) == 0 {
		return nil
	}
	ev := SetEvent{
		Origin:  origin,
		Added:   dedupStrings(added),
		Removed: dedupStrings(removed),
		Updated: dedupStrings(updated),
	}
	return func() { s.obs.notify(ev) }
}

// mergeNode applies a remote node snapshot: insert if unknown, tombstone if
// removed remotely, otherwise merge fields last-writer-wins. Returns what
// kind of change happened, if any.
func (s *NodeSet) mergeNode(id string, removed bool, created Stamp, fields map[string]mapEntry) (addedN, removedN, updatedN bool) {
	n, ok := s.nodes[id]
	if !ok {
		cp := &setNode{fields: make(map[string]mapEntry, len(fields)), created: created, removed: removed}
		for k, e := range fields {
			cp.fields[k] = e
		}
		if removed {
			cp.fields = nil
		}
		s.nodes[id] = cp
		return !removed, false, false
	}
	if removed && !n.removed {
		n.removed = true
		n.fields = nil
		return false, true, false
	}
	if n.removed {
		return false, false, false
	}
	changed := false
	for k, e := range fields {
		cur, exists := n.fields[k]
		if !exists || e.stamp.Newer(cur.stamp) {
			n.fields[k] = e
			changed = true
		}
	}
	return false, false, changed
}
