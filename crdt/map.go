package crdt

import "sort"

type mapEntry struct {
	value   string
	stamp   Stamp
	deleted bool
}

// MapEvent describes one committed transaction's changes to a Map.
type MapEvent struct {
	Origin Origin
	Keys   []string
}

// Map is a replicated key/value map with last-writer-wins merge per key.
type Map struct {
	doc     *Doc
	name    string
	entries map[string]mapEntry

	changed []string
	obs     observerSet[MapEvent]
}

// Get returns the value for key and whether it is present.
func (m *Map) Get(key string) (string, bool) {
	m.doc.mu.Lock()
	defer m.doc.mu.Unlock()
	e, ok := m.entries[key]
	if !ok || e.deleted {
		return "", false
	}
	return e.value, true
}

// Keys returns the present keys in sorted order.
func (m *Map) Keys() []string {
	m.doc.mu.Lock()
	defer m.doc.mu.Unlock()
	keys := make([]string, 0, len(m.entries))
	for k, e := range m.entries {
		if !e.deleted {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Set writes key=value within tx.
func (m *Map) Set(tx *Tx, key, value string) {
	m.entries[key] = mapEntry{value: value, stamp: tx.stamp}
	m.changed = append(m.changed, key)
	tx.touch(m)
}

// Delete removes key within tx. A later concurrent Set resurrects the key;
// the stamp decides.
func (m *Map) Delete(tx *Tx, key string) {
	m.entries[key] = mapEntry{stamp: tx.stamp, deleted: true}
	m.changed = append(m.changed, key)
	tx.touch(m)
}

// merge applies a remote entry, keeping whichever stamp wins. Returns true
// if the local entry changed.
func (m *Map) merge(key string, incoming mapEntry) bool {
	cur, ok := m.entries[key]
	if ok && !incoming.stamp.Newer(cur.stamp) {
		return false
	}
	m.entries[key] = incoming
	return true
}

// Observe registers fn for committed changes. It returns an unsubscribe
// function. One callback fires per transaction that touched this map.
func (m *Map) Observe(fn func(MapEvent)) (unsubscribe func()) {
	return m.obs.add(fn)
}

func (m *Map) capture(origin Origin) func() {
	keys := m.changed
	m.changed = nil
	if len(keys) == 0 {
		return nil
	}
	ev := MapEvent{Origin: origin, Keys: dedupStrings(keys)}
	return func() { m.obs.notify(ev) }
}

func dedupStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
