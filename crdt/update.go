package crdt

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"unicode/utf8"
)

// Wire form of a document state update. Self-describing binary via gob; the
// receiving side merges it entry-by-entry, so applying the same update twice
// or out of order converges.

type entryState struct {
	Value   string
	Clock   uint64
	Actor   string
	Deleted bool
}

type nodeState struct {
	Removed      bool
	CreatedClock uint64
	CreatedActor string
	Fields       map[string]entryState
}

type textState struct {
	Content string
	Version int
}

type docState struct {
	Clock uint64
	Maps  map[string]map[string]entryState
	Sets  map[string]map[string]nodeState
	Texts map[string]textState
}

// EncodeState serializes the entire document as one binary update suitable
// for persisting or sending to another replica.
func (d *Doc) EncodeState() ([]byte, error) {
	d.regMu.Lock()
	maps := make(map[string]*Map, len(d.maps))
	for name, m := range d.maps {
		maps[name] = m
	}
	sets := make(map[string]*NodeSet, len(d.sets))
	for name, s := range d.sets {
		sets[name] = s
	}
	texts := make(map[string]*Text, len(d.texts))
	for name, t := range d.texts {
		texts[name] = t
	}
	d.regMu.Unlock()

	d.mu.Lock()
	st := docState{
		Clock: d.clock,
		Maps:  make(map[string]map[string]entryState, len(maps)),
		Sets:  make(map[string]map[string]nodeState, len(sets)),
		Texts: make(map[string]textState, len(texts)),
	}
	for name, m := range maps {
		entries := make(map[string]entryState, len(m.entries))
		for k, e := range m.entries {
			entries[k] = entryState{Value: e.value, Clock: e.stamp.Clock, Actor: e.stamp.Actor, Deleted: e.deleted}
		}
		st.Maps[name] = entries
	}
	for name, s := range sets {
		nodes := make(map[string]nodeState, len(s.nodes))
		for id, n := range s.nodes {
			ns := nodeState{
				Removed:      n.removed,
				CreatedClock: n.created.Clock,
				CreatedActor: n.created.Actor,
				Fields:       make(map[string]entryState, len(n.fields)),
			}
			for k, e := range n.fields {
				ns.Fields[k] = entryState{Value: e.value, Clock: e.stamp.Clock, Actor: e.stamp.Actor, Deleted: e.deleted}
			}
			nodes[id] = ns
		}
		st.Sets[name] = nodes
	}
	for name, t := range texts {
		st.Texts[name] = textState{Content: t.content, Version: t.version}
	}
	d.mu.Unlock()

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(st); err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	return buf.Bytes(), nil
}

// ApplyState merges a binary update produced by EncodeState into this
// document. Map entries and node fields merge last-writer-wins; node
// removals are permanent; texts take the higher version wholesale (live
// concurrent editing merges operation-by-operation through Text.ApplyRemote,
// the snapshot path is for load and reconnect). Observers fire once per
// changed share with OriginRemote.
func (d *Doc) ApplyState(data []byte) error {
	var st docState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&st); err != nil {
		return fmt.Errorf("decode state: %w", err)
	}

	return d.Transact(OriginRemote, func(tx *Tx) error {
		if st.Clock > d.clock {
			d.clock = st.Clock
		}
		for name, entries := range st.Maps {
			m := d.Map(name)
			for k, e := range entries {
				if m.merge(k, mapEntry{value: e.Value, stamp: Stamp{Clock: e.Clock, Actor: e.Actor}, deleted: e.Deleted}) {
					m.changed = append(m.changed, k)
					tx.touch(m)
				}
			}
		}
		for name, nodes := range st.Sets {
			s := d.Set(name)
			for id, ns := range nodes {
				fields := make(map[string]mapEntry, len(ns.Fields))
				for k, e := range ns.Fields {
					fields[k] = mapEntry{value: e.Value, stamp: Stamp{Clock: e.Clock, Actor: e.Actor}, deleted: e.Deleted}
				}
				created := Stamp{Clock: ns.CreatedClock, Actor: ns.CreatedActor}
				added, removed, updated := s.mergeNode(id, ns.Removed, created, fields)
				switch {
				case added:
					s.added = append(s.added, id)
				case removed:
					s.removed = append(s.removed, id)
				case updated:
					s.updated = append(s.updated, id)
				default:
					continue
				}
				tx.touch(s)
			}
		}
		for name, ts := range st.Texts {
			t := d.Text(name)
			if ts.Version <= t.version {
				continue
			}
			old := utf8.RuneCountInString(t.content)
			t.content = ts.Content
			t.version = ts.Version
			t.history = nil
			t.changed = append(t.changed, NewReplace(0, old, ts.Content, old))
			tx.touch(t)
		}
		return nil
	})
}
