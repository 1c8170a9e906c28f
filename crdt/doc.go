// Package crdt provides the operation-based replicated data types the
// document engine is built on: a last-writer-wins key/value map, a keyed node
// set with field-granular updates, and a replicated text supporting
// character-granular insert/delete that merges with concurrent edits.
//
// All mutations go through a transaction. A transaction commits atomically
// and delivers exactly one observer callback per mutated share, synchronously,
// before Transact returns. Observer callbacks must not start new
// transactions.
package crdt

import (
	"sync"
)

// Origin tags who produced a transaction. Observers use it to tell local
// edits apart from merged remote state.
type Origin string

const (
	OriginUser   Origin = "user"
	OriginRemote Origin = "remote"
	OriginImport Origin = "import"
)

// Stamp is a lamport timestamp plus actor tiebreak. Later stamps win
// last-writer-wins merges; equal clocks fall back to actor comparison so
// every replica picks the same winner.
type Stamp struct {
	Clock uint64
	Actor string
}

// Newer reports whether s should win over other in an LWW merge.
func (s Stamp) Newer(other Stamp) bool {
	if s.Clock != other.Clock {
		return s.Clock > other.Clock
	}
	return s.Actor > other.Actor
}

// Doc is a replicated document root. It owns named shares (maps, node sets,
// texts) that are created lazily on first access and live for the document's
// lifetime.
type Doc struct {
	actor string

	mu    sync.Mutex
	clock uint64

	// Share registry. Guarded by regMu, not mu, so shares can be looked up
	// from inside an open transaction (lazy text materialization).
	regMu sync.Mutex
	maps  map[string]*Map
	sets  map[string]*NodeSet
	texts map[string]*Text

	txObs observerSet[Origin]
}

// NewDoc creates an empty document for the given actor id.
func NewDoc(actor string) *Doc {
	return &Doc{
		actor: actor,
		maps:  make(map[string]*Map),
		sets:  make(map[string]*NodeSet),
		texts: make(map[string]*Text),
	}
}

// Actor returns the local replica's actor id.
func (d *Doc) Actor() string { return d.actor }

// Map returns the named map share, creating it if needed.
func (d *Doc) Map(name string) *Map {
	d.regMu.Lock()
	defer d.regMu.Unlock()
	m, ok := d.maps[name]
	if !ok {
		m = &Map{doc: d, name: name, entries: make(map[string]mapEntry)}
		d.maps[name] = m
	}
	return m
}

// Set returns the named node-set share, creating it if needed.
func (d *Doc) Set(name string) *NodeSet {
	d.regMu.Lock()
	defer d.regMu.Unlock()
	s, ok := d.sets[name]
	if !ok {
		s = &NodeSet{doc: d, name: name, nodes: make(map[string]*setNode)}
		d.sets[name] = s
	}
	return s
}

// Text returns the named text share, creating it if needed.
func (d *Doc) Text(name string) *Text {
	d.regMu.Lock()
	defer d.regMu.Unlock()
	t, ok := d.texts[name]
	if !ok {
		t = &Text{doc: d, name: name}
		d.texts[name] = t
	}
	return t
}

// HasText reports whether the named text share has been materialized.
func (d *Doc) HasText(name string) bool {
	d.regMu.Lock()
	defer d.regMu.Unlock()
	_, ok := d.texts[name]
	return ok
}

// Tx is an open transaction. All writes made through it commit atomically
// and share one stamp, so a batch of field writes (value + modifiedAt) merges
// as a unit.
type Tx struct {
	doc    *Doc
	origin Origin
	stamp  Stamp

	// touched shares, in first-touch order, for deterministic delivery
	order   []notifier
	pending map[notifier]struct{}
}

// Origin returns the transaction's origin tag.
func (tx *Tx) Origin() Origin { return tx.origin }

// notifier is a share with buffered changes. capture runs under the doc lock
// and returns a delivery closure to invoke after the lock is released (nil if
// nothing changed).
type notifier interface {
	capture(origin Origin) func()
}

func (tx *Tx) touch(n notifier) {
	if _, ok := tx.pending[n]; ok {
		return
	}
	tx.pending[n] = struct{}{}
	tx.order = append(tx.order, n)
}

// Transact runs fn inside a transaction tagged with origin. Observer
// callbacks for every mutated share fire synchronously, in first-touch order,
// after fn returns and before Transact does. The error from fn is returned
// unchanged; mutations made before a failing fn returns are still committed,
// callers that need all-or-nothing must not mutate before deciding to fail.
func (d *Doc) Transact(origin Origin, fn func(tx *Tx) error) error {
	d.mu.Lock()
	d.clock++
	tx := &Tx{
		doc:     d,
		origin:  origin,
		stamp:   Stamp{Clock: d.clock, Actor: d.actor},
		pending: make(map[notifier]struct{}),
	}
	err := fn(tx)
	var deliveries []func()
	for _, n := range tx.order {
		if deliver := n.capture(origin); deliver != nil {
			deliveries = append(deliveries, deliver)
		}
	}
	d.mu.Unlock()

	// Deliver outside the doc lock so observers can read shares.
	for _, deliver := range deliveries {
		deliver()
	}
	if len(deliveries) > 0 {
		d.txObs.notify(origin)
	}
	return err
}

// ObserveTransactions registers fn to run once after every committed
// transaction that changed something, tagged with the transaction's origin.
// Dirty tracking hangs off this.
func (d *Doc) ObserveTransactions(fn func(Origin)) (unsubscribe func()) {
	return d.txObs.add(fn)
}

// observerSet is a small handle-based subscription registry shared by all
// share types. Delivery order is registration order.
type observerSet[E any] struct {
	mu   sync.Mutex
	next int
	subs []observer[E]
}

type observer[E any] struct {
	id int
	fn func(E)
}

func (o *observerSet[E]) add(fn func(E)) (unsubscribe func()) {
	o.mu.Lock()
	id := o.next
	o.next++
	o.subs = append(o.subs, observer[E]{id: id, fn: fn})
	o.mu.Unlock()
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		for i, s := range o.subs {
			if s.id == id {
				o.subs = append(o.subs[:i], o.subs[i+1:]...)
				return
			}
		}
	}
}

func (o *observerSet[E]) notify(ev E) {
	o.mu.Lock()
	subs := make([]observer[E], len(o.subs))
	copy(subs, o.subs)
	o.mu.Unlock()
	for _, s := range subs {
		s.fn(ev)
	}
}
