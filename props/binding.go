// Package props binds form fields and the title display to the replicated
// metadata map: debounced writes, origin-filtered reads, and an
// always-mirroring title header.
package props

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/docforge/docsync/crdt"
	"github.com/docforge/docsync/document"
)

// DefaultDebounce is the quiet period a metadata key waits for before its
// coalesced value is written.
const DefaultDebounce = 300 * time.Millisecond

// Field is one bound form input. SetValue is a programmatic write and must
// not feed back into OnInput.
type Field interface {
	Value() string
	SetValue(value string)
	// OnInput registers the user-input callback (nil unregisters). The
	// callback receives the field's new value.
	OnInput(fn func(value string))
}

// keyTable maps external field keys to internal metadata keys. Unknown keys
// pass through unchanged in both directions.
var keyTable = map[string]string{
	"pp_title":      document.MetaTitle,
	"pp_author":     document.MetaAuthor,
	"pp_lang":       document.MetaLanguage,
	"pp_license":    document.MetaLicense,
	"pp_modifiedAt": document.MetaModifiedAt,
	"pp_createdAt":  document.MetaCreatedAt,
}

var reverseKeyTable = func() map[string]string {
	m := make(map[string]string, len(keyTable))
	for ext, in := range keyTable {
		m[in] = ext
	}
	return m
}()

// InternalKey translates an external field key to its metadata key.
func InternalKey(external string) string {
	if k, ok := keyTable[external]; ok {
		return k
	}
	return external
}

// ExternalKey translates a metadata key back to its field key.
func ExternalKey(internal string) string {
	if k, ok := reverseKeyTable[internal]; ok {
		return k
	}
	return internal
}

// applyState is the binding's reentrancy guard: while a metadata change is
// being pushed into a field, the field's input callback must not reschedule
// a write.
type applyState int

const (
	stateIdle applyState = iota
	stateApplyingRemote
)

// Binding keeps a set of form fields consistent with the metadata map.
//
// Generic fields ignore changes whose origin is the local user tag: the form
// just produced that value, echoing it back would cause flicker and a cursor
// jump. The title display is the one exception: it is not a write source,
// so a separate observer mirrors every change to "title" into it whatever
// the origin.
type Binding struct {
	model    *document.Model
	meta     *crdt.Map
	debounce time.Duration

	mu      sync.Mutex
	state   applyState
	fields  map[string]Field // internal key -> field
	timers  map[string]*time.Timer
	latest  map[string]string // internal key -> value awaiting flush
	mirror  Field             // read-only title display, may be nil
	unobGen func()
	unobTit func()

	log zerolog.Logger
}

// NewBinding creates a properties binding over the model's metadata.
func NewBinding(model *document.Model, log zerolog.Logger) *Binding {
	b := &Binding{
		model:    model,
		meta:     model.Metadata(),
		debounce: DefaultDebounce,
		fields:   make(map[string]Field),
		timers:   make(map[string]*time.Timer),
		latest:   make(map[string]string),
		log:      log.With().Str("component", "props").Logger(),
	}
	b.unobGen = b.meta.Observe(b.onMetadata)
	b.unobTit = b.meta.Observe(b.onTitleMirror)
	return b
}

// SetDebounce overrides the debounce interval (tests shorten it).
func (b *Binding) SetDebounce(d time.Duration) {
	b.mu.Lock()
	b.debounce = d
	b.mu.Unlock()
}

// RegisterField binds a form field under its external key and loads the
// current metadata value into it.
func (b *Binding) RegisterField(externalKey string, f Field) {
	key := InternalKey(externalKey)
	b.mu.Lock()
	b.fields[key] = f
	b.mu.Unlock()

	if v, ok := b.meta.Get(key); ok {
		f.SetValue(v)
	}
	f.OnInput(func(value string) { b.onInput(key, value) })
}

// RegisterTitleMirror binds the read-only header element that displays the
// project title. It reflects every title change, local ones included.
func (b *Binding) RegisterTitleMirror(f Field) {
	b.mu.Lock()
	b.mirror = f
	b.mu.Unlock()
	if v, ok := b.meta.Get(document.MetaTitle); ok {
		f.SetValue(v)
	}
}

// GetValue reads a metadata value directly, bypassing fields and debounce.
func (b *Binding) GetValue(externalKey string) (string, bool) {
	return b.meta.Get(InternalKey(externalKey))
}

// SetValue writes a metadata value directly, bypassing the debounce. Used
// for programmatic writes such as initial load.
func (b *Binding) SetValue(externalKey, value string) {
	b.write(InternalKey(externalKey), value)
}

// onInput coalesces rapid keystrokes: each one overwrites the pending value
// and rewinds the key's timer, so one quiet period produces one CRDT write
// carrying the final value.
func (b *Binding) onInput(key, value string) {
	b.mu.Lock()
	if b.state == stateApplyingRemote {
		b.mu.Unlock()
		return
	}
	b.latest[key] = value
	if t, ok := b.timers[key]; ok {
		t.Stop()
	}
	d := b.debounce
	b.timers[key] = time.AfterFunc(d, func() { b.flush(key) })
	b.mu.Unlock()
}

func (b *Binding) flush(key string) {
	b.mu.Lock()
	value, ok := b.latest[key]
	delete(b.latest, key)
	delete(b.timers, key)
	b.mu.Unlock()
	if !ok {
		return
	}
	b.write(key, value)
}

func (b *Binding) write(key, value string) {
	err := b.model.Doc().Transact(crdt.OriginUser, func(tx *crdt.Tx) error {
		b.meta.Set(tx, key, value)
		b.model.Touch(tx)
		return nil
	})
	if err != nil {
		b.log.Error().Err(err).Str("key", key).Msg("write metadata")
	}
}

// onMetadata pushes changes into bound fields, skipping changes the form
// itself just produced.
func (b *Binding) onMetadata(ev crdt.MapEvent) {
	if ev.Origin == crdt.OriginUser {
		return
	}
	b.mu.Lock()
	b.state = stateApplyingRemote
	fields := make(map[string]Field, len(b.fields))
	for k, f := range b.fields {
		fields[k] = f
	}
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.state = stateIdle
		b.mu.Unlock()
	}()

	for _, key := range ev.Keys {
		f, ok := fields[key]
		if !ok {
			continue
		}
		if v, ok := b.meta.Get(key); ok {
			f.SetValue(v)
		}
	}
}

// onTitleMirror reflects every change to "title" into the display element,
// including locally-originated ones.
func (b *Binding) onTitleMirror(ev crdt.MapEvent) {
	b.mu.Lock()
	mirror := b.mirror
	b.mu.Unlock()
	if mirror == nil {
		return
	}
	for _, key := range ev.Keys {
		if key != document.MetaTitle {
			continue
		}
		if v, ok := b.meta.Get(document.MetaTitle); ok {
			mirror.SetValue(v)
		}
		return
	}
}

// Close stops pending debounce timers and unregisters the observers.
// Pending values are flushed so a quick close does not lose the last edit.
func (b *Binding) Close() {
	b.mu.Lock()
	keys := make([]string, 0, len(b.timers))
	for k, t := range b.timers {
		t.Stop()
		keys = append(keys, k)
	}
	b.mu.Unlock()
	for _, k := range keys {
		b.flush(k)
	}
	b.unobGen()
	b.unobTit()
}
