// Package editor binds rich-text editor surfaces to replicated text nodes:
// diff-based bidirectional sync, caret preservation, and cursor presence.
package editor

import (
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/docforge/docsync/crdt"
	"github.com/docforge/docsync/document"
)

// Identity describes the local user for presence broadcasts.
type Identity struct {
	UserID   string
	UserName string
	Color    string
}

// bindState makes the reentrancy contract explicit: the remote→editor and
// editor→remote paths are mutually exclusive, so neither can re-trigger the
// other.
type bindState int

const (
	stateIdle bindState = iota
	stateApplyingRemote
	stateApplyingLocal
)

// Binding keeps one editor surface and one replicated text consistent.
// Local edits flow to the text as a minimal delete+insert; remote changes
// flow back as a content swap with best-effort caret restore.
type Binding struct {
	surface     Surface
	text        *crdt.Text
	doc         *crdt.Doc
	componentID string
	self        Identity
	presence    *PresenceChannel

	mu    sync.Mutex
	state bindState

	markers map[string]bool // remote user ids with a rendered marker

	unobserveText func()
	unsubPresence func()
	log           zerolog.Logger
}

// Bind attaches a surface to a component's HTML. The component's replicated
// text is materialized on first bind; the surface is loaded with its current
// content. presence may be nil, in which case no cursors are exchanged.
func Bind(model *document.Model, componentID string, surface Surface, presence *PresenceChannel, self Identity, log zerolog.Logger) (*Binding, error) {
	text, ok := model.HTMLText(componentID)
	if !ok {
		return nil, fmt.Errorf("bind: component %q not found", componentID)
	}

	b := &Binding{
		surface:     surface,
		text:        text,
		doc:         model.Doc(),
		componentID: componentID,
		self:        self,
		presence:    presence,
		markers:     make(map[string]bool),
		log:         log.With().Str("component", "editor").Str("target", componentID).Logger(),
	}

	surface.SetContent(text.String())

	b.unobserveText = text.Observe(b.onTextEvent)
	surface.OnChange(b.onSurfaceChange)
	surface.OnSelect(b.onSelect)
	if presence != nil {
		b.unsubPresence = presence.Subscribe(componentID, b.onCursor)
	}
	return b, nil
}

// onSurfaceChange is the editor→remote path: diff the surface against the
// replicated text and commit the middle span as one transaction.
func (b *Binding) onSurfaceChange() {
	b.mu.Lock()
	if b.state != stateIdle {
		b.mu.Unlock()
		return
	}
	b.state = stateApplyingLocal
	b.mu.Unlock()
	defer b.setIdle()

	edit := Diff(b.text.String(), b.surface.Content())
	if edit.IsNoop() {
		return
	}
	err := b.doc.Transact(crdt.OriginUser, func(tx *crdt.Tx) error {
		return b.text.Replace(tx, edit.Start, edit.Deleted, edit.Insert)
	})
	if err != nil {
		b.log.Error().Err(err).Msg("apply local edit")
	}
}

// onTextEvent is the remote→editor path. The state guard skips the echo of
// our own transaction (the observer fires synchronously inside it, while
// state is still ApplyingLocal).
func (b *Binding) onTextEvent(crdt.TextEvent) {
	b.mu.Lock()
	if b.state != stateIdle {
		b.mu.Unlock()
		return
	}
	b.state = stateApplyingRemote
	b.mu.Unlock()
	defer b.setIdle()

	caret := b.surface.Caret()
	content := b.text.String()
	b.surface.SetContent(content)
	// Best effort: a caret bookmark past the new end is dropped to the end.
	if n := utf8.RuneCountInString(content); caret > n {
		caret = n
	}
	b.surface.SetCaret(caret)
}

func (b *Binding) setIdle() {
	b.mu.Lock()
	b.state = stateIdle
	b.mu.Unlock()
}

// onSelect broadcasts the local selection as plain-text offsets.
func (b *Binding) onSelect(anchor, head int) {
	if b.presence == nil {
		return
	}
	b.presence.Broadcast(CursorUpdate{
		ComponentID: b.componentID,
		UserID:      b.self.UserID,
		UserName:    b.self.UserName,
		Color:       b.self.Color,
		Anchor:      anchor,
		Head:        head,
	})
}

// onCursor renders a peer's cursor marker, reversing the offset mapping over
// the surface's text segments. An offset beyond the available text draws no
// marker.
func (b *Binding) onCursor(u CursorUpdate) {
	if u.UserID == b.self.UserID {
		return
	}
	seg, off, ok := offsetToPosition(b.surface.Segments(), u.Head)
	if !ok {
		b.surface.RemoveMarker(u.UserID)
		b.mu.Lock()
		delete(b.markers, u.UserID)
		b.mu.Unlock()
		return
	}
	b.surface.SetMarker(u.UserID, Marker{
		Segment:  seg,
		Offset:   off,
		UserName: u.UserName,
		Color:    u.Color,
	})
	b.mu.Lock()
	b.markers[u.UserID] = true
	b.mu.Unlock()
}

// Destroy detaches the binding: the text observer, the surface callbacks,
// the presence subscription, and any rendered remote cursors.
func (b *Binding) Destroy() {
	if b.unobserveText != nil {
		b.unobserveText()
	}
	b.surface.OnChange(nil)
	b.surface.OnSelect(nil)
	if b.unsubPresence != nil {
		b.unsubPresence()
	}
	b.mu.Lock()
	users := make([]string, 0, len(b.markers))
	for id := range b.markers {
		users = append(users, id)
	}
	b.markers = make(map[string]bool)
	b.mu.Unlock()
	for _, id := range users {
		b.surface.RemoveMarker(id)
	}
}
