package editor

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 64 * 1024
)

// CursorUpdate is one user's selection inside one component, as plain-text
// rune offsets. Presence is ephemeral: it flows over the channel and is
// never persisted.
type CursorUpdate struct {
	ComponentID string `json:"componentId"`
	UserID      string `json:"userId"`
	UserName    string `json:"userName"`
	Color       string `json:"color"`
	Anchor      int    `json:"anchor"`
	Head        int    `json:"head"`
}

type presenceMessage struct {
	Type   string       `json:"type"`
	Cursor CursorUpdate `json:"cursor"`
}

const msgCursor = "cursor"

// PresenceChannel multiplexes cursor updates for every binding of a project
// over one websocket connection. Outgoing messages go through a buffered
// send channel; when it fills, updates are dropped rather than blocking the
// editor (a newer cursor position supersedes a lost one anyway).
type PresenceChannel struct {
	conn *websocket.Conn
	send chan []byte

	mu       sync.Mutex
	nextSub  int
	handlers map[string]map[int]func(CursorUpdate) // componentID -> sub id -> fn

	closeOnce sync.Once
	closed    chan struct{}
	log       zerolog.Logger
}

// DialPresence connects the presence channel and starts its pumps.
func DialPresence(url string, header map[string][]string, log zerolog.Logger) (*PresenceChannel, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		return nil, err
	}
	p := NewPresenceChannel(conn, log)
	go p.readPump()
	go p.writePump()
	return p, nil
}

// NewPresenceChannel wraps an established connection without starting the
// pumps; callers that need to drive the pumps themselves (tests) start them
// explicitly.
func NewPresenceChannel(conn *websocket.Conn, log zerolog.Logger) *PresenceChannel {
	return &PresenceChannel{
		conn:     conn,
		send:     make(chan []byte, 256),
		handlers: make(map[string]map[int]func(CursorUpdate)),
		closed:   make(chan struct{}),
		log:      log.With().Str("component", "presence").Logger(),
	}
}

// Broadcast queues a cursor update for all peers. Drops the update when the
// send buffer is full.
func (p *PresenceChannel) Broadcast(u CursorUpdate) {
	data, err := json.Marshal(presenceMessage{Type: msgCursor, Cursor: u})
	if err != nil {
		return
	}
	select {
	case p.send <- data:
	default:
		// Channel congested; a fresher update will follow.
	}
}

// Subscribe registers fn for cursor updates on one component. Returns an
// unsubscribe function.
func (p *PresenceChannel) Subscribe(componentID string, fn func(CursorUpdate)) (unsubscribe func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextSub
	p.nextSub++
	if p.handlers[componentID] == nil {
		p.handlers[componentID] = make(map[int]func(CursorUpdate))
	}
	p.handlers[componentID][id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.handlers[componentID], id)
	}
}

func (p *PresenceChannel) dispatch(u CursorUpdate) {
	p.mu.Lock()
	fns := make([]func(CursorUpdate), 0, len(p.handlers[u.ComponentID]))
	for _, fn := range p.handlers[u.ComponentID] {
		fns = append(fns, fn)
	}
	p.mu.Unlock()
	for _, fn := range fns {
		fn(u)
	}
}

func (p *PresenceChannel) readPump() {
	defer p.Close()

	p.conn.SetReadLimit(maxMsgSize)
	p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		p.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				p.log.Warn().Err(err).Msg("presence read error")
			}
			return
		}
		var msg presenceMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			p.log.Debug().Err(err).Msg("bad presence message")
			continue
		}
		if msg.Type == msgCursor {
			p.dispatch(msg.Cursor)
		}
	}
}

func (p *PresenceChannel) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		p.conn.Close()
	}()

	for {
		select {
		case data := <-p.send:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-p.closed:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			p.conn.WriteMessage(websocket.CloseMessage, nil)
			return
		}
	}
}

// Close shuts the channel down. Safe to call more than once.
func (p *PresenceChannel) Close() {
	p.closeOnce.Do(func() {
		close(p.closed)
		p.conn.Close()
	})
}
