package editor

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// echoPresenceServer upgrades every connection and echoes messages back to
// all connected clients, which is all the relay the presence protocol needs.
func echoPresenceServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	var (
		mu    sync.Mutex
		conns []*websocket.Conn
	)
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		mu.Lock()
		conns = append(conns, conn)
		mu.Unlock()
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			mu.Lock()
			for _, c := range conns {
				c.WriteMessage(msgType, data)
			}
			mu.Unlock()
		}
	}))
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestPresence_BroadcastReachesSubscribers(t *testing.T) {
	server := echoPresenceServer(t)
	defer server.Close()

	sender, err := DialPresence(wsURL(server), nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer sender.Close()
	receiver, err := DialPresence(wsURL(server), nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer receiver.Close()

	got := make(chan CursorUpdate, 1)
	receiver.Subscribe("comp-1", func(u CursorUpdate) {
		select {
		case got <- u:
		default:
		}
	})

	sender.Broadcast(CursorUpdate{ComponentID: "comp-1", UserID: "u1", UserName: "Ada", Head: 4})

	select {
	case u := <-got:
		if u.UserID != "u1" || u.Head != 4 {
			t.Errorf("received %+v", u)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("cursor update never arrived")
	}
}

func TestPresence_SubscriptionIsPerComponent(t *testing.T) {
	p := NewPresenceChannel(nil, zerolog.Nop())

	var compA, compB int
	p.Subscribe("a", func(CursorUpdate) { compA++ })
	unsubB := p.Subscribe("b", func(CursorUpdate) { compB++ })

	p.dispatch(CursorUpdate{ComponentID: "a"})
	p.dispatch(CursorUpdate{ComponentID: "a"})
	p.dispatch(CursorUpdate{ComponentID: "b"})

	if compA != 2 || compB != 1 {
		t.Errorf("compA = %d, compB = %d; want 2, 1", compA, compB)
	}

	unsubB()
	p.dispatch(CursorUpdate{ComponentID: "b"})
	if compB != 1 {
		t.Error("unsubscribed handler still fired")
	}
}

func TestPresence_BroadcastDropsWhenCongested(t *testing.T) {
	// No pumps draining the send buffer; filling it past capacity must not
	// block the caller.
	p := NewPresenceChannel(nil, zerolog.Nop())
	done := make(chan struct{})
	go func() {
		for i := 0; i < cap(p.send)+10; i++ {
			p.Broadcast(CursorUpdate{ComponentID: "a", Head: i})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Broadcast blocked on a full send buffer")
	}
}
