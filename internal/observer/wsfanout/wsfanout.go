// Package wsfanout exposes a narrow websocket endpoint that streams a
// council's message-bus lifecycle events to connected observers. It does
// not render anything or carry session state of its own; it is a thin
// fan-out on top of bus.SubscribeAll, where a dead or slow client loses
// messages rather than stalling the broadcaster.
package wsfanout

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/council-run/council-core/internal/bus"
	"github.com/council-run/council-core/internal/model"
	"github.com/council-run/council-core/pkg/logger"
	"github.com/council-run/council-core/pkg/safego"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Fanout upgrades incoming HTTP connections to websockets and forwards
// every message published on a Bus to each connected client as JSON.
type Fanout struct {
	bus *bus.Bus

	mu    sync.Mutex
	conns map[*websocket.Conn]chan model.Message
}

// New wires a Fanout to b. Call Handler to serve it over HTTP.
func New(b *bus.Bus) *Fanout {
	return &Fanout{bus: b, conns: make(map[*websocket.Conn]chan model.Message)}
}

// Handler upgrades the request to a websocket and streams lifecycle
// messages to it until the client disconnects.
func (f *Fanout) Handler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("wsfanout: upgrade failed", logger.FieldError, err)
		return
	}

	observerID := conn.RemoteAddr().String()
	sub := f.bus.SubscribeAll(observerID)
	f.register(conn, sub.Ch)
	defer f.unregister(conn)
	defer f.bus.UnsubscribeAll(observerID)
	defer conn.Close()

	// Read loop: a read error is how a client disconnect is noticed.
	// Unsubscribing closes sub.Ch, which ends pump and runs the cleanup above.
	safego.Go(func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				f.bus.UnsubscribeAll(observerID)
				return
			}
		}
	})

	f.pump(conn, sub.Ch)
}

func (f *Fanout) register(conn *websocket.Conn, ch chan model.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conns[conn] = ch
}

func (f *Fanout) unregister(conn *websocket.Conn) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.conns, conn)
}

// pump writes every message from ch to conn until the channel closes or a
// write fails (client gone).
func (f *Fanout) pump(conn *websocket.Conn, ch chan model.Message) {
	for msg := range ch {
		data, err := json.Marshal(msg)
		if err != nil {
			logger.Warn("wsfanout: failed to encode lifecycle message", logger.FieldError, err)
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

// ConnectionCount returns the number of currently connected observers.
func (f *Fanout) ConnectionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

// Close closes every connected observer's socket, used on shutdown.
func (f *Fanout) Close() {
	f.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(f.conns))
	for c := range f.conns {
		conns = append(conns, c)
	}
	f.mu.Unlock()

	for _, c := range conns {
		safego.Go(func() { c.Close() })
	}
}
