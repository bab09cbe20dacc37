// Package streaming serves the websocket fanout (spec C3): every connected
// client gets the current race snapshot immediately on connect, then a live
// feed of activestore.Change events for that same race (or all races),
// modeled on the teacher's staged-pipeline cancellation-via-context idiom.
package streaming

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/raceboard/server/internal/activestore"
	"github.com/raceboard/server/internal/race"
	"github.com/raceboard/server/internal/telemetry/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true }, // local-first: no browser-origin story to enforce
}

const (
	writeWait      = 10 * time.Second
	pingInterval   = 30 * time.Second
	pongWait       = 90 * time.Second
)

// Envelope is the wire message sent for every event, including the initial
// snapshot, so clients run one decode path regardless of message origin.
type Envelope struct {
	Type string      `json:"type"` // "snapshot", "created", "updated", "event", "deleted", "lagged"
	Race *race.Race  `json:"race,omitempty"`
}

type Hub struct {
	store *activestore.Store
	log   logging.Logger
}

func NewHub(store *activestore.Store, log logging.Logger) *Hub {
	if log == nil {
		log = logging.Noop()
	}
	return &Hub{store: store, log: log}
}

// ServeRace upgrades the connection and streams a single race's lifecycle:
// snapshot, then every subsequent Change for that race ID, until the race
// reaches a terminal state or the client disconnects.
func (h *Hub) ServeRace(w http.ResponseWriter, r *http.Request, raceID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	snap, ok := h.store.Get(raceID)
	if !ok {
		h.writeEnvelope(conn, Envelope{Type: "deleted"})
		return
	}
	if err := h.writeEnvelope(conn, Envelope{Type: "snapshot", Race: snap}); err != nil {
		return
	}
	if snap.State.Terminal() {
		return
	}

	ch, unsub := h.store.Subscribe()
	defer unsub()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go h.drainClientReads(ctx, cancel, conn)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case c, open := <-ch:
			if !open {
				h.writeEnvelope(conn, Envelope{Type: "lagged"})
				return
			}
			if c.RaceID != raceID {
				continue
			}
			env := Envelope{Type: string(c.Kind)}
			if c.Kind != activestore.ChangeDeleted {
				env.Race = c.Snapshot
			}
			if err := h.writeEnvelope(conn, env); err != nil {
				return
			}
			if c.Snapshot != nil && c.Snapshot.State.Terminal() {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeAll streams every Change across all races, for dashboard-style
// clients that want the whole board rather than one race.
func (h *Hub) ServeAll(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	for _, snap := range h.store.List() {
		if err := h.writeEnvelope(conn, Envelope{Type: "snapshot", Race: snap}); err != nil {
			return
		}
	}

	ch, unsub := h.store.Subscribe()
	defer unsub()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go h.drainClientReads(ctx, cancel, conn)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case c, open := <-ch:
			if !open {
				h.writeEnvelope(conn, Envelope{Type: "lagged"})
				return
			}
			env := Envelope{Type: string(c.Kind)}
			if c.Kind != activestore.ChangeDeleted {
				env.Race = c.Snapshot
			}
			if err := h.writeEnvelope(conn, env); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) writeEnvelope(conn *websocket.Conn, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		h.log.Error("marshal envelope", "err", err)
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// drainClientReads exists purely to notice disconnects: clients never send
// anything meaningful, but gorilla/websocket requires reads to happen for
// control frames (close, pong) to be processed at all.
func (h *Hub) drainClientReads(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn) {
	defer cancel()
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}
