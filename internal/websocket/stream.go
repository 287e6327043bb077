// Package websocket streams engine events to operator UIs: one
// connection follows one underwriting and receives its workflow stage
// and execution lifecycle events as they happen.
package websocket

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aura/underwriting/internal/events"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

// client is one connected stream follower.
type client struct {
	conn           *websocket.Conn
	send           chan *events.CloudEvent
	underwritingID string
}

// StageStreamer fans engine events out to WebSocket clients, filtered
// by the underwriting each connection follows.
type StageStreamer struct {
	bus        *events.EventBus
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
	logger     *log.Logger
}

// NewStageStreamer wires the streamer to the in-process event bus.
func NewStageStreamer(bus *events.EventBus) *StageStreamer {
	return &StageStreamer{
		bus:        bus,
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: log.New(log.Writer(), "[STREAM] ", log.LstdFlags),
	}
}

// Run pumps bus events to connected clients until the bus subscription
// is exhausted. Call it once from the server startup.
func (s *StageStreamer) Run() {
	sub := s.bus.Subscribe()
	for {
		select {
		case c := <-s.register:
			s.mu.Lock()
			s.clients[c] = true
			total := len(s.clients)
			s.mu.Unlock()
			s.logger.Printf("📡 stream client connected for %s (total: %d)", c.underwritingID, total)

		case c := <-s.unregister:
			s.mu.Lock()
			if _, ok := s.clients[c]; ok {
				delete(s.clients, c)
				close(c.send)
			}
			total := len(s.clients)
			s.mu.Unlock()
			s.logger.Printf("📡 stream client disconnected (total: %d)", total)

		case event, ok := <-sub:
			if !ok {
				return
			}
			s.mu.RLock()
			for c := range s.clients {
				if !eventMatches(event, c.underwritingID) {
					continue
				}
				select {
				case c.send <- event:
				default:
					// Slow consumer; drop rather than stall the bus.
				}
			}
			s.mu.RUnlock()
		}
	}
}

// eventMatches reports whether an event belongs to the followed case.
func eventMatches(e *events.CloudEvent, underwritingID string) bool {
	if e.Subject == underwritingID {
		return true
	}
	if id, ok := e.Data["underwriting_id"].(string); ok && id == underwritingID {
		return true
	}
	return false
}

// HandleStream upgrades the request and follows one underwriting.
func (s *StageStreamer) HandleStream(w http.ResponseWriter, r *http.Request, underwritingID string) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("⚠️  websocket upgrade failed: %v", err)
		return
	}

	c := &client{
		conn:           conn,
		send:           make(chan *events.CloudEvent, sendBuffer),
		underwritingID: underwritingID,
	}
	s.register <- c

	go s.writePump(c)
	go s.readPump(c)
}

// writePump serializes events to the socket and keeps the connection
// alive with pings.
func (s *StageStreamer) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(event); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards inbound frames; it exists to run the pong handler
// and detect the peer going away.
func (s *StageStreamer) readPump(c *client) {
	defer func() {
		s.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// ClientCount reports connected clients, for health introspection.
func (s *StageStreamer) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}
