// Package status pushes live scanner events to subscribed websocket
// clients: detection updates, recording lifecycle, and throttle changes.
package status

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jfhorsma/sdrscand/internal/logger"
	"github.com/jfhorsma/sdrscand/internal/scanner"
)

// detectionWire is the snake_case wire shape for a pushed Detection,
// matching the JSON contracts used across the control surface.
type detectionWire struct {
	FreqMHz          float64   `json:"freq_mhz"`
	Mode             string    `json:"mode"`
	SignalStrengthDB float64   `json:"signal_strength_db"`
	Label            string    `json:"label"`
	FirstSeen        time.Time `json:"first_seen"`
	LastSeen         time.Time `json:"last_seen"`
	RecordingID      string    `json:"recording_id,omitempty"`
	CTCSSHz          float64   `json:"ctcss_hz,omitempty"`
}

func toDetectionWire(d scanner.Detection) detectionWire {
	return detectionWire{
		FreqMHz:          d.FreqMHz,
		Mode:             string(d.Mode),
		SignalStrengthDB: d.SignalStrengthDB,
		Label:            d.Label,
		FirstSeen:        d.FirstSeen,
		LastSeen:         d.LastSeen,
		RecordingID:      d.RecordingID,
		CTCSSHz:          d.CTCSSHz,
	}
}

// Message event types pushed over /ws/status.
const (
	EventDetectionUpdated = "detection_updated"
	EventRecordingStarted = "recording_started"
	EventRecordingStopped = "recording_stopped"
	EventThrottleChanged  = "throttle_changed"
)

// Message is the envelope written to each client.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Client is one subscribed websocket connection.
type Client struct {
	conn   *websocket.Conn
	send   chan *Message
	hub    *Hub
	mu     sync.Mutex
	closed bool
}

// Hub fans status events out to all subscribed clients. It implements
// scanner.EventSink so the engine can push directly into it.
type Hub struct {
	log        *logger.Logger
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan *Message
	upgrader   websocket.Upgrader
	mu         sync.RWMutex
}

var _ scanner.EventSink = (*Hub)(nil)

// NewHub constructs an idle Hub; call Run in a goroutine to start it.
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		log:        log.Named("status"),
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Message, 64),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Run drives the hub's register/unregister/broadcast loop until ctx-like
// shutdown is requested by closing stop.
func (h *Hub) Run(stop <-chan struct{}) {
	h.log.Info("status hub starting")
	for {
		select {
		case <-stop:
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("client registered", logger.Int("clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				c.close()
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("client unregistered", logger.Int("clients", n))

		case msg := <-h.broadcast:
			h.mu.RLock()
			var dead []*Client
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					dead = append(dead, c)
				}
			}
			h.mu.RUnlock()

			if len(dead) > 0 {
				h.mu.Lock()
				for _, c := range dead {
					if _, ok := h.clients[c]; ok {
						delete(h.clients, c)
						c.close()
					}
				}
				h.mu.Unlock()
			}
		}
	}
}

// ServeHTTP upgrades the request to a websocket connection and registers a
// new client. Clients are send-only: inbound messages are discarded.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("websocket upgrade failed", logger.Error(err))
		return
	}

	c := &Client{conn: conn, send: make(chan *Message, 32), hub: h}
	h.register <- c

	go c.writePump()
	go c.readPump()
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// readPump discards inbound traffic but must run to detect disconnects.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		data, err := json.Marshal(msg)
		if err != nil {
			c.hub.log.Error("marshal status message failed", logger.Error(err))
			continue
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

func (h *Hub) publish(eventType string, data any) {
	select {
	case h.broadcast <- &Message{Type: eventType, Data: data}:
	default:
		h.log.Warn("status broadcast channel full, dropping event", logger.String("type", eventType))
	}
}

// DetectionUpdated implements scanner.EventSink.
func (h *Hub) DetectionUpdated(d scanner.Detection) {
	h.publish(EventDetectionUpdated, toDetectionWire(d))
}

// RecordingStarted implements scanner.EventSink.
func (h *Hub) RecordingStarted(freqMHz float64, label string) {
	h.publish(EventRecordingStarted, map[string]any{"freq_mhz": freqMHz, "label": label})
}

// RecordingStopped implements scanner.EventSink.
func (h *Hub) RecordingStopped(freqMHz float64, sessionFile string) {
	h.publish(EventRecordingStopped, map[string]any{"freq_mhz": freqMHz, "session_file": sessionFile})
}

// PublishThrottle pushes a throttle_changed event carrying snap. It sits
// outside the EventSink interface since the monitor, not the engine, owns
// that transition; cmd/scannerd does not call it, so the daemon pushes no
// throttle events.
func (h *Hub) PublishThrottle(snap scanner.ThrottleSnapshot) {
	h.publish(EventThrottleChanged, snap)
}
