package server

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	clientBuffer = 64
	writeTimeout = 5 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = pongTimeout * 9 / 10
)

// Hub fans events out to websocket clients. A client that cannot keep up
// loses events rather than slowing the detector.
type Hub struct {
	mu      sync.RWMutex
	clients map[uuid.UUID]*client
	dropped uint64
}

type client struct {
	id   uuid.UUID
	conn *websocket.Conn
	send chan Event
	done chan struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[uuid.UUID]*client)}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many events were not delivered to slow clients.
func (h *Hub) Dropped() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dropped
}

// Broadcast queues ev for every client without blocking.
func (h *Hub) Broadcast(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.clients {
		select {
		case c.send <- ev:
		default:
			h.dropped++
		}
	}
}

// Close disconnects all clients.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[uuid.UUID]*client)
	h.mu.Unlock()

	for _, c := range clients {
		close(c.done)
		_ = c.conn.Close()
	}
}

// serve registers conn and blocks until the client goes away.
func (h *Hub) serve(conn *websocket.Conn) {
	c := &client{
		id:   uuid.New(),
		conn: conn,
		send: make(chan Event, clientBuffer),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":  "Hub.serve",
		"client_id": c.id.String(),
		"remote":    conn.RemoteAddr().String(),
	}).Info("Event client connected")

	go h.writeLoop(c)
	h.readLoop(c)
	h.remove(c)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c.id]
	delete(h.clients, c.id)
	h.mu.Unlock()

	if ok {
		close(c.done)
		_ = c.conn.Close()
		logrus.WithFields(logrus.Fields{
			"function":  "Hub.remove",
			"client_id": c.id.String(),
		}).Info("Event client disconnected")
	}
}

// readLoop discards client messages and returns when the connection fails.
func (h *Hub) readLoop(c *client) {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case ev := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteJSON(ev); err != nil {
				logrus.WithFields(logrus.Fields{
					"function":  "Hub.writeLoop",
					"client_id": c.id.String(),
					"error":     err.Error(),
				}).Debug("Event write failed")
				_ = c.conn.Close()
				return
			}
		case <-ping.C:
			deadline := time.Now().Add(writeTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				_ = c.conn.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}
