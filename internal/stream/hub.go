// Package stream fans bot log entries out to WebSocket subscribers.
package stream

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"bothost/internal/models"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

type client struct {
	conn  *websocket.Conn
	botID string
	ip    string
	send  chan []byte
	alive atomic.Bool

	closeOnce sync.Once
	done      chan struct{}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// enqueue never blocks. A full queue drops the message for this client only.
func (c *client) enqueue(msg []byte) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Hub tracks open sockets, their per-bot subscriptions and per-IP counts.
type Hub struct {
	mu          sync.RWMutex
	clients     map[*client]struct{}
	subscribers map[string]map[*client]struct{}
	perIP       map[string]int
	log         logrus.FieldLogger
}

func NewHub(log logrus.FieldLogger) *Hub {
	return &Hub{
		clients:     make(map[*client]struct{}),
		subscribers: make(map[string]map[*client]struct{}),
		perIP:       make(map[string]int),
		log:         log.WithField("component", "stream"),
	}
}

// Publish sends entry to every socket subscribed to botID.
func (h *Hub) Publish(botID string, entry models.LogEntry) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	subs := h.subscribers[botID]
	if len(subs) == 0 {
		return
	}
	msg, err := json.Marshal(entry)
	if err != nil {
		return
	}
	for c := range subs {
		if !c.enqueue(msg) {
			h.log.WithField("bot_id", botID).Debug("subscriber queue full, entry dropped")
		}
	}
}

// acquire counts a new socket from ip, refusing it when ip already has max.
func (h *Hub) acquire(ip string, max int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if max > 0 && h.perIP[ip] >= max {
		return false
	}
	h.perIP[ip]++
	return true
}

func (h *Hub) release(ip string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.releaseLocked(ip)
}

func (h *Hub) releaseLocked(ip string) {
	if h.perIP[ip] <= 1 {
		delete(h.perIP, ip)
	} else {
		h.perIP[ip]--
	}
}

// add registers c, and subscribes it when it has a bot id.
func (h *Hub) add(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	if c.botID == "" {
		return
	}
	subs := h.subscribers[c.botID]
	if subs == nil {
		subs = make(map[*client]struct{})
		h.subscribers[c.botID] = subs
	}
	subs[c] = struct{}{}
}

// remove forgets c and frees its per-IP slot.
func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	if subs := h.subscribers[c.botID]; subs != nil {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.subscribers, c.botID)
		}
	}
	h.releaseLocked(c.ip)
}

func (h *Hub) snapshot() []*client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	list := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		list = append(list, c)
	}
	return list
}

// Count returns the number of open sockets.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Subscribers returns the number of sockets subscribed to botID.
func (h *Hub) Subscribers(botID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[botID])
}
