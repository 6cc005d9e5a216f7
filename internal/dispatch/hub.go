package dispatch

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	sendBuffer   = 32
	writeTimeout = 5 * time.Second
	pingInterval = 30 * time.Second
)

// Hub broadcasts messages to every attached websocket client. A client whose
// buffer fills up is dropped rather than slowing the others down.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	logger  *zap.Logger
}

// NewHub returns an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{clients: make(map[*Client]struct{}), logger: logger.Named("hub")}
}

// Client is one attached connection. The hub owns all writes to it.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

// Done is closed when the client is detached.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Attach registers conn and starts its writer.
func (h *Hub) Attach(conn *websocket.Conn) *Client {
	c := &Client{conn: conn, send: make(chan []byte, sendBuffer), done: make(chan struct{})}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug("client attached", zap.String("remote", conn.RemoteAddr().String()), zap.Int("clients", n))
	go h.writeLoop(c)
	return c
}

// Detach unregisters c and stops its writer. The connection itself is left
// for the caller to close.
func (h *Hub) Detach(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.once.Do(func() { close(c.done) })
}

// Clients returns the number of attached clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Send implements Sink.
func (h *Hub) Send(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to encode message", zap.String("type", msg.Type), zap.Error(err))
		return
	}

	h.mu.RLock()
	var slow []*Client
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn("dropping slow client", zap.String("remote", c.conn.RemoteAddr().String()))
		h.Detach(c)
	}
}

func (h *Hub) writeLoop(c *Client) {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Debug("write failed", zap.Error(err))
				h.Detach(c)
				return
			}
		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				h.Detach(c)
				return
			}
		}
	}
}

// Dispatcher returns a Dispatcher broadcasting through the hub.
func (h *Hub) Dispatcher() Dispatcher {
	return Messages{Sink: h}
}
