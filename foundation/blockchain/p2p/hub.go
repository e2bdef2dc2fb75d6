package p2p

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Path is the route peers connect to.
const Path = "/v1/node/p2p"

const dialTimeout = 10 * time.Second

// MessageHandler reacts to the peer protocol.
type MessageHandler interface {
	Connected(ctx context.Context, c *Conn)
	Handle(ctx context.Context, c *Conn, msg Message)
}

// Hub manages the set of open peer connections, inbound and outbound.
type Hub struct {
	handler   MessageHandler
	evHandler func(v string, args ...any)
	upgrader  websocket.Upgrader
	dialer    *websocket.Dialer

	mu    sync.RWMutex
	conns map[string]*Conn
	hosts map[string]string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHub constructs a hub that passes every message to the handler.
func NewHub(handler MessageHandler, evHandler func(v string, args ...any)) *Hub {
	ev := func(v string, args ...any) {
		if evHandler != nil {
			evHandler(v, args...)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Hub{
		handler:   handler,
		evHandler: ev,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		dialer: &websocket.Dialer{
			HandshakeTimeout: dialTimeout,
		},
		conns:  make(map[string]*Conn),
		hosts:  make(map[string]string),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Accept upgrades an inbound HTTP request into a peer connection.
func (h *Hub) Accept(w http.ResponseWriter, r *http.Request) error {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("upgrade: %w", err)
	}

	c := newConn(uuid.NewString(), true, ws, h.evHandler)
	h.evHandler("p2p: Accept: peer[%s]: remote[%s]", c.ID, r.RemoteAddr)

	h.start(c, "")
	return nil
}

// Dial opens an outbound connection to the peer at host. A host that is
// already connected is not dialed again.
func (h *Hub) Dial(ctx context.Context, host string) error {
	if h.IsConnected(host) {
		return nil
	}

	u := url.URL{Scheme: "ws", Host: host, Path: Path}

	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	ws, _, err := h.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", u.String(), err)
	}

	c := newConn(host, false, ws, h.evHandler)
	h.evHandler("p2p: Dial: peer[%s]: connected", host)

	h.start(c, host)
	return nil
}

// Broadcast queues the message for every connection except the one named
// by exclude and returns how many peers it was queued for.
func (h *Hub) Broadcast(msg Message, exclude string) int {
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.conns))
	for id, c := range h.conns {
		if id != exclude {
			conns = append(conns, c)
		}
	}
	h.mu.RUnlock()

	var sent int
	for _, c := range conns {
		if err := c.Send(msg); err != nil {
			continue
		}
		sent++
	}

	return sent
}

// Send queues the message for a single connection.
func (h *Hub) Send(id string, msg Message) error {
	h.mu.RLock()
	c, exists := h.conns[id]
	h.mu.RUnlock()

	if !exists {
		return ErrClosed
	}

	return c.Send(msg)
}

// IsConnected reports whether there is an outbound connection to host.
func (h *Hub) IsConnected(host string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	_, exists := h.hosts[host]
	return exists
}

// Count returns the number of open connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.conns)
}

// Shutdown closes every connection and waits for their goroutines.
func (h *Hub) Shutdown() {
	h.evHandler("p2p: Shutdown: started")
	defer h.evHandler("p2p: Shutdown: completed")

	h.mu.Lock()
	h.cancel()
	for _, c := range h.conns {
		c.Close()
	}
	h.mu.Unlock()

	h.wg.Wait()
}

// =============================================================================

func (h *Hub) start(c *Conn, host string) {
	h.mu.Lock()
	if h.ctx.Err() != nil {
		h.mu.Unlock()
		c.Close()
		return
	}
	h.conns[c.ID] = c
	if host != "" {
		h.hosts[host] = c.ID
	}
	h.mu.Unlock()

	h.wg.Add(2)

	go func() {
		defer h.wg.Done()
		c.writeLoop()
	}()

	go func() {
		defer func() {
			h.remove(c, host)
			h.wg.Done()
		}()

		if h.handler != nil {
			h.handler.Connected(h.ctx, c)
		}

		c.readLoop(h.ctx, func(ctx context.Context, c *Conn, msg Message) {
			if h.handler != nil {
				h.handler.Handle(ctx, c, msg)
			}
		})
	}()
}

func (h *Hub) remove(c *Conn, host string) {
	h.mu.Lock()
	delete(h.conns, c.ID)
	if host != "" && h.hosts[host] == c.ID {
		delete(h.hosts, host)
	}
	h.mu.Unlock()

	h.evHandler("p2p: peer[%s]: disconnected", c.ID)
}
