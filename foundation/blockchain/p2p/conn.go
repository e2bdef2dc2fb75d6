package p2p

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Set of error variables for sending to a peer.
var (
	ErrClosed     = errors.New("connection closed")
	ErrSendBuffer = errors.New("send buffer full")
)

const (
	writeWait      = 10 * time.Second
	pingPeriod     = 30 * time.Second
	pongWait       = pingPeriod*2 + writeWait
	maxMessageSize = 64 << 20

	// Messages are dropped for a peer that falls this far behind so a slow
	// peer never blocks a broadcast.
	sendBuffer = 256
)

// Conn is a connection to a single peer. Reads and writes run on their own
// goroutines and every outgoing message goes through a buffered queue.
type Conn struct {
	ID      string
	Inbound bool

	ws        *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	evHandler func(v string, args ...any)
}

func newConn(id string, inbound bool, ws *websocket.Conn, evHandler func(v string, args ...any)) *Conn {
	return &Conn{
		ID:        id,
		Inbound:   inbound,
		ws:        ws,
		send:      make(chan []byte, sendBuffer),
		done:      make(chan struct{}),
		evHandler: evHandler,
	}
}

// Send queues the message for the peer without waiting for the write.
func (c *Conn) Send(msg Message) error {
	data, err := Encode(msg)
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrClosed
	default:
		c.evHandler("p2p: send: peer[%s]: WARNING: dropping %s: %s", c.ID, msg.Type(), ErrSendBuffer)
		return ErrSendBuffer
	}
}

// Close shuts the connection down. It is safe to call more than once.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

// Done is closed when the connection is closed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// =============================================================================

// readLoop decodes every message from the peer and hands it to the handler.
// Messages that can't be decoded are logged and ignored.
func (c *Conn) readLoop(ctx context.Context, handle func(ctx context.Context, c *Conn, msg Message)) {
	defer c.Close()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.evHandler("p2p: readLoop: peer[%s]: ERROR: %s", c.ID, err)
			}
			return
		}

		msg, err := Decode(data)
		if err != nil {
			c.evHandler("p2p: readLoop: peer[%s]: WARNING: ignoring message: %s", c.ID, err)
			continue
		}

		handle(ctx, c, msg)
	}
}

// writeLoop writes the queued messages and pings the peer to keep the
// connection alive.
func (c *Conn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case data := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.evHandler("p2p: writeLoop: peer[%s]: ERROR: %s", c.ID, err)
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.evHandler("p2p: writeLoop: peer[%s]: ping failed: %s", c.ID, err)
				return
			}

		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
