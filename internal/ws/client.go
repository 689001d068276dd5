package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"collab-service/internal/dispatch"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
)

// ErrSendBufferFull is returned when a slow client cannot keep up with its
// outbound frames. The connection is closed afterwards.
var ErrSendBufferFull = errors.New("ws: send buffer full")

// ErrClientClosed is returned by Send after the connection went away.
var ErrClientClosed = errors.New("ws: client closed")

// ErrHandlerPanic ends a connection whose event handler panicked.
var ErrHandlerPanic = errors.New("ws: handler panic")

// Client is one websocket connection. Frames read from it are dispatched
// one at a time; writes go through a buffered channel drained by writePump.
type Client struct {
	conn *websocket.Conn
	info ConnInfo
	send chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

func newClient(conn *websocket.Conn, info ConnInfo, buffer int) *Client {
	return &Client{
		conn: conn,
		info: info,
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

func (c *Client) ID() string  { return c.info.ConnID }
func (c *Client) UserID() int { return c.info.UserID }

// Send queues payload for delivery without blocking.
func (c *Client) Send(payload []byte) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}
	select {
	case c.send <- payload:
		return nil
	default:
		c.close()
		return ErrSendBufferFull
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// readPump blocks until the connection fails and returns the close reason.
func (c *Client) readPump(ctx context.Context, d *dispatch.Dispatcher) error {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return err
		}

		var frame dispatch.Frame
		if err := json.Unmarshal(raw, &frame); err != nil || frame.Event == "" {
			payload, encErr := dispatch.Encode(dispatch.AckEvent, frame.Ack, dispatch.AckBody{
				Code:    http.StatusBadRequest,
				Message: "Malformed frame",
			})
			if encErr == nil {
				_ = c.Send(payload)
			}
			continue
		}
		d.Dispatch(ctx, c, frame)

		select {
		case <-c.done:
			log.Printf("ws: conn=%s dropped after send buffer overflow", c.ID())
			return ErrSendBufferFull
		default:
		}
	}
}
