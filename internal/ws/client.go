package ws

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tberthier/minstrel/internal/status"
)

const sendBufferSize = 64

var (
	errClientClosed = errors.New("client closed")
	errSlowClient   = errors.New("send buffer full")
)

// Client is one upgraded websocket connection. Writes go through a buffered
// channel drained by a single writePump goroutine, so any goroutine may
// send without racing on the socket.
type Client struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	logger *slog.Logger

	mu     sync.Mutex
	userID string
	closed bool
}

func newClient(conn *websocket.Conn, logger *slog.Logger) *Client {
	c := &Client{
		id:     uuid.NewString(),
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		logger: logger,
	}
	go c.writePump()
	return c
}

// ID returns the session identifier assigned at upgrade time.
func (c *Client) ID() string { return c.id }

// UserID returns the authenticated user, or "" before authentication.
func (c *Client) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// Bind records the user this session authenticated as.
func (c *Client) Bind(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = userID
}

// SendStatus delivers one status update to the client.
func (c *Client) SendStatus(snap status.Snapshot) error {
	return c.sendMessage(Message{Type: MsgSongStatus, Payload: statusPayload(snap)})
}

func (c *Client) sendMessage(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.enqueue(data)
}

func (c *Client) sendError(code, message string) {
	if err := c.sendMessage(Message{Type: MsgError, Payload: ErrorPayload{Code: code, Message: message}}); err != nil {
		c.logger.Debug("error frame not delivered", "session_id", c.id, "code", code)
	}
}

// enqueue hands data to the writePump without blocking. A full buffer means
// the client cannot keep up; the frame is dropped and the caller decides
// what to do about it.
func (c *Client) enqueue(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClientClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return errSlowClient
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()
	defer c.markClosed()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// markClosed flags the client once the pump stops draining, so enqueue
// fails fast instead of filling a buffer nobody reads. The send channel
// itself is shut by close().
func (c *Client) markClosed() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// close stops the writePump and marks the client unusable. Idempotent.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}
