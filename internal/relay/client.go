package relay

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Client is one connected peer. The registry tracks Clients by pointer; the
// id only labels logs.
type Client struct {
	id     uuid.UUID
	remote string
	conn   *websocket.Conn

	// gorilla allows one concurrent writer; fan-out from several senders
	// can target the same peer at once.
	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newClient(conn *websocket.Conn, remote string) *Client {
	return &Client{id: uuid.New(), remote: remote, conn: conn}
}

func (c *Client) ID() uuid.UUID { return c.id }

func (c *Client) RemoteAddr() string { return c.remote }

// Send writes one message, giving up after timeout.
func (c *Client) Send(messageType int, payload []byte, timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, payload)
}

func (c *Client) ping(timeout time.Duration) error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(timeout))
}

// closeWith sends a close frame (best-effort) and then closes the socket.
func (c *Client) closeWith(code int, reason string, timeout time.Duration) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(timeout))
	c.Close()
}

// Close closes the underlying socket. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		_ = c.conn.Close()
	})
}
