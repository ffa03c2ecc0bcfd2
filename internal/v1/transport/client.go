// Package transport implements the WebSocket wire edge: connection
// upgrade and handshake, JSON text-frame read/write pumps, and the
// heartbeat that declares a sink dead after too long without a pong.
package transport

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yummyhq/yummy/internal/v1/room"
)

// wsConnection is the subset of *websocket.Conn the Client depends on, so
// tests can substitute a fake without opening a real socket.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
}

// Handler processes one decoded client envelope and is notified on
// disconnect. The gateway package is the concrete implementation.
type Handler interface {
	HandleMessage(ctx context.Context, client *Client, raw []byte)
	HandleDisconnect(ctx context.Context, client *Client)
}

// Client is one WebSocket connection's read/write pumps plus the Sink
// interface the Connection Manager dispatches through.
type Client struct {
	conn    wsConnection
	handler Handler

	heartbeatTimeout time.Duration
	heartbeatEvery   time.Duration

	mu        sync.RWMutex
	userID    string // empty until an auth request succeeds
	sessionID string

	closeOnce    sync.Once
	closed       bool
	send         chan []byte // normal traffic: Message/Play/room listings
	prioritySend chan []byte // Authenticated/Joined/disconnect notices
}

// NewClient wraps conn and starts neither pump; call Run to start both.
func NewClient(conn wsConnection, handler Handler, heartbeatEvery, heartbeatTimeout time.Duration) *Client {
	return &Client{
		conn:             conn,
		handler:          handler,
		heartbeatEvery:   heartbeatEvery,
		heartbeatTimeout: heartbeatTimeout,
		send:             make(chan []byte, 256),
		prioritySend:     make(chan []byte, 256),
	}
}

// UserID returns the authenticated user id, or "" before Authenticated.
func (c *Client) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// SetUserID records the authenticated identity once a session is minted.
func (c *Client) SetUserID(id string) {
	c.mu.Lock()
	c.userID = id
	c.mu.Unlock()
}

// SessionID returns the bound session id, or "" before Authenticated.
func (c *Client) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// SetSessionID records the session id minted alongside the user identity.
func (c *Client) SetSessionID(id string) {
	c.mu.Lock()
	c.sessionID = id
	c.mu.Unlock()
}

// Send implements connection.Sink: best-effort, non-blocking enqueue.
func (c *Client) Send(event room.Event) error {
	data, err := event.MarshalJSON()
	if err != nil {
		return err
	}

	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return nil
	}

	priority := isPriorityEvent(event.Type)
	ch := c.send
	if priority {
		ch = c.prioritySend
	}
	select {
	case ch <- data:
	default:
		slog.Warn("transport: send channel full, dropping message", "type", event.Type, "priority", priority)
	}
	return nil
}

// SendRaw enqueues an already-encoded response envelope on the priority
// channel: a request's response must never be starved behind broadcast
// traffic queued ahead of it on the normal channel.
func (c *Client) SendRaw(data []byte) error {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return nil
	}
	select {
	case c.prioritySend <- data:
	default:
		slog.Warn("transport: priority send channel full, dropping response")
	}
	return nil
}

func isPriorityEvent(eventType string) bool {
	switch eventType {
	case "Authenticated", "Joined", "JoinRequested", "JoinRequestDeclined", "NewJoinRequest",
		"DisconnectedFromRoom", "UserDisconnectedFromRoom":
		return true
	default:
		return false
	}
}

// Run starts the read and write pumps and blocks until both exit.
func (c *Client) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); c.writePump() }()
	go func() { defer wg.Done(); c.readPump(ctx) }()
	wg.Wait()
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.handler.HandleDisconnect(ctx, c)
		c.close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(c.heartbeatTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.heartbeatTimeout))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		c.handler.HandleMessage(ctx, c, data)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.heartbeatEvery)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	const writeWait = 10 * time.Second
	for {
		select {
		case message, ok := <-c.prioritySend:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case message, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		c.conn.Close()
	})
}
