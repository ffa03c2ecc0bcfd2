package transport

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yummyhq/yummy/internal/v1/room"
)

type fakeConn struct {
	mu       sync.Mutex
	written  [][]byte
	writeErr error
	toRead   chan []byte
	pongFn   func(string) error
}

func newFakeConn() *fakeConn {
	return &fakeConn{toRead: make(chan []byte, 16)}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	data, ok := <-c.toRead
	if !ok {
		return 0, nil, websocket.ErrCloseSent
	}
	return websocket.TextMessage, data, nil
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	if messageType == websocket.TextMessage {
		cp := make([]byte, len(data))
		copy(cp, data)
		c.written = append(c.written, cp)
	}
	return nil
}

func (c *fakeConn) Close() error {
	return nil
}

func (c *fakeConn) SetReadDeadline(time.Time) error  { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }
func (c *fakeConn) SetPongHandler(h func(string) error) {
	c.pongFn = h
}

func (c *fakeConn) writtenMessages() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.written))
	copy(out, c.written)
	return out
}

type recordingHandler struct {
	mu        sync.Mutex
	messages  [][]byte
	disconnected bool
	done      chan struct{}
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{done: make(chan struct{})}
}

func (h *recordingHandler) HandleMessage(_ context.Context, _ *Client, raw []byte) {
	h.mu.Lock()
	h.messages = append(h.messages, raw)
	h.mu.Unlock()
}

func (h *recordingHandler) HandleDisconnect(_ context.Context, _ *Client) {
	h.mu.Lock()
	h.disconnected = true
	h.mu.Unlock()
	close(h.done)
}

func TestClient_Send_EnqueuesOnPrioritySendForAuthEvents(t *testing.T) {
	conn := newFakeConn()
	handler := newRecordingHandler()
	client := NewClient(conn, handler, time.Hour, time.Hour)

	user := "11111111-1111-1111-1111-111111111111"
	require.NoError(t, client.Send(room.Event{Type: "Authenticated", Payload: map[string]string{"user": user}}))

	select {
	case msg := <-client.prioritySend:
		var decoded map[string]any
		require.NoError(t, json.Unmarshal(msg, &decoded))
		assert.Equal(t, "Authenticated", decoded["type"])
	default:
		t.Fatal("expected a message on prioritySend")
	}
}

func TestClient_Send_NormalEventGoesToSend(t *testing.T) {
	conn := newFakeConn()
	handler := newRecordingHandler()
	client := NewClient(conn, handler, time.Hour, time.Hour)

	require.NoError(t, client.Send(room.RoomCreated("room-1")))

	select {
	case <-client.send:
	default:
		t.Fatal("expected a message on send")
	}
}

func TestClient_ReadPump_DispatchesToHandlerAndClosesOnError(t *testing.T) {
	conn := newFakeConn()
	handler := newRecordingHandler()
	client := NewClient(conn, handler, time.Hour, time.Hour)

	conn.toRead <- []byte(`{"type":"Create"}`)
	close(conn.toRead)

	client.readPump(context.Background())

	<-handler.done
	handler.mu.Lock()
	defer handler.mu.Unlock()
	require.Len(t, handler.messages, 1)
	assert.True(t, handler.disconnected)
}

func TestClient_SetUserID_RoundTrips(t *testing.T) {
	conn := newFakeConn()
	handler := newRecordingHandler()
	client := NewClient(conn, handler, time.Hour, time.Hour)

	assert.Equal(t, "", client.UserID())
	client.SetUserID("user-123")
	assert.Equal(t, "user-123", client.UserID())
}
