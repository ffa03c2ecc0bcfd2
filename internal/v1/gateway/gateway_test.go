package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yummyhq/yummy/internal/v1/auth"
	"github.com/yummyhq/yummy/internal/v1/connection"
	"github.com/yummyhq/yummy/internal/v1/persistence"
	"github.com/yummyhq/yummy/internal/v1/plugin"
	"github.com/yummyhq/yummy/internal/v1/room"
	"github.com/yummyhq/yummy/internal/v1/state"
	"github.com/yummyhq/yummy/internal/v1/user"
)

type fakeSink struct {
	mu       sync.Mutex
	events   []json.RawMessage
	userID   string
	sessionID string
}

func (s *fakeSink) Send(event room.Event) error {
	data, err := event.MarshalJSON()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.events = append(s.events, data)
	s.mu.Unlock()
	return nil
}

func (s *fakeSink) SendRaw(data []byte) error {
	s.mu.Lock()
	s.events = append(s.events, data)
	s.mu.Unlock()
	return nil
}

func (s *fakeSink) UserID() string         { return s.userID }
func (s *fakeSink) SetUserID(id string)    { s.userID = id }
func (s *fakeSink) SessionID() string      { return s.sessionID }
func (s *fakeSink) SetSessionID(id string) { s.sessionID = id }

func (s *fakeSink) last(t *testing.T) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.events)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(s.events[len(s.events)-1], &decoded))
	return decoded
}

func (s *fakeSink) byType(t *testing.T, typ string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.events) - 1; i >= 0; i-- {
		var decoded map[string]any
		require.NoError(t, json.Unmarshal(s.events[i], &decoded))
		if decoded["type"] == typ {
			return decoded
		}
	}
	t.Fatalf("no event of type %q observed", typ)
	return nil
}

func newTestGateway(t *testing.T) *Gateway {
	store := state.NewMemoryStore()
	persist, err := persistence.Open("file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = persist.Close() })

	tokens := auth.NewTokenManager("test-salt-key-0123456789", time.Hour)
	authCoord := auth.New(tokens, store, persist, "server-a", 30*time.Second)
	userCoord := user.New(store, persist, 16)
	conn := connection.New(store, nil, "server-a")
	roomCoord := room.New(store, persist, conn)
	plugins := plugin.New(nil)

	return New(authCoord, userCoord, roomCoord, store, conn, plugins, 16, nil)
}

func send(t *testing.T, gw *Gateway, sink *fakeSink, envelope map[string]any) {
	raw, err := json.Marshal(envelope)
	require.NoError(t, err)
	gw.HandleMessage(context.Background(), sink, raw)
}

func TestGateway_AuthEmail_CreatesAccountAndMarksAuthenticated(t *testing.T) {
	gw := newTestGateway(t)
	sink := &fakeSink{}

	send(t, gw, sink, map[string]any{
		"type": "AuthEmail", "request_id": 1,
		"email": "a@example.com", "password": "hunter2", "create": true,
	})

	resp := sink.last(t)
	assert.Equal(t, true, resp["status"])
	assert.NotEmpty(t, sink.UserID())

	authenticated := sink.byType(t, "Authenticated")
	assert.NotEmpty(t, authenticated["token"])
}

func TestGateway_AuthEmail_WrongCredentialsFails(t *testing.T) {
	gw := newTestGateway(t)
	sink := &fakeSink{}

	send(t, gw, sink, map[string]any{"type": "AuthEmail", "email": "nobody@example.com", "password": "x", "create": false})

	resp := sink.last(t)
	assert.Equal(t, false, resp["status"])
	assert.Equal(t, "EmailOrPasswordNotValid", resp["result"])
}

func TestGateway_CreateJoinAndMessageRoom(t *testing.T) {
	gw := newTestGateway(t)
	owner := &fakeSink{}
	member := &fakeSink{}

	send(t, gw, owner, map[string]any{"type": "AuthEmail", "email": "owner@example.com", "password": "pw", "create": true})
	send(t, gw, member, map[string]any{"type": "AuthEmail", "email": "member@example.com", "password": "pw", "create": true})

	send(t, gw, owner, map[string]any{
		"type": "CreateRoom", "request_id": 2,
		"name": "lobby", "max_user": 4,
	})
	createResp := owner.last(t)
	require.Equal(t, true, createResp["status"])
	result := createResp["result"].(map[string]any)
	roomID := result["room_id"].(string)

	send(t, gw, member, map[string]any{"type": "JoinToRoom", "room": roomID, "user_type": 0})
	joined := member.byType(t, "Joined")
	assert.Equal(t, roomID, joined["room_id"])

	ownerJoined := owner.byType(t, "UserJoinedToRoom")
	assert.Equal(t, roomID, ownerJoined["room"])

	send(t, gw, owner, map[string]any{"type": "MessageToRoom", "room": roomID, "message": "hi"})
	msg := member.byType(t, "MessageFromRoom")
	assert.Equal(t, "hi", msg["message"])
}

func TestGateway_UnauthenticatedRequestRejected(t *testing.T) {
	gw := newTestGateway(t)
	sink := &fakeSink{}

	send(t, gw, sink, map[string]any{"type": "CreateRoom", "name": "x"})

	resp := sink.last(t)
	assert.Equal(t, false, resp["status"])
	assert.Equal(t, "UserNotLoggedIn", resp["result"])
}
