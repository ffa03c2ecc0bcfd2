package bus

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	svc, err := NewService("redis://"+mr.Addr(), "test")
	require.NoError(t, err)

	return svc, mr
}

func TestNewService(t *testing.T) {
	svc, mr := newTestService(t)
	defer mr.Close()
	defer func() { _ = svc.Close() }()

	assert.NotNil(t, svc.Client())
	assert.NoError(t, svc.Ping(context.Background()))
}

func TestKey(t *testing.T) {
	svc, mr := newTestService(t)
	defer mr.Close()
	defer func() { _ = svc.Close() }()

	assert.Equal(t, "test:rooms", svc.Key("rooms"))
	assert.Equal(t, "test:room_meta:abc", svc.Key("room_meta", "abc"))
}

func TestPublishSendMessage_DeliversOnServerChannel(t *testing.T) {
	svc, mr := newTestService(t)
	defer mr.Close()
	defer func() { _ = svc.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	received := make(chan SendMessagePayload, 1)
	svc.Subscribe(ctx, "server-a", &wg, func(p SendMessagePayload) {
		received <- p
	})

	time.Sleep(50 * time.Millisecond)

	msg, _ := json.Marshal(map[string]string{"hello": "world"})
	require.NoError(t, svc.PublishSendMessage(ctx, "server-a", "user-1", msg))

	select {
	case p := <-received:
		assert.Equal(t, "user-1", p.ToUserID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published message")
	}
}

func TestHashRoundTrip(t *testing.T) {
	svc, mr := newTestService(t)
	defer mr.Close()
	defer func() { _ = svc.Close() }()

	ctx := context.Background()
	key := svc.Key("rooms")

	require.NoError(t, svc.HashSet(ctx, key, "room-1", "payload"))

	value, ok, err := svc.HashGet(ctx, key, "room-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "payload", value)

	require.NoError(t, svc.HashDel(ctx, key, "room-1"))
	_, ok, err = svc.HashGet(ctx, key, "room-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSetMembership(t *testing.T) {
	svc, mr := newTestService(t)
	defer mr.Close()
	defer func() { _ = svc.Close() }()

	ctx := context.Background()
	key := svc.Key("banned", "room-1")

	isMember, err := svc.SetIsMember(ctx, key, "user-1")
	require.NoError(t, err)
	assert.False(t, isMember)

	require.NoError(t, svc.SetAdd(ctx, key, "user-1"))

	isMember, err = svc.SetIsMember(ctx, key, "user-1")
	require.NoError(t, err)
	assert.True(t, isMember)
}
