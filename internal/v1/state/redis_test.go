package state

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yummyhq/yummy/internal/v1/bus"
	"github.com/yummyhq/yummy/internal/v1/model"
	"github.com/yummyhq/yummy/internal/v1/yerrors"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	b, err := bus.NewService("redis://"+mr.Addr(), "test")
	require.NoError(t, err)

	return NewRedisStore(b), mr
}

func TestRedisStore_SessionLifecycle(t *testing.T) {
	store, mr := newTestRedisStore(t)
	defer mr.Close()

	ctx := context.Background()
	user := model.NewUserId()

	session, err := store.NewSession(ctx, user, "server-a", model.UserTypeUser)
	require.NoError(t, err)

	online, err := store.IsSessionOnline(ctx, session)
	require.NoError(t, err)
	assert.True(t, online)

	loc, ok, err := store.GetUserLocation(ctx, user)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "server-a", loc)

	require.NoError(t, store.CloseSession(ctx, user, session))

	online, err = store.IsSessionOnline(ctx, session)
	require.NoError(t, err)
	assert.False(t, online)
}

func TestRedisStore_JoinRoom_MaxUsers(t *testing.T) {
	store, mr := newTestRedisStore(t)
	defer mr.Close()

	ctx := context.Background()
	room := model.NewRoomId()
	require.NoError(t, store.CreateRoom(ctx, model.Room{Id: room, MaxUsers: 1}))
	require.NoError(t, store.JoinToRoom(ctx, room, model.NewUserId(), model.RoomUserTypeUser))

	err := store.JoinToRoom(ctx, room, model.NewUserId(), model.RoomUserTypeUser)
	var ye *yerrors.Error
	require.True(t, errors.As(err, &ye))
	assert.Equal(t, yerrors.RoomHasMaxUsers, ye.Code)
}

func TestRedisStore_BanSet(t *testing.T) {
	store, mr := newTestRedisStore(t)
	defer mr.Close()

	ctx := context.Background()
	room := model.NewRoomId()
	user := model.NewUserId()
	require.NoError(t, store.CreateRoom(ctx, model.Room{Id: room}))

	banned, err := store.IsBanned(ctx, room, user)
	require.NoError(t, err)
	assert.False(t, banned)

	require.NoError(t, store.BanUser(ctx, room, user))

	banned, err = store.IsBanned(ctx, room, user)
	require.NoError(t, err)
	assert.True(t, banned)
}

func TestRedisStore_UserMetaAccessFiltering(t *testing.T) {
	store, mr := newTestRedisStore(t)
	defer mr.Close()

	ctx := context.Background()
	user := model.NewUserId()

	require.NoError(t, store.SetUserMeta(ctx, user, "nickname", model.NewMetaString("yumi", model.UserMetaAnonymous)))
	require.NoError(t, store.SetUserMeta(ctx, user, "secret", model.NewMetaString("shh", model.UserMetaAdmin)))

	visible, err := store.GetUserMeta(ctx, user, model.UserMetaUser)
	require.NoError(t, err)
	assert.Contains(t, visible, "nickname")
	assert.NotContains(t, visible, "secret")
}
