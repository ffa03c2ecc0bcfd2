package state

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yummyhq/yummy/internal/v1/model"
	"github.com/yummyhq/yummy/internal/v1/yerrors"
)

func TestMemoryStore_SessionLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	user := model.NewUserId()

	session, err := s.NewSession(ctx, user, "server-a", model.UserTypeUser)
	require.NoError(t, err)

	online, err := s.IsSessionOnline(ctx, session)
	require.NoError(t, err)
	assert.True(t, online)

	loc, ok, err := s.GetUserLocation(ctx, user)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "server-a", loc)

	require.NoError(t, s.CloseSession(ctx, user, session))

	online, err = s.IsSessionOnline(ctx, session)
	require.NoError(t, err)
	assert.False(t, online)
}

func TestMemoryStore_CloseSessionRemovesRoomMembership(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	user := model.NewUserId()
	room := model.NewRoomId()

	require.NoError(t, s.CreateRoom(ctx, model.Room{Id: room}))
	require.NoError(t, s.JoinToRoom(ctx, room, user, model.RoomUserTypeOwner))

	session, err := s.NewSession(ctx, user, "server-a", model.UserTypeUser)
	require.NoError(t, err)
	require.NoError(t, s.CloseSession(ctx, user, session))

	_, ok, err := s.GetUserRoom(ctx, user)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore_JoinRoom_MaxUsers(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	room := model.NewRoomId()
	require.NoError(t, s.CreateRoom(ctx, model.Room{Id: room, MaxUsers: 1}))

	require.NoError(t, s.JoinToRoom(ctx, room, model.NewUserId(), model.RoomUserTypeUser))

	err := s.JoinToRoom(ctx, room, model.NewUserId(), model.RoomUserTypeUser)
	var ye *yerrors.Error
	require.True(t, errors.As(err, &ye))
	assert.Equal(t, yerrors.RoomHasMaxUsers, ye.Code)
}

func TestMemoryStore_JoinRoom_AlreadyInRoom(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	room := model.NewRoomId()
	user := model.NewUserId()
	require.NoError(t, s.CreateRoom(ctx, model.Room{Id: room}))
	require.NoError(t, s.JoinToRoom(ctx, room, user, model.RoomUserTypeUser))

	err := s.JoinToRoom(ctx, room, user, model.RoomUserTypeUser)
	assert.True(t, errors.Is(err, yerrors.New(yerrors.UserAlreadyInRoom)))
}

func TestMemoryStore_DisconnectFromRoom_ReportsRemoved(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	room := model.NewRoomId()
	user := model.NewUserId()
	require.NoError(t, s.CreateRoom(ctx, model.Room{Id: room}))
	require.NoError(t, s.JoinToRoom(ctx, room, user, model.RoomUserTypeOwner))

	removed, err := s.DisconnectFromRoom(ctx, room, user)
	require.NoError(t, err)
	assert.True(t, removed)

	_, err = s.DisconnectFromRoom(ctx, room, user)
	assert.True(t, errors.Is(err, yerrors.New(yerrors.UserCouldNotFoundInRoom)))
}

func TestMemoryStore_JoinRequestQueue_DuplicateRejected(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	room := model.NewRoomId()
	user := model.NewUserId()
	require.NoError(t, s.CreateRoom(ctx, model.Room{Id: room}))

	require.NoError(t, s.PushJoinRequest(ctx, room, user, model.RoomUserTypeUser))

	err := s.PushJoinRequest(ctx, room, user, model.RoomUserTypeUser)
	assert.True(t, errors.Is(err, yerrors.New(yerrors.AlreadyRequested)))
}

func TestMemoryStore_OperatingOnMissingRoom(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.GetUsersFromRoom(ctx, model.NewRoomId())
	assert.True(t, errors.Is(err, yerrors.New(yerrors.RoomNotFound)))
}

func TestMemoryStore_UserMetaAccessFiltering(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	user := model.NewUserId()

	require.NoError(t, s.SetUserMeta(ctx, user, "nickname", model.NewMetaString("yumi", model.UserMetaAnonymous)))
	require.NoError(t, s.SetUserMeta(ctx, user, "secret", model.NewMetaString("shh", model.UserMetaAdmin)))

	visible, err := s.GetUserMeta(ctx, user, model.UserMetaUser)
	require.NoError(t, err)
	assert.Contains(t, visible, "nickname")
	assert.NotContains(t, visible, "secret")
}

func TestMemoryStore_BanSet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	room := model.NewRoomId()
	user := model.NewUserId()
	require.NoError(t, s.CreateRoom(ctx, model.Room{Id: room}))

	banned, err := s.IsBanned(ctx, room, user)
	require.NoError(t, err)
	assert.False(t, banned)

	require.NoError(t, s.BanUser(ctx, room, user))

	banned, err = s.IsBanned(ctx, room, user)
	require.NoError(t, err)
	assert.True(t, banned)
}
