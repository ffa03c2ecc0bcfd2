package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yummyhq/yummy/internal/v1/model"
)

func newTestStore(t *testing.T) *Store {
	s, err := Open("file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_CreateAndFindUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := model.User{
		Id:          model.NewUserId(),
		Email:       "a@example.com",
		Type:        model.UserTypeUser,
		CreatedAt:   time.Now().UTC(),
		LastLoginAt: time.Now().UTC(),
	}
	require.NoError(t, s.CreateUser(ctx, u))

	found, err := s.FindUserByEmail(ctx, "a@example.com")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, u.Id, found.Id)

	missing, err := s.FindUserByEmail(ctx, "nobody@example.com")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStore_UserMetaRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := model.NewUserId()

	require.NoError(t, s.CreateUser(ctx, model.User{Id: user, CreatedAt: time.Now().UTC(), LastLoginAt: time.Now().UTC()}))
	require.NoError(t, s.SetUserMeta(ctx, user, "nickname", model.NewMetaString("yumi", model.UserMetaAnonymous)))
	require.NoError(t, s.SetUserMeta(ctx, user, "level", model.NewMetaNumber(42, model.UserMetaUser)))

	metas, err := s.GetUserMetas(ctx, user)
	require.NoError(t, err)
	require.Contains(t, metas, "nickname")
	assert.Equal(t, "yumi", metas["nickname"].Value())
	assert.Equal(t, float64(42), metas["level"].Value())

	require.NoError(t, s.RemoveUserMeta(ctx, user, "nickname"))
	metas, err = s.GetUserMetas(ctx, user)
	require.NoError(t, err)
	assert.NotContains(t, metas, "nickname")
}

func TestStore_CreateRoomTx(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	owner := model.NewUserId()
	require.NoError(t, s.CreateUser(ctx, model.User{Id: owner, CreatedAt: time.Now().UTC(), LastLoginAt: time.Now().UTC()}))

	room := model.Room{
		Id:        model.NewRoomId(),
		Name:      "lobby",
		Access:    model.RoomPublic,
		Tags:      []string{"casual"},
		CreatedAt: time.Now().UTC(),
	}
	metas := map[string]model.MetaType[model.RoomMetaAccess]{
		"motd": model.NewMetaString("welcome", model.RoomMetaAnonymous),
	}
	require.NoError(t, s.CreateRoomTx(ctx, room, owner, metas))

	found, err := s.FindRoomById(ctx, room.Id)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "lobby", found.Name)
	assert.Equal(t, []string{"casual"}, found.Tags)

	roomMetas, err := s.GetRoomMetas(ctx, room.Id)
	require.NoError(t, err)
	assert.Equal(t, "welcome", roomMetas["motd"].Value())
}

func TestStore_BanUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	owner := model.NewUserId()
	user := model.NewUserId()
	require.NoError(t, s.CreateUser(ctx, model.User{Id: owner, CreatedAt: time.Now().UTC(), LastLoginAt: time.Now().UTC()}))
	require.NoError(t, s.CreateUser(ctx, model.User{Id: user, CreatedAt: time.Now().UTC(), LastLoginAt: time.Now().UTC()}))
	room := model.Room{Id: model.NewRoomId(), CreatedAt: time.Now().UTC()}
	require.NoError(t, s.CreateRoomTx(ctx, room, owner, nil))

	banned, err := s.IsBanned(ctx, room.Id, user)
	require.NoError(t, err)
	assert.False(t, banned)

	require.NoError(t, s.BanUser(ctx, room.Id, user))

	banned, err = s.IsBanned(ctx, room.Id, user)
	require.NoError(t, err)
	assert.True(t, banned)
}
