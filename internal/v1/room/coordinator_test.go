package room

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yummyhq/yummy/internal/v1/model"
	"github.com/yummyhq/yummy/internal/v1/persistence"
	"github.com/yummyhq/yummy/internal/v1/state"
	"github.com/yummyhq/yummy/internal/v1/yerrors"
)

type recordingDispatcher struct {
	mu   sync.Mutex
	sent map[model.UserId][]Event
}

func newRecordingDispatcher() *recordingDispatcher {
	return &recordingDispatcher{sent: make(map[model.UserId][]Event)}
}

func (d *recordingDispatcher) SendMessage(userID model.UserId, event Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent[userID] = append(d.sent[userID], event)
	return nil
}

func newTestCoordinator(t *testing.T) (*Coordinator, *recordingDispatcher) {
	store := state.NewMemoryStore()
	persist, err := persistence.Open("file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = persist.Close() })

	dispatcher := newRecordingDispatcher()
	return New(store, persist, dispatcher), dispatcher
}

func createTestUser(t *testing.T, c *Coordinator) model.UserId {
	t.Helper()
	id := model.NewUserId()
	require.NoError(t, c.persist.CreateUser(context.Background(), model.User{
		Id: id, CreatedAt: time.Now().UTC(), LastLoginAt: time.Now().UTC(),
	}))
	return id
}

func TestCoordinator_Create_MakesCallerOwner(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()
	owner := createTestUser(t, c)

	roomID, err := c.Create(ctx, owner, CreateParams{Name: "lobby", Access: model.RoomPublic})
	require.NoError(t, err)

	role, ok, err := c.store.GetUserRoleInRoom(ctx, roomID, owner)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, model.RoomUserTypeOwner, role)
}

func TestCoordinator_Create_AlreadyInRoom(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()
	owner := createTestUser(t, c)

	_, err := c.Create(ctx, owner, CreateParams{Name: "lobby"})
	require.NoError(t, err)

	_, err = c.Create(ctx, owner, CreateParams{Name: "second"})
	assert.True(t, err == yerrors.New(yerrors.UserJoinedOtherRoom) || errorIs(err, yerrors.UserJoinedOtherRoom))
}

func errorIs(err error, code yerrors.Code) bool {
	ye, ok := err.(*yerrors.Error)
	return ok && ye.Code == code
}

func TestCoordinator_Join_OpenRoom_FansOutToExistingMembers(t *testing.T) {
	c, dispatcher := newTestCoordinator(t)
	ctx := context.Background()
	owner := createTestUser(t, c)
	joiner := createTestUser(t, c)

	roomID, err := c.Create(ctx, owner, CreateParams{Name: "lobby", Access: model.RoomPublic})
	require.NoError(t, err)

	event, err := c.Join(ctx, joiner, roomID, model.RoomUserTypeUser)
	require.NoError(t, err)
	assert.Equal(t, "Joined", event.Type)

	dispatcher.mu.Lock()
	defer dispatcher.mu.Unlock()
	require.Len(t, dispatcher.sent[owner], 1)
	assert.Equal(t, "UserJoinedToRoom", dispatcher.sent[owner][0].Type)
}

func TestCoordinator_Join_Banned(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()
	owner := createTestUser(t, c)
	banned := createTestUser(t, c)

	roomID, err := c.Create(ctx, owner, CreateParams{Name: "lobby"})
	require.NoError(t, err)
	require.NoError(t, c.store.BanUser(ctx, roomID, banned))

	_, err = c.Join(ctx, banned, roomID, model.RoomUserTypeUser)
	assert.True(t, errorIs(err, yerrors.BannedFromRoom))
}

func TestCoordinator_Join_RequestableRoom_NotifiesModerators(t *testing.T) {
	c, dispatcher := newTestCoordinator(t)
	ctx := context.Background()
	owner := createTestUser(t, c)
	joiner := createTestUser(t, c)

	roomID, err := c.Create(ctx, owner, CreateParams{Name: "lobby", JoinRequestable: true})
	require.NoError(t, err)

	event, err := c.Join(ctx, joiner, roomID, model.RoomUserTypeUser)
	require.NoError(t, err)
	assert.Equal(t, "JoinRequested", event.Type)

	dispatcher.mu.Lock()
	defer dispatcher.mu.Unlock()
	require.Len(t, dispatcher.sent[owner], 1)
	assert.Equal(t, "NewJoinRequest", dispatcher.sent[owner][0].Type)
}

func TestCoordinator_KickOrBan_RequiresHigherRole(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()
	owner := createTestUser(t, c)
	memberA := createTestUser(t, c)
	memberB := createTestUser(t, c)

	roomID, err := c.Create(ctx, owner, CreateParams{Name: "lobby", Access: model.RoomPublic})
	require.NoError(t, err)
	_, err = c.Join(ctx, memberA, roomID, model.RoomUserTypeUser)
	require.NoError(t, err)
	_, err = c.Join(ctx, memberB, roomID, model.RoomUserTypeUser)
	require.NoError(t, err)

	err = c.KickOrBan(ctx, roomID, memberA, model.RoomUserTypeUser, memberB, false)
	assert.True(t, errorIs(err, yerrors.UserDoesNotHaveEnoughPermission))

	require.NoError(t, c.KickOrBan(ctx, roomID, owner, model.RoomUserTypeOwner, memberB, false))
	_, ok, err := c.store.GetUserRoleInRoom(ctx, roomID, memberB)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCoordinator_Message_ExcludesSender(t *testing.T) {
	c, dispatcher := newTestCoordinator(t)
	ctx := context.Background()
	owner := createTestUser(t, c)
	member := createTestUser(t, c)

	roomID, err := c.Create(ctx, owner, CreateParams{Name: "lobby", Access: model.RoomPublic})
	require.NoError(t, err)
	_, err = c.Join(ctx, member, roomID, model.RoomUserTypeUser)
	require.NoError(t, err)

	require.NoError(t, c.Message(ctx, owner, roomID, map[string]string{"hi": "there"}))

	dispatcher.mu.Lock()
	defer dispatcher.mu.Unlock()
	assert.Empty(t, dispatcher.sent[owner])
	require.Len(t, dispatcher.sent[member], 1)
	assert.Equal(t, "MessageFromRoom", dispatcher.sent[member][0].Type)
}

func TestCoordinator_Disconnect_ReportsRoomRemoved(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()
	owner := createTestUser(t, c)

	roomID, err := c.Create(ctx, owner, CreateParams{Name: "lobby"})
	require.NoError(t, err)

	require.NoError(t, c.Disconnect(ctx, owner, roomID))

	_, ok, err := c.store.GetUserRoom(ctx, owner)
	require.NoError(t, err)
	assert.False(t, ok)
}
