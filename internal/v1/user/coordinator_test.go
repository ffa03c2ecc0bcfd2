package user

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yummyhq/yummy/internal/v1/model"
	"github.com/yummyhq/yummy/internal/v1/persistence"
	"github.com/yummyhq/yummy/internal/v1/state"
	"github.com/yummyhq/yummy/internal/v1/yerrors"
)

func newTestCoordinator(t *testing.T) *Coordinator {
	store := state.NewMemoryStore()
	persist, err := persistence.Open("file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = persist.Close() })
	return New(store, persist, 5)
}

func seedUser(t *testing.T, c *Coordinator, name string) model.UserId {
	t.Helper()
	id := model.NewUserId()
	now := time.Now().UTC()
	require.NoError(t, c.persist.CreateUser(context.Background(), model.User{
		Id: id, Name: name, CreatedAt: now, LastLoginAt: now,
	}))
	require.NoError(t, c.store.UpdateUserInformation(context.Background(), id, state.UserInfoSnapshot{Id: id, Name: name}))
	return id
}

func TestCoordinator_Update_NoFieldsGiven(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()
	u := seedUser(t, c, "alice")

	err := c.Update(ctx, u, UpdateParams{})
	ye, ok := err.(*yerrors.Error)
	require.True(t, ok)
	assert.Equal(t, yerrors.UpdateInformationMissing, ye.Code)
}

func TestCoordinator_Update_NameChangesProfile(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()
	u := seedUser(t, c, "alice")

	newName := "alicia"
	require.NoError(t, c.Update(ctx, u, UpdateParams{Name: &newName}))

	info, err := c.GetMe(ctx, u)
	require.NoError(t, err)
	assert.Equal(t, "alicia", info.Name)
}

func TestCoordinator_Update_EmailImmutableOnceSet(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()
	u := seedUser(t, c, "alice")

	first := "a@example.com"
	require.NoError(t, c.Update(ctx, u, UpdateParams{Email: &first}))

	second := "b@example.com"
	err := c.Update(ctx, u, UpdateParams{Email: &second})
	ye, ok := err.(*yerrors.Error)
	require.True(t, ok)
	assert.Equal(t, yerrors.CannotChangeEmail, ye.Code)
}

func TestCoordinator_Update_PasswordTooShort(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()
	u := seedUser(t, c, "alice")

	short := "abc"
	err := c.Update(ctx, u, UpdateParams{Password: &short})
	ye, ok := err.(*yerrors.Error)
	require.True(t, ok)
	assert.Equal(t, yerrors.PasswordIsTooSmall, ye.Code)
}

func TestCoordinator_Update_MetaLimitEnforced(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()
	u := seedUser(t, c, "alice")

	meta := map[string]model.MetaType[model.UserMetaAccess]{}
	for i := 0; i < 10; i++ {
		meta[string(rune('a'+i))] = model.NewMetaNumber(float64(i), model.UserMetaMe)
	}

	err := c.Update(ctx, u, UpdateParams{Meta: meta})
	ye, ok := err.(*yerrors.Error)
	require.True(t, ok)
	assert.Equal(t, yerrors.MetaLimitOverToMaximum, ye.Code)
}

func TestCoordinator_Update_MetaRemoveAll(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()
	u := seedUser(t, c, "alice")

	meta := map[string]model.MetaType[model.UserMetaAccess]{
		"nickname": model.NewMetaString("al", model.UserMetaMe),
	}
	require.NoError(t, c.Update(ctx, u, UpdateParams{Meta: meta}))

	require.NoError(t, c.Update(ctx, u, UpdateParams{Meta: meta, MetaAction: model.RemoveAllMetas}))

	info, err := c.GetMe(ctx, u)
	require.NoError(t, err)
	assert.Empty(t, info.Metas)
}

func TestCoordinator_Get_AnonymousSeesLimitedAccess(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()
	u := seedUser(t, c, "alice")

	meta := map[string]model.MetaType[model.UserMetaAccess]{
		"private": model.NewMetaString("secret", model.UserMetaMe),
	}
	require.NoError(t, c.Update(ctx, u, UpdateParams{Meta: meta}))

	info, err := c.Get(ctx, u, model.NilUserId)
	require.NoError(t, err)
	assert.NotContains(t, info.Metas, "private")
}
