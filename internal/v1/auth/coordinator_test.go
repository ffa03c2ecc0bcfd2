package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yummyhq/yummy/internal/v1/model"
	"github.com/yummyhq/yummy/internal/v1/persistence"
	"github.com/yummyhq/yummy/internal/v1/state"
)

func newTestCoordinator(t *testing.T) *Coordinator {
	store := state.NewMemoryStore()
	persist, err := persistence.Open("file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = persist.Close() })

	tokens := NewTokenManager("test-salt-key-0123456789", time.Hour)
	return New(tokens, store, persist, "server-a", 30*time.Second)
}

func TestCoordinator_Email_CreatesAndAuthenticates(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()

	_, err := c.Email(ctx, "a@example.com", "hunter2", false)
	assert.Error(t, err, "expected EmailOrPasswordNotValid for unknown email without create flag")

	result, err := c.Email(ctx, "a@example.com", "hunter2", true)
	require.NoError(t, err)
	assert.NotEmpty(t, result.Token)
	assert.Equal(t, "a@example.com", result.Claims.Email)

	result2, err := c.Email(ctx, "a@example.com", "hunter2", false)
	require.NoError(t, err)
	assert.Equal(t, result.Claims.UserID, result2.Claims.UserID)

	_, err = c.Email(ctx, "a@example.com", "wrong-password", false)
	assert.Error(t, err)
}

func TestCoordinator_DeviceId_IsIdempotent(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()

	first, err := c.DeviceId(ctx, "device-123")
	require.NoError(t, err)

	second, err := c.DeviceId(ctx, "device-123")
	require.NoError(t, err)

	assert.Equal(t, first.Claims.UserID, second.Claims.UserID)
}

func TestCoordinator_RefreshAndRestore(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()

	result, err := c.DeviceId(ctx, "device-456")
	require.NoError(t, err)

	refreshed, err := c.Refresh(ctx, result.Token)
	require.NoError(t, err)
	assert.Equal(t, result.Claims.SessionID, refreshed.Claims.SessionID)

	restored, err := c.Restore(ctx, refreshed.Token)
	require.NoError(t, err)
	assert.Equal(t, refreshed.Claims.SessionID, restored.Claims.SessionID)
}

func TestCoordinator_Restore_MintsFreshSessionWhenClosed(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()

	result, err := c.DeviceId(ctx, "device-789")
	require.NoError(t, err)

	require.NoError(t, c.Logout(ctx, result.Claims))

	restored, err := c.Restore(ctx, result.Token)
	require.NoError(t, err)
	assert.NotEqual(t, result.Claims.SessionID, restored.Claims.SessionID)
}

func TestCoordinator_DisconnectGraceWindow_CancelledByRestore(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()

	result, err := c.DeviceId(ctx, "device-grace")
	require.NoError(t, err)

	fired := make(chan struct{}, 1)
	c.graceWait = 50 * time.Millisecond
	c.StartUserTimeout(model.SessionId(result.Claims.SessionID), func() { fired <- struct{}{} })
	c.StopUserTimeout(model.SessionId(result.Claims.SessionID))

	select {
	case <-fired:
		t.Fatal("timer should have been cancelled")
	case <-time.After(100 * time.Millisecond):
	}
}
