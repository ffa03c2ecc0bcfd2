// Package connection implements the Connection Manager: the
// process-local registry of user-id to client sink, and the local-vs-
// published routing that makes SendMessage work across instances.
package connection

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/yummyhq/yummy/internal/v1/bus"
	"github.com/yummyhq/yummy/internal/v1/model"
	"github.com/yummyhq/yummy/internal/v1/room"
	"github.com/yummyhq/yummy/internal/v1/state"
)

// Sink is anything that can accept one outbound event for its client,
// best-effort. The WebSocket client in package transport is the concrete
// implementation; tests use a channel-backed fake.
type Sink interface {
	Send(event room.Event) error
}

// Manager holds every locally-connected client sink and routes SendMessage
// events either straight to a local sink or onto the shared bus for the
// instance that currently holds the recipient.
type Manager struct {
	mu    sync.RWMutex
	local map[model.UserId]Sink

	store    state.Store
	bus      *bus.Service
	serverID string
}

// New builds a Connection Manager. bus may be nil in single-instance mode,
// in which case every SendMessage to a non-local user is dropped.
func New(store state.Store, svc *bus.Service, serverID string) *Manager {
	return &Manager{
		local:    make(map[model.UserId]Sink),
		store:    store,
		bus:      svc,
		serverID: serverID,
	}
}

// UserConnected registers user's local sink, overwriting any prior one for
// the same user (a reconnect on this instance).
func (m *Manager) UserConnected(ctx context.Context, user model.UserId, sink Sink) {
	m.mu.Lock()
	m.local[user] = sink
	m.mu.Unlock()
}

// UserDisconnectRequest removes user's local sink, if it is still the one
// given (avoids a race where a newer connection already replaced it).
func (m *Manager) UserDisconnectRequest(ctx context.Context, user model.UserId, sink Sink) {
	m.mu.Lock()
	if current, ok := m.local[user]; ok && current == sink {
		delete(m.local, user)
	}
	m.mu.Unlock()
}

// SendMessage implements room.Dispatcher: deliver to a local sink directly,
// else publish to whichever instance holds the user's location, else drop.
func (m *Manager) SendMessage(user model.UserId, event room.Event) error {
	m.mu.RLock()
	sink, local := m.local[user]
	m.mu.RUnlock()

	if local {
		return sink.Send(event)
	}

	ctx := context.Background()
	serverID, ok, err := m.store.GetUserLocation(ctx, user)
	if err != nil {
		slog.Error("connection: lookup user location failed", "user", user, "error", err)
		return err
	}
	if !ok {
		slog.Debug("connection: dropping message, no known location", "user", user)
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return m.bus.PublishSendMessage(ctx, serverID, user.String(), payload)
}

// Subscribe starts listening on this instance's bus channel, re-dispatching
// every received SendMessage locally. Call once at startup.
func (m *Manager) Subscribe(ctx context.Context, wg *sync.WaitGroup) {
	if m.bus == nil {
		return
	}
	m.bus.Subscribe(ctx, m.serverID, wg, func(payload bus.SendMessagePayload) {
		m.mu.RLock()
		sink, ok := m.local[model.UserId(payload.ToUserID)]
		m.mu.RUnlock()
		if !ok {
			slog.Debug("connection: dropping relayed message, recipient left", "user", payload.ToUserID)
			return
		}
		if err := sink.Send(room.Event{RawPayload: payload.Message}); err != nil {
			slog.Debug("connection: local sink rejected relayed message", "user", payload.ToUserID, "error", err)
		}
	})
}

var _ room.Dispatcher = (*Manager)(nil)
