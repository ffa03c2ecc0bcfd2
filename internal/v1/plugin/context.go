package plugin

import (
	"context"

	"github.com/yummyhq/yummy/internal/v1/model"
	"github.com/yummyhq/yummy/internal/v1/room"
	"github.com/yummyhq/yummy/internal/v1/state"
)

// Context is the handle scripts and native plugins use to read/mutate meta
// state and emit system-sent room messages, without reaching into the
// coordinators directly.
type Context struct {
	store      state.Store
	dispatcher room.Dispatcher
}

// NewContext builds a plugin Context over the shared State store and the
// Connection Manager's Dispatcher.
func NewContext(store state.Store, dispatcher room.Dispatcher) *Context {
	return &Context{store: store, dispatcher: dispatcher}
}

func (c *Context) GetUserMeta(ctx context.Context, user model.UserId, key string) (model.MetaType[model.UserMetaAccess], bool, error) {
	metas, err := c.store.GetUserMeta(ctx, user, model.UserMetaSystem)
	if err != nil {
		return model.MetaType[model.UserMetaAccess]{}, false, err
	}
	v, ok := metas[key]
	return v, ok, nil
}

func (c *Context) SetUserMeta(ctx context.Context, user model.UserId, key string, value model.MetaType[model.UserMetaAccess]) error {
	return c.store.SetUserMeta(ctx, user, key, value)
}

func (c *Context) RemoveUserMeta(ctx context.Context, user model.UserId, key string) error {
	return c.store.RemoveUserMeta(ctx, user, key)
}

func (c *Context) RemoveAllUserMetas(ctx context.Context, user model.UserId) error {
	return c.store.RemoveAllUserMetas(ctx, user)
}

func (c *Context) GetRoomMeta(ctx context.Context, r model.RoomId, key string) (model.MetaType[model.RoomMetaAccess], bool, error) {
	metas, err := c.store.GetRoomMeta(ctx, r, model.RoomMetaSystem)
	if err != nil {
		return model.MetaType[model.RoomMetaAccess]{}, false, err
	}
	v, ok := metas[key]
	return v, ok, nil
}

func (c *Context) SetRoomMeta(ctx context.Context, r model.RoomId, key string, value model.MetaType[model.RoomMetaAccess]) error {
	return c.store.SetRoomMeta(ctx, r, key, value)
}

func (c *Context) RemoveRoomMeta(ctx context.Context, r model.RoomId, key string) error {
	return c.store.RemoveRoomMeta(ctx, r, key)
}

func (c *Context) RemoveAllRoomMetas(ctx context.Context, r model.RoomId) error {
	return c.store.RemoveAllRoomMetas(ctx, r)
}

// MessageToRoom synthesizes a system-sent MessageFromRoom event (User=nil)
// to every current member of r.
func (c *Context) MessageToRoom(ctx context.Context, r model.RoomId, value any) error {
	members, err := c.store.GetUsersFromRoom(ctx, r)
	if err != nil {
		return err
	}
	event := room.MessageFromRoom(nil, r, value)
	for _, member := range members {
		_ = c.dispatcher.SendMessage(member, event)
	}
	return nil
}

// MessageToRoomUser synthesizes a system-sent MessageFromRoom event to one
// member of r, regardless of whether the store still lists them as one.
func (c *Context) MessageToRoomUser(ctx context.Context, r model.RoomId, user model.UserId, value any) error {
	return c.dispatcher.SendMessage(user, room.MessageFromRoom(nil, r, value))
}
