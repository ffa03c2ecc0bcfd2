// Package room implements the Room Coordinator: room lifecycle,
// membership, role-gated moderation, and the fan-out discipline that turns
// a membership mutation into one SendMessage per affected recipient.
package room

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/yummyhq/yummy/internal/v1/model"
	"github.com/yummyhq/yummy/internal/v1/persistence"
	"github.com/yummyhq/yummy/internal/v1/state"
	"github.com/yummyhq/yummy/internal/v1/tracing"
	"github.com/yummyhq/yummy/internal/v1/yerrors"
)

// CreateParams describes a Create request. MetaAccess of each given meta is
// validated against the caller's role by the caller of this package (the
// transport-level handler authenticates the caller and knows their type);
// the coordinator itself only enforces room-scoped role checks.
type CreateParams struct {
	Name                    string
	Description             string
	Access                  model.RoomAccessType
	MaxUsers                int
	JoinRequestable         bool
	Tags                    []string
	Meta                    map[string]model.MetaType[model.RoomMetaAccess]
	DisconnectFromOtherRoom bool
}

// UpdateParams describes an Update request. Nil pointers mean "field not
// given"; at least one of the non-meta fields or a non-empty Meta must be
// set, else UpdateInformationMissing.
type UpdateParams struct {
	Name            *string
	Description     *string
	Access          *model.RoomAccessType
	MaxUsers        *int
	JoinRequestable *bool
	Tags            []string
	Meta            map[string]model.MetaType[model.RoomMetaAccess]
	MetaAction      model.MetaAction
	MaxRoomMeta     int
}

// Coordinator is the Room actor. Update and the internal disconnect step
// hold a per-room mutex (looked up in roomLocks under registryMu) for their
// duration; the other methods take no coordinator lock and rely on the
// Store's own synchronization, so calls on the same room can interleave.
type Coordinator struct {
	registryMu sync.Mutex
	roomLocks  map[model.RoomId]*sync.Mutex

	store      state.Store
	persist    *persistence.Store
	dispatcher Dispatcher
}

// New builds a Room Coordinator.
func New(store state.Store, persist *persistence.Store, dispatcher Dispatcher) *Coordinator {
	return &Coordinator{
		roomLocks:  make(map[model.RoomId]*sync.Mutex),
		store:      store,
		persist:    persist,
		dispatcher: dispatcher,
	}
}

func (c *Coordinator) lockFor(room model.RoomId) *sync.Mutex {
	c.registryMu.Lock()
	defer c.registryMu.Unlock()
	m, ok := c.roomLocks[room]
	if !ok {
		m = &sync.Mutex{}
		c.roomLocks[room] = m
	}
	return m
}

func (c *Coordinator) fanOut(users []model.UserId, exclude model.UserId, event Event) {
	for _, u := range users {
		if u == exclude {
			continue
		}
		if err := c.dispatcher.SendMessage(u, event); err != nil {
			continue // best-effort; Connection Manager already logs delivery failure
		}
	}
}

// Create creates a room and joins its owner in one step.
func (c *Coordinator) Create(ctx context.Context, caller model.UserId, p CreateParams) (model.RoomId, error) {
	ctx, span := tracing.Start(ctx, "room.Create")
	defer span.End()

	if existingRoom, ok, err := c.store.GetUserRoom(ctx, caller); err != nil {
		return model.NilRoomId, err
	} else if ok {
		if !p.DisconnectFromOtherRoom {
			return model.NilRoomId, yerrors.New(yerrors.UserJoinedOtherRoom)
		}
		if _, err := c.disconnectFromRoom(ctx, existingRoom, caller); err != nil {
			return model.NilRoomId, err
		}
	}

	room := model.Room{
		Id:              model.NewRoomId(),
		Name:            p.Name,
		Description:     p.Description,
		Access:          p.Access,
		MaxUsers:        p.MaxUsers,
		JoinRequestable: p.JoinRequestable,
		Tags:            p.Tags,
		CreatedAt:       time.Now().UTC(),
	}

	if err := c.persist.CreateRoomTx(ctx, room, caller, p.Meta); err != nil {
		return model.NilRoomId, fmt.Errorf("room: persist create: %w", err)
	}

	if err := c.store.CreateRoom(ctx, room); err != nil {
		return model.NilRoomId, err
	}
	if err := c.store.JoinToRoom(ctx, room.Id, caller, model.RoomUserTypeOwner); err != nil {
		return model.NilRoomId, err
	}
	if err := c.store.SetUserRoom(ctx, caller, room.Id); err != nil {
		return model.NilRoomId, err
	}
	for key, value := range p.Meta {
		if err := c.store.SetRoomMeta(ctx, room.Id, key, value); err != nil {
			return model.NilRoomId, err
		}
	}

	return room.Id, nil
}

// Update applies a role-gated meta change to a room. The transport handler
// checks the caller's role first (Moderator-or-higher for any update, Owner
// for Access and MaxUsers); Update itself enforces the meta-access ceiling
// and the meta-count limit. Name, Description, Access, MaxUsers,
// JoinRequestable and Tags count as something to update but are not
// written anywhere; only the metas change, and only in State.
func (c *Coordinator) Update(ctx context.Context, room model.RoomId, callerRole model.RoomUserType, p UpdateParams) error {
	ctx, span := tracing.Start(ctx, "room.Update")
	defer span.End()

	lock := c.lockFor(room)
	lock.Lock()
	defer lock.Unlock()

	hasShapeChange := p.Name != nil || p.Description != nil || p.Access != nil || p.MaxUsers != nil || p.JoinRequestable != nil || p.Tags != nil
	if !hasShapeChange && len(p.Meta) == 0 {
		return yerrors.New(yerrors.UpdateInformationMissing)
	}

	for key, value := range p.Meta {
		if roomAccessCeiling(callerRole) < value.Access() {
			return yerrors.WithKey(yerrors.MetaAccessLevelCannotBeBiggerThanUsersAccessLevel, key)
		}
	}

	existing, err := c.store.GetRoomMeta(ctx, room, model.RoomMetaSystem)
	if err != nil {
		return err
	}

	ceiling := roomAccessCeiling(callerRole)
	switch p.MetaAction {
	case model.RemoveAllMetas:
		for key, value := range existing {
			if value.Access() <= ceiling {
				if err := c.store.RemoveRoomMeta(ctx, room, key); err != nil {
					return err
				}
			}
		}
		existing = map[string]model.MetaType[model.RoomMetaAccess]{}
	case model.RemoveUnusedMetas:
		for key, value := range existing {
			if _, keep := p.Meta[key]; !keep && value.Access() <= ceiling {
				if err := c.store.RemoveRoomMeta(ctx, room, key); err != nil {
					return err
				}
				delete(existing, key)
			}
		}
	}

	if p.MetaAction == model.RemoveAllMetas {
		return nil
	}

	finalCount := len(existing)
	for key := range p.Meta {
		if _, already := existing[key]; !already {
			finalCount++
		}
	}
	if p.MaxRoomMeta > 0 && finalCount > p.MaxRoomMeta {
		return yerrors.New(yerrors.MetaLimitOverToMaximum)
	}

	for key, value := range p.Meta {
		if err := c.store.SetRoomMeta(ctx, room, key, value); err != nil {
			return err
		}
	}

	return nil
}

func roomAccessCeiling(role model.RoomUserType) model.RoomMetaAccess {
	switch role {
	case model.RoomUserTypeOwner:
		return model.RoomMetaOwner
	case model.RoomUserTypeModerator:
		return model.RoomMetaModerator
	default:
		return model.RoomMetaUser
	}
}

// Join admits caller to room, or queues them as a join request when the
// room requires approval.
func (c *Coordinator) Join(ctx context.Context, caller model.UserId, room model.RoomId, role model.RoomUserType) (Event, error) {
	ctx, span := tracing.Start(ctx, "room.Join")
	defer span.End()

	if banned, err := c.store.IsBanned(ctx, room, caller); err != nil {
		return Event{}, err
	} else if banned {
		return Event{}, yerrors.New(yerrors.BannedFromRoom)
	}

	if existingRoom, ok, err := c.store.GetUserRoom(ctx, caller); err != nil {
		return Event{}, err
	} else if ok {
		if _, err := c.disconnectFromRoom(ctx, existingRoom, caller); err != nil {
			return Event{}, err
		}
	}

	info, err := c.store.GetRoomInfo(ctx, room, []state.RoomField{state.RoomFieldJoinRequestable, state.RoomFieldName})
	if err != nil {
		return Event{}, err
	}
	joinRequestable, _ := info[state.RoomFieldJoinRequestable].(bool)
	roomName, _ := info[state.RoomFieldName].(string)

	if joinRequestable {
		if err := c.store.PushJoinRequest(ctx, room, caller, role); err != nil {
			return Event{}, err
		}
		moderators, err := c.moderatorsOf(ctx, room)
		if err != nil {
			return Event{}, err
		}
		c.fanOut(moderators, model.NilUserId, NewJoinRequest(room, caller, role))
		return JoinRequested(room), nil
	}

	members, err := c.store.GetUsersFromRoom(ctx, room)
	if err != nil {
		return Event{}, err
	}
	if err := c.store.JoinToRoom(ctx, room, caller, role); err != nil {
		return Event{}, err
	}
	metas, err := c.store.GetRoomMeta(ctx, room, model.RoomMetaUser)
	if err != nil {
		return Event{}, err
	}

	c.fanOut(members, model.NilUserId, UserJoinedToRoom(caller, room))
	allMembers := append(append([]model.UserId{}, members...), caller)
	return Joined(room, roomName, allMembers, metas), nil
}

func (c *Coordinator) moderatorsOf(ctx context.Context, room model.RoomId) ([]model.UserId, error) {
	members, err := c.store.GetUsersFromRoom(ctx, room)
	if err != nil {
		return nil, err
	}
	var out []model.UserId
	for _, u := range members {
		role, ok, err := c.store.GetUserRoleInRoom(ctx, room, u)
		if err != nil {
			return nil, err
		}
		if ok && role.AtLeast(model.RoomUserTypeModerator) {
			out = append(out, u)
		}
	}
	return out, nil
}

// ProcessWaitingUser accepts or declines a pending join request.
func (c *Coordinator) ProcessWaitingUser(ctx context.Context, room model.RoomId, callerRole model.RoomUserType, requester model.UserId, accept bool) error {
	ctx, span := tracing.Start(ctx, "room.ProcessWaitingUser")
	defer span.End()

	if !callerRole.AtLeast(model.RoomUserTypeModerator) {
		return yerrors.New(yerrors.UserDoesNotHaveEnoughPermission)
	}

	requests, err := c.store.GetJoinRequests(ctx, room)
	if err != nil {
		return err
	}
	role, ok := requests[requester]
	if !ok {
		return yerrors.New(yerrors.UserNotInTheRoom)
	}

	if err := c.store.ResolveJoinRequest(ctx, room, requester); err != nil {
		return err
	}

	if !accept {
		c.fanOut([]model.UserId{requester}, model.NilUserId, JoinRequestDeclined(room))
		return nil
	}

	members, err := c.store.GetUsersFromRoom(ctx, room)
	if err != nil {
		return err
	}
	if err := c.store.JoinToRoom(ctx, room, requester, role); err != nil {
		return err
	}
	info, err := c.store.GetRoomInfo(ctx, room, []state.RoomField{state.RoomFieldName})
	if err != nil {
		return err
	}
	roomName, _ := info[state.RoomFieldName].(string)
	metas, err := c.store.GetRoomMeta(ctx, room, model.RoomMetaUser)
	if err != nil {
		return err
	}

	c.fanOut(members, model.NilUserId, UserJoinedToRoom(requester, room))
	allMembers := append(append([]model.UserId{}, members...), requester)
	c.fanOut([]model.UserId{requester}, model.NilUserId, Joined(room, roomName, allMembers, metas))
	return nil
}

// KickOrBan removes target from room, optionally barring them from rejoining.
func (c *Coordinator) KickOrBan(ctx context.Context, room model.RoomId, caller model.UserId, callerRole model.RoomUserType, target model.UserId, ban bool) error {
	ctx, span := tracing.Start(ctx, "room.KickOrBan")
	defer span.End()

	if caller != target {
		targetRole, ok, err := c.store.GetUserRoleInRoom(ctx, room, target)
		if err != nil {
			return err
		}
		if !ok {
			return yerrors.New(yerrors.UserCouldNotFoundInRoom)
		}
		if !callerRole.AtLeast(model.RoomUserTypeModerator) || callerRole <= targetRole {
			return yerrors.New(yerrors.UserDoesNotHaveEnoughPermission)
		}
	}

	if ban {
		if err := c.store.BanUser(ctx, room, target); err != nil {
			return err
		}
		if err := c.persist.BanUser(ctx, room, target); err != nil {
			return err
		}
	}

	roomRemoved, err := c.disconnectFromRoom(ctx, room, target)
	if err != nil {
		return err
	}

	c.fanOut([]model.UserId{target}, model.NilUserId, DisconnectedFromRoom(room))
	if !roomRemoved {
		remaining, err := c.store.GetUsersFromRoom(ctx, room)
		if err == nil {
			c.fanOut(remaining, model.NilUserId, UserDisconnectedFromRoom(target, room))
		}
	}
	return nil
}

// Disconnect is the caller's own explicit leave.
func (c *Coordinator) Disconnect(ctx context.Context, caller model.UserId, room model.RoomId) error {
	ctx, span := tracing.Start(ctx, "room.Disconnect")
	defer span.End()

	roomRemoved, err := c.disconnectFromRoom(ctx, room, caller)
	if err != nil {
		return err
	}
	c.fanOut([]model.UserId{caller}, model.NilUserId, DisconnectedFromRoom(room))
	if !roomRemoved {
		remaining, err := c.store.GetUsersFromRoom(ctx, room)
		if err == nil {
			c.fanOut(remaining, model.NilUserId, UserDisconnectedFromRoom(caller, room))
		}
	}
	return nil
}

// disconnectFromRoom removes the membership in State and reports whether
// the room is now empty.
func (c *Coordinator) disconnectFromRoom(ctx context.Context, room model.RoomId, user model.UserId) (bool, error) {
	lock := c.lockFor(room)
	lock.Lock()
	defer lock.Unlock()

	removed, err := c.store.DisconnectFromRoom(ctx, room, user)
	if err != nil {
		return false, err
	}
	return removed, nil
}

// Message fans a free-form payload out to every other room member.
func (c *Coordinator) Message(ctx context.Context, sender model.UserId, room model.RoomId, message any) error {
	ctx, span := tracing.Start(ctx, "room.Message")
	defer span.End()

	members, err := c.store.GetUsersFromRoom(ctx, room)
	if err != nil {
		return err
	}
	senderID := sender
	c.fanOut(members, sender, MessageFromRoom(&senderID, room, message))
	return nil
}

// PlayEvent is identical framing to Message with a
// distinct response type for gameplay events clients may filter on.
func (c *Coordinator) PlayEvent(ctx context.Context, sender model.UserId, room model.RoomId, message any) error {
	ctx, span := tracing.Start(ctx, "room.PlayEvent")
	defer span.End()

	members, err := c.store.GetUsersFromRoom(ctx, room)
	if err != nil {
		return err
	}
	senderID := sender
	c.fanOut(members, sender, Play(&senderID, room, message))
	return nil
}

// List returns rooms matching tag, projecting only the requested fields.
func (c *Coordinator) List(ctx context.Context, tag string, fields []state.RoomField) ([]map[state.RoomField]any, error) {
	ctx, span := tracing.Start(ctx, "room.List")
	defer span.End()
	return c.store.GetRooms(ctx, tag, fields)
}

// GetRoom projects the requested fields of a single room.
func (c *Coordinator) GetRoom(ctx context.Context, room model.RoomId, fields []state.RoomField) (map[state.RoomField]any, error) {
	ctx, span := tracing.Start(ctx, "room.GetRoom")
	defer span.End()
	return c.store.GetRoomInfo(ctx, room, fields)
}
