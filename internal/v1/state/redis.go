package state

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/yummyhq/yummy/internal/v1/bus"
	"github.com/yummyhq/yummy/internal/v1/model"
	"github.com/yummyhq/yummy/internal/v1/yerrors"
)

// RedisStore is a Store backed by a shared Redis instance, so every server
// instance observes the same sessions and room membership. It degrades
// gracefully under a broken circuit (see bus.Service): reads return
// not-found rather than blocking or erroring, matching MemoryStore's
// behavior when asked about state it has never seen.
type RedisStore struct {
	bus *bus.Service
}

// NewRedisStore wraps an already-connected bus.Service for state storage.
func NewRedisStore(b *bus.Service) *RedisStore {
	return &RedisStore{bus: b}
}

type sessionPayload struct {
	User     model.UserId `json:"user"`
	ServerID string       `json:"server_id"`
}

func (s *RedisStore) sessionsKey() string      { return s.bus.Key("sessions") }
func (s *RedisStore) locationsKey() string     { return s.bus.Key("locations") }
func (s *RedisStore) userTypesKey() string     { return s.bus.Key("user_types") }
func (s *RedisStore) userSnapshotKey() string  { return s.bus.Key("user_snapshots") }
func (s *RedisStore) userMetaKey(u model.UserId) string  { return s.bus.Key("user_meta", u.String()) }
func (s *RedisStore) userRoomsKey() string     { return s.bus.Key("user_rooms") }
func (s *RedisStore) roomsKey() string         { return s.bus.Key("rooms") }
func (s *RedisStore) roomMembersKey(r model.RoomId) string { return s.bus.Key("room_members", r.String()) }
func (s *RedisStore) roomMetaKey(r model.RoomId) string    { return s.bus.Key("room_meta", r.String()) }
func (s *RedisStore) roomBannedKey(r model.RoomId) string  { return s.bus.Key("room_banned", r.String()) }
func (s *RedisStore) roomWaitingKey(r model.RoomId) string { return s.bus.Key("room_waiting", r.String()) }

// --- Session API ---

func (s *RedisStore) NewSession(ctx context.Context, user model.UserId, serverID string, userType model.UserType) (model.SessionId, error) {
	session := model.NewSessionId()
	data, err := json.Marshal(sessionPayload{User: user, ServerID: serverID})
	if err != nil {
		return "", err
	}
	if err := s.bus.HashSet(ctx, s.sessionsKey(), session.String(), string(data)); err != nil {
		return "", err
	}
	if err := s.bus.HashSet(ctx, s.locationsKey(), user.String(), serverID); err != nil {
		return "", err
	}
	if err := s.bus.HashSet(ctx, s.userTypesKey(), user.String(), strconv.Itoa(int(userType))); err != nil {
		return "", err
	}
	return session, nil
}

func (s *RedisStore) CloseSession(ctx context.Context, user model.UserId, session model.SessionId) error {
	if err := s.bus.HashDel(ctx, s.sessionsKey(), session.String()); err != nil {
		return err
	}
	room, ok, err := s.GetUserRoom(ctx, user)
	if err != nil {
		return err
	}
	if ok {
		if _, err := s.DisconnectFromRoom(ctx, room, user); err != nil && !isYummyErr(err, yerrors.UserCouldNotFoundInRoom) {
			return err
		}
	}
	return nil
}

func (s *RedisStore) IsSessionOnline(ctx context.Context, session model.SessionId) (bool, error) {
	_, ok, err := s.bus.HashGet(ctx, s.sessionsKey(), session.String())
	return ok, err
}

func (s *RedisStore) GetUserLocation(ctx context.Context, user model.UserId) (string, bool, error) {
	return s.bus.HashGet(ctx, s.locationsKey(), user.String())
}

// --- User info cache ---

func (s *RedisStore) GetUserInformation(ctx context.Context, user model.UserId, accessLevel model.UserMetaAccess) (*UserInfoSnapshot, error) {
	raw, ok, err := s.bus.HashGet(ctx, s.userSnapshotKey(), user.String())
	if err != nil || !ok {
		return nil, err
	}
	var snap UserInfoSnapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, err
	}
	filtered := make(map[string]model.MetaType[model.UserMetaAccess])
	for k, v := range snap.Metas {
		if v.Access() <= accessLevel {
			filtered[k] = v
		}
	}
	snap.Metas = filtered
	return &snap, nil
}

func (s *RedisStore) UpdateUserInformation(ctx context.Context, user model.UserId, snapshot UserInfoSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return s.bus.HashSet(ctx, s.userSnapshotKey(), user.String(), string(data))
}

func (s *RedisStore) GetUserType(ctx context.Context, user model.UserId) (model.UserType, bool, error) {
	raw, ok, err := s.bus.HashGet(ctx, s.userTypesKey(), user.String())
	if err != nil || !ok {
		return 0, ok, err
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, err
	}
	return model.UserType(n), true, nil
}

func (s *RedisStore) SetUserType(ctx context.Context, user model.UserId, userType model.UserType) error {
	return s.bus.HashSet(ctx, s.userTypesKey(), user.String(), strconv.Itoa(int(userType)))
}

// --- User-meta API ---

func (s *RedisStore) GetUserMeta(ctx context.Context, user model.UserId, accessLevel model.UserMetaAccess) (map[string]model.MetaType[model.UserMetaAccess], error) {
	all, err := s.bus.HashGetAll(ctx, s.userMetaKey(user))
	if err != nil {
		return nil, err
	}
	out := make(map[string]model.MetaType[model.UserMetaAccess])
	for k, raw := range all {
		var v model.MetaType[model.UserMetaAccess]
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			continue
		}
		if v.Access() <= accessLevel {
			out[k] = v
		}
	}
	return out, nil
}

func (s *RedisStore) SetUserMeta(ctx context.Context, user model.UserId, key string, value model.MetaType[model.UserMetaAccess]) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.bus.HashSet(ctx, s.userMetaKey(user), key, string(data))
}

func (s *RedisStore) RemoveUserMeta(ctx context.Context, user model.UserId, key string) error {
	return s.bus.HashDel(ctx, s.userMetaKey(user), key)
}

func (s *RedisStore) RemoveAllUserMetas(ctx context.Context, user model.UserId) error {
	return s.bus.Del(ctx, s.userMetaKey(user))
}

// --- Room membership API ---

func (s *RedisStore) getRoom(ctx context.Context, room model.RoomId) (*model.Room, error) {
	raw, ok, err := s.bus.HashGet(ctx, s.roomsKey(), room.String())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var r model.Room
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *RedisStore) CreateRoom(ctx context.Context, room model.Room) error {
	data, err := json.Marshal(room)
	if err != nil {
		return err
	}
	return s.bus.HashSet(ctx, s.roomsKey(), room.Id.String(), string(data))
}

func (s *RedisStore) JoinToRoom(ctx context.Context, room model.RoomId, user model.UserId, role model.RoomUserType) error {
	r, err := s.getRoom(ctx, room)
	if err != nil {
		return err
	}
	if r == nil {
		return errRoomNotFound
	}
	if _, ok, err := s.GetUserRoleInRoom(ctx, room, user); err != nil {
		return err
	} else if ok {
		return errUserAlreadyInRoom
	}
	members, err := s.bus.HashGetAll(ctx, s.roomMembersKey(room))
	if err != nil {
		return err
	}
	if !r.HasCapacity(len(members)) {
		return errRoomHasMaxUsers
	}
	if err := s.bus.HashSet(ctx, s.roomMembersKey(room), user.String(), strconv.Itoa(int(role))); err != nil {
		return err
	}
	return s.SetUserRoom(ctx, user, room)
}

func (s *RedisStore) DisconnectFromRoom(ctx context.Context, room model.RoomId, user model.UserId) (bool, error) {
	if _, ok, err := s.bus.HashGet(ctx, s.roomMembersKey(room), user.String()); err != nil {
		return false, err
	} else if !ok {
		return false, errUserCouldNotBeFound
	}
	if err := s.bus.HashDel(ctx, s.roomMembersKey(room), user.String()); err != nil {
		return false, err
	}
	if err := s.bus.HashDel(ctx, s.userRoomsKey(), user.String()); err != nil {
		return false, err
	}
	members, err := s.bus.HashGetAll(ctx, s.roomMembersKey(room))
	if err != nil {
		return false, err
	}
	return len(members) == 0, nil
}

func (s *RedisStore) GetUsersFromRoom(ctx context.Context, room model.RoomId) ([]model.UserId, error) {
	r, err := s.getRoom(ctx, room)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, errRoomNotFound
	}
	members, err := s.bus.HashGetAll(ctx, s.roomMembersKey(room))
	if err != nil {
		return nil, err
	}
	out := make([]model.UserId, 0, len(members))
	for u := range members {
		out = append(out, model.UserId(u))
	}
	return out, nil
}

func (s *RedisStore) GetUserRoom(ctx context.Context, user model.UserId) (model.RoomId, bool, error) {
	raw, ok, err := s.bus.HashGet(ctx, s.userRoomsKey(), user.String())
	return model.RoomId(raw), ok, err
}

func (s *RedisStore) SetUserRoom(ctx context.Context, user model.UserId, room model.RoomId) error {
	return s.bus.HashSet(ctx, s.userRoomsKey(), user.String(), room.String())
}

func (s *RedisStore) GetUserRoleInRoom(ctx context.Context, room model.RoomId, user model.UserId) (model.RoomUserType, bool, error) {
	raw, ok, err := s.bus.HashGet(ctx, s.roomMembersKey(room), user.String())
	if err != nil || !ok {
		return 0, ok, err
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, err
	}
	return model.RoomUserType(n), true, nil
}

func (s *RedisStore) roomField(ctx context.Context, r *model.Room, members []model.UserId, metas map[string]model.MetaType[model.RoomMetaAccess], field RoomField) any {
	switch field {
	case RoomFieldId:
		return r.Id
	case RoomFieldName:
		return r.Name
	case RoomFieldDescription:
		return r.Description
	case RoomFieldAccess:
		return r.Access
	case RoomFieldMaxUser:
		return r.MaxUsers
	case RoomFieldJoinRequestable:
		return r.JoinRequestable
	case RoomFieldTags:
		return r.Tags
	case RoomFieldUsers:
		return members
	case RoomFieldMetas:
		return metas
	default:
		return nil
	}
}

func (s *RedisStore) GetRoomInfo(ctx context.Context, room model.RoomId, fields []RoomField) (map[RoomField]any, error) {
	r, err := s.getRoom(ctx, room)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, errRoomNotFound
	}
	members, err := s.GetUsersFromRoom(ctx, room)
	if err != nil {
		return nil, err
	}
	metas, err := s.GetRoomMeta(ctx, room, model.RoomMetaSystem)
	if err != nil {
		return nil, err
	}
	out := make(map[RoomField]any, len(fields))
	for _, f := range fields {
		out[f] = s.roomField(ctx, r, members, metas, f)
	}
	return out, nil
}

func (s *RedisStore) GetRooms(ctx context.Context, tag string, fields []RoomField) ([]map[RoomField]any, error) {
	all, err := s.bus.HashGetAll(ctx, s.roomsKey())
	if err != nil {
		return nil, err
	}
	var out []map[RoomField]any
	for id, raw := range all {
		var r model.Room
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			continue
		}
		if r.Access != model.RoomPublic {
			continue
		}
		if tag != "" {
			found := false
			for _, t := range r.Tags {
				if t == tag {
					found = true
					break
				}
			}
			if !found {
				continue
			}
		}
		members, err := s.GetUsersFromRoom(ctx, model.RoomId(id))
		if err != nil {
			continue
		}
		metas, err := s.GetRoomMeta(ctx, model.RoomId(id), model.RoomMetaSystem)
		if err != nil {
			continue
		}
		row := make(map[RoomField]any, len(fields))
		for _, f := range fields {
			row[f] = s.roomField(ctx, &r, members, metas, f)
		}
		out = append(out, row)
	}
	return out, nil
}

// --- Room-meta API ---

func (s *RedisStore) GetRoomMeta(ctx context.Context, room model.RoomId, accessLevel model.RoomMetaAccess) (map[string]model.MetaType[model.RoomMetaAccess], error) {
	all, err := s.bus.HashGetAll(ctx, s.roomMetaKey(room))
	if err != nil {
		return nil, err
	}
	out := make(map[string]model.MetaType[model.RoomMetaAccess])
	for k, raw := range all {
		var v model.MetaType[model.RoomMetaAccess]
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			continue
		}
		if v.Access() <= accessLevel {
			out[k] = v
		}
	}
	return out, nil
}

func (s *RedisStore) SetRoomMeta(ctx context.Context, room model.RoomId, key string, value model.MetaType[model.RoomMetaAccess]) error {
	r, err := s.getRoom(ctx, room)
	if err != nil {
		return err
	}
	if r == nil {
		return errRoomNotFound
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.bus.HashSet(ctx, s.roomMetaKey(room), key, string(data))
}

func (s *RedisStore) RemoveRoomMeta(ctx context.Context, room model.RoomId, key string) error {
	r, err := s.getRoom(ctx, room)
	if err != nil {
		return err
	}
	if r == nil {
		return errRoomNotFound
	}
	return s.bus.HashDel(ctx, s.roomMetaKey(room), key)
}

func (s *RedisStore) RemoveAllRoomMetas(ctx context.Context, room model.RoomId) error {
	r, err := s.getRoom(ctx, room)
	if err != nil {
		return err
	}
	if r == nil {
		return errRoomNotFound
	}
	return s.bus.Del(ctx, s.roomMetaKey(room))
}

// --- Join-request queue ---

func (s *RedisStore) PushJoinRequest(ctx context.Context, room model.RoomId, user model.UserId, requestedRole model.RoomUserType) error {
	if _, ok, err := s.bus.HashGet(ctx, s.roomWaitingKey(room), user.String()); err != nil {
		return err
	} else if ok {
		return errAlreadyRequested
	}
	return s.bus.HashSet(ctx, s.roomWaitingKey(room), user.String(), strconv.Itoa(int(requestedRole)))
}

func (s *RedisStore) GetJoinRequests(ctx context.Context, room model.RoomId) (map[model.UserId]model.RoomUserType, error) {
	all, err := s.bus.HashGetAll(ctx, s.roomWaitingKey(room))
	if err != nil {
		return nil, err
	}
	out := make(map[model.UserId]model.RoomUserType, len(all))
	for k, raw := range all {
		n, err := strconv.Atoi(raw)
		if err != nil {
			continue
		}
		out[model.UserId(k)] = model.RoomUserType(n)
	}
	return out, nil
}

func (s *RedisStore) ResolveJoinRequest(ctx context.Context, room model.RoomId, user model.UserId) error {
	if _, ok, err := s.bus.HashGet(ctx, s.roomWaitingKey(room), user.String()); err != nil {
		return err
	} else if !ok {
		return errUserNotInTheRoom
	}
	return s.bus.HashDel(ctx, s.roomWaitingKey(room), user.String())
}

// --- Ban set ---

func (s *RedisStore) BanUser(ctx context.Context, room model.RoomId, user model.UserId) error {
	return s.bus.SetAdd(ctx, s.roomBannedKey(room), user.String())
}

func (s *RedisStore) IsBanned(ctx context.Context, room model.RoomId, user model.UserId) (bool, error) {
	return s.bus.SetIsMember(ctx, s.roomBannedKey(room), user.String())
}

func isYummyErr(err error, code yerrors.Code) bool {
	ye, ok := err.(*yerrors.Error)
	return ok && ye.Code == code
}
