package state

import (
	"context"
	"sync"

	"github.com/yummyhq/yummy/internal/v1/model"
)

type roomRecord struct {
	room    model.Room
	members map[model.UserId]model.RoomUserType
	metas   map[string]model.MetaType[model.RoomMetaAccess]
	banned  map[model.UserId]struct{}
	waiting map[model.UserId]model.RoomUserType
}

type userRecord struct {
	userType model.UserType
	metas    map[string]model.MetaType[model.UserMetaAccess]
	snapshot *UserInfoSnapshot
}

type sessionRecord struct {
	user     model.UserId
	serverID string
}

// MemoryStore is a single-process Store backed by mutex-guarded maps.
// It is the default backing when REDIS_URL is unset.
type MemoryStore struct {
	mu sync.RWMutex

	sessions  map[model.SessionId]sessionRecord
	userRooms map[model.UserId]model.RoomId
	users     map[model.UserId]*userRecord
	rooms     map[model.RoomId]*roomRecord
}

// NewMemoryStore creates an empty in-process state store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:  make(map[model.SessionId]sessionRecord),
		userRooms: make(map[model.UserId]model.RoomId),
		users:     make(map[model.UserId]*userRecord),
		rooms:     make(map[model.RoomId]*roomRecord),
	}
}

func (s *MemoryStore) userRecordLocked(user model.UserId) *userRecord {
	rec, ok := s.users[user]
	if !ok {
		rec = &userRecord{metas: make(map[string]model.MetaType[model.UserMetaAccess])}
		s.users[user] = rec
	}
	return rec
}

// --- Session API ---

func (s *MemoryStore) NewSession(_ context.Context, user model.UserId, serverID string, userType model.UserType) (model.SessionId, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session := model.NewSessionId()
	s.sessions[session] = sessionRecord{user: user, serverID: serverID}
	s.userRecordLocked(user).userType = userType
	return session, nil
}

func (s *MemoryStore) CloseSession(_ context.Context, user model.UserId, session model.SessionId) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, session)
	if room, ok := s.userRooms[user]; ok {
		s.removeMemberLocked(room, user)
	}
	return nil
}

func (s *MemoryStore) IsSessionOnline(_ context.Context, session model.SessionId) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sessions[session]
	return ok, nil
}

func (s *MemoryStore) GetUserLocation(_ context.Context, user model.UserId) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.sessions {
		if rec.user == user {
			return rec.serverID, true, nil
		}
	}
	return "", false, nil
}

// --- User info cache ---

func (s *MemoryStore) GetUserInformation(_ context.Context, user model.UserId, accessLevel model.UserMetaAccess) (*UserInfoSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.users[user]
	if !ok || rec.snapshot == nil {
		return nil, nil
	}

	filtered := make(map[string]model.MetaType[model.UserMetaAccess])
	for k, v := range rec.snapshot.Metas {
		if v.Access() <= accessLevel {
			filtered[k] = v
		}
	}
	snap := *rec.snapshot
	snap.Metas = filtered
	return &snap, nil
}

func (s *MemoryStore) UpdateUserInformation(_ context.Context, user model.UserId, snapshot UserInfoSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.userRecordLocked(user)
	rec.snapshot = &snapshot
	return nil
}

func (s *MemoryStore) GetUserType(_ context.Context, user model.UserId) (model.UserType, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.users[user]
	if !ok {
		return 0, false, nil
	}
	return rec.userType, true, nil
}

func (s *MemoryStore) SetUserType(_ context.Context, user model.UserId, userType model.UserType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userRecordLocked(user).userType = userType
	return nil
}

// --- User-meta API ---

func (s *MemoryStore) GetUserMeta(_ context.Context, user model.UserId, accessLevel model.UserMetaAccess) (map[string]model.MetaType[model.UserMetaAccess], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.users[user]
	if !ok {
		return map[string]model.MetaType[model.UserMetaAccess]{}, nil
	}
	out := make(map[string]model.MetaType[model.UserMetaAccess])
	for k, v := range rec.metas {
		if v.Access() <= accessLevel {
			out[k] = v
		}
	}
	return out, nil
}

func (s *MemoryStore) SetUserMeta(_ context.Context, user model.UserId, key string, value model.MetaType[model.UserMetaAccess]) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userRecordLocked(user).metas[key] = value
	return nil
}

func (s *MemoryStore) RemoveUserMeta(_ context.Context, user model.UserId, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.users[user]; ok {
		delete(rec.metas, key)
	}
	return nil
}

func (s *MemoryStore) RemoveAllUserMetas(_ context.Context, user model.UserId) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.users[user]; ok {
		rec.metas = make(map[string]model.MetaType[model.UserMetaAccess])
	}
	return nil
}

// --- Room membership API ---

func (s *MemoryStore) CreateRoom(_ context.Context, room model.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[room.Id] = &roomRecord{
		room:    room,
		members: make(map[model.UserId]model.RoomUserType),
		metas:   make(map[string]model.MetaType[model.RoomMetaAccess]),
		banned:  make(map[model.UserId]struct{}),
		waiting: make(map[model.UserId]model.RoomUserType),
	}
	return nil
}

func (s *MemoryStore) JoinToRoom(_ context.Context, room model.RoomId, user model.UserId, role model.RoomUserType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.rooms[room]
	if !ok {
		return errRoomNotFound
	}
	if _, exists := rec.members[user]; exists {
		return errUserAlreadyInRoom
	}
	if !rec.room.HasCapacity(len(rec.members)) {
		return errRoomHasMaxUsers
	}
	rec.members[user] = role
	s.userRooms[user] = room
	return nil
}

// removeMemberLocked assumes s.mu is already held for writing.
func (s *MemoryStore) removeMemberLocked(room model.RoomId, user model.UserId) (bool, error) {
	rec, ok := s.rooms[room]
	if !ok {
		return false, errRoomNotFound
	}
	if _, exists := rec.members[user]; !exists {
		return false, errUserCouldNotBeFound
	}
	delete(rec.members, user)
	delete(s.userRooms, user)
	return len(rec.members) == 0, nil
}

func (s *MemoryStore) DisconnectFromRoom(_ context.Context, room model.RoomId, user model.UserId) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeMemberLocked(room, user)
}

func (s *MemoryStore) GetUsersFromRoom(_ context.Context, room model.RoomId) ([]model.UserId, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.rooms[room]
	if !ok {
		return nil, errRoomNotFound
	}
	users := make([]model.UserId, 0, len(rec.members))
	for u := range rec.members {
		users = append(users, u)
	}
	return users, nil
}

func (s *MemoryStore) GetUserRoom(_ context.Context, user model.UserId) (model.RoomId, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.userRooms[user]
	return room, ok, nil
}

func (s *MemoryStore) SetUserRoom(_ context.Context, user model.UserId, room model.RoomId) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userRooms[user] = room
	return nil
}

func (s *MemoryStore) GetUserRoleInRoom(_ context.Context, room model.RoomId, user model.UserId) (model.RoomUserType, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.rooms[room]
	if !ok {
		return 0, false, errRoomNotFound
	}
	role, ok := rec.members[user]
	return role, ok, nil
}

func (s *MemoryStore) roomFieldLocked(rec *roomRecord, field RoomField) any {
	switch field {
	case RoomFieldId:
		return rec.room.Id
	case RoomFieldName:
		return rec.room.Name
	case RoomFieldDescription:
		return rec.room.Description
	case RoomFieldAccess:
		return rec.room.Access
	case RoomFieldMaxUser:
		return rec.room.MaxUsers
	case RoomFieldJoinRequestable:
		return rec.room.JoinRequestable
	case RoomFieldTags:
		return rec.room.Tags
	case RoomFieldUsers:
		users := make([]model.UserId, 0, len(rec.members))
		for u := range rec.members {
			users = append(users, u)
		}
		return users
	case RoomFieldMetas:
		return rec.metas
	default:
		return nil
	}
}

func (s *MemoryStore) GetRoomInfo(_ context.Context, room model.RoomId, fields []RoomField) (map[RoomField]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.rooms[room]
	if !ok {
		return nil, errRoomNotFound
	}
	out := make(map[RoomField]any, len(fields))
	for _, f := range fields {
		out[f] = s.roomFieldLocked(rec, f)
	}
	return out, nil
}

func (s *MemoryStore) GetRooms(_ context.Context, tag string, fields []RoomField) ([]map[RoomField]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []map[RoomField]any
	for _, rec := range s.rooms {
		if rec.room.Access != model.RoomPublic {
			continue
		}
		if tag != "" {
			found := false
			for _, t := range rec.room.Tags {
				if t == tag {
					found = true
					break
				}
			}
			if !found {
				continue
			}
		}
		row := make(map[RoomField]any, len(fields))
		for _, f := range fields {
			row[f] = s.roomFieldLocked(rec, f)
		}
		out = append(out, row)
	}
	return out, nil
}

// --- Room-meta API ---

func (s *MemoryStore) GetRoomMeta(_ context.Context, room model.RoomId, accessLevel model.RoomMetaAccess) (map[string]model.MetaType[model.RoomMetaAccess], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.rooms[room]
	if !ok {
		return nil, errRoomNotFound
	}
	out := make(map[string]model.MetaType[model.RoomMetaAccess])
	for k, v := range rec.metas {
		if v.Access() <= accessLevel {
			out[k] = v
		}
	}
	return out, nil
}

func (s *MemoryStore) SetRoomMeta(_ context.Context, room model.RoomId, key string, value model.MetaType[model.RoomMetaAccess]) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.rooms[room]
	if !ok {
		return errRoomNotFound
	}
	rec.metas[key] = value
	return nil
}

func (s *MemoryStore) RemoveRoomMeta(_ context.Context, room model.RoomId, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.rooms[room]
	if !ok {
		return errRoomNotFound
	}
	delete(rec.metas, key)
	return nil
}

func (s *MemoryStore) RemoveAllRoomMetas(_ context.Context, room model.RoomId) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.rooms[room]
	if !ok {
		return errRoomNotFound
	}
	rec.metas = make(map[string]model.MetaType[model.RoomMetaAccess])
	return nil
}

// --- Join-request queue ---

func (s *MemoryStore) PushJoinRequest(_ context.Context, room model.RoomId, user model.UserId, requestedRole model.RoomUserType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.rooms[room]
	if !ok {
		return errRoomNotFound
	}
	if _, exists := rec.waiting[user]; exists {
		return errAlreadyRequested
	}
	rec.waiting[user] = requestedRole
	return nil
}

func (s *MemoryStore) GetJoinRequests(_ context.Context, room model.RoomId) (map[model.UserId]model.RoomUserType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.rooms[room]
	if !ok {
		return nil, errRoomNotFound
	}
	out := make(map[model.UserId]model.RoomUserType, len(rec.waiting))
	for k, v := range rec.waiting {
		out[k] = v
	}
	return out, nil
}

func (s *MemoryStore) ResolveJoinRequest(_ context.Context, room model.RoomId, user model.UserId) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.rooms[room]
	if !ok {
		return errRoomNotFound
	}
	if _, exists := rec.waiting[user]; !exists {
		return errUserNotInTheRoom
	}
	delete(rec.waiting, user)
	return nil
}

// --- Ban set ---

func (s *MemoryStore) BanUser(_ context.Context, room model.RoomId, user model.UserId) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.rooms[room]
	if !ok {
		return errRoomNotFound
	}
	rec.banned[user] = struct{}{}
	return nil
}

func (s *MemoryStore) IsBanned(_ context.Context, room model.RoomId, user model.UserId) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.rooms[room]
	if !ok {
		return false, errRoomNotFound
	}
	_, banned := rec.banned[user]
	return banned, nil
}
