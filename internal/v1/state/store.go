// Package state implements the uniform session/user/room view every
// coordinator reads and writes through, backed either by process-local maps
// (MemoryStore) or a shared Redis instance (RedisStore) so multiple server
// instances can observe the same membership and session data.
package state

import (
	"context"
	"time"

	"github.com/yummyhq/yummy/internal/v1/model"
	"github.com/yummyhq/yummy/internal/v1/yerrors"
)

// UserInfoSnapshot is the cached projection of a user's record plus the
// subset of metas visible at a given access level.
type UserInfoSnapshot struct {
	Id    model.UserId
	Name  string
	Email string
	Type  model.UserType
	Metas map[string]model.MetaType[model.UserMetaAccess]
}

// RoomField names one projectable field of a room for List/GetRoom.
type RoomField string

const (
	RoomFieldId              RoomField = "id"
	RoomFieldName            RoomField = "name"
	RoomFieldDescription     RoomField = "description"
	RoomFieldAccess          RoomField = "access"
	RoomFieldMaxUser         RoomField = "max_user"
	RoomFieldJoinRequestable RoomField = "join_requestable"
	RoomFieldTags            RoomField = "tags"
	RoomFieldUsers           RoomField = "users"
	RoomFieldMetas           RoomField = "metas"
)

// Store is the interface every coordinator uses to read and write
// session, user, and room state. MemoryStore and RedisStore both implement
// it; for rooms that exist they behave the same, apart from cross-instance
// visibility. For an unknown room id they differ: MemoryStore answers with
// RoomNotFound, while RedisStore checks that the room exists only in
// JoinToRoom, GetUsersFromRoom, GetRoomInfo, SetRoomMeta, RemoveRoomMeta and
// RemoveAllRoomMetas; its other room-scoped calls return an empty result, a
// membership error or success instead.
type Store interface {
	// Session API.
	NewSession(ctx context.Context, user model.UserId, serverID string, userType model.UserType) (model.SessionId, error)
	CloseSession(ctx context.Context, user model.UserId, session model.SessionId) error
	IsSessionOnline(ctx context.Context, session model.SessionId) (bool, error)
	GetUserLocation(ctx context.Context, user model.UserId) (serverID string, ok bool, err error)

	// User info cache.
	GetUserInformation(ctx context.Context, user model.UserId, accessLevel model.UserMetaAccess) (*UserInfoSnapshot, error)
	UpdateUserInformation(ctx context.Context, user model.UserId, snapshot UserInfoSnapshot) error
	GetUserType(ctx context.Context, user model.UserId) (model.UserType, bool, error)
	SetUserType(ctx context.Context, user model.UserId, userType model.UserType) error

	// User-meta API.
	GetUserMeta(ctx context.Context, user model.UserId, accessLevel model.UserMetaAccess) (map[string]model.MetaType[model.UserMetaAccess], error)
	SetUserMeta(ctx context.Context, user model.UserId, key string, value model.MetaType[model.UserMetaAccess]) error
	RemoveUserMeta(ctx context.Context, user model.UserId, key string) error
	RemoveAllUserMetas(ctx context.Context, user model.UserId) error

	// Room membership API.
	CreateRoom(ctx context.Context, room model.Room) error
	JoinToRoom(ctx context.Context, room model.RoomId, user model.UserId, role model.RoomUserType) error
	DisconnectFromRoom(ctx context.Context, room model.RoomId, user model.UserId) (roomRemoved bool, err error)
	GetUsersFromRoom(ctx context.Context, room model.RoomId) ([]model.UserId, error)
	GetUserRoom(ctx context.Context, user model.UserId) (model.RoomId, bool, error)
	SetUserRoom(ctx context.Context, user model.UserId, room model.RoomId) error
	GetUserRoleInRoom(ctx context.Context, room model.RoomId, user model.UserId) (model.RoomUserType, bool, error)
	GetRoomInfo(ctx context.Context, room model.RoomId, fields []RoomField) (map[RoomField]any, error)
	GetRooms(ctx context.Context, tag string, fields []RoomField) ([]map[RoomField]any, error)

	// Room-meta API.
	GetRoomMeta(ctx context.Context, room model.RoomId, accessLevel model.RoomMetaAccess) (map[string]model.MetaType[model.RoomMetaAccess], error)
	SetRoomMeta(ctx context.Context, room model.RoomId, key string, value model.MetaType[model.RoomMetaAccess]) error
	RemoveRoomMeta(ctx context.Context, room model.RoomId, key string) error
	RemoveAllRoomMetas(ctx context.Context, room model.RoomId) error

	// Join-request queue.
	PushJoinRequest(ctx context.Context, room model.RoomId, user model.UserId, requestedRole model.RoomUserType) error
	GetJoinRequests(ctx context.Context, room model.RoomId) (map[model.UserId]model.RoomUserType, error)
	ResolveJoinRequest(ctx context.Context, room model.RoomId, user model.UserId) error

	// Ban set.
	BanUser(ctx context.Context, room model.RoomId, user model.UserId) error
	IsBanned(ctx context.Context, room model.RoomId, user model.UserId) (bool, error)
}

var (
	errRoomNotFound         = yerrors.New(yerrors.RoomNotFound)
	errUserAlreadyInRoom    = yerrors.New(yerrors.UserAlreadyInRoom)
	errAlreadyRequested     = yerrors.New(yerrors.AlreadyRequested)
	errUserCouldNotBeFound  = yerrors.New(yerrors.UserCouldNotFoundInRoom)
	errRoomHasMaxUsers      = yerrors.New(yerrors.RoomHasMaxUsers)
	errUserNotInTheRoom     = yerrors.New(yerrors.UserNotInTheRoom)
)

// now exists so tests can't accidentally depend on wall-clock ordering
// beyond what they explicitly assert.
func now() time.Time { return time.Now().UTC() }
