package room

import (
	"encoding/json"

	"github.com/yummyhq/yummy/internal/v1/model"
)

// Dispatcher delivers a single event to one recipient, local or remote.
// The Connection Manager is the concrete implementation; Room never
// touches a client sink directly.
type Dispatcher interface {
	SendMessage(userID model.UserId, event Event) error
}

// Event is one server-initiated, typed payload: a discriminant plus
// variant-specific fields, no request id, no status field.
//
// RawPayload carries an already-flattened event as received over the bus
// from a peer instance; when set, MarshalJSON returns it verbatim instead
// of re-flattening Type/Payload, so a relayed event round-trips byte for
// byte rather than being re-encoded.
type Event struct {
	Type       string          `json:"type"`
	Payload    any             `json:"-"`
	RawPayload json.RawMessage `json:"-"`
}

// MarshalJSON flattens Payload's fields alongside the type discriminant,
// matching the gateway's wire envelope.
func (e Event) MarshalJSON() ([]byte, error) {
	if e.RawPayload != nil {
		return e.RawPayload, nil
	}
	return marshalFlattened(e.Type, e.Payload)
}

type roomCreatedPayload struct {
	RoomID model.RoomId `json:"room_id"`
}

type joinedPayload struct {
	Result   string                                          `json:"result"`
	RoomID   model.RoomId                                    `json:"room_id"`
	RoomName string                                          `json:"room_name"`
	Users    []model.UserId                                  `json:"users"`
	Metas    map[string]model.MetaType[model.RoomMetaAccess] `json:"metas"`
}

type joinRequestedPayload struct {
	Result string       `json:"result"`
	RoomID model.RoomId `json:"room_id"`
}

type newJoinRequestPayload struct {
	Room model.RoomId       `json:"room"`
	User model.UserId       `json:"user"`
	Type model.RoomUserType `json:"user_type"`
}

type joinRequestDeclinedPayload struct {
	RoomID model.RoomId `json:"room_id"`
}

type userJoinedToRoomPayload struct {
	User model.UserId `json:"user"`
	Room model.RoomId `json:"room"`
}

type userDisconnectedFromRoomPayload struct {
	User model.UserId `json:"user"`
	Room model.RoomId `json:"room"`
}

type disconnectedFromRoomPayload struct {
	RoomID model.RoomId `json:"room_id"`
}

type messageFromRoomPayload struct {
	User *model.UserId `json:"user"` // nil for plugin/system-sent messages
	Room model.RoomId  `json:"room"`
	Message any         `json:"message"`
}

func RoomCreated(room model.RoomId) Event {
	return Event{Type: "RoomCreated", Payload: roomCreatedPayload{RoomID: room}}
}

func Joined(room model.RoomId, name string, users []model.UserId, metas map[string]model.MetaType[model.RoomMetaAccess]) Event {
	return Event{Type: "Joined", Payload: joinedPayload{Result: "joined", RoomID: room, RoomName: name, Users: users, Metas: metas}}
}

func JoinRequested(room model.RoomId) Event {
	return Event{Type: "JoinRequested", Payload: joinRequestedPayload{Result: "waiting", RoomID: room}}
}

func NewJoinRequest(room model.RoomId, user model.UserId, userType model.RoomUserType) Event {
	return Event{Type: "NewJoinRequest", Payload: newJoinRequestPayload{Room: room, User: user, Type: userType}}
}

func JoinRequestDeclined(room model.RoomId) Event {
	return Event{Type: "JoinRequestDeclined", Payload: joinRequestDeclinedPayload{RoomID: room}}
}

func UserJoinedToRoom(user model.UserId, room model.RoomId) Event {
	return Event{Type: "UserJoinedToRoom", Payload: userJoinedToRoomPayload{User: user, Room: room}}
}

func UserDisconnectedFromRoom(user model.UserId, room model.RoomId) Event {
	return Event{Type: "UserDisconnectedFromRoom", Payload: userDisconnectedFromRoomPayload{User: user, Room: room}}
}

func DisconnectedFromRoom(room model.RoomId) Event {
	return Event{Type: "DisconnectedFromRoom", Payload: disconnectedFromRoomPayload{RoomID: room}}
}

func MessageFromRoom(user *model.UserId, room model.RoomId, message any) Event {
	return Event{Type: "MessageFromRoom", Payload: messageFromRoomPayload{User: user, Room: room, Message: message}}
}

func Play(user *model.UserId, room model.RoomId, message any) Event {
	return Event{Type: "Play", Payload: messageFromRoomPayload{User: user, Room: room, Message: message}}
}
