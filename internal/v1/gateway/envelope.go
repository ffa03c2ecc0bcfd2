// Package gateway is the dispatch layer sitting above Auth, User and
// Room: it decodes the client request envelope, authenticates the caller
// from their bound session, wraps every coordinator call with the plugin
// interception pipeline, and encodes the response/event envelopes.
//
// Gateway depends on both room and plugin, which is exactly why the pre/
// post hook wrapping lives here instead of inside the coordinators
// themselves: plugin already imports room for its Dispatcher and
// MessageFromRoom builder, so room must never import plugin, and neither
// may call back into gateway.
package gateway

import (
	"encoding/json"

	"github.com/yummyhq/yummy/internal/v1/model"
)

// requestEnvelope is the generic shape of every client message: a type
// discriminant, an optional echoed request id, and variant fields left raw
// until the type is known.
type requestEnvelope struct {
	Type      string          `json:"type"`
	RequestID *int64          `json:"request_id,omitempty"`
	Raw       json.RawMessage `json:"-"`
}

// responseEnvelope is the wire shape for a reply to one client request.
type responseEnvelope struct {
	Status    bool   `json:"status"`
	RequestID *int64 `json:"request_id,omitempty"`
	Type      string `json:"type"`
	Result    any    `json:"result,omitempty"`
}

func ok(reqType string, requestID *int64, result any) responseEnvelope {
	return responseEnvelope{Status: true, RequestID: requestID, Type: reqType, Result: result}
}

func fail(reqType string, requestID *int64, message string) responseEnvelope {
	return responseEnvelope{Status: false, RequestID: requestID, Type: reqType, Result: message}
}

// decodeEnvelope splits out the discriminant without losing the original
// bytes, so a second json.Unmarshal against the concrete request type can
// still see every field.
func decodeEnvelope(raw []byte) (requestEnvelope, error) {
	var env requestEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return requestEnvelope{}, err
	}
	env.Raw = raw
	return env, nil
}

// authEmailRequest / authDeviceIdRequest / ... mirror the client request
// families; unexported since only dispatch.go decodes them.
type authEmailRequest struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	CreateIfMissing bool   `json:"create"`
}

type authDeviceIdRequest struct {
	DeviceId string `json:"device_id"`
}

type authCustomIdRequest struct {
	CustomId string `json:"custom_id"`
}

type refreshTokenRequest struct {
	Token string `json:"token"`
}

type restoreTokenRequest struct {
	Token string `json:"token"`
}

type getUserRequest struct {
	User model.UserId `json:"user"`
}

type updateUserRequest struct {
	Target     model.UserId                                     `json:"target"`
	Name       *string                                          `json:"name"`
	Email      *string                                          `json:"email"`
	Password   *string                                          `json:"password"`
	DeviceId   *string                                          `json:"device_id"`
	CustomId   *string                                          `json:"custom_id"`
	Meta       map[string]model.MetaType[model.UserMetaAccess] `json:"meta"`
	MetaAction model.MetaAction                                `json:"meta_action"`
}

type createRoomRequest struct {
	Name                    string                                           `json:"name"`
	Description             string                                           `json:"description"`
	Access                  model.RoomAccessType                             `json:"access"`
	MaxUsers                int                                              `json:"max_user"`
	JoinRequestable         bool                                             `json:"join_requestable"`
	Tags                    []string                                         `json:"tags"`
	Meta                    map[string]model.MetaType[model.RoomMetaAccess] `json:"meta"`
	DisconnectFromOtherRoom bool                                             `json:"disconnect_from_other_room"`
}

type updateRoomRequest struct {
	Room            model.RoomId                                     `json:"room"`
	Name            *string                                          `json:"name"`
	Description     *string                                          `json:"description"`
	Access          *model.RoomAccessType                            `json:"access"`
	MaxUsers        *int                                             `json:"max_user"`
	JoinRequestable *bool                                            `json:"join_requestable"`
	Tags            []string                                         `json:"tags"`
	Meta            map[string]model.MetaType[model.RoomMetaAccess] `json:"meta"`
	MetaAction      model.MetaAction                                `json:"meta_action"`
}

type joinToRoomRequest struct {
	Room model.RoomId       `json:"room"`
	Type model.RoomUserType `json:"user_type"`
}

type roomDisconnectRequest struct {
	Room model.RoomId `json:"room"`
}

type messageToRoomRequest struct {
	Room    model.RoomId `json:"room"`
	Message any          `json:"message"`
}

type playRequest struct {
	Room    model.RoomId `json:"room"`
	Message any          `json:"message"`
}

type kickOrBanRequest struct {
	Room   model.RoomId `json:"room"`
	User   model.UserId `json:"user"`
}

type roomListRequest struct {
	Tag string `json:"tag"`
}

type getRoomRequest struct {
	Room model.RoomId `json:"room"`
}

type processWaitingUserRequest struct {
	Room   model.RoomId `json:"room"`
	User   model.UserId `json:"user"`
	Accept bool         `json:"accept"`
}
