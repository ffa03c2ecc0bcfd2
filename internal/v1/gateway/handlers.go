package gateway

import (
	"context"
	"encoding/json"

	"github.com/yummyhq/yummy/internal/v1/auth"
	"github.com/yummyhq/yummy/internal/v1/model"
	"github.com/yummyhq/yummy/internal/v1/plugin"
	"github.com/yummyhq/yummy/internal/v1/room"
	"github.com/yummyhq/yummy/internal/v1/state"
	"github.com/yummyhq/yummy/internal/v1/user"
	"github.com/yummyhq/yummy/internal/v1/yerrors"
)

func decodeInto[T any](env requestEnvelope) (T, error) {
	var req T
	err := json.Unmarshal(env.Raw, &req)
	return req, err
}

// authResult is the response payload shared by every credential path.
type authResult struct {
	Token   string       `json:"token"`
	UserID  model.UserId `json:"user_id"`
	Session string       `json:"session_id"`
}

func (gw *Gateway) onAuthenticated(ctx context.Context, sink Sink, userID model.UserId, sessionID string, token string) authResult {
	sink.SetUserID(string(userID))
	sink.SetSessionID(sessionID)
	gw.conn.UserConnected(ctx, userID, sink)
	_ = sink.Send(room.Event{Type: "Authenticated", Payload: authResult{Token: token, UserID: userID, Session: sessionID}})
	return authResult{Token: token, UserID: userID, Session: sessionID}
}

// disconnectExistingSession logs a sink out of whatever session it already
// holds, with no response sent for the old session, before an auth-type
// request proceeds to mint or rebind a new one.
func (gw *Gateway) disconnectExistingSession(ctx context.Context, sink Sink) {
	userID := model.UserId(sink.UserID())
	if userID.IsNil() || sink.SessionID() == "" {
		return
	}
	_ = gw.auth.Logout(ctx, auth.Claims{UserID: string(userID), SessionID: sink.SessionID()})
	gw.conn.UserDisconnectRequest(ctx, userID, sink)
	sink.SetUserID("")
	sink.SetSessionID("")
}

func (gw *Gateway) handleAuthEmail(ctx context.Context, sink Sink, env requestEnvelope) (any, error) {
	gw.disconnectExistingSession(ctx, sink)
	req, err := decodeInto[authEmailRequest](env)
	if err != nil {
		return nil, err
	}
	if err := gw.plugins.RunPre(ctx, plugin.VariantAuthEmail, &req); err != nil {
		return nil, err
	}
	result, err := gw.auth.Email(ctx, req.Email, req.Password, req.CreateIfMissing)
	gw.plugins.RunPost(ctx, plugin.VariantAuthEmail, &req, err == nil)
	if err != nil {
		return nil, err
	}
	return gw.onAuthenticated(ctx, sink, model.UserId(result.Claims.UserID), result.Claims.SessionID, result.Token), nil
}

func (gw *Gateway) handleAuthDeviceId(ctx context.Context, sink Sink, env requestEnvelope) (any, error) {
	gw.disconnectExistingSession(ctx, sink)
	req, err := decodeInto[authDeviceIdRequest](env)
	if err != nil {
		return nil, err
	}
	if err := gw.plugins.RunPre(ctx, plugin.VariantAuthDeviceId, &req); err != nil {
		return nil, err
	}
	result, err := gw.auth.DeviceId(ctx, req.DeviceId)
	gw.plugins.RunPost(ctx, plugin.VariantAuthDeviceId, &req, err == nil)
	if err != nil {
		return nil, err
	}
	return gw.onAuthenticated(ctx, sink, model.UserId(result.Claims.UserID), result.Claims.SessionID, result.Token), nil
}

func (gw *Gateway) handleAuthCustomId(ctx context.Context, sink Sink, env requestEnvelope) (any, error) {
	gw.disconnectExistingSession(ctx, sink)
	req, err := decodeInto[authCustomIdRequest](env)
	if err != nil {
		return nil, err
	}
	if err := gw.plugins.RunPre(ctx, plugin.VariantAuthCustomId, &req); err != nil {
		return nil, err
	}
	result, err := gw.auth.CustomId(ctx, req.CustomId)
	gw.plugins.RunPost(ctx, plugin.VariantAuthCustomId, &req, err == nil)
	if err != nil {
		return nil, err
	}
	return gw.onAuthenticated(ctx, sink, model.UserId(result.Claims.UserID), result.Claims.SessionID, result.Token), nil
}

func (gw *Gateway) handleRefreshToken(ctx context.Context, sink Sink, env requestEnvelope) (any, error) {
	gw.disconnectExistingSession(ctx, sink)
	req, err := decodeInto[refreshTokenRequest](env)
	if err != nil {
		return nil, err
	}
	if err := gw.plugins.RunPre(ctx, plugin.VariantRefreshToken, &req); err != nil {
		return nil, err
	}
	result, err := gw.auth.Refresh(ctx, req.Token)
	gw.plugins.RunPost(ctx, plugin.VariantRefreshToken, &req, err == nil)
	if err != nil {
		return nil, err
	}
	return gw.onAuthenticated(ctx, sink, model.UserId(result.Claims.UserID), result.Claims.SessionID, result.Token), nil
}

func (gw *Gateway) handleRestoreToken(ctx context.Context, sink Sink, env requestEnvelope) (any, error) {
	gw.disconnectExistingSession(ctx, sink)
	req, err := decodeInto[restoreTokenRequest](env)
	if err != nil {
		return nil, err
	}
	if err := gw.plugins.RunPre(ctx, plugin.VariantRestoreToken, &req); err != nil {
		return nil, err
	}
	result, err := gw.auth.Restore(ctx, req.Token)
	gw.plugins.RunPost(ctx, plugin.VariantRestoreToken, &req, err == nil)
	if err != nil {
		return nil, err
	}
	return gw.onAuthenticated(ctx, sink, model.UserId(result.Claims.UserID), result.Claims.SessionID, result.Token), nil
}

func (gw *Gateway) handleLogout(ctx context.Context, sink Sink) (any, error) {
	userID := model.UserId(sink.UserID())
	if userID.IsNil() {
		return nil, yerrors.New(yerrors.UserNotLoggedIn)
	}
	claims := auth.Claims{UserID: string(userID), SessionID: sink.SessionID()}
	if err := gw.plugins.RunPre(ctx, plugin.VariantLogout, &claims); err != nil {
		return nil, err
	}
	err := gw.auth.Logout(ctx, claims)
	gw.plugins.RunPost(ctx, plugin.VariantLogout, &claims, err == nil)
	if err != nil {
		return nil, err
	}
	sink.SetUserID("")
	sink.SetSessionID("")
	return nil, nil
}

func (gw *Gateway) handleMe(ctx context.Context, caller model.UserId) (any, error) {
	if caller.IsNil() {
		return nil, yerrors.New(yerrors.UserNotLoggedIn)
	}
	if err := gw.plugins.RunPre(ctx, plugin.VariantGetUserInformation, &caller); err != nil {
		return nil, err
	}
	info, err := gw.user.GetMe(ctx, caller)
	gw.plugins.RunPost(ctx, plugin.VariantGetUserInformation, &caller, err == nil)
	return info, err
}

func (gw *Gateway) handleGetUser(ctx context.Context, caller model.UserId, env requestEnvelope) (any, error) {
	req, err := decodeInto[getUserRequest](env)
	if err != nil {
		return nil, err
	}
	if err := gw.plugins.RunPre(ctx, plugin.VariantGetUserInformation, &req); err != nil {
		return nil, err
	}
	info, err := gw.user.Get(ctx, req.User, caller)
	gw.plugins.RunPost(ctx, plugin.VariantGetUserInformation, &req, err == nil)
	return info, err
}

func (gw *Gateway) handleUpdateUser(ctx context.Context, caller model.UserId, env requestEnvelope) (any, error) {
	if caller.IsNil() {
		return nil, yerrors.New(yerrors.UserNotLoggedIn)
	}
	req, err := decodeInto[updateUserRequest](env)
	if err != nil {
		return nil, err
	}
	if err := gw.plugins.RunPre(ctx, plugin.VariantUpdateUser, &req); err != nil {
		return nil, err
	}
	params := userUpdateParamsFrom(req)
	err = gw.user.Update(ctx, caller, params)
	gw.plugins.RunPost(ctx, plugin.VariantUpdateUser, &req, err == nil)
	return nil, err
}

func userUpdateParamsFrom(req updateUserRequest) user.UpdateParams {
	return user.UpdateParams{
		Target: req.Target, Name: req.Name, Email: req.Email, Password: req.Password,
		DeviceId: req.DeviceId, CustomId: req.CustomId, Meta: req.Meta, MetaAction: req.MetaAction,
	}
}

func (gw *Gateway) handleCreateRoom(ctx context.Context, caller model.UserId, env requestEnvelope) (any, error) {
	if caller.IsNil() {
		return nil, yerrors.New(yerrors.UserNotLoggedIn)
	}
	req, err := decodeInto[createRoomRequest](env)
	if err != nil {
		return nil, err
	}
	for key, value := range req.Meta {
		if value.Access() > model.RoomMetaOwner {
			return nil, yerrors.WithKey(yerrors.MetaAccessLevelCannotBeBiggerThanUsersAccessLevel, key)
		}
	}
	if gw.maxRoomMeta > 0 && len(req.Meta) > gw.maxRoomMeta {
		return nil, yerrors.New(yerrors.MetaLimitOverToMaximum)
	}
	if err := gw.plugins.RunPre(ctx, plugin.VariantCreateRoom, &req); err != nil {
		return nil, err
	}
	roomID, err := gw.room.Create(ctx, caller, room.CreateParams{
		Name: req.Name, Description: req.Description, Access: req.Access, MaxUsers: req.MaxUsers,
		JoinRequestable: req.JoinRequestable, Tags: req.Tags, Meta: req.Meta,
		DisconnectFromOtherRoom: req.DisconnectFromOtherRoom,
	})
	gw.plugins.RunPost(ctx, plugin.VariantCreateRoom, &req, err == nil)
	if err != nil {
		return nil, err
	}
	_ = gw.conn.SendMessage(caller, room.RoomCreated(roomID))
	return struct {
		RoomID model.RoomId `json:"room_id"`
	}{RoomID: roomID}, nil
}

func (gw *Gateway) callerRoomRole(ctx context.Context, roomID model.RoomId, caller model.UserId) (model.RoomUserType, error) {
	role, ok, err := gw.store.GetUserRoleInRoom(ctx, roomID, caller)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, yerrors.New(yerrors.UserNotInTheRoom)
	}
	return role, nil
}

func (gw *Gateway) handleUpdateRoom(ctx context.Context, caller model.UserId, env requestEnvelope) (any, error) {
	if caller.IsNil() {
		return nil, yerrors.New(yerrors.UserNotLoggedIn)
	}
	req, err := decodeInto[updateRoomRequest](env)
	if err != nil {
		return nil, err
	}
	role, err := gw.callerRoomRole(ctx, req.Room, caller)
	if err != nil {
		return nil, err
	}
	if !role.AtLeast(model.RoomUserTypeModerator) {
		return nil, yerrors.New(yerrors.UserDoesNotHaveEnoughPermission)
	}
	if (req.Access != nil || req.MaxUsers != nil) && !role.AtLeast(model.RoomUserTypeOwner) {
		return nil, yerrors.New(yerrors.UserDoesNotHaveEnoughPermission)
	}
	if err := gw.plugins.RunPre(ctx, plugin.VariantUpdateRoom, &req); err != nil {
		return nil, err
	}
	err = gw.room.Update(ctx, req.Room, role, room.UpdateParams{
		Name: req.Name, Description: req.Description, Access: req.Access, MaxUsers: req.MaxUsers,
		JoinRequestable: req.JoinRequestable, Tags: req.Tags, Meta: req.Meta,
		MetaAction: req.MetaAction, MaxRoomMeta: gw.maxRoomMeta,
	})
	gw.plugins.RunPost(ctx, plugin.VariantUpdateRoom, &req, err == nil)
	return nil, err
}

func (gw *Gateway) handleJoinToRoom(ctx context.Context, sink Sink, caller model.UserId, env requestEnvelope) (any, error) {
	if caller.IsNil() {
		return nil, yerrors.New(yerrors.UserNotLoggedIn)
	}
	req, err := decodeInto[joinToRoomRequest](env)
	if err != nil {
		return nil, err
	}
	if err := gw.plugins.RunPre(ctx, plugin.VariantJoinToRoom, &req); err != nil {
		return nil, err
	}
	event, err := gw.room.Join(ctx, caller, req.Room, req.Type)
	gw.plugins.RunPost(ctx, plugin.VariantJoinToRoom, &req, err == nil)
	if err != nil {
		return nil, err
	}
	_ = sink.Send(event)
	return nil, nil
}

func (gw *Gateway) handleRoomDisconnect(ctx context.Context, caller model.UserId, env requestEnvelope) (any, error) {
	if caller.IsNil() {
		return nil, yerrors.New(yerrors.UserNotLoggedIn)
	}
	req, err := decodeInto[roomDisconnectRequest](env)
	if err != nil {
		return nil, err
	}
	if err := gw.plugins.RunPre(ctx, plugin.VariantDisconnectFromRoom, &req); err != nil {
		return nil, err
	}
	err = gw.room.Disconnect(ctx, caller, req.Room)
	gw.plugins.RunPost(ctx, plugin.VariantDisconnectFromRoom, &req, err == nil)
	return nil, err
}

func (gw *Gateway) handleMessageToRoom(ctx context.Context, caller model.UserId, env requestEnvelope) (any, error) {
	if caller.IsNil() {
		return nil, yerrors.New(yerrors.UserNotLoggedIn)
	}
	if gw.limiter != nil && !gw.limiter.AllowMessage(ctx, caller.String()) {
		return nil, yerrors.New(yerrors.RateLimited)
	}
	req, err := decodeInto[messageToRoomRequest](env)
	if err != nil {
		return nil, err
	}
	if err := gw.plugins.RunPre(ctx, plugin.VariantMessageToRoom, &req); err != nil {
		return nil, err
	}
	err = gw.room.Message(ctx, caller, req.Room, req.Message)
	gw.plugins.RunPost(ctx, plugin.VariantMessageToRoom, &req, err == nil)
	return nil, err
}

func (gw *Gateway) handlePlay(ctx context.Context, caller model.UserId, env requestEnvelope) (any, error) {
	if caller.IsNil() {
		return nil, yerrors.New(yerrors.UserNotLoggedIn)
	}
	if gw.limiter != nil && !gw.limiter.AllowMessage(ctx, caller.String()) {
		return nil, yerrors.New(yerrors.RateLimited)
	}
	req, err := decodeInto[playRequest](env)
	if err != nil {
		return nil, err
	}
	if err := gw.plugins.RunPre(ctx, plugin.VariantPlay, &req); err != nil {
		return nil, err
	}
	err = gw.room.PlayEvent(ctx, caller, req.Room, req.Message)
	gw.plugins.RunPost(ctx, plugin.VariantPlay, &req, err == nil)
	return nil, err
}

func (gw *Gateway) handleKickOrBan(ctx context.Context, caller model.UserId, env requestEnvelope, ban bool) (any, error) {
	if caller.IsNil() {
		return nil, yerrors.New(yerrors.UserNotLoggedIn)
	}
	req, err := decodeInto[kickOrBanRequest](env)
	if err != nil {
		return nil, err
	}
	role, err := gw.callerRoomRole(ctx, req.Room, caller)
	if err != nil {
		return nil, err
	}
	variant := plugin.VariantKickUserFromRoom
	if err := gw.plugins.RunPre(ctx, variant, &req); err != nil {
		return nil, err
	}
	err = gw.room.KickOrBan(ctx, req.Room, caller, role, req.User, ban)
	gw.plugins.RunPost(ctx, variant, &req, err == nil)
	return nil, err
}

func (gw *Gateway) handleProcessWaitingUser(ctx context.Context, caller model.UserId, env requestEnvelope) (any, error) {
	if caller.IsNil() {
		return nil, yerrors.New(yerrors.UserNotLoggedIn)
	}
	req, err := decodeInto[processWaitingUserRequest](env)
	if err != nil {
		return nil, err
	}
	role, err := gw.callerRoomRole(ctx, req.Room, caller)
	if err != nil {
		return nil, err
	}
	if err := gw.plugins.RunPre(ctx, plugin.VariantProcessWaitingUser, &req); err != nil {
		return nil, err
	}
	err = gw.room.ProcessWaitingUser(ctx, req.Room, role, req.User, req.Accept)
	gw.plugins.RunPost(ctx, plugin.VariantProcessWaitingUser, &req, err == nil)
	return nil, err
}

var defaultRoomListFields = []state.RoomField{
	state.RoomFieldId, state.RoomFieldName, state.RoomFieldAccess,
	state.RoomFieldMaxUser, state.RoomFieldTags,
}

var defaultRoomFields = []state.RoomField{
	state.RoomFieldId, state.RoomFieldName, state.RoomFieldDescription, state.RoomFieldAccess,
	state.RoomFieldMaxUser, state.RoomFieldJoinRequestable, state.RoomFieldTags,
	state.RoomFieldUsers, state.RoomFieldMetas,
}

func (gw *Gateway) handleRoomList(ctx context.Context, env requestEnvelope) (any, error) {
	req, err := decodeInto[roomListRequest](env)
	if err != nil {
		return nil, err
	}
	if err := gw.plugins.RunPre(ctx, plugin.VariantRoomList, &req); err != nil {
		return nil, err
	}
	rooms, err := gw.room.List(ctx, req.Tag, defaultRoomListFields)
	gw.plugins.RunPost(ctx, plugin.VariantRoomList, &req, err == nil)
	return rooms, err
}

func (gw *Gateway) handleGetRoom(ctx context.Context, env requestEnvelope) (any, error) {
	req, err := decodeInto[getRoomRequest](env)
	if err != nil {
		return nil, err
	}
	if err := gw.plugins.RunPre(ctx, plugin.VariantGetRoom, &req); err != nil {
		return nil, err
	}
	info, err := gw.room.GetRoom(ctx, req.Room, defaultRoomFields)
	gw.plugins.RunPost(ctx, plugin.VariantGetRoom, &req, err == nil)
	return info, err
}
