package gateway

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/yummyhq/yummy/internal/v1/auth"
	"github.com/yummyhq/yummy/internal/v1/connection"
	"github.com/yummyhq/yummy/internal/v1/model"
	"github.com/yummyhq/yummy/internal/v1/plugin"
	"github.com/yummyhq/yummy/internal/v1/ratelimit"
	"github.com/yummyhq/yummy/internal/v1/room"
	"github.com/yummyhq/yummy/internal/v1/state"
	"github.com/yummyhq/yummy/internal/v1/transport"
	"github.com/yummyhq/yummy/internal/v1/user"
	"github.com/yummyhq/yummy/internal/v1/yerrors"
)

// Sink is the subset of *transport.Client the gateway depends on, so tests
// can substitute a recorder without a real connection.
type Sink interface {
	connection.Sink
	SendRaw(data []byte) error
	UserID() string
	SetUserID(id string)
	SessionID() string
	SetSessionID(id string)
}

// Gateway decodes client request envelopes, authenticates the caller from
// their bound client, wraps each coordinator call with the plugin
// interception pipeline, and writes back the response envelope.
type Gateway struct {
	auth  *auth.Coordinator
	user  *user.Coordinator
	room  *room.Coordinator
	store state.Store
	conn  *connection.Manager

	plugins     *plugin.Executor
	maxRoomMeta int
	limiter     *ratelimit.Limiter
}

// New builds a Gateway over its dependencies. maxRoomMeta caps the number
// of metas a room may carry after Create or Update; User already enforces
// its own meta limit internally. limiter may be nil, in which case
// MessageToRoom and Play traffic is never throttled.
func New(authCoord *auth.Coordinator, userCoord *user.Coordinator, roomCoord *room.Coordinator,
	store state.Store, conn *connection.Manager, plugins *plugin.Executor, maxRoomMeta int,
	limiter *ratelimit.Limiter) *Gateway {
	return &Gateway{
		auth: authCoord, user: userCoord, room: roomCoord,
		store: store, conn: conn, plugins: plugins, maxRoomMeta: maxRoomMeta, limiter: limiter,
	}
}

// clientHandler adapts *transport.Client to transport.Handler by closing
// over the calling Gateway; one is built per upgraded connection.
type clientHandler struct {
	gw *Gateway
}

// NewClientFactory returns a transport.ClientFactory that routes every
// connection's traffic through gw.
func (gw *Gateway) NewClientFactory() transport.ClientFactory {
	return func() transport.Handler {
		return &clientHandler{gw: gw}
	}
}

func (h *clientHandler) HandleMessage(ctx context.Context, client *transport.Client, raw []byte) {
	h.gw.HandleMessage(ctx, client, raw)
}

func (h *clientHandler) HandleDisconnect(ctx context.Context, client *transport.Client) {
	h.gw.HandleDisconnect(ctx, client)
}

// HandleMessage decodes one client request, routes it to the owning
// coordinator, and writes the response envelope back to sink.
func (gw *Gateway) HandleMessage(ctx context.Context, sink Sink, raw []byte) {
	env, err := decodeEnvelope(raw)
	if err != nil {
		gw.reply(sink, fail("", nil, "malformed request"))
		return
	}

	caller := model.UserId(sink.UserID())

	result, resultErr := gw.route(ctx, sink, caller, env)
	if resultErr != nil {
		gw.reply(sink, fail(env.Type, env.RequestID, gw.errorMessage(env.Type, resultErr)))
		return
	}
	gw.reply(sink, ok(env.Type, env.RequestID, result))
}

// HandleDisconnect unregisters the closed sink and, if it was
// authenticated, starts the post-disconnect grace timer: a Restore
// within connection_restore_wait_timeout cancels it and rebinds the same
// session; otherwise it fires and tears down the user's room membership
// and session.
func (gw *Gateway) HandleDisconnect(ctx context.Context, sink Sink) {
	userID := model.UserId(sink.UserID())
	gw.conn.UserDisconnectRequest(ctx, userID, sink)
	if userID.IsNil() || sink.SessionID() == "" {
		return
	}

	session := model.SessionId(sink.SessionID())
	gw.auth.StartUserTimeout(session, func() {
		expireCtx := context.Background()
		if roomID, inRoom, err := gw.store.GetUserRoom(expireCtx, userID); err == nil && inRoom {
			_ = gw.room.Disconnect(expireCtx, userID, roomID)
		}
		_ = gw.store.CloseSession(expireCtx, userID, session)
	})
}

func (gw *Gateway) reply(sink Sink, env responseEnvelope) {
	data, err := json.Marshal(env)
	if err != nil {
		slog.Error("gateway: failed to encode response envelope", "error", err)
		return
	}
	_ = sink.SendRaw(data)
}

// errorMessage renders err for the client: domain errors (yerrors,
// plugin.Validation) verbatim, everything else masked to a generic string
// after being logged.
func (gw *Gateway) errorMessage(reqType string, err error) string {
	if ye, ok := err.(*yerrors.Error); ok {
		return ye.Error()
	}
	if pe, ok := err.(*plugin.Error); ok {
		if pe.IsInternal() {
			slog.Error("gateway: internal plugin error", "type", reqType, "error", pe.Error())
			return "Internal error"
		}
		return pe.Error()
	}
	slog.Error("gateway: infrastructure error", "type", reqType, "error", err)
	return "Internal error"
}

func (gw *Gateway) route(ctx context.Context, sink Sink, caller model.UserId, env requestEnvelope) (any, error) {
	switch env.Type {
	case "AuthEmail":
		return gw.handleAuthEmail(ctx, sink, env)
	case "AuthDeviceId":
		return gw.handleAuthDeviceId(ctx, sink, env)
	case "AuthCustomId":
		return gw.handleAuthCustomId(ctx, sink, env)
	case "RefreshToken":
		return gw.handleRefreshToken(ctx, sink, env)
	case "RestoreToken":
		return gw.handleRestoreToken(ctx, sink, env)
	case "Logout":
		return gw.handleLogout(ctx, sink)

	case "Me":
		return gw.handleMe(ctx, caller)
	case "GetUser":
		return gw.handleGetUser(ctx, caller, env)
	case "UpdateUser":
		return gw.handleUpdateUser(ctx, caller, env)

	case "CreateRoom":
		return gw.handleCreateRoom(ctx, caller, env)
	case "UpdateRoom":
		return gw.handleUpdateRoom(ctx, caller, env)
	case "JoinToRoom":
		return gw.handleJoinToRoom(ctx, sink, caller, env)
	case "RoomDisconnect":
		return gw.handleRoomDisconnect(ctx, caller, env)
	case "MessageToRoom":
		return gw.handleMessageToRoom(ctx, caller, env)
	case "Play":
		return gw.handlePlay(ctx, caller, env)
	case "KickUserFromroom":
		return gw.handleKickOrBan(ctx, caller, env, false)
	case "BanUserFromroom":
		return gw.handleKickOrBan(ctx, caller, env, true)
	case "ProcessWaitingUser":
		return gw.handleProcessWaitingUser(ctx, caller, env)
	case "RoomList":
		return gw.handleRoomList(ctx, env)
	case "GetRoom":
		return gw.handleGetRoom(ctx, env)

	default:
		return nil, yerrors.New(yerrors.UnknownRequestType)
	}
}
