package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/yummyhq/yummy/internal/v1/logging"
	"github.com/yummyhq/yummy/internal/v1/model"
	"github.com/yummyhq/yummy/internal/v1/persistence"
	"github.com/yummyhq/yummy/internal/v1/state"
	"github.com/yummyhq/yummy/internal/v1/yerrors"
)

// Result is returned by every minting path: the signed token plus the
// claims it encodes, so the caller (the transport layer) can mark its sink
// authenticated without re-parsing the token.
type Result struct {
	Token  string
	Claims Claims
}

// Coordinator implements credential validation, session minting/refresh/
// restore, and the disconnect grace window. Its mutex guards session
// minting and the grace-timer map only; the rest of each public method runs
// without a coordinator-wide lock, so concurrent calls can interleave.
type Coordinator struct {
	mu sync.Mutex

	tokens   *TokenManager
	store    state.Store
	persist  *persistence.Store
	serverID string
	graceWait time.Duration

	timers map[model.SessionId]*time.Timer
}

// New builds an Auth Coordinator.
func New(tokens *TokenManager, store state.Store, persist *persistence.Store, serverID string, graceWait time.Duration) *Coordinator {
	return &Coordinator{
		tokens:    tokens,
		store:     store,
		persist:   persist,
		serverID:  serverID,
		graceWait: graceWait,
		timers:    make(map[model.SessionId]*time.Timer),
	}
}

func wrapBadCredentials() error { return yerrors.New(yerrors.EmailOrPasswordNotValid) }

func (c *Coordinator) mint(ctx context.Context, user model.User, session model.SessionId) (*Result, error) {
	c.mu.Lock()
	sid, err := c.store.NewSession(ctx, user.Id, c.serverID, user.Type)
	c.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("auth: mint session: %w", err)
	}
	if !session.IsNil() {
		sid = session
	}

	token, claims, err := c.tokens.Generate(user.Id, sid, user.Name, user.Email, user.Type)
	if err != nil {
		return nil, err
	}
	return &Result{Token: token, Claims: claims}, nil
}

// Email implements the Email+Password credential path.
func (c *Coordinator) Email(ctx context.Context, email, password string, createIfMissing bool) (*Result, error) {
	existing, err := c.persist.FindUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("auth: lookup user by email: %w", err)
	}

	var user model.User
	switch {
	case existing != nil:
		if !existing.HasPassword() || bcrypt.CompareHashAndPassword([]byte(existing.PasswordHash), []byte(password)) != nil {
			return nil, wrapBadCredentials()
		}
		user = *existing
	case createIfMissing:
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("auth: hash password: %w", err)
		}
		user = model.User{
			Id:           model.NewUserId(),
			Email:        email,
			PasswordHash: string(hash),
			Type:         model.UserTypeUser,
			CreatedAt:    time.Now().UTC(),
			LastLoginAt:  time.Now().UTC(),
		}
		if err := c.persist.CreateUser(ctx, user); err != nil {
			return nil, fmt.Errorf("auth: create user: %w", err)
		}
	default:
		return nil, wrapBadCredentials()
	}

	if existing != nil {
		if err := c.persist.UpdateLastLogin(ctx, user.Id, time.Now().UTC()); err != nil {
			logging.Warn(ctx, "failed to update last login", zap.Error(err))
		}
	}

	return c.mint(ctx, user, model.NilSessionId)
}

// DeviceId implements the DeviceId credential path: always succeeds,
// creating a fresh account when the device id is unrecognized.
func (c *Coordinator) DeviceId(ctx context.Context, deviceID string) (*Result, error) {
	existing, err := c.persist.FindUserByDeviceId(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("auth: lookup user by device id: %w", err)
	}
	return c.loginOrCreate(ctx, existing, func() model.User {
		return model.User{Id: model.NewUserId(), DeviceId: deviceID, Type: model.UserTypeUser, CreatedAt: time.Now().UTC(), LastLoginAt: time.Now().UTC()}
	})
}

// CustomId implements the CustomId credential path: always succeeds,
// creating a fresh account when the custom id is unrecognized.
func (c *Coordinator) CustomId(ctx context.Context, customID string) (*Result, error) {
	existing, err := c.persist.FindUserByCustomId(ctx, customID)
	if err != nil {
		return nil, fmt.Errorf("auth: lookup user by custom id: %w", err)
	}
	return c.loginOrCreate(ctx, existing, func() model.User {
		return model.User{Id: model.NewUserId(), CustomId: customID, Type: model.UserTypeUser, CreatedAt: time.Now().UTC(), LastLoginAt: time.Now().UTC()}
	})
}

func (c *Coordinator) loginOrCreate(ctx context.Context, existing *model.User, create func() model.User) (*Result, error) {
	var user model.User
	if existing != nil {
		user = *existing
	} else {
		user = create()
		if err := c.persist.CreateUser(ctx, user); err != nil {
			return nil, fmt.Errorf("auth: create user: %w", err)
		}
	}
	return c.mint(ctx, user, model.NilSessionId)
}

// Refresh validates an existing token and reissues it with a fresh expiry,
// keeping the same session id.
func (c *Coordinator) Refresh(_ context.Context, tokenString string) (*Result, error) {
	claims, err := c.tokens.Validate(tokenString)
	if err != nil {
		return nil, yerrors.New(yerrors.TokenNotValid)
	}

	token, newClaims, err := c.tokens.Generate(
		model.UserId(claims.UserID), model.SessionId(claims.SessionID), claims.Name, claims.Email, claims.UserType)
	if err != nil {
		return nil, err
	}
	return &Result{Token: token, Claims: newClaims}, nil
}

// Restore validates a token; if the session is still online it cancels any
// pending disconnect timer and rebinds to it, else it mints a fresh session
// for the same user.
func (c *Coordinator) Restore(ctx context.Context, tokenString string) (*Result, error) {
	claims, err := c.tokens.Validate(tokenString)
	if err != nil {
		return nil, yerrors.New(yerrors.TokenNotValid)
	}

	session := model.SessionId(claims.SessionID)
	online, err := c.store.IsSessionOnline(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("auth: check session online: %w", err)
	}

	if online {
		c.StopUserTimeout(session)
		token, newClaims, err := c.tokens.Generate(
			model.UserId(claims.UserID), session, claims.Name, claims.Email, claims.UserType)
		if err != nil {
			return nil, err
		}
		return &Result{Token: token, Claims: newClaims}, nil
	}

	// Past the grace window: mint a fresh session through the same path
	// login uses, so it is actually registered in State (IsSessionOnline,
	// GetUserLocation) instead of only existing inside the token's claims.
	user := model.User{Id: model.UserId(claims.UserID), Name: claims.Name, Email: claims.Email, Type: claims.UserType}
	return c.mint(ctx, user, model.NilSessionId)
}

// Logout closes the session immediately, with no grace window.
func (c *Coordinator) Logout(ctx context.Context, claims Claims) error {
	c.StopUserTimeout(model.SessionId(claims.SessionID))
	return c.store.CloseSession(ctx, model.UserId(claims.UserID), model.SessionId(claims.SessionID))
}

// StartUserTimeout schedules onExpire to run after the configured grace
// window unless cancelled first by Restore or StopUserTimeout. Used when a
// client sink closes without an explicit Logout.
func (c *Coordinator) StartUserTimeout(session model.SessionId, onExpire func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.timers[session]; ok {
		existing.Stop()
	}
	c.timers[session] = time.AfterFunc(c.graceWait, func() {
		c.mu.Lock()
		delete(c.timers, session)
		c.mu.Unlock()
		onExpire()
	})
}

// StopUserTimeout cancels a pending disconnect timer, if any.
func (c *Coordinator) StopUserTimeout(session model.SessionId) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if timer, ok := c.timers[session]; ok {
		timer.Stop()
		delete(c.timers, session)
	}
}
