// Package user implements the User Coordinator: access-level-filtered
// profile reads and the single Update entry point governing name/email/
// password/device/custom-id changes and user-meta merging.
package user

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/yummyhq/yummy/internal/v1/model"
	"github.com/yummyhq/yummy/internal/v1/persistence"
	"github.com/yummyhq/yummy/internal/v1/state"
	"github.com/yummyhq/yummy/internal/v1/yerrors"
)

// Coordinator serves profile lookups and mutations against State, writing
// through to Persistence for anything durable.
type Coordinator struct {
	store       state.Store
	persist     *persistence.Store
	maxUserMeta int
}

// New builds a User Coordinator. maxUserMeta caps the number of metas a
// single account may carry after an Update.
func New(store state.Store, persist *persistence.Store, maxUserMeta int) *Coordinator {
	return &Coordinator{store: store, persist: persist, maxUserMeta: maxUserMeta}
}

// Information is the access-filtered profile view returned to a caller.
type Information struct {
	Id     model.UserId
	Name   string
	Email  string
	Type   model.UserType
	Online bool
	Metas  map[string]model.MetaType[model.UserMetaAccess]
}

// GetMe returns the caller's own profile, always at UserMetaMe visibility.
func (c *Coordinator) GetMe(ctx context.Context, caller model.UserId) (*Information, error) {
	return c.get(ctx, caller, model.UserMetaMe)
}

// GetViaSystem returns a profile at full System visibility, for internal
// bookkeeping callers (plugins, admin tooling) rather than end clients.
func (c *Coordinator) GetViaSystem(ctx context.Context, target model.UserId) (*Information, error) {
	return c.get(ctx, target, model.UserMetaSystem)
}

// Get returns target's profile filtered to whatever requester (possibly the
// zero value for an anonymous caller) is entitled to see.
func (c *Coordinator) Get(ctx context.Context, target model.UserId, requester model.UserId) (*Information, error) {
	if requester.IsNil() {
		return c.get(ctx, target, model.UserMetaAnonymous)
	}
	requesterType, ok, err := c.store.GetUserType(ctx, requester)
	if err != nil {
		return nil, err
	}
	if !ok {
		requesterType = model.UserTypeUser
	}
	access := model.UserMetaUser
	switch requesterType {
	case model.UserTypeAdmin:
		access = model.UserMetaAdmin
	case model.UserTypeMod:
		access = model.UserMetaMod
	}
	return c.get(ctx, target, access)
}

func (c *Coordinator) get(ctx context.Context, target model.UserId, access model.UserMetaAccess) (*Information, error) {
	snapshot, err := c.store.GetUserInformation(ctx, target, access)
	if err != nil {
		return nil, err
	}
	if snapshot == nil {
		return nil, yerrors.New(yerrors.UserNotFound)
	}
	online, err := isOnline(ctx, c.store, target)
	if err != nil {
		return nil, err
	}
	return &Information{
		Id: snapshot.Id, Name: snapshot.Name, Email: snapshot.Email,
		Type: snapshot.Type, Online: online, Metas: snapshot.Metas,
	}, nil
}

// isOnline reports whether target currently holds any location entry; kept
// as a free function since it needs no Coordinator state beyond the Store.
func isOnline(ctx context.Context, store state.Store, target model.UserId) (bool, error) {
	_, ok, err := store.GetUserLocation(ctx, target)
	return ok, err
}

// UpdateParams describes an Update request. Nil pointers mean "field not
// given". Target, when the zero value, means "the caller themself".
type UpdateParams struct {
	Target     model.UserId
	Name       *string
	Email      *string
	Password   *string
	DeviceId   *string
	CustomId   *string
	Type       *model.UserType
	Meta       map[string]model.MetaType[model.UserMetaAccess]
	MetaAction model.MetaAction
}

// Update applies the account-shape changes and
// merges the given metas per MetaAction, honoring the caller's derived
// access-level ceiling for meta writes.
func (c *Coordinator) Update(ctx context.Context, caller model.UserId, p UpdateParams) error {
	target := p.Target
	if target.IsNil() {
		target = caller
	}

	hasAccountUpdate := p.Name != nil || p.Email != nil || p.Password != nil || p.DeviceId != nil || p.CustomId != nil || p.Type != nil
	if !hasAccountUpdate && len(p.Meta) == 0 {
		return yerrors.New(yerrors.UpdateInformationMissing)
	}

	accessLevel, err := c.accessLevelFor(ctx, caller, target)
	if err != nil {
		return err
	}

	existing, err := c.persist.FindUserById(ctx, target)
	if err != nil {
		return fmt.Errorf("user: find target: %w", err)
	}
	if existing == nil {
		return yerrors.New(yerrors.UserNotFound)
	}

	fields := persistence.UserFields{}
	if p.Name != nil {
		v := strings.TrimSpace(*p.Name)
		fields.Name = &v
	}
	if p.DeviceId != nil {
		v := strings.TrimSpace(*p.DeviceId)
		fields.DeviceId = &v
	}
	if p.CustomId != nil {
		v := strings.TrimSpace(*p.CustomId)
		fields.CustomId = &v
	}
	if p.Type != nil {
		fields.Type = p.Type
	}
	if p.Password != nil {
		if len(strings.TrimSpace(*p.Password)) < 4 {
			return yerrors.New(yerrors.PasswordIsTooSmall)
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(*p.Password), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("user: hash password: %w", err)
		}
		hashed := string(hash)
		fields.PasswordHash = &hashed
	}
	if p.Email != nil {
		if existing.HasEmail() {
			return yerrors.New(yerrors.CannotChangeEmail)
		}
		fields.Email = p.Email
	}

	if err := c.applyMetaAction(ctx, target, accessLevel, p.Meta, p.MetaAction); err != nil {
		return err
	}

	if hasAccountUpdate {
		affected, err := c.persist.UpdateUser(ctx, target, fields)
		if err != nil {
			return fmt.Errorf("user: update account: %w", err)
		}
		if affected == 0 {
			return yerrors.New(yerrors.UserNotFound)
		}
	}

	snapshot, err := c.store.GetUserInformation(ctx, target, accessLevel)
	if err != nil {
		return err
	}
	if snapshot == nil {
		snapshot = &state.UserInfoSnapshot{Id: target}
	}
	if fields.Name != nil {
		snapshot.Name = *fields.Name
	}
	if fields.Email != nil {
		snapshot.Email = *fields.Email
	}
	if fields.Type != nil {
		snapshot.Type = *fields.Type
	}
	return c.store.UpdateUserInformation(ctx, target, *snapshot)
}

func (c *Coordinator) accessLevelFor(ctx context.Context, caller, target model.UserId) (model.UserMetaAccess, error) {
	if caller == target {
		return model.UserMetaMe, nil
	}
	callerType, ok, err := c.store.GetUserType(ctx, caller)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, yerrors.New(yerrors.UserNotFound)
	}
	switch callerType {
	case model.UserTypeAdmin:
		return model.UserMetaAdmin, nil
	case model.UserTypeMod:
		return model.UserMetaMod, nil
	default:
		return model.UserMetaUser, nil
	}
}

// applyMetaAction mirrors the room coordinator's meta-merge branching:
// OnlyAddOrUpdate upserts and leaves the rest untouched, RemoveUnusedMetas
// upserts then deletes every visible key not in the given map,
// RemoveAllMetas deletes every visible key and ignores the given map's
// values entirely (still validating their access level, matching the
// source behavior of rejecting an over-privileged meta write outright).
func (c *Coordinator) applyMetaAction(ctx context.Context, target model.UserId, accessLevel model.UserMetaAccess, metas map[string]model.MetaType[model.UserMetaAccess], action model.MetaAction) error {
	for key, value := range metas {
		if value.Access() > accessLevel {
			return yerrors.WithKey(yerrors.MetaAccessLevelCannotBeBiggerThanUsersAccessLevel, key)
		}
	}

	existing, err := c.store.GetUserMeta(ctx, target, accessLevel)
	if err != nil {
		return err
	}

	switch action {
	case model.RemoveAllMetas:
		for key := range existing {
			if err := c.store.RemoveUserMeta(ctx, target, key); err != nil {
				return err
			}
			if err := c.persist.RemoveUserMeta(ctx, target, key); err != nil {
				return err
			}
		}
		existing = map[string]model.MetaType[model.UserMetaAccess]{}
	case model.RemoveUnusedMetas:
		for key := range existing {
			if _, keep := metas[key]; !keep {
				if err := c.store.RemoveUserMeta(ctx, target, key); err != nil {
					return err
				}
				if err := c.persist.RemoveUserMeta(ctx, target, key); err != nil {
					return err
				}
				delete(existing, key)
			}
		}
	}

	if action == model.RemoveAllMetas {
		return nil
	}

	finalCount := len(existing)
	for key, value := range metas {
		if value.IsNull() {
			continue
		}
		if _, already := existing[key]; !already {
			finalCount++
		}
	}
	if c.maxUserMeta > 0 && finalCount > c.maxUserMeta {
		return yerrors.New(yerrors.MetaLimitOverToMaximum)
	}

	for key, value := range metas {
		if value.IsNull() {
			if err := c.store.RemoveUserMeta(ctx, target, key); err != nil {
				return err
			}
			if err := c.persist.RemoveUserMeta(ctx, target, key); err != nil {
				return err
			}
			continue
		}
		if err := c.store.SetUserMeta(ctx, target, key, value); err != nil {
			return err
		}
		if err := c.persist.SetUserMeta(ctx, target, key, value); err != nil {
			return err
		}
	}
	return nil
}
