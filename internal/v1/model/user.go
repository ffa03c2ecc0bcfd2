package model

import "time"

// UserType is the privilege tier a user account carries, independent of any
// room-scoped role.
type UserType int

const (
	UserTypeUser UserType = iota
	UserTypeMod
	UserTypeAdmin
)

// User is a registered account. Email, DeviceId, CustomId and PasswordHash
// are optional: a session may be minted from any one credential kind, and a
// guest user may carry none of them.
type User struct {
	Id           UserId
	Name         string
	Email        string
	DeviceId     string
	CustomId     string
	PasswordHash string
	Type         UserType
	CreatedAt    time.Time
	LastLoginAt  time.Time
}

// HasEmail reports whether the account has a registered email credential.
func (u User) HasEmail() bool { return u.Email != "" }

// HasPassword reports whether the account has a password hash set.
func (u User) HasPassword() bool { return u.PasswordHash != "" }

// AccessLevel derives the UserMetaAccess ceiling a viewer looking at this
// user is entitled to, given the viewer's own identity and type.
//
// Me: the viewer is this user. System: never granted here — callers that
// need System-level visibility (internal bookkeeping) bypass this derivation
// entirely. Friend is not derivable from the User record alone; callers that
// track a friends list pass UserMetaFriend explicitly when applicable.
func (u User) AccessLevel(viewerId UserId, viewerType UserType) UserMetaAccess {
	if viewerId == u.Id {
		return UserMetaMe
	}
	switch viewerType {
	case UserTypeAdmin:
		return UserMetaAdmin
	case UserTypeMod:
		return UserMetaMod
	default:
		if viewerId.IsNil() {
			return UserMetaAnonymous
		}
		return UserMetaUser
	}
}
