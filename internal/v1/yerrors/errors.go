// Package yerrors defines the taxonomy of domain errors every coordinator
// returns to callers, so transport can map them to a stable wire code
// without string-matching.
package yerrors

import "fmt"

// Code is a stable, wire-visible error identifier.
type Code string

const (
	EmailOrPasswordNotValid                      Code = "EmailOrPasswordNotValid"
	TokenNotValid                                 Code = "TokenNotValid"
	UserNotLoggedIn                               Code = "UserNotLoggedIn"
	PasswordIsTooSmall                            Code = "PasswordIsTooSmall"
	CannotChangeEmail                             Code = "CannotChangeEmail"
	UpdateInformationMissing                      Code = "UpdateInformationMissing"
	MetaLimitOverToMaximum                        Code = "MetaLimitOverToMaximum"
	MetaAccessLevelCannotBeBiggerThanUsersAccessLevel Code = "MetaAccessLevelCannotBeBiggerThanUsersAccessLevel"
	RoomNotFound                                  Code = "RoomNotFound"
	UserNotFound                                  Code = "UserNotFound"
	UserAlreadyInRoom                             Code = "UserAlreadyInRoom"
	UserJoinedOtherRoom                           Code = "UserJoinedOtherRoom"
	AlreadyRequested                              Code = "AlreadyRequested"
	UserCouldNotFoundInRoom                       Code = "UserCouldNotFoundInRoom"
	RoomHasMaxUsers                               Code = "RoomHasMaxUsers"
	UserDoesNotHaveEnoughPermission               Code = "UserDoesNotHaveEnoughPermission"
	UserNotInTheRoom                              Code = "UserNotInTheRoom"
	BannedFromRoom                                Code = "BannedFromRoom"
	UnknownRequestType                            Code = "UnknownRequestType"
	RateLimited                                   Code = "RateLimited"
)

// Error is the concrete error type every coordinator returns for a domain
// failure. Key, when non-empty, names the offending meta key for errors
// parameterized by one (MetaAccessLevelCannotBeBiggerThanUsersAccessLevel).
type Error struct {
	Code Code
	Key  string
}

// New builds a bare Error for the given code.
func New(code Code) *Error { return &Error{Code: code} }

// WithKey builds an Error parameterized by a meta key.
func WithKey(code Code, key string) *Error { return &Error{Code: code, Key: key} }

func (e *Error) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s(%s)", e.Code, e.Key)
	}
	return string(e.Code)
}

// Is reports whether target carries the same Code, ignoring Key — so
// errors.Is(err, yerrors.New(yerrors.RoomNotFound)) matches regardless of
// whether either side set Key.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}
