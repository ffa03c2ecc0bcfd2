// Package model holds Yummy's core domain types: opaque identifiers, the
// tagged MetaType value, and the enums shared by every coordinator.
package model

import "github.com/google/uuid"

// UserId is an opaque 128-bit user identifier, rendered canonically.
type UserId string

// SessionId is an opaque 128-bit session identifier.
type SessionId string

// RoomId is an opaque 128-bit room identifier.
type RoomId string

// NilUserId is the reserved zero value for an unset user identifier.
const NilUserId UserId = ""

// NilSessionId is the reserved zero value for an unset session identifier.
const NilSessionId SessionId = ""

// NilRoomId is the reserved zero value for an unset room identifier.
const NilRoomId RoomId = ""

// NewUserId mints a fresh, globally unique user identifier.
func NewUserId() UserId { return UserId(uuid.NewString()) }

// NewSessionId mints a fresh, globally unique session identifier.
func NewSessionId() SessionId { return SessionId(uuid.NewString()) }

// NewRoomId mints a fresh, globally unique room identifier.
func NewRoomId() RoomId { return RoomId(uuid.NewString()) }

// IsNil reports whether the identifier is the reserved unset value.
func (u UserId) IsNil() bool { return u == NilUserId }

// IsNil reports whether the identifier is the reserved unset value.
func (s SessionId) IsNil() bool { return s == NilSessionId }

// IsNil reports whether the identifier is the reserved unset value.
func (r RoomId) IsNil() bool { return r == NilRoomId }

func (u UserId) String() string    { return string(u) }
func (s SessionId) String() string { return string(s) }
func (r RoomId) String() string    { return string(r) }
