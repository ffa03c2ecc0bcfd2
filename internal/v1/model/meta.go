package model

import (
	"encoding/json"
	"fmt"
)

// UserMetaAccess is the totally-ordered visibility scale for UserMeta values.
// Anonymous is lowest, System is highest.
type UserMetaAccess int

const (
	UserMetaAnonymous UserMetaAccess = iota
	UserMetaUser
	UserMetaFriend
	UserMetaMe
	UserMetaMod
	UserMetaAdmin
	UserMetaSystem
)

// RoomMetaAccess is the totally-ordered visibility scale for RoomMeta values.
type RoomMetaAccess int

const (
	RoomMetaAnonymous RoomMetaAccess = iota
	RoomMetaUser
	RoomMetaModerator
	RoomMetaOwner
	RoomMetaAdmin
	RoomMetaSystem
)

// metaKind discriminates the MetaType tagged union.
type metaKind int

const (
	metaNull metaKind = iota
	metaNumber
	metaString
	metaBool
	metaList
)

// MetaType is a tagged union over {Null, Number, String, Bool, List},
// parameterized over the access-level scale it carries (UserMetaAccess or
// RoomMetaAccess). Null carries no access-level and always reports the
// scale's zero value.
type MetaType[A ~int] struct {
	kind   metaKind
	access A
	number float64
	str    string
	bool_  bool
	list   []MetaType[A]
}

// NewMetaNull builds the Null variant.
func NewMetaNull[A ~int]() MetaType[A] { return MetaType[A]{kind: metaNull} }

// NewMetaNumber builds the Number variant at the given access level.
func NewMetaNumber[A ~int](v float64, access A) MetaType[A] {
	return MetaType[A]{kind: metaNumber, number: v, access: access}
}

// NewMetaString builds the String variant at the given access level.
func NewMetaString[A ~int](v string, access A) MetaType[A] {
	return MetaType[A]{kind: metaString, str: v, access: access}
}

// NewMetaBool builds the Bool variant at the given access level.
func NewMetaBool[A ~int](v bool, access A) MetaType[A] {
	return MetaType[A]{kind: metaBool, bool_: v, access: access}
}

// NewMetaList builds the List variant at the given access level.
func NewMetaList[A ~int](v []MetaType[A], access A) MetaType[A] {
	return MetaType[A]{kind: metaList, list: v, access: access}
}

// IsNull reports whether this value is the Null variant.
func (m MetaType[A]) IsNull() bool { return m.kind == metaNull }

// Access returns the value's access-level (zero value for Null).
func (m MetaType[A]) Access() A { return m.access }

// Value returns the underlying Go value: nil, float64, string, bool, or []MetaType[A].
func (m MetaType[A]) Value() any {
	switch m.kind {
	case metaNumber:
		return m.number
	case metaString:
		return m.str
	case metaBool:
		return m.bool_
	case metaList:
		return m.list
	default:
		return nil
	}
}

type wireForm[A ~int] struct {
	Access *A  `json:"access,omitempty"`
	Value  any `json:"value"`
}

// MarshalJSON emits the {access, value} object form whenever the access
// level is non-default (non-zero); otherwise it emits a bare scalar/array,
// matching the original source's wire convention.
func (m MetaType[A]) MarshalJSON() ([]byte, error) {
	if m.kind == metaNull {
		return []byte("null"), nil
	}

	value := m.Value()
	if m.kind == metaList {
		value = m.list
	}

	if m.access == A(0) {
		return json.Marshal(value)
	}
	access := m.access
	return json.Marshal(wireForm[A]{Access: &access, Value: value})
}

// UnmarshalJSON accepts both the bare scalar/array form (implying the
// default access level) and the {access, value} object form.
func (m *MetaType[A]) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*m = MetaType[A]{kind: metaNull}
		return nil
	}

	// Try the explicit object form first.
	var wf struct {
		Access *A              `json:"access"`
		Value  json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &wf); err == nil && wf.Value != nil {
		access := A(0)
		if wf.Access != nil {
			access = *wf.Access
		}
		return m.unmarshalValue(wf.Value, access)
	}

	return m.unmarshalValue(data, A(0))
}

func (m *MetaType[A]) unmarshalValue(data json.RawMessage, access A) error {
	var probe any
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}

	switch v := probe.(type) {
	case nil:
		*m = MetaType[A]{kind: metaNull}
	case float64:
		*m = NewMetaNumber(v, access)
	case string:
		*m = NewMetaString(v, access)
	case bool:
		*m = NewMetaBool(v, access)
	case []any:
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var list []MetaType[A]
		if err := json.Unmarshal(raw, &list); err != nil {
			return err
		}
		*m = NewMetaList(list, access)
	default:
		return fmt.Errorf("model: unsupported meta value type %T", v)
	}
	return nil
}

// MetaAction governs how a new meta map is merged into an existing
// collection during an update operation.
type MetaAction int

const (
	// OnlyAddOrUpdate upserts each given key, leaving others untouched.
	OnlyAddOrUpdate MetaAction = iota
	// RemoveUnusedMetas upserts each given key and deletes every
	// pre-existing key visible at the caller's access level.
	RemoveUnusedMetas
	// RemoveAllMetas deletes every pre-existing key visible at the
	// caller's access level and ignores the given keys entirely.
	RemoveAllMetas
)
