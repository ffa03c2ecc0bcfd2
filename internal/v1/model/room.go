package model

import "time"

// RoomAccessType governs whether room discovery lists a room. Join does not
// check it: any user who has the room id can join, subject to capacity,
// bans and join requests.
type RoomAccessType int

const (
	// RoomPublic rooms are listed by room discovery.
	RoomPublic RoomAccessType = iota
	// RoomPrivate rooms are left out of room discovery.
	RoomPrivate
	// RoomFriend rooms are left out of room discovery, like RoomPrivate.
	RoomFriend
)

// RoomUserType is a totally-ordered, room-scoped role: every Owner is also
// implicitly a Moderator's equal-or-better for permission checks.
type RoomUserType int

const (
	RoomUserTypeUser RoomUserType = iota
	RoomUserTypeModerator
	RoomUserTypeOwner
)

// AtLeast reports whether this role meets or exceeds the required role.
func (r RoomUserType) AtLeast(required RoomUserType) bool { return r >= required }

// Room is a joinable session container.
type Room struct {
	Id              RoomId
	Name            string
	Description     string
	Access          RoomAccessType
	MaxUsers        int
	JoinRequestable bool
	Tags            []string
	CreatedAt       time.Time
}

// HasCapacity reports whether the room can accept another member given its
// current membership count. MaxUsers of zero means unbounded.
func (r Room) HasCapacity(currentUsers int) bool {
	return r.MaxUsers == 0 || currentUsers < r.MaxUsers
}
