package chat

import "errors"

// Sentinel errors shared by Service and its Store implementations. The texts of
// the input-validation ones are surfaced verbatim to clients.
var (
	ErrInvalidUser         = errors.New("invalid user")
	ErrNotEnoughMembers    = errors.New("must have at least 1 member")
	ErrNotRoomMember       = errors.New("invalid room")
	ErrRoomNotExist        = errors.New("invalid room id")
	ErrRoomRequired        = errors.New("roomId is required")
	ErrMessageRequired     = errors.New("message is required")
	ErrBadMembers          = errors.New("bad members list")
	ErrUserExists          = errors.New("user already exists")
	ErrRoomVersionConflict = errors.New("room was updated concurrently")
)
