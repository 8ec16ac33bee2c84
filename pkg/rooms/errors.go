package rooms

import "errors"

// Seating errors, shared between Positions and Manager.
var (
	ErrRoomFull      = errors.New("room is full")
	ErrAlreadySeated = errors.New("player already seated")
	ErrSeatTaken     = errors.New("seat is taken")
	ErrTeamFull      = errors.New("team is full")
	ErrInvalidChoice = errors.New("invalid seat choice")
)

// Manager errors.
var (
	ErrRoomNotFound          = errors.New("room not found")
	ErrAlreadyInRoom         = errors.New("player already in a room")
	ErrAlreadyInOtherRoom    = errors.New("player already in another room")
	ErrAlreadyInThisRoom     = errors.New("player already in this room")
	ErrRoomNotJoinable       = errors.New("room is not joinable")
	ErrNotInRoom             = errors.New("player not in a room")
	ErrPlayerNotDisconnected = errors.New("player is not disconnected")
	ErrGracePeriodExpired    = errors.New("grace period expired")
	ErrInvalidTransition     = errors.New("invalid status transition")
	ErrBotStillStopping      = errors.New("bot still stopping")
)
