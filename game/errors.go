package game

import "errors"

var (
	ErrRoomNotFound        = errors.New("room-not-found")
	ErrRoomExists          = errors.New("room-already-exists")
	ErrParticipantNotFound = errors.New("participant-not-found")
	ErrRoundNotFound       = errors.New("round-not-found")
	ErrPlayerNotFound      = errors.New("player-not-found")
)

var (
	ErrInvalidState       = errors.New("invalid-state")
	ErrInsufficientPoints = errors.New("insufficient-points")
	ErrAlreadyLeading     = errors.New("already-leading")
	ErrAlreadyFinished    = errors.New("already-finished")
)

// ErrRaceLost means the atomic transform gave up because another writer kept
// committing first. The caller should recompute the cost and may retry.
var ErrRaceLost = errors.New("race-lost")

var (
	ErrInvalidSettings = errors.New("invalid-settings")
	ErrInvalidName     = errors.New("invalid-name")
	ErrInvalidTier     = errors.New("invalid-tier")
)
