package services

import "errors"

var (
	ErrMatchNotFound  = errors.New("match not found")
	ErrInvalidMatch   = errors.New("invalid match setup")
	ErrForbidden      = errors.New("caller is not allowed to perform this operation")
	ErrMatchNotActive = errors.New("match has not started")
	ErrMatchClosed    = errors.New("match is already finished")
	ErrNotYourTurn    = errors.New("seat is not on turn")
	ErrInvalidAction  = errors.New("invalid action")
	ErrInvalidPayload = errors.New("invalid state payload")
	ErrConflict       = errors.New("match was modified concurrently")

	ErrSnapshotAbsent = errors.New("no snapshot for match")
	ErrSnapshotAhead  = errors.New("snapshot refers to an action that is not in the log")
	ErrSnapshotStale  = errors.New("snapshot is older than the stored one")

	ErrIntentAbsent = errors.New("no live intent")

	ErrProfileNotFound = errors.New("profile not found")
	ErrRecordNotFound  = errors.New("game record not found")

	ErrRateLimited  = errors.New("code was issued too recently")
	ErrCodeNotFound = errors.New("no verification code issued")
	ErrCodeConsumed = errors.New("verification code already used")
	ErrCodeLocked   = errors.New("too many wrong attempts")
	ErrCodeExpired  = errors.New("verification code expired")
	ErrCodeMismatch = errors.New("verification code does not match")
)
