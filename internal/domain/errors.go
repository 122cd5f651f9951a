package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrWSDisconnect  = errors.New("websocket disconnected")
	ErrLockHeld      = errors.New("lock already held")

	// ErrInsufficientData marks a series or window too short to evaluate.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrDataGap is returned by feeds that detected missing bars.
	ErrDataGap = errors.New("data gap")
	// ErrTransient wraps I/O failures that only abandon the current tick.
	ErrTransient = errors.New("transient failure")
	// ErrFatal wraps failures that must halt the decision loop.
	ErrFatal = errors.New("fatal failure")

	ErrDuplicateFill      = errors.New("fill already applied")
	ErrDuplicateIntent    = errors.New("intent already submitted")
	ErrUnknownIntent      = errors.New("unknown intent")
	ErrInvalidConfig      = errors.New("invalid strategy config")
	ErrInvalidSearchSpace = errors.New("invalid search space")
	ErrInvalidLimits      = errors.New("invalid risk limits")
	ErrRevisionStale      = errors.New("revision is not newer than the active one")
)
