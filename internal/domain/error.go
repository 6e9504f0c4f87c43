package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrAlreadyClaimed     = errors.New("job already claimed by another driver")
	ErrJobTerminal        = errors.New("job already in a terminal status")
	ErrJobCancelled       = errors.New("job cancelled")
	ErrDriverStillLive    = errors.New("driver heartbeat is fresh; refusing reclaim")
	ErrNoEligiblePrompts  = errors.New("org has no active prompts or enabled providers")
	ErrLockNotAcquired    = errors.New("distributed lock not acquired")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrInvalidExecContext = errors.New("invalid executor context passed to repository")
)
