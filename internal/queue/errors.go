package queue

import "errors"

// Failure modes from spec §4.1 "Failure model".
var (
	ErrNotFound           = errors.New("queue: task not found")
	ErrInvalidTransition  = errors.New("queue: invalid status transition")
	ErrConflict           = errors.New("queue: conditional update conflict")
	ErrStorageUnavailable = errors.New("queue: storage unavailable")
)
