package registry

import "errors"

var (
	ErrNotFound            = errors.New("plan record not found")
	ErrInvalidRecord       = errors.New("invalid plan record")
	ErrInvalidClassMapping = errors.New("record does not match its plan class")
	ErrPortConflict        = errors.New("local port already held in plan class")
	ErrRangeExhausted      = errors.New("no free local port left in plan class range")
	ErrAlreadyRegistered   = errors.New("plan already registered")
)
