package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("call already stored for filename")
	ErrOpen     = errors.New("open database")
	ErrInvalid  = errors.New("invalid record")
)
