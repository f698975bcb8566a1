package storage

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyExists  = errors.New("already exists")
	ErrReadOnly       = errors.New("storage is read-only")
	ErrNotInitialized = errors.New("storage is not initialized")
	ErrAlreadyInit    = errors.New("storage is already initialized")
	ErrNameTooLong    = errors.New("name exceeds 65535 bytes")
)
