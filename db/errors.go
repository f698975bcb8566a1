package db

import "errors"

var (
	ErrKeyNotFound = errors.New("key not found")
	ErrReadOnly    = errors.New("database opened read-only")
)
