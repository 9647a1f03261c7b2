package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("status conflict")
	ErrStorageUnavailable = errors.New("storage unavailable")
)
