package database

import "errors"

var (
	// ErrInvalidConfig invalid configuration
	ErrInvalidConfig = errors.New("invalid database config")

	// ErrRecordNotFound record not found
	ErrRecordNotFound = errors.New("record not found")
)
