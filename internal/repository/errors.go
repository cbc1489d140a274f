// Package repository holds what the storage backends share.
package repository

import "errors"

var (
	// ErrDuplicateEmail is returned when a user is created with an email
	// that is already registered.
	ErrDuplicateEmail = errors.New("email already registered")
	ErrNotFound       = errors.New("record not found")
)
