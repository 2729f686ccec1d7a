package domain

import "errors"

// Common errors
var (
	ErrNotFound      = errors.New("record not found")
	ErrForbidden     = errors.New("access forbidden: you don't own this resource")
	ErrAlreadyExists = errors.New("record already exists")
	// ErrAlreadyOwned rejects invoice creation when the buyer already holds
	// an active entitlement for the course.
	ErrAlreadyOwned = errors.New("course already owned")
)
