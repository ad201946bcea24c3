// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow handlers to distinguish
// between failure scenarios without inspecting driver errors.
package repository

import "errors"

// ErrTreatmentNotFound is returned when no treatment matches the given id.
// Handlers should translate this into an HTTP 404 response.
var ErrTreatmentNotFound = errors.New("treatment not found")

// ErrUserNotFound is returned when no user has the given email or id.
var ErrUserNotFound = errors.New("user not found")

// ErrEmailExists is returned when the unique email index rejects an insert.
// Handlers should translate this into an HTTP 409 response.
var ErrEmailExists = errors.New("email already exists")

// ErrTokenNotFound is returned when a refresh token is unknown, revoked or
// expired.
var ErrTokenNotFound = errors.New("refresh token not found")
