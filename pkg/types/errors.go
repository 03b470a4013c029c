// Package types defines error types for the simulated filesystem.
package types

import (
	"errors"
	"fmt"
)

// Common errors
var (
	// ErrNotFound covers both absent paths and denied ancestor traversal.
	ErrNotFound         = errors.New("no such file or directory")
	ErrPermissionDenied = errors.New("permission denied")
	ErrNameCollision    = errors.New("file exists")
	ErrInvalidOperation = errors.New("invalid operation")
	ErrAuthentication   = errors.New("authentication failure")

	ErrNotDirectory   = fmt.Errorf("%w: not a directory", ErrInvalidOperation)
	ErrIsDirectory    = fmt.Errorf("%w: is a directory", ErrInvalidOperation)
	ErrNotEmpty       = fmt.Errorf("%w: directory not empty", ErrInvalidOperation)
	ErrInvalidMode    = fmt.Errorf("%w: invalid mode", ErrInvalidOperation)
	ErrProtected      = fmt.Errorf("%w: protected identity", ErrInvalidOperation)
	ErrUserNotFound   = errors.New("user does not exist")
	ErrGroupNotFound  = errors.New("group does not exist")
	ErrIdentityExists = errors.New("identity already exists")

	// ErrUnknownApplication is returned by launchers for ids they cannot start.
	ErrUnknownApplication = errors.New("unsupported application")
)

// PathError records a failed filesystem operation and the path it applied to.
type PathError struct {
	Op   string
	Path string
	Err  error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Path, e.Err)
}

func (e *PathError) Unwrap() error {
	return e.Err
}

// PermissionError represents a denied access check with context.
type PermissionError struct {
	Path      string
	Operation Operation
	User      string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission denied: %s on '%s' not allowed for %s", e.Operation, e.Path, e.User)
}

func (e *PermissionError) Unwrap() error {
	return ErrPermissionDenied
}

// IdentityError represents a failed identity registry operation.
type IdentityError struct {
	Op   string
	Name string
	Err  error
}

func (e *IdentityError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Name, e.Err)
}

func (e *IdentityError) Unwrap() error {
	return e.Err
}
