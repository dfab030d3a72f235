// Package apperr holds the error kinds shared by services and HTTP handlers.
// Services wrap these sentinels with fmt.Errorf("...: %w", ...) and handlers
// map them to status codes with errors.Is.
package apperr

import "errors"

var (
	// ErrInvalidArgument marks missing or malformed input.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotFound marks a referenced record that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAccessDenied marks an owner mismatch on a scoped record.
	ErrAccessDenied = errors.New("access denied")
	// ErrUpstream marks a failure in an external collaborator (model call,
	// task store operation mid-dispatch).
	ErrUpstream = errors.New("upstream failure")
)
