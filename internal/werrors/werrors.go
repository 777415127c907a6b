// Package werrors defines the sentinel error taxonomy shared across the
// worker lifecycle and its daemons. Callers compare with errors.Is; internal
// code wraps these with fmt.Errorf("...: %w", ErrX) to attach context.
package werrors

import "errors"

var (
	// ErrValidation means a Work value failed its invariants. Local, never retried.
	ErrValidation = errors.New("validation error")
	// ErrResolution means a function path or command could not be resolved.
	ErrResolution = errors.New("resolution error")
	// ErrTimeout means execution exceeded work.timeout.
	ErrTimeout = errors.New("timeout")
	// ErrUserFailure means the handler raised or the command exited nonzero.
	ErrUserFailure = errors.New("user failure")
	// ErrTransient means a 5xx or network error against a collaborator service.
	ErrTransient = errors.New("transient failure")
	// ErrInvalidRequest means a 4xx from a collaborator service. Never retried.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrArchive means a storage driver failed a single artifact operation.
	ErrArchive = errors.New("archive failure")
	// ErrUnimplemented means a storage driver does not support the requested method.
	ErrUnimplemented = errors.New("unimplemented")
)
