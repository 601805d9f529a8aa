package store

import "errors"

var (
	// ErrInvalidArgument is returned when an id or a name fails validation.
	// It is always detected before any filesystem or network access.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrPathEscape is returned when a resolved path lies outside the novels
	// root. It denotes a security fault, not ordinary bad input.
	ErrPathEscape = errors.New("path escapes the novels root")
	// ErrNotFound is returned for a missing novel, book, chapter or backup.
	ErrNotFound = errors.New("not found")
	// ErrNotConfigured is returned by the remote backend when the user has no
	// remote connection configured.
	ErrNotConfigured = errors.New("remote store not configured")
	// ErrTransientNetwork is returned when the remote server could not be
	// reached or did not answer in time.
	ErrTransientNetwork = errors.New("remote store unavailable")
	// ErrAuth is returned when the remote server rejects the credentials.
	ErrAuth = errors.New("remote store rejected the credentials")
	// ErrConflict is returned when an operation would break a store
	// invariant, such as deleting the Main book.
	ErrConflict = errors.New("conflict")
)
