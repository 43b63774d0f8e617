// Package domain holds the error values shared by the sshgate packages.
package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for well-known failure conditions that cross package
// boundaries. Callers should use [errors.Is] to match these.
var (
	// ErrNoHostKeys means the host key store is empty after loading.
	ErrNoHostKeys = errors.New("no host keys")

	// ErrNoModuli is returned when a DH group is requested but no moduli
	// were loaded.
	ErrNoModuli = errors.New("no moduli available")

	// ErrInvalidBits is returned for a non-positive group size request.
	ErrInvalidBits = errors.New("bit length must be positive")

	// ErrNotStarted is returned when connections are built before a
	// successful start.
	ErrNotStarted = errors.New("factory not started")

	// ErrUnimplemented marks a collaborator that was never supplied.
	ErrUnimplemented = errors.New("unimplemented")

	// ErrServiceDenied is reported when a session asks for a service it
	// may not use yet.
	ErrServiceDenied = errors.New("service denied")
)

// ConfigurationError is a fatal startup error. The server must not accept
// connections after one is returned.
type ConfigurationError struct {
	Op  string
	Err error
}

func (e *ConfigurationError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("configuration: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("configuration: %v", e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// UnimplementedError reports a missing collaborator, such as a host key
// store built without a key source.
type UnimplementedError struct {
	Collaborator string
	Method       string
}

func (e *UnimplementedError) Error() string {
	return fmt.Sprintf("%s: %s unimplemented", e.Collaborator, e.Method)
}

// Is makes UnimplementedError match ErrUnimplemented.
func (e *UnimplementedError) Is(target error) bool {
	return target == ErrUnimplemented
}
