package models

import (
	"errors"
	"fmt"
)

var (
	ErrAuthenticationRequired = errors.New("authentication required")
	ErrConnection             = errors.New("connection error")
	ErrNotSelected            = errors.New("node not selected for this operation")
	ErrProcessNotFound        = errors.New("process not found")
	ErrAddressRangeExhausted  = errors.New("address range exhausted")
	ErrInvalidTopology        = errors.New("invalid topology")
	ErrInvalidEnv             = errors.New("invalid environment variable, expected KEY=VALUE")
	ErrUnknownAddress         = errors.New("address is not specified in the config")
	ErrNodeOutOfRange         = errors.New("replica or partition out of range")
)

// ConfigLoadError is fatal: it is raised before any node is contacted.
type ConfigLoadError struct {
	Path string
	Err  error
}

func (e *ConfigLoadError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("cannot load configuration: %v", e.Err)
	}
	return fmt.Sprintf("cannot load configuration %q: %v", e.Path, e.Err)
}

func (e *ConfigLoadError) Unwrap() error { return e.Err }

// NodeError attributes a failure to one node. Err wraps one of
// ErrAuthenticationRequired or ErrConnection so callers can classify with
// errors.Is.
type NodeError struct {
	Address string
	Err     error
}

func (e *NodeError) Error() string { return fmt.Sprintf("%s: %v", e.Address, e.Err) }
func (e *NodeError) Unwrap() error { return e.Err }

// NewAuthError records that credentials were rejected or missing for addr.
func NewAuthError(addr string, cause error) *NodeError {
	return &NodeError{Address: addr, Err: fmt.Errorf("%w: %v", ErrAuthenticationRequired, cause)}
}

// NewConnectionError records any non-authentication failure to reach addr.
func NewConnectionError(addr string, cause error) *NodeError {
	return &NodeError{Address: addr, Err: fmt.Errorf("%w: %v", ErrConnection, cause)}
}

// ImagePullError is only ever logged; it never fails a run.
type ImagePullError struct {
	Address string
	Image   string
	Err     error
}

func (e *ImagePullError) Error() string {
	return fmt.Sprintf("%s: failed to pull image %q: %v", e.Address, e.Image, e.Err)
}

func (e *ImagePullError) Unwrap() error { return e.Err }

// ExitError is returned by units of work whose process finished with a
// non-zero status.
type ExitError struct {
	Container string
	Code      int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("container %q finished with non-zero status (%d)", e.Container, e.Code)
}

// IsAuthError reports whether err is an authentication failure.
func IsAuthError(err error) bool { return errors.Is(err, ErrAuthenticationRequired) }

// IsNotFound reports whether err means the named process does not exist.
func IsNotFound(err error) bool { return errors.Is(err, ErrProcessNotFound) }
