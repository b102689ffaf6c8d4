package shared

import (
	"errors"
	"fmt"
)

var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// Configuration errors
	ErrMissingConfig      = fmt.Errorf("configuration not found")
	ErrInvalidConfig      = fmt.Errorf("invalid configuration")
	ErrMissingCredentials = fmt.Errorf("missing credentials")
	ErrInvalidCredentials = fmt.Errorf("invalid credentials")

	// Authentication errors
	ErrAuthFailed       = fmt.Errorf("authentication failed")
	ErrNotAuthenticated = fmt.Errorf("not authenticated")
	ErrTimeout          = fmt.Errorf("operation timed out")

	// Harvest errors
	ErrInvalidParameter = fmt.Errorf("invalid parameter")
	ErrRemoteService    = fmt.Errorf("remote service error")
	ErrMalformedEntity  = fmt.Errorf("malformed entity")
	ErrFilesystem       = fmt.Errorf("filesystem error")

	// Input validation errors
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)

// RemoteError describes a failed call against the remote API.
//
// Status is zero when the request never produced a response (transport failure).
type RemoteError struct {
	Endpoint string
	Status   int
	Err      error
}

func (e *RemoteError) Error() string {
	switch {
	case e.Status == 0 && e.Err != nil:
		return fmt.Sprintf("%v: %s: %v", ErrRemoteService, e.Endpoint, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%v: %s: status %d: %v", ErrRemoteService, e.Endpoint, e.Status, e.Err)
	default:
		return fmt.Sprintf("%v: %s: status %d", ErrRemoteService, e.Endpoint, e.Status)
	}
}

func (e *RemoteError) Unwrap() error { return e.Err }

// Is reports [ErrRemoteService] so callers can match without a type assertion.
func (e *RemoteError) Is(target error) bool { return target == ErrRemoteService }

// MalformedEntityError reports a raw item that is missing a required field.
type MalformedEntityError struct {
	Index int    // position of the item in its collection, -1 when unknown
	Field string // dotted path of the missing field
	Err   error  // optional decode error
}

func (e *MalformedEntityError) Error() string {
	msg := fmt.Sprintf("%v: item %d: missing %s", ErrMalformedEntity, e.Index, e.Field)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MalformedEntityError) Unwrap() error { return e.Err }

func (e *MalformedEntityError) Is(target error) bool { return target == ErrMalformedEntity }

// IsRemote reports whether err came from the remote API and returns its status.
func IsRemote(err error) (*RemoteError, bool) {
	var re *RemoteError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
