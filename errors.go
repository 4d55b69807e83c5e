package idebridge

import (
	"errors"
	"fmt"
	"syscall"
)

// BindReason classifies why a listener failed to bind, so callers can give
// differentiated guidance (e.g. "port already taken, pick another" vs
// "insufficient privileges").
type BindReason int

const (
	// BindReasonUnknown covers bind failures with no more specific class.
	BindReasonUnknown BindReason = iota
	// BindReasonPortInUse means another process already holds the address.
	BindReasonPortInUse
	// BindReasonPermission means the OS denied binding to the address.
	BindReasonPermission
)

// BindError is a typed startup fault for one transport. A BindError on one
// transport never aborts startup of the other.
type BindError struct {
	Transport string
	Addr      string
	Reason    BindReason
	Err       error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("%s transport failed to bind %s: %v", e.Transport, e.Addr, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

func (r BindReason) String() string {
	switch r {
	case BindReasonPortInUse:
		return "port in use"
	case BindReasonPermission:
		return "permission denied"
	default:
		return "unknown"
	}
}

func classifyBindError(transport, addr string, err error) *BindError {
	reason := BindReasonUnknown
	switch {
	case errors.Is(err, syscall.EADDRINUSE):
		reason = BindReasonPortInUse
	case errors.Is(err, syscall.EACCES):
		reason = BindReasonPermission
	}
	return &BindError{
		Transport: transport,
		Addr:      addr,
		Reason:    reason,
		Err:       err,
	}
}
