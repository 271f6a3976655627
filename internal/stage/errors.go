package stage

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrKind classifies a stage failure.
type ErrKind int

const (
	// ErrKindUnreachable is a connection-level failure before any response.
	ErrKindUnreachable ErrKind = iota
	// ErrKindTimeout means the stage did not answer within its budget.
	ErrKindTimeout
	// ErrKindBadStatus is a non-2xx response; Status and Body are set.
	ErrKindBadStatus
	// ErrKindMalformed means the response body could not be decoded.
	ErrKindMalformed
)

// String returns the kind name used in logs.
func (k ErrKind) String() string {
	switch k {
	case ErrKindUnreachable:
		return "unreachable"
	case ErrKindTimeout:
		return "timeout"
	case ErrKindBadStatus:
		return "bad_status"
	case ErrKindMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Error is a classified stage failure. The orchestrator decides per stage
// whether it is hard or soft; the client never aborts the pipeline itself.
type Error struct {
	Stage  string
	Kind   ErrKind
	Status int
	Body   string
	Err    error
}

func (e *Error) Error() string {
	switch e.Kind {
	case ErrKindUnreachable:
		return fmt.Sprintf("cannot reach %s service: %v", e.Stage, e.Err)
	case ErrKindTimeout:
		return fmt.Sprintf("%s request timed out: %v", e.Stage, e.Err)
	case ErrKindBadStatus:
		if e.Body != "" {
			return fmt.Sprintf("%s service returned %d: %s", e.Stage, e.Status, e.Body)
		}
		return fmt.Sprintf("%s service returned %d", e.Stage, e.Status)
	case ErrKindMalformed:
		return fmt.Sprintf("%s service returned malformed response: %v", e.Stage, e.Err)
	default:
		return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
	}
}

// Unwrap exposes the underlying transport or decode error.
func (e *Error) Unwrap() error {
	return e.Err
}

// classifyTransport maps a transport error to timeout or unreachable.
func classifyTransport(stageName string, err error) *Error {
	kind := ErrKindUnreachable
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		kind = ErrKindTimeout
	}
	return &Error{Stage: stageName, Kind: kind, Err: err}
}
