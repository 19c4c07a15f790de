package reasoning

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrAlreadyRunning is returned at admission when the requester already has a run in flight.
var ErrAlreadyRunning = errors.New("already running")

var (
	ErrEmptyRequester = errors.New("missing requester id")
	ErrEmptyPrompt    = errors.New("missing prompt")
)

// TransportError reports that the backend could not be reached or answered with a
// non-success status.
type TransportError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, "status %d", e.StatusCode)
		if body := strings.TrimSpace(e.Body); body != "" {
			b.WriteString(": ")
			b.WriteString(body)
		}
		return b.String()
	}
	if e.Err != nil {
		b.WriteString(e.Err.Error())
		return b.String()
	}
	b.WriteString("transport error")
	return b.String()
}

func (e *TransportError) Unwrap() error { return e.Err }

// BackendContentError reports a malformed or empty response payload.
type BackendContentError struct {
	Reason string
	Err    error
}

func (e *BackendContentError) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}

func (e *BackendContentError) Unwrap() error { return e.Err }

func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

func IsBackendContentError(err error) bool {
	var ce *BackendContentError
	return errors.As(err, &ce)
}
