package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
)

var (
	// ErrTransport matches every *TransportError.
	ErrTransport = errors.New("overlay transport failure")
	// ErrParse matches every *ParseError.
	ErrParse = errors.New("overlay parse failure")
)

// TransportError means the resource could not be fetched: the connection failed
// or the server answered outside the 2xx range.
type TransportError struct {
	URL        string
	StatusCode int // zero when no response was received
	Attempts   int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: unexpected status %d after %d attempt(s)", e.URL, e.StatusCode, e.Attempts)
	}
	return fmt.Sprintf("fetch %s after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// ParseError means the body arrived but is not a GeoJSON FeatureCollection.
type ParseError struct {
	URL string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.URL, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

func (e *ParseError) Is(target error) bool { return target == ErrParse }

type statusError struct {
	Code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d %s", e.Code, http.StatusText(e.Code))
}

// retryable reports whether a failed attempt may succeed when repeated: network
// errors, a truncated body, 429 and 5xx responses.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}

	var se *statusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return errors.Is(err, io.ErrUnexpectedEOF)
}
