package rawdl

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedSourceURL is returned by GetFullURL when a root-relative
	// reference is resolved against a source URL without scheme and host.
	ErrMalformedSourceURL = errors.New("source url has no scheme and authority")
	// ErrMalformedHeader is returned by SplitHeader for a segment that is
	// not exactly one key=value pair.
	ErrMalformedHeader = errors.New("malformed header string")
)

// TransportError is returned by Client when a request could not produce a
// usable response: connection or read failures, or a retryable status code
// that was still returned after the retry budget ran out.
type TransportError struct {
	Method string
	URL    string
	// Attempts is the number of attempts made, first try included.
	Attempts int
	// StatusCode is set when the last attempt got a response.
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	msg := fmt.Sprintf("%s %s: giving up after %d attempt(s)", e.Method, e.URL, e.Attempts)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": server returned %d", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
