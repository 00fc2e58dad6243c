package fetch

import (
	"fmt"
	"net/http"
)

// HTTPStatusError reports a response with a status other than 200 OK.
// Callers treat it as a skip-with-log condition, never a retry trigger.
type HTTPStatusError struct {
	Code int
	URL  string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %d (%s) for %s", e.Code, http.StatusText(e.Code), e.URL)
}

// StatusCode returns the response status, letting error consumers categorize
// without importing this package.
func (e *HTTPStatusError) StatusCode() int { return e.Code }

// NetworkError wraps transport-level failures: DNS, connection, TLS.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return "network error: " + e.Err.Error() }
func (e *NetworkError) Unwrap() error { return e.Err }

// TimeoutError wraps request timeouts, whether from the client's overall
// timeout or a context deadline.
type TimeoutError struct {
	Err error
}

func (e *TimeoutError) Error() string { return "request timed out: " + e.Err.Error() }
func (e *TimeoutError) Unwrap() error { return e.Err }

// Timeout marks this error as a timeout for net.Error-style checks.
func (e *TimeoutError) Timeout() bool { return true }
