package utils

import (
	"context"
	"errors"
	"net"
	"os"
	"strconv"
	"strings"
)

// --- Sentinel Errors for Categorization ---
var (
	ErrRobotsDisallowed  = errors.New("disallowed by robots.txt")
	ErrParsing           = errors.New("parsing error")    // Wraps specific parsing error (HTML, URL, JSON)
	ErrFilesystem        = errors.New("filesystem error") // Wraps os errors
	ErrDatabase          = errors.New("database error")   // Wraps badger errors
	ErrSemaphoreTimeout  = errors.New("timeout acquiring semaphore")
	ErrRequestCreation   = errors.New("failed to create HTTP request")
	ErrResponseBodyRead  = errors.New("failed to read response body")
	ErrConfigValidation  = errors.New("configuration validation error")
	ErrPersistence       = errors.New("persistence failed after retries") // Wraps the last store error
	ErrUploadRateLimited = errors.New("upload rate limit reached")
	ErrImageDecode       = errors.New("image decode error") // Wraps codec errors
)

// statusCoder is implemented by fetch.HTTPStatusError without importing it here.
type statusCoder interface {
	StatusCode() int
}

// timeouter matches net.Error and fetch.TimeoutError.
type timeouter interface {
	Timeout() bool
}

// CategorizeError maps an error to a predefined category string for status
// records, logs, and metrics labels.
func CategorizeError(err error) string {
	if err == nil {
		return "None"
	}

	// Typed HTTP status failures carry their code.
	var sc statusCoder
	if errors.As(err, &sc) {
		code := sc.StatusCode()
		switch {
		case code == 401 || code == 403 || code == 404 || code == 429:
			return "HTTP_" + strconv.Itoa(code)
		case code >= 400 && code < 500:
			return "HTTP_4xx"
		case code >= 500:
			return "HTTP_5xx"
		default:
			return "HTTP_OtherStatus"
		}
	}

	// Check against sentinel errors next
	switch {
	case errors.Is(err, ErrRobotsDisallowed):
		return "Policy_Robots"
	case errors.Is(err, ErrUploadRateLimited):
		return "Policy_UploadRate"
	case errors.Is(err, ErrParsing):
		errMsg := err.Error()
		if strings.Contains(errMsg, "URL") {
			return "Content_ParsingURL"
		}
		if strings.Contains(errMsg, "HTML") {
			return "Content_ParsingHTML"
		}
		if strings.Contains(errMsg, "JSON") {
			return "Content_ParsingJSON"
		}
		return "Content_ParsingOther"
	case errors.Is(err, ErrImageDecode):
		return "Content_ImageDecode"
	case errors.Is(err, ErrFilesystem):
		if errors.Is(err, os.ErrPermission) {
			return "Filesystem_Permission"
		}
		if errors.Is(err, os.ErrNotExist) {
			return "Filesystem_NotExist"
		}
		return "Filesystem_Other"
	case errors.Is(err, ErrDatabase):
		return "Database_Other"
	case errors.Is(err, ErrPersistence):
		return "Persistence_Failed"
	case errors.Is(err, ErrSemaphoreTimeout):
		return "Resource_SemaphoreTimeout"
	case errors.Is(err, ErrRequestCreation):
		return "Internal_RequestCreation"
	case errors.Is(err, ErrResponseBodyRead):
		return "Network_BodyRead"
	case errors.Is(err, ErrConfigValidation):
		return "Config_Validation"
	}

	// Context errors
	if errors.Is(err, context.Canceled) {
		return "System_ContextCanceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		if strings.Contains(err.Error(), "semaphore") {
			return "Resource_SemaphoreTimeout"
		}
		return "System_ContextDeadlineExceeded"
	}

	// Network errors (typed timeouts first, then common substrings)
	var to timeouter
	if errors.As(err, &to) && to.Timeout() {
		return "Network_Timeout"
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return "Network_Timeout"
		}
	}
	lowerErrMsg := strings.ToLower(err.Error())
	if strings.Contains(lowerErrMsg, "timeout") || strings.Contains(lowerErrMsg, "deadline exceeded") {
		return "Network_TimeoutGeneric"
	}
	if strings.Contains(lowerErrMsg, "connection refused") {
		return "Network_ConnectionRefused"
	}
	if strings.Contains(lowerErrMsg, "no such host") {
		return "Network_DNSLookup"
	}
	if strings.Contains(lowerErrMsg, "tls") || strings.Contains(lowerErrMsg, "certificate") {
		return "Network_TLS"
	}
	if strings.Contains(lowerErrMsg, "reset by peer") {
		return "Network_ConnectionReset"
	}
	if strings.Contains(lowerErrMsg, "broken pipe") {
		return "Network_BrokenPipe"
	}

	return "Unknown"
}
