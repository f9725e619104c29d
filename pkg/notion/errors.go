package notion

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrRateLimited is wrapped by a TransportFailure whose last response was 429.
var ErrRateLimited = errors.New("rate limited")

// ErrorCode classifies a failed API call.
type ErrorCode string

const (
	CodeRateLimit    ErrorCode = "RATE_LIMIT_EXCEEDED"
	CodeNetwork      ErrorCode = "NETWORK_ERROR"
	CodeUnauthorized ErrorCode = "UNAUTHORIZED"
	CodeForbidden    ErrorCode = "FORBIDDEN"
	CodeNotFound     ErrorCode = "NOT_FOUND"
	CodeInvalidInput ErrorCode = "INVALID_INPUT"
	CodeUnavailable  ErrorCode = "SERVICE_UNAVAILABLE"
	CodeUnknown      ErrorCode = "UNKNOWN"
)

func codeForStatus(status int) ErrorCode {
	switch {
	case status == 0:
		return CodeNetwork
	case status == http.StatusTooManyRequests:
		return CodeRateLimit
	case status == http.StatusUnauthorized:
		return CodeUnauthorized
	case status == http.StatusForbidden:
		return CodeForbidden
	case status == http.StatusNotFound:
		return CodeNotFound
	case status >= 400 && status < 500:
		return CodeInvalidInput
	case status >= 500:
		return CodeUnavailable
	default:
		return CodeUnknown
	}
}

// TransportFailure is returned once a request has used up its attempts, or
// when the API answered with an error object.
type TransportFailure struct {
	Method   string
	Endpoint string
	Status   int // 0 when no response was received
	Attempts int
	Code     ErrorCode
	Message  string
	Err      error
}

func (e *TransportFailure) Error() string {
	msg := fmt.Sprintf("notion: %s %s failed after %d attempt(s)", e.Method, e.Endpoint, e.Attempts)
	if e.Status != 0 {
		msg += fmt.Sprintf(": status %d", e.Status)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransportFailure) Unwrap() error {
	return e.Err
}

// IsCode reports whether err is a TransportFailure with the given code.
func IsCode(err error, code ErrorCode) bool {
	var tf *TransportFailure
	return errors.As(err, &tf) && tf.Code == code
}
