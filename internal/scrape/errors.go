package scrape

import (
	"errors"
	"fmt"
)

// Store-level sentinel errors.
var (
	// ErrJobNotFound is returned by store reads for unknown job IDs.
	ErrJobNotFound = errors.New("job not found")
	// ErrConflict is returned by Transition when the job's current status
	// does not match the caller's expectation.
	ErrConflict = errors.New("job status conflict")
)

// ErrorCode classifies a fetch failure from the remote source.
type ErrorCode string

// Classified fetch error codes.
const (
	ErrCodeRateLimited ErrorCode = "RATE_LIMITED"
	ErrCodeBlocked     ErrorCode = "BLOCKED"
	ErrCodeNotFound    ErrorCode = "NOT_FOUND"
	ErrCodeNetwork     ErrorCode = "NETWORK"
	ErrCodeProxy       ErrorCode = "PROXY"
)

// FetchError is a classified failure from the Fetch Gateway.
type FetchError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Fatal reports whether the error aborts the whole job rather than a page.
func (e *FetchError) Fatal() bool {
	switch e.Code {
	case ErrCodeBlocked, ErrCodeNotFound:
		return true
	default:
		return false
	}
}

// NewFetchError builds a classified fetch error.
func NewFetchError(code ErrorCode, message string, err error) *FetchError {
	return &FetchError{Code: code, Message: message, Err: err}
}

// AsFetchError extracts a FetchError from an error chain. Unclassified
// errors are wrapped as NETWORK so the caller always sees a classified one.
func AsFetchError(err error) *FetchError {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe
	}
	return &FetchError{Code: ErrCodeNetwork, Message: "unclassified fetch failure", Err: err}
}
