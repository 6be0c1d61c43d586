// Package apierrors defines the error taxonomy shared by the transport
// client, the batch executor, and the serial queue. Every failure crossing
// the remote-dependency boundary is classified into exactly one category so
// retry policy can be decided without string matching at the call sites.
package apierrors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Category is the retry-relevant classification of a failure.
type Category string

const (
	// CategoryQuota is a platform throttle: HTTP 429 or a known throttle
	// error code. Always retried with exponential backoff.
	CategoryQuota Category = "quota"
	// CategoryNetwork is a transport-level failure (dial, TLS, timeout,
	// 5xx). Retried with a short linear backoff.
	CategoryNetwork Category = "network"
	// CategoryRejected is a business-logic rejection embedded in a 200 or
	// 4xx response. Never retried.
	CategoryRejected Category = "rejected"
	// CategoryTimeout is an indeterminate outcome: the platform never
	// reported a status for the operation. Not blindly retried because the
	// write may have been applied.
	CategoryTimeout Category = "timeout"
	// CategoryCircuitOpen is a synthetic failure emitted without attempting
	// the call because the circuit breaker is open.
	CategoryCircuitOpen Category = "circuit_open"
)

// ErrCircuitOpen is returned when the circuit breaker rejects a call without
// attempting it.
var ErrCircuitOpen = &APIError{
	Category: CategoryCircuitOpen,
	Message:  "circuit breaker is open",
}

// Platform throttle error codes. Code 4 is the application-level limit, 17
// the account-level limit, 32 the page-level limit, 613 a custom rate limit.
var throttleCodes = map[int]struct{}{
	4:   {},
	17:  {},
	32:  {},
	613: {},
}

// APIError is a classified failure from the remote platform or the transport
// underneath it.
type APIError struct {
	Category   Category
	Op         string // operation that failed, e.g. "batch_execute"
	AccountID  string
	StatusCode int    // HTTP status, 0 when the call never completed
	Code       int    // platform error code
	Subcode    int    // platform error subcode
	Message    string // platform error message or transport description
	Err        error  // underlying error
	Timestamp  time.Time
}

func (e *APIError) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(" failed")
		if e.AccountID != "" {
			fmt.Fprintf(&b, " for account %s", e.AccountID)
		}
		b.WriteString(": ")
	}
	switch {
	case e.Message != "" && e.Code != 0:
		fmt.Fprintf(&b, "%s (code %d", e.Message, e.Code)
		if e.Subcode != 0 {
			fmt.Fprintf(&b, ", subcode %d", e.Subcode)
		}
		b.WriteString(")")
	case e.Message != "":
		b.WriteString(e.Message)
	case e.Err != nil:
		b.WriteString(e.Err.Error())
	default:
		fmt.Fprintf(&b, "%s error", e.Category)
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " [status %d]", e.StatusCode)
	}
	return b.String()
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Is makes ErrCircuitOpen comparable with errors.Is without requiring
// pointer identity.
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	if !ok {
		return false
	}
	return e.Category == t.Category && (t.Code == 0 || t.Code == e.Code)
}

// Retryable reports whether the queue should attempt the operation again.
func (e *APIError) Retryable() bool {
	switch e.Category {
	case CategoryQuota, CategoryNetwork:
		return true
	default:
		return false
	}
}

// Classify derives the category from an HTTP status and a platform error
// code. A zero status means the call never completed.
func Classify(statusCode, code int, isTransient bool) Category {
	if statusCode == 429 {
		return CategoryQuota
	}
	if _, ok := throttleCodes[code]; ok {
		return CategoryQuota
	}
	if statusCode == 0 || statusCode >= 500 || isTransient {
		return CategoryNetwork
	}
	return CategoryRejected
}

// CategoryOf extracts the category from any error. Errors that are not an
// *APIError are treated as transport failures, since those are the only
// errors the stack produces without classifying first.
func CategoryOf(err error) Category {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Category
	}
	return CategoryNetwork
}

// IsQuota reports whether a failure carries the platform throttle signature.
func IsQuota(err error) bool {
	return CategoryOf(err) == CategoryQuota
}

// IsRetryable reports whether a failure is worth another attempt.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	return err != nil
}

// WrapNetwork wraps a transport-level failure.
func WrapNetwork(op string, err error) *APIError {
	return &APIError{
		Category:  CategoryNetwork,
		Op:        op,
		Err:       err,
		Timestamp: time.Now(),
	}
}

// WrapRejection wraps a terminal business-logic rejection.
func WrapRejection(op, message string, statusCode int) *APIError {
	return &APIError{
		Category:   CategoryRejected,
		Op:         op,
		Message:    message,
		StatusCode: statusCode,
		Timestamp:  time.Now(),
	}
}
