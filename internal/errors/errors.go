// Package errors provides error types and handling for the exploration agent.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// ErrorType categorizes errors for handling decisions.
type ErrorType int

const (
	// Unknown is an uncategorized error.
	Unknown ErrorType = iota
	// Network represents network-related errors (DNS, connection).
	Network
	// Timeout represents timeout errors.
	Timeout
	// RateLimit represents 429 responses from the decision provider.
	RateLimit
	// ServerError represents 5xx responses from the decision provider.
	ServerError
	// Browser represents browser/CDP errors.
	Browser
	// Navigation represents a failed page navigation.
	Navigation
	// Interaction represents a failed click, fill or key press.
	Interaction
	// Snapshot represents a failed DOM snapshot or page-stats probe.
	Snapshot
	// Decision represents a failed or unusable decision-provider call.
	Decision
	// Parse represents parsing errors (HTML, JSON, etc.).
	Parse
	// Storage represents artifact or session-index failures.
	Storage
	// Config represents invalid configuration.
	Config
	// Cancelled represents context cancellation.
	Cancelled
)

var typeNames = map[ErrorType]string{
	Network:     "network",
	Timeout:     "timeout",
	RateLimit:   "rate_limit",
	ServerError: "server_error",
	Browser:     "browser",
	Navigation:  "navigation",
	Interaction: "interaction",
	Snapshot:    "snapshot",
	Decision:    "decision",
	Parse:       "parse",
	Storage:     "storage",
	Config:      "config",
	Cancelled:   "cancelled",
}

// String returns the string representation of ErrorType.
func (t ErrorType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "unknown"
}

// IsRetryable returns whether errors of this type should be retried.
func (t ErrorType) IsRetryable() bool {
	switch t {
	case Network, Timeout, RateLimit, ServerError:
		return true
	default:
		return false
	}
}

// Sentinel errors for loop termination and guarded interactions.
var (
	ErrLoginAborted  = errors.New("login required but could not complete")
	ErrBlocked       = errors.New("site appears to be blocking automation")
	ErrRefNotFound   = errors.New("ref not found in snapshot")
	ErrPasswordField = errors.New("refusing to type into a password field")
	ErrNoJSON        = errors.New("no JSON object in reply")
)

// ExploreError represents a categorized exploration error.
type ExploreError struct {
	Type       ErrorType
	Step       int // 0-based step index, -1 outside the step loop
	URL        string
	Operation  string
	Message    string
	Cause      error
	StatusCode int
	Retryable  bool
}

// Error implements the error interface.
func (e *ExploreError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s error during %s", e.Type, e.Operation)
	if e.Step >= 0 {
		fmt.Fprintf(&b, " at step %d", e.Step+1)
	}
	if e.URL != "" {
		fmt.Fprintf(&b, " on %s", e.URL)
	}
	fmt.Fprintf(&b, ": %s", e.Message)
	if e.Cause != nil {
		fmt.Fprintf(&b, " (caused by: %v)", e.Cause)
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *ExploreError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches a target.
func (e *ExploreError) Is(target error) bool {
	t, ok := target.(*ExploreError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// AtStep returns a copy of e tagged with a step index.
func (e *ExploreError) AtStep(step int) *ExploreError {
	c := *e
	c.Step = step
	return &c
}

// New creates a new ExploreError outside the step loop.
func New(errType ErrorType, url, operation, message string, cause error) *ExploreError {
	return &ExploreError{
		Type:      errType,
		Step:      -1,
		URL:       url,
		Operation: operation,
		Message:   message,
		Cause:     cause,
		Retryable: errType.IsRetryable(),
	}
}

// NewNetworkError creates a network error.
func NewNetworkError(url, operation string, cause error) *ExploreError {
	return New(Network, url, operation, "network failure", cause)
}

// NewTimeoutError creates a timeout error.
func NewTimeoutError(url, operation string, cause error) *ExploreError {
	return New(Timeout, url, operation, "operation timed out", cause)
}

// NewBrowserError creates a browser error.
func NewBrowserError(url, operation string, cause error) *ExploreError {
	e := New(Browser, url, operation, "browser operation failed", cause)
	e.Retryable = false
	return e
}

// NewNavigationError creates a navigation error.
func NewNavigationError(url string, cause error) *ExploreError {
	return New(Navigation, url, "navigate", "navigation failed", cause)
}

// NewInteractionError creates an interaction error for a ref.
func NewInteractionError(operation, ref string, cause error) *ExploreError {
	return New(Interaction, "", operation, fmt.Sprintf("%s on %s failed", operation, ref), cause)
}

// NewSnapshotError creates a snapshot error.
func NewSnapshotError(url, operation string, cause error) *ExploreError {
	return New(Snapshot, url, operation, "page observation failed", cause)
}

// NewDecisionError creates a decision-provider error.
func NewDecisionError(message string, cause error) *ExploreError {
	return New(Decision, "", "decide", message, cause)
}

// NewParseError creates a parse error.
func NewParseError(url, operation string, cause error) *ExploreError {
	return New(Parse, url, operation, "parsing failed", cause)
}

// NewStorageError creates a storage error.
func NewStorageError(operation string, cause error) *ExploreError {
	return New(Storage, "", operation, "storage failure", cause)
}

// NewConfigError creates a configuration error.
func NewConfigError(message string) *ExploreError {
	return New(Config, "", "validate", message, nil)
}

// NewCancelledError creates a cancelled error.
func NewCancelledError(url, operation string) *ExploreError {
	return New(Cancelled, url, operation, "operation cancelled", nil)
}

// Categorize determines the error type from a generic error.
func Categorize(err error, url string) *ExploreError {
	if err == nil {
		return nil
	}

	var exploreErr *ExploreError
	if errors.As(err, &exploreErr) {
		return exploreErr
	}

	if errors.Is(err, context.Canceled) {
		return NewCancelledError(url, "request")
	}

	if isTimeout(err) {
		return NewTimeoutError(url, "request", err)
	}

	if isNetworkError(err) {
		return NewNetworkError(url, "request", err)
	}

	return New(Unknown, url, "request", err.Error(), err)
}

// CategorizeStatus creates an error from a decision-provider HTTP status.
func CategorizeStatus(statusCode int, url string, cause error) *ExploreError {
	switch {
	case statusCode == 429:
		e := New(RateLimit, url, "decide", "rate limited", cause)
		e.StatusCode = statusCode
		return e
	case statusCode >= 500:
		e := New(ServerError, url, "decide", fmt.Sprintf("server returned %d", statusCode), cause)
		e.StatusCode = statusCode
		return e
	case statusCode >= 400:
		e := New(Decision, url, "decide", fmt.Sprintf("client error %d", statusCode), cause)
		e.StatusCode = statusCode
		return e
	default:
		return nil
	}
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded")
}

func isNetworkError(err error) bool {
	if err == nil {
		return false
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return true
	}

	errStr := err.Error()
	return strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "dial tcp")
}

// IsRetryable checks if an error should be retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var exploreErr *ExploreError
	if errors.As(err, &exploreErr) {
		return exploreErr.Retryable
	}

	return isTimeout(err) || isNetworkError(err)
}

// GetErrorType extracts the error type from an error.
func GetErrorType(err error) ErrorType {
	var exploreErr *ExploreError
	if errors.As(err, &exploreErr) {
		return exploreErr.Type
	}
	return Unknown
}

// Is and As re-export the standard helpers so callers need one import.
func Is(err, target error) bool { return errors.Is(err, target) }

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool { return errors.As(err, target) }
