package crawler

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// ErrorKind tags a failure so callers can decide retry vs abort without parsing messages.
type ErrorKind string

// Error kinds.
const (
	KindNotFound    ErrorKind = "not_found"
	KindTransient   ErrorKind = "transient"
	KindRateLimited ErrorKind = "rate_limited"
	KindAuth        ErrorKind = "auth"
	KindFatal       ErrorKind = "fatal"
)

// Sentinel errors shared by stores and the orchestrator.
var (
	ErrNotFound           = errors.New("not found")
	ErrNoActiveRules      = errors.New("no active keyword rules")
	ErrMissingCredentials = errors.New("missing credentials")
	ErrAdapterMissing     = errors.New("no adapter registered")
)

// ProviderError is the typed failure surfaced by adapters.
type ProviderError struct {
	Kind       ErrorKind
	Platform   Platform
	Endpoint   string
	StatusCode int
	Header     http.Header
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Platform))
	if e.Endpoint != "" {
		b.WriteString(" " + e.Endpoint)
	}
	b.WriteString(": " + string(e.Kind))
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	switch {
	case e.Message != "" && e.Err != nil:
		b.WriteString(": " + e.Message + ": " + e.Err.Error())
	case e.Message != "":
		b.WriteString(": " + e.Message)
	case e.Err != nil:
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewFatal builds a non-retryable error for configuration or programming failures.
func NewFatal(p Platform, endpoint string, err error) *ProviderError {
	return &ProviderError{Kind: KindFatal, Platform: p, Endpoint: endpoint, Err: err}
}

// KindOf resolves the kind of an arbitrary error. Untyped errors fall back on
// timeouts being transient and everything else being fatal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, ErrNotFound) {
		return KindNotFound
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTransient
	}
	return KindFatal
}

// AsProviderError unwraps err into a ProviderError when possible.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
