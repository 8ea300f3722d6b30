package torn

import (
	"errors"
	"fmt"
)

// ConfigError reports a missing or invalid client configuration value.
// It is fatal and never retried.
type ConfigError string

func (e ConfigError) Error() string { return "torn: " + string(e) }

const (
	ErrNoAPIKey ConfigError = "api key required"
	ErrNoUserID ConfigError = "user id required"
)

// ErrClientClosed is returned by calls made after Close.
var ErrClientClosed = errors.New("torn: client is closed")

// AuthDisabledError means the credential has been durably latched off after
// repeated auth failures. No network request was made. Clearing the latch
// requires external intervention.
type AuthDisabledError struct {
	KeyID string
}

func (e *AuthDisabledError) Error() string {
	return fmt.Sprintf("torn: api key %q is marked disabled", e.KeyID)
}

// StatusError reports a non-retryable upstream HTTP status (401/403).
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("torn: upstream returned HTTP %d", e.StatusCode)
}

// TransientExhaustedError means 429/5xx responses persisted past the attempt
// budget. Retrying at a higher cadence is the caller's responsibility.
type TransientExhaustedError struct {
	StatusCode int
	Attempts   int
}

func (e *TransientExhaustedError) Error() string {
	return fmt.Sprintf("torn: gave up after %d attempts, last HTTP %d", e.Attempts, e.StatusCode)
}

func (e *TransientExhaustedError) Unwrap() error {
	return &StatusError{StatusCode: e.StatusCode}
}

// NetworkError means transport-level failures persisted past the attempt
// budget. Wraps the last transport error.
type NetworkError struct {
	Attempts int
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("torn: gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }
