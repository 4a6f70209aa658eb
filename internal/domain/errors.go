package domain

import (
	"errors"
	"time"
)

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// NetworkError represents a transport failure (connect, read, write, abnormal close).
// The supervisor recovers from it with a full reconnect.
type NetworkError struct {
	Op        string // Operation that failed (e.g., "connect", "read", "write")
	Err       error  // Underlying error
	Retriable bool   // Whether this error is retriable
}

func (e *NetworkError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) IsRetriable() bool {
	return e.Retriable
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new retriable network error
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: true}
}

// NewFatalNetworkError creates a non-retriable network error
func NewFatalNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: false}
}

// StaleError reports a connection that stayed silent past the stale threshold.
type StaleError struct {
	Silence   time.Duration
	Threshold time.Duration
}

func (e *StaleError) Error() string {
	return "connection stale: no frame for " + e.Silence.String() + " (threshold " + e.Threshold.String() + ")"
}

func (e *StaleError) IsRetriable() bool {
	return true
}

func (e *StaleError) Is(target error) bool {
	return target == ErrStaleConnection
}

// AuthError is an explicit login rejection or a login reply timeout.
// Recovered by retrying the whole connection cycle.
type AuthError struct {
	Code string
	Msg  string
	Err  error
}

func (e *AuthError) Error() string {
	s := "auth failed"
	if e.Code != "" {
		s += " [" + e.Code + "]"
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *AuthError) IsRetriable() bool {
	return true
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// DecodeError marks a single malformed frame. The frame is dropped, the connection stays up.
type DecodeError struct {
	Kind string
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Kind == "" {
		return "decode: " + e.Err.Error()
	}
	return "decode " + e.Kind + ": " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

var (
	// ErrStaleConnection is the cancellation cause used by the watchdog.
	ErrStaleConnection = errors.New("stale connection")

	// ErrAuthTimeout is returned when no login reply arrives in time.
	ErrAuthTimeout = errors.New("auth reply timeout")

	// ErrNoBook is returned for an incremental update that arrives before any snapshot.
	ErrNoBook = errors.New("no book for instrument")

	// ErrUnknownInstrument is returned when a frame references an instrument that was never discovered.
	ErrUnknownInstrument = errors.New("unknown instrument")

	// ErrMalformedLevel is returned for a price level with a non-positive price or a negative size.
	ErrMalformedLevel = errors.New("malformed price level")

	// ErrConfigNotFound is returned when configuration file is missing
	ErrConfigNotFound = errors.New("configuration not found")
)
