package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestNetworkError(t *testing.T) {
	baseErr := errors.New("connection refused")

	t.Run("retriable error", func(t *testing.T) {
		err := NewNetworkError("connect", baseErr)

		if !err.IsRetriable() {
			t.Error("Expected error to be retriable")
		}

		if err.Error() != "connect: connection refused" {
			t.Errorf("Error message = %q, want %q", err.Error(), "connect: connection refused")
		}

		if !errors.Is(err, baseErr) {
			t.Error("Expected error to wrap baseErr")
		}
	})

	t.Run("fatal error", func(t *testing.T) {
		err := NewFatalNetworkError("auth", baseErr)

		if err.IsRetriable() {
			t.Error("Expected error to not be retriable")
		}
	})

	t.Run("IsRetriable helper", func(t *testing.T) {
		retriable := NewNetworkError("dial", baseErr)
		fatal := NewFatalNetworkError("auth", baseErr)
		plain := errors.New("plain error")

		if !IsRetriable(retriable) {
			t.Error("IsRetriable should return true for retriable error")
		}

		if IsRetriable(fatal) {
			t.Error("IsRetriable should return false for fatal error")
		}

		if IsRetriable(plain) {
			t.Error("IsRetriable should return false for plain error")
		}
	})
}

func TestConfigError(t *testing.T) {
	baseErr := errors.New("missing value")
	err := &ConfigError{Field: "api_key", Err: baseErr}

	if err.IsRetriable() {
		t.Error("ConfigError should never be retriable")
	}

	expected := "config error [api_key]: missing value"
	if err.Error() != expected {
		t.Errorf("Error message = %q, want %q", err.Error(), expected)
	}
}


func TestStaleError(t *testing.T) {
	err := &StaleError{Silence: 3 * time.Second, Threshold: time.Second}

	if !errors.Is(err, ErrStaleConnection) {
		t.Error("StaleError should match ErrStaleConnection")
	}
	if !IsRetriable(fmt.Errorf("watchdog: %w", err)) {
		t.Error("wrapped StaleError should stay retriable")
	}
}

func TestAuthError(t *testing.T) {
	t.Run("explicit rejection", func(t *testing.T) {
		err := &AuthError{Code: "60009", Msg: "Login failed."}
		expected := "auth failed [60009]: Login failed."
		if err.Error() != expected {
			t.Errorf("Error message = %q, want %q", err.Error(), expected)
		}
		if !IsRetriable(err) {
			t.Error("AuthError should be retried through a full reconnect")
		}
	})

	t.Run("timeout", func(t *testing.T) {
		err := &AuthError{Err: ErrAuthTimeout}
		if !errors.Is(err, ErrAuthTimeout) {
			t.Error("Expected AuthError to wrap ErrAuthTimeout")
		}
	})
}

func TestDecodeError(t *testing.T) {
	err := &DecodeError{Kind: "books", Err: ErrMalformedLevel}

	if err.Error() != "decode books: malformed price level" {
		t.Errorf("Error message = %q", err.Error())
	}
	if !errors.Is(err, ErrMalformedLevel) {
		t.Error("Expected DecodeError to wrap ErrMalformedLevel")
	}
	if IsRetriable(err) {
		t.Error("DecodeError is dropped, not retried")
	}
}
