package resilience

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
	"time"
)

func TestIsRetryable_ExplicitTransientError(t *testing.T) {
	err := NewTransientError(errors.New("server overloaded"), 503)
	if !IsRetryable(err) {
		t.Error("expected TransientError to be retryable")
	}
}

func TestIsRetryable_RateLimitedError(t *testing.T) {
	err := NewRateLimitedError(errors.New("too many requests"), 2*time.Second)
	if !IsRetryable(err) {
		t.Error("expected RateLimitedError to be retryable")
	}
}

func TestIsRetryable_WrappedError(t *testing.T) {
	inner := NewTransientError(errors.New("bad gateway"), 502)
	wrapped := fmt.Errorf("api call failed: %w", inner)
	if !IsRetryable(wrapped) {
		t.Error("expected wrapped TransientError to be retryable")
	}
}

func TestIsRetryable_NilError(t *testing.T) {
	if IsRetryable(nil) {
		t.Error("nil error should not be retryable")
	}
}

func TestIsRetryable_RegularError(t *testing.T) {
	err := errors.New("invalid input: missing field")
	if IsRetryable(err) {
		t.Error("regular error should not be retryable")
	}
}

func TestIsRetryable_ConnectionReset(t *testing.T) {
	err := fmt.Errorf("write tcp: %w", syscall.ECONNRESET)
	if !IsRetryable(err) {
		t.Error("ECONNRESET should be retryable")
	}
}

func TestIsRetryable_ConnectionRefused(t *testing.T) {
	err := fmt.Errorf("dial tcp: %w", syscall.ECONNREFUSED)
	if !IsRetryable(err) {
		t.Error("ECONNREFUSED should be retryable")
	}
}

func TestIsRetryable_NetworkTimeout(t *testing.T) {
	err := &net.DNSError{IsTimeout: true, Err: "timeout"}
	if !IsRetryable(err) {
		t.Error("network timeout should be retryable")
	}
}

func TestIsRetryable_StringPatterns(t *testing.T) {
	patterns := []string{
		"connection reset by peer",
		"broken pipe",
		"TLS handshake timeout",
		"i/o timeout",
		"server closed idle connection",
	}
	for _, p := range patterns {
		err := errors.New(p)
		if !IsRetryable(err) {
			t.Errorf("expected %q to be retryable", p)
		}
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	transient := []int{408, 500, 502, 503, 504}
	for _, code := range transient {
		if !IsTransientHTTPStatus(code) {
			t.Errorf("expected HTTP %d to be transient", code)
		}
	}

	// 429 is handled separately as RateLimitedError with a wait hint.
	permanent := []int{200, 201, 400, 401, 403, 404, 405, 409, 422, 429}
	for _, code := range permanent {
		if IsTransientHTTPStatus(code) {
			t.Errorf("expected HTTP %d to NOT be transient", code)
		}
	}
}

func TestRetryAfterHint(t *testing.T) {
	err := fmt.Errorf("apollo: %w", NewRateLimitedError(errors.New("429"), 3*time.Second))
	if hint := RetryAfterHint(err); hint != 3*time.Second {
		t.Errorf("expected 3s hint, got %v", hint)
	}

	if hint := RetryAfterHint(errors.New("plain")); hint != 0 {
		t.Errorf("expected no hint for plain error, got %v", hint)
	}

	noHint := NewRateLimitedError(errors.New("429"), 0)
	if hint := RetryAfterHint(noHint); hint != 0 {
		t.Errorf("expected zero hint when vendor supplied none, got %v", hint)
	}
}

func TestTransientError_Unwrap(t *testing.T) {
	inner := errors.New("root cause")
	te := NewTransientError(inner, 500)

	if !errors.Is(te, inner) {
		t.Error("TransientError should unwrap to the inner error")
	}
	if te.StatusCode != 500 {
		t.Errorf("expected status 500, got %d", te.StatusCode)
	}
}

func TestRateLimitedError_Unwrap(t *testing.T) {
	inner := errors.New("quota exceeded")
	rl := NewRateLimitedError(inner, time.Second)

	if !errors.Is(rl, inner) {
		t.Error("RateLimitedError should unwrap to the inner error")
	}
}
