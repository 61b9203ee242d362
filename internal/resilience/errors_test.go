package resilience

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"syscall"
	"testing"
	"time"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"explicit", NewTransientError(errors.New("overloaded"), 503), true},
		{"wrapped", fmt.Errorf("append: %w", NewTransientError(errors.New("quota"), 429)), true},
		{"conn reset", fmt.Errorf("write tcp: %w", syscall.ECONNRESET), true},
		{"io timeout text", errors.New("read tcp 10.0.0.1: i/o timeout"), true},
		{"plain", errors.New("invalid range"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestHTTPStatusError_RateLimitedWithRetryAfter(t *testing.T) {
	resp := &http.Response{
		StatusCode: http.StatusTooManyRequests,
		Header:     http.Header{"Retry-After": []string{"7"}},
		Body:       io.NopCloser(strings.NewReader("")),
	}
	err := HTTPStatusError("sheets", resp, []byte("quota exceeded"))

	if !IsRateLimited(err) {
		t.Fatal("expected rate limited error")
	}
	if got := RetryAfterOf(err); got != 7*time.Second {
		t.Errorf("expected 7s Retry-After, got %s", got)
	}
	if !strings.Contains(err.Error(), "429") {
		t.Errorf("expected status in message, got %q", err.Error())
	}
}

func TestHTTPStatusError_PermanentStatus(t *testing.T) {
	resp := &http.Response{StatusCode: http.StatusForbidden, Header: http.Header{}}
	err := HTTPStatusError("samsara", resp, []byte(`{"message":"bad token"}`))

	if IsTransient(err) {
		t.Error("403 must not be transient")
	}
	if ClassifyError(err) != ClassPermanent {
		t.Errorf("expected permanent, got %s", ClassifyError(err))
	}
}

func TestClassifyError(t *testing.T) {
	if got := ClassifyError(NewTransientError(errors.New("overloaded"), 503)); got != ClassTransient {
		t.Errorf("expected transient, got %s", got)
	}
	if got := ClassifyError(errors.New("invalid range")); got != ClassPermanent {
		t.Errorf("expected permanent, got %s", got)
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		if !IsTransientHTTPStatus(code) {
			t.Errorf("%d should be transient", code)
		}
	}
	for _, code := range []int{400, 401, 403, 404, 409} {
		if IsTransientHTTPStatus(code) {
			t.Errorf("%d should not be transient", code)
		}
	}
}
