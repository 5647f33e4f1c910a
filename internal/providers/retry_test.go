package providers

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestRetrySucceedsWithoutRetryingOnFirstSuccess(t *testing.T) {
	p := retryPolicy{maxRetries: 3, retryDelay: time.Millisecond}
	attempts := 0
	err := p.retry(context.Background(), isRetryableHTTPError, func() error {
		attempts++
		return nil
	})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1", attempts)
	}
}

func TestRetryStopsImmediatelyOnNonRetryableError(t *testing.T) {
	p := retryPolicy{maxRetries: 3, retryDelay: time.Millisecond}
	attempts := 0
	wantErr := &httpStatusError{status: http.StatusBadRequest}
	err := p.retry(context.Background(), isRetryableHTTPError, func() error {
		attempts++
		return wantErr
	})
	if !errors.Is(err, wantErr) && err != wantErr {
		t.Fatalf("expected wantErr back, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1 (no retry on non-retryable error)", attempts)
	}
}

func TestRetryExhaustsBudgetOnRetryableError(t *testing.T) {
	p := retryPolicy{maxRetries: 3, retryDelay: time.Millisecond}
	attempts := 0
	err := p.retry(context.Background(), isRetryableHTTPError, func() error {
		attempts++
		return &httpStatusError{status: http.StatusTooManyRequests}
	})
	if err == nil {
		t.Fatal("expected error after exhausting retry budget")
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestRetryRecoversOnLaterAttempt(t *testing.T) {
	p := retryPolicy{maxRetries: 3, retryDelay: time.Millisecond}
	attempts := 0
	err := p.retry(context.Background(), isRetryableHTTPError, func() error {
		attempts++
		if attempts < 2 {
			return &httpStatusError{status: http.StatusServiceUnavailable}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("attempts = %d, want 2", attempts)
	}
}

func TestRetryStopsOnContextCancellation(t *testing.T) {
	p := retryPolicy{maxRetries: 5, retryDelay: 50 * time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := p.retry(ctx, isRetryableHTTPError, func() error {
		attempts++
		cancel()
		return &httpStatusError{status: http.StatusTooManyRequests}
	})
	if err == nil {
		t.Fatal("expected error after context cancellation")
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1 (no retry after cancel)", attempts)
	}
}

func TestIsRetryableHTTPErrorClassification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"429", &httpStatusError{status: http.StatusTooManyRequests}, true},
		{"500", &httpStatusError{status: http.StatusInternalServerError}, true},
		{"502", &httpStatusError{status: http.StatusBadGateway}, true},
		{"400", &httpStatusError{status: http.StatusBadRequest}, false},
		{"404", &httpStatusError{status: http.StatusNotFound}, false},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"plain error", errors.New("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := isRetryableHTTPError(tc.err); got != tc.want {
				t.Errorf("isRetryableHTTPError(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}
