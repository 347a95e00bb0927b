package embed

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

type flakyProvider struct {
	failures int
	calls    int
	err      error
	dim      int
}

func (f *flakyProvider) Dimension() int { return f.dim }

func (f *flakyProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = make([]float32, f.dim)
	}
	return out, nil
}

func TestRetryProvider_RecoversFromTransientFailure(t *testing.T) {
	inner := &flakyProvider{failures: 2, err: errors.New("503 Service Unavailable"), dim: 4}
	r := NewRetryProvider(inner, &RetryConfig{
		MaxRetries: 3,
		RetryDelay: time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
		Timeout:    time.Second,
	})

	vecs, err := r.Embed(context.Background(), []string{"a"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 1 {
		t.Errorf("got %d vectors, want 1", len(vecs))
	}
	if inner.calls != 3 {
		t.Errorf("inner called %d times, want 3", inner.calls)
	}
}

func TestRetryProvider_NonRetryableFailsFast(t *testing.T) {
	inner := &flakyProvider{failures: 10, err: errors.New("401 Unauthorized"), dim: 4}
	r := NewRetryProvider(inner, &RetryConfig{
		MaxRetries: 3,
		RetryDelay: time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
		Timeout:    time.Second,
	})

	_, err := r.Embed(context.Background(), []string{"a"})
	if err == nil {
		t.Fatal("expected error")
	}
	if inner.calls != 1 {
		t.Errorf("inner called %d times, want 1", inner.calls)
	}
}

func TestRetryProvider_ExhaustsRetries(t *testing.T) {
	inner := &flakyProvider{failures: 10, err: errors.New("429 Too Many Requests"), dim: 4}
	r := NewRetryProvider(inner, &RetryConfig{
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
		Timeout:    time.Second,
	})

	_, err := r.Embed(context.Background(), []string{"a"})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if inner.calls != 3 {
		t.Errorf("inner called %d times, want 3 (initial + 2 retries)", inner.calls)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, true},
		{"dimension mismatch", fmt.Errorf("embed: %w", ErrDimensionMismatch), false},
		{"rate limited", errors.New("429 Too Many Requests"), true},
		{"server error", errors.New("502 Bad Gateway"), true},
		{"bad request", errors.New("400 Bad Request"), false},
		{"unauthorized", errors.New("401 Unauthorized"), false},
		{"unknown", errors.New("connection reset by peer"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryable(tt.err); got != tt.want {
				t.Errorf("isRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestCalculateBackoff_CapsAtMaxDelay(t *testing.T) {
	r := NewRetryProvider(&flakyProvider{dim: 4}, &RetryConfig{
		MaxRetries: 10,
		RetryDelay: time.Second,
		MaxDelay:   4 * time.Second,
		Timeout:    time.Second,
	})
	if got := r.calculateBackoff(1); got != time.Second {
		t.Errorf("attempt 1: %v, want 1s", got)
	}
	if got := r.calculateBackoff(2); got != 2*time.Second {
		t.Errorf("attempt 2: %v, want 2s", got)
	}
	if got := r.calculateBackoff(8); got != 4*time.Second {
		t.Errorf("attempt 8: %v, want capped 4s", got)
	}
}
