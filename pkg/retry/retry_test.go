package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastConfig(maxRetries int) *Config {
	return &Config{
		MaxRetries:      maxRetries,
		InitialInterval: 5 * time.Millisecond,
		MaxInterval:     20 * time.Millisecond,
		Multiplier:      2.0,
	}
}

func TestNew_WithZeroValues(t *testing.T) {
	retrier := New(&Config{})

	if retrier.config.InitialInterval != time.Second {
		t.Errorf("InitialInterval = %v, want 1s (default)", retrier.config.InitialInterval)
	}
	if retrier.config.MaxInterval != 30*time.Second {
		t.Errorf("MaxInterval = %v, want 30s (default)", retrier.config.MaxInterval)
	}
	if retrier.config.Multiplier != 2.0 {
		t.Errorf("Multiplier = %f, want 2.0 (default)", retrier.config.Multiplier)
	}
}

func TestRetrier_Do_SuccessAfterRetries(t *testing.T) {
	attempts := 0
	result := New(fastConfig(5)).Do(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("processor timeout")
		}
		return nil
	})

	if result.Err != nil {
		t.Errorf("Err = %v, want nil", result.Err)
	}
	if result.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", result.Attempts)
	}
}

func TestRetrier_Do_MaxRetriesExceeded(t *testing.T) {
	lastErr := errors.New("connection refused")
	result := New(fastConfig(2)).Do(context.Background(), func(ctx context.Context) error {
		return lastErr
	})

	if !errors.Is(result.Err, ErrMaxRetriesExceeded) {
		t.Errorf("Err = %v, want ErrMaxRetriesExceeded", result.Err)
	}
	if result.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", result.Attempts)
	}
	if result.LastError != lastErr {
		t.Errorf("LastError = %v, want %v", result.LastError, lastErr)
	}
}

func TestRetrier_Do_PermanentErrorStops(t *testing.T) {
	declined := errors.New("card declined")
	attempts := 0
	result := New(fastConfig(5)).Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return Permanent(declined)
	})

	if result.Err != declined {
		t.Errorf("Err = %v, want unwrapped permanent error", result.Err)
	}
	if attempts != 1 {
		t.Errorf("Operation called %d times, want 1", attempts)
	}
}

func TestRetrier_Do_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	result := New(fastConfig(5)).DoWithCallback(ctx, func(ctx context.Context) error {
		return errors.New("fail")
	}, func(attempt int, err error, next time.Duration) {
		cancel()
	})

	if !errors.Is(result.Err, ErrContextCanceled) {
		t.Errorf("Err = %v, want ErrContextCanceled", result.Err)
	}
}

func TestCalculateInterval_ExponentialBackoffCapped(t *testing.T) {
	r := New(&Config{InitialInterval: 100 * time.Millisecond, MaxInterval: time.Second, Multiplier: 2})

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{5, time.Second},
	}
	for _, tt := range tests {
		if got := r.calculateInterval(tt.attempt); got != tt.want {
			t.Errorf("calculateInterval(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestPermanent_Nil(t *testing.T) {
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) should be nil")
	}
}
