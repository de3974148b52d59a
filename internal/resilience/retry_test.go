package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCalculateBackoffNoJitter(t *testing.T) {
	base := 100 * time.Millisecond
	max := time.Second

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, time.Second}, // capped
		{10, time.Second},
	}
	for _, tc := range cases {
		if got := CalculateBackoffNoJitter(tc.attempt, base, max); got != tc.want {
			t.Errorf("attempt %d = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestRetryBudget(t *testing.T) {
	rb := NewRetryBudget(2)
	if !rb.TryAcquire() || !rb.TryAcquire() {
		t.Fatal("fresh budget refused tokens")
	}
	if rb.TryAcquire() {
		t.Fatal("spent budget handed out a token")
	}
	rb.Release()
	if rb.Available() != 1 {
		t.Errorf("available = %d, want 1", rb.Available())
	}
	if !rb.TryAcquire() {
		t.Fatal("released token not reusable")
	}

	// Over-release never exceeds capacity.
	rb.Release()
	rb.Release()
	rb.Release()
	if rb.Available() != 2 {
		t.Errorf("available = %d, want capped at 2", rb.Available())
	}
}

func TestRetryBudgetDefaultCapacity(t *testing.T) {
	rb := NewRetryBudget(0)
	if rb.Available() != 20 {
		t.Errorf("default capacity = %d, want 20", rb.Available())
	}
}

func TestExecutorRetries(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

	attempts := 0
	got, err := NewExecutor[string](cfg).Get(func() (string, error) {
		attempts++
		if attempts < 3 {
			return "", errors.New("transient")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "ok" || attempts != 3 {
		t.Errorf("got %q after %d attempts", got, attempts)
	}
}

func TestExecutorGivesUp(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}

	attempts := 0
	_, err := NewExecutor[string](cfg).Get(func() (string, error) {
		attempts++
		return "", errors.New("permanent")
	})
	if err == nil {
		t.Fatal("exhausted retries did not error")
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2 (initial + 1 retry)", attempts)
	}
}

func TestWaitWithContext(t *testing.T) {
	if err := WaitWithContext(context.Background(), 0); err != nil {
		t.Errorf("zero delay: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := WaitWithContext(ctx, time.Minute); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled wait = %v, want context.Canceled", err)
	}
}

func TestCircuitBreakerStaysClosedUnderThreshold(t *testing.T) {
	cb := NewCircuitBreaker(DefaultBreakerConfig("test"))
	for i := 0; i < 4; i++ {
		cb.Execute(func() (any, error) { return nil, errors.New("down") })
	}
	if _, err := cb.Execute(func() (any, error) { return "up", nil }); err != nil {
		t.Errorf("breaker opened below threshold: %v", err)
	}
}
