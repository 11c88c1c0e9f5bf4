package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errFlaky = errors.New("flaky")

type kindError struct{ retryable bool }

func (e kindError) Error() string   { return "kind error" }
func (e kindError) Retryable() bool { return e.retryable }

// fastConfig - без задержек, чтобы тесты не спали
func fastConfig(attempts int) Config {
	return Config{MaxAttempts: attempts, InitialDelay: time.Nanosecond, MaxDelay: time.Nanosecond}
}

func TestDo(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		err       error
		attempts  int
		wantCalls int
		wantErr   error
	}{
		{"first try", 0, errFlaky, 3, 1, nil},
		{"succeeds after retries", 2, errFlaky, 3, 3, nil},
		{"exhausted", 5, errFlaky, 3, 3, errFlaky},
		{"zero attempts means one", 5, errFlaky, 0, 1, errFlaky},
		{"non retryable", 5, kindError{retryable: false}, 3, 1, kindError{retryable: false}},
		{"retryable kind", 1, kindError{retryable: true}, 3, 2, nil},
		{"context error", 5, context.DeadlineExceeded, 3, 1, context.DeadlineExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := Do(context.Background(), func() error {
				calls++
				if calls <= tt.failures {
					return tt.err
				}
				return nil
			}, fastConfig(tt.attempts))

			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
		})
	}
}

func TestDo_Permanent(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func() error {
		calls++
		return Permanent(errFlaky)
	}, fastConfig(5))

	if calls != 1 || err != errFlaky {
		t.Errorf("calls = %d, err = %v", calls, err)
	}
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) must be nil")
	}
}

func TestDo_OnRetryAndCustomPredicate(t *testing.T) {
	var seen []int
	cfg := fastConfig(4)
	cfg.RetryIf = func(err error) bool { return errors.Is(err, errFlaky) }
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) { seen = append(seen, attempt) }

	_ = Do(context.Background(), func() error { return errFlaky }, cfg)

	if len(seen) != 3 || seen[0] != 1 || seen[2] != 3 {
		t.Errorf("OnRetry attempts = %v", seen)
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Do(ctx, func() error { calls++; return nil }, fastConfig(3))
	if calls != 0 || !errors.Is(err, context.Canceled) {
		t.Errorf("calls = %d, err = %v", calls, err)
	}
}

func TestDo_CancelDuringWait(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	cfg := Config{MaxAttempts: 3, InitialDelay: time.Hour, MaxDelay: time.Hour}
	start := time.Now()
	err := Do(ctx, func() error { return errFlaky }, cfg)

	if !errors.Is(err, errFlaky) {
		t.Errorf("err = %v, want last operation error", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Do did not stop waiting on context cancel")
	}
}

func TestDoWithResult(t *testing.T) {
	calls := 0
	v, err := DoWithResult(context.Background(), func() (float64, error) {
		calls++
		if calls < 2 {
			return 0, errFlaky
		}
		return 101.5, nil
	}, fastConfig(3))

	if err != nil || v != 101.5 || calls != 2 {
		t.Errorf("DoWithResult = %v, %v after %d calls", v, err, calls)
	}
}

func TestDelay(t *testing.T) {
	cfg := Config{MaxAttempts: 5, InitialDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond, Multiplier: 2}
	cfg.normalize()

	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond, 300 * time.Millisecond}
	for attempt, w := range want {
		if got := cfg.delay(attempt); got != w {
			t.Errorf("delay(%d) = %v, want %v", attempt, got, w)
		}
	}

	cfg.JitterFactor = 0.5
	for i := 0; i < 50; i++ {
		if d := cfg.delay(0); d < 50*time.Millisecond || d > 150*time.Millisecond {
			t.Fatalf("jittered delay %v out of bounds", d)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errFlaky, true},
		{context.Canceled, false},
		{kindError{retryable: true}, true},
		{kindError{retryable: false}, false},
	}
	for _, tt := range tests {
		if got := IsRetryable(tt.err); got != tt.want {
			t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
