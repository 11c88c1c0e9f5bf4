package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Config - экспоненциальный backoff с jitter:
// delay = min(InitialDelay * Multiplier^attempt, MaxDelay) ± jitter
type Config struct {
	// MaxAttempts - число попыток, включая первую; меньше 1 - одна попытка
	MaxAttempts int

	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64

	// JitterFactor - доля случайной вариации задержки, 0..1
	JitterFactor float64

	// RetryIf решает, повторять ли ошибку; nil - IsRetryable
	RetryIf func(error) bool

	// OnRetry вызывается перед ожиданием очередной попытки
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultConfig - чтение данных биржи: 3 попытки, 200ms, 400ms
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// AggressiveConfig - закрытие позиций: 6 попыток от 50ms
func AggressiveConfig() Config {
	return Config{
		MaxAttempts:  6,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// StartupConfig - ожидание зависимостей при старте (БД): от 1s до 15s
func StartupConfig(attempts int) Config {
	return Config{
		MaxAttempts:  attempts,
		InitialDelay: time.Second,
		MaxDelay:     15 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.2,
	}
}

func (c *Config) normalize() {
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 1
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay < c.InitialDelay {
		c.MaxDelay = c.InitialDelay
	}
	if c.Multiplier < 1 {
		c.Multiplier = 1
	}
	c.JitterFactor = math.Max(0, math.Min(1, c.JitterFactor))
	if c.RetryIf == nil {
		c.RetryIf = IsRetryable
	}
}

// delay - пауза после неудачной попытки attempt (с нуля)
func (c *Config) delay(attempt int) time.Duration {
	d := float64(c.InitialDelay) * math.Pow(c.Multiplier, float64(attempt))
	if d > float64(c.MaxDelay) {
		d = float64(c.MaxDelay)
	}
	if c.JitterFactor > 0 {
		d += d * c.JitterFactor * (rand.Float64()*2 - 1)
	}
	return time.Duration(math.Max(d, 0))
}

// Do выполняет операцию, повторяя её по Config.
// Возвращает nil при успехе или последнюю ошибку.
//
//	err := retry.Do(ctx, func() error {
//	    return db.PingContext(ctx)
//	}, retry.StartupConfig(5))
func Do(ctx context.Context, operation func() error, cfg Config) error {
	_, err := DoWithResult(ctx, func() (struct{}, error) {
		return struct{}{}, operation()
	}, cfg)
	return err
}

// DoWithResult - Do для операций, возвращающих значение
func DoWithResult[T any](ctx context.Context, operation func() (T, error), cfg Config) (T, error) {
	cfg.normalize()

	var (
		zero    T
		lastErr error
	)
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, lastErr
			}
			return zero, err
		}

		result, err := operation()
		if err == nil {
			return result, nil
		}
		lastErr = err

		var perm *PermanentError
		if errors.As(err, &perm) {
			return zero, perm.Err
		}
		if !cfg.RetryIf(err) || attempt == cfg.MaxAttempts-1 {
			break
		}

		d := cfg.delay(attempt)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, err, d)
		}

		timer := time.NewTimer(d)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return zero, lastErr
		}
	}
	return zero, lastErr
}

// RetryableError - ошибка, знающая, можно ли её повторять
type RetryableError interface {
	error
	Retryable() bool
}

// IsRetryable: ошибки контекста не повторяются, RetryableError решает сама,
// остальные повторяются
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var r RetryableError
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return true
}

// PermanentError прекращает повторы; Do возвращает вложенную ошибку
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent помечает ошибку как неповторяемую
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}
