package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Limiter - очередь запросов к API биржи поверх TokenBucket.
//
// Запросы встают в очередь с приоритетом и выполняются, когда в ведре
// хватает токенов на их вес. Голова очереди блокирует остальных:
// лёгкий запрос не обгоняет тяжёлый запрос с более высоким приоритетом.
//
// Использование:
//
//	l := ratelimit.NewLimiter(ratelimit.Options{Config: ratelimit.ExchangeLimits["bybit"]})
//	defer l.Stop()
//	order, err := ratelimit.Do(ctx, l, placeOrder, ratelimit.PriorityHigh, 1)
//
// Функции, переданные в Execute, выполняются последовательно внутри
// опустошения очереди и не должны синхронно вызывать Execute того же Limiter.
type Limiter struct {
	bucket       *TokenBucket
	queue        *Queue
	maxQueueSize int
	now          func() time.Time

	mu       sync.Mutex
	stopped  bool
	draining atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Options - параметры Limiter
type Options struct {
	Config        Config
	MaxQueueSize  int           // по умолчанию 1000
	DrainInterval time.Duration // по умолчанию 100ms
	Now           func() time.Time
}

const (
	DefaultMaxQueueSize  = 1000
	DefaultDrainInterval = 100 * time.Millisecond
)

var (
	ErrQueueFull      = errors.New("rate limiter queue is full")
	ErrLimiterStopped = errors.New("rate limiter stopped")
	ErrWeightTooLarge = errors.New("request weight exceeds bucket capacity")
)

// QueueFullError - отказ при переполненной очереди.
// errors.Is(err, ErrQueueFull) == true
type QueueFullError struct {
	Max int
}

func (e *QueueFullError) Error() string {
	return fmt.Sprintf("Rate limiter queue is full (max: %d). Request rejected.", e.Max)
}

func (e *QueueFullError) Is(target error) bool {
	return target == ErrQueueFull
}

// Stats - снимок состояния лимитера
type Stats struct {
	AvailableTokens float64
	MaxTokens       float64
	QueueSize       int
	TotalProcessed  int64
	TotalRejected   int64
	ByPriority      map[Priority]int
}

// NewLimiter создаёт лимитер и запускает фоновое опустошение очереди
func NewLimiter(opts Options) *Limiter {
	if opts.MaxQueueSize <= 0 {
		opts.MaxQueueSize = DefaultMaxQueueSize
	}
	if opts.DrainInterval <= 0 {
		opts.DrainInterval = DefaultDrainInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	l := &Limiter{
		bucket:       newTokenBucket(opts.Config, opts.Now),
		queue:        NewQueue(),
		maxQueueSize: opts.MaxQueueSize,
		now:          opts.Now,
		stopCh:       make(chan struct{}),
	}

	l.wg.Add(1)
	go l.drainLoop(opts.DrainInterval)

	return l
}

func (l *Limiter) drainLoop(interval time.Duration) {
	defer l.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.drain()
		case <-l.stopCh:
			return
		}
	}
}

// Execute ставит fn в очередь и ждёт её результата или отмены ctx.
//
// Переполненная очередь отклоняет запрос синхронно (*QueueFullError).
// Ошибка fn возвращается как есть.
func (l *Limiter) Execute(ctx context.Context, fn func(ctx context.Context) (interface{}, error), priority Priority, weight int) (interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if weight <= 0 {
		weight = 1
	}
	if float64(weight) > l.bucket.Capacity() {
		return nil, fmt.Errorf("%w: weight %d, capacity %.0f", ErrWeightTooLarge, weight, l.bucket.Capacity())
	}

	req := &Request{
		Priority:   priority,
		Weight:     float64(weight),
		EnqueuedAt: l.now(),
		ctx:        ctx,
		fn:         fn,
		done:       make(chan result, 1),
	}

	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return nil, ErrLimiterStopped
	}
	if l.queue.Len() >= l.maxQueueSize {
		l.mu.Unlock()
		return nil, &QueueFullError{Max: l.maxQueueSize}
	}
	l.queue.Push(req)
	l.mu.Unlock()

	l.drain()

	select {
	case res := <-req.done:
		return res.value, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Do - типизированная обёртка над Execute
func Do[T any](ctx context.Context, l *Limiter, fn func(ctx context.Context) (T, error), priority Priority, weight int) (T, error) {
	v, err := l.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		return fn(ctx)
	}, priority, weight)

	typed, _ := v.(T)
	return typed, err
}

// drain выполняет запросы из головы очереди, пока хватает токенов.
// Одновременно работает только одно опустошение, остальные вызовы - no-op.
func (l *Limiter) drain() {
	if !l.draining.CompareAndSwap(false, true) {
		return
	}
	defer l.draining.Store(false)

	for {
		l.mu.Lock()
		if l.stopped {
			l.mu.Unlock()
			return
		}
		head := l.queue.Peek()
		if head == nil {
			l.mu.Unlock()
			return
		}
		// Вызывающий уже ушёл: токены на него не тратим
		if head.ctx.Err() != nil {
			l.queue.Pop()
			l.mu.Unlock()
			continue
		}
		if !l.bucket.TryConsume(head.Weight) {
			l.mu.Unlock()
			return
		}
		l.queue.Pop()
		l.mu.Unlock()

		value, err := head.fn(head.ctx)
		head.done <- result{value: value, err: err}
	}
}

// Stop останавливает фоновое опустошение и ведро, очередь выбрасывается
// без ответа. Ожидающие в Execute завершатся по своему ctx.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() {
		l.mu.Lock()
		l.stopped = true
		l.queue.Clear()
		l.mu.Unlock()

		l.bucket.Stop()
		close(l.stopCh)
		l.wg.Wait()
	})
}

// Stats возвращает снимок состояния ведра и очереди
func (l *Limiter) Stats() Stats {
	bs := l.bucket.Stats()

	l.mu.Lock()
	defer l.mu.Unlock()

	return Stats{
		AvailableTokens: bs.AvailableTokens,
		MaxTokens:       bs.MaxTokens,
		QueueSize:       l.queue.Len(),
		TotalProcessed:  bs.TotalProcessed,
		TotalRejected:   bs.TotalRejected,
		ByPriority:      l.queue.CountByPriority(),
	}
}
