package ratelimit

import (
	"strings"
	"sync"
	"time"
)

// Config - параметры token bucket
//
// Ведро стартует полным (MaxTokens) и каждые RefillInterval
// получает RefillRate токенов, но не больше MaxTokens.
type Config struct {
	MaxTokens      float64
	RefillRate     float64
	RefillInterval time.Duration
}

// Лимиты весов REST API бирж
var ExchangeLimits = map[string]Config{
	"binance": {MaxTokens: 6000, RefillRate: 100, RefillInterval: time.Second},
	"bybit":   {MaxTokens: 600, RefillRate: 10, RefillInterval: time.Second},
}

// ConfigFor возвращает лимиты биржи по имени (регистр не важен)
func ConfigFor(exchange string) (Config, bool) {
	cfg, ok := ExchangeLimits[strings.ToLower(exchange)]
	return cfg, ok
}

// normalize подставляет значения по умолчанию вместо некорректных
func (c Config) normalize() Config {
	if c.MaxTokens <= 0 {
		c.MaxTokens = 600
	}
	if c.RefillRate <= 0 {
		c.RefillRate = 10
	}
	if c.RefillInterval <= 0 {
		c.RefillInterval = time.Second
	}
	return c
}

// BucketStats - снимок состояния ведра
type BucketStats struct {
	AvailableTokens float64
	MaxTokens       float64
	TotalProcessed  int64
	TotalRejected   int64
}

// TokenBucket - ведро токенов с ленивым пополнением.
//
// Пополнение происходит при каждом обращении: начисляются токены за все
// целые прошедшие интервалы, а lastRefill сдвигается только на целое
// число интервалов, поэтому дробный остаток времени не теряется.
type TokenBucket struct {
	cfg        Config
	tokens     float64
	lastRefill time.Time
	processed  int64
	rejected   int64
	stopped    bool
	now        func() time.Time
	mu         sync.Mutex
}

// NewTokenBucket создаёт полное ведро
func NewTokenBucket(cfg Config) *TokenBucket {
	return newTokenBucket(cfg, time.Now)
}

func newTokenBucket(cfg Config, now func() time.Time) *TokenBucket {
	if now == nil {
		now = time.Now
	}
	cfg = cfg.normalize()
	return &TokenBucket{
		cfg:        cfg,
		tokens:     cfg.MaxTokens,
		lastRefill: now(),
		now:        now,
	}
}

// refill начисляет токены за прошедшие целые интервалы
// ВАЖНО: вызывается под lock'ом
func (b *TokenBucket) refill() {
	if b.stopped {
		return
	}
	elapsed := b.now().Sub(b.lastRefill)
	if elapsed < b.cfg.RefillInterval {
		return
	}

	intervals := int64(elapsed / b.cfg.RefillInterval)
	b.tokens += float64(intervals) * b.cfg.RefillRate
	if b.tokens > b.cfg.MaxTokens {
		b.tokens = b.cfg.MaxTokens
	}
	b.lastRefill = b.lastRefill.Add(time.Duration(intervals) * b.cfg.RefillInterval)
}

// TryConsume списывает weight токенов, если их хватает.
// Каждая попытка учитывается в статистике processed/rejected.
func (b *TokenBucket) TryConsume(weight float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()

	if weight <= b.tokens {
		b.tokens -= weight
		b.processed++
		return true
	}
	b.rejected++
	return false
}

// Available возвращает текущее количество токенов
func (b *TokenBucket) Available() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	return b.tokens
}

// Capacity возвращает максимальную ёмкость ведра
func (b *TokenBucket) Capacity() float64 {
	return b.cfg.MaxTokens
}

// Stats возвращает снимок состояния
func (b *TokenBucket) Stats() BucketStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	return BucketStats{
		AvailableTokens: b.tokens,
		MaxTokens:       b.cfg.MaxTokens,
		TotalProcessed:  b.processed,
		TotalRejected:   b.rejected,
	}
}

// Stop замораживает пополнение. Повторный вызов безопасен.
func (b *TokenBucket) Stop() {
	b.mu.Lock()
	b.stopped = true
	b.mu.Unlock()
}
