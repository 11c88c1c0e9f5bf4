package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// visitorTTL - через сколько простоя лимитер клиента удаляется
const visitorTTL = 10 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Throttle ограничивает частоту запросов с одного IP (token bucket)
type Throttle struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	limit     rate.Limit
	burst     int
	lastSweep time.Time
	now       func() time.Time
}

// NewThrottle создает ограничитель: perSecond запросов в секунду, всплеск до burst
func NewThrottle(perSecond float64, burst int) *Throttle {
	return &Throttle{
		visitors: make(map[string]*visitor),
		limit:    rate.Limit(perSecond),
		burst:    burst,
		now:      time.Now,
	}
}

// Allow проверяет, можно ли обработать запрос клиента ip
func (t *Throttle) Allow(ip string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if now.Sub(t.lastSweep) > visitorTTL {
		for k, v := range t.visitors {
			if now.Sub(v.lastSeen) > visitorTTL {
				delete(t.visitors, k)
			}
		}
		t.lastSweep = now
	}

	v, ok := t.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(t.limit, t.burst)}
		t.visitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// Visitors - число отслеживаемых клиентов
func (t *Throttle) Visitors() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.visitors)
}

// Middleware отвечает 429 с Retry-After при превышении лимита
func (t *Throttle) Middleware(next http.Handler) http.Handler {
	retryAfter := "1"
	if t.limit > 0 && t.limit < 1 {
		retryAfter = strconv.Itoa(int(1/float64(t.limit)) + 1)
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !t.Allow(ClientIP(r)) {
			w.Header().Set("Retry-After", retryAfter)
			writeError(w, http.StatusTooManyRequests, "Too Many Requests", "Rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
