// ratelimit ограничивает частоту запросов к /auth/* по ключу
// (адрес клиента + маршрут) в фиксированном окне.
package ratelimit

import (
	"context"
	"time"

	"github.com/pribylovaa/go-trip-planner/auth-service/internal/counter"
)

// Decision — вердикт по одному запросу.
type Decision struct {
	Allowed bool
	// RetryAfter — остаток окна; для заголовка Retry-After при отказе.
	RetryAfter time.Duration
}

// Limiter — fixed-window ограничитель поверх counter.Counter.
type Limiter struct {
	counter counter.Counter
	limit   int64
	window  time.Duration
}

// New собирает Limiter: не более limit запросов на ключ за window.
func New(c counter.Counter, limit int, window time.Duration) *Limiter {
	return &Limiter{
		counter: c,
		limit:   int64(limit),
		window:  window,
	}
}

// Allow учитывает запрос и решает, пропускать ли его. Запросы сверх лимита
// тоже учитываются: непрерывный поток не открывает окно заново.
func (l *Limiter) Allow(ctx context.Context, key string) (Decision, error) {
	n, ttl, err := l.counter.Incr(ctx, key, l.window)
	if err != nil {
		return Decision{Allowed: true}, err
	}

	if n > l.limit {
		return Decision{Allowed: false, RetryAfter: ttl}, nil
	}

	return Decision{Allowed: true, RetryAfter: 0}, nil
}
