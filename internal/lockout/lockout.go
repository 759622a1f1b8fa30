// lockout реализует защиту от перебора пароля: счётчик неудачных входов
// с TTL-окном, ключованный парой (адрес клиента, идентификатор входа).
//
// Счётчики живут в counter.Counter. Память корректна только для
// единственного экземпляра сервиса; при горизонтальном масштабировании
// счётчики обязаны жить в Redis, иначе злоумышленник обходит порог,
// размазывая попытки по репликам.
package lockout

import (
	"context"
	"strings"
	"time"

	"github.com/pribylovaa/go-trip-planner/auth-service/internal/counter"
)

// Status — снимок состояния блокировки для пары (ip, email).
type Status struct {
	// Locked — порог достигнут, вход запрещён до истечения окна.
	Locked bool
	// Remaining — сколько попыток осталось до блокировки.
	Remaining int
	// RetryAfter — через сколько можно пробовать снова (для ответа 423).
	RetryAfter time.Duration
}

// Guard — контракт защиты от перебора, потребляется сервисным слоем.
type Guard interface {
	// Check сообщает состояние до попытки входа.
	Check(ctx context.Context, ip, email string) (Status, error)
	// RecordFailure фиксирует неудачный вход и возвращает новое состояние.
	RecordFailure(ctx context.Context, ip, email string) (Status, error)
	// RecordSuccess сбрасывает счётчик после успешной аутентификации.
	RecordSuccess(ctx context.Context, ip, email string) error
}

type guard struct {
	counter   counter.Counter
	threshold int
	window    time.Duration
}

// NewGuard собирает Guard поверх произвольного Counter.
func NewGuard(c counter.Counter, threshold int, window time.Duration) Guard {
	return &guard{
		counter:   c,
		threshold: threshold,
		window:    window,
	}
}

// key — составной ключ счётчика: адрес клиента и нормализованный email.
// Перебор одного аккаунта с разных адресов и разных аккаунтов с одного
// адреса считаются независимо.
func key(ip, email string) string {
	return ip + "|" + strings.ToLower(email)
}

func (g *guard) status(n int64, ttl time.Duration) Status {
	remaining := g.threshold - int(n)
	if remaining < 0 {
		remaining = 0
	}

	return Status{
		Locked:     int(n) >= g.threshold && ttl > 0,
		Remaining:  remaining,
		RetryAfter: ttl,
	}
}

func (g *guard) Check(ctx context.Context, ip, email string) (Status, error) {
	n, ttl, err := g.counter.Get(ctx, key(ip, email))
	if err != nil {
		return Status{Remaining: g.threshold}, err
	}

	return g.status(n, ttl), nil
}

func (g *guard) RecordFailure(ctx context.Context, ip, email string) (Status, error) {
	n, ttl, err := g.counter.Incr(ctx, key(ip, email), g.window)
	if err != nil {
		return Status{Remaining: g.threshold}, err
	}

	return g.status(n, ttl), nil
}

func (g *guard) RecordSuccess(ctx context.Context, ip, email string) error {
	return g.counter.Reset(ctx, key(ip, email))
}
