package middleware

import (
	"log/slog"
	"net/http"

	logctx "github.com/pribylovaa/go-trip-planner/auth-service/internal/pkg/log"
	"github.com/pribylovaa/go-trip-planner/auth-service/internal/metrics"
	"github.com/pribylovaa/go-trip-planner/auth-service/internal/ratelimit"
	apierrors "github.com/pribylovaa/go-trip-planner/auth-service/internal/transport/http/errors"
)

// RateLimit ограничивает частоту запросов по ключу "адрес клиента + путь".
// Отказ — 429 с Retry-After. Недоступный счётчик НЕ блокирует трафик:
// деградируем в открытое состояние, факт фиксируем в логе.
func RateLimit(l *ratelimit.Limiter) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := ClientIP(r) + "|" + r.URL.Path

			d, err := l.Allow(r.Context(), key)
			if err != nil {
				logctx.From(r.Context()).Warn("rate_limit_check_failed",
					slog.String("err", err.Error()),
				)
			}

			if !d.Allowed {
				metrics.RateLimitedTotal.Inc()
				apierrors.WriteRateLimited(w, r, d.RetryAfter)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
