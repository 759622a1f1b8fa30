// metrics — счётчики Prometheus для auth-service.
//
// Метрики регистрируются в глобальном реестре при инициализации пакета
// и отдаются ops-сервером на /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Значения метки result у LoginAttemptsTotal.
const (
	ResultOK                 = "ok"
	ResultInvalidCredentials = "invalid_credentials"
	ResultLocked             = "locked"
)

var (
	// LoginAttemptsTotal — попытки входа по исходу.
	LoginAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_login_attempts_total",
		Help: "Login attempts by result.",
	}, []string{"result"})

	// LockoutsTotal — сработавшие блокировки входа.
	LockoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auth_lockouts_total",
		Help: "Login lockouts triggered by repeated failures.",
	})

	// TokenRefreshTotal — обновления сессии; метка rotated показывает,
	// был ли refresh-токен заменён (в зависимости от политики ротации).
	TokenRefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_token_refresh_total",
		Help: "Session refreshes by whether the refresh token was rotated.",
	}, []string{"rotated"})

	// SessionsEvictedTotal — сессии, вытесненные лимитом на пользователя.
	SessionsEvictedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auth_sessions_evicted_total",
		Help: "Sessions evicted by the per-user session cap.",
	})

	// SessionsExpiredTotal — истёкшие сессии, удалённые фоновой чисткой.
	SessionsExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auth_sessions_expired_total",
		Help: "Expired sessions removed by the janitor.",
	})

	// SecurityEventsTotal — опубликованные события безопасности по типам.
	SecurityEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_security_events_total",
		Help: "Security events published to the bus.",
	}, []string{"type"})

	// RateLimitedTotal — запросы, отклонённые ограничителем частоты.
	RateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auth_rate_limited_total",
		Help: "Requests rejected by the rate limiter.",
	})

	// HTTPRequestDuration — длительность HTTP-запросов.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "auth_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)
