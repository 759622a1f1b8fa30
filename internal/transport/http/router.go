// http собирает HTTP-поверхность сервиса: публичный роутер /auth/*
// и служебный роутер (/livez, /healthz, /metrics) для отдельного листенера.
package http

import (
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pribylovaa/go-trip-planner/auth-service/internal/authz"
	"github.com/pribylovaa/go-trip-planner/auth-service/internal/config"
	"github.com/pribylovaa/go-trip-planner/auth-service/internal/ratelimit"
	"github.com/pribylovaa/go-trip-planner/auth-service/internal/service"
	"github.com/pribylovaa/go-trip-planner/auth-service/internal/tokens"
	"github.com/pribylovaa/go-trip-planner/auth-service/internal/transport/http/handlers"
	"github.com/pribylovaa/go-trip-planner/auth-service/internal/transport/http/middleware"
)

// Options — параметры сборки публичного роутера.
type Options struct {
	Logger  *slog.Logger
	Timeout time.Duration
	// Limiter — ограничитель частоты /auth/*; nil отключает rate limiting.
	Limiter *ratelimit.Limiter
	// Blacklist — съёмная проверка отзыва access-токенов; nil отключает шаг.
	Blacklist middleware.Blacklist
}

// NewRouter собирает публичный http.Handler с chi и подключёнными
// middleware/роутами.
func NewRouter(svc *service.Service, tm *tokens.Manager, users middleware.IdentitySource, cfg config.Config, opts Options) http.Handler {
	r := chi.NewRouter()

	// Middleware (внешний -> внутренний).
	r.Use(
		chimw.RealIP,               // RemoteAddr из X-Forwarded-For/X-Real-IP
		middleware.Recover(),       // безопасно ловим паники
		middleware.RequestID(),     // формируем/прокидываем X-Request-Id (до логирования!)
		middleware.Logging(opts.Logger),
		middleware.Metrics(),
	)
	if opts.Timeout > 0 {
		r.Use(middleware.Timeout(opts.Timeout)) // общий дедлайн запроса
	}

	h := handlers.New(svc, cfg)
	authn := middleware.Authenticate(tm, users, opts.Blacklist)

	r.Route("/auth", func(r chi.Router) {
		if opts.Limiter != nil {
			r.Use(middleware.RateLimit(opts.Limiter))
		}

		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.Post("/refresh", h.Refresh)
		r.Post("/logout", h.Logout)

		// Маршруты под access-токеном.
		r.Group(func(r chi.Router) {
			r.Use(authn)

			r.Post("/logout-all", h.LogoutAll)
			r.Post("/change-password", h.ChangePassword)
			r.With(middleware.RequirePermission(authz.PermProfileRead)).Get("/me", h.Me)
			r.With(middleware.RequirePermission(authz.PermProfileWrite)).Put("/profile", h.UpdateProfile)
		})
	})

	return r
}

// NewOpsRouter — роутер служебного листенера: /livez отвечает всегда,
// /healthz — по флагу готовности (переводится в true после поднятия
// зависимостей), /metrics — prometheus.
func NewOpsRouter(ready *atomic.Bool) http.Handler {
	r := chi.NewRouter()

	r.Get("/livez", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if ready != nil && ready.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}

		w.WriteHeader(http.StatusServiceUnavailable)
	})

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}
