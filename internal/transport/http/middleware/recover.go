package middleware

import (
	"log/slog"
	"net/http"

	logctx "github.com/pribylovaa/go-trip-planner/auth-service/internal/pkg/log"
	apierrors "github.com/pribylovaa/go-trip-planner/auth-service/internal/transport/http/errors"
)

// Recover перехватывает panic и конвертирует в 500/internal.
// Детали паники не утекают на клиент — только в лог.
func Recover() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logctx.From(r.Context()).
						LogAttrs(r.Context(), slog.LevelError, "panic",
							slog.String("path", r.URL.Path),
							slog.Any("reason", rec),
						)
					apierrors.Write(w, r, http.StatusInternalServerError, "internal", "internal error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
