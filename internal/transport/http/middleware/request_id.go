package middleware

import (
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// RequestID обеспечивает наличие request id у каждого запроса:
//  1. chi RequestID читает входящий X-Request-Id либо генерирует новый
//     и кладёт его в контекст (оттуда его берут логи, ответы об ошибках
//     и события безопасности);
//  2. обёртка дублирует id в заголовок ответа, чтобы фронт мог репортить
//     баги с привязкой.
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		echo := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rid := chimw.GetReqID(r.Context()); rid != "" {
				w.Header().Set("X-Request-Id", rid)
			}

			next.ServeHTTP(w, r)
		})

		return chimw.RequestID(echo)
	}
}
