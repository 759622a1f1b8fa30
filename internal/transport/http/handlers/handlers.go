// handlers реализует HTTP-обработчики публичного API /auth/*.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/pribylovaa/go-trip-planner/auth-service/internal/config"
	"github.com/pribylovaa/go-trip-planner/auth-service/internal/models"
	"github.com/pribylovaa/go-trip-planner/auth-service/internal/service"
	"github.com/pribylovaa/go-trip-planner/auth-service/internal/transport/http/middleware"
)

// Handlers агрегирует зависимости HTTP-слоя.
type Handlers struct {
	svc *service.Service
	cfg config.Config
}

func New(svc *service.Service, cfg config.Config) *Handlers {
	return &Handlers{svc: svc, cfg: cfg}
}

// writeJSON — единый ответ JSON с нужным Content-Type.
// Ошибки выводим через apierrors.WriteError/Write.
func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

// decodeStrict — строгий JSON-декодер: запрещаем неизвестные поля.
func decodeStrict(r *http.Request, value any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(value)
}

// meta собирает атрибуты сессии из запроса.
func meta(r *http.Request) service.SessionMeta {
	return service.SessionMeta{
		Device: r.UserAgent(),
		IP:     middleware.ClientIP(r),
	}
}

// setRefreshCookie кладёт refresh-токен в HttpOnly-cookie со сроком до
// expiresAt. Secure и SameSite=Strict — только в prod: локальная
// разработка ходит по http и с Lax.
func (h *Handlers) setRefreshCookie(w http.ResponseWriter, token string, expiresAt time.Time) {
	sameSite := http.SameSiteLaxMode
	if h.cfg.Prod() {
		sameSite = http.SameSiteStrictMode
	}

	maxAge := int(time.Until(expiresAt) / time.Second)
	if maxAge < 1 {
		maxAge = 1
	}

	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.Cookie.Name,
		Value:    token,
		Path:     "/",
		Domain:   h.cfg.Cookie.Domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.cfg.Prod(),
		SameSite: sameSite,
	})
}

// clearRefreshCookie стирает refresh-cookie (Max-Age<0).
func (h *Handlers) clearRefreshCookie(w http.ResponseWriter) {
	sameSite := http.SameSiteLaxMode
	if h.cfg.Prod() {
		sameSite = http.SameSiteStrictMode
	}

	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.Cookie.Name,
		Value:    "",
		Path:     "/",
		Domain:   h.cfg.Cookie.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cfg.Prod(),
		SameSite: sameSite,
	})
}

// expiresIn — остаток жизни access-токена в секундах для поля expires_in.
func expiresIn(pair *models.TokenPair) int64 {
	left := int64(time.Until(pair.AccessExpiresAt) / time.Second)
	if left < 0 {
		left = 0
	}

	return left
}
