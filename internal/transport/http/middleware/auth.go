package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pribylovaa/go-trip-planner/auth-service/internal/authz"
	"github.com/pribylovaa/go-trip-planner/auth-service/internal/models"
	logctx "github.com/pribylovaa/go-trip-planner/auth-service/internal/pkg/log"
	"github.com/pribylovaa/go-trip-planner/auth-service/internal/storage"
	"github.com/pribylovaa/go-trip-planner/auth-service/internal/tokens"
	apierrors "github.com/pribylovaa/go-trip-planner/auth-service/internal/transport/http/errors"
)

type ctxKey int

const identityKey ctxKey = iota

// Identity — результат успешной аутентификации запроса.
// Role и Plan берутся из учётной записи, а не из клеймов: права,
// изменённые после выпуска токена, действуют немедленно.
type Identity struct {
	UserID uuid.UUID
	Email  string
	Role   models.Role
	Plan   models.Plan
	// TokenID — jti предъявленного access-токена.
	TokenID string
	// AuthenticatedAt — момент прохождения проверки.
	AuthenticatedAt time.Time
}

// WithIdentity кладёт Identity в контекст.
func WithIdentity(ctx context.Context, ident Identity) context.Context {
	return context.WithValue(ctx, identityKey, ident)
}

// IdentityFrom достаёт Identity из контекста запроса.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	ident, ok := ctx.Value(identityKey).(Identity)
	return ident, ok
}

// IdentitySource загружает учётную запись по ID из клеймов access-токена.
// Обычно — storage.Storage.
type IdentitySource interface {
	UserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// Blacklist — съёмная проверка отзыва access-токенов по SHA-256-хэшу
// «сырого» токена (та же схема ключа, что в реестре refresh-сессий).
// nil отключает шаг; ошибка проверки не блокирует запрос.
type Blacklist interface {
	Revoked(ctx context.Context, tokenHash string) (bool, error)
}

// Authenticate проверяет Bearer access-токен и кладёт Identity в контекст.
//
// Порядок проверок и коды отказов:
//  1. нет Authorization: Bearer — 401 no_token;
//  2. не похоже на JWT структурно — 401 token_malformed;
//  3. токен в списке отзыва — 401 token_revoked;
//  4. подпись/срок/issuer/audience — 401 token_expired либо token_malformed;
//  5. учётной записи нет — 401 identity_missing;
//  6. учётная запись заблокирована — 423 account_locked с Retry-After;
//  7. токен выпущен до смены пароля — 401 stale_password.
func Authenticate(tm *tokens.Manager, users IdentitySource, blacklist Blacklist) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				apierrors.Write(w, r, http.StatusUnauthorized, "no_token", "authorization required")
				return
			}

			if !tokens.IsValidStructure(raw) {
				apierrors.Write(w, r, http.StatusUnauthorized, "token_malformed", "invalid token")
				return
			}

			if blacklist != nil {
				revoked, err := blacklist.Revoked(r.Context(), tokens.HashToken(raw))
				if err != nil {
					logctx.From(r.Context()).Warn("blacklist_check_failed",
						slog.String("err", err.Error()),
					)
				} else if revoked {
					apierrors.Write(w, r, http.StatusUnauthorized, "token_revoked", "token revoked")
					return
				}
			}

			claims, err := tm.VerifyAccessToken(raw)
			if err != nil {
				if errors.Is(err, tokens.ErrTokenExpired) {
					apierrors.Write(w, r, http.StatusUnauthorized, "token_expired", "token expired")
					return
				}

				apierrors.Write(w, r, http.StatusUnauthorized, "token_malformed", "invalid token")
				return
			}

			// UserID прошёл uuid-валидацию при верификации токена.
			userID, err := uuid.Parse(claims.UserID)
			if err != nil {
				apierrors.Write(w, r, http.StatusUnauthorized, "token_malformed", "invalid token")
				return
			}

			user, err := users.UserByID(r.Context(), userID)
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					apierrors.Write(w, r, http.StatusUnauthorized, "identity_missing", "identity missing")
					return
				}

				apierrors.WriteError(w, r, err)
				return
			}

			now := time.Now().UTC()
			if user.Locked(now) {
				apierrors.WriteLocked(w, r, user.LockedUntil.Sub(now))
				return
			}

			// iat строго раньше password_changed_at — токен выпущен под старый
			// пароль. Обе метки секундной точности, равенство проходит.
			if claims.IssuedAt == nil || claims.IssuedAt.Time.Before(user.PasswordChangedAt) {
				apierrors.Write(w, r, http.StatusUnauthorized, "stale_password", "password changed, re-authentication required")
				return
			}

			ident := Identity{
				UserID:          user.ID,
				Email:           user.Email,
				Role:            user.Role,
				Plan:            user.Plan,
				TokenID:         claims.ID,
				AuthenticatedAt: now,
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), ident)))
		})
	}
}

// RequireRoles пропускает только запросы с ролью из списка.
// Навешивается ПОСЛЕ Authenticate.
func RequireRoles(roles ...models.Role) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ident, ok := IdentityFrom(r.Context())
			if !ok {
				apierrors.Write(w, r, http.StatusUnauthorized, "no_token", "authorization required")
				return
			}

			for _, role := range roles {
				if ident.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}

			apierrors.Write(w, r, http.StatusForbidden, "permission_denied", "permission denied")
		})
	}
}

// RequirePermission сверяет право с таблицей authz. Права "ai.*"
// дополнительно выдаются по тарифному плану. Неизвестное право — отказ
// и warn в лог: опечатка в имени не должна открывать маршрут.
func RequirePermission(permission string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ident, ok := IdentityFrom(r.Context())
			if !ok {
				apierrors.Write(w, r, http.StatusUnauthorized, "no_token", "authorization required")
				return
			}

			if !authz.Known(permission) {
				logctx.From(r.Context()).Warn("unknown_permission",
					slog.String("permission", permission),
				)
				apierrors.Write(w, r, http.StatusForbidden, "permission_denied", "permission denied")
				return
			}

			if !authz.Allowed(ident.Role, ident.Plan, permission) {
				apierrors.Write(w, r, http.StatusForbidden, "permission_denied", "permission denied")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// bearerToken извлекает токен из Authorization: Bearer.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")

	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return ""
	}

	return strings.TrimSpace(auth[len(prefix):])
}
