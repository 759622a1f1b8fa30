// errors стандартизирует ответы об ошибках HTTP-слоя.
// На вход — ошибка сервисного слоя (сентинелы internal/service),
// на выход — корректный HTTP-статус и безопасное тело без утечки деталей.
//
// Источник истинности по маппингу — doc-комментарии сентинелов в
// internal/service: транспорт лишь воспроизводит объявленные там пары
// статус/код.
package errors

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	logctx "github.com/pribylovaa/go-trip-planner/auth-service/internal/pkg/log"
	"github.com/pribylovaa/go-trip-planner/auth-service/internal/service"
)

// Нестандартный код, часто используемый для "клиент закрыл соединение".
const StatusClientClosedRequest = 499

// APIError — единый формат для фронта.
// Code — короткий стабильный код для машиночитаемой обработки на FE.
// Message — безопасное человекочитаемое описание.
// RequestID — прокидывается из X-Request-Id, если есть (для трассировки).
// RetryAfterSeconds — заполнен для 423 и 429, дублирует заголовок Retry-After.
type APIError struct {
	Code              string `json:"code"`
	Message           string `json:"message"`
	RequestID         string `json:"request_id,omitempty"`
	RetryAfterSeconds int64  `json:"retry_after_seconds,omitempty"`
}

// ErrorResponse — корневой объект в ответе.
type ErrorResponse struct {
	Error APIError `json:"error"`
}

// verbose включает подробные internal-сообщения. В бою наружу уходит
// generic-текст, полная ошибка остаётся в логе под request_id; в dev
// подробность в теле ответа экономит поход в логи.
var verbose atomic.Bool

// SetVerbose переключает режим подробных internal-ошибок (вызывается из main).
func SetVerbose(v bool) { verbose.Store(v) }

// ToHTTP конвертирует ошибку сервисного слоя в HTTP-статус и унифицированный
// ответ для фронта.
//
// Поведение:
//   - err == nil — программная ошибка вызова: 500/internal, чтобы не послать
//     "200 OK" с телом ошибки и не замаскировать баг;
//   - *service.LockError — 423 с retry_after_seconds из RetryAfter;
//   - известный сентинел — объявленная в его doc-комментарии пара;
//   - прочее — 500/internal.
func ToHTTP(err error) (int, ErrorResponse) {
	if err == nil {
		return http.StatusInternalServerError, newResponse("internal", "internal error")
	}

	var lockErr *service.LockError
	if errors.As(err, &lockErr) {
		resp := newResponse("account_locked", "account temporarily locked")
		resp.Error.RetryAfterSeconds = retrySeconds(lockErr.RetryAfter)
		return http.StatusLocked, resp
	}

	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized, newResponse("invalid_credentials", "invalid credentials")
	case errors.Is(err, service.ErrTokenExpired):
		return http.StatusUnauthorized, newResponse("token_expired", "token expired")
	case errors.Is(err, service.ErrTokenRevoked):
		return http.StatusUnauthorized, newResponse("token_revoked", "token revoked")
	case errors.Is(err, service.ErrInvalidToken):
		return http.StatusUnauthorized, newResponse("token_malformed", "invalid token")
	case errors.Is(err, service.ErrAccountLocked):
		// Голый сентинел без *LockError: блокировка без известного остатка.
		return http.StatusLocked, newResponse("account_locked", "account temporarily locked")
	case errors.Is(err, service.ErrEmailTaken):
		return http.StatusConflict, newResponse("email_taken", "email already registered")
	case errors.Is(err, service.ErrInvalidEmail):
		return http.StatusBadRequest, newResponse("invalid_email", "invalid email")
	case errors.Is(err, service.ErrEmptyPassword):
		return http.StatusBadRequest, newResponse("empty_password", "password required")
	case errors.Is(err, service.ErrWeakPassword):
		return http.StatusBadRequest, newResponse("weak_password", "password does not meet requirements")
	case errors.Is(err, service.ErrSamePassword):
		return http.StatusBadRequest, newResponse("same_password", "new password must differ from current")
	case errors.Is(err, service.ErrInvalidProfile):
		return http.StatusBadRequest, newResponse("invalid_profile", "invalid profile fields")
	case errors.Is(err, service.ErrUserNotFound):
		return http.StatusNotFound, newResponse("user_not_found", "user not found")
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, newResponse("deadline_exceeded", "request timed out")
	case errors.Is(err, context.Canceled):
		return StatusClientClosedRequest, newResponse("canceled", "request canceled")
	default:
		msg := "internal error"
		if verbose.Load() {
			msg = err.Error()
		}
		return http.StatusInternalServerError, newResponse("internal", msg)
	}
}

// WriteError — хелпер для HTTP-хендлеров: маппит ошибку сервисного слоя
// и пишет ответ. 5xx дополнительно логируется с полной ошибкой — наружу
// уходит только generic-сообщение, детали остаются под request_id.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := ToHTTP(err)

	if status >= http.StatusInternalServerError && err != nil {
		logctx.From(r.Context()).LogAttrs(r.Context(), slog.LevelError, "request_failed",
			slog.String("path", r.URL.Path),
			slog.String("err", err.Error()),
		)
	}

	write(w, r, status, resp)
}

// Write — прямая запись кода/сообщения без маппинга (терминалы AuthGateway,
// ошибки разбора тела запроса).
func Write(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	write(w, r, status, newResponse(code, message))
}

// WriteLocked — 423 с retry_after_seconds и заголовком Retry-After.
func WriteLocked(w http.ResponseWriter, r *http.Request, retryAfter time.Duration) {
	resp := newResponse("account_locked", "account temporarily locked")
	resp.Error.RetryAfterSeconds = retrySeconds(retryAfter)
	write(w, r, http.StatusLocked, resp)
}

// WriteRateLimited — 429 с retry_after_seconds и заголовком Retry-After.
func WriteRateLimited(w http.ResponseWriter, r *http.Request, retryAfter time.Duration) {
	resp := newResponse("rate_limited", "too many requests")
	resp.Error.RetryAfterSeconds = retrySeconds(retryAfter)
	write(w, r, http.StatusTooManyRequests, resp)
}

func newResponse(code, message string) ErrorResponse {
	return ErrorResponse{Error: APIError{Code: code, Message: message}}
}

// retrySeconds округляет остаток вверх до секунды: Retry-After=0 для ещё
// живой блокировки вводил бы клиента в заблуждение.
func retrySeconds(d time.Duration) int64 {
	if d <= 0 {
		return 1
	}

	s := int64((d + time.Second - 1) / time.Second)
	if s < 1 {
		s = 1
	}

	return s
}

func write(w http.ResponseWriter, r *http.Request, status int, resp ErrorResponse) {
	// Прокидываем request_id для фронта, чтобы он мог репортить баги с привязкой.
	if rid := chimw.GetReqID(r.Context()); rid != "" {
		resp.Error.RequestID = rid
	}

	if resp.Error.RetryAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(resp.Error.RetryAfterSeconds, 10))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
