// service содержит бизнес-логику auth-сервиса: регистрацию и вход,
// жизненный цикл refresh-сессий (выпуск, ротация, отзыв), защиту от
// перебора паролей и операции профиля.
//
// Основные аспекты:
//   - Пакет не хранит состояние запроса внутри Service; экземпляр Service
//     безопасен для конкурентного использования из разных горутин при
//     условии, что зависимости (storage, guard, publisher) потокобезопасны.
//   - Ошибки возвращаются сентинелами и далее маппятся транспортом на
//     HTTP-статусы (см. комментарии к переменным ошибок ниже).
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/pribylovaa/go-trip-planner/auth-service/internal/config"
	"github.com/pribylovaa/go-trip-planner/auth-service/internal/events"
	"github.com/pribylovaa/go-trip-planner/auth-service/internal/lockout"
	"github.com/pribylovaa/go-trip-planner/auth-service/internal/metrics"
	"github.com/pribylovaa/go-trip-planner/auth-service/internal/notify"
	"github.com/pribylovaa/go-trip-planner/auth-service/internal/pkg/log"
	"github.com/pribylovaa/go-trip-planner/auth-service/internal/storage"
	"github.com/pribylovaa/go-trip-planner/auth-service/internal/tokens"
)

var (
	// ErrInvalidCredentials — пара логин/пароль неверна или пользователь
	// не найден. Транспорт: HTTP 401, code "invalid_credentials".
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidToken — токен некорректен по структуре/подписи/клеймам.
	// Транспорт: HTTP 401, code "token_malformed".
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired — срок действия токена или сессии истёк.
	// Транспорт: HTTP 401, code "token_expired".
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenRevoked — криптографически валидный refresh-токен без записи
	// в реестре сессий: отозван, ротирован или повторно предъявлен.
	// Транспорт: HTTP 401, code "token_revoked".
	ErrTokenRevoked = errors.New("token revoked")

	// ErrAccountLocked — вход временно заблокирован после серии неудач.
	// Обычно возвращается как *LockError со сроком повтора.
	// Транспорт: HTTP 423, code "account_locked".
	ErrAccountLocked = errors.New("account locked")

	// ErrEmailTaken — e-mail уже занят другим пользователем.
	// Транспорт: HTTP 409, code "email_taken".
	ErrEmailTaken = errors.New("email already taken")

	// ErrInvalidEmail — e-mail имеет некорректный формат.
	// Транспорт: HTTP 400, code "invalid_email".
	ErrInvalidEmail = errors.New("invalid email format")

	// ErrWeakPassword — пароль не удовлетворяет политике сложности.
	// Транспорт: HTTP 400, code "weak_password".
	ErrWeakPassword = errors.New("password is too weak")

	// ErrEmptyPassword — пароль пустой.
	// Транспорт: HTTP 400, code "empty_password".
	ErrEmptyPassword = errors.New("password is empty")

	// ErrSamePassword — новый пароль совпадает с текущим.
	// Транспорт: HTTP 400, code "same_password".
	ErrSamePassword = errors.New("new password matches the current one")

	// ErrUserNotFound — пользователь не найден (операции профиля).
	// Транспорт: HTTP 404, code "user_not_found".
	ErrUserNotFound = errors.New("user not found")

	// ErrInvalidProfile — поля профиля не проходят валидацию.
	// Транспорт: HTTP 400, code "invalid_profile".
	ErrInvalidProfile = errors.New("invalid profile fields")

	// ErrRefreshTokenCollision — хэш свежего refresh-токена совпал с уже
	// существующим (практически исключено при уникальном jti). Возвращается,
	// когда ограниченный перевыпуск токена не помог. Транспорт: HTTP 500.
	ErrRefreshTokenCollision = errors.New("refresh token collision")
)

// LockError уточняет ErrAccountLocked сроком, через который попытку
// можно повторить. errors.Is(err, ErrAccountLocked) == true.
type LockError struct {
	RetryAfter time.Duration
}

func (e *LockError) Error() string {
	return fmt.Sprintf("account locked, retry after %s", e.RetryAfter)
}

func (e *LockError) Unwrap() error { return ErrAccountLocked }

// RotationPolicy решает, заменять ли refresh-токен при обновлении сессии.
// tokenIssuedAt — момент выпуска предъявленного refresh-токена.
// Политика детерминирована и подменяется в тестах.
type RotationPolicy func(tokenIssuedAt, now time.Time) bool

// RotateAlways ротирует refresh-токен на каждом обновлении.
func RotateAlways() RotationPolicy {
	return func(time.Time, time.Time) bool { return true }
}

// RotateNever никогда не ротирует: refresh-токен живёт до своего exp.
func RotateNever() RotationPolicy {
	return func(time.Time, time.Time) bool { return false }
}

// RotateAfter ротирует, когда предъявленному токену не меньше minAge.
func RotateAfter(minAge time.Duration) RotationPolicy {
	return func(tokenIssuedAt, now time.Time) bool {
		return now.Sub(tokenIssuedAt) >= minAge
	}
}

// rotationFromConfig выбирает политику по конфигурации.
// Неизвестное значение трактуется как самое строгое — RotateAlways.
func rotationFromConfig(cfg config.AuthConfig) RotationPolicy {
	switch cfg.Rotation {
	case config.RotationNever:
		return RotateNever()
	case config.RotationAfter:
		return RotateAfter(cfg.RotationMinAge)
	default:
		return RotateAlways()
	}
}

// SessionMeta — атрибуты клиента, попадающие в запись сессии
// и в события безопасности.
type SessionMeta struct {
	Device string
	IP     string
}

// Service описывает бизнес-логику auth-сервиса.
type Service struct {
	storage   storage.Storage
	tokens    *tokens.Manager
	guard     lockout.Guard
	cfg       config.Config
	rotate    RotationPolicy
	publisher events.Publisher // может быть nil, если шина не подключена
	notifier  notify.Notifier  // может быть nil, если уведомления не подключены

	// now подменяется в тестах с симулированным временем.
	now func() time.Time
}

// New создаёт новый экземпляр Service.
func New(st storage.Storage, tm *tokens.Manager, guard lockout.Guard, cfg config.Config) *Service {
	return &Service{
		storage: st,
		tokens:  tm,
		guard:   guard,
		cfg:     cfg,
		rotate:  rotationFromConfig(cfg.Auth),
		now:     time.Now,
	}
}

// SetPublisher подключает шину событий безопасности (опционально).
func (s *Service) SetPublisher(p events.Publisher) {
	s.publisher = p
}

// SetNotifier подключает канал уведомлений (опционально).
func (s *Service) SetNotifier(n notify.Notifier) {
	s.notifier = n
}

// SetRotationPolicy заменяет политику ротации, выбранную конфигурацией.
func (s *Service) SetRotationPolicy(p RotationPolicy) {
	s.rotate = p
}

// publish отправляет событие безопасности, если шина подключена.
// Ошибка публикации логируется и не влияет на исход операции.
func (s *Service) publish(ctx context.Context, event events.SecurityEvent) {
	if s.publisher == nil {
		return
	}

	event.ID = uuid.NewString()
	event.At = s.now().UTC()
	if event.RequestID == "" {
		event.RequestID = chimw.GetReqID(ctx)
	}

	if err := s.publisher.Publish(ctx, event); err != nil {
		log.From(ctx).Warn("security_event_publish_failed",
			slog.String("type", event.Type),
			slog.String("err", err.Error()),
		)

		return
	}

	metrics.SecurityEventsTotal.WithLabelValues(event.Type).Inc()
}
