// storage задаёт контракт персистентного слоя: пользователи и реестр
// refresh-сессий. Реализация — internal/storage/postgres.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/pribylovaa/go-trip-planner/auth-service/internal/models"
)

var (
	// ErrNotFound — запись не найдена (пользователь/сессия).
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists — нарушение уникальности (email/хэш сессии).
	ErrAlreadyExists = errors.New("already exists")
)

// UpdateProfileInput — частичное обновление профиля: nil-поле не трогается.
type UpdateProfileInput struct {
	Name    *string
	Country *string
}

// UserStorage выполняет операции над пользователями.
type UserStorage interface {
	// SaveUser создает нового пользователя в БД.
	SaveUser(ctx context.Context, user *models.User) error
	// UserByEmail находит пользователя по email.
	UserByEmail(ctx context.Context, email string) (*models.User, error)
	// UserByID находит пользователя по ID.
	UserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	// UpdateProfile частично обновляет профиль и возвращает свежую запись.
	UpdateProfile(ctx context.Context, id uuid.UUID, input UpdateProfileInput) (*models.User, error)
	// UpdatePassword меняет хэш пароля и фиксирует момент смены.
	// Access-токены, выпущенные до changedAt, становятся устаревшими.
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string, changedAt time.Time) error
	// IncrementFailedLogins атомарно увеличивает счётчик неудачных входов;
	// при достижении threshold одновременно выставляет locked_until=lockUntil.
	// Возвращает новое значение счётчика.
	IncrementFailedLogins(ctx context.Context, id uuid.UUID, threshold int, lockUntil time.Time) (int, error)
	// ResetFailedLogins сбрасывает счётчик и снимает блокировку.
	ResetFailedLogins(ctx context.Context, id uuid.UUID) error
}

// SessionStorage выполняет операции над refresh-сессиями.
type SessionStorage interface {
	// SaveSession сохраняет сессию и в той же транзакции вытесняет
	// старейшие по issued_at записи сверх limit на пользователя.
	// Возвращает количество вытесненных сессий.
	SaveSession(ctx context.Context, session *models.Session, limit int) (int64, error)
	// SessionByHash находит сессию по хэшу refresh-токена.
	SessionByHash(ctx context.Context, hash string) (*models.Session, error)
	// RotateSession атомарно заменяет хэш/jti/срок сессии oldHash на данные
	// next. Ноль затронутых строк — ErrNotFound: повтор уже использованного
	// токена либо проигрыш конкурентной ротации.
	RotateSession(ctx context.Context, oldHash string, next *models.Session) error
	// TouchSession обновляет last_used_at (refresh без ротации).
	TouchSession(ctx context.Context, hash string, lastUsedAt time.Time) error
	// DeleteSession удаляет сессию по хэшу. Отсутствие записи — не ошибка.
	DeleteSession(ctx context.Context, hash string) error
	// DeleteAllUserSessions удаляет все сессии пользователя,
	// возвращает количество удалённых.
	DeleteAllUserSessions(ctx context.Context, userID uuid.UUID) (int64, error)
	// DeleteExpiredSessions удаляет сессии с expires_at <= now,
	// возвращает количество удалённых.
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

// Storage задает контракт работы с БД.
type Storage interface {
	UserStorage
	SessionStorage
	Close()
}
