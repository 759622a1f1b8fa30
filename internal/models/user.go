package models

import (
	"time"

	"github.com/google/uuid"
)

// Role — роль пользователя для авторизации запросов.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Valid сообщает, известна ли роль сервису.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAdmin:
		return true
	}
	return false
}

// Plan — тарифный план подписки. Участвует в проверке прав вида "ai.*",
// которые выдаются по плану, а не по роли.
type Plan string

const (
	PlanFree    Plan = "free"
	PlanPremium Plan = "premium"
	PlanPro     Plan = "pro"
)

// Valid сообщает, известен ли план сервису.
func (p Plan) Valid() bool {
	switch p {
	case PlanFree, PlanPremium, PlanPro:
		return true
	}
	return false
}

// User — учётная запись пользователя.
//
// PasswordHash — bcrypt-хэш; исходный пароль нигде не хранится и не логируется.
// FailedLoginAttempts/LockedUntil — персистентное зеркало счётчика блокировки:
// по нему запросы заблокированного пользователя отклоняются и на
// аутентифицированных маршрутах, а не только на /auth/login.
// PasswordChangedAt — access-токены, выпущенные раньше этого момента,
// считаются устаревшими.
type User struct {
	ID                  uuid.UUID
	Email               string
	PasswordHash        string
	Name                string
	Country             string
	Role                Role
	Plan                Plan
	EmailVerified       bool
	FailedLoginAttempts int
	LockedUntil         time.Time
	PasswordChangedAt   time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Locked сообщает, заблокирована ли учётная запись на момент now.
func (u *User) Locked(now time.Time) bool {
	return !u.LockedUntil.IsZero() && u.LockedUntil.After(now)
}
