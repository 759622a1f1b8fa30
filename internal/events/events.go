// events — публикация событий безопасности аутентификации.
//
// Сервис сообщает о значимых действиях (вход, блокировка, отзыв сессий)
// во внешнюю шину, чтобы антифрод и аудит работали вне auth-service.
// Публикация не участвует в основном сценарии: ошибка публикации
// логируется вызывающей стороной и не прерывает операцию.
package events

import (
	"context"
	"time"
)

// Типы событий безопасности.
const (
	TypeUserRegistered  = "user.registered"
	TypeUserLogin       = "user.login"
	TypeUserLoginFailed = "user.login_failed"
	TypeUserLockout     = "user.lockout"
	TypeSessionRefresh  = "session.refreshed"
	TypeSessionRevoked  = "session.revoked"
	TypeTokenReplay     = "token.replay_suspected"
	TypePasswordChanged = "user.password_changed"
)

// SecurityEvent — событие безопасности в том виде, в котором оно уходит
// в шину. Email и IP кладутся уже замаскированными (pkg/redact):
// шина — не место для персональных данных.
// ID уникален на событие и служит потребителям ключом дедупликации.
type SecurityEvent struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	UserID    string    `json:"user_id,omitempty"`
	Email     string    `json:"email,omitempty"`
	IP        string    `json:"ip,omitempty"`
	Device    string    `json:"device,omitempty"`
	At        time.Time `json:"at"`
	RequestID string    `json:"request_id,omitempty"`
}

// Publisher — отправитель событий безопасности.
type Publisher interface {
	// Publish отправляет событие. Возвращённая ошибка означает, что
	// событие потеряно; решение о повторе — за вызывающей стороной.
	Publish(ctx context.Context, event SecurityEvent) error
	// Close освобождает ресурсы отправителя.
	Close() error
}
