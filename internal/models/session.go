package models

import (
	"time"

	"github.com/google/uuid"
)

// Session — серверная запись refresh-сессии.
//
// Описание:
//   - TokenHash — SHA-256 (base64url) от «сырого» refresh-токена; сам токен
//     на сервере не хранится никогда;
//   - RefreshJTI — jti refresh-токена, которому соответствует запись;
//   - Device/IP — дескриптор устройства и адрес клиента на момент входа;
//   - IssuedAt — момент выпуска (по нему вытесняется старейшая сессия);
//   - LastUsedAt — момент последнего успешного refresh;
//   - ExpiresAt — момент истечения refresh-токена (по нему чистит janitor).
type Session struct {
	TokenHash  string
	UserID     uuid.UUID
	RefreshJTI string
	Device     string
	IP         string
	IssuedAt   time.Time
	LastUsedAt time.Time
	ExpiresAt  time.Time
}
