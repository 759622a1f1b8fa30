// notify — уведомления пользователю о действиях с его учётной записью.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/pribylovaa/go-trip-planner/auth-service/pkg/redact"
)

// Notifier — канал уведомлений пользователя. Реализация обязана быть
// дешёвой и неблокирующей: сервис вызывает её на горячем пути и не
// повторяет доставку при ошибке.
type Notifier interface {
	// Welcome приветствует нового пользователя.
	Welcome(ctx context.Context, email string)
	// PasswordChanged уведомляет о смене пароля.
	PasswordChanged(ctx context.Context, email string)
	// AccountLocked уведомляет о временной блокировке входа.
	AccountLocked(ctx context.Context, email string, until time.Time)
}

// LogNotifier пишет уведомления в лог. Замена почтовому каналу до тех
// пор, пока сервис рассылок не подключён.
type LogNotifier struct {
	log *slog.Logger
}

// NewLogNotifier создаёт лог-уведомителя поверх переданного логгера.
func NewLogNotifier(log *slog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Welcome(ctx context.Context, email string) {
	n.log.InfoContext(ctx, "notify_welcome",
		slog.String("email", redact.Email(email)),
	)
}

func (n *LogNotifier) PasswordChanged(ctx context.Context, email string) {
	n.log.InfoContext(ctx, "notify_password_changed",
		slog.String("email", redact.Email(email)),
	)
}

func (n *LogNotifier) AccountLocked(ctx context.Context, email string, until time.Time) {
	n.log.InfoContext(ctx, "notify_account_locked",
		slog.String("email", redact.Email(email)),
		slog.Time("until", until),
	)
}
