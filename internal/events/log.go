package events

import (
	"context"
	"log/slog"
)

// LogPublisher пишет события безопасности в структурированный лог.
// Используется, когда Kafka выключена конфигурацией: события остаются
// наблюдаемыми в логах, пайплайн доставки не нужен.
type LogPublisher struct {
	log *slog.Logger
}

// NewLogPublisher создаёт лог-публикатора поверх переданного логгера.
func NewLogPublisher(log *slog.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

// Publish пишет событие одной записью уровня INFO.
func (p *LogPublisher) Publish(ctx context.Context, event SecurityEvent) error {
	p.log.InfoContext(ctx, "security_event",
		slog.String("type", event.Type),
		slog.String("user_id", event.UserID),
		slog.String("email", event.Email),
		slog.String("ip", event.IP),
		slog.String("request_id", event.RequestID),
	)

	return nil
}

// Close ничего не освобождает.
func (p *LogPublisher) Close() error {
	return nil
}
