// counter — TTL-хранилище целочисленных счётчиков с fixed-window
// семантикой. Единая абстракция для защиты от перебора пароля (lockout)
// и ограничения частоты запросов (ratelimit).
//
// Реализация memory корректна только для единственного экземпляра сервиса;
// при горизонтальном масштабировании счётчики обязаны жить в Redis.
package counter

import (
	"context"
	"time"
)

// Counter — TTL-хранилище счётчиков.
type Counter interface {
	// Incr увеличивает счётчик ключа. Первое увеличение открывает окно
	// window; последующие окно НЕ продлевают (fixed window).
	// Возвращает новое значение и остаток окна.
	Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
	// Get возвращает текущее значение и остаток окна; (0, 0) — ключа нет.
	Get(ctx context.Context, key string) (int64, time.Duration, error)
	// Reset удаляет счётчик.
	Reset(ctx context.Context, key string) error
	// Close освобождает ресурсы хранилища.
	Close() error
}
