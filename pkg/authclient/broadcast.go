package authclient

import "sync"

// SignalLogout — единственный сигнал шины: сессия завершена в одной из
// вкладок, остальные обязаны погасить свои таймеры.
const SignalLogout = "logout"

// Signal — сообщение межвкладочной шины.
type Signal struct {
	Type   string
	UserID string
	Reason string
}

// Broadcaster — pub/sub-примитив в пределах процесса: аналог
// межвкладочного канала браузера. Доставка синхронная, порядок получателей
// не определён; подписчики не должны блокироваться надолго.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[int]func(Signal)
	next int
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]func(Signal))}
}

// Subscribe регистрирует получателя и возвращает функцию отписки.
// Отписка идемпотентна.
func (b *Broadcaster) Subscribe(fn func(Signal)) (cancel func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Publish доставляет сигнал всем текущим подписчикам, включая подписчика
// самого публикующего (получатели отфильтровывают свои сигналы по состоянию).
func (b *Broadcaster) Publish(sig Signal) {
	b.mu.Lock()
	fns := make([]func(Signal), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(sig)
	}
}
