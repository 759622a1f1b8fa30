package authclient

import (
	"sync"
	"time"
)

// Типы записей журнала безопасности.
const (
	EventLogin          = "login"
	EventTokenRefresh   = "token_refresh"
	EventSessionExpired = "session_expired"
	EventLogout         = "logout"
)

// Статусы записей.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// SecurityRecord — одна запись журнала для пользовательского аудита.
type SecurityRecord struct {
	Type    string
	Status  string
	At      time.Time
	Context string
}

// Journal — кольцевой журнал фиксированной ёмкости: новая запись вытесняет
// старейшую, журнал только дописывается. Потокобезопасен.
type Journal struct {
	mu      sync.Mutex
	records []SecurityRecord
	head    int // индекс старейшей записи
	size    int
	mirror  func(SecurityRecord)
}

// NewJournal создаёт журнал на capacity записей (по умолчанию 10).
func NewJournal(capacity int) *Journal {
	if capacity <= 0 {
		capacity = 10
	}

	return &Journal{records: make([]SecurityRecord, capacity)}
}

// SetMirror подключает зеркалирование записей наружу (например, на сервер).
// Вызов зеркала не блокирует запись: выполняется в отдельной горутине,
// ошибки доставки журнал не волнуют.
func (j *Journal) SetMirror(fn func(SecurityRecord)) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.mirror = fn
}

// Record дописывает запись; пустой At заполняется текущим временем.
func (j *Journal) Record(rec SecurityRecord) {
	if rec.At.IsZero() {
		rec.At = time.Now().UTC()
	}

	j.mu.Lock()
	tail := (j.head + j.size) % len(j.records)
	j.records[tail] = rec
	if j.size < len(j.records) {
		j.size++
	} else {
		j.head = (j.head + 1) % len(j.records)
	}
	mirror := j.mirror
	j.mu.Unlock()

	if mirror != nil {
		go mirror(rec)
	}
}

// Events — снимок журнала от старейшей записи к новейшей.
func (j *Journal) Events() []SecurityRecord {
	j.mu.Lock()
	defer j.mu.Unlock()

	out := make([]SecurityRecord, 0, j.size)
	for i := 0; i < j.size; i++ {
		out = append(out, j.records[(j.head+i)%len(j.records)])
	}

	return out
}
