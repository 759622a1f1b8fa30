package authclient

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// State — состояние клиентской сессии.
type State string

const (
	// StateIdle — сессии нет: до логина либо после явного logout.
	StateIdle State = "idle"
	// StateActive — сессия жива, таймеры взведены.
	StateActive State = "active"
	// StateExpired — сессия погасла сама: неактивность или неудачный refresh.
	StateExpired State = "expired"
)

// Причины смены состояния (аргумент OnChange и поле Context журнала).
const (
	ReasonLogin         = "login"
	ReasonUser          = "user"
	ReasonInactivity    = "inactivity"
	ReasonRefreshFailed = "refresh_failed"
	ReasonRemote        = "remote"
)

// Квалифицирующие типы активности: только они перезапускают таймер
// неактивности. Набор фиксирован.
const (
	ActivityPointerDown = "pointerdown"
	ActivityPointerMove = "pointermove"
	ActivityKeyDown     = "keydown"
	ActivityScroll      = "scroll"
	ActivityTouchStart  = "touchstart"
)

var qualifyingActivity = map[string]struct{}{
	ActivityPointerDown: {},
	ActivityPointerMove: {},
	ActivityKeyDown:     {},
	ActivityScroll:      {},
	ActivityTouchStart:  {},
}

// SessionAPI — операции сервера, нужные контроллеру. *Client реализует
// интерфейс; в тестах подменяется фейком.
type SessionAPI interface {
	Refresh(ctx context.Context) (*TokenGrant, error)
	Logout(ctx context.Context) error
}

// ControllerConfig — настройки контроллера. Нулевые поля получают умолчания.
type ControllerConfig struct {
	// AccessTokenTTL — срок жизни access-токена на случай, когда грант
	// не принёс expires_in. По умолчанию 15 минут.
	AccessTokenTTL time.Duration
	// InactivityTimeout — срок жизни сессии без активности. По умолчанию 30 минут.
	InactivityTimeout time.Duration
	// CallTimeout — потолок на сетевые вызовы контроллера (refresh,
	// фоновый logout). По умолчанию 10 секунд.
	CallTimeout time.Duration
	// JournalCapacity — ёмкость журнала безопасности. По умолчанию 10.
	JournalCapacity int
	// OnChange — уведомление о смене состояния (подписка UI-слоя).
	// Вызывается вне внутренней блокировки; может быть nil.
	OnChange func(state State, reason string)
}

func (cfg *ControllerConfig) withDefaults() {
	if cfg.AccessTokenTTL <= 0 {
		cfg.AccessTokenTTL = 15 * time.Minute
	}
	if cfg.InactivityTimeout <= 0 {
		cfg.InactivityTimeout = 30 * time.Minute
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	if cfg.JournalCapacity <= 0 {
		cfg.JournalCapacity = 10
	}
}

// Controller — конечный автомат клиентской сессии.
//
// Все переходы сериализованы мьютексом, а каждый таймер несёт поколение
// сессии: сработавший после logout или нового логина таймер видит чужое
// поколение и не делает ничего. Отсюда две гарантии контракта: refresh
// не применится к уже завершённой сессии, а гашение по неактивности всегда
// снимает отложенный refresh.
//
// Access-токен держится только в памяти контроллера.
type Controller struct {
	api     SessionAPI
	cfg     ControllerConfig
	journal *Journal

	broadcast   *Broadcaster
	unsubscribe func()

	mu           sync.Mutex
	state        State
	gen          uint64
	accessToken  string
	userID       string
	refreshTimer *time.Timer
	idleTimer    *time.Timer
}

// NewController собирает контроллер в состоянии StateIdle.
func NewController(api SessionAPI, cfg ControllerConfig) *Controller {
	cfg.withDefaults()

	return &Controller{
		api:     api,
		cfg:     cfg,
		journal: NewJournal(cfg.JournalCapacity),
		state:   StateIdle,
	}
}

// AttachBroadcast подключает контроллер к межвкладочной шине: собственный
// logout публикуется, чужой — гасит локальную сессию без повторной
// публикации (иначе сигнал зациклится между вкладками).
func (c *Controller) AttachBroadcast(b *Broadcaster) {
	c.broadcast = b
	c.unsubscribe = b.Subscribe(func(sig Signal) {
		if sig.Type != SignalLogout {
			return
		}

		c.mu.Lock()
		if c.state != StateActive || (sig.UserID != "" && sig.UserID != c.userID) {
			c.mu.Unlock()
			return
		}
		userID := c.shutdownLocked(StateIdle)
		c.mu.Unlock()

		c.finishLogout(userID, StateIdle, ReasonRemote, false)
	})
}

// Start открывает сессию по выданному гранту: прежние таймеры безусловно
// снимаются, взводятся свежие. Повторный Start поверх живой сессии
// эквивалентен перелогину.
func (c *Controller) Start(grant *TokenGrant) {
	c.mu.Lock()

	c.gen++
	gen := c.gen
	c.stopTimersLocked()

	c.state = StateActive
	c.accessToken = grant.AccessToken
	c.userID = grant.UserID

	ttl := grant.TTL()
	if ttl <= 0 {
		ttl = c.cfg.AccessTokenTTL
	}

	c.refreshTimer = time.AfterFunc(refreshDelay(ttl), func() { c.refreshFired(gen) })
	c.idleTimer = time.AfterFunc(c.cfg.InactivityTimeout, func() { c.idleFired(gen) })

	c.mu.Unlock()

	c.journal.Record(SecurityRecord{Type: EventLogin, Status: StatusOK})
	c.notify(StateActive, ReasonLogin)
}

// Activity сообщает о входном событии. Квалифицирующий тип перезапускает
// таймер неактивности; прочие и события вне живой сессии игнорируются.
func (c *Controller) Activity(kind string) {
	if _, ok := qualifyingActivity[kind]; !ok {
		return
	}

	c.mu.Lock()
	if c.state == StateActive && c.idleTimer != nil {
		c.idleTimer.Reset(c.cfg.InactivityTimeout)
	}
	c.mu.Unlock()
}

// AccessToken — текущий access-токен; пустая строка вне живой сессии.
func (c *Controller) AccessToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateActive {
		return ""
	}

	return c.accessToken
}

// State — текущее состояние сессии.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Events — снимок журнала безопасности (старые записи — первыми).
func (c *Controller) Events() []SecurityRecord {
	return c.journal.Events()
}

// Journal — журнал контроллера (для подключения зеркалирования).
func (c *Controller) Journal() *Journal {
	return c.journal
}

// Logout завершает сессию вручную: оба таймера снимаются, refresh-cookie
// отзывается на сервере. Ошибка сервера возвращается вызывающему, но
// локальная сессия к этому моменту уже погашена. Повторный вызов — no-op.
func (c *Controller) Logout(ctx context.Context) error {
	const op = "authclient.Controller.Logout"

	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return nil
	}
	userID := c.shutdownLocked(StateIdle)
	c.mu.Unlock()

	c.journal.Record(SecurityRecord{Type: EventLogout, Status: StatusOK, Context: ReasonUser})
	c.publishLogout(userID, ReasonUser)
	c.notify(StateIdle, ReasonUser)

	if err := c.api.Logout(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// Close снимает таймеры, стирает токен и отписывается от шины. Журнал и
// подписчики не уведомляются: это останов контроллера, а не logout.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.state == StateActive {
		c.shutdownLocked(StateIdle)
	}
	c.mu.Unlock()

	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
}

// refreshFired — срабатывание refresh-таймера поколения gen.
// Единственная попытка: любая неудача терминальна, повторов нет.
func (c *Controller) refreshFired(gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.CallTimeout)
	defer cancel()

	grant, err := c.api.Refresh(ctx)

	c.mu.Lock()
	if gen != c.gen {
		// Сессия сменилась, пока шёл сетевой вызов: результат никому не нужен.
		c.mu.Unlock()
		return
	}

	if err != nil {
		userID := c.shutdownLocked(StateExpired)
		c.mu.Unlock()

		c.journal.Record(SecurityRecord{Type: EventTokenRefresh, Status: StatusFailed, Context: err.Error()})
		c.finishLogout(userID, StateExpired, ReasonRefreshFailed, true)
		return
	}

	c.accessToken = grant.AccessToken

	ttl := grant.TTL()
	if ttl <= 0 {
		ttl = c.cfg.AccessTokenTTL
	}
	c.refreshTimer = time.AfterFunc(refreshDelay(ttl), func() { c.refreshFired(gen) })

	c.mu.Unlock()

	c.journal.Record(SecurityRecord{Type: EventTokenRefresh, Status: StatusOK})
}

// idleFired — срабатывание таймера неактивности поколения gen.
func (c *Controller) idleFired(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.state != StateActive {
		c.mu.Unlock()
		return
	}
	userID := c.shutdownLocked(StateExpired)
	c.mu.Unlock()

	c.journal.Record(SecurityRecord{Type: EventSessionExpired, Status: StatusOK, Context: ReasonInactivity})
	c.finishLogout(userID, StateExpired, ReasonInactivity, true)
}

// shutdownLocked гасит живую сессию: новое поколение обесценивает уже
// сработавшие таймеры, токен стирается из памяти. Вызывается под mu
// при state == StateActive; возвращает идентификатор владельца сессии.
func (c *Controller) shutdownLocked(next State) string {
	c.gen++
	c.stopTimersLocked()

	userID := c.userID
	c.accessToken = ""
	c.userID = ""
	c.state = next

	return userID
}

// finishLogout — хвост принудительного завершения: фоновый отзыв
// refresh-cookie, запись в журнал, сигнал шине и уведомление подписчика.
// Завершение по чужому сигналу не публикуется повторно (publish == false).
func (c *Controller) finishLogout(userID string, next State, reason string, publish bool) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.CallTimeout)
		defer cancel()
		_ = c.api.Logout(ctx)
	}()

	c.journal.Record(SecurityRecord{Type: EventLogout, Status: StatusOK, Context: reason})

	if publish {
		c.publishLogout(userID, reason)
	}
	c.notify(next, reason)
}

func (c *Controller) stopTimersLocked() {
	if c.refreshTimer != nil {
		c.refreshTimer.Stop()
		c.refreshTimer = nil
	}
	if c.idleTimer != nil {
		c.idleTimer.Stop()
		c.idleTimer = nil
	}
}

func (c *Controller) publishLogout(userID, reason string) {
	if c.broadcast == nil {
		return
	}

	c.broadcast.Publish(Signal{Type: SignalLogout, UserID: userID, Reason: reason})
}

func (c *Controller) notify(state State, reason string) {
	if c.cfg.OnChange != nil {
		c.cfg.OnChange(state, reason)
	}
}

// refreshDelay — момент упреждающего обновления: 14/15 срока жизни токена.
func refreshDelay(ttl time.Duration) time.Duration {
	d := ttl / 15 * 14
	if d <= 0 {
		d = time.Millisecond
	}

	return d
}
