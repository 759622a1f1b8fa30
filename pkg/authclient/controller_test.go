package authclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Тесты контроллера сессии: реальные таймеры с короткими интервалами.
// Синхронизация — через канал смен состояния и require.Eventually:
// тест ждёт само событие, а не спит фиксированный срок.

// fakeAPI — управляемая замена SessionAPI: очередь грантов для Refresh,
// настраиваемые ошибки, счётчики вызовов.
type fakeAPI struct {
	mu         sync.Mutex
	refreshErr error
	logoutErr  error
	grants     []*TokenGrant
	refreshes  int
	logouts    int
}

func (f *fakeAPI) Refresh(context.Context) (*TokenGrant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.refreshes++
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	if len(f.grants) > 0 {
		grant := f.grants[0]
		f.grants = f.grants[1:]
		return grant, nil
	}

	return &TokenGrant{AccessToken: fmt.Sprintf("access-%d", f.refreshes+1)}, nil
}

func (f *fakeAPI) Logout(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.logouts++
	return f.logoutErr
}

func (f *fakeAPI) counts() (refreshes, logouts int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshes, f.logouts
}

type stateChange struct {
	state  State
	reason string
}

// newTestController собирает контроллер с каналом смен состояния;
// Close снимается через t.Cleanup.
func newTestController(t *testing.T, api SessionAPI, cfg ControllerConfig) (*Controller, chan stateChange) {
	t.Helper()

	changes := make(chan stateChange, 16)
	cfg.OnChange = func(state State, reason string) {
		changes <- stateChange{state: state, reason: reason}
	}

	c := NewController(api, cfg)
	t.Cleanup(c.Close)

	return c, changes
}

func waitChange(t *testing.T, changes chan stateChange) stateChange {
	t.Helper()

	select {
	case change := <-changes:
		return change
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for state change")
		return stateChange{}
	}
}

// TestController_StartActivatesSession — Start переводит контроллер в
// StateActive, кладёт токен в память и пишет login в журнал.
func TestController_StartActivatesSession(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	c, changes := newTestController(t, api, ControllerConfig{})

	require.Equal(t, StateIdle, c.State())
	require.Empty(t, c.AccessToken())
	require.Empty(t, c.Events())

	c.Start(&TokenGrant{UserID: "u-1", AccessToken: "access-1", ExpiresIn: 900})

	require.Equal(t, StateActive, c.State())
	require.Equal(t, "access-1", c.AccessToken())

	change := waitChange(t, changes)
	require.Equal(t, StateActive, change.state)
	require.Equal(t, ReasonLogin, change.reason)

	events := c.Events()
	require.Len(t, events, 1)
	require.Equal(t, EventLogin, events[0].Type)
	require.Equal(t, StatusOK, events[0].Status)
	require.False(t, events[0].At.IsZero())
}

// TestController_RefreshChainUpdatesToken — упреждающий refresh срабатывает
// сам, подменяет токен и взводится заново; сессия остаётся живой.
func TestController_RefreshChainUpdatesToken(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	c, _ := newTestController(t, api, ControllerConfig{
		AccessTokenTTL:    150 * time.Millisecond,
		InactivityTimeout: 10 * time.Second,
	})

	// ExpiresIn пуст — срок берётся из конфигурации контроллера.
	c.Start(&TokenGrant{UserID: "u-1", AccessToken: "access-1"})

	require.Eventually(t, func() bool {
		return c.AccessToken() == "access-3"
	}, 2*time.Second, 10*time.Millisecond)

	require.Equal(t, StateActive, c.State())

	events := c.Events()
	require.GreaterOrEqual(t, len(events), 3)
	require.Equal(t, EventLogin, events[0].Type)
	require.Equal(t, EventTokenRefresh, events[1].Type)
	require.Equal(t, StatusOK, events[1].Status)
}

// TestController_FailedRefreshTerminatesSession — единственная неудача
// refresh гасит сессию без повторов: токен стёрт, cookie отозвана фоном.
func TestController_FailedRefreshTerminatesSession(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{refreshErr: &APIError{Status: http.StatusUnauthorized, Code: "token_revoked"}}
	c, changes := newTestController(t, api, ControllerConfig{
		AccessTokenTTL:    150 * time.Millisecond,
		InactivityTimeout: 10 * time.Second,
	})

	c.Start(&TokenGrant{UserID: "u-1", AccessToken: "access-1"})

	change := waitChange(t, changes)
	require.Equal(t, StateActive, change.state)

	change = waitChange(t, changes)
	require.Equal(t, StateExpired, change.state)
	require.Equal(t, ReasonRefreshFailed, change.reason)

	require.Equal(t, StateExpired, c.State())
	require.Empty(t, c.AccessToken())

	// Повторов нет: ровно одна попытка.
	refreshes, _ := api.counts()
	require.Equal(t, 1, refreshes)

	require.Eventually(t, func() bool {
		_, logouts := api.counts()
		return logouts == 1
	}, 2*time.Second, 10*time.Millisecond)

	events := c.Events()
	require.Len(t, events, 3)
	require.Equal(t, EventTokenRefresh, events[1].Type)
	require.Equal(t, StatusFailed, events[1].Status)
	require.Contains(t, events[1].Context, "token_revoked")
	require.Equal(t, EventLogout, events[2].Type)
	require.Equal(t, ReasonRefreshFailed, events[2].Context)
}

// TestController_InactivityExpiresSession — без активности сессия гаснет
// сама; отложенный refresh при этом снимается и не срабатывает.
func TestController_InactivityExpiresSession(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	c, changes := newTestController(t, api, ControllerConfig{
		AccessTokenTTL:    1500 * time.Millisecond,
		InactivityTimeout: 100 * time.Millisecond,
	})

	c.Start(&TokenGrant{UserID: "u-1", AccessToken: "access-1"})

	change := waitChange(t, changes)
	require.Equal(t, StateActive, change.state)

	change = waitChange(t, changes)
	require.Equal(t, StateExpired, change.state)
	require.Equal(t, ReasonInactivity, change.reason)

	require.Empty(t, c.AccessToken())

	refreshes, _ := api.counts()
	require.Zero(t, refreshes)

	require.Eventually(t, func() bool {
		_, logouts := api.counts()
		return logouts == 1
	}, 2*time.Second, 10*time.Millisecond)

	events := c.Events()
	require.Len(t, events, 3)
	require.Equal(t, EventSessionExpired, events[1].Type)
	require.Equal(t, ReasonInactivity, events[1].Context)
	require.Equal(t, EventLogout, events[2].Type)
}

// TestController_ActivityResetsIdleTimer — каждый квалифицирующий тип
// активности перезапускает таймер неактивности.
func TestController_ActivityResetsIdleTimer(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	c, changes := newTestController(t, api, ControllerConfig{
		AccessTokenTTL:    10 * time.Second,
		InactivityTimeout: 300 * time.Millisecond,
	})

	c.Start(&TokenGrant{UserID: "u-1", AccessToken: "access-1"})

	kinds := []string{
		ActivityPointerDown,
		ActivityPointerMove,
		ActivityKeyDown,
		ActivityScroll,
		ActivityTouchStart,
	}

	// Суммарно живём дольше таймаута — сессию держат только сбросы.
	for _, kind := range kinds {
		time.Sleep(120 * time.Millisecond)
		c.Activity(kind)
		require.Equal(t, StateActive, c.State())
	}

	change := waitChange(t, changes)
	require.Equal(t, StateActive, change.state)

	change = waitChange(t, changes)
	require.Equal(t, StateExpired, change.state)
	require.Equal(t, ReasonInactivity, change.reason)
}

// TestController_NonQualifyingActivityIgnored — события вне фиксированного
// набора не продлевают сессию, даже если идут непрерывно.
func TestController_NonQualifyingActivityIgnored(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	c, changes := newTestController(t, api, ControllerConfig{
		AccessTokenTTL:    10 * time.Second,
		InactivityTimeout: 200 * time.Millisecond,
	})

	c.Start(&TokenGrant{UserID: "u-1", AccessToken: "access-1"})

	done := make(chan struct{})
	t.Cleanup(func() { close(done) })

	go func() {
		ticker := time.NewTicker(40 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				c.Activity("focus")
				c.Activity("visibilitychange")
			}
		}
	}()

	change := waitChange(t, changes)
	require.Equal(t, StateActive, change.state)

	change = waitChange(t, changes)
	require.Equal(t, StateExpired, change.state)
	require.Equal(t, ReasonInactivity, change.reason)
}

// TestController_RestartSupersedesOldTimers — повторный Start обесценивает
// таймеры прежней сессии: refresh старого поколения не срабатывает.
func TestController_RestartSupersedesOldTimers(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	c, _ := newTestController(t, api, ControllerConfig{
		AccessTokenTTL:    150 * time.Millisecond,
		InactivityTimeout: 10 * time.Second,
	})

	c.Start(&TokenGrant{UserID: "u-1", AccessToken: "access-1"})
	// Срок из гранта: refresh второй сессии уехал далеко за рамки теста.
	c.Start(&TokenGrant{UserID: "u-1", AccessToken: "access-2", ExpiresIn: 3600})

	// Окно срабатывания refresh первой сессии давно позади.
	time.Sleep(400 * time.Millisecond)

	require.Equal(t, StateActive, c.State())
	require.Equal(t, "access-2", c.AccessToken())

	refreshes, _ := api.counts()
	require.Zero(t, refreshes)

	events := c.Events()
	require.Len(t, events, 2)
	require.Equal(t, EventLogin, events[0].Type)
	require.Equal(t, EventLogin, events[1].Type)
}

// TestController_ManualLogout — явный выход: локальное состояние гасится,
// cookie отзывается синхронно, сигнал уходит в шину, повтор — no-op.
func TestController_ManualLogout(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	c, changes := newTestController(t, api, ControllerConfig{})

	bus := NewBroadcaster()
	c.AttachBroadcast(bus)

	var (
		mu      sync.Mutex
		signals []Signal
	)
	cancel := bus.Subscribe(func(sig Signal) {
		mu.Lock()
		signals = append(signals, sig)
		mu.Unlock()
	})
	t.Cleanup(cancel)

	c.Start(&TokenGrant{UserID: "u-1", AccessToken: "access-1", ExpiresIn: 900})
	require.NoError(t, c.Logout(context.Background()))

	require.Equal(t, StateIdle, c.State())
	require.Empty(t, c.AccessToken())

	_, logouts := api.counts()
	require.Equal(t, 1, logouts)

	mu.Lock()
	require.Len(t, signals, 1)
	require.Equal(t, SignalLogout, signals[0].Type)
	require.Equal(t, "u-1", signals[0].UserID)
	require.Equal(t, ReasonUser, signals[0].Reason)
	mu.Unlock()

	change := waitChange(t, changes)
	require.Equal(t, StateActive, change.state)
	change = waitChange(t, changes)
	require.Equal(t, StateIdle, change.state)
	require.Equal(t, ReasonUser, change.reason)

	// Повторный logout ничего не делает.
	require.NoError(t, c.Logout(context.Background()))
	_, logouts = api.counts()
	require.Equal(t, 1, logouts)
}

// TestController_LogoutServerErrorStillClearsLocally — ошибка отзыва на
// сервере не мешает локальному завершению: токена в памяти уже нет.
func TestController_LogoutServerErrorStillClearsLocally(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{logoutErr: errors.New("network down")}
	c, _ := newTestController(t, api, ControllerConfig{})

	c.Start(&TokenGrant{UserID: "u-1", AccessToken: "access-1", ExpiresIn: 900})

	err := c.Logout(context.Background())
	require.Error(t, err)
	require.ErrorContains(t, err, "network down")

	require.Equal(t, StateIdle, c.State())
	require.Empty(t, c.AccessToken())
}

// TestController_RemoteLogoutSignal — logout в одной вкладке гасит сессию
// в другой; полученный сигнал повторно не публикуется.
func TestController_RemoteLogoutSignal(t *testing.T) {
	t.Parallel()

	bus := NewBroadcaster()

	apiA := &fakeAPI{}
	ctrlA, _ := newTestController(t, apiA, ControllerConfig{})
	ctrlA.AttachBroadcast(bus)

	apiB := &fakeAPI{}
	ctrlB, changesB := newTestController(t, apiB, ControllerConfig{})
	ctrlB.AttachBroadcast(bus)

	var signalCount int
	var mu sync.Mutex
	cancel := bus.Subscribe(func(Signal) {
		mu.Lock()
		signalCount++
		mu.Unlock()
	})
	t.Cleanup(cancel)

	ctrlA.Start(&TokenGrant{UserID: "u-1", AccessToken: "access-a", ExpiresIn: 900})
	ctrlB.Start(&TokenGrant{UserID: "u-1", AccessToken: "access-b", ExpiresIn: 900})

	// Доставка синхронная: после Logout вторая вкладка уже погашена.
	require.NoError(t, ctrlA.Logout(context.Background()))

	require.Equal(t, StateIdle, ctrlB.State())
	require.Empty(t, ctrlB.AccessToken())

	change := waitChange(t, changesB)
	require.Equal(t, StateActive, change.state)
	change = waitChange(t, changesB)
	require.Equal(t, StateIdle, change.state)
	require.Equal(t, ReasonRemote, change.reason)

	// Один сигнал на шине: получатель не публикует чужой logout заново.
	mu.Lock()
	require.Equal(t, 1, signalCount)
	mu.Unlock()

	// Вторая вкладка отзывает свою cookie фоном.
	require.Eventually(t, func() bool {
		_, logouts := apiB.counts()
		return logouts == 1
	}, 2*time.Second, 10*time.Millisecond)

	events := ctrlB.Events()
	require.Len(t, events, 2)
	require.Equal(t, EventLogout, events[1].Type)
	require.Equal(t, ReasonRemote, events[1].Context)
}

// TestController_RemoteSignalForOtherUserIgnored — сигнал с чужим
// идентификатором пользователя сессию не трогает.
func TestController_RemoteSignalForOtherUserIgnored(t *testing.T) {
	t.Parallel()

	bus := NewBroadcaster()

	api := &fakeAPI{}
	c, _ := newTestController(t, api, ControllerConfig{})
	c.AttachBroadcast(bus)

	c.Start(&TokenGrant{UserID: "u-2", AccessToken: "access-1", ExpiresIn: 900})

	bus.Publish(Signal{Type: SignalLogout, UserID: "u-1", Reason: ReasonUser})

	require.Equal(t, StateActive, c.State())
	require.Equal(t, "access-1", c.AccessToken())

	// Сигнал без адресата гасит любую живую сессию.
	bus.Publish(Signal{Type: SignalLogout, Reason: ReasonUser})

	require.Equal(t, StateIdle, c.State())
	require.Empty(t, c.AccessToken())
}

// TestController_CloseStopsTimers — Close снимает таймеры и отписывается
// от шины; журнал при этом не пополняется.
func TestController_CloseStopsTimers(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	c, _ := newTestController(t, api, ControllerConfig{
		AccessTokenTTL:    150 * time.Millisecond,
		InactivityTimeout: 10 * time.Second,
	})

	c.Start(&TokenGrant{UserID: "u-1", AccessToken: "access-1"})
	c.Close()

	require.Equal(t, StateIdle, c.State())
	require.Empty(t, c.AccessToken())

	time.Sleep(300 * time.Millisecond)

	refreshes, logouts := api.counts()
	require.Zero(t, refreshes)
	require.Zero(t, logouts)

	events := c.Events()
	require.Len(t, events, 1)
	require.Equal(t, EventLogin, events[0].Type)

	// Повторный Close безопасен.
	c.Close()
}

// TestController_ActivityOutsideSession — активность вне живой сессии
// игнорируется без паники.
func TestController_ActivityOutsideSession(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	c, _ := newTestController(t, api, ControllerConfig{})

	c.Activity(ActivityKeyDown)
	require.Equal(t, StateIdle, c.State())

	require.NoError(t, c.Logout(context.Background()))

	_, logouts := api.counts()
	require.Zero(t, logouts)
}
