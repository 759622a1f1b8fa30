// authclient — Go-клиент публичного HTTP API auth-сервиса и клиентский
// контроллер жизненного цикла сессии (controller.go).
//
// Транспортный контракт:
//   - access-токен живёт только в памяти процесса и наружу отдаётся
//     через Controller.AccessToken;
//   - refresh-токен ходит исключительно в HttpOnly-cookie и оседает
//     в cookie jar HTTP-клиента, код к нему не прикасается.
package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"
)

// Семейства ошибок API по HTTP-статусу. Точный машинный код и срок повтора
// доступны через errors.As к *APIError.
var (
	// ErrValidation — 400: тело запроса или поля не прошли валидацию.
	ErrValidation = errors.New("validation failed")
	// ErrUnauthorized — 401: нет токена, токен просрочен/отозван/повреждён
	// или неверные учётные данные.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden — 403: не хватает роли или права.
	ErrForbidden = errors.New("permission denied")
	// ErrNotFound — 404: учётная запись не найдена.
	ErrNotFound = errors.New("not found")
	// ErrConflict — 409: e-mail уже занят.
	ErrConflict = errors.New("conflict")
	// ErrLocked — 423: учётная запись временно заблокирована.
	ErrLocked = errors.New("account locked")
	// ErrRateLimited — 429: превышен лимит запросов.
	ErrRateLimited = errors.New("rate limited")
	// ErrServer — 5xx: внутренняя ошибка сервиса.
	ErrServer = errors.New("server error")
)

// APIError — ошибка API: HTTP-статус, машинный код и срок повтора из тела
// ответа. errors.Is работает против семейств-сентинелов выше.
type APIError struct {
	Status     int
	Code       string
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("auth api: %d %s", e.Status, e.Code)
	}

	return fmt.Sprintf("auth api: %d", e.Status)
}

func (e *APIError) Unwrap() error {
	switch {
	case e.Status == http.StatusBadRequest:
		return ErrValidation
	case e.Status == http.StatusUnauthorized:
		return ErrUnauthorized
	case e.Status == http.StatusForbidden:
		return ErrForbidden
	case e.Status == http.StatusNotFound:
		return ErrNotFound
	case e.Status == http.StatusConflict:
		return ErrConflict
	case e.Status == http.StatusLocked:
		return ErrLocked
	case e.Status == http.StatusTooManyRequests:
		return ErrRateLimited
	case e.Status >= http.StatusInternalServerError:
		return ErrServer
	}

	return nil
}

// TokenGrant — выданная сервером пара: access-токен в теле, refresh —
// в cookie. В ответе /auth/refresh поле UserID пустое.
type TokenGrant struct {
	UserID      string `json:"user_id"`
	AccessToken string `json:"access_token"`
	// ExpiresIn — срок жизни access-токена в секундах.
	ExpiresIn int64 `json:"expires_in"`
}

// TTL — срок жизни access-токена как time.Duration; 0 при пустом ExpiresIn.
func (g *TokenGrant) TTL() time.Duration {
	if g == nil || g.ExpiresIn <= 0 {
		return 0
	}

	return time.Duration(g.ExpiresIn) * time.Second
}

// User — снимок учётной записи из /auth/me.
type User struct {
	UserID        string `json:"user_id"`
	Email         string `json:"email"`
	Name          string `json:"name,omitempty"`
	Country       string `json:"country,omitempty"`
	Role          string `json:"role"`
	Plan          string `json:"plan"`
	EmailVerified bool   `json:"email_verified"`
	CreatedAt     int64  `json:"created_at"`
}

// ProfileUpdate — частичное обновление профиля: nil-поле не отправляется
// и на сервере не меняется.
type ProfileUpdate struct {
	Name    *string `json:"name,omitempty"`
	Country *string `json:"country,omitempty"`
}

// Config — настройки клиента.
type Config struct {
	// BaseURL — адрес сервиса, например "https://auth.trip-planner.io".
	BaseURL string
	// Timeout — потолок на один HTTP-вызов. По умолчанию 10 секунд.
	// Refresh без конечного таймаута запрещён контрактом.
	Timeout time.Duration
	// HTTPClient — свой транспорт (прокси, TLS). Должен иметь Jar,
	// иначе refresh-cookie потеряется. nil — клиент собирается сам.
	HTTPClient *http.Client
}

// Client — тонкая обёртка над HTTP API /auth/*.
type Client struct {
	base string
	http *http.Client
}

var _ SessionAPI = (*Client)(nil)

// New собирает клиент. При nil HTTPClient создаётся свой с cookie jar
// и таймаутом из Config.
func New(cfg Config) (*Client, error) {
	const op = "authclient.New"

	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("%s: parse base url: %w", op, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%s: invalid base url %q", op, cfg.BaseURL)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("%s: cookie jar: %w", op, err)
		}

		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}

		httpClient = &http.Client{Jar: jar, Timeout: timeout}
	}

	return &Client{base: base.String(), http: httpClient}, nil
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type passwordChange struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// Register регистрирует пользователя и открывает первую сессию.
func (c *Client) Register(ctx context.Context, email, password string) (*TokenGrant, error) {
	const op = "authclient.Register"

	var grant TokenGrant
	if err := c.call(ctx, http.MethodPost, "/auth/register", "", credentials{email, password}, &grant); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &grant, nil
}

// Login выполняет вход.
func (c *Client) Login(ctx context.Context, email, password string) (*TokenGrant, error) {
	const op = "authclient.Login"

	var grant TokenGrant
	if err := c.call(ctx, http.MethodPost, "/auth/login", "", credentials{email, password}, &grant); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &grant, nil
}

// Refresh обновляет access-токен по refresh-cookie из jar.
// Повторов нет: неудача терминальна для сессии (решает вызывающий).
func (c *Client) Refresh(ctx context.Context) (*TokenGrant, error) {
	const op = "authclient.Refresh"

	var grant TokenGrant
	if err := c.call(ctx, http.MethodPost, "/auth/refresh", "", nil, &grant); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &grant, nil
}

// Logout отзывает сессию предъявленной cookie. Идемпотентен.
func (c *Client) Logout(ctx context.Context) error {
	const op = "authclient.Logout"

	if err := c.call(ctx, http.MethodPost, "/auth/logout", "", nil, nil); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// LogoutAll отзывает все сессии пользователя, возвращает число отозванных.
func (c *Client) LogoutAll(ctx context.Context, access string) (int64, error) {
	const op = "authclient.LogoutAll"

	var out struct {
		Revoked int64 `json:"revoked"`
	}
	if err := c.call(ctx, http.MethodPost, "/auth/logout-all", access, nil, &out); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return out.Revoked, nil
}

// ChangePassword меняет пароль; сервер отзывает все сессии и возвращает
// свежую пару (refresh — в обновлённой cookie).
func (c *Client) ChangePassword(ctx context.Context, access, current, next string) (*TokenGrant, error) {
	const op = "authclient.ChangePassword"

	var grant TokenGrant
	if err := c.call(ctx, http.MethodPost, "/auth/change-password", access, passwordChange{current, next}, &grant); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &grant, nil
}

// Me возвращает снимок учётной записи.
func (c *Client) Me(ctx context.Context, access string) (*User, error) {
	const op = "authclient.Me"

	var user User
	if err := c.call(ctx, http.MethodGet, "/auth/me", access, nil, &user); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &user, nil
}

// UpdateProfile частично обновляет профиль.
func (c *Client) UpdateProfile(ctx context.Context, access string, update ProfileUpdate) (*User, error) {
	const op = "authclient.UpdateProfile"

	var user User
	if err := c.call(ctx, http.MethodPut, "/auth/profile", access, update, &user); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &user, nil
}

// call — один HTTP-вызов: JSON-тело, Bearer-заголовок, разбор ответа.
// Статусы >= 400 конвертируются в *APIError.
func (c *Client) call(ctx context.Context, method, path, access string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}

		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if access != "" {
		req.Header.Set("Authorization", "Bearer "+access)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		return apiErrorFrom(resp)
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

// apiErrorFrom разбирает envelope ошибки; не-JSON тело (прокси, балансер)
// оставляет только HTTP-статус.
func apiErrorFrom(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}

	var env struct {
		Error struct {
			Code              string `json:"code"`
			Message           string `json:"message"`
			RetryAfterSeconds int64  `json:"retry_after_seconds"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err == nil {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
		apiErr.RetryAfter = time.Duration(env.Error.RetryAfterSeconds) * time.Second
	}

	return apiErr
}
