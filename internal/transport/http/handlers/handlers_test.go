package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/pribylovaa/go-trip-planner/auth-service/internal/config"
	"github.com/pribylovaa/go-trip-planner/auth-service/internal/lockout"
	"github.com/pribylovaa/go-trip-planner/auth-service/internal/models"
	"github.com/pribylovaa/go-trip-planner/auth-service/internal/service"
	"github.com/pribylovaa/go-trip-planner/auth-service/internal/storage"
	"github.com/pribylovaa/go-trip-planner/auth-service/internal/tokens"
	apierrors "github.com/pribylovaa/go-trip-planner/auth-service/internal/transport/http/errors"
	"github.com/pribylovaa/go-trip-planner/auth-service/internal/transport/http/middleware"
	"github.com/pribylovaa/go-trip-planner/auth-service/mocks"
)

// Тесты HTTP-обработчиков: реальный сервисный слой поверх gomock-хранилища,
// запросы и ответы — через httptest. Каждый тест изолирован собственным
// контроллером моков.

// testCfg — минимальная конфигурация для тестов обработчиков (не prod:
// cookie без Secure, SameSite=Lax).
func testCfg() config.Config {
	return config.Config{
		Env: "local",
		Auth: config.AuthConfig{
			AccessSecret:    "handlers-access-secret",
			RefreshSecret:   "handlers-refresh-secret",
			AccessTokenTTL:  time.Minute,
			RefreshTokenTTL: 24 * time.Hour,
			Issuer:          "go-trip-planner",
			Audience:        []string{"go-trip-planner/api"},
			Rotation:        config.RotationAlways,
		},
		Sessions: config.SessionsConfig{
			MaxPerUser:      10,
			JanitorInterval: time.Hour,
		},
		Lockout: config.LockoutConfig{
			Threshold: 5,
			Window:    15 * time.Minute,
		},
		Cookie: config.CookieConfig{Name: "refresh_token"},
	}
}

// newHandlers — фабрика обработчиков с реальным сервисом и gomock-зависимостями.
func newHandlers(t *testing.T) (*Handlers, *mocks.MockStorage, *mocks.MockGuard, *tokens.Manager, *gomock.Controller) {
	t.Helper()

	ctrl := gomock.NewController(t)
	st := mocks.NewMockStorage(ctrl)
	guard := mocks.NewMockGuard(ctrl)

	tm, err := tokens.New(testCfg().Auth)
	require.NoError(t, err)

	svc := service.New(st, tm, guard, testCfg())
	return New(svc, testCfg()), st, guard, tm, ctrl
}

func hashPW(t *testing.T, pw string) string {
	t.Helper()

	b, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	require.NoError(t, err)
	return string(b)
}

func testUser(t *testing.T, pw string) *models.User {
	t.Helper()

	now := time.Now().UTC()
	return &models.User{
		ID:                uuid.New(),
		Email:             "user@example.com",
		PasswordHash:      hashPW(t, pw),
		Role:              models.RoleUser,
		Plan:              models.PlanFree,
		PasswordChangedAt: now.Add(-time.Hour).Truncate(time.Second),
		CreatedAt:         now.Add(-time.Hour),
		UpdatedAt:         now.Add(-time.Hour),
	}
}

// doJSON выполняет запрос к одному обработчику с JSON-телом.
func doJSON(h http.HandlerFunc, method, target, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}

	rr := httptest.NewRecorder()
	h(rr, req)
	return rr
}

// doAs — то же, но с Identity в контексте (аутентифицированный маршрут).
func doAs(h http.HandlerFunc, method, target, body string, ident middleware.Identity, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req = req.WithContext(middleware.WithIdentity(req.Context(), ident))
	for _, c := range cookies {
		req.AddCookie(c)
	}

	rr := httptest.NewRecorder()
	h(rr, req)
	return rr
}

func identityOf(u *models.User) middleware.Identity {
	return middleware.Identity{
		UserID:          u.ID,
		Email:           u.Email,
		Role:            u.Role,
		Plan:            u.Plan,
		TokenID:         uuid.NewString(),
		AuthenticatedAt: time.Now().UTC(),
	}
}

// cookieByName достаёт Set-Cookie из ответа; отсутствие — провал теста.
func cookieByName(t *testing.T, rr *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()

	for _, c := range rr.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}

	t.Fatalf("cookie %q is not set", name)
	return nil
}

func errCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()

	var env apierrors.ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	return env.Error.Code
}

// TestRegister_OK — happy-path регистрации: 201, access-токен в теле,
// refresh-токен только в HttpOnly-cookie.
func TestRegister_OK(t *testing.T) {
	t.Parallel()

	h, st, _, _, ctrl := newHandlers(t)
	defer ctrl.Finish()

	st.EXPECT().UserByEmail(gomock.Any(), "user@example.com").Return(nil, storage.ErrNotFound)
	st.EXPECT().SaveUser(gomock.Any(), gomock.Any()).Return(nil)
	st.EXPECT().SaveSession(gomock.Any(), gomock.Any(), 10).Return(int64(0), nil)

	rr := doJSON(h.Register, http.MethodPost, "/auth/register",
		`{"email":"user@example.com","password":"Passw0rd1"}`)
	require.Equal(t, http.StatusCreated, rr.Code)

	var resp authResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.UserID)
	require.NotEmpty(t, resp.AccessToken)
	require.Greater(t, resp.ExpiresIn, int64(0))
	require.NotContains(t, rr.Body.String(), "refresh_token")

	c := cookieByName(t, rr, "refresh_token")
	require.True(t, c.HttpOnly)
	require.False(t, c.Secure) // не prod
	require.Equal(t, "/", c.Path)
	require.Equal(t, http.SameSiteLaxMode, c.SameSite)
	require.Greater(t, c.MaxAge, 0)
	require.True(t, tokens.IsValidStructure(c.Value))
}

// TestRegister_InvalidBody — мусорный JSON и неизвестные поля отклоняются
// до обращения к сервису.
func TestRegister_InvalidBody(t *testing.T) {
	t.Parallel()

	h, _, _, _, ctrl := newHandlers(t)
	defer ctrl.Finish()

	rr := doJSON(h.Register, http.MethodPost, "/auth/register", `{"email":`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "invalid_argument", errCode(t, rr))

	rr = doJSON(h.Register, http.MethodPost, "/auth/register",
		`{"email":"user@example.com","password":"Passw0rd1","admin":true}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "invalid_argument", errCode(t, rr))
}

// TestRegister_ServiceErrors — сентинелы сервиса доезжают до клиента
// корректными статусами.
func TestRegister_ServiceErrors(t *testing.T) {
	t.Parallel()

	h, st, _, _, ctrl := newHandlers(t)
	defer ctrl.Finish()

	// Слабый пароль — хранилище не трогается.
	rr := doJSON(h.Register, http.MethodPost, "/auth/register",
		`{"email":"user@example.com","password":"short"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "weak_password", errCode(t, rr))

	// Занятый e-mail.
	st.EXPECT().UserByEmail(gomock.Any(), "user@example.com").Return(&models.User{ID: uuid.New()}, nil)
	rr = doJSON(h.Register, http.MethodPost, "/auth/register",
		`{"email":"user@example.com","password":"Passw0rd1"}`)
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Equal(t, "email_taken", errCode(t, rr))
}

// TestLogin_OK — успешный вход: 200, пара токенов, cookie установлена.
func TestLogin_OK(t *testing.T) {
	t.Parallel()

	h, st, guard, _, ctrl := newHandlers(t)
	defer ctrl.Finish()

	pw := "Passw0rd1"
	user := testUser(t, pw)

	guard.EXPECT().Check(gomock.Any(), gomock.Any(), user.Email).Return(lockout.Status{}, nil)
	st.EXPECT().UserByEmail(gomock.Any(), user.Email).Return(user, nil)
	guard.EXPECT().RecordSuccess(gomock.Any(), gomock.Any(), user.Email).Return(nil)
	st.EXPECT().SaveSession(gomock.Any(), gomock.Any(), 10).Return(int64(0), nil)

	rr := doJSON(h.Login, http.MethodPost, "/auth/login",
		`{"email":"user@example.com","password":"`+pw+`"}`)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp authResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, user.ID.String(), resp.UserID)
	require.NotEmpty(t, resp.AccessToken)

	c := cookieByName(t, rr, "refresh_token")
	require.True(t, c.HttpOnly)
	require.NotEmpty(t, c.Value)
}

// TestLogin_WrongPassword — неверный пароль: 401 и фиксация неудачи
// в обоих контурах защиты.
func TestLogin_WrongPassword(t *testing.T) {
	t.Parallel()

	h, st, guard, _, ctrl := newHandlers(t)
	defer ctrl.Finish()

	user := testUser(t, "Passw0rd1")

	guard.EXPECT().Check(gomock.Any(), gomock.Any(), user.Email).Return(lockout.Status{}, nil)
	st.EXPECT().UserByEmail(gomock.Any(), user.Email).Return(user, nil)
	guard.EXPECT().RecordFailure(gomock.Any(), gomock.Any(), user.Email).Return(lockout.Status{Remaining: 4}, nil)
	st.EXPECT().IncrementFailedLogins(gomock.Any(), user.ID, 5, gomock.Any()).Return(1, nil)

	rr := doJSON(h.Login, http.MethodPost, "/auth/login",
		`{"email":"user@example.com","password":"Wr0ngPass"}`)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Equal(t, "invalid_credentials", errCode(t, rr))
}

// TestLogin_Locked — заблокированный вход: 423, retry_after_seconds в теле
// и заголовок Retry-After.
func TestLogin_Locked(t *testing.T) {
	t.Parallel()

	h, _, guard, _, ctrl := newHandlers(t)
	defer ctrl.Finish()

	guard.EXPECT().Check(gomock.Any(), gomock.Any(), "user@example.com").
		Return(lockout.Status{Locked: true, RetryAfter: 10 * time.Minute}, nil)

	rr := doJSON(h.Login, http.MethodPost, "/auth/login",
		`{"email":"user@example.com","password":"Passw0rd1"}`)
	require.Equal(t, http.StatusLocked, rr.Code)
	require.Equal(t, "600", rr.Header().Get("Retry-After"))

	var env apierrors.ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	require.Equal(t, "account_locked", env.Error.Code)
	require.Equal(t, int64(600), env.Error.RetryAfterSeconds)
}

// mintSession — валидный refresh-токен и согласованная с ним запись сессии.
func mintSession(t *testing.T, tm *tokens.Manager, userID uuid.UUID) (string, *models.Session) {
	t.Helper()

	raw, claims, err := tm.NewRefreshToken(context.Background(), userID)
	require.NoError(t, err)

	now := time.Now().UTC()
	return raw, &models.Session{
		TokenHash:  tokens.HashToken(raw),
		UserID:     userID,
		RefreshJTI: claims.ID,
		Device:     "test-agent",
		IP:         "192.0.2.1",
		IssuedAt:   now,
		LastUsedAt: now,
		ExpiresAt:  claims.ExpiresAt.Time.UTC(),
	}
}

// TestRefresh_OK — обновление по cookie: 200, свежий access-токен,
// cookie переустановлена ротированным refresh-токеном.
func TestRefresh_OK(t *testing.T) {
	t.Parallel()

	h, st, _, tm, ctrl := newHandlers(t)
	defer ctrl.Finish()

	user := testUser(t, "Passw0rd1")
	raw, sess := mintSession(t, tm, user.ID)

	st.EXPECT().SessionByHash(gomock.Any(), sess.TokenHash).Return(sess, nil)
	st.EXPECT().UserByID(gomock.Any(), user.ID).Return(user, nil)
	st.EXPECT().RotateSession(gomock.Any(), sess.TokenHash, gomock.Any()).Return(nil)

	rr := doJSON(h.Refresh, http.MethodPost, "/auth/refresh", "",
		&http.Cookie{Name: "refresh_token", Value: raw})
	require.Equal(t, http.StatusOK, rr.Code)

	var resp refreshResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.AccessToken)
	require.Greater(t, resp.ExpiresIn, int64(0))

	c := cookieByName(t, rr, "refresh_token")
	require.NotEqual(t, raw, c.Value)
	require.True(t, tokens.IsValidStructure(c.Value))
}

// TestRefresh_NoCookie — без cookie тело не читается, сразу 401.
func TestRefresh_NoCookie(t *testing.T) {
	t.Parallel()

	h, _, _, _, ctrl := newHandlers(t)
	defer ctrl.Finish()

	rr := doJSON(h.Refresh, http.MethodPost, "/auth/refresh", "")
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Equal(t, "no_token", errCode(t, rr))
}

// TestRefresh_ReplayedToken — подписанный токен без записи в реестре:
// 401 token_revoked.
func TestRefresh_ReplayedToken(t *testing.T) {
	t.Parallel()

	h, st, _, tm, ctrl := newHandlers(t)
	defer ctrl.Finish()

	raw, sess := mintSession(t, tm, uuid.New())
	st.EXPECT().SessionByHash(gomock.Any(), sess.TokenHash).Return(nil, storage.ErrNotFound)

	rr := doJSON(h.Refresh, http.MethodPost, "/auth/refresh", "",
		&http.Cookie{Name: "refresh_token", Value: raw})
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Equal(t, "token_revoked", errCode(t, rr))
}

// TestLogout_OK — отзыв сессии и стирание cookie.
func TestLogout_OK(t *testing.T) {
	t.Parallel()

	h, st, _, tm, ctrl := newHandlers(t)
	defer ctrl.Finish()

	raw, sess := mintSession(t, tm, uuid.New())
	st.EXPECT().SessionByHash(gomock.Any(), sess.TokenHash).Return(sess, nil)
	st.EXPECT().DeleteSession(gomock.Any(), sess.TokenHash).Return(nil)

	rr := doJSON(h.Logout, http.MethodPost, "/auth/logout", "",
		&http.Cookie{Name: "refresh_token", Value: raw})
	require.Equal(t, http.StatusOK, rr.Code)

	var resp statusResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, "ok", resp.Status)

	c := cookieByName(t, rr, "refresh_token")
	require.Empty(t, c.Value)
	require.Less(t, c.MaxAge, 0)
}

// TestLogout_WithoutCookie — идемпотентность: без cookie всё равно 200,
// cookie стирается.
func TestLogout_WithoutCookie(t *testing.T) {
	t.Parallel()

	h, _, _, _, ctrl := newHandlers(t)
	defer ctrl.Finish()

	rr := doJSON(h.Logout, http.MethodPost, "/auth/logout", "")
	require.Equal(t, http.StatusOK, rr.Code)

	c := cookieByName(t, rr, "refresh_token")
	require.Less(t, c.MaxAge, 0)
}

// TestLogoutAll — отзыв всех сессий аутентифицированного пользователя;
// без Identity — 401.
func TestLogoutAll(t *testing.T) {
	t.Parallel()

	h, st, _, _, ctrl := newHandlers(t)
	defer ctrl.Finish()

	user := testUser(t, "Passw0rd1")
	st.EXPECT().DeleteAllUserSessions(gomock.Any(), user.ID).Return(int64(3), nil)

	rr := doAs(h.LogoutAll, http.MethodPost, "/auth/logout-all", "", identityOf(user))
	require.Equal(t, http.StatusOK, rr.Code)

	var resp revokedResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, int64(3), resp.Revoked)

	c := cookieByName(t, rr, "refresh_token")
	require.Less(t, c.MaxAge, 0)

	// Без Identity.
	rr = doJSON(h.LogoutAll, http.MethodPost, "/auth/logout-all", "")
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Equal(t, "no_token", errCode(t, rr))
}

// TestChangePassword_OK — смена пароля: 200, свежая пара, cookie
// переустановлена.
func TestChangePassword_OK(t *testing.T) {
	t.Parallel()

	h, st, _, _, ctrl := newHandlers(t)
	defer ctrl.Finish()

	oldPW := "Passw0rd1"
	user := testUser(t, oldPW)

	gomock.InOrder(
		st.EXPECT().UserByID(gomock.Any(), user.ID).Return(user, nil),
		st.EXPECT().DeleteAllUserSessions(gomock.Any(), user.ID).Return(int64(2), nil),
		st.EXPECT().UpdatePassword(gomock.Any(), user.ID, gomock.Any(), gomock.Any()).Return(nil),
		st.EXPECT().SaveSession(gomock.Any(), gomock.Any(), 10).Return(int64(0), nil),
	)

	rr := doAs(h.ChangePassword, http.MethodPost, "/auth/change-password",
		`{"current_password":"`+oldPW+`","new_password":"N3wPassword"}`, identityOf(user))
	require.Equal(t, http.StatusOK, rr.Code)

	var resp authResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, user.ID.String(), resp.UserID)
	require.NotEmpty(t, resp.AccessToken)

	c := cookieByName(t, rr, "refresh_token")
	require.Greater(t, c.MaxAge, 0)
	require.True(t, tokens.IsValidStructure(c.Value))
}

// TestChangePassword_Errors — неверный текущий пароль и мусорное тело.
func TestChangePassword_Errors(t *testing.T) {
	t.Parallel()

	h, st, _, _, ctrl := newHandlers(t)
	defer ctrl.Finish()

	user := testUser(t, "Passw0rd1")

	st.EXPECT().UserByID(gomock.Any(), user.ID).Return(user, nil)
	rr := doAs(h.ChangePassword, http.MethodPost, "/auth/change-password",
		`{"current_password":"Wr0ngPass","new_password":"N3wPassword"}`, identityOf(user))
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Equal(t, "invalid_credentials", errCode(t, rr))

	rr = doAs(h.ChangePassword, http.MethodPost, "/auth/change-password",
		`{"current_password":}`, identityOf(user))
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doJSON(h.ChangePassword, http.MethodPost, "/auth/change-password",
		`{"current_password":"a","new_password":"b"}`)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Equal(t, "no_token", errCode(t, rr))
}

// TestMe — снимок учётной записи аутентифицированного пользователя.
func TestMe(t *testing.T) {
	t.Parallel()

	h, st, _, _, ctrl := newHandlers(t)
	defer ctrl.Finish()

	user := testUser(t, "Passw0rd1")
	user.Name = "Ivan"
	user.Country = "RU"

	st.EXPECT().UserByID(gomock.Any(), user.ID).Return(user, nil)

	rr := doAs(h.Me, http.MethodGet, "/auth/me", "", identityOf(user))
	require.Equal(t, http.StatusOK, rr.Code)

	var resp userResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, user.ID.String(), resp.UserID)
	require.Equal(t, user.Email, resp.Email)
	require.Equal(t, "Ivan", resp.Name)
	require.Equal(t, "RU", resp.Country)
	require.Equal(t, "user", resp.Role)
	require.Equal(t, "free", resp.Plan)
	require.Equal(t, user.CreatedAt.Unix(), resp.CreatedAt)

	// Хэш пароля не должен просачиваться в ответ ни под каким именем.
	require.NotContains(t, rr.Body.String(), user.PasswordHash)

	rr = doJSON(h.Me, http.MethodGet, "/auth/me", "")
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

// TestUpdateProfile — частичное обновление профиля.
func TestUpdateProfile(t *testing.T) {
	t.Parallel()

	h, st, _, _, ctrl := newHandlers(t)
	defer ctrl.Finish()

	user := testUser(t, "Passw0rd1")
	updated := *user
	updated.Name = "Ivan"

	st.EXPECT().UpdateProfile(gomock.Any(), user.ID, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ uuid.UUID, input storage.UpdateProfileInput) (*models.User, error) {
			require.NotNil(t, input.Name)
			require.Equal(t, "Ivan", *input.Name)
			require.Nil(t, input.Country)
			return &updated, nil
		})

	rr := doAs(h.UpdateProfile, http.MethodPut, "/auth/profile",
		`{"name":"Ivan"}`, identityOf(user))
	require.Equal(t, http.StatusOK, rr.Code)

	var resp userResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, "Ivan", resp.Name)

	// Неизвестное поле отклоняется строгим декодером.
	rr = doAs(h.UpdateProfile, http.MethodPut, "/auth/profile",
		`{"nickname":"iv"}`, identityOf(user))
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "invalid_argument", errCode(t, rr))

	// Слишком длинное имя — 400 от сервиса.
	long := strings.Repeat("я", 101)
	rr = doAs(h.UpdateProfile, http.MethodPut, "/auth/profile",
		`{"name":"`+long+`"}`, identityOf(user))
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "invalid_profile", errCode(t, rr))
}
