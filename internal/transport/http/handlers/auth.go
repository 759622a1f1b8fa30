package handlers

import (
	"net/http"

	apierrors "github.com/pribylovaa/go-trip-planner/auth-service/internal/transport/http/errors"
	"github.com/pribylovaa/go-trip-planner/auth-service/internal/transport/http/middleware"
)

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// authResponse — ответ register/login/change-password.
// Refresh-токен в теле не возвращается: он уходит только в HttpOnly-cookie.
type authResponse struct {
	UserID      string `json:"user_id"`
	AccessToken string `json:"access_token"`
	// ExpiresIn — срок жизни access-токена в секундах.
	ExpiresIn int64 `json:"expires_in"`
}

type refreshResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

type statusResponse struct {
	Status string `json:"status"`
}

type revokedResponse struct {
	Revoked int64 `json:"revoked"`
}

// Register — POST /auth/register: регистрация, 201 + access-токен в теле
// и refresh-токен в cookie.
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	var in registerRequest
	if err := decodeStrict(r, &in); err != nil {
		apierrors.Write(w, r, http.StatusBadRequest, "invalid_argument", "invalid request body")
		return
	}

	pair, user, err := h.svc.RegisterUser(r.Context(), in.Email, in.Password, meta(r))
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	h.setRefreshCookie(w, pair.RefreshToken, pair.RefreshExpiresAt)
	writeJSON(w, http.StatusCreated, authResponse{
		UserID:      user.ID.String(),
		AccessToken: pair.AccessToken,
		ExpiresIn:   expiresIn(pair),
	})
}

// Login — POST /auth/login.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var in loginRequest
	if err := decodeStrict(r, &in); err != nil {
		apierrors.Write(w, r, http.StatusBadRequest, "invalid_argument", "invalid request body")
		return
	}

	pair, user, err := h.svc.LoginUser(r.Context(), in.Email, in.Password, meta(r))
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	h.setRefreshCookie(w, pair.RefreshToken, pair.RefreshExpiresAt)
	writeJSON(w, http.StatusOK, authResponse{
		UserID:      user.ID.String(),
		AccessToken: pair.AccessToken,
		ExpiresIn:   expiresIn(pair),
	})
}

// Refresh — POST /auth/refresh. Refresh-токен принимается ТОЛЬКО из cookie,
// тело запроса не читается. При ротации cookie переустанавливается.
func (h *Handlers) Refresh(w http.ResponseWriter, r *http.Request) {
	c, err := r.Cookie(h.cfg.Cookie.Name)
	if err != nil || c.Value == "" {
		apierrors.Write(w, r, http.StatusUnauthorized, "no_token", "refresh cookie required")
		return
	}

	pair, _, err := h.svc.RefreshSession(r.Context(), c.Value, meta(r))
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	h.setRefreshCookie(w, pair.RefreshToken, pair.RefreshExpiresAt)
	writeJSON(w, http.StatusOK, refreshResponse{
		AccessToken: pair.AccessToken,
		ExpiresIn:   expiresIn(pair),
	})
}

// Logout — POST /auth/logout: отзывает сессию предъявленной cookie и стирает
// её. Идемпотентен: без cookie или с неизвестным токеном всё равно 200.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(h.cfg.Cookie.Name); err == nil && c.Value != "" {
		if err := h.svc.Logout(r.Context(), c.Value); err != nil {
			apierrors.WriteError(w, r, err)
			return
		}
	}

	h.clearRefreshCookie(w)
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}

// LogoutAll — POST /auth/logout-all (аутентифицированный): отзывает все
// сессии пользователя, включая сессию вызывающего устройства.
func (h *Handlers) LogoutAll(w http.ResponseWriter, r *http.Request) {
	ident, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		apierrors.Write(w, r, http.StatusUnauthorized, "no_token", "authorization required")
		return
	}

	n, err := h.svc.LogoutAll(r.Context(), ident.UserID)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	h.clearRefreshCookie(w)
	writeJSON(w, http.StatusOK, revokedResponse{Revoked: n})
}

// ChangePassword — POST /auth/change-password (аутентифицированный):
// меняет пароль, отзывает все сессии и возвращает свежую пару.
func (h *Handlers) ChangePassword(w http.ResponseWriter, r *http.Request) {
	ident, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		apierrors.Write(w, r, http.StatusUnauthorized, "no_token", "authorization required")
		return
	}

	var in changePasswordRequest
	if err := decodeStrict(r, &in); err != nil {
		apierrors.Write(w, r, http.StatusBadRequest, "invalid_argument", "invalid request body")
		return
	}

	pair, err := h.svc.ChangePassword(r.Context(), ident.UserID, in.CurrentPassword, in.NewPassword, meta(r))
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	h.setRefreshCookie(w, pair.RefreshToken, pair.RefreshExpiresAt)
	writeJSON(w, http.StatusOK, authResponse{
		UserID:      ident.UserID.String(),
		AccessToken: pair.AccessToken,
		ExpiresIn:   expiresIn(pair),
	})
}
