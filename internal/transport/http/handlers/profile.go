package handlers

import (
	"net/http"

	"github.com/pribylovaa/go-trip-planner/auth-service/internal/models"
	"github.com/pribylovaa/go-trip-planner/auth-service/internal/service"
	apierrors "github.com/pribylovaa/go-trip-planner/auth-service/internal/transport/http/errors"
	"github.com/pribylovaa/go-trip-planner/auth-service/internal/transport/http/middleware"
)

// Частичное обновление: отсутствующее в JSON поле остаётся nil и не трогается.
type updateProfileRequest struct {
	Name    *string `json:"name"`
	Country *string `json:"country"`
}

type userResponse struct {
	UserID        string `json:"user_id"`
	Email         string `json:"email"`
	Name          string `json:"name,omitempty"`
	Country       string `json:"country,omitempty"`
	Role          string `json:"role"`
	Plan          string `json:"plan"`
	EmailVerified bool   `json:"email_verified"`
	CreatedAt     int64  `json:"created_at"` // Unix UTC
}

func toUserResponse(u *models.User) userResponse {
	return userResponse{
		UserID:        u.ID.String(),
		Email:         u.Email,
		Name:          u.Name,
		Country:       u.Country,
		Role:          string(u.Role),
		Plan:          string(u.Plan),
		EmailVerified: u.EmailVerified,
		CreatedAt:     u.CreatedAt.Unix(),
	}
}

// Me — GET /auth/me (аутентифицированный): снимок учётной записи.
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	ident, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		apierrors.Write(w, r, http.StatusUnauthorized, "no_token", "authorization required")
		return
	}

	user, err := h.svc.Profile(r.Context(), ident.UserID)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// UpdateProfile — PUT /auth/profile (аутентифицированный): частичное
// обновление имени и страны.
func (h *Handlers) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	ident, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		apierrors.Write(w, r, http.StatusUnauthorized, "no_token", "authorization required")
		return
	}

	var in updateProfileRequest
	if err := decodeStrict(r, &in); err != nil {
		apierrors.Write(w, r, http.StatusBadRequest, "invalid_argument", "invalid request body")
		return
	}

	user, err := h.svc.UpdateProfile(r.Context(), ident.UserID, service.UpdateProfileInput{
		Name:    in.Name,
		Country: in.Country,
	})
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(user))
}
