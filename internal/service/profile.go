package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/pribylovaa/go-trip-planner/auth-service/internal/models"
	"github.com/pribylovaa/go-trip-planner/auth-service/internal/storage"
)

const (
	maxProfileNameLen    = 100
	maxProfileCountryLen = 64
)

// UpdateProfileInput — частичное обновление профиля: nil-поле не трогается.
type UpdateProfileInput struct {
	Name    *string
	Country *string
}

// Profile возвращает пользователя по ID.
func (s *Service) Profile(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	const op = "service.profile.Profile"

	user, err := s.storage.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

// UpdateProfile частично обновляет профиль и возвращает свежую запись.
// Запрос без единого поля не пишет в БД и возвращает текущий профиль.
func (s *Service) UpdateProfile(ctx context.Context, userID uuid.UUID, input UpdateProfileInput) (*models.User, error) {
	const op = "service.profile.UpdateProfile"

	if input.Name == nil && input.Country == nil {
		return s.Profile(ctx, userID)
	}

	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if utf8.RuneCountInString(name) > maxProfileNameLen {
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidProfile)
		}
		input.Name = &name
	}

	if input.Country != nil {
		country := strings.TrimSpace(*input.Country)
		if utf8.RuneCountInString(country) > maxProfileCountryLen {
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidProfile)
		}
		input.Country = &country
	}

	user, err := s.storage.UpdateProfile(ctx, userID, storage.UpdateProfileInput{
		Name:    input.Name,
		Country: input.Country,
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}
