package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/pribylovaa/go-trip-planner/auth-service/internal/events"
	"github.com/pribylovaa/go-trip-planner/auth-service/internal/metrics"
	"github.com/pribylovaa/go-trip-planner/auth-service/internal/models"
	"github.com/pribylovaa/go-trip-planner/auth-service/internal/pkg/log"
	"github.com/pribylovaa/go-trip-planner/auth-service/internal/storage"
	"github.com/pribylovaa/go-trip-planner/auth-service/internal/tokens"
	"github.com/pribylovaa/go-trip-planner/auth-service/pkg/redact"
)

// dummyPasswordHash выравнивает время LoginUser для несуществующих
// пользователей: bcrypt-сравнение выполняется в обеих ветках, и по
// времени ответа нельзя отличить "нет такого e-mail" от "пароль неверен".
var dummyPasswordHash = mustHashPassword(uuid.NewString())

func mustHashPassword(pw string) string {
	h, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	if err != nil {
		panic(err)
	}

	return string(h)
}

// RegisterUser регистрирует нового пользователя и открывает его первую сессию.
func (s *Service) RegisterUser(ctx context.Context, email, password string, meta SessionMeta) (*models.TokenPair, *models.User, error) {
	const op = "service.auth.RegisterUser"

	normEmail, err := validateEmail(email)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, ErrInvalidEmail)
	}

	if err := validatePassword(password); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	_, err = s.storage.UserByEmail(ctx, normEmail)
	if err == nil {
		return nil, nil, fmt.Errorf("%s: %w", op, ErrEmailTaken)
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	hashedPassword, err := hashPassword(password)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	now := s.now().UTC()
	user := &models.User{
		ID:           uuid.New(),
		Email:        normEmail,
		PasswordHash: hashedPassword,
		Role:         models.RoleUser,
		Plan:         models.PlanFree,
		// Усечение до секунды: iat в JWT имеет секундную точность, и первый
		// access-токен не должен попасть под отсечку stale_password.
		PasswordChangedAt: now.Truncate(time.Second),
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.storage.SaveUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, nil, fmt.Errorf("%s: %w", op, ErrEmailTaken)
		}

		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	pair, err := s.issueSession(ctx, user, meta)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	if s.notifier != nil {
		s.notifier.Welcome(ctx, user.Email)
	}

	s.publish(ctx, events.SecurityEvent{
		Type:   events.TypeUserRegistered,
		UserID: user.ID.String(),
		Email:  redact.Email(user.Email),
		IP:     redact.IP(meta.IP),
		Device: meta.Device,
	})

	return pair, user, nil
}

// LoginUser выполняет вход по email+пароль под защитой от перебора:
// оконный счётчик неудач по ключу ip+email плюс персистентное зеркало
// на самом пользователе (ловит распределённый перебор с многих адресов).
func (s *Service) LoginUser(ctx context.Context, email, password string, meta SessionMeta) (*models.TokenPair, *models.User, error) {
	const op = "service.auth.LoginUser"

	lg := log.From(ctx)

	normEmail, err := validateEmail(email)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	if len(password) == 0 {
		return nil, nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	status, err := s.guard.Check(ctx, meta.IP, normEmail)
	if err != nil {
		// Недоступный счётчик не отключает вход: деградируем в открытое
		// состояние, факт фиксируем в логе.
		lg.Warn("lockout_check_failed",
			slog.String("op", op),
			slog.String("err", err.Error()),
		)
	}
	if status.Locked {
		metrics.LoginAttemptsTotal.WithLabelValues(metrics.ResultLocked).Inc()
		return nil, nil, fmt.Errorf("%s: %w", op, &LockError{RetryAfter: status.RetryAfter})
	}

	now := s.now().UTC()

	user, err := s.storage.UserByEmail(ctx, normEmail)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			checkPassword(dummyPasswordHash, password)
			s.recordLoginFailure(ctx, nil, normEmail, meta)
			metrics.LoginAttemptsTotal.WithLabelValues(metrics.ResultInvalidCredentials).Inc()

			return nil, nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
		}

		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	if user.Locked(now) {
		metrics.LoginAttemptsTotal.WithLabelValues(metrics.ResultLocked).Inc()
		return nil, nil, fmt.Errorf("%s: %w", op, &LockError{RetryAfter: user.LockedUntil.Sub(now)})
	}

	if !checkPassword(user.PasswordHash, password) {
		s.recordLoginFailure(ctx, user, normEmail, meta)
		metrics.LoginAttemptsTotal.WithLabelValues(metrics.ResultInvalidCredentials).Inc()

		return nil, nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	if err := s.guard.RecordSuccess(ctx, meta.IP, normEmail); err != nil {
		lg.Warn("lockout_reset_failed",
			slog.String("op", op),
			slog.String("err", err.Error()),
		)
	}

	if user.FailedLoginAttempts > 0 || !user.LockedUntil.IsZero() {
		if err := s.storage.ResetFailedLogins(ctx, user.ID); err != nil {
			lg.Warn("failed_logins_reset_failed",
				slog.String("op", op),
				slog.String("err", err.Error()),
			)
		}
	}

	pair, err := s.issueSession(ctx, user, meta)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	metrics.LoginAttemptsTotal.WithLabelValues(metrics.ResultOK).Inc()
	s.publish(ctx, events.SecurityEvent{
		Type:   events.TypeUserLogin,
		UserID: user.ID.String(),
		Email:  redact.Email(user.Email),
		IP:     redact.IP(meta.IP),
		Device: meta.Device,
	})

	return pair, user, nil
}

// recordLoginFailure фиксирует неудачный вход в обоих контурах защиты.
// user == nil означает, что e-mail не зарегистрирован: оконный счётчик
// всё равно растёт, чтобы поведение не выдавало существование аккаунта.
// Ошибки контуров не прерывают сценарий — вход и так завершится отказом.
func (s *Service) recordLoginFailure(ctx context.Context, user *models.User, normEmail string, meta SessionMeta) {
	const op = "service.auth.recordLoginFailure"

	lg := log.From(ctx)

	status, err := s.guard.RecordFailure(ctx, meta.IP, normEmail)
	if err != nil {
		lg.Warn("lockout_record_failed",
			slog.String("op", op),
			slog.String("err", err.Error()),
		)
	}

	crossed := status.Locked
	lockUntil := s.now().UTC().Add(s.cfg.Lockout.Window)

	if user != nil {
		count, err := s.storage.IncrementFailedLogins(ctx, user.ID, s.cfg.Lockout.Threshold, lockUntil)
		if err != nil {
			lg.Warn("failed_logins_increment_failed",
				slog.String("op", op),
				slog.String("err", err.Error()),
			)
		} else if count >= s.cfg.Lockout.Threshold {
			crossed = true
		}
	}

	event := events.SecurityEvent{
		Type:   events.TypeUserLoginFailed,
		Email:  redact.Email(normEmail),
		IP:     redact.IP(meta.IP),
		Device: meta.Device,
	}
	if user != nil {
		event.UserID = user.ID.String()
	}
	s.publish(ctx, event)

	if !crossed {
		return
	}

	metrics.LockoutsTotal.Inc()
	lg.Warn("account_locked",
		slog.String("email", redact.Email(normEmail)),
		slog.String("ip", redact.IP(meta.IP)),
	)

	event.Type = events.TypeUserLockout
	s.publish(ctx, event)

	if s.notifier != nil && user != nil {
		s.notifier.AccountLocked(ctx, user.Email, lockUntil)
	}
}

// RefreshSession обновляет пару токенов по refresh-токену.
// Ротация refresh-токена управляется политикой: при ротации старый хэш
// атомарно заменяется новым, без ротации сессия лишь отмечается как
// использованная, а клиенту возвращается прежний refresh-токен.
func (s *Service) RefreshSession(ctx context.Context, refreshToken string, meta SessionMeta) (*models.TokenPair, uuid.UUID, error) {
	const op = "service.auth.RefreshSession"

	if !tokens.IsValidStructure(refreshToken) {
		return nil, uuid.Nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	claims, err := s.tokens.VerifyRefreshToken(refreshToken)
	if err != nil {
		if errors.Is(err, tokens.ErrTokenExpired) {
			return nil, uuid.Nil, fmt.Errorf("%s: %w", op, ErrTokenExpired)
		}

		return nil, uuid.Nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	hash := tokens.HashToken(refreshToken)

	sess, err := s.storage.SessionByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Валидный по подписи токен без записи в реестре: отозван либо
			// повторно предъявлен после ротации. Возможная компрометация.
			s.publish(ctx, events.SecurityEvent{
				Type:   events.TypeTokenReplay,
				UserID: claims.UserID,
				IP:     redact.IP(meta.IP),
				Device: meta.Device,
			})

			return nil, uuid.Nil, fmt.Errorf("%s: %w", op, ErrTokenRevoked)
		}

		return nil, uuid.Nil, fmt.Errorf("%s: %w", op, err)
	}

	now := s.now().UTC()
	if !sess.ExpiresAt.After(now) {
		// Реестр чистится фоном; просроченную запись убираем по месту.
		if err := s.storage.DeleteSession(ctx, hash); err != nil {
			log.From(ctx).Warn("expired_session_delete_failed",
				slog.String("op", op),
				slog.String("err", err.Error()),
			)
		}

		return nil, uuid.Nil, fmt.Errorf("%s: %w", op, ErrTokenExpired)
	}

	if claims.UserID != sess.UserID.String() {
		return nil, uuid.Nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	user, err := s.storage.UserByID(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, uuid.Nil, fmt.Errorf("%s: %w", op, ErrTokenRevoked)
		}

		return nil, uuid.Nil, fmt.Errorf("%s: %w", op, err)
	}

	access, accessClaims, err := s.tokens.NewAccessToken(ctx, user)
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("%s: %w", op, err)
	}

	pair := &models.TokenPair{
		AccessToken:     access,
		AccessExpiresAt: accessClaims.ExpiresAt.Time.UTC(),
	}

	var tokenIssuedAt time.Time
	if claims.IssuedAt != nil {
		tokenIssuedAt = claims.IssuedAt.Time
	}

	rotated := s.rotate(tokenIssuedAt, now)
	if rotated {
		newRefresh, newClaims, err := s.tokens.NewRefreshToken(ctx, user.ID)
		if err != nil {
			return nil, uuid.Nil, fmt.Errorf("%s: %w", op, err)
		}

		next := &models.Session{
			TokenHash:  tokens.HashToken(newRefresh),
			UserID:     sess.UserID,
			RefreshJTI: newClaims.ID,
			Device:     meta.Device,
			IP:         meta.IP,
			LastUsedAt: now,
			ExpiresAt:  newClaims.ExpiresAt.Time.UTC(),
		}

		if err := s.storage.RotateSession(ctx, hash, next); err != nil {
			switch {
			case errors.Is(err, storage.ErrNotFound):
				// Конкурентная ротация или logout успели раньше.
				return nil, uuid.Nil, fmt.Errorf("%s: %w", op, ErrTokenRevoked)
			case errors.Is(err, storage.ErrAlreadyExists):
				return nil, uuid.Nil, fmt.Errorf("%s: %w", op, ErrRefreshTokenCollision)
			default:
				return nil, uuid.Nil, fmt.Errorf("%s: %w", op, err)
			}
		}

		pair.RefreshToken = newRefresh
		pair.RefreshExpiresAt = next.ExpiresAt
	} else {
		if err := s.storage.TouchSession(ctx, hash, now); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, uuid.Nil, fmt.Errorf("%s: %w", op, ErrTokenRevoked)
			}

			return nil, uuid.Nil, fmt.Errorf("%s: %w", op, err)
		}

		pair.RefreshToken = refreshToken
		pair.RefreshExpiresAt = sess.ExpiresAt
	}

	metrics.TokenRefreshTotal.WithLabelValues(strconv.FormatBool(rotated)).Inc()
	s.publish(ctx, events.SecurityEvent{
		Type:   events.TypeSessionRefresh,
		UserID: user.ID.String(),
		IP:     redact.IP(meta.IP),
		Device: meta.Device,
	})

	return pair, user.ID, nil
}

// Logout отзывает одну сессию по refresh-токену. Идемпотентен: повторный
// вызов и вызов с неизвестным или мусорным токеном не считаются ошибкой.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	const op = "service.auth.Logout"

	if !tokens.IsValidStructure(refreshToken) {
		return nil
	}

	hash := tokens.HashToken(refreshToken)

	sess, err := s.storage.SessionByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	if err := s.storage.DeleteSession(ctx, hash); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.publish(ctx, events.SecurityEvent{
		Type:   events.TypeSessionRevoked,
		UserID: sess.UserID.String(),
		Device: sess.Device,
	})

	return nil
}

// LogoutAll отзывает все сессии пользователя, возвращает количество отозванных.
func (s *Service) LogoutAll(ctx context.Context, userID uuid.UUID) (int64, error) {
	const op = "service.auth.LogoutAll"

	n, err := s.storage.DeleteAllUserSessions(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	if n > 0 {
		s.publish(ctx, events.SecurityEvent{
			Type:   events.TypeSessionRevoked,
			UserID: userID.String(),
		})
	}

	return n, nil
}

// ChangePassword меняет пароль, отзывает ВСЕ сессии пользователя и выпускает
// свежую пару — у вызывающего устройства остаётся единственная живая сессия.
// Сессии отзываются до записи нового хэша: если запись не удалась,
// пользователь входит со старым паролем, а не остаётся с живыми сессиями
// при уже сменённом пароле.
func (s *Service) ChangePassword(ctx context.Context, userID uuid.UUID, oldPassword, newPassword string, meta SessionMeta) (*models.TokenPair, error) {
	const op = "service.auth.ChangePassword"

	user, err := s.storage.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if !checkPassword(user.PasswordHash, oldPassword) {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	if err := validatePassword(newPassword); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if newPassword == oldPassword {
		return nil, fmt.Errorf("%s: %w", op, ErrSamePassword)
	}

	hash, err := hashPassword(newPassword)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if _, err := s.storage.DeleteAllUserSessions(ctx, userID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	// Усечение до секунды: iat свежего access-токена не должен оказаться
	// раньше password_changed_at из-за долей секунды.
	changedAt := s.now().UTC().Truncate(time.Second)

	if err := s.storage.UpdatePassword(ctx, userID, hash, changedAt); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	pair, err := s.issueSession(ctx, user, meta)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if s.notifier != nil {
		s.notifier.PasswordChanged(ctx, user.Email)
	}

	s.publish(ctx, events.SecurityEvent{
		Type:   events.TypePasswordChanged,
		UserID: userID.String(),
		Email:  redact.Email(user.Email),
		IP:     redact.IP(meta.IP),
		Device: meta.Device,
	})

	return pair, nil
}

// sessionSaveAttempts — сколько раз перевыпускается refresh-токен при
// коллизии хэша в реестре сессий. Новый jti даёт новый хэш, поэтому
// повторная коллизия означает проблему серьёзнее невезения.
const sessionSaveAttempts = 3

// issueSession выпускает пару токенов и регистрирует refresh-сессию
// с вытеснением старейших сверх потолка на пользователя.
// Коллизия хэша разрешается перевыпуском токена (см. sessionSaveAttempts);
// после исчерпания попыток возвращается ErrRefreshTokenCollision.
func (s *Service) issueSession(ctx context.Context, user *models.User, meta SessionMeta) (*models.TokenPair, error) {
	const op = "service.auth.issueSession"

	access, accessClaims, err := s.tokens.NewAccessToken(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var (
		refresh string
		sess    *models.Session
		evicted int64
	)

	for attempt := 1; ; attempt++ {
		var refreshClaims *tokens.RefreshClaims

		refresh, refreshClaims, err = s.tokens.NewRefreshToken(ctx, user.ID)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		now := s.now().UTC()
		sess = &models.Session{
			TokenHash:  tokens.HashToken(refresh),
			UserID:     user.ID,
			RefreshJTI: refreshClaims.ID,
			Device:     meta.Device,
			IP:         meta.IP,
			IssuedAt:   now,
			LastUsedAt: now,
			ExpiresAt:  refreshClaims.ExpiresAt.Time.UTC(),
		}

		evicted, err = s.storage.SaveSession(ctx, sess, s.cfg.Sessions.MaxPerUser)
		if err == nil {
			break
		}

		if !errors.Is(err, storage.ErrAlreadyExists) {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		if attempt >= sessionSaveAttempts {
			return nil, fmt.Errorf("%s: %w", op, ErrRefreshTokenCollision)
		}

		log.From(ctx).Warn("refresh_token_hash_collision",
			slog.String("user_id", user.ID.String()),
			slog.Int("attempt", attempt),
		)
	}

	if evicted > 0 {
		metrics.SessionsEvictedTotal.Add(float64(evicted))
		log.From(ctx).Info("sessions_evicted",
			slog.String("user_id", user.ID.String()),
			slog.Int64("count", evicted),
		)
	}

	return &models.TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessClaims.ExpiresAt.Time.UTC(),
		RefreshExpiresAt: sess.ExpiresAt,
	}, nil
}

// hashPassword хэширует пароль с помощью bcrypt.
func hashPassword(password string) (string, error) {
	const op = "service.auth.hashPassword"

	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return string(bytes), nil
}

// checkPassword сравнивает пароль с хэшем.
func checkPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// validateEmail проверяет базовый формат email и обрезает пробелы снаружи.
func validateEmail(raw string) (string, error) {
	const op = "service.auth.validateEmail"

	email := strings.TrimSpace(raw)
	if email == "" {
		return "", fmt.Errorf("%s: %w", op, ErrInvalidEmail)
	}

	if _, err := mail.ParseAddress(email); err != nil {
		return "", fmt.Errorf("%s: %w", op, ErrInvalidEmail)
	}

	return strings.ToLower(email), nil
}

// validatePassword проверяет минимальные требования к паролю.
// Политика: длина >= 8, хотя бы одна строчная, одна заглавная и одна цифра.
// Верхняя граница — 72 байта, предел bcrypt.
func validatePassword(pw string) error {
	const op = "service.auth.validatePassword"

	if len(pw) == 0 {
		return fmt.Errorf("%s: %w", op, ErrEmptyPassword)
	}

	if len([]rune(pw)) < 8 || len(pw) > 72 {
		return fmt.Errorf("%s: %w", op, ErrWeakPassword)
	}

	var hasLower, hasUpper, hasDigit bool
	for _, r := range pw {
		switch {
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}

	if !(hasLower && hasUpper && hasDigit) {
		return fmt.Errorf("%s: %w", op, ErrWeakPassword)
	}

	return nil
}
