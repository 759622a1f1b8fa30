// tokens реализует выпуск и проверку пары JWT-токенов сервиса.
//
// Access-токен — короткоживущий, подписывается секретом access_secret и
// предъявляется как Bearer. Refresh-токен — долгоживущий, подписывается
// ОТДЕЛЬНЫМ секретом refresh_secret и ходит только в HttpOnly-cookie;
// на сервере хранится только его SHA-256-хэш. Оба токена несут клейм
// typ, поэтому токен одного типа не проходит проверку другого даже при
// совпадении секретов.
package tokens

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/pribylovaa/go-trip-planner/auth-service/internal/config"
	"github.com/pribylovaa/go-trip-planner/auth-service/internal/models"
	"github.com/pribylovaa/go-trip-planner/auth-service/internal/pkg/log"
)

// Ошибки пакета.
//
// Разделение ErrTokenExpired/ErrTokenInvalid принципиально: клиент по нему
// решает, идти ли на /auth/refresh (expired) или сессия безнадёжна (invalid).
var (
	// ErrMissingSecret — не задан секрет подписи. Возвращается из New:
	// сервис с пустым секретом не должен подняться вовсе.
	ErrMissingSecret = errors.New("missing signing secret")
	// ErrSameSecrets — секреты access и refresh совпадают.
	ErrSameSecrets = errors.New("access and refresh secrets must differ")
	// ErrTokenExpired — подпись корректна, но срок действия истёк.
	// Транспорт: 401 token_expired.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid — токен не прошёл проверку (подпись, структура,
	// issuer/audience, клейм typ). Транспорт: 401 token_malformed.
	ErrTokenInvalid = errors.New("token invalid")
)

// Типы токенов (значение клейма typ).
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

// AccessClaims — полезная нагрузка access-токена.
type AccessClaims struct {
	UserID string `json:"uid"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	Plan   string `json:"plan"`
	Type   string `json:"typ"`
	jwt.RegisteredClaims
}

// RefreshClaims — полезная нагрузка refresh-токена.
type RefreshClaims struct {
	UserID string `json:"uid"`
	Type   string `json:"typ"`
	jwt.RegisteredClaims
}

// Manager выпускает и проверяет токены. Создаётся один раз в main и
// передаётся зависимостям (service, middleware) явно.
type Manager struct {
	cfg config.AuthConfig

	// now подменяется в тестах для детерминированных сценариев истечения.
	now func() time.Time
}

// New валидирует секреты и возвращает готовый Manager.
// Пустой секрет или совпадающие секреты — ошибка конфигурации, fail-fast.
func New(cfg config.AuthConfig) (*Manager, error) {
	const op = "tokens.tokens.New"

	if cfg.AccessSecret == "" || cfg.RefreshSecret == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrMissingSecret)
	}

	if cfg.AccessSecret == cfg.RefreshSecret {
		return nil, fmt.Errorf("%s: %w", op, ErrSameSecrets)
	}

	return &Manager{
		cfg: cfg,
		now: time.Now,
	}, nil
}

// NewAccessToken выпускает access-токен для пользователя.
// Возвращает подписанный токен и его клеймы (exp/jti нужны вызывающему коду).
func (m *Manager) NewAccessToken(ctx context.Context, user *models.User) (string, *AccessClaims, error) {
	const op = "tokens.tokens.NewAccessToken"

	lg := log.From(ctx)
	now := m.now().UTC()

	claims := &AccessClaims{
		UserID: user.ID.String(),
		Email:  user.Email,
		Role:   string(user.Role),
		Plan:   string(user.Plan),
		Type:   TypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.cfg.AccessTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    m.cfg.Issuer,
			Subject:   user.ID.String(),
			Audience:  jwt.ClaimStrings(m.cfg.Audience),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(m.cfg.AccessSecret))
	if err != nil {
		lg.Error("access_token_sign_failed",
			slog.String("op", op),
			slog.String("err", err.Error()),
		)
		return "", nil, fmt.Errorf("%s: %w", op, err)
	}

	return signed, claims, nil
}

// NewRefreshToken выпускает refresh-токен для пользователя.
func (m *Manager) NewRefreshToken(ctx context.Context, userID uuid.UUID) (string, *RefreshClaims, error) {
	const op = "tokens.tokens.NewRefreshToken"

	lg := log.From(ctx)
	now := m.now().UTC()

	claims := &RefreshClaims{
		UserID: userID.String(),
		Type:   TypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.cfg.RefreshTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    m.cfg.Issuer,
			Subject:   userID.String(),
			Audience:  jwt.ClaimStrings(m.cfg.Audience),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(m.cfg.RefreshSecret))
	if err != nil {
		lg.Error("refresh_token_sign_failed",
			slog.String("op", op),
			slog.String("err", err.Error()),
		)
		return "", nil, fmt.Errorf("%s: %w", op, err)
	}

	return signed, claims, nil
}

// VerifyAccessToken проверяет access-токен: подпись, issuer/audience,
// срок действия, клейм typ. Истечение отличимо от прочих дефектов.
func (m *Manager) VerifyAccessToken(raw string) (*AccessClaims, error) {
	const op = "tokens.tokens.VerifyAccessToken"

	claims := &AccessClaims{}
	if err := m.parse(raw, claims, m.cfg.AccessSecret); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if claims.Type != TypeAccess {
		return nil, fmt.Errorf("%s: %w", op, ErrTokenInvalid)
	}

	if _, err := uuid.Parse(claims.UserID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, ErrTokenInvalid)
	}

	return claims, nil
}

// VerifyRefreshToken проверяет refresh-токен аналогично VerifyAccessToken,
// но с секретом refresh и клеймом typ=refresh.
func (m *Manager) VerifyRefreshToken(raw string) (*RefreshClaims, error) {
	const op = "tokens.tokens.VerifyRefreshToken"

	claims := &RefreshClaims{}
	if err := m.parse(raw, claims, m.cfg.RefreshSecret); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if claims.Type != TypeRefresh {
		return nil, fmt.Errorf("%s: %w", op, ErrTokenInvalid)
	}

	if _, err := uuid.Parse(claims.UserID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, ErrTokenInvalid)
	}

	return claims, nil
}

// parse — общий разбор с маппингом ошибок библиотеки на сентинелы пакета.
func (m *Manager) parse(raw string, claims jwt.Claims, secret string) error {
	token, err := jwt.ParseWithClaims(raw, claims,
		func(t *jwt.Token) (interface{}, error) {
			if t.Method != jwt.SigningMethodHS256 {
				return nil, ErrTokenInvalid
			}

			return []byte(secret), nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(5*time.Second),
		jwt.WithIssuer(m.cfg.Issuer),
		jwt.WithAudience(m.cfg.Audience...),
		jwt.WithTimeFunc(func() time.Time { return m.now().UTC() }),
	)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrTokenExpired
		}

		return ErrTokenInvalid
	}

	if !token.Valid {
		return ErrTokenInvalid
	}

	return nil
}

// IsValidStructure — дешёвая проверка формы JWT до криптографии:
// три непустых сегмента из base64url-алфавита, разделённые точками.
// Мусор отсекается без разбора подписи.
func IsValidStructure(raw string) bool {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return false
	}

	for _, p := range parts {
		if p == "" {
			return false
		}

		for _, r := range p {
			switch {
			case r >= 'A' && r <= 'Z':
			case r >= 'a' && r <= 'z':
			case r >= '0' && r <= '9':
			case r == '-' || r == '_':
			default:
				return false
			}
		}
	}

	return true
}

// HashToken возвращает SHA-256-хэш «сырого» токена в base64url.
// Именно в таком виде refresh-токены хранятся в реестре сессий.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
