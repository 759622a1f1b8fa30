package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pribylovaa/go-trip-planner/auth-service/internal/models"
	"github.com/pribylovaa/go-trip-planner/auth-service/internal/storage"
)

// sessionColumns — единый список колонок таблицы sessions.
const sessionColumns = `
token_hash, user_id, refresh_jti, device, ip, issued_at, last_used_at, expires_at
`

// scanSession сканирует одну строку сессии в доменную модель.
func scanSession(row pgx.Row) (*models.Session, error) {
	var session models.Session

	if err := row.Scan(
		&session.TokenHash,
		&session.UserID,
		&session.RefreshJTI,
		&session.Device,
		&session.IP,
		&session.IssuedAt,
		&session.LastUsedAt,
		&session.ExpiresAt,
	); err != nil {
		return nil, err
	}

	return &session, nil
}

// SaveSession сохраняет сессию и в той же транзакции вытесняет старейшие
// по issued_at записи пользователя сверх limit. Вставка и вытеснение
// атомарны: конкурентные входы не раздувают реестр выше потолка.
// Возвращает количество вытесненных сессий.
func (s *Storage) SaveSession(ctx context.Context, session *models.Session, limit int) (int64, error) {
	const op = "storage.postgres.SaveSession"

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const insert = `
		INSERT INTO sessions(token_hash, user_id, refresh_jti, device, ip, issued_at, last_used_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err = tx.Exec(ctx, insert,
		session.TokenHash,
		session.UserID,
		session.RefreshJTI,
		session.Device,
		session.IP,
		session.IssuedAt,
		session.LastUsedAt,
		session.ExpiresAt,
	)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
		}

		return 0, fmt.Errorf("%s: %w", op, err)
	}

	// Оставляем limit новейших записей, всё старше — под вытеснение.
	const evict = `
		DELETE FROM sessions
		WHERE user_id = $1
		  AND token_hash IN (
			SELECT token_hash
			FROM sessions
			WHERE user_id = $1
			ORDER BY issued_at DESC, token_hash
			OFFSET $2
		  )
	`

	cmdTag, err := tx.Exec(ctx, evict, session.UserID, limit)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return cmdTag.RowsAffected(), nil
}

// SessionByHash находит сессию по хэшу refresh-токена.
func (s *Storage) SessionByHash(ctx context.Context, hash string) (*models.Session, error) {
	const op = "storage.postgres.SessionByHash"

	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE token_hash = $1`

	session, err := scanSession(s.db.QueryRow(ctx, query, hash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return session, nil
}

// RotateSession атомарно заменяет хэш/jti/срок/адресные поля сессии oldHash.
// Один UPDATE — при конкурентных ротациях одного токена выигрывает ровно
// один вызов, остальные получают ErrNotFound.
func (s *Storage) RotateSession(ctx context.Context, oldHash string, next *models.Session) error {
	const op = "storage.postgres.RotateSession"

	query := `
		UPDATE sessions
		SET token_hash = $2,
		    refresh_jti = $3,
		    device = $4,
		    ip = $5,
		    last_used_at = $6,
		    expires_at = $7
		WHERE token_hash = $1
	`

	cmdTag, err := s.db.Exec(ctx, query,
		oldHash,
		next.TokenHash,
		next.RefreshJTI,
		next.Device,
		next.IP,
		next.LastUsedAt,
		next.ExpiresAt,
	)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	return nil
}

// TouchSession обновляет last_used_at (refresh без ротации).
func (s *Storage) TouchSession(ctx context.Context, hash string, lastUsedAt time.Time) error {
	const op = "storage.postgres.TouchSession"

	query := `
		UPDATE sessions
		SET last_used_at = $2
		WHERE token_hash = $1
	`

	cmdTag, err := s.db.Exec(ctx, query, hash, lastUsedAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	return nil
}

// DeleteSession удаляет сессию по хэшу. Отсутствие записи — не ошибка:
// logout обязан быть идемпотентным.
func (s *Storage) DeleteSession(ctx context.Context, hash string) error {
	const op = "storage.postgres.DeleteSession"

	query := `DELETE FROM sessions WHERE token_hash = $1`

	if _, err := s.db.Exec(ctx, query, hash); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// DeleteAllUserSessions удаляет все сессии пользователя.
func (s *Storage) DeleteAllUserSessions(ctx context.Context, userID uuid.UUID) (int64, error) {
	const op = "storage.postgres.DeleteAllUserSessions"

	query := `DELETE FROM sessions WHERE user_id = $1`

	cmdTag, err := s.db.Exec(ctx, query, userID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return cmdTag.RowsAffected(), nil
}

// DeleteExpiredSessions удаляет все просроченные сессии.
func (s *Storage) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	const op = "storage.postgres.DeleteExpiredSessions"

	query := `DELETE FROM sessions WHERE expires_at <= $1`

	cmdTag, err := s.db.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return cmdTag.RowsAffected(), nil
}
