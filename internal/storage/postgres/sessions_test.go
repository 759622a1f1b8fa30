package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/pribylovaa/go-trip-planner/auth-service/internal/models"
	"github.com/pribylovaa/go-trip-planner/auth-service/internal/storage"
	"github.com/pribylovaa/go-trip-planner/auth-service/internal/tokens"
)

// Файл интеграционных тестов для пакета postgres (репозиторий sessions.go):
// - реестр сессий: сохранение/поиск по хэшу, потолок сессий с вытеснением старейшей;
// - атомарная ротация (повтор старого хэша после ротации -> ErrNotFound);
// - touch/удаление (идемпотентное)/массовое удаление/чистка просроченных.
//
// Харнес (startPostgres, readMigration) — в users_test.go.

// seedUser — вставляет пользователя, возвращает его ID.
func seedUser(t *testing.T, st *Storage, email string) uuid.UUID {
	t.Helper()
	u := newUser(email)
	require.NoError(t, st.SaveUser(context.Background(), u))
	return u.ID
}

// newSession — валидная сессия для вставки; issuedOffset сдвигает issued_at,
// чтобы управлять порядком вытеснения.
func newSession(userID uuid.UUID, raw string, issuedOffset time.Duration) *models.Session {
	now := time.Now().UTC().Add(issuedOffset)
	return &models.Session{
		TokenHash:  tokens.HashToken(raw),
		UserID:     userID,
		RefreshJTI: uuid.NewString(),
		Device:     "ios/17.2",
		IP:         "203.0.113.17",
		IssuedAt:   now,
		LastUsedAt: now,
		ExpiresAt:  now.Add(168 * time.Hour),
	}
}

// mustSaveSession — сохраняет сессию, возвращает количество вытесненных.
func mustSaveSession(t *testing.T, st *Storage, sess *models.Session, limit int) int64 {
	t.Helper()
	evicted, err := st.SaveSession(context.Background(), sess, limit)
	require.NoError(t, err)
	return evicted
}

func TestIntegration_SaveSession_And_GetByHash_OK(t *testing.T) {
	st, cleanup := startPostgres(t)
	defer cleanup()

	userID := seedUser(t, st, "sessions@example.com")
	sess := newSession(userID, "raw-refresh-1", 0)

	require.Zero(t, mustSaveSession(t, st, sess, 10))

	got, err := st.SessionByHash(context.Background(), sess.TokenHash)
	require.NoError(t, err)
	require.Equal(t, sess.TokenHash, got.TokenHash)
	require.Equal(t, userID, got.UserID)
	require.Equal(t, sess.RefreshJTI, got.RefreshJTI)
	require.Equal(t, "ios/17.2", got.Device)
	require.Equal(t, "203.0.113.17", got.IP)
	require.WithinDuration(t, sess.IssuedAt, got.IssuedAt, time.Second)
	require.WithinDuration(t, sess.ExpiresAt, got.ExpiresAt, time.Second)
}

func TestIntegration_SessionByHash_NotFound(t *testing.T) {
	st, cleanup := startPostgres(t)
	defer cleanup()

	_, err := st.SessionByHash(context.Background(), tokens.HashToken("absent"))
	require.Error(t, err)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

// TestIntegration_SaveSession_EvictsOldest — при потолке 3 четвёртая сессия
// вытесняет старейшую по issued_at, остальные остаются.
func TestIntegration_SaveSession_EvictsOldest(t *testing.T) {
	st, cleanup := startPostgres(t)
	defer cleanup()

	userID := seedUser(t, st, "evict@example.com")

	const limit = 3
	sessions := make([]*models.Session, 0, limit+1)
	for i := 0; i <= limit; i++ {
		s := newSession(userID, fmt.Sprintf("raw-%d", i), time.Duration(i)*time.Minute)
		sessions = append(sessions, s)

		evicted := mustSaveSession(t, st, s, limit)
		if i < limit {
			require.Zero(t, evicted)
		} else {
			require.EqualValues(t, 1, evicted)
		}
	}

	// Старейшая (i=0) вытеснена.
	_, err := st.SessionByHash(context.Background(), sessions[0].TokenHash)
	require.ErrorIs(t, err, storage.ErrNotFound)

	// Три новейших живы.
	for _, s := range sessions[1:] {
		_, err := st.SessionByHash(context.Background(), s.TokenHash)
		require.NoError(t, err)
	}
}

// TestIntegration_SaveSession_EvictionIsPerUser — потолок считается на
// пользователя: чужие сессии не вытесняются.
func TestIntegration_SaveSession_EvictionIsPerUser(t *testing.T) {
	st, cleanup := startPostgres(t)
	defer cleanup()

	alice := seedUser(t, st, "alice@example.com")
	bob := seedUser(t, st, "bob@example.com")

	bobSess := newSession(bob, "bob-raw", -time.Hour)
	require.Zero(t, mustSaveSession(t, st, bobSess, 1))

	for i := 0; i < 3; i++ {
		s := newSession(alice, fmt.Sprintf("alice-%d", i), time.Duration(i)*time.Minute)
		mustSaveSession(t, st, s, 1)
	}

	_, err := st.SessionByHash(context.Background(), bobSess.TokenHash)
	require.NoError(t, err, "сессия другого пользователя не должна вытесняться")
}

func TestIntegration_SaveSession_DuplicateHash_Violation(t *testing.T) {
	st, cleanup := startPostgres(t)
	defer cleanup()

	userID := seedUser(t, st, "dup@example.com")
	sess := newSession(userID, "same-raw", 0)

	mustSaveSession(t, st, sess, 10)

	again := newSession(userID, "same-raw", time.Minute)
	_, err := st.SaveSession(context.Background(), again, 10)
	require.Error(t, err)
	require.ErrorIs(t, err, storage.ErrAlreadyExists)
}

// TestIntegration_RotateSession_OK_And_ReplayFails — ротация подменяет
// хэш/jti/срок, повторная ротация по старому хэшу обязана дать ErrNotFound.
func TestIntegration_RotateSession_OK_And_ReplayFails(t *testing.T) {
	st, cleanup := startPostgres(t)
	defer cleanup()

	userID := seedUser(t, st, "rotate@example.com")
	old := newSession(userID, "old-raw", 0)
	mustSaveSession(t, st, old, 10)

	next := newSession(userID, "new-raw", 0)
	next.LastUsedAt = time.Now().UTC().Add(time.Minute)

	require.NoError(t, st.RotateSession(context.Background(), old.TokenHash, next))

	// Старый хэш недействителен.
	_, err := st.SessionByHash(context.Background(), old.TokenHash)
	require.ErrorIs(t, err, storage.ErrNotFound)

	// Новый хэш активен, issued_at сохранён от исходной сессии.
	got, err := st.SessionByHash(context.Background(), next.TokenHash)
	require.NoError(t, err)
	require.Equal(t, next.RefreshJTI, got.RefreshJTI)
	require.WithinDuration(t, old.IssuedAt, got.IssuedAt, time.Second)
	require.WithinDuration(t, next.LastUsedAt, got.LastUsedAt, time.Second)

	// Повтор (replay) старого хэша.
	err = st.RotateSession(context.Background(), old.TokenHash, newSession(userID, "another-raw", 0))
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestIntegration_TouchSession(t *testing.T) {
	st, cleanup := startPostgres(t)
	defer cleanup()

	userID := seedUser(t, st, "touch@example.com")
	sess := newSession(userID, "touch-raw", -time.Hour)
	mustSaveSession(t, st, sess, 10)

	usedAt := time.Now().UTC()
	require.NoError(t, st.TouchSession(context.Background(), sess.TokenHash, usedAt))

	got, err := st.SessionByHash(context.Background(), sess.TokenHash)
	require.NoError(t, err)
	require.WithinDuration(t, usedAt, got.LastUsedAt, time.Second)

	err = st.TouchSession(context.Background(), tokens.HashToken("absent"), usedAt)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

// TestIntegration_DeleteSession_Idempotent — повторное удаление не ошибка.
func TestIntegration_DeleteSession_Idempotent(t *testing.T) {
	st, cleanup := startPostgres(t)
	defer cleanup()

	userID := seedUser(t, st, "del@example.com")
	sess := newSession(userID, "del-raw", 0)
	mustSaveSession(t, st, sess, 10)

	require.NoError(t, st.DeleteSession(context.Background(), sess.TokenHash))
	require.NoError(t, st.DeleteSession(context.Background(), sess.TokenHash))

	_, err := st.SessionByHash(context.Background(), sess.TokenHash)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestIntegration_DeleteAllUserSessions(t *testing.T) {
	st, cleanup := startPostgres(t)
	defer cleanup()

	alice := seedUser(t, st, "alice2@example.com")
	bob := seedUser(t, st, "bob2@example.com")

	for i := 0; i < 3; i++ {
		mustSaveSession(t, st, newSession(alice, fmt.Sprintf("a-%d", i), 0), 10)
	}
	bobSess := newSession(bob, "b-0", 0)
	mustSaveSession(t, st, bobSess, 10)

	n, err := st.DeleteAllUserSessions(context.Background(), alice)
	require.NoError(t, err)
	require.EqualValues(t, 3, n)

	_, err = st.SessionByHash(context.Background(), bobSess.TokenHash)
	require.NoError(t, err, "чужие сессии не трогаем")

	n, err = st.DeleteAllUserSessions(context.Background(), alice)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestIntegration_DeleteExpiredSessions(t *testing.T) {
	st, cleanup := startPostgres(t)
	defer cleanup()

	userID := seedUser(t, st, "janitor@example.com")

	expired1 := newSession(userID, "exp-1", 0)
	expired1.ExpiresAt = time.Now().UTC().Add(-time.Hour)
	expired2 := newSession(userID, "exp-2", time.Minute)
	expired2.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	alive := newSession(userID, "alive", 2*time.Minute)

	mustSaveSession(t, st, expired1, 10)
	mustSaveSession(t, st, expired2, 10)
	mustSaveSession(t, st, alive, 10)

	n, err := st.DeleteExpiredSessions(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	_, err = st.SessionByHash(context.Background(), alive.TokenHash)
	require.NoError(t, err)
}

func TestIntegration_SessionQueries_ContextCanceled(t *testing.T) {
	st, cleanup := startPostgres(t)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := st.SessionByHash(ctx, tokens.HashToken("x"))
	require.Error(t, err)
	require.ErrorIs(t, err, context.Canceled)
}
