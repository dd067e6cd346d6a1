package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openroster/roster-api/internal/models"
)

func TestSessionCreateAssignsID(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	mock.ExpectExec("INSERT INTO sessions").WillReturnResult(sqlmock.NewResult(1, 1))

	session := &models.Session{UserID: "u1", TokenHash: "hash", ExpiresAt: time.Now().Add(time.Hour)}
	err := repo.Create(context.Background(), session)
	require.NoError(t, err)
	assert.NotEmpty(t, session.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionFindByID(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "user_id", "token_hash", "ip_address", "user_agent", "revoked", "expires_at", "created_at", "updated_at"}).
		AddRow("s1", "u1", "hash", "10.0.0.1", "agent", false, now.Add(time.Hour), now, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM sessions WHERE id = $1 LIMIT 1")).
		WithArgs("s1").
		WillReturnRows(rows)

	session, err := repo.FindByID(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "u1", session.UserID)
	assert.False(t, session.Revoked)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRotateHash(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $1 AND token_hash = $2 AND revoked = FALSE")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.RotateHash(context.Background(), "s1", "old", "new", "10.0.0.1", "agent", time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRotateHashConflictWhenNoRowMatches(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	// Zero affected rows means another request already rotated the hash.
	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $1 AND token_hash = $2 AND revoked = FALSE")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.RotateHash(context.Background(), "s1", "stale", "new", "", "", time.Now().Add(time.Hour))
	assert.ErrorIs(t, err, ErrRotationConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionDeleteMissingRow(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM sessions WHERE id = $1")).
		WithArgs("gone").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Delete(context.Background(), "gone")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteByUserKeepsCurrentSession(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM sessions WHERE user_id = $1 AND id <> $2")).
		WithArgs("u1", "s1").
		WillReturnResult(sqlmock.NewResult(0, 3))

	err := repo.DeleteByUser(context.Background(), "u1", "s1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteExpiredReportsCount(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM sessions WHERE expires_at < $1")).
		WillReturnResult(sqlmock.NewResult(0, 4))

	removed, err := repo.DeleteExpired(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(4), removed)
	assert.NoError(t, mock.ExpectationsWereMet())
}
