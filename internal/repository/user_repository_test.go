package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/auth-api/internal/models"
)

func newUserRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func userRows(user *models.User) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "name", "email", "password_hash", "role", "email_verified", "verify_token", "verify_expiry", "reset_token", "reset_expiry", "created_at", "updated_at"}).
		AddRow(user.ID, user.Name, user.Email, user.PasswordHash, user.Role, user.EmailVerified, user.VerifyToken, user.VerifyExpiry, user.ResetToken, user.ResetExpiry, user.CreatedAt, user.UpdatedAt)
}

func TestUserRepositoryCreateAndFindByEmail(t *testing.T) {
	db, mock, cleanup := newUserRepoMock(t)
	defer cleanup()

	repo := NewUserRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO users")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	user := &models.User{
		Name:         "Alice",
		Email:        "alice@example.com",
		PasswordHash: "hash",
		Role:         models.RoleUser,
	}
	require.NoError(t, repo.Create(context.Background(), user))
	require.NotEmpty(t, user.ID)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name, email, password_hash")).
		WithArgs("alice@example.com").
		WillReturnRows(userRows(user))

	found, err := repo.FindByEmail(context.Background(), "alice@example.com")
	require.NoError(t, err)
	require.Equal(t, user.ID, found.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepositoryCreateDuplicateEmail(t *testing.T) {
	db, mock, cleanup := newUserRepoMock(t)
	defer cleanup()

	repo := NewUserRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO users")).
		WillReturnError(&pq.Error{Code: pqUniqueViolation, Constraint: "users_email_key"})

	err := repo.Create(context.Background(), &models.User{
		Name:         "Alice",
		Email:        "alice@example.com",
		PasswordHash: "hash",
		Role:         models.RoleUser,
	})
	require.ErrorIs(t, err, ErrDuplicate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepositoryFindByEmailNoRows(t *testing.T) {
	db, mock, cleanup := newUserRepoMock(t)
	defer cleanup()

	repo := NewUserRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name, email, password_hash")).
		WithArgs("ghost@example.com").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByEmail(context.Background(), "ghost@example.com")
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepositoryFindByVerifyToken(t *testing.T) {
	db, mock, cleanup := newUserRepoMock(t)
	defer cleanup()

	repo := NewUserRepository(db)
	tok := "deadbeef"
	expiry := time.Now().Add(24 * time.Hour)
	user := &models.User{ID: "u1", Name: "Alice", Email: "alice@example.com", Role: models.RoleUser, VerifyToken: &tok, VerifyExpiry: &expiry}

	mock.ExpectQuery(regexp.QuoteMeta("WHERE verify_token = $1")).
		WithArgs(tok).
		WillReturnRows(userRows(user))

	found, err := repo.FindByVerifyToken(context.Background(), tok)
	require.NoError(t, err)
	require.Equal(t, "u1", found.ID)
	require.NotNil(t, found.VerifyToken)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepositoryMarkEmailVerified(t *testing.T) {
	db, mock, cleanup := newUserRepoMock(t)
	defer cleanup()

	repo := NewUserRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET email_verified = TRUE, verify_token = NULL, verify_expiry = NULL")).
		WithArgs("u1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.MarkEmailVerified(context.Background(), "u1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepositoryUpdatePasswordClearsResetPair(t *testing.T) {
	db, mock, cleanup := newUserRepoMock(t)
	defer cleanup()

	repo := NewUserRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET password_hash = $2, reset_token = NULL, reset_expiry = NULL")).
		WithArgs("u1", "newhash", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpdatePassword(context.Background(), "u1", "newhash"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepositoryList(t *testing.T) {
	db, mock, cleanup := newUserRepoMock(t)
	defer cleanup()

	repo := NewUserRepository(db)
	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "name", "email", "password_hash", "role", "email_verified", "verify_token", "verify_expiry", "reset_token", "reset_expiry", "created_at", "updated_at"}).
		AddRow("u2", "Bob", "bob@example.com", "hash", "USER", true, nil, nil, nil, nil, now, now).
		AddRow("u1", "Alice", "alice@example.com", "hash", "ADMIN", true, nil, nil, nil, nil, now.Add(-time.Hour), now)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at DESC LIMIT 10 OFFSET 0")).
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM users")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectCommit()

	users, total, err := repo.List(context.Background(), models.UserFilter{Page: 1, PageSize: 10})
	require.NoError(t, err)
	require.Len(t, users, 2)
	require.Equal(t, 2, total)
	require.Equal(t, "u2", users[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepositoryDeleteCascadesRefreshTokens(t *testing.T) {
	db, mock, cleanup := newUserRepoMock(t)
	defer cleanup()

	repo := NewUserRepository(db)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM refresh_tokens WHERE user_id = $1")).
		WithArgs("u1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM users WHERE id = $1")).
		WithArgs("u1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Delete(context.Background(), "u1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepositoryCreateAndFindRefreshToken(t *testing.T) {
	db, mock, cleanup := newUserRepoMock(t)
	defer cleanup()

	repo := NewUserRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO refresh_tokens")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	rt := &models.RefreshToken{
		UserID:    "u1",
		Token:     "signed.jwt.token",
		ExpiresAt: time.Now().Add(168 * time.Hour),
	}
	require.NoError(t, repo.CreateRefreshToken(context.Background(), rt))
	require.NotEmpty(t, rt.ID)

	rows := sqlmock.NewRows([]string{"id", "user_id", "token", "expires_at", "created_at"}).
		AddRow(rt.ID, rt.UserID, rt.Token, rt.ExpiresAt, rt.CreatedAt)
	mock.ExpectQuery(regexp.QuoteMeta("FROM refresh_tokens WHERE token = $1")).
		WithArgs(rt.Token).
		WillReturnRows(rows)

	found, err := repo.FindRefreshToken(context.Background(), rt.Token)
	require.NoError(t, err)
	require.Equal(t, "u1", found.UserID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepositoryDeleteRefreshTokenReportsRows(t *testing.T) {
	db, mock, cleanup := newUserRepoMock(t)
	defer cleanup()

	repo := NewUserRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM refresh_tokens WHERE token = $1")).
		WithArgs("tok-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM refresh_tokens WHERE token = $1")).
		WithArgs("tok-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	affected, err := repo.DeleteRefreshToken(context.Background(), "tok-1")
	require.NoError(t, err)
	require.EqualValues(t, 1, affected)

	// Second delete of the same token observes zero rows.
	affected, err = repo.DeleteRefreshToken(context.Background(), "tok-1")
	require.NoError(t, err)
	require.EqualValues(t, 0, affected)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepositoryCreateAuditLog(t *testing.T) {
	db, mock, cleanup := newUserRepoMock(t)
	defer cleanup()

	repo := NewUserRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_logs")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	userID := "u1"
	require.NoError(t, repo.CreateAuditLog(context.Background(), &models.AuditLog{
		UserID:   &userID,
		Action:   models.AuditActionLogin,
		Resource: "auth",
	}))
	require.NoError(t, mock.ExpectationsWereMet())
}
