package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/auth-api/internal/models"
)

// ErrDuplicate reports a unique-constraint violation, e.g. two registrations
// racing on the same email.
var ErrDuplicate = errors.New("duplicate key")

const pqUniqueViolation = "23505"

func translateDuplicate(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
		return ErrDuplicate
	}
	return err
}

const userColumns = `id, name, email, password_hash, role, email_verified, verify_token, verify_expiry, reset_token, reset_expiry, created_at, updated_at`

// UserRepository provides database access for accounts and refresh tokens.
// Uniqueness of email, verify_token, reset_token and refresh_tokens.token is
// enforced by unique constraints at the storage layer.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts a new account.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	const query = `INSERT INTO users (id, name, email, password_hash, role, email_verified, verify_token, verify_expiry, created_at, updated_at) VALUES (:id, :name, :email, :password_hash, :role, :email_verified, :verify_token, :verify_expiry, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, user); err != nil {
		// Registrations racing on the same email: the loser hits the
		// unique constraint here, after its existence check passed.
		return fmt.Errorf("create user: %w", translateDuplicate(err))
	}
	return nil
}

// FindByEmail returns a user by email address. Lookup is case-sensitive to
// match the uniqueness key.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE email = $1 LIMIT 1`
	return r.findOne(ctx, query, email, "find user by email")
}

// FindByID returns a user by identifier.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE id = $1 LIMIT 1`
	return r.findOne(ctx, query, id, "find user by id")
}

// FindByVerifyToken returns the user owning a pending verification token.
func (r *UserRepository) FindByVerifyToken(ctx context.Context, token string) (*models.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE verify_token = $1 LIMIT 1`
	return r.findOne(ctx, query, token, "find user by verify token")
}

// FindByResetToken returns the user owning a pending reset token.
func (r *UserRepository) FindByResetToken(ctx context.Context, token string) (*models.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE reset_token = $1 LIMIT 1`
	return r.findOne(ctx, query, token, "find user by reset token")
}

func (r *UserRepository) findOne(ctx context.Context, query, arg, op string) (*models.User, error) {
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, arg); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &user, nil
}

// UpdateName updates the display name.
func (r *UserRepository) UpdateName(ctx context.Context, id, name string) error {
	const query = `UPDATE users SET name = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, name, time.Now().UTC()); err != nil {
		return fmt.Errorf("update name: %w", err)
	}
	return nil
}

// UpdateRole updates the account role.
func (r *UserRepository) UpdateRole(ctx context.Context, id string, role models.UserRole) error {
	const query = `UPDATE users SET role = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, role, time.Now().UTC()); err != nil {
		return fmt.Errorf("update role: %w", err)
	}
	return nil
}

// UpdatePassword stores a new password hash. Any pending reset pair is
// cleared in the same statement so the state change is atomic.
func (r *UserRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	const query = `UPDATE users SET password_hash = $2, reset_token = NULL, reset_expiry = NULL, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, passwordHash, time.Now().UTC()); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

// SetVerifyToken stores a fresh verification pair, overwriting any prior one.
func (r *UserRepository) SetVerifyToken(ctx context.Context, id, token string, expiry time.Time) error {
	const query = `UPDATE users SET verify_token = $2, verify_expiry = $3, updated_at = $4 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, token, expiry, time.Now().UTC()); err != nil {
		return fmt.Errorf("set verify token: %w", err)
	}
	return nil
}

// MarkEmailVerified flips the verified flag and clears the verification pair
// in a single statement.
func (r *UserRepository) MarkEmailVerified(ctx context.Context, id string) error {
	const query = `UPDATE users SET email_verified = TRUE, verify_token = NULL, verify_expiry = NULL, updated_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("mark email verified: %w", err)
	}
	return nil
}

// SetResetToken stores a fresh reset pair, overwriting any prior one.
func (r *UserRepository) SetResetToken(ctx context.Context, id, token string, expiry time.Time) error {
	const query = `UPDATE users SET reset_token = $2, reset_expiry = $3, updated_at = $4 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, token, expiry, time.Now().UTC()); err != nil {
		return fmt.Errorf("set reset token: %w", err)
	}
	return nil
}

// List returns a page of users ordered by creation time descending, with the
// total count read in the same transaction.
func (r *UserRepository) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 10
	}
	offset := (page - 1) * pageSize

	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("list users: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	listQuery := fmt.Sprintf(`SELECT %s FROM users ORDER BY created_at DESC LIMIT %d OFFSET %d`, userColumns, pageSize, offset)
	var users []models.User
	if err := tx.SelectContext(ctx, &users, listQuery); err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}

	var total int
	if err := tx.GetContext(ctx, &total, `SELECT COUNT(*) FROM users`); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, 0, fmt.Errorf("list users: commit: %w", err)
	}

	return users, total, nil
}

// Delete removes the account and all of its refresh tokens in one
// transaction.
func (r *UserRepository) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete user: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE user_id = $1`, id); err != nil {
		return fmt.Errorf("delete user refresh tokens: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("delete user: commit: %w", err)
	}
	return nil
}

// CreateRefreshToken persists a refresh-token session.
func (r *UserRepository) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO refresh_tokens (id, user_id, token, expires_at, created_at) VALUES (:id, :user_id, :token, :expires_at, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, token); err != nil {
		return fmt.Errorf("create refresh token: %w", err)
	}
	return nil
}

// FindRefreshToken returns a refresh token by token string.
func (r *UserRepository) FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	const query = `SELECT id, user_id, token, expires_at, created_at FROM refresh_tokens WHERE token = $1 LIMIT 1`
	var rt models.RefreshToken
	if err := r.db.GetContext(ctx, &rt, query, token); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find refresh token: %w", err)
	}
	return &rt, nil
}

// DeleteRefreshToken removes a token by string and reports the rows removed.
// Rotation relies on this count: of two concurrent consumers of the same
// token, only one observes a deletion.
func (r *UserRepository) DeleteRefreshToken(ctx context.Context, token string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE token = $1`, token)
	if err != nil {
		return 0, fmt.Errorf("delete refresh token: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete refresh token: rows affected: %w", err)
	}
	return affected, nil
}

// DeleteUserRefreshTokens removes every refresh token owned by the account.
func (r *UserRepository) DeleteUserRefreshTokens(ctx context.Context, userID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("delete user refresh tokens: %w", err)
	}
	return nil
}

// CountUserRefreshTokens returns the number of live sessions for an account.
func (r *UserRepository) CountUserRefreshTokens(ctx context.Context, userID string) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM refresh_tokens WHERE user_id = $1`, userID); err != nil {
		return 0, fmt.Errorf("count user refresh tokens: %w", err)
	}
	return count, nil
}

// CreateAuditLog stores an audit trail entry.
func (r *UserRepository) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO audit_logs (id, user_id, action, resource, resource_id, detail, created_at) VALUES (:id, :user_id, :action, :resource, :resource_id, :detail, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, log); err != nil {
		return fmt.Errorf("create audit log: %w", err)
	}
	return nil
}
