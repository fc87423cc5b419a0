package service

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/auth-api/internal/models"
	"github.com/noah-isme/auth-api/internal/repository"
	appErrors "github.com/noah-isme/auth-api/pkg/errors"
	"github.com/noah-isme/auth-api/pkg/secrets"
	"github.com/noah-isme/auth-api/pkg/token"
	"github.com/noah-isme/auth-api/pkg/validation"
)

const strongPassword = "Sup3r$ecret"

type mockAuthRepo struct {
	users         map[string]*models.User
	refreshTokens map[string]*models.RefreshToken
	auditLogs     []models.AuditLog
	nextID        int

	createErr    error
	deleteAllErr error
}

func newMockAuthRepo() *mockAuthRepo {
	return &mockAuthRepo{
		users:         make(map[string]*models.User),
		refreshTokens: make(map[string]*models.RefreshToken),
	}
}

func (m *mockAuthRepo) Create(ctx context.Context, user *models.User) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.nextID++
	user.ID = fmt.Sprintf("u%d", m.nextID)
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now
	cp := *user
	m.users[user.ID] = &cp
	return nil
}

func (m *mockAuthRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockAuthRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := m.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockAuthRepo) FindByVerifyToken(ctx context.Context, tok string) (*models.User, error) {
	for _, u := range m.users {
		if u.VerifyToken != nil && *u.VerifyToken == tok {
			cp := *u
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockAuthRepo) FindByResetToken(ctx context.Context, tok string) (*models.User, error) {
	for _, u := range m.users {
		if u.ResetToken != nil && *u.ResetToken == tok {
			cp := *u
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockAuthRepo) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	u, ok := m.users[id]
	if !ok {
		return sql.ErrNoRows
	}
	u.PasswordHash = passwordHash
	u.ResetToken = nil
	u.ResetExpiry = nil
	return nil
}

func (m *mockAuthRepo) SetVerifyToken(ctx context.Context, id, tok string, expiry time.Time) error {
	u, ok := m.users[id]
	if !ok {
		return sql.ErrNoRows
	}
	u.VerifyToken = &tok
	u.VerifyExpiry = &expiry
	return nil
}

func (m *mockAuthRepo) MarkEmailVerified(ctx context.Context, id string) error {
	u, ok := m.users[id]
	if !ok {
		return sql.ErrNoRows
	}
	u.EmailVerified = true
	u.VerifyToken = nil
	u.VerifyExpiry = nil
	return nil
}

func (m *mockAuthRepo) SetResetToken(ctx context.Context, id, tok string, expiry time.Time) error {
	u, ok := m.users[id]
	if !ok {
		return sql.ErrNoRows
	}
	u.ResetToken = &tok
	u.ResetExpiry = &expiry
	return nil
}

func (m *mockAuthRepo) CreateRefreshToken(ctx context.Context, rt *models.RefreshToken) error {
	m.nextID++
	rt.ID = fmt.Sprintf("rt%d", m.nextID)
	rt.CreatedAt = time.Now().UTC()
	cp := *rt
	m.refreshTokens[rt.Token] = &cp
	return nil
}

func (m *mockAuthRepo) FindRefreshToken(ctx context.Context, tok string) (*models.RefreshToken, error) {
	if rt, ok := m.refreshTokens[tok]; ok {
		cp := *rt
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockAuthRepo) DeleteRefreshToken(ctx context.Context, tok string) (int64, error) {
	if _, ok := m.refreshTokens[tok]; !ok {
		return 0, nil
	}
	delete(m.refreshTokens, tok)
	return 1, nil
}

func (m *mockAuthRepo) DeleteUserRefreshTokens(ctx context.Context, userID string) error {
	if m.deleteAllErr != nil {
		return m.deleteAllErr
	}
	for tok, rt := range m.refreshTokens {
		if rt.UserID == userID {
			delete(m.refreshTokens, tok)
		}
	}
	return nil
}

func (m *mockAuthRepo) CountUserRefreshTokens(ctx context.Context, userID string) (int, error) {
	count := 0
	for _, rt := range m.refreshTokens {
		if rt.UserID == userID {
			count++
		}
	}
	return count, nil
}

func (m *mockAuthRepo) CreateAuditLog(ctx context.Context, entry *models.AuditLog) error {
	m.auditLogs = append(m.auditLogs, *entry)
	return nil
}

type sentMail struct {
	kind  string
	email string
	token string
}

type recordingMailer struct {
	sent []sentMail
}

func (r *recordingMailer) SendVerificationEmail(ctx context.Context, email, name, token string) error {
	r.sent = append(r.sent, sentMail{kind: "verification", email: email, token: token})
	return nil
}

func (r *recordingMailer) SendPasswordResetEmail(ctx context.Context, email, name, token string) error {
	r.sent = append(r.sent, sentMail{kind: "password_reset", email: email, token: token})
	return nil
}

func (r *recordingMailer) SendPasswordChangedEmail(ctx context.Context, email, name string) error {
	r.sent = append(r.sent, sentMail{kind: "password_changed", email: email})
	return nil
}

func newTestAuthService(repo *mockAuthRepo, mail *recordingMailer) *AuthService {
	codec := token.NewCodec(token.Config{
		AccessSecret:  "access-secret",
		RefreshSecret: "refresh-secret",
		AccessExpiry:  15 * time.Minute,
		RefreshExpiry: 168 * time.Hour,
		Issuer:        "auth-api-test",
	})
	return NewAuthService(repo, codec, secrets.NewIssuer(), mail, validation.New(), zap.NewNop(), AuthConfig{
		VerifyTokenTTL: 24 * time.Hour,
		ResetTokenTTL:  time.Hour,
	})
}

func registerVerifiedUser(t *testing.T, svc *AuthService, repo *mockAuthRepo, email string) *models.PublicUser {
	t.Helper()
	user, err := svc.Register(context.Background(), models.RegisterRequest{
		Name:     "Test User",
		Email:    email,
		Password: strongPassword,
	})
	require.NoError(t, err)
	require.NoError(t, repo.MarkEmailVerified(context.Background(), user.ID))
	return user
}

func TestAuthServiceRegister(t *testing.T) {
	repo := newMockAuthRepo()
	mail := &recordingMailer{}
	svc := newTestAuthService(repo, mail)

	user, err := svc.Register(context.Background(), models.RegisterRequest{
		Name:     "Alice",
		Email:    "alice@example.com",
		Password: strongPassword,
	})
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.Equal(t, models.RoleUser, user.Role)
	assert.False(t, user.EmailVerified)

	stored := repo.users[user.ID]
	require.NotNil(t, stored)
	assert.NotEqual(t, strongPassword, stored.PasswordHash)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte(strongPassword)))
	require.NotNil(t, stored.VerifyToken)
	assert.Len(t, *stored.VerifyToken, 64)

	require.Len(t, mail.sent, 1)
	assert.Equal(t, "verification", mail.sent[0].kind)
	assert.Equal(t, *stored.VerifyToken, mail.sent[0].token)
}

func TestAuthServiceRegisterDuplicateEmail(t *testing.T) {
	repo := newMockAuthRepo()
	mail := &recordingMailer{}
	svc := newTestAuthService(repo, mail)

	_, err := svc.Register(context.Background(), models.RegisterRequest{
		Name: "Alice", Email: "alice@example.com", Password: strongPassword,
	})
	require.NoError(t, err)

	_, err = svc.Register(context.Background(), models.RegisterRequest{
		Name: "Imposter", Email: "alice@example.com", Password: strongPassword,
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict))
	assert.Len(t, repo.users, 1)
}

func TestAuthServiceRegisterRaceLoserGetsConflict(t *testing.T) {
	repo := newMockAuthRepo()
	mail := &recordingMailer{}
	svc := newTestAuthService(repo, mail)

	// A concurrent registration slipped in between the existence check and
	// the insert: the unique constraint surfaces as a conflict, not a 500.
	repo.createErr = fmt.Errorf("create user: %w", repository.ErrDuplicate)
	_, err := svc.Register(context.Background(), models.RegisterRequest{
		Name: "Alice", Email: "alice@example.com", Password: strongPassword,
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict))
	assert.Empty(t, mail.sent)
}

func TestAuthServiceRegisterWeakPassword(t *testing.T) {
	repo := newMockAuthRepo()
	svc := newTestAuthService(repo, &recordingMailer{})

	_, err := svc.Register(context.Background(), models.RegisterRequest{
		Name: "Alice", Email: "alice@example.com", Password: "password",
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
	assert.Empty(t, repo.users)
}

func TestAuthServiceVerifyEmail(t *testing.T) {
	repo := newMockAuthRepo()
	mail := &recordingMailer{}
	svc := newTestAuthService(repo, mail)

	user, err := svc.Register(context.Background(), models.RegisterRequest{
		Name: "Alice", Email: "alice@example.com", Password: strongPassword,
	})
	require.NoError(t, err)

	verifyToken := *repo.users[user.ID].VerifyToken
	require.NoError(t, svc.VerifyEmail(context.Background(), verifyToken))

	stored := repo.users[user.ID]
	assert.True(t, stored.EmailVerified)
	assert.Nil(t, stored.VerifyToken)
	assert.Nil(t, stored.VerifyExpiry)

	// Consuming the token again finds no match.
	err = svc.VerifyEmail(context.Background(), verifyToken)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidToken))
}

func TestAuthServiceVerifyEmailExpiredToken(t *testing.T) {
	repo := newMockAuthRepo()
	svc := newTestAuthService(repo, &recordingMailer{})

	user, err := svc.Register(context.Background(), models.RegisterRequest{
		Name: "Alice", Email: "alice@example.com", Password: strongPassword,
	})
	require.NoError(t, err)

	stored := repo.users[user.ID]
	past := time.Now().UTC().Add(-time.Minute)
	stored.VerifyExpiry = &past

	err = svc.VerifyEmail(context.Background(), *stored.VerifyToken)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrTokenExpired))
	assert.False(t, repo.users[user.ID].EmailVerified)
}

func TestAuthServiceVerifyEmailAlreadyVerified(t *testing.T) {
	repo := newMockAuthRepo()
	svc := newTestAuthService(repo, &recordingMailer{})

	user, err := svc.Register(context.Background(), models.RegisterRequest{
		Name: "Alice", Email: "alice@example.com", Password: strongPassword,
	})
	require.NoError(t, err)

	verifyToken := *repo.users[user.ID].VerifyToken
	repo.users[user.ID].EmailVerified = true

	err = svc.VerifyEmail(context.Background(), verifyToken)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrAlreadyVerified))
}

func TestAuthServiceResendVerificationRotatesToken(t *testing.T) {
	repo := newMockAuthRepo()
	mail := &recordingMailer{}
	svc := newTestAuthService(repo, mail)

	user, err := svc.Register(context.Background(), models.RegisterRequest{
		Name: "Alice", Email: "alice@example.com", Password: strongPassword,
	})
	require.NoError(t, err)
	first := *repo.users[user.ID].VerifyToken

	require.NoError(t, svc.ResendVerificationEmail(context.Background(), "alice@example.com"))
	second := *repo.users[user.ID].VerifyToken
	assert.NotEqual(t, first, second)

	// The superseded token no longer verifies.
	err = svc.VerifyEmail(context.Background(), first)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidToken))
	require.NoError(t, svc.VerifyEmail(context.Background(), second))
}

func TestAuthServiceResendVerificationUnknownEmail(t *testing.T) {
	repo := newMockAuthRepo()
	svc := newTestAuthService(repo, &recordingMailer{})

	err := svc.ResendVerificationEmail(context.Background(), "ghost@example.com")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestAuthServiceLogin(t *testing.T) {
	repo := newMockAuthRepo()
	mail := &recordingMailer{}
	svc := newTestAuthService(repo, mail)
	registerVerifiedUser(t, svc, repo, "alice@example.com")

	resp, err := svc.Login(context.Background(), models.LoginRequest{
		Email: "alice@example.com", Password: strongPassword,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Tokens.AccessToken)
	assert.NotEmpty(t, resp.Tokens.RefreshToken)
	assert.Equal(t, int64((15 * time.Minute).Seconds()), resp.ExpiresIn)
	assert.Equal(t, "alice@example.com", resp.User.Email)
	assert.Len(t, repo.refreshTokens, 1)

	claims, err := svc.ValidateAccessToken(resp.Tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, resp.User.ID, claims.UserID)
}

func TestAuthServiceLoginUnverifiedEmail(t *testing.T) {
	repo := newMockAuthRepo()
	svc := newTestAuthService(repo, &recordingMailer{})

	_, err := svc.Register(context.Background(), models.RegisterRequest{
		Name: "Alice", Email: "alice@example.com", Password: strongPassword,
	})
	require.NoError(t, err)

	_, err = svc.Login(context.Background(), models.LoginRequest{
		Email: "alice@example.com", Password: strongPassword,
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrEmailNotVerified))
	assert.Empty(t, repo.refreshTokens)
}

func TestAuthServiceLoginIndistinguishableFailures(t *testing.T) {
	repo := newMockAuthRepo()
	svc := newTestAuthService(repo, &recordingMailer{})
	registerVerifiedUser(t, svc, repo, "alice@example.com")

	_, unknownErr := svc.Login(context.Background(), models.LoginRequest{
		Email: "ghost@example.com", Password: strongPassword,
	})
	_, wrongErr := svc.Login(context.Background(), models.LoginRequest{
		Email: "alice@example.com", Password: "Wr0ng!Password",
	})

	require.Error(t, unknownErr)
	require.Error(t, wrongErr)
	assert.True(t, appErrors.Is(unknownErr, appErrors.ErrInvalidCredentials))
	assert.True(t, appErrors.Is(wrongErr, appErrors.ErrInvalidCredentials))
	// Same error, same message: the response cannot tell the two cases apart.
	assert.Equal(t, unknownErr.Error(), wrongErr.Error())
}

func TestAuthServiceRefreshRotation(t *testing.T) {
	repo := newMockAuthRepo()
	svc := newTestAuthService(repo, &recordingMailer{})
	registerVerifiedUser(t, svc, repo, "alice@example.com")

	resp, err := svc.Login(context.Background(), models.LoginRequest{
		Email: "alice@example.com", Password: strongPassword,
	})
	require.NoError(t, err)
	original := resp.Tokens.RefreshToken

	pair, err := svc.RefreshTokens(context.Background(), original)
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEqual(t, original, pair.RefreshToken)

	// The consumed token is gone; only the successor survives.
	assert.Len(t, repo.refreshTokens, 1)
	_, stillStored := repo.refreshTokens[original]
	assert.False(t, stillStored)

	// Replaying the consumed token fails.
	_, err = svc.RefreshTokens(context.Background(), original)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidToken))

	// The successor still works.
	_, err = svc.RefreshTokens(context.Background(), pair.RefreshToken)
	require.NoError(t, err)
}

func TestAuthServiceConcurrentLoginsGetDistinctTokens(t *testing.T) {
	repo := newMockAuthRepo()
	svc := newTestAuthService(repo, &recordingMailer{})
	registerVerifiedUser(t, svc, repo, "alice@example.com")

	// Back-to-back logins land in the same wall-clock second; each must
	// still mint its own refresh token and its own session row.
	first, err := svc.Login(context.Background(), models.LoginRequest{
		Email: "alice@example.com", Password: strongPassword,
	})
	require.NoError(t, err)
	second, err := svc.Login(context.Background(), models.LoginRequest{
		Email: "alice@example.com", Password: strongPassword,
	})
	require.NoError(t, err)

	assert.NotEqual(t, first.Tokens.RefreshToken, second.Tokens.RefreshToken)
	assert.Len(t, repo.refreshTokens, 2)
}

func TestAuthServiceRefreshUnknownToken(t *testing.T) {
	repo := newMockAuthRepo()
	svc := newTestAuthService(repo, &recordingMailer{})
	user := registerVerifiedUser(t, svc, repo, "alice@example.com")

	// A validly signed token that was never persisted (or already revoked)
	// must be rejected.
	codec := token.NewCodec(token.Config{
		AccessSecret:  "access-secret",
		RefreshSecret: "refresh-secret",
		RefreshExpiry: time.Hour,
	})
	orphan, _, err := codec.GenerateRefreshToken(user.ID, user.Email, string(user.Role))
	require.NoError(t, err)

	_, err = svc.RefreshTokens(context.Background(), orphan)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidToken))
}

func TestAuthServiceRefreshMalformedToken(t *testing.T) {
	repo := newMockAuthRepo()
	svc := newTestAuthService(repo, &recordingMailer{})

	_, err := svc.RefreshTokens(context.Background(), "not-a-jwt")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidToken))
}

func TestAuthServiceRefreshExpiredStoredToken(t *testing.T) {
	repo := newMockAuthRepo()
	svc := newTestAuthService(repo, &recordingMailer{})
	registerVerifiedUser(t, svc, repo, "alice@example.com")

	resp, err := svc.Login(context.Background(), models.LoginRequest{
		Email: "alice@example.com", Password: strongPassword,
	})
	require.NoError(t, err)

	stored := repo.refreshTokens[resp.Tokens.RefreshToken]
	stored.ExpiresAt = time.Now().UTC().Add(-time.Minute)

	_, err = svc.RefreshTokens(context.Background(), resp.Tokens.RefreshToken)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrTokenExpired))
	// The stale row was dropped.
	assert.Empty(t, repo.refreshTokens)
}

func TestAuthServiceLogout(t *testing.T) {
	repo := newMockAuthRepo()
	svc := newTestAuthService(repo, &recordingMailer{})
	registerVerifiedUser(t, svc, repo, "alice@example.com")

	resp, err := svc.Login(context.Background(), models.LoginRequest{
		Email: "alice@example.com", Password: strongPassword,
	})
	require.NoError(t, err)

	require.NoError(t, svc.Logout(context.Background(), resp.Tokens.RefreshToken))
	assert.Empty(t, repo.refreshTokens)

	// Logging out an already-revoked token is not an error.
	require.NoError(t, svc.Logout(context.Background(), resp.Tokens.RefreshToken))
}

func TestAuthServiceLogoutAllDevices(t *testing.T) {
	repo := newMockAuthRepo()
	svc := newTestAuthService(repo, &recordingMailer{})
	user := registerVerifiedUser(t, svc, repo, "alice@example.com")

	for i := 0; i < 3; i++ {
		_, err := svc.Login(context.Background(), models.LoginRequest{
			Email: "alice@example.com", Password: strongPassword,
		})
		require.NoError(t, err)
	}
	require.Len(t, repo.refreshTokens, 3)

	sessions, err := svc.ActiveSessions(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, sessions)

	require.NoError(t, svc.LogoutAllDevices(context.Background(), user.ID))
	assert.Empty(t, repo.refreshTokens)

	sessions, err = svc.ActiveSessions(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Zero(t, sessions)

	// Idempotent.
	require.NoError(t, svc.LogoutAllDevices(context.Background(), user.ID))
}

func TestAuthServiceForgotPasswordKnownEmail(t *testing.T) {
	repo := newMockAuthRepo()
	mail := &recordingMailer{}
	svc := newTestAuthService(repo, mail)
	user := registerVerifiedUser(t, svc, repo, "alice@example.com")
	mail.sent = nil

	msg, err := svc.ForgotPassword(context.Background(), "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, ForgotPasswordMessage, msg)

	stored := repo.users[user.ID]
	require.NotNil(t, stored.ResetToken)
	require.Len(t, mail.sent, 1)
	assert.Equal(t, "password_reset", mail.sent[0].kind)
	assert.Equal(t, *stored.ResetToken, mail.sent[0].token)
}

func TestAuthServiceForgotPasswordUnknownEmail(t *testing.T) {
	repo := newMockAuthRepo()
	mail := &recordingMailer{}
	svc := newTestAuthService(repo, mail)
	registerVerifiedUser(t, svc, repo, "alice@example.com")
	mail.sent = nil

	knownMsg, err := svc.ForgotPassword(context.Background(), "alice@example.com")
	require.NoError(t, err)
	unknownMsg, err := svc.ForgotPassword(context.Background(), "ghost@example.com")
	require.NoError(t, err)

	// Byte-identical messages; no mail and no token for the unknown email.
	assert.Equal(t, knownMsg, unknownMsg)
	assert.Len(t, mail.sent, 1)
	assert.Equal(t, "alice@example.com", mail.sent[0].email)
}

func TestAuthServiceResetPassword(t *testing.T) {
	repo := newMockAuthRepo()
	mail := &recordingMailer{}
	svc := newTestAuthService(repo, mail)
	user := registerVerifiedUser(t, svc, repo, "alice@example.com")

	resp, err := svc.Login(context.Background(), models.LoginRequest{
		Email: "alice@example.com", Password: strongPassword,
	})
	require.NoError(t, err)

	_, err = svc.ForgotPassword(context.Background(), "alice@example.com")
	require.NoError(t, err)
	resetToken := *repo.users[user.ID].ResetToken
	mail.sent = nil

	const newPassword = "N3w!Password"
	require.NoError(t, svc.ResetPassword(context.Background(), models.ResetPasswordRequest{
		Token:    resetToken,
		Password: newPassword,
	}))

	// Every session is invalidated, the token pair is cleared, the old
	// password stops working and the new one takes over.
	assert.Empty(t, repo.refreshTokens)
	assert.Nil(t, repo.users[user.ID].ResetToken)

	_, err = svc.RefreshTokens(context.Background(), resp.Tokens.RefreshToken)
	require.Error(t, err)

	_, err = svc.Login(context.Background(), models.LoginRequest{
		Email: "alice@example.com", Password: strongPassword,
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidCredentials))

	_, err = svc.Login(context.Background(), models.LoginRequest{
		Email: "alice@example.com", Password: newPassword,
	})
	require.NoError(t, err)

	require.Len(t, mail.sent, 1)
	assert.Equal(t, "password_changed", mail.sent[0].kind)
}

func TestAuthServiceResetPasswordSessionInvalidationFailure(t *testing.T) {
	repo := newMockAuthRepo()
	mail := &recordingMailer{}
	svc := newTestAuthService(repo, mail)
	user := registerVerifiedUser(t, svc, repo, "alice@example.com")

	_, err := svc.ForgotPassword(context.Background(), "alice@example.com")
	require.NoError(t, err)
	resetToken := *repo.users[user.ID].ResetToken
	mail.sent = nil

	// If the session purge fails the reset must not report success, or
	// sessions issued under the old password would silently survive.
	repo.deleteAllErr = fmt.Errorf("refresh token purge failed")
	err = svc.ResetPassword(context.Background(), models.ResetPasswordRequest{
		Token:    resetToken,
		Password: "N3w!Password",
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInternal))
	assert.Empty(t, mail.sent)
}

func TestAuthServiceResetPasswordExpiredToken(t *testing.T) {
	repo := newMockAuthRepo()
	svc := newTestAuthService(repo, &recordingMailer{})
	user := registerVerifiedUser(t, svc, repo, "alice@example.com")

	_, err := svc.ForgotPassword(context.Background(), "alice@example.com")
	require.NoError(t, err)

	stored := repo.users[user.ID]
	past := time.Now().UTC().Add(-time.Minute)
	stored.ResetExpiry = &past

	err = svc.ResetPassword(context.Background(), models.ResetPasswordRequest{
		Token:    *stored.ResetToken,
		Password: "N3w!Password",
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrTokenExpired))
}

func TestAuthServiceResetPasswordInvalidToken(t *testing.T) {
	repo := newMockAuthRepo()
	svc := newTestAuthService(repo, &recordingMailer{})

	err := svc.ResetPassword(context.Background(), models.ResetPasswordRequest{
		Token:    "deadbeef",
		Password: "N3w!Password",
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidToken))
}

func TestAuthServiceChangePassword(t *testing.T) {
	repo := newMockAuthRepo()
	mail := &recordingMailer{}
	svc := newTestAuthService(repo, mail)
	user := registerVerifiedUser(t, svc, repo, "alice@example.com")

	// Two sessions: both must die, including the caller's own.
	for i := 0; i < 2; i++ {
		_, err := svc.Login(context.Background(), models.LoginRequest{
			Email: "alice@example.com", Password: strongPassword,
		})
		require.NoError(t, err)
	}
	mail.sent = nil

	const newPassword = "N3w!Password"
	require.NoError(t, svc.ChangePassword(context.Background(), user.ID, models.ChangePasswordRequest{
		CurrentPassword: strongPassword,
		NewPassword:     newPassword,
	}))

	assert.Empty(t, repo.refreshTokens)
	_, err := svc.Login(context.Background(), models.LoginRequest{
		Email: "alice@example.com", Password: newPassword,
	})
	require.NoError(t, err)

	require.Len(t, mail.sent, 1)
	assert.Equal(t, "password_changed", mail.sent[0].kind)
}

func TestAuthServiceChangePasswordSessionInvalidationFailure(t *testing.T) {
	repo := newMockAuthRepo()
	mail := &recordingMailer{}
	svc := newTestAuthService(repo, mail)
	user := registerVerifiedUser(t, svc, repo, "alice@example.com")

	_, err := svc.Login(context.Background(), models.LoginRequest{
		Email: "alice@example.com", Password: strongPassword,
	})
	require.NoError(t, err)
	mail.sent = nil

	repo.deleteAllErr = fmt.Errorf("refresh token purge failed")
	err = svc.ChangePassword(context.Background(), user.ID, models.ChangePasswordRequest{
		CurrentPassword: strongPassword,
		NewPassword:     "N3w!Password",
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInternal))
	assert.Empty(t, mail.sent)
}

func TestAuthServiceChangePasswordWrongCurrent(t *testing.T) {
	repo := newMockAuthRepo()
	mail := &recordingMailer{}
	svc := newTestAuthService(repo, mail)
	user := registerVerifiedUser(t, svc, repo, "alice@example.com")

	_, err := svc.Login(context.Background(), models.LoginRequest{
		Email: "alice@example.com", Password: strongPassword,
	})
	require.NoError(t, err)
	mail.sent = nil

	err = svc.ChangePassword(context.Background(), user.ID, models.ChangePasswordRequest{
		CurrentPassword: "Wr0ng!Password",
		NewPassword:     "N3w!Password",
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidCredentials))

	// Nothing changed: session stays, no mail, old password still works.
	assert.Len(t, repo.refreshTokens, 1)
	assert.Empty(t, mail.sent)
	_, err = svc.Login(context.Background(), models.LoginRequest{
		Email: "alice@example.com", Password: strongPassword,
	})
	require.NoError(t, err)
}

func TestAuthServiceValidateAccessTokenRejectsRefreshToken(t *testing.T) {
	repo := newMockAuthRepo()
	svc := newTestAuthService(repo, &recordingMailer{})
	registerVerifiedUser(t, svc, repo, "alice@example.com")

	resp, err := svc.Login(context.Background(), models.LoginRequest{
		Email: "alice@example.com", Password: strongPassword,
	})
	require.NoError(t, err)

	_, err = svc.ValidateAccessToken(resp.Tokens.RefreshToken)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidToken))
}
