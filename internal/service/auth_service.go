package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/auth-api/internal/models"
	"github.com/noah-isme/auth-api/internal/repository"
	appErrors "github.com/noah-isme/auth-api/pkg/errors"
	"github.com/noah-isme/auth-api/pkg/mailer"
	"github.com/noah-isme/auth-api/pkg/secrets"
	"github.com/noah-isme/auth-api/pkg/token"
)

// passwordHashCost matches the adaptive-hash cost factor required for stored
// credentials.
const passwordHashCost = 12

// ForgotPasswordMessage is returned for every forgot-password request,
// registered email or not, so responses cannot be used to probe for account
// existence. Byte-identical in both branches.
const ForgotPasswordMessage = "If that email is registered, a password reset link has been sent."

type authUserRepository interface {
	Create(ctx context.Context, user *models.User) error
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByVerifyToken(ctx context.Context, token string) (*models.User, error)
	FindByResetToken(ctx context.Context, token string) (*models.User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	SetVerifyToken(ctx context.Context, id, token string, expiry time.Time) error
	MarkEmailVerified(ctx context.Context, id string) error
	SetResetToken(ctx context.Context, id, token string, expiry time.Time) error
	CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error
	FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error)
	DeleteRefreshToken(ctx context.Context, token string) (int64, error)
	DeleteUserRefreshTokens(ctx context.Context, userID string) error
	CountUserRefreshTokens(ctx context.Context, userID string) (int, error)
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// AuthConfig bounds the one-time secret flows.
type AuthConfig struct {
	VerifyTokenTTL time.Duration
	ResetTokenTTL  time.Duration
}

// AuthService orchestrates the credential lifecycle: registration with email
// verification, login, refresh rotation, logout and the password flows. It
// holds no mutable shared state; all coordination lives in the store.
type AuthService struct {
	repo      authUserRepository
	codec     *token.Codec
	issuer    *secrets.Issuer
	mailer    mailer.Mailer
	validator *validator.Validate
	logger    *zap.Logger
	config    AuthConfig
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(repo authUserRepository, codec *token.Codec, issuer *secrets.Issuer, mail mailer.Mailer, validate *validator.Validate, logger *zap.Logger, config AuthConfig) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if config.VerifyTokenTTL <= 0 {
		config.VerifyTokenTTL = 24 * time.Hour
	}
	if config.ResetTokenTTL <= 0 {
		config.ResetTokenTTL = time.Hour
	}
	return &AuthService{
		repo:      repo,
		codec:     codec,
		issuer:    issuer,
		mailer:    mail,
		validator: validate,
		logger:    logger,
		config:    config,
	}
}

// Register creates a new unverified account and dispatches the verification
// email. A duplicate email yields a conflict, never a second account.
func (s *AuthService) Register(ctx context.Context, req models.RegisterRequest) (*models.PublicUser, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid register payload")
	}

	if _, err := s.repo.FindByEmail(ctx, req.Email); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "email is already registered")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check email uniqueness")
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), passwordHashCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	verifyToken, verifyExpiry, err := s.issuer.Issue(s.config.VerifyTokenTTL)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to issue verification token")
	}

	role := req.Role
	if role == "" {
		role = models.RoleUser
	}

	user := &models.User{
		Name:          req.Name,
		Email:         req.Email,
		PasswordHash:  string(passwordHash),
		Role:          role,
		EmailVerified: false,
		VerifyToken:   &verifyToken,
		VerifyExpiry:  &verifyExpiry,
	}

	if err := s.repo.Create(ctx, user); err != nil {
		// A registration racing this one past the existence check loses
		// on the unique constraint instead.
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "email is already registered")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create user")
	}

	s.audit(ctx, &user.ID, models.AuditActionRegister, user.ID)

	if err := s.mailer.SendVerificationEmail(ctx, user.Email, user.Name, verifyToken); err != nil {
		s.logger.Warn("failed to dispatch verification email", zap.String("user_id", user.ID), zap.Error(err))
	}

	sanitized := user.Sanitize()
	return &sanitized, nil
}

// VerifyEmail consumes a verification token, marking the account verified
// and clearing the token pair atomically.
func (s *AuthService) VerifyEmail(ctx context.Context, verifyToken string) error {
	user, err := s.repo.FindByVerifyToken(ctx, verifyToken)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrInvalidToken, "verification token is invalid")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up verification token")
	}

	if user.EmailVerified {
		return appErrors.Clone(appErrors.ErrAlreadyVerified, "")
	}
	if user.VerifyExpiry != nil && user.VerifyExpiry.Before(time.Now().UTC()) {
		return appErrors.Clone(appErrors.ErrTokenExpired, "verification token has expired, request a new one")
	}

	if err := s.repo.MarkEmailVerified(ctx, user.ID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark email verified")
	}

	s.audit(ctx, &user.ID, models.AuditActionEmailVerify, user.ID)
	return nil
}

// ResendVerificationEmail issues a fresh verification secret, invalidating
// any prior one, and re-dispatches the mail. Unlike ForgotPassword this
// reveals whether the email exists; the asymmetry is preserved from the
// observed behaviour and flagged for product review.
func (s *AuthService) ResendVerificationEmail(ctx context.Context, email string) error {
	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "email is not registered")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up user")
	}

	if user.EmailVerified {
		return appErrors.Clone(appErrors.ErrAlreadyVerified, "")
	}

	verifyToken, verifyExpiry, err := s.issuer.Issue(s.config.VerifyTokenTTL)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to issue verification token")
	}

	if err := s.repo.SetVerifyToken(ctx, user.ID, verifyToken, verifyExpiry); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store verification token")
	}

	if err := s.mailer.SendVerificationEmail(ctx, user.Email, user.Name, verifyToken); err != nil {
		s.logger.Warn("failed to dispatch verification email", zap.String("user_id", user.ID), zap.Error(err))
	}

	return nil
}

// Login authenticates a user and issues a token pair. Unknown email and
// wrong password produce the same error so responses cannot be used to
// enumerate accounts.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}

	user, err := s.repo.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
	}

	if !user.EmailVerified {
		return nil, appErrors.Clone(appErrors.ErrEmailNotVerified, "verify your email before logging in")
	}

	pair, err := s.issueTokenPair(ctx, user)
	if err != nil {
		return nil, err
	}

	s.audit(ctx, &user.ID, models.AuditActionLogin, user.ID)

	return &models.LoginResponse{
		Tokens:    *pair,
		User:      user.Sanitize(),
		ExpiresIn: int64(s.codec.AccessExpiry().Seconds()),
		IssuedAt:  time.Now().UTC(),
	}, nil
}

// RefreshTokens rotates a refresh token: the consumed row is deleted before
// its successor is issued, so replaying a consumed token always fails. Of
// two concurrent calls with the same token, only the one that observes the
// deletion proceeds.
func (s *AuthService) RefreshTokens(ctx context.Context, refreshToken string) (*models.TokenPair, error) {
	claims, err := s.codec.VerifyRefreshToken(refreshToken)
	if err != nil {
		if errors.Is(err, token.ErrExpired) {
			// The embedded expiry matches the stored one; drop the stale row.
			if _, delErr := s.repo.DeleteRefreshToken(ctx, refreshToken); delErr != nil {
				s.logger.Warn("failed to delete expired refresh token", zap.Error(delErr))
			}
			return nil, appErrors.Clone(appErrors.ErrTokenExpired, "session has expired, log in again")
		}
		return nil, appErrors.Clone(appErrors.ErrInvalidToken, "refresh token is invalid")
	}

	stored, err := s.repo.FindRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidToken, "refresh token is invalid")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch refresh token")
	}

	if stored.ExpiresAt.Before(time.Now().UTC()) {
		if _, delErr := s.repo.DeleteRefreshToken(ctx, refreshToken); delErr != nil {
			s.logger.Warn("failed to delete expired refresh token", zap.Error(delErr))
		}
		return nil, appErrors.Clone(appErrors.ErrTokenExpired, "session has expired, log in again")
	}

	// Single-use rotation. The rows-affected count is the synchronization
	// primitive: a concurrent caller that lost the race sees zero rows.
	affected, err := s.repo.DeleteRefreshToken(ctx, refreshToken)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to consume refresh token")
	}
	if affected == 0 {
		return nil, appErrors.Clone(appErrors.ErrInvalidToken, "refresh token is invalid")
	}

	user, err := s.repo.FindByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user no longer exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}

	return s.issueTokenPair(ctx, user)
}

// Logout deletes the refresh token if present. It never fails merely
// because the session was already gone.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	if _, err := s.repo.DeleteRefreshToken(ctx, refreshToken); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete refresh token")
	}
	s.audit(ctx, nil, models.AuditActionLogout, "")
	return nil
}

// LogoutAllDevices deletes every refresh token for the account. Idempotent.
func (s *AuthService) LogoutAllDevices(ctx context.Context, userID string) error {
	if err := s.repo.DeleteUserRefreshTokens(ctx, userID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete refresh tokens")
	}
	s.audit(ctx, &userID, models.AuditActionLogoutAll, userID)
	return nil
}

// ForgotPassword initiates the reset flow. The response message is the same
// whether or not the email is registered; for an unknown email nothing
// observable happens.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) (string, error) {
	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ForgotPasswordMessage, nil
		}
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up user")
	}

	resetToken, resetExpiry, err := s.issuer.Issue(s.config.ResetTokenTTL)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to issue reset token")
	}

	if err := s.repo.SetResetToken(ctx, user.ID, resetToken, resetExpiry); err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store reset token")
	}

	if err := s.mailer.SendPasswordResetEmail(ctx, user.Email, user.Name, resetToken); err != nil {
		s.logger.Warn("failed to dispatch password reset email", zap.String("user_id", user.ID), zap.Error(err))
	}

	return ForgotPasswordMessage, nil
}

// ResetPassword consumes a reset token, stores the new password and
// invalidates every session for the account.
func (s *AuthService) ResetPassword(ctx context.Context, req models.ResetPasswordRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid reset password payload")
	}

	user, err := s.repo.FindByResetToken(ctx, req.Token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrInvalidToken, "password reset token is invalid")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up reset token")
	}

	if user.ResetExpiry != nil && user.ResetExpiry.Before(time.Now().UTC()) {
		return appErrors.Clone(appErrors.ErrTokenExpired, "reset token has expired, request a new one")
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), passwordHashCost)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	if err := s.repo.UpdatePassword(ctx, user.ID, string(passwordHash)); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update password")
	}

	// A leaked session must not survive a credential change; unlike the
	// notification mails below, this write is part of the contract.
	if err := s.repo.DeleteUserRefreshTokens(ctx, user.ID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to invalidate sessions")
	}

	s.audit(ctx, &user.ID, models.AuditActionPasswordReset, user.ID)

	if err := s.mailer.SendPasswordChangedEmail(ctx, user.Email, user.Name); err != nil {
		s.logger.Warn("failed to dispatch password changed email", zap.String("user_id", user.ID), zap.Error(err))
	}

	return nil
}

// ChangePassword updates the password of an authenticated user after
// verifying the current one, then invalidates every session including the
// caller's own.
func (s *AuthService) ChangePassword(ctx context.Context, userID string, req models.ChangePasswordRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid change password payload")
	}

	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.CurrentPassword)); err != nil {
		return appErrors.Clone(appErrors.ErrInvalidCredentials, "current password is incorrect")
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), passwordHashCost)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	if err := s.repo.UpdatePassword(ctx, userID, string(passwordHash)); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update password")
	}

	if err := s.repo.DeleteUserRefreshTokens(ctx, userID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to invalidate sessions")
	}

	s.audit(ctx, &userID, models.AuditActionPasswordChange, userID)

	if err := s.mailer.SendPasswordChangedEmail(ctx, user.Email, user.Name); err != nil {
		s.logger.Warn("failed to dispatch password changed email", zap.String("user_id", userID), zap.Error(err))
	}

	return nil
}

// ActiveSessions returns the number of live refresh-token sessions for an
// account.
func (s *AuthService) ActiveSessions(ctx context.Context, userID string) (int, error) {
	count, err := s.repo.CountUserRefreshTokens(ctx, userID)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count sessions")
	}
	return count, nil
}

// ValidateAccessToken parses and validates an access token for middleware.
func (s *AuthService) ValidateAccessToken(tokenString string) (*token.Claims, error) {
	claims, err := s.codec.VerifyAccessToken(tokenString)
	if err != nil {
		if errors.Is(err, token.ErrExpired) {
			return nil, appErrors.Clone(appErrors.ErrTokenExpired, "access token has expired")
		}
		return nil, appErrors.Clone(appErrors.ErrInvalidToken, "access token is invalid")
	}
	return claims, nil
}

func (s *AuthService) issueTokenPair(ctx context.Context, user *models.User) (*models.TokenPair, error) {
	accessToken, _, err := s.codec.GenerateAccessToken(user.ID, user.Email, string(user.Role))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create access token")
	}

	refreshToken, refreshExpiry, err := s.codec.GenerateRefreshToken(user.ID, user.Email, string(user.Role))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create refresh token")
	}

	if err := s.repo.CreateRefreshToken(ctx, &models.RefreshToken{
		UserID:    user.ID,
		Token:     refreshToken,
		ExpiresAt: refreshExpiry,
	}); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist refresh token")
	}

	return &models.TokenPair{AccessToken: accessToken, RefreshToken: refreshToken}, nil
}

func (s *AuthService) audit(ctx context.Context, userID *string, action, resourceID string) {
	entry := &models.AuditLog{
		UserID:   userID,
		Action:   action,
		Resource: "auth",
	}
	if resourceID != "" {
		entry.ResourceID = &resourceID
	}
	if err := s.repo.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", action), zap.Error(err))
	}
}
