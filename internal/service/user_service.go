package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/auth-api/internal/models"
	appErrors "github.com/noah-isme/auth-api/pkg/errors"
	"github.com/noah-isme/auth-api/pkg/response"
)

type userRepository interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	UpdateName(ctx context.Context, id, name string) error
	UpdateRole(ctx context.Context, id string, role models.UserRole) error
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	Delete(ctx context.Context, id string) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// UserService handles profile and admin user-management workflows.
type UserService struct {
	repo      userRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewUserService creates an instance of UserService.
func NewUserService(repo userRepository, validate *validator.Validate, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &UserService{repo: repo, validator: validate, logger: logger}
}

// GetProfile returns the sanitized account for the given ID.
func (s *UserService) GetProfile(ctx context.Context, userID string) (*models.PublicUser, error) {
	user, err := s.findUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	sanitized := user.Sanitize()
	return &sanitized, nil
}

// UpdateProfile mutates the display name.
func (s *UserService) UpdateProfile(ctx context.Context, userID string, req models.UpdateProfileRequest) (*models.PublicUser, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid profile payload")
	}

	user, err := s.findUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if err := s.repo.UpdateName(ctx, userID, req.Name); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update profile")
	}

	user.Name = req.Name
	sanitized := user.Sanitize()
	return &sanitized, nil
}

// List returns a page of sanitized users ordered by creation time
// descending, plus pagination metadata.
func (s *UserService) List(ctx context.Context, filter models.UserFilter) ([]models.PublicUser, *response.Pagination, error) {
	users, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list users")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 10
	}

	sanitized := make([]models.PublicUser, 0, len(users))
	for i := range users {
		sanitized = append(sanitized, users[i].Sanitize())
	}

	totalPages := total / pageSize
	if total%pageSize != 0 {
		totalPages++
	}

	return sanitized, &response.Pagination{
		Page:       page,
		PageSize:   pageSize,
		TotalCount: total,
		TotalPages: totalPages,
	}, nil
}

// Get returns a sanitized user by ID (admin path).
func (s *UserService) Get(ctx context.Context, userID string) (*models.PublicUser, error) {
	return s.GetProfile(ctx, userID)
}

// UpdateRole changes an account's role.
func (s *UserService) UpdateRole(ctx context.Context, userID string, req models.UpdateRoleRequest, actorID string) (*models.PublicUser, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid role payload")
	}
	if !req.Role.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown role")
	}

	user, err := s.findUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if err := s.repo.UpdateRole(ctx, userID, req.Role); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update role")
	}

	s.auditUser(ctx, actorID, models.AuditActionRoleChange, userID)

	user.Role = req.Role
	sanitized := user.Sanitize()
	return &sanitized, nil
}

// Delete removes a user via the admin path. Admins may not delete their own
// account this way; self-deletion goes through DeleteOwnAccount.
func (s *UserService) Delete(ctx context.Context, userID, requestingUserID string) error {
	if userID == requestingUserID {
		return appErrors.Clone(appErrors.ErrForbidden, "cannot delete own account via admin path")
	}

	if _, err := s.findUser(ctx, userID); err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, userID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete user")
	}

	s.auditUser(ctx, requestingUserID, models.AuditActionUserDelete, userID)
	return nil
}

// DeleteOwnAccount removes the caller's account and every refresh token it
// owns.
func (s *UserService) DeleteOwnAccount(ctx context.Context, userID string) error {
	if _, err := s.findUser(ctx, userID); err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, userID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete account")
	}

	s.auditUser(ctx, userID, models.AuditActionUserDelete, userID)
	return nil
}

func (s *UserService) findUser(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	return user, nil
}

func (s *UserService) auditUser(ctx context.Context, actorID, action, targetID string) {
	entry := &models.AuditLog{
		UserID:     &actorID,
		Action:     action,
		Resource:   "users",
		ResourceID: &targetID,
	}
	if err := s.repo.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", action), zap.Error(err))
	}
}
