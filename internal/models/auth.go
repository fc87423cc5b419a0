package models

import "time"

// RegisterRequest creates a new unverified account.
type RegisterRequest struct {
	Name     string   `json:"name" validate:"required,min=2,max=50"`
	Email    string   `json:"email" validate:"required,email"`
	Password string   `json:"password" validate:"required,password"`
	Role     UserRole `json:"role" validate:"omitempty,oneof=USER ADMIN"`
}

// LoginRequest holds credentials for authenticating a user.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// TokenPair is an issued access/refresh token pair.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// LoginResponse returns the issued tokens and the sanitized account.
type LoginResponse struct {
	Tokens    TokenPair  `json:"tokens"`
	User      PublicUser `json:"user"`
	ExpiresIn int64      `json:"expires_in"`
	IssuedAt  time.Time  `json:"issued_at"`
}

// RefreshRequest exchanges a refresh token for a new pair.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// ResendVerificationRequest re-issues the verification secret.
type ResendVerificationRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ForgotPasswordRequest initiates the reset flow.
type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ResetPasswordRequest completes the reset flow.
type ResetPasswordRequest struct {
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required,password"`
}

// ChangePasswordRequest updates the password of an authenticated user.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,password"`
}

// UpdateProfileRequest mutates profile attributes.
type UpdateProfileRequest struct {
	Name string `json:"name" validate:"required,min=2,max=50"`
}

// UpdateRoleRequest changes an account's role (admin only).
type UpdateRoleRequest struct {
	Role UserRole `json:"role" validate:"required,oneof=USER ADMIN"`
}
