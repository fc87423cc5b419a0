package models

import "time"

// UserRole is the closed set of account roles.
type UserRole string

const (
	RoleUser  UserRole = "USER"
	RoleAdmin UserRole = "ADMIN"
)

// Valid reports whether the role is a known member of the enum.
func (r UserRole) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// User represents an account stored in the users table. The one-time token
// pairs are non-null only while their flow is pending and are cleared
// atomically with the state change they authorise.
type User struct {
	ID            string     `db:"id" json:"id"`
	Name          string     `db:"name" json:"name"`
	Email         string     `db:"email" json:"email"`
	PasswordHash  string     `db:"password_hash" json:"-"`
	Role          UserRole   `db:"role" json:"role"`
	EmailVerified bool       `db:"email_verified" json:"email_verified"`
	VerifyToken   *string    `db:"verify_token" json:"-"`
	VerifyExpiry  *time.Time `db:"verify_expiry" json:"-"`
	ResetToken    *string    `db:"reset_token" json:"-"`
	ResetExpiry   *time.Time `db:"reset_expiry" json:"-"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// PublicUser is the sanitized account representation exposed to callers.
// It never carries the password hash or one-time secrets.
type PublicUser struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	Role          UserRole  `json:"role"`
	EmailVerified bool      `json:"email_verified"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Sanitize strips all secret fields from the account.
func (u *User) Sanitize() PublicUser {
	return PublicUser{
		ID:            u.ID,
		Name:          u.Name,
		Email:         u.Email,
		Role:          u.Role,
		EmailVerified: u.EmailVerified,
		CreatedAt:     u.CreatedAt,
		UpdatedAt:     u.UpdatedAt,
	}
}

// UserFilter captures pagination criteria for listing users.
type UserFilter struct {
	Page     int
	PageSize int
}
