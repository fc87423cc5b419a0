package models

import "time"

// RefreshToken represents a persisted refresh-token session. The token
// string is unique; rotation deletes the row before issuing a successor, so
// a consumed token can never be replayed.
type RefreshToken struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"user_id"`
	Token     string    `db:"token" json:"-"`
	ExpiresAt time.Time `db:"expires_at" json:"expires_at"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
