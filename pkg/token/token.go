package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Sentinel verification failures. Callers branch on these: an expired token
// should prompt a refresh or re-login, an invalid one is rejected outright.
var (
	ErrExpired = errors.New("token expired")
	ErrInvalid = errors.New("token invalid")
)

// Claims is the signed payload carried by both token classes.
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Config carries signing material and lifetimes for the codec.
type Config struct {
	AccessSecret  string
	RefreshSecret string
	AccessExpiry  time.Duration
	RefreshExpiry time.Duration
	Issuer        string
}

// Codec signs and verifies access and refresh tokens. Each class is signed
// with its own secret so compromise of one does not compromise the other.
type Codec struct {
	cfg Config
}

// NewCodec builds a Codec, applying the default 15m/168h lifetimes when unset.
func NewCodec(cfg Config) *Codec {
	if cfg.AccessExpiry == 0 {
		cfg.AccessExpiry = 15 * time.Minute
	}
	if cfg.RefreshExpiry == 0 {
		cfg.RefreshExpiry = 7 * 24 * time.Hour
	}
	return &Codec{cfg: cfg}
}

// AccessExpiry exposes the configured access-token lifetime.
func (c *Codec) AccessExpiry() time.Duration { return c.cfg.AccessExpiry }

// RefreshExpiry exposes the configured refresh-token lifetime.
func (c *Codec) RefreshExpiry() time.Duration { return c.cfg.RefreshExpiry }

// GenerateAccessToken signs a short-lived token authorising API calls.
func (c *Codec) GenerateAccessToken(userID, email, role string) (string, time.Time, error) {
	return c.generate(userID, email, role, c.cfg.AccessSecret, c.cfg.AccessExpiry)
}

// GenerateRefreshToken signs a longer-lived token used only to mint new pairs.
func (c *Codec) GenerateRefreshToken(userID, email, role string) (string, time.Time, error) {
	return c.generate(userID, email, role, c.cfg.RefreshSecret, c.cfg.RefreshExpiry)
}

// VerifyAccessToken validates an access token and returns its claims.
func (c *Codec) VerifyAccessToken(tokenString string) (*Claims, error) {
	return c.verify(tokenString, c.cfg.AccessSecret)
}

// VerifyRefreshToken validates a refresh token and returns its claims.
func (c *Codec) VerifyRefreshToken(tokenString string) (*Claims, error) {
	return c.verify(tokenString, c.cfg.RefreshSecret)
}

func (c *Codec) generate(userID, email, role, secret string, ttl time.Duration) (string, time.Time, error) {
	issuedAt := time.Now().UTC()
	expiresAt := issuedAt.Add(ttl)
	claims := &Claims{
		UserID: userID,
		Email:  email,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			// jti makes every issuance unique: iat/exp have second
			// granularity, so without it two tokens minted in the same
			// second for the same account would be identical strings.
			ID:        uuid.NewString(),
			Issuer:    c.cfg.Issuer,
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

func (c *Codec) verify(tokenString, secret string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, ErrInvalid
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalid
	}

	return claims, nil
}
