package secrets

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// tokenBytes yields 256 bits of randomness per issued secret. Collisions are
// negligible; the store's unique constraint is the backstop, not the defense.
const tokenBytes = 32

// Issuer generates opaque one-time secrets for the verification and password
// reset flows. The secrets carry no payload; their meaning exists only via
// the store row they key.
type Issuer struct{}

// NewIssuer returns a ready Issuer.
func NewIssuer() *Issuer {
	return &Issuer{}
}

// Issue returns a hex-encoded random secret and its expiry horizon.
func (i *Issuer) Issue(ttl time.Duration) (string, time.Time, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", time.Time{}, fmt.Errorf("issue secret: %w", err)
	}
	return hex.EncodeToString(buf), time.Now().UTC().Add(ttl), nil
}
