// Package credential owns the active API key and the previous key while it
// is inside its post-rotation grace window.
package credential

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/newthinker/tinkclaw/internal/quota"
)

// DefaultGraceWindow is how long a rotated-out key stays valid.
const DefaultGraceWindow = 24 * time.Hour

// Credential is an API key plus its budget metadata. Secret is never
// logged; use ID for identification.
type Credential struct {
	ID             string     `json:"id"`
	Secret         string     `json:"secret"`
	Tier           quota.Tier `json:"tier"`
	DailyLimit     int        `json:"daily_limit"`
	CreatedAt      time.Time  `json:"created_at"`
	RotatedFrom    string     `json:"rotated_from,omitempty"`
	SupersededBy   string     `json:"superseded_by,omitempty"`
	GraceExpiresAt time.Time  `json:"grace_expires_at,omitempty"`
}

// New builds a credential for secret. An empty tier is inferred from the
// key prefix.
func New(secret string, tier quota.Tier, limits quota.Limits, now time.Time) Credential {
	if tier == "" {
		tier = quota.TierFromKey(secret)
	}
	if limits == nil {
		limits = quota.DefaultLimits()
	}
	return Credential{
		ID:         IdentityOf(secret, tier),
		Secret:     secret,
		Tier:       tier,
		DailyLimit: limits.For(tier),
		CreatedAt:  now,
	}
}

// IdentityOf derives a stable, non-secret identity for a key.
func IdentityOf(secret string, tier quota.Tier) string {
	sum := sha256.Sum256([]byte(secret))
	return fmt.Sprintf("%s-%s", tier, hex.EncodeToString(sum[:])[:12])
}

// IsZero reports whether c is unset.
func (c Credential) IsZero() bool {
	return c.Secret == ""
}

// Superseded reports whether c has been rotated out.
func (c Credential) Superseded() bool {
	return c.SupersededBy != ""
}

// GraceElapsed reports whether a superseded credential is past its cutoff.
func (c Credential) GraceElapsed(now time.Time) bool {
	return c.Superseded() && !now.Before(c.GraceExpiresAt)
}

// Redacted returns the secret with all but a short prefix masked.
func (c Credential) Redacted() string {
	if len(c.Secret) <= 12 {
		return "****"
	}
	return c.Secret[:12] + "****"
}

// String omits the secret.
func (c Credential) String() string {
	return c.ID
}
