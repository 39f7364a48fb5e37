package token

import (
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Kind distinguishes access from refresh tokens.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

// Claims is the payload embedded in a signed token.
type Claims struct {
	SubjectID   string
	Username    string
	Authorities []string
	Issuer      string
	TokenID     string
	IssuedAt    time.Time
	ExpiresAt   time.Time
	// Kind is carried as a redundant "typ" claim. Tokens minted elsewhere may omit it.
	Kind Kind
}

// Subject is the minimal identity a token is minted for.
type Subject struct {
	ID          string
	Username    string
	Authorities []string
}

// NewClaims builds claims for a fresh token with a random id. Timestamps are truncated to
// the second so that the signed form round-trips exactly.
func NewClaims(subject Subject, issuer string, kind Kind, lifetime time.Duration, now time.Time) Claims {
	issuedAt := now.UTC().Truncate(time.Second)
	authorities := make([]string, len(subject.Authorities))
	copy(authorities, subject.Authorities)
	return Claims{
		SubjectID:   subject.ID,
		Username:    subject.Username,
		Authorities: authorities,
		Issuer:      issuer,
		TokenID:     uuid.NewString(),
		IssuedAt:    issuedAt,
		ExpiresAt:   issuedAt.Add(lifetime),
		Kind:        kind,
	}
}

// Lifetime returns ExpiresAt - IssuedAt.
func (c *Claims) Lifetime() time.Duration {
	return c.ExpiresAt.Sub(c.IssuedAt)
}

// wireClaims is the JSON shape of the token payload.
type wireClaims struct {
	Username    string   `json:"username"`
	Authorities []string `json:"authorities"`
	Type        Kind     `json:"typ,omitempty"`
	jwt.RegisteredClaims
}

func toWire(c Claims) wireClaims {
	return wireClaims{
		Username:    c.Username,
		Authorities: c.Authorities,
		Type:        c.Kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.Issuer,
			Subject:   c.SubjectID,
			ID:        c.TokenID,
			IssuedAt:  jwt.NewNumericDate(c.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(c.ExpiresAt),
		},
	}
}

func (w *wireClaims) toClaims() *Claims {
	claims := &Claims{
		SubjectID:   w.Subject,
		Username:    w.Username,
		Authorities: w.Authorities,
		Issuer:      w.Issuer,
		TokenID:     w.ID,
		Kind:        w.Type,
	}
	if w.IssuedAt != nil {
		claims.IssuedAt = w.IssuedAt.Time.UTC()
	}
	if w.ExpiresAt != nil {
		claims.ExpiresAt = w.ExpiresAt.Time.UTC()
	}
	return claims
}
