package token

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

var (
	// ErrExpired reports a token whose exp has passed.
	ErrExpired = errors.New("token expired")
	// ErrTampered reports a token whose signature does not verify against the current public key.
	ErrTampered = errors.New("token signature invalid")
	// ErrMalformed reports a token that is not a well-formed claim set.
	ErrMalformed = errors.New("token malformed")
	// ErrIssuerMismatch reports a validly signed token from another issuer.
	ErrIssuerMismatch = errors.New("token issuer mismatch")
	// ErrWrongType reports an access token presented where a refresh token is required, or vice versa.
	ErrWrongType = errors.New("wrong token type")
)

// KeySource supplies key material. Verify-only sources return an error from PrivateKey.
type KeySource interface {
	PublicKey() (*rsa.PublicKey, error)
	PrivateKey() (*rsa.PrivateKey, error)
}

// Codec signs and parses RS256 tokens.
type Codec struct {
	keys   KeySource
	method jwt.SigningMethod
	now    func() time.Time
}

// NewCodec builds a codec over the given key source.
func NewCodec(keys KeySource) *Codec {
	return &Codec{keys: keys, method: jwt.SigningMethodRS256, now: time.Now}
}

// Sign serializes claims into a compact signed token.
func (c *Codec) Sign(claims Claims) (string, error) {
	priv, err := c.keys.PrivateKey()
	if err != nil {
		return "", err
	}
	signed, err := jwt.NewWithClaims(c.method, toWire(claims)).SignedString(priv)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Parse validates the signature and structure of a token and returns its claims.
// Token failures are reported as ErrExpired, ErrTampered or ErrMalformed.
func (c *Codec) Parse(tokenStr string) (*Claims, error) {
	pub, err := c.keys.PublicKey()
	if err != nil {
		return nil, err
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(c.now),
	)

	var wire wireClaims
	parsed, err := parser.ParseWithClaims(tokenStr, &wire, func(*jwt.Token) (interface{}, error) {
		return pub, nil
	})
	if err != nil {
		return nil, c.classify(tokenStr, err)
	}
	if !parsed.Valid {
		return nil, ErrMalformed
	}

	claims := wire.toClaims()
	if claims.TokenID == "" || claims.SubjectID == "" || claims.IssuedAt.IsZero() {
		return nil, fmt.Errorf("%w: missing required claim", ErrMalformed)
	}
	return claims, nil
}

func (c *Codec) classify(tokenStr string, err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrExpired, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		// Expiry wins over signature failure.
		if c.expiredUnverified(tokenStr) {
			return fmt.Errorf("%w: %v", ErrExpired, err)
		}
		return fmt.Errorf("%w: %v", ErrTampered, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}

func (c *Codec) expiredUnverified(tokenStr string) bool {
	var wire wireClaims
	if _, _, err := jwt.NewParser().ParseUnverified(tokenStr, &wire); err != nil {
		return false
	}
	return wire.ExpiresAt != nil && !c.now().Before(wire.ExpiresAt.Time)
}
