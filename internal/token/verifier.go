package token

import (
	"errors"
	"fmt"
	"time"
)

// VerifierConfig carries the issuer and the two configured lifetimes.
type VerifierConfig struct {
	Issuer          string
	AccessLifetime  time.Duration
	RefreshLifetime time.Duration
}

// Verifier adds issuer checks and type classification on top of a Codec.
type Verifier struct {
	codec *Codec
	cfg   VerifierConfig
}

// NewVerifier validates the configuration. Equal lifetimes would make access and refresh
// tokens indistinguishable, so they are rejected.
func NewVerifier(codec *Codec, cfg VerifierConfig) (*Verifier, error) {
	if codec == nil {
		return nil, errors.New("codec is required")
	}
	if cfg.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if cfg.AccessLifetime <= 0 || cfg.RefreshLifetime <= 0 {
		return nil, errors.New("token lifetimes must be positive")
	}
	if cfg.AccessLifetime == cfg.RefreshLifetime {
		return nil, fmt.Errorf("access and refresh lifetimes collide (%s)", cfg.AccessLifetime)
	}
	return &Verifier{codec: codec, cfg: cfg}, nil
}

// Config returns the verifier configuration.
func (v *Verifier) Config() VerifierConfig {
	return v.cfg
}

// Verify parses the token and checks its issuer. Revocation state is not consulted.
func (v *Verifier) Verify(tokenStr string) (*Claims, error) {
	claims, err := v.codec.Parse(tokenStr)
	if err != nil {
		return nil, err
	}
	if claims.Issuer != v.cfg.Issuer {
		return nil, fmt.Errorf("%w: got %q", ErrIssuerMismatch, claims.Issuer)
	}
	return claims, nil
}

// KindOf classifies claims by exact equality of exp-iat with the refresh lifetime.
func (v *Verifier) KindOf(claims *Claims) Kind {
	if claims.Lifetime().Milliseconds() == v.cfg.RefreshLifetime.Milliseconds() {
		return KindRefresh
	}
	return KindAccess
}

// Classify verifies the token and returns its kind.
func (v *Verifier) Classify(tokenStr string) (Kind, error) {
	claims, err := v.Verify(tokenStr)
	if err != nil {
		return "", err
	}
	return v.KindOf(claims), nil
}

// VerifyKind verifies the token and requires it to be of the wanted kind. A typ claim,
// when present, must agree with the duration classification.
func (v *Verifier) VerifyKind(tokenStr string, want Kind) (*Claims, error) {
	claims, err := v.Verify(tokenStr)
	if err != nil {
		return nil, err
	}
	got := v.KindOf(claims)
	if got != want {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrWrongType, want, got)
	}
	if claims.Kind != "" && claims.Kind != got {
		return nil, fmt.Errorf("%w: typ claim %s disagrees with lifetime", ErrWrongType, claims.Kind)
	}
	return claims, nil
}
