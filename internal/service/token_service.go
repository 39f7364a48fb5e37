package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/auth-service/internal/domain"
	"github.com/spec-kit/auth-service/internal/events"
	"github.com/spec-kit/auth-service/internal/keys"
	"github.com/spec-kit/auth-service/internal/revocation"
	"github.com/spec-kit/auth-service/internal/token"
)

// ErrRefreshTokenNotFound means the refresh token verified but its id is not honorable:
// revoked, expired out of the store, rotated away or never issued here.
var ErrRefreshTokenNotFound = errors.New("refresh token not found")

// Refresh stages, used for rejection logging and events.
const (
	StagePresented         = "presented"
	StageSignatureVerified = "signature_verified"
	StageIssuerChecked     = "issuer_checked"
	StageTypeClassified    = "type_classified"
	StageRevocationChecked = "revocation_checked"
	StageMinted            = "minted"
)

// KeyPairSource exposes the published signing key pair.
type KeyPairSource interface {
	KeyPair() (*keys.KeyPair, error)
}

// RotationPolicy controls whether refresh replaces the presented refresh token.
// A zero Window rotates on every refresh when Enabled.
type RotationPolicy struct {
	Enabled bool
	Window  time.Duration
}

func (p RotationPolicy) shouldRotate(claims *token.Claims, now time.Time) bool {
	if !p.Enabled {
		return false
	}
	if p.Window <= 0 {
		return true
	}
	return claims.ExpiresAt.Sub(now) < p.Window
}

// TokenDependencies encapsulates collaborators of the token service.
// AccessStore is optional; when set, issued access token ids are registered too and
// RevokeAccess removes them.
type TokenDependencies struct {
	Codec        *token.Codec
	Verifier     *token.Verifier
	RefreshStore revocation.Store
	AccessStore  revocation.Store
	Keys         KeyPairSource
	Dispatcher   events.Dispatcher
	Logger       *zap.Logger
	Rotation     RotationPolicy
}

// TokenService issues, refreshes and revokes token pairs.
type TokenService struct {
	codec      *token.Codec
	verifier   *token.Verifier
	refresh    revocation.Store
	access     revocation.Store
	keys       KeyPairSource
	dispatcher events.Dispatcher
	logger     *zap.Logger
	rotation   RotationPolicy
	now        func() time.Time
}

// NewTokenService builds the service.
func NewTokenService(deps TokenDependencies) (*TokenService, error) {
	if deps.Codec == nil || deps.Verifier == nil {
		return nil, errors.New("codec and verifier are required")
	}
	if deps.RefreshStore == nil {
		return nil, errors.New("refresh store is required")
	}
	if deps.Keys == nil {
		return nil, errors.New("key source is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenService{
		codec:      deps.Codec,
		verifier:   deps.Verifier,
		refresh:    deps.RefreshStore,
		access:     deps.AccessStore,
		keys:       deps.Keys,
		dispatcher: deps.Dispatcher,
		logger:     logger,
		rotation:   deps.Rotation,
		now:        time.Now,
	}, nil
}

// IssuePair mints an access and a refresh token for the principal and registers the
// refresh token id as honorable for the refresh lifetime.
func (s *TokenService) IssuePair(ctx context.Context, principal *domain.Principal) (*domain.TokenPair, error) {
	if principal == nil || principal.SubjectID == "" {
		return nil, errors.New("principal with subject id is required")
	}
	pair, err := s.keys.KeyPair()
	if err != nil {
		return nil, err
	}
	subject := token.Subject{
		ID:          principal.SubjectID,
		Username:    principal.Username,
		Authorities: principal.Authorities,
	}
	now := s.now()

	accessToken, accessClaims, err := s.mintAccess(ctx, subject, now)
	if err != nil {
		return nil, err
	}
	refreshToken, refreshClaims, err := s.mintRefresh(ctx, subject, now)
	if err != nil {
		return nil, err
	}

	s.logger.Info("token pair issued",
		zap.String("subject_id", subject.ID),
		zap.String("access_jti", accessClaims.TokenID),
		zap.String("refresh_jti", refreshClaims.TokenID))
	s.publish(ctx, events.NewEvent(events.EventTokenIssued, subject.ID, accessClaims.TokenID, events.TokenIssuedPayload{
		Username:       subject.Username,
		RefreshTokenID: refreshClaims.TokenID,
	}))

	return &domain.TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		PublicKey64:      pair.PublicKey64,
		AccessExpiresAt:  accessClaims.ExpiresAt,
		RefreshExpiresAt: refreshClaims.ExpiresAt,
	}, nil
}

// Refresh exchanges a refresh token for a new access token. The presented refresh token is
// returned unchanged unless the rotation policy replaces it.
//
// Without rotation two concurrent refreshes of the same token can both pass the revocation
// check and both succeed. With rotation the old entry is swapped for the replacement in one
// store call and only the caller whose swap removed it gets the new pair.
func (s *TokenService) Refresh(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil, s.reject(ctx, StagePresented, nil, token.ErrMalformed)
	}

	claims, err := s.verifier.VerifyKind(refreshToken, token.KindRefresh)
	if err != nil {
		return nil, s.reject(ctx, stageOf(err), nil, err)
	}

	ok, err := s.refresh.Exists(ctx, claims.TokenID)
	if err != nil {
		return nil, s.reject(ctx, StageRevocationChecked, claims, err)
	}
	if !ok {
		return nil, s.reject(ctx, StageRevocationChecked, claims, ErrRefreshTokenNotFound)
	}

	pair, err := s.keys.KeyPair()
	if err != nil {
		return nil, err
	}
	subject := token.Subject{ID: claims.SubjectID, Username: claims.Username, Authorities: claims.Authorities}
	now := s.now()

	result := &domain.TokenPair{
		RefreshToken:     refreshToken,
		RefreshExpiresAt: claims.ExpiresAt,
		PublicKey64:      pair.PublicKey64,
	}
	refreshID := claims.TokenID

	rotate := s.rotation.shouldRotate(claims, now)
	var next token.Claims
	var nextSigned string
	if rotate {
		nextSigned, next, err = s.signRefresh(subject, now)
		if err != nil {
			return nil, err
		}
	}

	accessToken, accessClaims, err := s.mintAccess(ctx, subject, now)
	if err != nil {
		return nil, s.reject(ctx, StageMinted, claims, err)
	}

	// The swap is the last write so a failure leaves the presented token honorable.
	if rotate {
		swapped, err := s.refresh.Rotate(ctx, claims.TokenID, next.TokenID, nextSigned, s.verifier.Config().RefreshLifetime)
		if err == nil && !swapped {
			// Another refresh rotated this token first.
			err = ErrRefreshTokenNotFound
		}
		if err != nil {
			s.discardAccess(ctx, accessClaims.TokenID)
			return nil, s.reject(ctx, StageRevocationChecked, claims, err)
		}
		result.RefreshToken = nextSigned
		result.RefreshExpiresAt = next.ExpiresAt
		result.Rotated = true
		refreshID = next.TokenID
	}
	result.AccessToken = accessToken
	result.AccessExpiresAt = accessClaims.ExpiresAt

	s.logger.Info("access token refreshed",
		zap.String("stage", StageMinted),
		zap.String("subject_id", subject.ID),
		zap.String("refresh_jti", claims.TokenID),
		zap.String("access_jti", accessClaims.TokenID),
		zap.Bool("rotated", result.Rotated))
	s.publish(ctx, events.NewEvent(events.EventTokenRefreshed, subject.ID, accessClaims.TokenID, events.TokenRefreshedPayload{
		RefreshTokenID: refreshID,
		Rotated:        result.Rotated,
	}))
	return result, nil
}

// Revoke removes the refresh token's entry. It reports whether an entry was removed.
func (s *TokenService) Revoke(ctx context.Context, refreshToken string) (bool, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return false, token.ErrMalformed
	}
	claims, err := s.verifier.VerifyKind(refreshToken, token.KindRefresh)
	if err != nil {
		return false, err
	}
	return s.revoke(ctx, s.refresh, claims, "refresh token revoked")
}

// RevokeAccess removes the access token's entry when access tokens are tracked.
// Without tracking it verifies the token and reports false.
func (s *TokenService) RevokeAccess(ctx context.Context, accessToken string) (bool, error) {
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return false, token.ErrMalformed
	}
	claims, err := s.verifier.VerifyKind(accessToken, token.KindAccess)
	if err != nil {
		return false, err
	}
	if s.access == nil {
		return false, nil
	}
	return s.revoke(ctx, s.access, claims, "access token revoked")
}

func (s *TokenService) revoke(ctx context.Context, store revocation.Store, claims *token.Claims, msg string) (bool, error) {
	removed, err := store.Remove(ctx, claims.TokenID)
	if err != nil {
		return false, err
	}

	s.logger.Info(msg,
		zap.String("subject_id", claims.SubjectID),
		zap.String("jti", claims.TokenID),
		zap.Bool("removed", removed))
	s.publish(ctx, events.NewEvent(events.EventTokenRevoked, claims.SubjectID, claims.TokenID, events.TokenRevokedPayload{
		Removed: removed,
	}))
	return removed, nil
}

func (s *TokenService) mintAccess(ctx context.Context, subject token.Subject, now time.Time) (string, token.Claims, error) {
	cfg := s.verifier.Config()
	claims := token.NewClaims(subject, cfg.Issuer, token.KindAccess, cfg.AccessLifetime, now)
	signed, err := s.codec.Sign(claims)
	if err != nil {
		return "", claims, fmt.Errorf("sign access token: %w", err)
	}
	if s.access != nil {
		if err := s.access.Register(ctx, claims.TokenID, signed, cfg.AccessLifetime); err != nil {
			return "", claims, err
		}
	}
	return signed, claims, nil
}

func (s *TokenService) signRefresh(subject token.Subject, now time.Time) (string, token.Claims, error) {
	cfg := s.verifier.Config()
	claims := token.NewClaims(subject, cfg.Issuer, token.KindRefresh, cfg.RefreshLifetime, now)
	signed, err := s.codec.Sign(claims)
	if err != nil {
		return "", claims, fmt.Errorf("sign refresh token: %w", err)
	}
	return signed, claims, nil
}

func (s *TokenService) mintRefresh(ctx context.Context, subject token.Subject, now time.Time) (string, token.Claims, error) {
	signed, claims, err := s.signRefresh(subject, now)
	if err != nil {
		return "", claims, err
	}
	if err := s.refresh.Register(ctx, claims.TokenID, signed, s.verifier.Config().RefreshLifetime); err != nil {
		return "", claims, err
	}
	return signed, claims, nil
}

// discardAccess drops an access entry that was registered for a response never sent.
func (s *TokenService) discardAccess(ctx context.Context, tokenID string) {
	if s.access == nil {
		return
	}
	if _, err := s.access.Remove(ctx, tokenID); err != nil {
		s.logger.Warn("discard access entry", zap.String("access_jti", tokenID), zap.Error(err))
	}
}

func (s *TokenService) reject(ctx context.Context, stage string, claims *token.Claims, err error) error {
	reason := RejectionReason(err)
	fields := []zap.Field{zap.String("stage", stage), zap.String("reason", reason)}
	var subjectID, tokenID string
	if claims != nil {
		subjectID, tokenID = claims.SubjectID, claims.TokenID
		fields = append(fields, zap.String("subject_id", subjectID), zap.String("refresh_jti", tokenID))
	}
	if errors.Is(err, revocation.ErrUnavailable) {
		s.logger.Error("refresh rejected", append(fields, zap.Error(err))...)
	} else {
		s.logger.Info("refresh rejected", fields...)
	}
	s.publish(ctx, events.NewEvent(events.EventTokenRejected, subjectID, tokenID, events.TokenRejectedPayload{
		Stage:  stage,
		Reason: reason,
	}))
	return err
}

func (s *TokenService) publish(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	_ = s.dispatcher.Publish(ctx, event)
}

// stageOf names the verification stage a VerifyKind failure belongs to.
func stageOf(err error) string {
	switch {
	case errors.Is(err, token.ErrWrongType):
		return StageTypeClassified
	case errors.Is(err, token.ErrIssuerMismatch):
		return StageIssuerChecked
	default:
		return StageSignatureVerified
	}
}

// RejectionReason returns a short stable label for a refresh failure.
func RejectionReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, token.ErrExpired):
		return "expired"
	case errors.Is(err, token.ErrTampered):
		return "tampered"
	case errors.Is(err, token.ErrMalformed):
		return "malformed"
	case errors.Is(err, token.ErrIssuerMismatch):
		return "issuer_mismatch"
	case errors.Is(err, token.ErrWrongType):
		return "wrong_type"
	case errors.Is(err, ErrRefreshTokenNotFound):
		return "not_found"
	case errors.Is(err, revocation.ErrUnavailable):
		return "store_unavailable"
	case errors.Is(err, keys.ErrNotInitialized):
		return "keys_not_ready"
	default:
		return "internal"
	}
}
