package service

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/spec-kit/auth-service/internal/domain"
	"github.com/spec-kit/auth-service/internal/events"
	"github.com/spec-kit/auth-service/internal/keys"
	"github.com/spec-kit/auth-service/internal/revocation"
	"github.com/spec-kit/auth-service/internal/token"
)

var testPrincipal = &domain.Principal{
	SubjectID:   "42",
	Username:    "alice",
	Authorities: []string{"ROLE_admin", "device:read"},
}

func TestIssuePairRegistersRefreshToken(t *testing.T) {
	f := newTokenFixture(t)
	ctx := context.Background()

	pair, err := f.svc.IssuePair(ctx, testPrincipal)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	access, err := f.verifier.VerifyKind(pair.AccessToken, token.KindAccess)
	if err != nil {
		t.Fatalf("access token should verify as access: %v", err)
	}
	refresh, err := f.verifier.VerifyKind(pair.RefreshToken, token.KindRefresh)
	if err != nil {
		t.Fatalf("refresh token should verify as refresh: %v", err)
	}
	if access.TokenID == refresh.TokenID {
		t.Fatal("expected distinct token ids")
	}

	key := refreshPrefix + refresh.TokenID
	if !f.mr.Exists(key) {
		t.Fatalf("expected %s to be registered", key)
	}
	if ttl := f.mr.TTL(key); ttl != testRefreshLifetime {
		t.Fatalf("expected ttl %s, got %s", testRefreshLifetime, ttl)
	}
	if f.mr.Exists(refreshPrefix + access.TokenID) {
		t.Fatal("access token id must not be registered as refresh entry")
	}

	kp, _ := f.keys.KeyPair()
	if pair.PublicKey64 != kp.PublicKey64 {
		t.Fatal("expected pair to carry the current public key")
	}
	if len(f.recorder.ofType(events.EventTokenIssued)) != 1 {
		t.Fatal("expected one issued event")
	}
}

func TestIssuePairTracksAccessTokens(t *testing.T) {
	f := newTokenFixture(t, withAccessTracking())

	pair, err := f.svc.IssuePair(context.Background(), testPrincipal)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	access, err := f.verifier.Verify(pair.AccessToken)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if ttl := f.mr.TTL(accessPrefix + access.TokenID); ttl != testAccessLifetime {
		t.Fatalf("expected access entry with ttl %s, got %s", testAccessLifetime, ttl)
	}
}

func TestIssuePairRequiresReadyKeys(t *testing.T) {
	f := newTokenFixture(t)
	f.svc.keys = keys.NewManager(keys.Config{Dir: t.TempDir(), PublicKeyFile: "p", PrivateKeyFile: "q"}, nil)

	if _, err := f.svc.IssuePair(context.Background(), testPrincipal); !errors.Is(err, keys.ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}

func TestRefreshMintsNewAccessToken(t *testing.T) {
	f := newTokenFixture(t)
	ctx := context.Background()

	pair, err := f.svc.IssuePair(ctx, testPrincipal)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	refreshClaims, _ := f.verifier.Verify(pair.RefreshToken)
	oldAccess, _ := f.verifier.Verify(pair.AccessToken)

	got, err := f.svc.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if got.RefreshToken != pair.RefreshToken || got.Rotated {
		t.Fatal("expected refresh token to be returned unchanged")
	}
	if got.PublicKey64 != pair.PublicKey64 {
		t.Fatal("expected public key in refresh result")
	}

	access, err := f.verifier.VerifyKind(got.AccessToken, token.KindAccess)
	if err != nil {
		t.Fatalf("new access token should verify: %v", err)
	}
	if access.SubjectID != refreshClaims.SubjectID || access.Username != refreshClaims.Username {
		t.Fatalf("identity changed: %+v", access)
	}
	if !reflect.DeepEqual(access.Authorities, refreshClaims.Authorities) {
		t.Fatalf("authorities changed: %v vs %v", access.Authorities, refreshClaims.Authorities)
	}
	if access.TokenID == refreshClaims.TokenID || access.TokenID == oldAccess.TokenID {
		t.Fatal("expected a fresh token id")
	}
	if d := access.ExpiresAt.Sub(access.IssuedAt); d != testAccessLifetime {
		t.Fatalf("expected lifetime %s, got %s", testAccessLifetime, d)
	}
	if len(f.recorder.ofType(events.EventTokenRefreshed)) != 1 {
		t.Fatal("expected one refreshed event")
	}
}

func TestRefreshUnknownTokenID(t *testing.T) {
	f := newTokenFixture(t)

	// Verifies fine but was never registered.
	claims := token.NewClaims(token.Subject{ID: "42", Username: "alice"}, testIssuer, token.KindRefresh, testRefreshLifetime, time.Now())
	signed, err := f.codec.Sign(claims)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := f.svc.Refresh(context.Background(), signed); !errors.Is(err, ErrRefreshTokenNotFound) {
		t.Fatalf("expected ErrRefreshTokenNotFound, got %v", err)
	}

	rejected := f.recorder.ofType(events.EventTokenRejected)
	if len(rejected) != 1 {
		t.Fatalf("expected one rejection event, got %d", len(rejected))
	}
	payload := rejected[0].Payload.(events.TokenRejectedPayload)
	if payload.Stage != StageRevocationChecked || payload.Reason != "not_found" {
		t.Fatalf("unexpected rejection payload: %+v", payload)
	}
}

func TestRefreshAfterRevoke(t *testing.T) {
	f := newTokenFixture(t)
	ctx := context.Background()

	pair, err := f.svc.IssuePair(ctx, testPrincipal)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	removed, err := f.svc.Revoke(ctx, pair.RefreshToken)
	if err != nil || !removed {
		t.Fatalf("expected revoke to remove entry, got %v (%v)", removed, err)
	}
	if _, err := f.svc.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrRefreshTokenNotFound) {
		t.Fatalf("expected ErrRefreshTokenNotFound, got %v", err)
	}
	removed, err = f.svc.Revoke(ctx, pair.RefreshToken)
	if err != nil || removed {
		t.Fatalf("expected second revoke to be a no-op, got %v (%v)", removed, err)
	}
}

func TestRefreshAfterStoreExpiry(t *testing.T) {
	f := newTokenFixture(t)
	ctx := context.Background()

	pair, err := f.svc.IssuePair(ctx, testPrincipal)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	f.mr.FastForward(testRefreshLifetime + time.Second)

	if _, err := f.svc.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrRefreshTokenNotFound) {
		t.Fatalf("expected ErrRefreshTokenNotFound once the entry expired, got %v", err)
	}
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	f := newTokenFixture(t)
	ctx := context.Background()

	pair, err := f.svc.IssuePair(ctx, testPrincipal)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := f.svc.Refresh(ctx, pair.AccessToken); !errors.Is(err, token.ErrWrongType) {
		t.Fatalf("expected ErrWrongType, got %v", err)
	}
	if _, err := f.svc.Revoke(ctx, pair.AccessToken); !errors.Is(err, token.ErrWrongType) {
		t.Fatalf("expected revoke to reject access token, got %v", err)
	}
}

func TestRefreshVerificationFailures(t *testing.T) {
	f := newTokenFixture(t)
	ctx := context.Background()
	_, other := testKeys(t)

	foreign, err := token.NewCodec(foreignKeys{priv: other}).Sign(
		token.NewClaims(token.Subject{ID: "1"}, testIssuer, token.KindRefresh, testRefreshLifetime, time.Now()))
	if err != nil {
		t.Fatalf("sign foreign: %v", err)
	}
	wrongIssuer, err := f.codec.Sign(
		token.NewClaims(token.Subject{ID: "1"}, "elsewhere", token.KindRefresh, testRefreshLifetime, time.Now()))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	cases := []struct {
		name  string
		input string
		want  error
	}{
		{"empty", "  ", token.ErrMalformed},
		{"garbage", "not.a.token", token.ErrMalformed},
		{"foreign key", foreign, token.ErrTampered},
		{"issuer", wrongIssuer, token.ErrIssuerMismatch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.svc.Refresh(ctx, tc.input); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestRefreshStoreUnavailable(t *testing.T) {
	f := newTokenFixture(t)
	ctx := context.Background()

	pair, err := f.svc.IssuePair(ctx, testPrincipal)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	f.mr.Close()

	if _, err := f.svc.Refresh(ctx, pair.RefreshToken); !errors.Is(err, revocation.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestRefreshRotation(t *testing.T) {
	f := newTokenFixture(t, withRotation(RotationPolicy{Enabled: true}))
	ctx := context.Background()

	pair, err := f.svc.IssuePair(ctx, testPrincipal)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	old, _ := f.verifier.Verify(pair.RefreshToken)

	got, err := f.svc.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if !got.Rotated || got.RefreshToken == pair.RefreshToken {
		t.Fatal("expected refresh token to be rotated")
	}
	rotated, err := f.verifier.VerifyKind(got.RefreshToken, token.KindRefresh)
	if err != nil {
		t.Fatalf("rotated token should verify as refresh: %v", err)
	}
	if f.mr.Exists(refreshPrefix + old.TokenID) {
		t.Fatal("expected old entry to be removed")
	}
	if !f.mr.Exists(refreshPrefix + rotated.TokenID) {
		t.Fatal("expected rotated entry to be registered")
	}

	if _, err := f.svc.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrRefreshTokenNotFound) {
		t.Fatalf("expected replaced token to be refused, got %v", err)
	}
	if _, err := f.svc.Refresh(ctx, got.RefreshToken); err != nil {
		t.Fatalf("rotated token should refresh: %v", err)
	}
}

func TestRotationKeepsTokenWhenRefreshStoreWriteFails(t *testing.T) {
	f := newTokenFixture(t, withRotation(RotationPolicy{Enabled: true}), withAccessTracking())
	ctx := context.Background()

	pair, err := f.svc.IssuePair(ctx, testPrincipal)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	old, _ := f.verifier.Verify(pair.RefreshToken)
	flaky := &flakyStore{Store: f.svc.refresh}
	f.svc.refresh = flaky
	flaky.failWrites.Store(true)

	if _, err := f.svc.Refresh(ctx, pair.RefreshToken); !errors.Is(err, revocation.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if !f.mr.Exists(refreshPrefix + old.TokenID) {
		t.Fatal("presented token must stay registered after a failed swap")
	}
	if n := countKeys(f.mr, refreshPrefix); n != 1 {
		t.Fatalf("expected only the original refresh entry, got %d", n)
	}
	if n := countKeys(f.mr, accessPrefix); n != 1 {
		t.Fatalf("expected the unsent access entry to be discarded, got %d access entries", n)
	}

	flaky.failWrites.Store(false)
	got, err := f.svc.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("retry with original token: %v", err)
	}
	if !got.Rotated {
		t.Fatal("expected retry to rotate")
	}
}

func TestRotationKeepsTokenWhenAccessStoreWriteFails(t *testing.T) {
	f := newTokenFixture(t, withRotation(RotationPolicy{Enabled: true}), withAccessTracking())
	ctx := context.Background()

	pair, err := f.svc.IssuePair(ctx, testPrincipal)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	old, _ := f.verifier.Verify(pair.RefreshToken)
	flaky := &flakyStore{Store: f.svc.access}
	f.svc.access = flaky
	flaky.failWrites.Store(true)

	if _, err := f.svc.Refresh(ctx, pair.RefreshToken); !errors.Is(err, revocation.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if !f.mr.Exists(refreshPrefix + old.TokenID) {
		t.Fatal("presented token must stay registered when minting fails")
	}
	if n := countKeys(f.mr, refreshPrefix); n != 1 {
		t.Fatalf("expected no replacement entry, got %d refresh entries", n)
	}
	rejected := f.recorder.ofType(events.EventTokenRejected)
	if len(rejected) != 1 {
		t.Fatalf("expected one rejected event, got %d", len(rejected))
	}

	flaky.failWrites.Store(false)
	if _, err := f.svc.Refresh(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("retry with original token: %v", err)
	}
}

func TestRefreshRotationWindow(t *testing.T) {
	f := newTokenFixture(t, withRotation(RotationPolicy{Enabled: true, Window: time.Hour}))
	ctx := context.Background()

	pair, err := f.svc.IssuePair(ctx, testPrincipal)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	got, err := f.svc.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if got.Rotated {
		t.Fatal("token far from expiry should not rotate")
	}
}

func TestConcurrentRotationHasSingleWinner(t *testing.T) {
	f := newTokenFixture(t, withRotation(RotationPolicy{Enabled: true}))
	ctx := context.Background()

	pair, err := f.svc.IssuePair(ctx, testPrincipal)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	const workers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		wins     int
		notFound int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Refresh(ctx, pair.RefreshToken)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrRefreshTokenNotFound):
				notFound++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 || notFound != workers-1 {
		t.Fatalf("expected exactly one winner, got %d wins and %d not found", wins, notFound)
	}
}

func TestConcurrentRefreshWithoutRotationAllSucceed(t *testing.T) {
	f := newTokenFixture(t)
	ctx := context.Background()

	pair, err := f.svc.IssuePair(ctx, testPrincipal)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Refresh(ctx, pair.RefreshToken)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("expected every concurrent refresh to succeed, got %v", err)
		}
	}
}

func TestRevokeAccess(t *testing.T) {
	f := newTokenFixture(t, withAccessTracking())
	ctx := context.Background()

	pair, err := f.svc.IssuePair(ctx, testPrincipal)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	access, _ := f.verifier.Verify(pair.AccessToken)

	removed, err := f.svc.RevokeAccess(ctx, pair.AccessToken)
	if err != nil || !removed {
		t.Fatalf("expected access entry removed, got %v (%v)", removed, err)
	}
	if f.mr.Exists(accessPrefix + access.TokenID) {
		t.Fatal("expected access entry to be gone")
	}
	if removed, err := f.svc.RevokeAccess(ctx, pair.AccessToken); err != nil || removed {
		t.Fatalf("expected second revoke to be a no-op, got %v (%v)", removed, err)
	}
	if _, err := f.svc.RevokeAccess(ctx, pair.RefreshToken); !errors.Is(err, token.ErrWrongType) {
		t.Fatalf("expected ErrWrongType for refresh token, got %v", err)
	}
}

func TestRevokeAccessWithoutTracking(t *testing.T) {
	f := newTokenFixture(t)
	pair, err := f.svc.IssuePair(context.Background(), testPrincipal)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	removed, err := f.svc.RevokeAccess(context.Background(), pair.AccessToken)
	if err != nil || removed {
		t.Fatalf("expected untracked revoke to report false, got %v (%v)", removed, err)
	}
}

func TestRejectionReason(t *testing.T) {
	cases := map[error]string{
		token.ErrExpired:            "expired",
		token.ErrTampered:           "tampered",
		ErrRefreshTokenNotFound:     "not_found",
		revocation.ErrUnavailable:   "store_unavailable",
		errors.New("something odd"): "internal",
	}
	for err, want := range cases {
		if got := RejectionReason(err); got != want {
			t.Fatalf("reason for %v: want %q, got %q", err, want, got)
		}
	}
}
