package service

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/spec-kit/auth-service/internal/events"
	"github.com/spec-kit/auth-service/internal/keys"
	"github.com/spec-kit/auth-service/internal/revocation"
	"github.com/spec-kit/auth-service/internal/token"
)

const (
	testIssuer          = "auth-service"
	testAccessLifetime  = 900 * time.Second
	testRefreshLifetime = 604800 * time.Second
	refreshPrefix       = "auth:refresh:"
	accessPrefix        = "auth:access:"
)

var (
	keyOnce  sync.Once
	keyMain  *rsa.PrivateKey
	keyOther *rsa.PrivateKey
	keyErr   error
)

func testKeys(t *testing.T) (*rsa.PrivateKey, *rsa.PrivateKey) {
	t.Helper()
	keyOnce.Do(func() {
		keyMain, keyErr = rsa.GenerateKey(rand.Reader, 2048)
		if keyErr != nil {
			return
		}
		keyOther, keyErr = rsa.GenerateKey(rand.Reader, 2048)
	})
	if keyErr != nil {
		t.Fatalf("generate rsa keys: %v", keyErr)
	}
	return keyMain, keyOther
}

// newKeyManager returns a ready manager loaded from a freshly seeded directory.
func newKeyManager(t *testing.T) *keys.Manager {
	t.Helper()
	priv, _ := testKeys(t)
	cfg := keys.Config{Dir: t.TempDir(), PublicKeyFile: "public.key", PrivateKeyFile: "private.key", Bits: keys.DefaultBits}
	if err := keys.Save(cfg, priv); err != nil {
		t.Fatalf("seed keys: %v", err)
	}
	m := keys.NewManager(cfg, nil)
	if _, err := m.ObtainKeyPair(); err != nil {
		t.Fatalf("obtain keys: %v", err)
	}
	return m
}

type eventRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *eventRecorder) handle(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *eventRecorder) ofType(eventType events.EventType) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, e := range r.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

type tokenFixture struct {
	svc      *TokenService
	keys     *keys.Manager
	codec    *token.Codec
	verifier *token.Verifier
	mr       *miniredis.Miniredis
	recorder *eventRecorder
}

type fixtureOption func(*TokenDependencies, redis.UniversalClient)

func withRotation(p RotationPolicy) fixtureOption {
	return func(d *TokenDependencies, _ redis.UniversalClient) { d.Rotation = p }
}

func withAccessTracking() fixtureOption {
	return func(d *TokenDependencies, rdb redis.UniversalClient) {
		d.AccessStore = revocation.NewRedisStore(rdb, accessPrefix, time.Second)
	}
}

func newTokenFixture(t *testing.T, opts ...fixtureOption) *tokenFixture {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})

	manager := newKeyManager(t)
	codec := token.NewCodec(manager)
	verifier, err := token.NewVerifier(codec, token.VerifierConfig{
		Issuer:          testIssuer,
		AccessLifetime:  testAccessLifetime,
		RefreshLifetime: testRefreshLifetime,
	})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	recorder := &eventRecorder{}
	dispatcher := events.NewInMemoryDispatcher(nil)
	for _, et := range []events.EventType{events.EventTokenIssued, events.EventTokenRefreshed, events.EventTokenRevoked, events.EventTokenRejected} {
		dispatcher.Subscribe(et, recorder.handle)
	}

	deps := TokenDependencies{
		Codec:        codec,
		Verifier:     verifier,
		RefreshStore: revocation.NewRedisStore(rdb, refreshPrefix, time.Second),
		Keys:         manager,
		Dispatcher:   dispatcher,
	}
	for _, opt := range opts {
		opt(&deps, rdb)
	}
	svc, err := NewTokenService(deps)
	if err != nil {
		t.Fatalf("new token service: %v", err)
	}
	return &tokenFixture{svc: svc, keys: manager, codec: codec, verifier: verifier, mr: mr, recorder: recorder}
}

type foreignKeys struct {
	priv *rsa.PrivateKey
}

func (f foreignKeys) PublicKey() (*rsa.PublicKey, error)   { return &f.priv.PublicKey, nil }
func (f foreignKeys) PrivateKey() (*rsa.PrivateKey, error) { return f.priv, nil }

// flakyStore fails every write while failWrites is set.
type flakyStore struct {
	revocation.Store
	failWrites atomic.Bool
}

func (f *flakyStore) Register(ctx context.Context, tokenID, serialized string, ttl time.Duration) error {
	if f.failWrites.Load() {
		return fmt.Errorf("%w: register: connection reset", revocation.ErrUnavailable)
	}
	return f.Store.Register(ctx, tokenID, serialized, ttl)
}

func (f *flakyStore) Rotate(ctx context.Context, oldID, newID, serialized string, ttl time.Duration) (bool, error) {
	if f.failWrites.Load() {
		return false, fmt.Errorf("%w: rotate: connection reset", revocation.ErrUnavailable)
	}
	return f.Store.Rotate(ctx, oldID, newID, serialized, ttl)
}

func countKeys(mr *miniredis.Miniredis, prefix string) int {
	n := 0
	for _, k := range mr.Keys() {
		if strings.HasPrefix(k, prefix) {
			n++
		}
	}
	return n
}
