// Package keysync keeps a verifying service's copy of the auth service public key
// consistent with the issuer.
package keysync

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/auth-service/internal/keys"
)

const (
	publicKeyPath      = "/rpc/auth/publicKey"
	checkPublicKeyPath = "/rpc/auth/checkPublicKey"
	defaultTimeout     = 5 * time.Second
)

var (
	// ErrVerifyOnly is returned by PrivateKey; a synced client can only verify.
	ErrVerifyOnly = errors.New("keysync: verify-only key source")
	// ErrNotSeeded is returned before the first successful Seed.
	ErrNotSeeded = errors.New("keysync: public key not seeded")
)

// Config locates the auth service.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

type cachedKey struct {
	pub       *rsa.PublicKey
	encoded   string
	fetchedAt time.Time
}

// Client caches the issuer's public key and detects drift.
type Client struct {
	cfg    Config
	logger *zap.Logger
	key    atomic.Pointer[cachedKey]
}

// NewClient builds a client. Seed must succeed before PublicKey is usable.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, logger: logger}
}

type remoteError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type envelope[T any] struct {
	Data  T            `json:"data"`
	Error *remoteError `json:"error"`
}

// Seed fetches the current public key and installs it.
func (c *Client) Seed(ctx context.Context) error {
	timeout, err := c.timeout(ctx)
	if err != nil {
		return err
	}
	var resp envelope[string]
	code, _, errs := fiber.Get(c.cfg.BaseURL + publicKeyPath).Timeout(timeout).Struct(&resp)
	if err := responseError("fetch public key", code, resp.Error, errs); err != nil {
		return err
	}

	pub, err := keys.DecodePublicKey(resp.Data)
	if err != nil {
		return fmt.Errorf("decode public key: %w", err)
	}
	c.key.Store(&cachedKey{pub: pub, encoded: resp.Data, fetchedAt: time.Now()})
	c.logger.Info("public key seeded", zap.String("base_url", c.cfg.BaseURL))
	return nil
}

// Install caches a key obtained out of band, such as a verifier's persisted copy.
func (c *Client) Install(encoded string) error {
	encoded = strings.TrimSpace(encoded)
	pub, err := keys.DecodePublicKey(encoded)
	if err != nil {
		return fmt.Errorf("decode public key: %w", err)
	}
	c.key.Store(&cachedKey{pub: pub, encoded: encoded, fetchedAt: time.Now()})
	return nil
}

// Check asks the issuer whether the cached key is still current.
func (c *Client) Check(ctx context.Context) (bool, error) {
	cached := c.key.Load()
	if cached == nil {
		return false, ErrNotSeeded
	}
	timeout, err := c.timeout(ctx)
	if err != nil {
		return false, err
	}

	var resp envelope[struct {
		Match bool `json:"match"`
	}]
	agent := fiber.Post(c.cfg.BaseURL + checkPublicKeyPath).
		ContentType(fiber.MIMETextPlain).
		BodyString(cached.encoded).
		Timeout(timeout)
	code, _, errs := agent.Struct(&resp)
	if err := responseError("check public key", code, resp.Error, errs); err != nil {
		return false, err
	}
	return resp.Data.Match, nil
}

// Sync checks the cached key and re-seeds on drift. It reports whether the key changed.
func (c *Client) Sync(ctx context.Context) (bool, error) {
	if c.key.Load() == nil {
		if err := c.Seed(ctx); err != nil {
			return false, err
		}
		return true, nil
	}
	match, err := c.Check(ctx)
	if err != nil {
		return false, err
	}
	if match {
		return false, nil
	}
	c.logger.Warn("public key drift detected; re-seeding")
	if err := c.Seed(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Run syncs on every tick until ctx is done. Sync failures are logged and retried on the next tick.
func (c *Client) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.Sync(ctx); err != nil {
				c.logger.Warn("public key sync failed", zap.Error(err))
			}
		}
	}
}

// PublicKey returns the cached verification key.
func (c *Client) PublicKey() (*rsa.PublicKey, error) {
	cached := c.key.Load()
	if cached == nil {
		return nil, ErrNotSeeded
	}
	return cached.pub, nil
}

// PrivateKey always fails.
func (c *Client) PrivateKey() (*rsa.PrivateKey, error) {
	return nil, ErrVerifyOnly
}

// Encoded returns the cached key in its base64 wire form.
func (c *Client) Encoded() string {
	if cached := c.key.Load(); cached != nil {
		return cached.encoded
	}
	return ""
}

// timeout bounds the request by both the configured timeout and the context deadline.
func (c *Client) timeout(ctx context.Context) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	timeout := c.cfg.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	return timeout, nil
}

func responseError(op string, code int, remote *remoteError, errs []error) error {
	if code != fiber.StatusOK && remote != nil {
		return fmt.Errorf("%s: %d %s: %s", op, code, remote.Code, remote.Message)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s: %w", op, errors.Join(errs...))
	}
	if code != fiber.StatusOK {
		return fmt.Errorf("%s: unexpected status %d", op, code)
	}
	return nil
}
