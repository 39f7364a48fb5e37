package keys

import (
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/auth-service/internal/config"
)

// DefaultBits is the RSA modulus size used for freshly generated keys.
const DefaultBits = 2048

var (
	// ErrNotInitialized is returned by accessors called before ObtainKeyPair succeeded.
	ErrNotInitialized = errors.New("signing keys not initialized")
	// ErrKeyInitialization marks a failure to load or generate the signing keypair.
	ErrKeyInitialization = errors.New("signing key initialization failed")
)

// Config locates the key artifacts on disk.
type Config struct {
	Dir            string
	PublicKeyFile  string
	PrivateKeyFile string
	Bits           int
}

// ConfigFrom adapts the service configuration.
func ConfigFrom(cfg config.KeysConfig) Config {
	return Config{
		Dir:            cfg.Dir,
		PublicKeyFile:  cfg.PublicKeyFile,
		PrivateKeyFile: cfg.PrivateKeyFile,
		Bits:           DefaultBits,
	}
}

func (c Config) publicPath() string  { return filepath.Join(c.Dir, c.PublicKeyFile) }
func (c Config) privatePath() string { return filepath.Join(c.Dir, c.PrivateKeyFile) }

// KeyPair is the process signing keypair. It is never mutated after publication.
type KeyPair struct {
	Public      *rsa.PublicKey
	Private     *rsa.PrivateKey
	PublicKey64 string
	CreatedAt   time.Time
}

// Manager owns the signing keypair for the lifetime of the process.
type Manager struct {
	cfg    Config
	logger *zap.Logger
	random io.Reader

	mu   sync.Mutex
	pair atomic.Pointer[KeyPair]
}

// NewManager builds a manager. ObtainKeyPair must complete before any accessor is used.
func NewManager(cfg Config, logger *zap.Logger) *Manager {
	if cfg.Bits <= 0 {
		cfg.Bits = DefaultBits
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{cfg: cfg, logger: logger, random: rand.Reader}
}

// ObtainKeyPair loads the persisted keypair, or generates and persists a new one when
// either artifact is missing or unreadable.
func (m *Manager) ObtainKeyPair() (*KeyPair, error) {
	if pair := m.pair.Load(); pair != nil {
		return pair, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if pair := m.pair.Load(); pair != nil {
		return pair, nil
	}

	pair, err := Load(m.cfg)
	if err != nil {
		m.logger.Warn("load signing keys failed; generating new keypair",
			zap.String("dir", m.cfg.Dir), zap.Error(err))

		pair, err = m.generate()
		if err != nil {
			m.logger.Error("generate signing keys failed", zap.Error(err))
			return nil, fmt.Errorf("%w: %v", ErrKeyInitialization, err)
		}
		m.logger.Info("generated signing keypair", zap.String("dir", m.cfg.Dir), zap.Int("bits", m.cfg.Bits))
	} else {
		m.logger.Info("loaded signing keypair", zap.String("dir", m.cfg.Dir))
	}

	m.pair.Store(pair)
	return pair, nil
}

func (m *Manager) generate() (*KeyPair, error) {
	priv, err := rsa.GenerateKey(m.random, m.cfg.Bits)
	if err != nil {
		return nil, fmt.Errorf("generate rsa key: %w", err)
	}
	if err := Save(m.cfg, priv); err != nil {
		return nil, err
	}
	return newKeyPair(priv, time.Now().UTC())
}

// KeyPair returns the established keypair.
func (m *Manager) KeyPair() (*KeyPair, error) {
	pair := m.pair.Load()
	if pair == nil {
		return nil, ErrNotInitialized
	}
	return pair, nil
}

// PublicKey returns the verification key.
func (m *Manager) PublicKey() (*rsa.PublicKey, error) {
	pair, err := m.KeyPair()
	if err != nil {
		return nil, err
	}
	return pair.Public, nil
}

// PrivateKey returns the signing key.
func (m *Manager) PrivateKey() (*rsa.PrivateKey, error) {
	pair, err := m.KeyPair()
	if err != nil {
		return nil, err
	}
	return pair.Private, nil
}

// Ready reports whether the keypair has been established.
func (m *Manager) Ready() bool {
	return m.pair.Load() != nil
}

// Load reads both artifacts. A single unreadable artifact fails the whole load.
func Load(cfg Config) (*KeyPair, error) {
	pubRaw, err := os.ReadFile(cfg.publicPath())
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	privRaw, err := os.ReadFile(cfg.privatePath())
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}

	pub, err := DecodePublicKey(string(pubRaw))
	if err != nil {
		return nil, err
	}
	priv, err := DecodePrivateKey(string(privRaw))
	if err != nil {
		return nil, err
	}
	if !priv.PublicKey.Equal(pub) {
		return nil, errors.New("public and private key artifacts do not match")
	}

	createdAt := time.Now().UTC()
	if info, err := os.Stat(cfg.privatePath()); err == nil {
		createdAt = info.ModTime().UTC()
	}
	return newKeyPair(priv, createdAt)
}

// Save persists both artifacts as base64 DER, replacing any existing files.
func Save(cfg Config, priv *rsa.PrivateKey) error {
	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return fmt.Errorf("create key dir: %w", err)
	}

	pub64, err := EncodePublicKey(&priv.PublicKey)
	if err != nil {
		return err
	}
	priv64, err := EncodePrivateKey(priv)
	if err != nil {
		return err
	}

	if err := writeFileAtomic(cfg.privatePath(), []byte(priv64), 0o600); err != nil {
		return fmt.Errorf("write private key: %w", err)
	}
	if err := writeFileAtomic(cfg.publicPath(), []byte(pub64), 0o644); err != nil {
		return fmt.Errorf("write public key: %w", err)
	}
	return nil
}

func newKeyPair(priv *rsa.PrivateKey, createdAt time.Time) (*KeyPair, error) {
	pub64, err := EncodePublicKey(&priv.PublicKey)
	if err != nil {
		return nil, err
	}
	return &KeyPair{
		Public:      &priv.PublicKey,
		Private:     priv,
		PublicKey64: pub64,
		CreatedAt:   createdAt,
	}, nil
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close() //nolint:errcheck
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
