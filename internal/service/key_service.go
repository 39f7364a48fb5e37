package service

import (
	"go.uber.org/zap"
)

// PublicKeyDescription describes the verification key for human consumers.
type PublicKeyDescription struct {
	PublicKey string
	Algorithm string
	KeySize   int
	Format    string
}

// KeyService distributes the public key to verifying services.
type KeyService struct {
	keys   KeyPairSource
	logger *zap.Logger
}

// NewKeyService builds the service.
func NewKeyService(keys KeyPairSource, logger *zap.Logger) *KeyService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KeyService{keys: keys, logger: logger}
}

// GetPublicKey returns the base64 PKIX encoding of the current public key.
func (s *KeyService) GetPublicKey() (string, error) {
	pair, err := s.keys.KeyPair()
	if err != nil {
		return "", err
	}
	return pair.PublicKey64, nil
}

// CheckPublicKey reports whether candidate is byte-for-byte the current encoded public key.
func (s *KeyService) CheckPublicKey(candidate string) (bool, error) {
	current, err := s.GetPublicKey()
	if err != nil {
		return false, err
	}
	if candidate == current {
		s.logger.Info("public key check matched")
		return true, nil
	}
	s.logger.Warn("public key check mismatch", zap.Int("candidate_length", len(candidate)))
	return false, nil
}

// Describe returns the public key with its algorithm metadata.
func (s *KeyService) Describe() (*PublicKeyDescription, error) {
	pair, err := s.keys.KeyPair()
	if err != nil {
		return nil, err
	}
	return &PublicKeyDescription{
		PublicKey: pair.PublicKey64,
		Algorithm: "RSA",
		KeySize:   pair.Public.N.BitLen(),
		Format:    "X.509",
	}, nil
}
