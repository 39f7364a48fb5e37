package domain

import "time"

// Principal is the authenticated identity tokens are minted for.
type Principal struct {
	SubjectID   string
	Username    string
	Authorities []string
}

// TokenPair is returned from login and refresh.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	PublicKey64      string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	// Rotated is set when refresh replaced the presented refresh token.
	Rotated bool
}
