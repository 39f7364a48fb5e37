package dto

import "time"

// LoginRequest accepts JSON or form-encoded credentials.
type LoginRequest struct {
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
}

// LogoutRequest optionally names the access token to revoke alongside the refresh token.
type LogoutRequest struct {
	AccessToken string `json:"accessToken" form:"accessToken"`
}

// TokenResponse is returned from login and refresh.
type TokenResponse struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	PublicKey64      string    `json:"publicKey64"`
	Authorities      []string  `json:"authorities,omitempty"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
	Rotated          bool      `json:"rotated,omitempty"`
}

// PublicKeyResponse describes the verification key.
type PublicKeyResponse struct {
	PublicKey string `json:"publicKey"`
	Algorithm string `json:"algorithm"`
	KeySize   int    `json:"keySize"`
	Format    string `json:"format"`
}

// CheckPublicKeyResponse reports key consistency.
type CheckPublicKeyResponse struct {
	Match bool `json:"match"`
}

// PrincipalResponse echoes the authenticated identity.
type PrincipalResponse struct {
	SubjectID   string   `json:"subjectId"`
	Username    string   `json:"username"`
	Authorities []string `json:"authorities"`
}
