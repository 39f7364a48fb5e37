package domain

import "time"

// User is the account record consulted at login.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	Phone        string
	RoleName     string
	Locked       bool
	Removed      bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
