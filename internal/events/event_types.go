package events

import (
	"time"

	"github.com/google/uuid"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTokenIssued    EventType = "token_issued"
	EventTokenRefreshed EventType = "token_refreshed"
	EventTokenRevoked   EventType = "token_revoked"
	EventTokenRejected  EventType = "token_rejected"
)

// Event represents a token lifecycle event emitted by services.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	SubjectID string      `json:"subject_id,omitempty"`
	TokenID   string      `json:"token_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// NewEvent stamps an event with a fresh id and the current time.
func NewEvent(eventType EventType, subjectID, tokenID string, payload interface{}) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		SubjectID: subjectID,
		TokenID:   tokenID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// TokenIssuedPayload payload.
type TokenIssuedPayload struct {
	Username       string `json:"username"`
	RefreshTokenID string `json:"refresh_token_id"`
}

// TokenRefreshedPayload payload.
type TokenRefreshedPayload struct {
	RefreshTokenID string `json:"refresh_token_id"`
	Rotated        bool   `json:"rotated"`
}

// TokenRevokedPayload payload.
type TokenRevokedPayload struct {
	Removed bool `json:"removed"`
}

// TokenRejectedPayload payload.
type TokenRejectedPayload struct {
	Stage  string `json:"stage"`
	Reason string `json:"reason"`
}
