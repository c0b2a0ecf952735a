// Package events carries domain events between services over Redis streams.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Envelope is the wire form of every event
type Envelope struct {
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	SenderID  string          `json:"senderId"`
	EventName string          `json:"eventName"`
	Payload   json.RawMessage `json:"payload"`
}

// UserPayload is carried by the user.profile.* events
type UserPayload struct {
	UserID   string  `json:"userId"`
	Email    string  `json:"email"`
	FullName *string `json:"fullName,omitempty"`
}

// NewEnvelope wraps payload under a fresh time-ordered id
func NewEnvelope(eventName, senderID string, payload any) (Envelope, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to generate event id: %w", err)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to encode %s payload: %w", eventName, err)
	}
	return Envelope{
		ID:        id.String(),
		Timestamp: time.Now().UTC(),
		SenderID:  senderID,
		EventName: eventName,
		Payload:   body,
	}, nil
}

// DecodePayload unmarshals the payload into dst
func (e Envelope) DecodePayload(dst any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("event %s has no payload", e.ID)
	}
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", e.EventName, err)
	}
	return nil
}
