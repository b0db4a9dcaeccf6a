package models

import (
	"time"

	"github.com/google/uuid"
)

// AuthOutcome represents the outcome of an authentication attempt
type AuthOutcome string

const (
	AuthOutcomeAccepted  AuthOutcome = "accepted"
	AuthOutcomeRejected  AuthOutcome = "rejected"
	AuthOutcomeLockedOut AuthOutcome = "locked_out"
)

// AuthEvent represents one authentication attempt as recorded for
// diagnosis. The client only ever sees a generic unauthenticated response;
// the specific rejection reason lives here and in the metrics.
type AuthEvent struct {
	ID        uuid.UUID   `json:"id" db:"id"`
	Subject   string      `json:"subject" db:"subject"` // normalized subject when decodable, else empty
	UserID    *uuid.UUID  `json:"user_id,omitempty" db:"user_id"`
	Outcome   AuthOutcome `json:"outcome" db:"outcome"`
	Reason    string      `json:"reason" db:"reason"` // rejection reason tag, empty on accept
	IPAddress string      `json:"ip_address" db:"ip_address"`
	UserAgent string      `json:"user_agent" db:"user_agent"`
	RequestID string      `json:"request_id" db:"request_id"`
	Timestamp time.Time   `json:"timestamp" db:"timestamp"`
}

// TableName returns the table name for the AuthEvent model
func (AuthEvent) TableName() string {
	return "auth_events"
}

// NewAuthEvent creates a new AuthEvent instance
func NewAuthEvent(outcome AuthOutcome) *AuthEvent {
	return &AuthEvent{
		ID:        uuid.New(),
		Outcome:   outcome,
		Timestamp: time.Now(),
	}
}

// WithSubject sets the normalized subject
func (e *AuthEvent) WithSubject(subject string) *AuthEvent {
	e.Subject = subject
	return e
}

// WithUser sets the resolved user ID
func (e *AuthEvent) WithUser(userID uuid.UUID) *AuthEvent {
	e.UserID = &userID
	return e
}

// WithReason sets the rejection reason tag
func (e *AuthEvent) WithReason(reason string) *AuthEvent {
	e.Reason = reason
	return e
}

// WithRequest sets request metadata
func (e *AuthEvent) WithRequest(requestID, ipAddress, userAgent string) *AuthEvent {
	e.RequestID = requestID
	e.IPAddress = ipAddress
	e.UserAgent = userAgent
	return e
}
