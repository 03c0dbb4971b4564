// Package audit publishes authentication lifecycle events to the platform's
// message broker for security monitoring. Publishing is best effort and must
// never block or fail the auth path.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType identifies the kind of auth lifecycle event.
type EventType string

const (
	// EventTokenIssued is emitted when a new access/refresh pair is issued.
	EventTokenIssued EventType = "token.issued"
	// EventTokenRefreshed is emitted when a refresh token is rotated.
	EventTokenRefreshed EventType = "token.refreshed"
	// EventTokenRevoked is emitted on logout or administrative revocation.
	EventTokenRevoked EventType = "token.revoked"
	// EventReplayDenied is emitted when a revoked or unknown refresh token
	// is presented. Worth alerting on: it usually means token theft.
	EventReplayDenied EventType = "token.replay_denied"
)

// Event is one auth lifecycle occurrence.
type Event struct {
	ID        uuid.UUID `json:"id"`
	Type      EventType `json:"type"`
	UserID    uuid.UUID `json:"user_id"`
	IP        string    `json:"ip_address,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	At        time.Time `json:"at"`
}

// NewEvent builds an event stamped with a fresh ID and the current time.
func NewEvent(eventType EventType, userID uuid.UUID, ip, userAgent string) Event {
	return Event{
		ID:        uuid.New(),
		Type:      eventType,
		UserID:    userID,
		IP:        ip,
		UserAgent: userAgent,
		At:        time.Now().UTC(),
	}
}

// Publisher delivers audit events to a broker.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	HealthCheck(ctx context.Context) error
	Close() error
}

// NopPublisher discards events. Used when no broker is configured.
type NopPublisher struct{}

// Publish discards the event.
func (NopPublisher) Publish(context.Context, Event) error { return nil }

// HealthCheck always succeeds.
func (NopPublisher) HealthCheck(context.Context) error { return nil }

// Close is a no-op.
func (NopPublisher) Close() error { return nil }
