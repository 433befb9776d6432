// Package event contains the domain event model used for side effects,
// auto-notifications and webhook delivery triggers.
package event

import (
	"context"
	"time"
)

// Wildcard subscribes to every event type.
const Wildcard = "*"

// Well-known event types published by the side-effect processor.
const (
	// TypeNotificationRequested asks notification subscribers to notify a user.
	TypeNotificationRequested = "notification.requested"
	// TypeWebhookTriggered asks the webhook deliverer to call subscribed endpoints.
	TypeWebhookTriggered = "webhook.triggered"
)

// DomainEvent is an ephemeral fact published on the event bus. The bus does
// not persist events; persistence is a subscriber's job.
type DomainEvent struct {
	// ID uniquely identifies the event. Populated on publish when empty.
	ID string `json:"id"`
	// Type follows the "<entity>.<verb>" convention (e.g. "task.created").
	Type string `json:"type"`
	// TenantID is the tenant the event belongs to, if any.
	TenantID string `json:"tenantId,omitempty"`
	// Payload carries event-specific data.
	Payload any `json:"payload,omitempty"`
	// Timestamp is when the event occurred. Populated on publish when zero.
	Timestamp time.Time `json:"timestamp"`
}

// Handler processes a published event.
type Handler func(ctx context.Context, evt DomainEvent) error

// Subscriber registers a named handler for an exact event type or Wildcard.
type Subscriber struct {
	// Name identifies the subscriber in logs and error reports.
	Name string
	// EventType is an exact event type or Wildcard.
	EventType string
	// Handler is invoked for every matching event.
	Handler Handler
}

// Publisher publishes domain events.
type Publisher interface {
	// Publish delivers evt to every matching subscriber and returns once all
	// of them have settled. It never fails.
	Publish(ctx context.Context, evt DomainEvent)
}

// ErrorReporter is the exception-capture collaborator subscriber failures are reported to.
type ErrorReporter interface {
	CaptureException(ctx context.Context, err error, attrs map[string]string)
}
