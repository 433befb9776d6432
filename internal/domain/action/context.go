package action

import (
	"context"
	"log/slog"

	"github.com/appshell/appshell/internal/domain/event"
	"github.com/appshell/appshell/internal/domain/record"
)

// Context is the per-dispatch bundle handed to hooks and handlers. It is the
// only surface action code may use; it is built fresh for every dispatch and
// never shared across calls.
type Context struct {
	// Caller is the identity the action runs for.
	Caller Caller
	// DB is a data handle scoped to Caller.TenantID for this call only.
	DB record.Store
	// Logger is tagged with the request, action and tenant.
	Logger *slog.Logger
	// RequestID correlates logs, audit records and emitted events.
	RequestID string
	// ActionID is the action being executed.
	ActionID string

	emit func(ctx context.Context, evt event.DomainEvent)
}

// NewContext creates a Context. emit may be nil, in which case Emit is a no-op.
func NewContext(caller Caller, db record.Store, logger *slog.Logger, requestID, actionID string, emit func(context.Context, event.DomainEvent)) *Context {
	return &Context{
		Caller:    caller,
		DB:        db,
		Logger:    logger,
		RequestID: requestID,
		ActionID:  actionID,
		emit:      emit,
	}
}

// Emit publishes a domain event. The event is stamped with the caller's
// tenant when it does not name one. Emit returns once every subscriber
// has settled; subscriber failures are never reported back.
func (c *Context) Emit(ctx context.Context, evt event.DomainEvent) {
	if c.emit == nil {
		return
	}
	if evt.TenantID == "" {
		evt.TenantID = c.Caller.TenantID
	}
	c.emit(ctx, evt)
}
