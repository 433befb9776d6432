package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/appshell/appshell/internal/domain/event"
)

// ErrInvalidSubscriber is returned for subscribers missing a name, event type or handler.
var ErrInvalidSubscriber = errors.New("invalid event subscriber")

// EventBus fans published domain events out to subscribers registered for
// the exact event type or the wildcard. Handlers of one event run
// concurrently and Publish waits for all of them. A failing handler is
// logged and reported but never affects its siblings or the publisher.
type EventBus struct {
	mu     sync.RWMutex
	byType map[string][]event.Subscriber

	logger   *slog.Logger
	reporter event.ErrorReporter
	observer EventObserver
	now      func() time.Time
}

// EventBusOption configures EventBus.
type EventBusOption func(*EventBus)

// WithErrorReporter sends subscriber failures to r in addition to the log.
func WithErrorReporter(r event.ErrorReporter) EventBusOption {
	return func(b *EventBus) {
		b.reporter = r
	}
}

// WithEventObserver records publish and failure counts.
func WithEventObserver(o EventObserver) EventBusOption {
	return func(b *EventBus) {
		if o != nil {
			b.observer = o
		}
	}
}

// NewEventBus creates an EventBus with no subscribers.
func NewEventBus(logger *slog.Logger, opts ...EventBusOption) *EventBus {
	b := &EventBus{
		byType:   make(map[string][]event.Subscriber),
		logger:   logger,
		observer: nopObserver{},
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers sub. Several subscribers may share an event type.
func (b *EventBus) Subscribe(sub event.Subscriber) error {
	if err := checkSubscriber(sub); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.byType[sub.EventType] = append(b.byType[sub.EventType], sub)
	return nil
}

// SubscribeAll registers every subscriber or, if any is invalid, none.
func (b *EventBus) SubscribeAll(subs []event.Subscriber) error {
	for _, sub := range subs {
		if err := checkSubscriber(sub); err != nil {
			return err
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range subs {
		b.byType[sub.EventType] = append(b.byType[sub.EventType], sub)
	}
	return nil
}

// SubscriberCount returns the number of registered subscribers across all types.
func (b *EventBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, subs := range b.byType {
		n += len(subs)
	}
	return n
}

// Clear removes every subscriber.
func (b *EventBus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.byType = make(map[string][]event.Subscriber)
}

// Publish delivers evt to every matching subscriber and returns once all of
// them have settled. A missing ID or timestamp is filled in first.
func (b *EventBus) Publish(ctx context.Context, evt event.DomainEvent) {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = b.now()
	}

	matched := b.match(evt.Type)
	b.observer.ObservePublish(evt.Type, len(matched))
	if len(matched) == 0 {
		return
	}

	var wg sync.WaitGroup
	wg.Add(len(matched))
	for _, sub := range matched {
		go func() {
			defer wg.Done()
			if err := invokeSubscriber(ctx, sub, evt); err != nil {
				b.reportFailure(ctx, sub, evt, err)
			}
		}()
	}
	wg.Wait()
}

// match snapshots the exact-type and wildcard subscribers for eventType.
func (b *EventBus) match(eventType string) []event.Subscriber {
	b.mu.RLock()
	defer b.mu.RUnlock()
	exact := b.byType[eventType]
	var wildcard []event.Subscriber
	if eventType != event.Wildcard {
		wildcard = b.byType[event.Wildcard]
	}
	out := make([]event.Subscriber, 0, len(exact)+len(wildcard))
	out = append(out, exact...)
	return append(out, wildcard...)
}

func (b *EventBus) reportFailure(ctx context.Context, sub event.Subscriber, evt event.DomainEvent, err error) {
	b.observer.ObserveSubscriberFailure(sub.Name, evt.Type)
	b.logger.Error("event subscriber failed",
		"subscriber", sub.Name,
		"event_type", evt.Type,
		"event_id", evt.ID,
		"error", err,
	)
	if b.reporter != nil {
		b.reporter.CaptureException(ctx, err, map[string]string{
			"subscriber": sub.Name,
			"event_type": evt.Type,
			"event_id":   evt.ID,
		})
	}
}

// invokeSubscriber runs the handler, converting a panic into an error.
func invokeSubscriber(ctx context.Context, sub event.Subscriber, evt event.DomainEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panicked: %v", r)
		}
	}()
	return sub.Handler(ctx, evt)
}

func checkSubscriber(sub event.Subscriber) error {
	switch {
	case sub.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidSubscriber)
	case sub.EventType == "":
		return fmt.Errorf("%w: %s has no event type", ErrInvalidSubscriber, sub.Name)
	case sub.Handler == nil:
		return fmt.Errorf("%w: %s has no handler", ErrInvalidSubscriber, sub.Name)
	}
	return nil
}
