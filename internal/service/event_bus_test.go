package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/appshell/appshell/internal/domain/event"
)

// recordingReporter collects captured exceptions.
type recordingReporter struct {
	mu    sync.Mutex
	attrs []map[string]string
}

func (r *recordingReporter) CaptureException(ctx context.Context, err error, attrs map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attrs = append(r.attrs, attrs)
}

func (r *recordingReporter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.attrs)
}

// countingEventObserver counts publishes and failures.
type countingEventObserver struct {
	publishes atomic.Int64
	failures  atomic.Int64
}

func (o *countingEventObserver) ObservePublish(string, int)              { o.publishes.Add(1) }
func (o *countingEventObserver) ObserveSubscriberFailure(string, string) { o.failures.Add(1) }

// eventCollector is a subscriber handler that keeps what it receives.
type eventCollector struct {
	mu     sync.Mutex
	events []event.DomainEvent
}

func (c *eventCollector) handle(ctx context.Context, evt event.DomainEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
	return nil
}

func (c *eventCollector) received() []event.DomainEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]event.DomainEvent, len(c.events))
	copy(out, c.events)
	return out
}

func TestEventBus_ExactAndWildcard(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := NewEventBus(discardLogger())
	exact := &eventCollector{}
	all := &eventCollector{}
	if err := bus.SubscribeAll([]event.Subscriber{
		{Name: "exact", EventType: "note.created", Handler: exact.handle},
		{Name: "all", EventType: event.Wildcard, Handler: all.handle},
	}); err != nil {
		t.Fatalf("SubscribeAll() error: %v", err)
	}

	ctx := context.Background()
	bus.Publish(ctx, event.DomainEvent{Type: "note.created"})
	bus.Publish(ctx, event.DomainEvent{Type: "note.deleted"})
	bus.Publish(ctx, event.DomainEvent{Type: "billing.charged"})

	if got := len(exact.received()); got != 1 {
		t.Errorf("exact subscriber got %d events, want 1", got)
	}
	if got := len(all.received()); got != 3 {
		t.Errorf("wildcard subscriber got %d events, want 3", got)
	}
}

func TestEventBus_PopulatesIDAndTimestamp(t *testing.T) {
	bus := NewEventBus(discardLogger())
	c := &eventCollector{}
	if err := bus.Subscribe(event.Subscriber{Name: "c", EventType: "x", Handler: c.handle}); err != nil {
		t.Fatal(err)
	}

	bus.Publish(context.Background(), event.DomainEvent{Type: "x"})
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	bus.Publish(context.Background(), event.DomainEvent{ID: "given", Type: "x", Timestamp: fixed})

	got := c.received()
	if len(got) != 2 {
		t.Fatalf("received %d events, want 2", len(got))
	}
	if got[0].ID == "" || got[0].Timestamp.IsZero() {
		t.Errorf("event not enriched: %+v", got[0])
	}
	if got[1].ID != "given" || !got[1].Timestamp.Equal(fixed) {
		t.Errorf("explicit fields overwritten: %+v", got[1])
	}
}

func TestEventBus_FailureIsolation(t *testing.T) {
	defer goleak.VerifyNone(t)

	reporter := &recordingReporter{}
	obs := &countingEventObserver{}
	bus := NewEventBus(discardLogger(), WithErrorReporter(reporter), WithEventObserver(obs))

	sibling := &eventCollector{}
	subs := []event.Subscriber{
		{Name: "fails", EventType: "x", Handler: func(context.Context, event.DomainEvent) error {
			return errors.New("boom")
		}},
		{Name: "panics", EventType: "x", Handler: func(context.Context, event.DomainEvent) error {
			panic("kaboom")
		}},
		{Name: "sibling", EventType: "x", Handler: sibling.handle},
	}
	if err := bus.SubscribeAll(subs); err != nil {
		t.Fatal(err)
	}

	bus.Publish(context.Background(), event.DomainEvent{Type: "x"})

	if got := len(sibling.received()); got != 1 {
		t.Errorf("sibling got %d events, want 1", got)
	}
	if got := reporter.count(); got != 2 {
		t.Errorf("reported %d failures, want 2", got)
	}
	if got := obs.failures.Load(); got != 2 {
		t.Errorf("observed %d failures, want 2", got)
	}
	reporter.mu.Lock()
	for _, attrs := range reporter.attrs {
		if attrs["event_type"] != "x" || attrs["subscriber"] == "" {
			t.Errorf("report missing context: %v", attrs)
		}
	}
	reporter.mu.Unlock()
}

func TestEventBus_HandlersRunConcurrently(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := NewEventBus(discardLogger())
	const n = 3
	var arrived sync.WaitGroup
	arrived.Add(n)
	release := make(chan struct{})

	for i := 0; i < n; i++ {
		err := bus.Subscribe(event.Subscriber{Name: "waiter", EventType: "x", Handler: func(context.Context, event.DomainEvent) error {
			arrived.Done()
			<-release
			return nil
		}})
		if err != nil {
			t.Fatal(err)
		}
	}

	go func() {
		// Only reachable if all handlers are in flight at once.
		arrived.Wait()
		close(release)
	}()

	done := make(chan struct{})
	go func() {
		bus.Publish(context.Background(), event.DomainEvent{Type: "x"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Publish did not return; handlers are not concurrent")
	}
}

func TestEventBus_PublishWaitsForHandlers(t *testing.T) {
	bus := NewEventBus(discardLogger())
	var finished atomic.Bool
	err := bus.Subscribe(event.Subscriber{Name: "slow", EventType: "x", Handler: func(context.Context, event.DomainEvent) error {
		time.Sleep(20 * time.Millisecond)
		finished.Store(true)
		return nil
	}})
	if err != nil {
		t.Fatal(err)
	}

	bus.Publish(context.Background(), event.DomainEvent{Type: "x"})
	if !finished.Load() {
		t.Error("Publish returned before the handler settled")
	}
}

func TestEventBus_NoSubscribersIsNoop(t *testing.T) {
	obs := &countingEventObserver{}
	bus := NewEventBus(discardLogger(), WithEventObserver(obs))
	bus.Publish(context.Background(), event.DomainEvent{Type: "nobody.listens"})
	if obs.publishes.Load() != 1 {
		t.Errorf("publishes = %d, want 1", obs.publishes.Load())
	}
}

func TestEventBus_SubscribeValidation(t *testing.T) {
	noop := func(context.Context, event.DomainEvent) error { return nil }

	tests := []struct {
		name string
		sub  event.Subscriber
	}{
		{"missing name", event.Subscriber{EventType: "x", Handler: noop}},
		{"missing type", event.Subscriber{Name: "s", Handler: noop}},
		{"missing handler", event.Subscriber{Name: "s", EventType: "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := NewEventBus(discardLogger())
			if err := bus.Subscribe(tt.sub); !errors.Is(err, ErrInvalidSubscriber) {
				t.Errorf("Subscribe() error = %v, want ErrInvalidSubscriber", err)
			}
		})
	}

	t.Run("SubscribeAll is atomic", func(t *testing.T) {
		bus := NewEventBus(discardLogger())
		err := bus.SubscribeAll([]event.Subscriber{
			{Name: "ok", EventType: "x", Handler: noop},
			{Name: "bad", EventType: "x"},
		})
		if !errors.Is(err, ErrInvalidSubscriber) {
			t.Fatalf("SubscribeAll() error = %v", err)
		}
		if bus.SubscriberCount() != 0 {
			t.Errorf("SubscriberCount() = %d, want 0", bus.SubscriberCount())
		}
	})
}

func TestEventBus_CountAndClear(t *testing.T) {
	bus := NewEventBus(discardLogger())
	noop := func(context.Context, event.DomainEvent) error { return nil }
	_ = bus.Subscribe(event.Subscriber{Name: "a", EventType: "x", Handler: noop})
	_ = bus.Subscribe(event.Subscriber{Name: "b", EventType: "x", Handler: noop})
	_ = bus.Subscribe(event.Subscriber{Name: "c", EventType: event.Wildcard, Handler: noop})

	if got := bus.SubscriberCount(); got != 3 {
		t.Errorf("SubscriberCount() = %d, want 3", got)
	}
	bus.Clear()
	if got := bus.SubscriberCount(); got != 0 {
		t.Errorf("SubscriberCount() after Clear = %d, want 0", got)
	}
}
