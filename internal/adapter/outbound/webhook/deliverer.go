// Package webhook delivers webhook.triggered events to configured HTTP endpoints.
//
// Each delivery is a JSON POST signed with HMAC-SHA256 over the request body.
// Failed deliveries (transport errors, 5xx and 429 responses) are retried with
// exponential backoff. Other 4xx responses are not retried.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/appshell/appshell/internal/domain/event"
)

// ErrPrivateAddress is returned when a guarded delivery targets a private address.
var ErrPrivateAddress = errors.New("webhook endpoint resolves to a private address")

// Header names set on every delivery.
const (
	HeaderSignature = "X-AppShell-Signature"
	HeaderEvent     = "X-AppShell-Event"
	HeaderDelivery  = "X-AppShell-Delivery"
)

const (
	defaultMaxAttempts = 4
	defaultBackoffBase = 500 * time.Millisecond
	defaultBackoffCap  = 30 * time.Second
	defaultTimeout     = 10 * time.Second
)

// Endpoint is a subscribed webhook target.
type Endpoint struct {
	// Name identifies the endpoint in logs.
	Name string
	// URL receives the POST.
	URL string
	// Secret signs the body. Empty disables the signature header.
	Secret string
	// Events filters by the payload's "event" field. Empty or "*" matches all.
	Events []string
	// AllowPrivate exempts the endpoint from the private network guard.
	AllowPrivate bool
}

func (e Endpoint) accepts(name string) bool {
	if len(e.Events) == 0 {
		return true
	}
	for _, ev := range e.Events {
		if ev == event.Wildcard || ev == name {
			return true
		}
	}
	return false
}

// Delivery is the JSON body posted to endpoints.
type Delivery struct {
	ID        string    `json:"id"`
	Event     string    `json:"event"`
	TenantID  string    `json:"tenantId,omitempty"`
	ActionID  string    `json:"actionId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// Deliverer posts webhook events to endpoints.
type Deliverer struct {
	endpoints   []Endpoint
	client      *http.Client
	guarded     *http.Client
	logger      *slog.Logger
	maxAttempts int
	backoffBase time.Duration
	backoffCap  time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

// Option configures a Deliverer.
type Option func(*Deliverer)

// WithHTTPClient sets the client used for deliveries.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Deliverer) {
		if c != nil {
			d.client = c
		}
	}
}

// WithPrivateNetworkGuard refuses deliveries to endpoints that resolve to
// loopback, private or link-local addresses unless the endpoint sets
// AllowPrivate.
func WithPrivateNetworkGuard() Option {
	return func(d *Deliverer) {
		d.guarded = newGuardedClient(net.DefaultResolver.LookupIPAddr)
	}
}

// WithRetry sets the attempt limit and backoff bounds.
func WithRetry(maxAttempts int, base, cap time.Duration) Option {
	return func(d *Deliverer) {
		if maxAttempts > 0 {
			d.maxAttempts = maxAttempts
		}
		if base > 0 {
			d.backoffBase = base
		}
		if cap > 0 {
			d.backoffCap = cap
		}
	}
}

// NewDeliverer creates a Deliverer for endpoints.
func NewDeliverer(endpoints []Endpoint, logger *slog.Logger, opts ...Option) *Deliverer {
	d := &Deliverer{
		endpoints:   append([]Endpoint(nil), endpoints...),
		client:      &http.Client{Timeout: defaultTimeout},
		logger:      logger,
		maxAttempts: defaultMaxAttempts,
		backoffBase: defaultBackoffBase,
		backoffCap:  defaultBackoffCap,
		sleep:       sleepContext,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Subscriber returns the event bus subscription for webhook.triggered.
func (d *Deliverer) Subscriber() event.Subscriber {
	return event.Subscriber{
		Name:      "webhook-deliverer",
		EventType: event.TypeWebhookTriggered,
		Handler:   d.Handle,
	}
}

// Handle delivers evt to every matching endpoint concurrently and returns the
// joined delivery failures.
func (d *Deliverer) Handle(ctx context.Context, evt event.DomainEvent) error {
	delivery := newDelivery(evt)
	body, err := json.Marshal(delivery)
	if err != nil {
		return fmt.Errorf("encode webhook delivery: %w", err)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, ep := range d.endpoints {
		if !ep.accepts(delivery.Event) {
			continue
		}
		wg.Add(1)
		go func(ep Endpoint) {
			defer wg.Done()
			if err := d.deliver(ctx, ep, delivery, body); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("webhook %s: %w", ep.Name, err))
				mu.Unlock()
			}
		}(ep)
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (d *Deliverer) deliver(ctx context.Context, ep Endpoint, delivery Delivery, body []byte) error {
	var lastErr error
	for attempt := 0; attempt < d.maxAttempts; attempt++ {
		if attempt > 0 {
			if err := d.sleep(ctx, d.backoffDelay(attempt-1)); err != nil {
				return fmt.Errorf("%w (last error: %v)", err, lastErr)
			}
		}

		retry, err := d.post(ctx, ep, delivery, body)
		if err == nil {
			d.logger.Debug("webhook delivered",
				"endpoint", ep.Name,
				"event", delivery.Event,
				"attempt", attempt+1,
			)
			return nil
		}
		lastErr = err
		d.logger.Warn("webhook delivery failed",
			"endpoint", ep.Name,
			"event", delivery.Event,
			"attempt", attempt+1,
			"error", err,
		)
		if !retry {
			return err
		}
	}
	return fmt.Errorf("giving up after %d attempts: %w", d.maxAttempts, lastErr)
}

func (d *Deliverer) clientFor(ep Endpoint) *http.Client {
	if d.guarded != nil && !ep.AllowPrivate {
		return d.guarded
	}
	return d.client
}

// post performs one attempt. retry reports whether a failure is transient.
func (d *Deliverer) post(ctx context.Context, ep Endpoint, delivery Delivery, body []byte) (retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, delivery.Event)
	req.Header.Set(HeaderDelivery, delivery.ID)
	if ep.Secret != "" {
		req.Header.Set(HeaderSignature, "sha256="+Sign(ep.Secret, body))
	}

	resp, err := d.clientFor(ep).Do(req)
	if err != nil {
		if errors.Is(err, ErrPrivateAddress) {
			return false, err
		}
		return ctx.Err() == nil, err
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return false, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return true, fmt.Errorf("unexpected status %d", resp.StatusCode)
	default:
		return false, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
}

// backoffDelay returns min(base * 2^retry, cap).
func (d *Deliverer) backoffDelay(retry int) time.Duration {
	delay := d.backoffBase
	for i := 0; i < retry; i++ {
		delay *= 2
		if delay > d.backoffCap {
			return d.backoffCap
		}
	}
	if delay > d.backoffCap {
		return d.backoffCap
	}
	return delay
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature (with or without the "sha256=" prefix)
// matches body under secret.
func Verify(secret string, body []byte, signature string) bool {
	if len(signature) > 7 && signature[:7] == "sha256=" {
		signature = signature[7:]
	}
	return hmac.Equal([]byte(Sign(secret, body)), []byte(signature))
}

func newDelivery(evt event.DomainEvent) Delivery {
	delivery := Delivery{
		ID:        evt.ID,
		Event:     evt.Type,
		TenantID:  evt.TenantID,
		Timestamp: evt.Timestamp,
		Data:      evt.Payload,
	}
	if payload, ok := evt.Payload.(map[string]any); ok {
		if name, ok := payload["event"].(string); ok && name != "" {
			delivery.Event = name
		}
		if id, ok := payload["actionId"].(string); ok {
			delivery.ActionID = id
		}
		if out, ok := payload["output"]; ok {
			delivery.Data = out
		}
	}
	return delivery
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
