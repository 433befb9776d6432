package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	httpadapter "github.com/appshell/appshell/internal/adapter/inbound/http"
	celeval "github.com/appshell/appshell/internal/adapter/outbound/cel"
	"github.com/appshell/appshell/internal/adapter/outbound/memory"
	"github.com/appshell/appshell/internal/adapter/outbound/sqlite"
	"github.com/appshell/appshell/internal/adapter/outbound/telemetry"
	"github.com/appshell/appshell/internal/adapter/outbound/webhook"
	"github.com/appshell/appshell/internal/builtin"
	"github.com/appshell/appshell/internal/config"
	"github.com/appshell/appshell/internal/domain/action"
	"github.com/appshell/appshell/internal/domain/audit"
	"github.com/appshell/appshell/internal/domain/auth"
	"github.com/appshell/appshell/internal/domain/event"
	"github.com/appshell/appshell/internal/domain/record"
	"github.com/appshell/appshell/internal/service"
)

var devMode bool

// loadConfig reads the config, applies the --dev flag, then defaults and validation.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if devMode {
		cfg.DevMode = true
	}
	if err := cfg.Finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the stderr logger. DevMode always forces debug.
func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	level := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// parseLogLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// app holds the wired pipeline and everything that must be shut down with it.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *action.Registry
	bus      *service.ActionBus
	events   *service.EventBus
	audit    *service.AuditService
	apiKeys  *auth.APIKeyService
	metrics  *prometheus.Registry
	health   *httpadapter.HealthChecker

	closers []func(context.Context) error
}

// bootstrap wires storage, audit, telemetry, the event bus and its
// subscribers, the action bus and the builtin actions. stdout receives
// "stdout" audit output and trace exports; commands that own stdout
// (dispatch, mcp) pass stderr instead.
func bootstrap(ctx context.Context, cfg *config.Config, logger *slog.Logger, stdout io.Writer) (_ *app, err error) {
	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: action.NewRegistry(),
		metrics:  prometheus.NewRegistry(),
	}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	a.metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := httpadapter.NewMetrics(a.metrics)

	// Storage
	var (
		records record.Provider
		db      *sqlite.Store
		pinger  httpadapter.Pinger
	)
	switch cfg.Storage.Driver {
	case "sqlite":
		db, err = sqlite.Open(cfg.Storage.Path)
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return db.Close() })
		records, pinger = db, db
		logger.Debug("storage: sqlite", "path", cfg.Storage.Path)
	default:
		records = memory.NewRecordStore()
		logger.Debug("storage: memory")
	}

	// Audit trail
	auditStore, auditQuery, err := createAuditStore(cfg, db, stdout, logger)
	if err != nil {
		return nil, err
	}
	auditOpts, err := auditOptions(cfg.Audit)
	if err != nil {
		return nil, err
	}
	auditOpts = append(auditOpts, service.WithAuditObserver(metrics))
	a.audit = service.NewAuditService(auditStore, logger, auditOpts...)
	a.audit.Start(ctx)
	// Closers run in reverse: the audit worker drains before the store closes.
	// A sqlite audit store is the storage db, which is closed with the rest of storage.
	if cfg.Audit.Output != "sqlite" {
		a.closers = append(a.closers, func(context.Context) error { return auditStore.Close() })
	}
	a.closers = append(a.closers, func(context.Context) error {
		a.audit.Stop()
		return nil
	})

	// Tracing
	tp, shutdownTracing, err := telemetry.Setup(ctx, telemetry.Options{
		Enabled:     cfg.Telemetry.Enabled,
		ServiceName: cfg.Telemetry.ServiceName,
		Writer:      stdout,
		Pretty:      cfg.Telemetry.Pretty,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, shutdownTracing)

	// Event bus and subscribers
	a.events = service.NewEventBus(logger, service.WithEventObserver(metrics))
	if err := a.events.SubscribeAll(subscribers(cfg, logger)); err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	evaluator, err := celeval.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("create condition evaluator: %w", err)
	}

	a.bus = service.NewActionBus(a.registry, a.events, records, logger,
		service.WithAuditRecorder(a.audit),
		service.WithDispatchObserver(metrics),
		service.WithTracer(tp.Tracer(telemetry.TracerName)),
		service.WithConditionEvaluator(evaluator),
		service.WithAuditInputLimit(cfg.Audit.InputLimit),
	)
	// Side effects finish before the audit worker stops.
	a.closers = append(a.closers, func(context.Context) error {
		a.bus.Wait()
		return nil
	})
	if err := a.bus.RegisterActions(builtin.All(a.registry, auditQuery)...); err != nil {
		return nil, fmt.Errorf("register builtin actions: %w", err)
	}

	authStore := memory.NewAuthStore()
	seedAuthFromConfig(cfg, authStore)
	a.apiKeys = auth.NewAPIKeyService(authStore)

	a.health = httpadapter.NewHealthChecker(a.registry, a.audit, pinger, Version)

	logger.Debug("pipeline ready",
		"actions", a.registry.Len(),
		"subscribers", a.events.SubscriberCount(),
		"audit_output", cfg.Audit.Output,
	)
	return a, nil
}

// Close shuts components down in reverse order of startup.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// callerFor resolves a CLI caller: an API key is authenticated, an identity
// id is trusted as configured.
func (a *app) callerFor(ctx context.Context, apiKey, identityID string) (action.Caller, error) {
	if apiKey != "" {
		caller, err := a.apiKeys.Resolve(ctx, apiKey)
		if err != nil {
			return action.Caller{}, fmt.Errorf("authenticate: %w", err)
		}
		return caller, nil
	}
	if identityID == "" {
		return action.Caller{}, errors.New("either --api-key or --identity is required")
	}
	identity, ok := a.cfg.Identity(identityID)
	if !ok {
		return action.Caller{}, fmt.Errorf("unknown identity %q", identityID)
	}
	return identityFromConfig(identity).Caller(), nil
}

// createAuditStore builds the store for cfg.Audit.Output. The second return
// value serves system.audit.list.
func createAuditStore(cfg *config.Config, db *sqlite.Store, stdout io.Writer, logger *slog.Logger) (audit.AuditStore, audit.AuditQueryStore, error) {
	output := cfg.Audit.Output
	switch {
	case output == "stdout":
		logger.Debug("audit output: stdout", "buffer_size", cfg.Audit.BufferSize)
		s := memory.NewAuditStoreWithWriter(stdout, cfg.Audit.BufferSize)
		return s, s, nil

	case output == "none":
		s := memory.NewAuditStoreWithWriter(io.Discard, cfg.Audit.BufferSize)
		return s, s, nil

	case output == "sqlite":
		if db == nil {
			return nil, nil, errors.New("audit output sqlite requires storage.driver sqlite")
		}
		logger.Debug("audit output: sqlite", "path", cfg.Storage.Path)
		return db, db, nil

	case strings.HasPrefix(output, "file://"):
		path := parseFileURI(output)
		if path == "" {
			return nil, nil, fmt.Errorf("invalid audit file URI: %s", output)
		}
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open audit file %s: %w", path, err)
		}
		logger.Debug("audit output: file", "path", path, "buffer_size", cfg.Audit.BufferSize)
		s := memory.NewAuditStoreWithWriter(f, cfg.Audit.BufferSize)
		return s, s, nil

	default:
		return nil, nil, fmt.Errorf("invalid audit output: %s", output)
	}
}

// parseFileURI extracts the file path from a "file:///path" URI.
func parseFileURI(uri string) string {
	path, ok := strings.CutPrefix(uri, "file://")
	if !ok {
		return ""
	}
	return path
}

func auditOptions(cfg config.AuditConfig) ([]service.AuditOption, error) {
	flush, err := time.ParseDuration(cfg.FlushInterval)
	if err != nil {
		return nil, fmt.Errorf("audit.flush_interval: %w", err)
	}
	send, err := time.ParseDuration(cfg.SendTimeout)
	if err != nil {
		return nil, fmt.Errorf("audit.send_timeout: %w", err)
	}
	return []service.AuditOption{
		service.WithChannelSize(cfg.ChannelSize),
		service.WithBatchSize(cfg.BatchSize),
		service.WithFlushInterval(flush),
		service.WithSendTimeout(send),
		service.WithWarningThreshold(cfg.WarningThreshold),
	}, nil
}

// subscribers returns the event bus subscriptions built from config.
func subscribers(cfg *config.Config, logger *slog.Logger) []event.Subscriber {
	subs := []event.Subscriber{notificationLogger(logger)}
	if len(cfg.Webhooks) == 0 {
		return subs
	}

	endpoints := make([]webhook.Endpoint, len(cfg.Webhooks))
	maxAttempts := 0
	for i, w := range cfg.Webhooks {
		endpoints[i] = webhook.Endpoint{
			Name:         w.Name,
			URL:          w.URL,
			Secret:       w.Secret,
			Events:       w.Events,
			AllowPrivate: w.AllowPrivate,
		}
		maxAttempts = max(maxAttempts, w.MaxAttempts)
	}
	d := webhook.NewDeliverer(endpoints, logger,
		webhook.WithPrivateNetworkGuard(),
		webhook.WithRetry(maxAttempts, 0, 0),
	)
	return append(subs, d.Subscriber())
}

// notificationLogger logs notification requests. It stands in for a
// delivery channel until one is configured.
func notificationLogger(logger *slog.Logger) event.Subscriber {
	return event.Subscriber{
		Name:      "notification-log",
		EventType: event.TypeNotificationRequested,
		Handler: func(_ context.Context, evt event.DomainEvent) error {
			attrs := []any{"event_id", evt.ID, "tenant_id", evt.TenantID}
			if p, ok := evt.Payload.(map[string]any); ok {
				attrs = append(attrs,
					"user_id", p["userId"],
					"channel", p["channel"],
					"template", p["template"],
					"action_id", p["actionId"],
				)
			}
			logger.Info("notification requested", attrs...)
			return nil
		},
	}
}

// seedAuthFromConfig loads identities and API keys from config into the auth store.
func seedAuthFromConfig(cfg *config.Config, authStore *memory.AuthStore) {
	for _, identityCfg := range cfg.Auth.Identities {
		authStore.AddIdentity(identityFromConfig(identityCfg))
	}

	for _, keyCfg := range cfg.Auth.APIKeys {
		// Config stores "sha256:abc123", the store looks up raw "abc123".
		hash := strings.TrimPrefix(keyCfg.KeyHash, "sha256:")
		authStore.AddKey(&auth.APIKey{
			Key:        hash,
			IdentityID: keyCfg.IdentityID,
			Name:       keyCfg.Name,
			CreatedAt:  time.Now().UTC(),
		})
	}
}

func identityFromConfig(c config.IdentityConfig) *auth.Identity {
	return &auth.Identity{
		ID:       c.ID,
		Name:     c.Name,
		TenantID: c.TenantID,
		Type:     action.CallerType(c.Type),
		Roles:    append([]string(nil), c.Roles...),
	}
}
