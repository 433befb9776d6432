package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/appshell/appshell/internal/domain/action"
	"github.com/appshell/appshell/internal/domain/audit"
	"github.com/appshell/appshell/internal/domain/event"
	"github.com/appshell/appshell/internal/domain/record"
	"github.com/appshell/appshell/internal/domain/schema"
)

// Caller-visible messages for failures detected by the pipeline itself.
const (
	msgInvalidInput     = "Invalid input"
	msgPermissionDenied = "Permission denied"
	msgRecordNotFound   = "Record not found"
	msgUnexpected       = "An unexpected error occurred"
)

// AuditRecorder accepts audit records without blocking. *AuditService implements it.
type AuditRecorder interface {
	Record(record audit.AuditRecord)
}

// ActionBus is the dispatch pipeline. Every operation, whatever triggered it,
// goes through Dispatch: lookup, input validation, authorization, the before
// chain, the handler, the after chain, then detached side effects and a
// fire-and-forget audit record.
type ActionBus struct {
	registry *action.Registry
	events   event.Publisher
	records  record.Provider
	effects  *SideEffectProcessor
	logger   *slog.Logger

	audit      AuditRecorder
	observer   DispatchObserver
	tracer     trace.Tracer
	conditions ConditionEvaluator
	inputLimit int

	newID func() string
	now   func() time.Time

	// tasks tracks detached side-effect goroutines.
	tasks sync.WaitGroup
}

// ActionBusOption configures ActionBus.
type ActionBusOption func(*ActionBus)

// WithAuditRecorder sends one audit record per dispatch to r.
func WithAuditRecorder(r AuditRecorder) ActionBusOption {
	return func(b *ActionBus) {
		b.audit = r
	}
}

// WithDispatchObserver records dispatch outcomes and latency.
func WithDispatchObserver(o DispatchObserver) ActionBusOption {
	return func(b *ActionBus) {
		if o != nil {
			b.observer = o
		}
	}
}

// WithTracer wraps every dispatch in a span from t.
func WithTracer(t trace.Tracer) ActionBusOption {
	return func(b *ActionBus) {
		if t != nil {
			b.tracer = t
		}
	}
}

// WithConditionEvaluator enables When conditions on side effects.
func WithConditionEvaluator(c ConditionEvaluator) ActionBusOption {
	return func(b *ActionBus) {
		b.conditions = c
	}
}

// WithAuditInputLimit sets how many bytes of input JSON an audit record keeps.
func WithAuditInputLimit(n int) ActionBusOption {
	return func(b *ActionBus) {
		if n > 0 {
			b.inputLimit = n
		}
	}
}

// NewActionBus creates a dispatch pipeline over registry. Emitted events and
// side effects are published on events; handlers get a data handle from records.
func NewActionBus(registry *action.Registry, events event.Publisher, records record.Provider, logger *slog.Logger, opts ...ActionBusOption) *ActionBus {
	b := &ActionBus{
		registry:   registry,
		events:     events,
		records:    records,
		logger:     logger,
		observer:   nopObserver{},
		tracer:     noop.NewTracerProvider().Tracer(""),
		inputLimit: audit.DefaultInputLimit,
		newID:      uuid.NewString,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(b)
	}
	b.effects = NewSideEffectProcessor(events, b.conditions, logger)
	return b
}

// Registry returns the registry the bus dispatches from.
func (b *ActionBus) Registry() *action.Registry {
	return b.registry
}

// RegisterActions registers defs atomically.
func (b *ActionBus) RegisterActions(defs ...action.Definition) error {
	return b.registry.RegisterMany(defs)
}

// InstallActions hot-installs defs. IDs that are already registered are
// skipped with a warning so an install can be re-run; an invalid definition
// stops the install and is returned. installed counts the added actions.
func (b *ActionBus) InstallActions(defs ...action.Definition) (installed int, err error) {
	for _, def := range defs {
		ok, err := b.registry.Install(def)
		if err != nil {
			return installed, err
		}
		if !ok {
			b.logger.Warn("action already registered, skipping install", "action", def.ID)
			continue
		}
		installed++
	}
	return installed, nil
}

// Wait blocks until every detached side-effect task has finished.
func (b *ActionBus) Wait() {
	b.tasks.Wait()
}

// dispatchOutcome carries what the pipeline learned beyond the result.
type dispatchOutcome struct {
	def   action.Definition
	input any
	cause error // internal error; never shown to the caller
}

// Dispatch runs actionID with rawInput on behalf of caller. It never returns
// an error and never panics: every failure is folded into the result.
func (b *ActionBus) Dispatch(ctx context.Context, actionID string, rawInput any, caller action.Caller) action.Result {
	start := time.Now()
	requestID := b.newID()

	ctx, span := b.tracer.Start(ctx, "action.dispatch", trace.WithAttributes(
		attribute.String("action.id", actionID),
		attribute.String("tenant.id", caller.TenantID),
		attribute.String("caller.type", string(caller.Type)),
		attribute.String("request.id", requestID),
	))
	defer span.End()

	logger := b.logger.With(
		"request_id", requestID,
		"action", actionID,
		"tenant", caller.TenantID,
		"user", caller.UserID,
	)

	result, out := b.run(ctx, actionID, rawInput, caller, requestID, logger)
	duration := time.Since(start)

	outcome := "success"
	if !result.Success {
		outcome = string(result.ErrorType)
		span.SetStatus(codes.Error, string(result.ErrorType))
		if out.cause != nil {
			span.RecordError(out.cause)
			logger.Error("action failed", "error_type", result.ErrorType, "error", out.cause)
		} else {
			logger.Info("action rejected", "error_type", result.ErrorType, "reason", result.Error)
		}
	} else {
		logger.Debug("action succeeded", "duration", duration)
	}
	span.SetAttributes(attribute.String("action.outcome", outcome))
	b.observer.ObserveDispatch(actionID, outcome, duration)

	if result.Success && len(out.def.SideEffects) > 0 {
		b.scheduleSideEffects(ctx, out.def, out.input, result.Data, caller)
	}

	b.recordAudit(span, actionID, rawInput, caller, requestID, result, out.cause, start, duration)
	return result
}

// run executes the pipeline steps up to and including the after chain.
// A failure at any step stops the remaining ones.
func (b *ActionBus) run(ctx context.Context, actionID string, rawInput any, caller action.Caller, requestID string, logger *slog.Logger) (action.Result, dispatchOutcome) {
	var out dispatchOutcome

	def, ok := b.registry.Get(actionID)
	if !ok {
		return action.Fail(action.ErrorNotFound, fmt.Sprintf("Action %q not found", actionID), nil), out
	}
	out.def = def

	input, err := schema.Validate(def.InputSchema, rawInput)
	if err != nil {
		return validationFailure(err), out
	}

	if decision := action.Authorize(caller, def.Permissions); !decision.Allowed() {
		logger.Debug("permission denied", "rule", decision.Rule)
		return action.Fail(action.ErrorPermission, msgPermissionDenied, nil), out
	}

	db, err := b.records.ForTenant(caller.TenantID)
	if err != nil {
		out.cause = fmt.Errorf("open tenant store: %w", err)
		return action.Fail(action.ErrorUnknown, msgUnexpected, nil), out
	}

	actx := action.NewContext(caller, db, logger, requestID, actionID, b.events.Publish)

	for i, hook := range def.Before {
		input, err = invokeStep(func() (any, error) { return hook(ctx, input, actx) })
		if err != nil {
			out.cause = fmt.Errorf("before hook %d: %w", i, err)
			return failureFor(err), out
		}
	}
	out.input = input

	output, err := invokeStep(func() (any, error) { return def.Handler(ctx, input, actx) })
	if err != nil {
		out.cause = fmt.Errorf("handler: %w", err)
		return failureFor(err), out
	}

	for i, hook := range def.After {
		output, err = invokeStep(func() (any, error) { return hook(ctx, output, actx) })
		if err != nil {
			out.cause = fmt.Errorf("after hook %d: %w", i, err)
			return failureFor(err), out
		}
	}

	return action.Ok(output), out
}

// scheduleSideEffects runs def's side effects as a detached task. The task
// outlives the caller's context cancellation and is tracked by Wait.
func (b *ActionBus) scheduleSideEffects(ctx context.Context, def action.Definition, input, output any, caller action.Caller) {
	detached := context.WithoutCancel(ctx)
	b.tasks.Add(1)
	go func() {
		defer b.tasks.Done()
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error("side effect task panicked", "action", def.ID, "panic", r)
			}
		}()
		b.effects.Process(detached, def, input, output, caller)
	}()
}

func (b *ActionBus) recordAudit(span trace.Span, actionID string, rawInput any, caller action.Caller, requestID string, result action.Result, cause error, start time.Time, duration time.Duration) {
	if b.audit == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("audit recording panicked", "action", actionID, "panic", r)
		}
	}()

	summary, hash := audit.SummarizeInput(rawInput, b.inputLimit)
	rec := audit.AuditRecord{
		Timestamp:      start.UTC(),
		RequestID:      requestID,
		TenantID:       caller.TenantID,
		UserID:         caller.UserID,
		CallerType:     string(caller.Type),
		ActionID:       actionID,
		Success:        result.Success,
		DurationMicros: duration.Microseconds(),
		Input:          summary,
		InputHash:      hash,
	}
	if sc := span.SpanContext(); sc.IsValid() {
		rec.TraceID = sc.TraceID().String()
	}
	if !result.Success {
		rec.ErrorType = string(result.ErrorType)
		rec.Error = result.Error
		if cause != nil {
			rec.Error = cause.Error()
		}
	}
	b.audit.Record(rec)
}

// invokeStep runs one hook or handler, converting a panic into an error.
func invokeStep(fn func() (any, error)) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

// validationFailure converts a schema error into a validation result.
func validationFailure(err error) action.Result {
	var verr *schema.ValidationError
	if !errors.As(err, &verr) {
		verr = schema.NewValidationError(schema.RootField, err.Error())
	}
	return action.Fail(action.ErrorValidation, msgInvalidInput, map[string]any{
		"fieldErrors": map[string][]string(verr.Fields),
	})
}

// failureFor maps an error from a hook or handler to a caller-safe result.
// Only errors the action code raised deliberately keep their message.
func failureFor(err error) action.Result {
	var aerr *action.Error
	if errors.As(err, &aerr) && aerr.Type != "" {
		if aerr.Type == action.ErrorUnknown {
			return action.Fail(action.ErrorUnknown, msgUnexpected, nil)
		}
		return action.Fail(aerr.Type, aerr.Message, aerr.Details)
	}
	var verr *schema.ValidationError
	if errors.As(err, &verr) {
		return validationFailure(verr)
	}
	if errors.Is(err, record.ErrNotFound) {
		return action.Fail(action.ErrorNotFound, msgRecordNotFound, nil)
	}
	return action.Fail(action.ErrorUnknown, msgUnexpected, nil)
}
