package service

import (
	"context"
	"fmt"
	"log/slog"

	celeval "github.com/appshell/appshell/internal/adapter/outbound/cel"
	"github.com/appshell/appshell/internal/domain/action"
	"github.com/appshell/appshell/internal/domain/event"
)

// ConditionEvaluator decides whether a side effect's When expression holds.
type ConditionEvaluator interface {
	Match(ctx context.Context, expr string, vars celeval.Vars) (bool, error)
}

// SideEffectProcessor turns the side effects declared on a definition into
// domain events after a successful dispatch. Every failure is logged and
// swallowed: by the time side effects run the action has already succeeded.
type SideEffectProcessor struct {
	publisher  event.Publisher
	conditions ConditionEvaluator
	logger     *slog.Logger
}

// NewSideEffectProcessor creates a processor. conditions may be nil, in which
// case side effects with a When expression are skipped.
func NewSideEffectProcessor(publisher event.Publisher, conditions ConditionEvaluator, logger *slog.Logger) *SideEffectProcessor {
	return &SideEffectProcessor{
		publisher:  publisher,
		conditions: conditions,
		logger:     logger,
	}
}

// Process handles every side effect of def in declaration order.
func (p *SideEffectProcessor) Process(ctx context.Context, def action.Definition, input, output any, caller action.Caller) {
	for i, se := range def.SideEffects {
		logger := p.logger.With("action", def.ID, "side_effect", string(se.Type), "index", i)
		if err := p.processOne(ctx, def.ID, se, input, output, caller); err != nil {
			logger.Warn("side effect failed", "error", err)
		}
	}
}

func (p *SideEffectProcessor) processOne(ctx context.Context, actionID string, se action.SideEffect, input, output any, caller action.Caller) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("side effect panicked: %v", r)
		}
	}()

	if se.When != "" {
		if p.conditions == nil {
			return fmt.Errorf("condition %q cannot be evaluated: no evaluator configured", se.When)
		}
		ok, err := p.conditions.Match(ctx, se.When, celeval.Vars{
			ActionID: actionID,
			Input:    input,
			Output:   output,
			Caller:   caller,
		})
		if err != nil {
			return fmt.Errorf("evaluate condition: %w", err)
		}
		if !ok {
			p.logger.Debug("side effect skipped by condition", "action", actionID, "when", se.When)
			return nil
		}
	}

	evt, err := buildSideEffectEvent(actionID, se, input, output, caller)
	if err != nil {
		return err
	}
	p.publisher.Publish(ctx, evt)
	return nil
}

// buildSideEffectEvent maps a declared side effect to the event it publishes.
func buildSideEffectEvent(actionID string, se action.SideEffect, input, output any, caller action.Caller) (event.DomainEvent, error) {
	evt := event.DomainEvent{TenantID: caller.TenantID}

	switch se.Type {
	case action.SideEffectEmitEvent:
		eventType := configString(se.Config, "eventType", "")
		if eventType == "" {
			return evt, fmt.Errorf("emit_event requires config.eventType")
		}
		evt.Type = eventType
		evt.Payload = map[string]any{
			"actionId": actionID,
			"input":    input,
			"output":   output,
		}

	case action.SideEffectNotify:
		evt.Type = event.TypeNotificationRequested
		evt.Payload = map[string]any{
			"actionId": actionID,
			"userId":   configString(se.Config, "userId", caller.UserID),
			"channel":  configString(se.Config, "channel", "in_app"),
			"template": configString(se.Config, "template", actionID),
			"output":   output,
		}

	case action.SideEffectWebhook:
		evt.Type = event.TypeWebhookTriggered
		evt.Payload = map[string]any{
			"event":    configString(se.Config, "event", actionID),
			"actionId": actionID,
			"output":   output,
		}

	default:
		return evt, fmt.Errorf("unknown side effect type %q", se.Type)
	}
	return evt, nil
}

func configString(cfg map[string]any, key, fallback string) string {
	if s, ok := cfg[key].(string); ok && s != "" {
		return s
	}
	return fallback
}
