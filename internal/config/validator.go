package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/appshell/appshell/internal/domain/action"
)

// RegisterCustomValidators registers appshell-specific validation rules.
// Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	rules := map[string]validator.Func{
		"audit_output": validateAuditOutput,
		"caller_type":  validateCallerType,
		"duration":     validateDuration,
		"key_hash":     validateKeyHash,
	}
	for tag, fn := range rules {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return fmt.Errorf("failed to register %s validator: %w", tag, err)
		}
	}
	return nil
}

// validateAuditOutput accepts "stdout", "none", "sqlite" or "file://<absolute-path>".
func validateAuditOutput(fl validator.FieldLevel) bool {
	output := fl.Field().String()

	switch output {
	case "stdout", "none", "sqlite":
		return true
	}

	if strings.HasPrefix(output, "file://") {
		path := strings.TrimPrefix(output, "file://")
		return path != "" && filepath.IsAbs(path)
	}

	return false
}

func validateCallerType(fl validator.FieldLevel) bool {
	return action.CallerType(fl.Field().String()).IsValid()
}

func validateDuration(fl validator.FieldLevel) bool {
	d, err := time.ParseDuration(fl.Field().String())
	return err == nil && d >= 0
}

func validateKeyHash(fl validator.FieldLevel) bool {
	hash := fl.Field().String()
	if hex, ok := strings.CutPrefix(hash, "sha256:"); ok {
		return len(hex) == 64
	}
	return strings.HasPrefix(hash, "$argon2id$")
}

// Validate validates the Config using struct tags and custom cross-field rules.
// Returns an error if validation fails, with actionable error messages.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	for _, check := range []func() error{
		c.validateStorage,
		c.validateIdentityReferences,
		c.validateMCPIdentity,
		c.validateWebhookNames,
	} {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

// validateStorage ensures the sqlite driver has a path and sqlite audit has a database.
func (c *Config) validateStorage() error {
	if c.Storage.Driver == "sqlite" && strings.TrimSpace(c.Storage.Path) == "" {
		return errors.New("storage: path is required for the sqlite driver")
	}
	if c.Audit.Output == "sqlite" && c.Storage.Driver != "sqlite" {
		return errors.New("audit: output sqlite requires storage.driver sqlite")
	}
	return nil
}

// validateIdentityReferences ensures identity ids are unique and every API
// key references a known identity.
func (c *Config) validateIdentityReferences() error {
	knownIdentities := make(map[string]struct{}, len(c.Auth.Identities))
	for i, identity := range c.Auth.Identities {
		if _, dup := knownIdentities[identity.ID]; dup {
			return fmt.Errorf("identities[%d]: duplicate id: %s", i, identity.ID)
		}
		knownIdentities[identity.ID] = struct{}{}
	}

	for i, apiKey := range c.Auth.APIKeys {
		if _, exists := knownIdentities[apiKey.IdentityID]; !exists {
			return fmt.Errorf("api_keys[%d]: references unknown identity_id: %s", i, apiKey.IdentityID)
		}
	}

	return nil
}

func (c *Config) validateMCPIdentity() error {
	if c.MCP.IdentityID == "" {
		return nil
	}
	if _, ok := c.Identity(c.MCP.IdentityID); !ok {
		return fmt.Errorf("mcp: references unknown identity_id: %s", c.MCP.IdentityID)
	}
	return nil
}

func (c *Config) validateWebhookNames() error {
	seen := make(map[string]struct{}, len(c.Webhooks))
	for i, wh := range c.Webhooks {
		if _, dup := seen[wh.Name]; dup {
			return fmt.Errorf("webhooks[%d]: duplicate name: %s", i, wh.Name)
		}
		seen[wh.Name] = struct{}{}
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

// formatSingleValidationError creates a user-friendly message for a single validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()

	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "audit_output":
		return fmt.Sprintf("%s must be 'stdout', 'none', 'sqlite' or 'file://<absolute-path>'", field)
	case "caller_type":
		return fmt.Sprintf("%s must be one of: human system ai-agent", field)
	case "duration":
		return fmt.Sprintf("%s must be a non-negative duration such as 500ms or 1s", field)
	case "key_hash":
		return fmt.Sprintf("%s must be 'sha256:<64 hex chars>' or an argon2id hash", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, e.Tag())
	}
}
