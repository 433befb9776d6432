// Package config defines the appshell configuration file and its defaults.
//
// Configuration is read from appshell.yaml and APPSHELL_* environment
// variables (see loader.go), then defaulted and validated before use.
package config

// Config is the top-level appshell configuration.
type Config struct {
	// Server configures the operational HTTP listener and logging.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Audit configures the asynchronous audit trail.
	Audit AuditConfig `yaml:"audit" mapstructure:"audit"`

	// Storage selects the record store backend.
	Storage StorageConfig `yaml:"storage" mapstructure:"storage"`

	// Auth configures identities and the API keys that resolve to them.
	Auth AuthConfig `yaml:"auth" mapstructure:"auth"`

	// Webhooks lists the endpoints webhook side effects are delivered to.
	Webhooks []WebhookConfig `yaml:"webhooks" mapstructure:"webhooks" validate:"omitempty,dive"`

	// Telemetry configures dispatch tracing.
	Telemetry TelemetryConfig `yaml:"telemetry" mapstructure:"telemetry"`

	// MCP configures the MCP tool server.
	MCP MCPConfig `yaml:"mcp" mapstructure:"mcp"`

	// DevMode enables development defaults and debug logging.
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP server exposing /healthz and /metrics.
type ServerConfig struct {
	// HTTPAddr is the address to listen on. Defaults to "127.0.0.1:9090".
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// LogLevel sets the minimum log level. DevMode=true overrides to "debug".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`
}

// AuditConfig configures where and how audit records are written.
type AuditConfig struct {
	// Output is "stdout", "none", "sqlite" or "file://<absolute-path>".
	// "sqlite" writes to the storage database and requires storage.driver=sqlite.
	Output string `yaml:"output" mapstructure:"output" validate:"required,audit_output"`

	// ChannelSize is the buffered channel capacity between dispatch and the writer.
	ChannelSize int `yaml:"channel_size" mapstructure:"channel_size" validate:"omitempty,min=1"`

	// BatchSize is the number of records written per flush.
	BatchSize int `yaml:"batch_size" mapstructure:"batch_size" validate:"omitempty,min=1"`

	// FlushInterval is the maximum time a record waits before being written (e.g. "1s").
	FlushInterval string `yaml:"flush_interval" mapstructure:"flush_interval" validate:"omitempty,duration"`

	// SendTimeout is how long a dispatch waits on a full channel before dropping ("0" drops at once).
	SendTimeout string `yaml:"send_timeout" mapstructure:"send_timeout" validate:"omitempty,duration"`

	// WarningThreshold is the channel fill percentage that triggers a warning.
	WarningThreshold int `yaml:"warning_threshold" mapstructure:"warning_threshold" validate:"omitempty,min=1,max=100"`

	// BufferSize is the number of recent records kept in memory for queries.
	BufferSize int `yaml:"buffer_size" mapstructure:"buffer_size" validate:"omitempty,min=1"`

	// InputLimit is how many bytes of redacted input JSON a record keeps.
	InputLimit int `yaml:"input_limit" mapstructure:"input_limit" validate:"omitempty,min=16"`
}

// StorageConfig selects the record store.
type StorageConfig struct {
	// Driver is "memory" or "sqlite".
	Driver string `yaml:"driver" mapstructure:"driver" validate:"required,oneof=memory sqlite"`

	// Path is the SQLite database file. Required for the sqlite driver.
	Path string `yaml:"path" mapstructure:"path"`
}

// AuthConfig configures file-based authentication.
type AuthConfig struct {
	// Identities defines the known callers.
	Identities []IdentityConfig `yaml:"identities" mapstructure:"identities" validate:"omitempty,dive"`

	// APIKeys defines the API keys that map to identities.
	APIKeys []APIKeyConfig `yaml:"api_keys" mapstructure:"api_keys" validate:"omitempty,dive"`
}

// IdentityConfig defines a caller identity.
type IdentityConfig struct {
	// ID is the unique identifier, used as the caller's user id.
	ID string `yaml:"id" mapstructure:"id" validate:"required"`

	// Name is the human-readable name.
	Name string `yaml:"name" mapstructure:"name" validate:"required"`

	// TenantID is the tenant every dispatch of this identity is scoped to.
	TenantID string `yaml:"tenant_id" mapstructure:"tenant_id" validate:"required"`

	// Type is "human", "system" or "ai-agent". Defaults to "human".
	Type string `yaml:"type" mapstructure:"type" validate:"omitempty,caller_type"`

	// Roles are evaluated by action permission rules.
	Roles []string `yaml:"roles" mapstructure:"roles"`
}

// APIKeyConfig defines an API key that authenticates as an identity.
type APIKeyConfig struct {
	// KeyHash is "sha256:<hex>" or an Argon2id PHC string ("$argon2id$...").
	// Generate one with `appshell hash-key`.
	KeyHash string `yaml:"key_hash" mapstructure:"key_hash" validate:"required,key_hash"`

	// IdentityID references an entry in Auth.Identities.
	IdentityID string `yaml:"identity_id" mapstructure:"identity_id" validate:"required"`

	// Name labels the key in listings.
	Name string `yaml:"name" mapstructure:"name"`
}

// WebhookConfig defines a webhook endpoint.
type WebhookConfig struct {
	// Name identifies the endpoint in logs. Must be unique.
	Name string `yaml:"name" mapstructure:"name" validate:"required"`

	// URL receives the signed POST.
	URL string `yaml:"url" mapstructure:"url" validate:"required,url"`

	// Secret signs deliveries with HMAC-SHA256.
	Secret string `yaml:"secret" mapstructure:"secret"`

	// Events limits deliveries to these webhook event names. Empty means all.
	Events []string `yaml:"events" mapstructure:"events"`

	// AllowPrivate permits URLs that resolve to loopback, private or
	// link-local addresses. Off by default.
	AllowPrivate bool `yaml:"allow_private" mapstructure:"allow_private"`

	// MaxAttempts bounds delivery attempts. Defaults to 4.
	MaxAttempts int `yaml:"max_attempts" mapstructure:"max_attempts" validate:"omitempty,min=1,max=10"`
}

// TelemetryConfig configures tracing.
type TelemetryConfig struct {
	// Enabled exports dispatch spans to stdout.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// ServiceName is reported as service.name. Defaults to "appshell".
	ServiceName string `yaml:"service_name" mapstructure:"service_name"`

	// Pretty indents exported spans.
	Pretty bool `yaml:"pretty" mapstructure:"pretty"`
}

// MCPConfig configures the MCP tool server.
type MCPConfig struct {
	// IdentityID is the identity MCP tool calls run as (always as an ai-agent).
	IdentityID string `yaml:"identity_id" mapstructure:"identity_id"`
}

// SetDevDefaults applies permissive defaults for development mode.
// They are applied before validation so required fields are satisfied.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}

	if len(c.Auth.Identities) == 0 {
		c.Auth.Identities = []IdentityConfig{
			{
				ID:       "dev-user",
				Name:     "Development User",
				TenantID: "dev",
				Type:     "human",
				Roles:    []string{"admin"},
			},
		}
	}

	// SHA256 of "dev-api-key"
	if len(c.Auth.APIKeys) == 0 {
		c.Auth.APIKeys = []APIKeyConfig{
			{
				KeyHash:    "sha256:6e1e4e1b8f8b36d08901cdb51b97841dfe20f5efd2fd2fd00768971408c46274",
				IdentityID: c.Auth.Identities[0].ID,
				Name:       "dev",
			},
		}
	}

	if c.MCP.IdentityID == "" {
		c.MCP.IdentityID = c.Auth.Identities[0].ID
	}

	c.Server.LogLevel = "debug"
}

// SetDefaults applies sensible default values to the configuration.
func (c *Config) SetDefaults() {
	// Bind to localhost only unless told otherwise.
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:9090"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}

	if c.Audit.Output == "" {
		c.Audit.Output = "stdout"
	}
	if c.Audit.ChannelSize == 0 {
		c.Audit.ChannelSize = 1000
	}
	if c.Audit.BatchSize == 0 {
		c.Audit.BatchSize = 100
	}
	if c.Audit.FlushInterval == "" {
		c.Audit.FlushInterval = "1s"
	}
	if c.Audit.SendTimeout == "" {
		c.Audit.SendTimeout = "0s"
	}
	if c.Audit.WarningThreshold == 0 {
		c.Audit.WarningThreshold = 80
	}
	if c.Audit.BufferSize == 0 {
		c.Audit.BufferSize = 1000
	}
	if c.Audit.InputLimit == 0 {
		c.Audit.InputLimit = 1000
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}

	for i := range c.Auth.Identities {
		if c.Auth.Identities[i].Type == "" {
			c.Auth.Identities[i].Type = "human"
		}
	}
	for i := range c.Webhooks {
		if c.Webhooks[i].MaxAttempts == 0 {
			c.Webhooks[i].MaxAttempts = 4
		}
	}

	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "appshell"
	}
}

// Identity returns the identity with id.
func (c *Config) Identity(id string) (IdentityConfig, bool) {
	for _, identity := range c.Auth.Identities {
		if identity.ID == id {
			return identity, true
		}
	}
	return IdentityConfig{}, false
}
