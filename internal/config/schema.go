// Package config handles YAML configuration loading, environment variable
// expansion, and structural validation for agentd.
package config

import (
	"time"

	"github.com/flemzord/agentd/internal/telemetry"
	"github.com/flemzord/agentd/internal/toolgroup"
)

// Config is the top-level configuration structure.
type Config struct {
	// Version is the config format version. Currently only "1" is
	// supported.
	Version string `yaml:"version"`

	Storage   StorageConfig   `yaml:"storage"`
	Scheduler SchedulerConfig `yaml:"scheduler,omitempty"`
	Executor  ExecutorConfig  `yaml:"executor,omitempty"`
	Engine    EngineConfig    `yaml:"engine"`
	Gateway   GatewayConfig   `yaml:"gateway"`

	// ToolGroups maps group names to their transport configuration.
	ToolGroups map[string]toolgroup.Config `yaml:"tool_groups,omitempty"`

	Telemetry TelemetryConfig `yaml:"telemetry,omitempty"`
	Log       LogConfig       `yaml:"log,omitempty"`
}

// StorageConfig locates the flat-file entity roots.
type StorageConfig struct {
	AgentsRoot     string `yaml:"agents_root"`
	RunsRoot       string `yaml:"runs_root"`
	WorkspacesRoot string `yaml:"workspaces_root"`
}

// SchedulerConfig tunes scheduling behavior.
type SchedulerConfig struct {
	// CatchupDelay separates serialized catch-up runs after startup.
	CatchupDelay time.Duration `yaml:"catchup_delay,omitempty"`

	// HistoryDaysToKeep drives the daily run-history cleanup job.
	// Zero disables cleanup.
	HistoryDaysToKeep int `yaml:"history_days_to_keep,omitempty"`
}

// ExecutorConfig tunes per-run limits and the retry policy. Zero fields
// fall back to the executor's defaults.
type ExecutorConfig struct {
	Timeout        time.Duration `yaml:"timeout,omitempty"`
	ToolCallLimit  int           `yaml:"tool_call_limit,omitempty"`
	MaxAttempts    int           `yaml:"max_attempts,omitempty"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay,omitempty"`
}

// EngineConfig locates the external execution engine.
type EngineConfig struct {
	// Endpoint is the engine's streaming run endpoint.
	Endpoint string `yaml:"endpoint"`

	// APIKey authenticates toward the engine. Usually set via
	// ${AGENTD_ENGINE_KEY}.
	APIKey string `yaml:"api_key,omitempty"`
}

// GatewayConfig controls the HTTP management surface.
type GatewayConfig struct {
	// Bind is the listen address (e.g. ":8420").
	Bind string `yaml:"bind"`

	// AuthToken protects the management API. Empty disables the API
	// (health, metrics, and webhook ingress stay reachable).
	AuthToken string `yaml:"auth_token,omitempty"`

	// Webhooks maps source names to their ingress settings.
	Webhooks map[string]WebhookSourceConfig `yaml:"webhooks,omitempty"`
}

// WebhookSourceConfig is per-source webhook ingress configuration.
type WebhookSourceConfig struct {
	// Secret enables HMAC-SHA256 signature validation when set.
	Secret string `yaml:"secret,omitempty"`
}

// TelemetryConfig groups observability settings.
type TelemetryConfig struct {
	Tracing telemetry.TracingConfig `yaml:"tracing,omitempty"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	// Level is one of debug, info, warn, error. Defaults to info.
	Level string `yaml:"level,omitempty"`
}
