package config

import (
	"errors"
	"fmt"
	"net"
)

// Validate checks the structural validity of a Config, collecting every
// problem rather than stopping at the first.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Version == "" {
		errs = append(errs, errors.New("config: version field is required"))
	} else if cfg.Version != "1" {
		errs = append(errs, fmt.Errorf("config: unsupported version %q (supported: \"1\")", cfg.Version))
	}

	if cfg.Storage.AgentsRoot == "" {
		errs = append(errs, errors.New("config: storage.agents_root is required"))
	}
	if cfg.Storage.RunsRoot == "" {
		errs = append(errs, errors.New("config: storage.runs_root is required"))
	}
	if cfg.Storage.WorkspacesRoot == "" {
		errs = append(errs, errors.New("config: storage.workspaces_root is required"))
	}

	if cfg.Engine.Endpoint == "" {
		errs = append(errs, errors.New("config: engine.endpoint is required"))
	}

	if cfg.Gateway.Bind == "" {
		errs = append(errs, errors.New("config: gateway.bind is required"))
	} else if _, err := net.ResolveTCPAddr("tcp", cfg.Gateway.Bind); err != nil {
		errs = append(errs, fmt.Errorf("config: invalid gateway.bind address %q", cfg.Gateway.Bind))
	}

	for name, group := range cfg.ToolGroups {
		switch group.Transport {
		case "stdio":
			if group.Command == "" {
				errs = append(errs, fmt.Errorf("config: tool group %q: stdio transport requires command", name))
			}
		case "http":
			if group.URL == "" {
				errs = append(errs, fmt.Errorf("config: tool group %q: http transport requires url", name))
			}
		default:
			errs = append(errs, fmt.Errorf("config: tool group %q: unknown transport %q", name, group.Transport))
		}
	}

	switch cfg.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("config: unknown log level %q", cfg.Log.Level))
	}

	if cfg.Scheduler.HistoryDaysToKeep < 0 {
		errs = append(errs, errors.New("config: scheduler.history_days_to_keep must not be negative"))
	}

	return errors.Join(errs...)
}
