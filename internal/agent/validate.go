package agent

import (
	"fmt"
	"strings"
	"time"
)

// ValidationError reports a malformed field in an agent definition.
// Definitions failing validation are rejected and never persisted.
type ValidationError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("agent: invalid field %q: %s", e.Field, e.Reason)
}

// CronValidator checks a cron expression. Satisfied by the scheduler so
// the entity package stays free of the cron library dependency.
type CronValidator func(expr string) error

// Validate checks the required fields of a definition. cronCheck may be
// nil, in which case only structural cron presence is enforced.
func (a *Agent) Validate(cronCheck CronValidator) error {
	if strings.TrimSpace(a.Name) == "" {
		return &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if strings.TrimSpace(a.Instructions) == "" {
		return &ValidationError{Field: "instructions", Reason: "must not be empty"}
	}
	if strings.TrimSpace(a.Schedule.Cron) == "" {
		return &ValidationError{Field: "schedule.cron", Reason: "must not be empty"}
	}
	if cronCheck != nil {
		if err := cronCheck(a.Schedule.Cron); err != nil {
			return &ValidationError{Field: "schedule.cron", Reason: err.Error()}
		}
	}
	if a.Schedule.Timezone != "" {
		if _, err := time.LoadLocation(a.Schedule.Timezone); err != nil {
			return &ValidationError{Field: "schedule.timezone", Reason: "unknown timezone"}
		}
	}
	if a.ToolGroups == nil {
		return &ValidationError{Field: "toolGroups", Reason: "must be present (may be empty)"}
	}
	if a.MaxRunsPerHour < 0 {
		return &ValidationError{Field: "maxRunsPerHour", Reason: "must not be negative"}
	}
	if a.Status != "" && !ValidStatus(a.Status) {
		return &ValidationError{Field: "status", Reason: "must be active, paused, or error"}
	}
	return nil
}
