package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/flemzord/agentd/internal/agent"
)

// parser accepts strict 5-field cron expressions (minute hour dom month
// dow), matching the persisted schedule format.
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ValidateExpr checks a 5-field cron expression. It satisfies
// agent.CronValidator so the store can validate definitions at
// create/update time.
func ValidateExpr(expr string) error {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return fmt.Errorf("scheduler: empty cron expression")
	}
	// Timezone prefixes belong in the schedule's timezone field, not the
	// expression.
	if strings.HasPrefix(expr, "TZ=") || strings.HasPrefix(expr, "CRON_TZ=") {
		return fmt.Errorf("scheduler: expression must not carry a TZ prefix")
	}
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("scheduler: invalid cron expression: %w", err)
	}
	return nil
}

// cronSpec renders a schedule for registration, carrying the timezone as
// a CRON_TZ prefix so fires happen in the agent's zone.
func cronSpec(s agent.Schedule) string {
	if s.Timezone == "" {
		return s.Cron
	}
	return "CRON_TZ=" + s.Timezone + " " + s.Cron
}

// NextRun computes the next fire strictly after now in the schedule's
// timezone, returned in UTC.
func NextRun(s agent.Schedule, now time.Time) (time.Time, error) {
	if err := ValidateExpr(s.Cron); err != nil {
		return time.Time{}, err
	}
	sched, err := parser.Parse(cronSpec(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("scheduler: invalid schedule: %w", err)
	}
	next := sched.Next(now)
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("scheduler: schedule %q never fires", s.Cron)
	}
	return next.UTC(), nil
}
