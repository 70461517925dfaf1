// Package agent defines the scheduled-agent entity: a named, recurring
// autonomous job with free-text instructions, a restricted tool-group set,
// a cron schedule, and rolling cross-run memory.
package agent

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a scheduled agent.
type Status string

// Status values for a scheduled agent.
const (
	StatusActive Status = "active"
	StatusPaused Status = "paused"
	StatusError  Status = "error"
)

// ValidStatus reports whether s is one of the recognized status values.
func ValidStatus(s Status) bool {
	switch s {
	case StatusActive, StatusPaused, StatusError:
		return true
	}
	return false
}

// DefaultMaxRunsPerHour is applied when an agent definition omits the limit.
const DefaultMaxRunsPerHour = 5

// Schedule describes when an agent fires.
type Schedule struct {
	// Cron is a 5-field cron expression (minute hour dom month dow).
	Cron string `json:"cron"`

	// Timezone is an IANA zone name. Empty means UTC.
	Timezone string `json:"timezone,omitempty"`

	// HumanReadable is an optional display form (e.g. "every Monday at 9am").
	HumanReadable string `json:"humanReadable,omitempty"`
}

// Location resolves the schedule's timezone, falling back to UTC.
func (s Schedule) Location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Permissions lists the fully-qualified tool names the engine may call
// without interactive approval during unattended runs.
type Permissions struct {
	PreAuthorized bool     `json:"preAuthorized"`
	Tools         []string `json:"tools,omitempty"`
}

// Agent is one persisted job definition. ID and UserID are immutable
// after creation.
type Agent struct {
	ID             string      `json:"id"`
	UserID         string      `json:"userId"`
	Name           string      `json:"name"`
	Description    string      `json:"description,omitempty"`
	Instructions   string      `json:"instructions"`
	Schedule       Schedule    `json:"schedule"`
	ToolGroups     []string    `json:"toolGroups"`
	MaxRunsPerHour int         `json:"maxRunsPerHour"`
	WorkspacePath  string      `json:"workspacePath"`
	Memory         Memory      `json:"memory"`
	Permissions    Permissions `json:"permissions"`
	Status         Status      `json:"status"`

	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
	LastRunAt  *time.Time `json:"lastRunAt,omitempty"`
	NextRunAt  *time.Time `json:"nextRunAt,omitempty"`
	RunCount   int        `json:"runCount"`
	ErrorCount int        `json:"errorCount"`
	LastError  string     `json:"lastError,omitempty"`
}

// Clone returns a deep copy so callers can mutate without aliasing
// store-internal state. Empty-but-present slices stay empty, never nil:
// toolGroups is required to be present, so the copy must not erase it.
func (a *Agent) Clone() *Agent {
	cp := *a
	cp.ToolGroups = slices.Clone(a.ToolGroups)
	cp.Permissions.Tools = slices.Clone(a.Permissions.Tools)
	cp.Memory.RecentTopics = slices.Clone(a.Memory.RecentTopics)
	cp.Memory.RecentFiles = slices.Clone(a.Memory.RecentFiles)
	if a.LastRunAt != nil {
		t := *a.LastRunAt
		cp.LastRunAt = &t
	}
	if a.NextRunAt != nil {
		t := *a.NextRunAt
		cp.NextRunAt = &t
	}
	return &cp
}

// NewID derives a stable, URL-safe agent id from the display name plus a
// random suffix. Ids are never reassigned after creation.
func NewID(name string) string {
	slug := slugify(name)
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	if slug == "" {
		return suffix
	}
	return slug + "-" + suffix
}

const maxSlugLen = 40

func slugify(name string) string {
	var b strings.Builder
	lastDash := true // suppress leading dashes
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
		if b.Len() >= maxSlugLen {
			break
		}
	}
	return strings.Trim(b.String(), "-")
}
