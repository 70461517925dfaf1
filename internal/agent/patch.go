package agent

import "time"

// Patch is a shallow merge applied to an existing agent. Nil fields are
// left untouched. ID and UserID are not patchable.
type Patch struct {
	Name           *string
	Description    *string
	Instructions   *string
	Schedule       *Schedule
	ToolGroups     *[]string
	MaxRunsPerHour *int
	Permissions    *Permissions
	Status         *Status
	Memory         *Memory

	LastRunAt  *time.Time
	NextRunAt  *time.Time
	RunCount   *int
	ErrorCount *int
	LastError  *string
}

// Revalidates reports whether applying the patch requires re-running
// definition validation (schedule or tool-group changes).
func (p Patch) Revalidates() bool {
	return p.Schedule != nil || p.ToolGroups != nil
}

// Apply merges the patch into a.
func (p Patch) Apply(a *Agent) {
	if p.Name != nil {
		a.Name = *p.Name
	}
	if p.Description != nil {
		a.Description = *p.Description
	}
	if p.Instructions != nil {
		a.Instructions = *p.Instructions
	}
	if p.Schedule != nil {
		a.Schedule = *p.Schedule
	}
	if p.ToolGroups != nil {
		a.ToolGroups = *p.ToolGroups
	}
	if p.MaxRunsPerHour != nil {
		a.MaxRunsPerHour = *p.MaxRunsPerHour
	}
	if p.Permissions != nil {
		a.Permissions = *p.Permissions
	}
	if p.Status != nil {
		a.Status = *p.Status
	}
	if p.Memory != nil {
		a.Memory = *p.Memory
	}
	if p.LastRunAt != nil {
		t := *p.LastRunAt
		a.LastRunAt = &t
	}
	if p.NextRunAt != nil {
		t := *p.NextRunAt
		a.NextRunAt = &t
	}
	if p.RunCount != nil {
		a.RunCount = *p.RunCount
	}
	if p.ErrorCount != nil {
		a.ErrorCount = *p.ErrorCount
	}
	if p.LastError != nil {
		a.LastError = *p.LastError
	}
}
