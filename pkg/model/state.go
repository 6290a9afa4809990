package model

// ExecutionStatus represents the lifecycle state of an ExecutionRecord.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// String returns the string representation of the execution status.
func (s ExecutionStatus) String() string {
	return string(s)
}

// IsTerminal returns true if the record is sealed.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionFailed:
		return true
	}
	return false
}

// ScheduleState is the trigger state of a schedule. It is derived at runtime and
// never persisted; a stored schedule only carries Enabled.
type ScheduleState string

const (
	ScheduleDisabled    ScheduleState = "disabled"
	ScheduleArmed       ScheduleState = "armed"
	ScheduleDispatching ScheduleState = "dispatching"
)

// String returns the string representation of the schedule state.
func (s ScheduleState) String() string {
	return string(s)
}

// ValidScheduleTransitions defines the allowed state transitions for schedules.
var ValidScheduleTransitions = map[ScheduleState][]ScheduleState{
	ScheduleDisabled:    {ScheduleArmed},
	ScheduleArmed:       {ScheduleDispatching, ScheduleDisabled},
	ScheduleDispatching: {ScheduleArmed, ScheduleDisabled},
}

// CanTransitionTo returns true if moving from the current state to next is valid.
func (s ScheduleState) CanTransitionTo(next ScheduleState) bool {
	for _, allowed := range ValidScheduleTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// PriorityHint steers resource selection when no affinity applies.
type PriorityHint string

const (
	PrioritySpeed       PriorityHint = "speed"
	PriorityReliability PriorityHint = "reliability"
	PriorityBalanced    PriorityHint = "balanced"
	PriorityQuality     PriorityHint = "quality"
)

// Valid reports whether h is a known hint. The empty hint is valid and
// behaves like balanced.
func (h PriorityHint) Valid() bool {
	switch h {
	case "", PrioritySpeed, PriorityReliability, PriorityBalanced, PriorityQuality:
		return true
	}
	return false
}
