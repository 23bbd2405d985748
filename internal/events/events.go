// Package events provides an event system for fault, convergence and throughput notifications.
package events

import "time"

// EventType represents the type of event
type EventType string

const (
	// EventFaultApplied is emitted when a fault window has been installed
	EventFaultApplied EventType = "fault_applied"
	// EventFaultHealed is emitted when the heal step of a window has run
	EventFaultHealed EventType = "fault_healed"
	// EventConvergencePoll is emitted for every status poll while converging
	EventConvergencePoll EventType = "convergence_poll"
	// EventConverged is emitted when the cluster reports full recovery
	EventConverged EventType = "converged"
	// EventConvergenceTimeout is emitted when the convergence bound is exceeded
	EventConvergenceTimeout EventType = "convergence_timeout"
	// EventPhaseFailed is emitted when an episode phase fails fatally
	EventPhaseFailed EventType = "phase_failed"
	// EventThroughput is emitted on every reporter tick
	EventThroughput EventType = "throughput"
)

// Event represents a fault, convergence or throughput event
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	MemberID  string    `json:"member_id,omitempty"`
	Data      EventData `json:"data,omitempty"`
}

// EventData contains event-specific data
type EventData struct {
	Mode          string  `json:"mode,omitempty"`
	WindowID      string  `json:"window_id,omitempty"`
	Targets       int     `json:"targets,omitempty"`
	RecoveryState string  `json:"recovery_state,omitempty"`
	Lag           float64 `json:"lag,omitempty"`
	Phase         string  `json:"phase,omitempty"`
	Error         string  `json:"error,omitempty"`
	OpsPerSecond  uint64  `json:"ops_per_second,omitempty"`
	TotalOps      uint64  `json:"total_ops,omitempty"`
	Transactions  uint64  `json:"transactions,omitempty"`
}

// NewFaultAppliedEvent creates a fault applied event
func NewFaultAppliedEvent(windowID, mode string, targets int) Event {
	return Event{
		Type:      EventFaultApplied,
		Timestamp: time.Now(),
		Data: EventData{
			Mode:     mode,
			WindowID: windowID,
			Targets:  targets,
		},
	}
}

// NewFaultHealedEvent creates a fault healed event
func NewFaultHealedEvent(windowID, mode string, err error) Event {
	return Event{
		Type:      EventFaultHealed,
		Timestamp: time.Now(),
		Data: EventData{
			Mode:     mode,
			WindowID: windowID,
			Error:    errString(err),
		},
	}
}

// NewConvergencePollEvent creates a convergence poll event
func NewConvergencePollEvent(state string, lag float64) Event {
	return Event{
		Type:      EventConvergencePoll,
		Timestamp: time.Now(),
		Data: EventData{
			RecoveryState: state,
			Lag:           lag,
		},
	}
}

// NewConvergedEvent creates a converged event
func NewConvergedEvent(state string) Event {
	return Event{
		Type:      EventConverged,
		Timestamp: time.Now(),
		Data: EventData{
			RecoveryState: state,
		},
	}
}

// NewConvergenceTimeoutEvent creates a convergence timeout event
func NewConvergenceTimeoutEvent(state string, lag float64) Event {
	return Event{
		Type:      EventConvergenceTimeout,
		Timestamp: time.Now(),
		Data: EventData{
			RecoveryState: state,
			Lag:           lag,
		},
	}
}

// NewPhaseFailedEvent creates a phase failure event
func NewPhaseFailedEvent(phase string, err error) Event {
	return Event{
		Type:      EventPhaseFailed,
		Timestamp: time.Now(),
		Data: EventData{
			Phase: phase,
			Error: errString(err),
		},
	}
}

// NewThroughputEvent creates a reporter tick event
func NewThroughputEvent(opsPerSecond, totalOps, transactions uint64) Event {
	return Event{
		Type:      EventThroughput,
		Timestamp: time.Now(),
		Data: EventData{
			OpsPerSecond: opsPerSecond,
			TotalOps:     totalOps,
			Transactions: transactions,
		},
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
