package ckpt

import "time"

// State is a step of the restore state machine.
type State int

const (
	StateIdle State = iota
	StateVerifyingSignature
	StateBackingUp
	StateReplacingTables
	StateReconcilingFiles
	StateCommitted
	StateFailed
	StateRolledBack
)

var stateNames = map[State]string{
	StateIdle:               "Idle",
	StateVerifyingSignature: "VerifyingSignature",
	StateBackingUp:          "BackingUp",
	StateReplacingTables:    "ReplacingTables",
	StateReconcilingFiles:   "ReconcilingFiles",
	StateCommitted:          "Committed",
	StateFailed:             "Failed",
	StateRolledBack:         "RolledBack",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "Unknown"
}

// Terminal reports whether no further transition follows s.
func (s State) Terminal() bool {
	return s == StateCommitted || s == StateFailed || s == StateRolledBack
}

// Event is emitted on every state transition of a restore.
// Err is set only for StateFailed and StateRolledBack.
type Event struct {
	State          State
	CheckpointID   string
	SafetyBackupID string
	Err            error
	At             time.Time
}

// Observer receives restore events. Implementations must not block for long;
// events are delivered synchronously from the restore goroutine.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

type nopObserver struct{}

func (nopObserver) OnEvent(Event) {}
