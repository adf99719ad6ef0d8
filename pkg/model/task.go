// Package model defines the core data structures used throughout the application.
package model

import (
	"encoding/json"
	"time"
)

// Phase is a step of the merge state machine.
type Phase int

const (
	PhaseIdle          Phase = 0
	PhaseOpening       Phase = 1
	PhaseResourceMerge Phase = 2
	PhaseDexMerge      Phase = 3
	PhaseWriting       Phase = 4
	PhaseSigning       Phase = 5
	PhaseDone          Phase = 6
	PhaseFailed        Phase = 7
	PhaseCanceled      Phase = 8
)

// String returns the string representation of Phase.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseOpening:
		return "opening"
	case PhaseResourceMerge:
		return "resource_merge"
	case PhaseDexMerge:
		return "dex_merge"
	case PhaseWriting:
		return "writing"
	case PhaseSigning:
		return "signing"
	case PhaseDone:
		return "done"
	case PhaseFailed:
		return "failed"
	case PhaseCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether no further transition can happen.
func (p Phase) IsTerminal() bool {
	return p == PhaseDone || p == PhaseFailed || p == PhaseCanceled
}

// MergeStatus is the persisted outcome of a merge task.
type MergeStatus int

const (
	MergeStatusRunning   MergeStatus = 0
	MergeStatusSucceeded MergeStatus = 1
	MergeStatusFailed    MergeStatus = 2
	MergeStatusCanceled  MergeStatus = 3
)

// String returns the string representation of MergeStatus.
func (s MergeStatus) String() string {
	switch s {
	case MergeStatusRunning:
		return "running"
	case MergeStatusSucceeded:
		return "succeeded"
	case MergeStatusFailed:
		return "failed"
	case MergeStatusCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// MergeTask is one recorded merge run.
type MergeTask struct {
	ID           int64         `json:"id"`
	TaskUUID     string        `json:"tid"`
	Inputs       []string      `json:"inputs"`
	Output       string        `json:"output"`
	Status       MergeStatus   `json:"status"`
	Phase        Phase         `json:"phase"`
	Modules      []string      `json:"modules,omitempty"`
	Signed       bool          `json:"signed"`
	DexStrategy  string        `json:"dex_strategy,omitempty"`
	ErrorCode    string        `json:"error_code,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
	Duration     time.Duration `json:"duration"`
	CreateTime   time.Time     `json:"create_time"`
	EndTime      *time.Time    `json:"end_time,omitempty"`
}

// NewMergeTask creates a running task for the given inputs.
func NewMergeTask(taskUUID string, inputs []string, output string) *MergeTask {
	return &MergeTask{
		TaskUUID:   taskUUID,
		Inputs:     inputs,
		Output:     output,
		Status:     MergeStatusRunning,
		Phase:      PhaseIdle,
		CreateTime: time.Now(),
	}
}

// InputsJSON encodes the inputs list for storage.
func (t *MergeTask) InputsJSON() string {
	b, _ := json.Marshal(t.Inputs)
	return string(b)
}
