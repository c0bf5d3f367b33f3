// Package job holds the data model shared by the fingerprint, status and
// orchestration layers.
package job

import (
	"encoding/json"
	"time"
)

// State is the client-visible lifecycle state of a job.
//
// NOTE: These values are persisted in result.json and returned to clients;
// they are part of the stable wire contract.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateError     State = "error"
	StateCanceled  State = "canceled"

	// StateMissing means no execution has ever produced a result for the
	// identity. Callers treat it as "no result, recompute".
	StateMissing State = "missing"
)

// InFlight reports whether s is one of the occupied states.
func (s State) InFlight() bool {
	return s == StatePending || s == StateRunning
}

// Terminal reports whether s is a state an execution can end in.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateError, StateCanceled:
		return true
	}
	return false
}

// Phase is the lifecycle phase a backend reports for an occupied slot.
type Phase string

const (
	PhaseNone    Phase = ""
	PhasePending Phase = "pending"
	PhaseRunning Phase = "running"
)

// Valid reports whether p is a phase an occupied slot may legitimately be in.
func (p Phase) Valid() bool {
	return p == PhasePending || p == PhaseRunning
}

// State maps an in-flight phase onto the client-visible state.
func (p Phase) State() State {
	if p == PhaseRunning {
		return StateRunning
	}
	return StatePending
}

// Request is one simulation request as received from the client.
//
// Models must already have defaults applied; nothing downstream fills them in.
type Request struct {
	SimulationType string                    `json:"simulationType"`
	SimulationID   string                    `json:"simulationId"`
	ComputeModel   string                    `json:"computeModel"`
	Models         map[string]map[string]any `json:"models"`
	ForceRun       bool                      `json:"forceRun,omitempty"`
	LibraryFiles   []string                  `json:"libraryFiles,omitempty"`
}

// Record is the persisted request an execution runs against (in.json).
type Record struct {
	Identity       string    `json:"job_identity"`
	RunID          string    `json:"run_id"`
	Fingerprint    string    `json:"fingerprint"`
	Request        Request   `json:"request"`
	StartTime      time.Time `json:"start_time"`
	LastUpdateTime time.Time `json:"last_update_time,omitempty"`
}

// CachedResult is the persisted outcome of an execution (result.json).
type CachedResult struct {
	Fingerprint     string          `json:"fingerprint"`
	RunID           string          `json:"run_id,omitempty"`
	State           State           `json:"state"`
	Error           string          `json:"error,omitempty"`
	StartTime       *time.Time      `json:"start_time,omitempty"`
	LastUpdateTime  *time.Time      `json:"last_update_time,omitempty"`
	PercentComplete *float64        `json:"percent_complete,omitempty"`
	FrameCount      *int            `json:"frame_count,omitempty"`
	Output          json.RawMessage `json:"output,omitempty"`
}

// RecordKind selects which persisted document a timestamp is read from.
type RecordKind string

const (
	KindRequest RecordKind = "request"
	KindResult  RecordKind = "result"
)

// ClientStatus is the status payload returned on every run/status/cancel call.
//
// Field names are a stable client contract.
type ClientStatus struct {
	State              State           `json:"state"`
	ParametersChanged  bool            `json:"parametersChanged"`
	Error              string          `json:"error,omitempty"`
	PercentComplete    *float64        `json:"percentComplete,omitempty"`
	FrameCount         *int            `json:"frameCount,omitempty"`
	StartTime          int64           `json:"startTime,omitempty"`
	LastUpdateTime     int64           `json:"lastUpdateTime,omitempty"`
	ElapsedTime        int64           `json:"elapsedTime"`
	Output             json.RawMessage `json:"output,omitempty"`
	NextRequestSeconds int             `json:"nextRequestSeconds,omitempty"`
	NextRequest        *NextRequest    `json:"nextRequest,omitempty"`
}

// NextRequest is what the client echoes back on its next poll.
type NextRequest struct {
	JobIdentity    string `json:"jobIdentity"`
	Fingerprint    string `json:"fingerprint"`
	InstanceID     string `json:"instanceId"`
	SimulationType string `json:"simulationType"`
}

// ErrorStatus builds the generic error payload for msg.
func ErrorStatus(msg string) *ClientStatus {
	return &ClientStatus{State: StateError, Error: msg}
}
