package domain

import (
	"encoding/json"
	"time"
)

// Phase enumerates generation job lifecycle states.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseInitializing Phase = "initializing"
	PhaseStreaming    Phase = "streaming"
	PhaseComplete     Phase = "complete"
	PhaseError        Phase = "error"
)

// Terminal reports whether no further events are processed once a job is in p.
func (p Phase) Terminal() bool {
	return p == PhaseComplete || p == PhaseError
}

// Job is the observable state of one long-running generation invocation.
type Job struct {
	Key       string          `json:"job_key"`
	Phase     Phase           `json:"phase"`
	Stage     string          `json:"stage,omitempty"`
	Progress  float64         `json:"progress"`
	Message   string          `json:"message,omitempty"`
	ResultURL string          `json:"result_url,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Error     string          `json:"error,omitempty"`
	StartedAt time.Time       `json:"started_at,omitempty"`
	UpdatedAt time.Time       `json:"updated_at,omitempty"`
}

// Clone returns a copy that shares no mutable memory with j.
func (j Job) Clone() Job {
	out := j
	if len(j.Payload) > 0 {
		out.Payload = append(json.RawMessage(nil), j.Payload...)
	}
	return out
}
