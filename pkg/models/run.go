package models

import (
	"encoding/json"
	"time"
)

// RunStatus is the lifecycle state of the singleton generation run.
type RunStatus string

const (
	StatusIdle       RunStatus = "idle"
	StatusInProgress RunStatus = "in_progress"
	StatusCompleted  RunStatus = "completed"
	StatusFailed     RunStatus = "failed"
	StatusCancelled  RunStatus = "cancelled"
)

// RunRecord is the singleton, KV-persisted state of the generation pipeline.
// The pipeline worker is its sole writer; status pollers read it without
// locking, so a reader may observe a torn intermediate state between two
// writes. That is accepted: the record is advisory, never used to drive
// another decision.
type RunRecord struct {
	RunID     string          `json:"run_id,omitempty"`
	Status    RunStatus       `json:"status"`
	StartedAt time.Time       `json:"started_at"`
	Message   string          `json:"message,omitempty"`
	Plan      json.RawMessage `json:"plan,omitempty"`
	Results   RunResults      `json:"results"`
	Cancelled bool            `json:"cancelled"`
}
