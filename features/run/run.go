package run

import (
	"database/sql"
	"time"
)

type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Run is one ledger row: a pipeline execution with its per-stage counts.
// Record contents live in the artifact snapshots, not here.
type Run struct {
	ID        string `json:"id"`
	Query     string `json:"query"`
	Status    Status `json:"status"`
	Items     int    `json:"items"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Skipped   int    `json:"skipped"`
	Merged    int    `json:"merged"`
	Final     int    `json:"final"`
	Error     string `json:"error,omitempty"`

	StartedAt  time.Time    `json:"started_at"`
	FinishedAt sql.NullTime `json:"finished_at,omitempty"`
}
