package domain

import "time"

// LoadOutcome is how a load run ended.
type LoadOutcome string

const (
	LoadOutcomeReady    LoadOutcome = "ready"
	LoadOutcomeDegraded LoadOutcome = "degraded"
	LoadOutcomeFailed   LoadOutcome = "failed"
	LoadOutcomeStopped  LoadOutcome = "stopped"
)

// LoadReport records one run of the bootstrap sequencer.
type LoadReport struct {
	ID         string        `json:"id"`
	UserID     UserID        `json:"user_id"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Attempts   int           `json:"attempts"`
	FinalStage string        `json:"final_stage"`
	Outcome    LoadOutcome   `json:"outcome"`
	Stages     []string      `json:"stages"`
	Error      string        `json:"error"`
}
