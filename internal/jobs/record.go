package jobs

import (
	"time"

	"bemflow/internal/collab"
	"bemflow/internal/jobconfig"
	"bemflow/internal/joblog"
)

// Record is one job tracked by the registry. Registry methods return copies;
// Config, Token and Log are shared with the live record.
type Record struct {
	ID           string
	Name         string
	Status       Status
	Config       *jobconfig.Config
	Token        *CancelToken
	Log          *joblog.Channel
	CreatedAt    time.Time
	StartedAt    time.Time
	EndedAt      time.Time
	CurrentStage string
	FailedStage  string
	ErrorDetail  string
	Result       Result
}

// NewRecord builds a created record with a fresh token and log channel.
func NewRecord(id string, cfg *jobconfig.Config, logOpts joblog.Options, now time.Time) *Record {
	name := ""
	if cfg != nil {
		name = cfg.Name
	}
	return &Record{
		ID:        id,
		Name:      name,
		Status:    StatusCreated,
		Config:    cfg,
		Token:     NewCancelToken(),
		Log:       joblog.New(logOpts),
		CreatedAt: now.UTC(),
	}
}

// Duration reports how long the job ran, or has been running.
func (r Record) Duration(now time.Time) time.Duration {
	if r.StartedAt.IsZero() {
		return 0
	}
	end := r.EndedAt
	if end.IsZero() {
		end = now
	}
	return end.Sub(r.StartedAt)
}

// CancelPending reports a cancellation requested before the job was started.
// The job stays created and ends canceled as soon as it is started.
func (r Record) CancelPending() bool {
	return r.Status == StatusCreated && r.Token != nil && r.Token.Requested()
}

// StageOutcome is how one stage ended.
type StageOutcome string

const (
	StageCompleted StageOutcome = "completed"
	StageSkipped   StageOutcome = "skipped"
	StageFailed    StageOutcome = "failed"
)

// StageReport summarizes one stage execution.
type StageReport struct {
	Name      string        `json:"name"`
	Outcome   StageOutcome  `json:"outcome"`
	Fatal     bool          `json:"fatal,omitempty"`
	Finalizer bool          `json:"finalizer,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Reason    string        `json:"reason,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// IterationSummary records how the refinement loop ended.
type IterationSummary struct {
	Rounds       int       `json:"rounds"`
	FailedRounds int       `json:"failed_rounds"`
	StopReason   string    `json:"stop_reason"`
	History      []float64 `json:"history,omitempty"`
}

// Result keeps the partial results a job produced, whatever its outcome.
type Result struct {
	Stages    []StageReport     `json:"stages,omitempty"`
	Outputs   []string          `json:"outputs,omitempty"`
	Iteration *IterationSummary `json:"iteration,omitempty"`
	Artifacts []collab.Artifact `json:"artifacts,omitempty"`
}
