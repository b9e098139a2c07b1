package ipc

import (
	"time"

	"bemflow/internal/collab"
	"bemflow/internal/joblog"
	"bemflow/internal/jobs"
)

// SubmitRequest carries a job document. Start admits the job right away.
// RequestID correlates the daemon's logs with the submitting client.
type SubmitRequest struct {
	RequestID string `json:"request_id"`
	Config    string `json:"config"`
	Format    string `json:"format"`
	Source    string `json:"source"`
	Start     bool   `json:"start"`
}

// SubmitResponse returns the assigned job ID and, when started, the status
// Start produced.
type SubmitResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// JobRequest addresses a single job.
type JobRequest struct {
	ID string `json:"id"`
}

// StatusChange reports the status a Start or Cancel call left the job in.
type StatusChange struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// StageInfo is one stage report on the wire.
type StageInfo struct {
	Name       string    `json:"name"`
	Outcome    string    `json:"outcome"`
	Fatal      bool      `json:"fatal,omitempty"`
	Finalizer  bool      `json:"finalizer,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
	Reason     string    `json:"reason,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// IterationInfo summarizes a refinement loop.
type IterationInfo struct {
	Rounds       int       `json:"rounds"`
	FailedRounds int       `json:"failed_rounds"`
	StopReason   string    `json:"stop_reason"`
	History      []float64 `json:"history,omitempty"`
}

// JobInfo is the wire form of a job record.
type JobInfo struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
	Live   bool   `json:"live"`
	// CancelPending marks a created job whose cancellation waits for start.
	CancelPending bool              `json:"cancel_pending,omitempty"`
	CurrentStage  string            `json:"current_stage,omitempty"`
	FailedStage   string            `json:"failed_stage,omitempty"`
	Error         string            `json:"error,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	StartedAt     time.Time         `json:"started_at,omitzero"`
	EndedAt       time.Time         `json:"ended_at,omitzero"`
	Stages        []StageInfo       `json:"stages,omitempty"`
	Outputs       []string          `json:"outputs,omitempty"`
	Iteration     *IterationInfo    `json:"iteration,omitempty"`
	Artifacts     []collab.Artifact `json:"artifacts,omitempty"`
}

// JobResponse wraps one job.
type JobResponse struct {
	Job JobInfo `json:"job"`
}

// ListRequest filters job listings. History reads the job store instead of
// the live registry.
type ListRequest struct {
	Statuses []string `json:"statuses"`
	History  bool     `json:"history"`
	Name     string   `json:"name"`
	Limit    int      `json:"limit"`
}

// ListResponse contains matching jobs.
type ListResponse struct {
	Jobs []JobInfo `json:"jobs"`
}

// LogsRequest pages a job's log channel. WaitMillis long-polls for new
// messages when none are pending.
type LogsRequest struct {
	ID         string `json:"id"`
	Since      uint64 `json:"since"`
	Limit      int    `json:"limit"`
	WaitMillis int    `json:"wait_millis"`
}

// LogsResponse returns messages after Since. Next is the cursor for the
// following call; Ended is set once the end sentinel has been delivered.
type LogsResponse struct {
	Messages []joblog.Message `json:"messages"`
	Next     uint64           `json:"next"`
	Ended    bool             `json:"ended"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// CheckInfo is a preflight result on the wire.
type CheckInfo struct {
	Name     string `json:"name"`
	Passed   bool   `json:"passed"`
	Optional bool   `json:"optional,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// StatusResponse represents daemon status information.
type StatusResponse struct {
	Running      bool           `json:"running"`
	PID          int            `json:"pid"`
	StartedAt    time.Time      `json:"started_at"`
	Jobs         map[string]int `json:"jobs"`
	History      map[string]int `json:"history"`
	DatabasePath string         `json:"database_path"`
	LockPath     string         `json:"lock_path"`
	SocketPath   string         `json:"socket_path"`
	LogPath      string         `json:"log_path"`
	WorkDirs     int            `json:"work_dirs"`
	WorkBytes    int64          `json:"work_bytes"`
	Checks       []CheckInfo    `json:"checks"`
}

// StopRequest asks the daemon process to exit.
type StopRequest struct{}

// StopResponse indicates the stop was scheduled.
type StopResponse struct {
	Stopping bool `json:"stopping"`
}

// TestNotificationRequest triggers a test notification.
type TestNotificationRequest struct{}

// TestNotificationResponse reports the result of a notification test.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}

// NewJobInfo converts a job record into its wire form.
func NewJobInfo(rec jobs.Record, live bool) JobInfo {
	info := JobInfo{
		ID:            rec.ID,
		Name:          rec.Name,
		Status:        string(rec.Status),
		Live:          live,
		CancelPending: live && rec.CancelPending(),
		CurrentStage:  rec.CurrentStage,
		FailedStage:   rec.FailedStage,
		Error:         rec.ErrorDetail,
		CreatedAt:     rec.CreatedAt,
		StartedAt:     rec.StartedAt,
		EndedAt:       rec.EndedAt,
		Outputs:       rec.Result.Outputs,
		Artifacts:     rec.Result.Artifacts,
	}
	for _, st := range rec.Result.Stages {
		info.Stages = append(info.Stages, StageInfo{
			Name:       st.Name,
			Outcome:    string(st.Outcome),
			Fatal:      st.Fatal,
			Finalizer:  st.Finalizer,
			StartedAt:  st.StartedAt,
			DurationMS: st.Duration.Milliseconds(),
			Reason:     st.Reason,
			Error:      st.Error,
		})
	}
	if it := rec.Result.Iteration; it != nil {
		info.Iteration = &IterationInfo{
			Rounds:       it.Rounds,
			FailedRounds: it.FailedRounds,
			StopReason:   it.StopReason,
			History:      it.History,
		}
	}
	return info
}

func statusCounts(in map[jobs.Status]int) map[string]int {
	if in == nil {
		return nil
	}
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[string(k)] = v
	}
	return out
}
