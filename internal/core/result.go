package core

import (
	"time"

	"github.com/google/uuid"

	"matrixci/internal/matrix"
)

type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

type JobStatus string

const (
	JobPassed JobStatus = "passed"
	JobFailed JobStatus = "failed"
)

type StepStatus string

const (
	StepPassed  StepStatus = "passed"
	StepFailed  StepStatus = "failed"
	StepSkipped StepStatus = "skipped"
)

// StepResult is the outcome of one step of one job.
type StepResult struct {
	Name     string        `json:"name"`
	Status   StepStatus    `json:"status"`
	ExitCode int           `json:"exit_code"`
	Output   string        `json:"output,omitempty"`
	LogPath  string        `json:"log_path,omitempty"`
	LogHash  string        `json:"log_hash,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// JobResult is the outcome of one job instance.
type JobResult struct {
	Index      int                `json:"index"`
	Name       string             `json:"name"`
	Matrix     matrix.Combination `json:"matrix"`
	Host       Host               `json:"host"`
	Status     JobStatus          `json:"status"`
	Steps      []StepResult       `json:"steps"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
}

// Failed reports whether any step that actually ran failed.
func (j JobResult) Failed() bool {
	for _, s := range j.Steps {
		if s.Status == StepFailed {
			return true
		}
	}
	return false
}

// NotificationRecord is the single notification fired for a run.
type NotificationRecord struct {
	Outcome RunStatus `json:"outcome"`
	Status  string    `json:"status"`
	Color   string    `json:"color"`
	Channel string    `json:"channel,omitempty"`
	Error   string    `json:"error,omitempty"`
}

// RunResult is the complete record of one invocation.
type RunResult struct {
	ID           uuid.UUID           `json:"id"`
	Workflow     string              `json:"workflow"`
	Status       RunStatus           `json:"status"`
	Jobs         []JobResult         `json:"jobs"`
	Notification *NotificationRecord `json:"notification,omitempty"`
	StartedAt    time.Time           `json:"started_at"`
	FinishedAt   time.Time           `json:"finished_at"`
}

// Outcome is binary: succeeded only when no job failed.
func Outcome(jobs []JobResult) RunStatus {
	for _, j := range jobs {
		if j.Status == JobFailed || j.Failed() {
			return RunFailed
		}
	}
	return RunSucceeded
}

// Counts returns passed and failed job totals.
func (r *RunResult) Counts() (passed, failed int) {
	for _, j := range r.Jobs {
		if j.Status == JobFailed {
			failed++
		} else {
			passed++
		}
	}
	return passed, failed
}
