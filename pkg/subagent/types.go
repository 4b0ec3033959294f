package subagent

import "time"

// RunStatus is the state of a nested agent run
type RunStatus string

const (
	StatusRunning     RunStatus = "running"
	StatusFinished    RunStatus = "finished"
	StatusExhausted   RunStatus = "exhausted"
	StatusInterrupted RunStatus = "interrupted"
	StatusFailed      RunStatus = "failed"
)

// IsTerminal returns true if the status is terminal
func (s RunStatus) IsTerminal() bool {
	return s != StatusRunning
}

// RunRecord tracks one invocation of a sub-agent
type RunRecord struct {
	ID          string     `json:"id"`
	TraceID     string     `json:"trace_id,omitempty"`
	Parent      string     `json:"parent,omitempty"`
	Agent       string     `json:"agent"`
	Task        string     `json:"task"`
	Depth       int        `json:"depth"`
	Status      RunStatus  `json:"status"`
	Turns       int        `json:"turns"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// registryFile is the persisted form of the coordinator
type registryFile struct {
	Version     int          `json:"version"`
	Runs        []*RunRecord `json:"runs"`
	LastUpdated time.Time    `json:"last_updated"`
}

// Stats contains coordinator statistics
type Stats struct {
	TotalRuns       int `json:"total_runs"`
	ActiveRuns      int `json:"active_runs"`
	FinishedRuns    int `json:"finished_runs"`
	ExhaustedRuns   int `json:"exhausted_runs"`
	FailedRuns      int `json:"failed_runs"`
	InterruptedRuns int `json:"interrupted_runs"`
}
