// internal/orchestrator/result.go
package orchestrator

import "time"

// SessionResult is the outcome of one session pipeline. A failed session
// records what broke but never aborts its siblings.
type SessionResult struct {
	SessionID    string    `json:"sessionId"`
	SessionIndex int       `json:"sessionIndex"`
	Action       string    `json:"action"`
	Success      bool      `json:"success"`
	Error        string    `json:"error,omitempty"`
	URL          string    `json:"url,omitempty"`
	Proxy        string    `json:"proxy,omitempty"`
	UserAgent    string    `json:"userAgent,omitempty"`
	StartedAt    time.Time `json:"startedAt"`
	FinishedAt   time.Time `json:"finishedAt"`
	DurationMs   int64     `json:"durationMs"`
	// ActionData reports the outcome of each optional interaction the
	// script attempted (performed, skipped or failed), keyed by step name.
	ActionData map[string]string `json:"actionData,omitempty"`
}

// RunResult aggregates a completed run. Success reflects that the
// orchestration itself ran to completion; a run where every session failed
// is still an orchestration success with an all-failed results array.
type RunResult struct {
	RunID        string          `json:"runId"`
	Success      bool            `json:"success"`
	SessionCount int             `json:"sessionCount"`
	Results      []SessionResult `json:"results"`
	CompletedAt  time.Time       `json:"completedAt"`
}

// Succeeded counts the sessions that completed their script.
func (r RunResult) Succeeded() int {
	n := 0
	for _, res := range r.Results {
		if res.Success {
			n++
		}
	}
	return n
}
