package model

import "time"

// ScanRequest is the immutable input to one scan.
type ScanRequest struct {
	WebsiteID int64  `json:"websiteId"`
	TargetURL string `json:"targetUrl"`

	// ScanID correlates a run so results can be replaced idempotently.
	ScanID string `json:"scanId"`
}

// ScanStatus is the terminal outcome of a scan, set exactly once.
type ScanStatus string

const (
	ScanCompleted ScanStatus = "completed"
	ScanFailed    ScanStatus = "failed"
)

// ScanState tracks a scan through the pipeline.
type ScanState string

const (
	StatePending         ScanState = "pending"
	StateLivenessChecked ScanState = "liveness-checked"
	StateAnalyzing       ScanState = "analyzing"
	StateMerged          ScanState = "merged"
	StateCompleted       ScanState = "completed"
	StateFailed          ScanState = "failed"
)

// Terminal reports whether no further transition is allowed from s.
func (s ScanState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// ScanResult is the frozen output of one scan.
type ScanResult struct {
	Request   ScanRequest     `json:"request"`
	Core      CoreResult      `json:"coreResult"`
	Solutions SolutionsResult `json:"solutionsResult"`

	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`

	// Degraded lists the analyzer groups that ended not evaluated because
	// of a fault, a timeout or the scan deadline.
	Degraded []string `json:"degraded,omitempty"`
}

// Status is shorthand for r.Core.Status.
func (r *ScanResult) Status() ScanStatus {
	return r.Core.Status
}

// Duration is the wall-clock time the scan took.
func (r *ScanResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
