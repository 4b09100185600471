package core

import "time"

// Severity buckets a finding by confidence for display and filtering.
type Severity string

const (
	SeverityHigh   Severity = "high"   // confidence >= 8
	SeverityMedium Severity = "medium" // confidence >= 6
	SeverityLow    Severity = "low"
)

// SeverityFor maps a confidence score onto a severity bucket.
func SeverityFor(confidence int) Severity {
	switch {
	case confidence >= 8:
		return SeverityHigh
	case confidence >= 6:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Finding is one terminal investigation result worth reporting.
type Finding struct {
	File       string   `json:"file" yaml:"file"`
	Type       VulnType `json:"type" yaml:"type"`
	Severity   Severity `json:"severity" yaml:"severity"`
	Confidence int      `json:"confidence" yaml:"confidence"`
	Analysis   string   `json:"analysis" yaml:"analysis"`
	PoC        string   `json:"poc,omitempty" yaml:"poc,omitempty"`
}

// Failure is a file or investigation that could not be completed. Failures
// are itemized, never silently dropped.
type Failure struct {
	File  string   `json:"file" yaml:"file"`
	Type  VulnType `json:"type,omitempty" yaml:"type,omitempty"`
	Error string   `json:"error" yaml:"error"`
}

// Report is the assembled output of a session.
type Report struct {
	SessionID   SessionID     `json:"session_id" yaml:"session_id"`
	RepoRoot    string        `json:"repo_root" yaml:"repo_root"`
	Status      SessionStatus `json:"status" yaml:"status"`
	GeneratedAt time.Time     `json:"generated_at" yaml:"generated_at"`
	Findings    []Finding     `json:"findings" yaml:"findings"`
	Failures    []Failure     `json:"failures,omitempty" yaml:"failures,omitempty"`
	FilesTotal  int           `json:"files_total" yaml:"files_total"`
	FilesDone   int           `json:"files_done" yaml:"files_done"`
	FilesFailed int           `json:"files_failed" yaml:"files_failed"`
}
