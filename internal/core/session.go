package core

import (
	"fmt"
	"time"
)

// SessionID uniquely identifies an analysis session.
type SessionID string

// SessionStatus represents the current state of a session.
// Transitions are monotonic: running -> completed or running -> failed,
// never reversed.
type SessionStatus string

const (
	SessionStatusRunning   SessionStatus = "running"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusFailed    SessionStatus = "failed"
)

// AnalysisSession represents one end-to-end analysis run over a fixed file
// list. It is owned exclusively by the orchestrator and persisted through the
// state store after every completed iteration.
type AnalysisSession struct {
	ID       SessionID     `json:"session_id"`
	RepoRoot string        `json:"repo_root"`
	Status   SessionStatus `json:"status"`
	Provider string        `json:"provider,omitempty"`
	Model    string        `json:"model,omitempty"`

	// ReadmeSummarized records that the one-time project summary step ran,
	// so resume does not repeat it even when no summary was produced.
	ReadmeSummarized bool   `json:"readme_summarized,omitempty"`
	ReadmeSummary    string `json:"readme_summary,omitempty"`

	CreatedAt time.Time             `json:"created_at"`
	UpdatedAt time.Time             `json:"updated_at"`
	Files     []*FileAnalysisRecord `json:"files"`
}

// NewSession creates a running session over the given ordered file list.
func NewSession(id SessionID, repoRoot string, paths []string) *AnalysisSession {
	now := time.Now().UTC()
	files := make([]*FileAnalysisRecord, 0, len(paths))
	for _, p := range paths {
		files = append(files, &FileAnalysisRecord{
			Path:   p,
			Status: FileStatusPending,
		})
	}
	return &AnalysisSession{
		ID:        id,
		RepoRoot:  repoRoot,
		Status:    SessionStatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
		Files:     files,
	}
}

// File returns the record for a path.
func (s *AnalysisSession) File(path string) (*FileAnalysisRecord, bool) {
	for _, f := range s.Files {
		if f.Path == path {
			return f, true
		}
	}
	return nil, false
}

// PendingFiles returns, in session order, every file not yet terminal.
// Resume recomputes its work list from this.
func (s *AnalysisSession) PendingFiles() []*FileAnalysisRecord {
	var pending []*FileAnalysisRecord
	for _, f := range s.Files {
		if !f.Terminal() {
			pending = append(pending, f)
		}
	}
	return pending
}

// Complete transitions the session to completed.
func (s *AnalysisSession) Complete() error {
	if s.Status != SessionStatusRunning {
		return fmt.Errorf("cannot complete session in %s state", s.Status)
	}
	s.Status = SessionStatusCompleted
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// Fail transitions the session to failed.
func (s *AnalysisSession) Fail() error {
	if s.Status != SessionStatusRunning {
		return fmt.Errorf("cannot fail session in %s state", s.Status)
	}
	s.Status = SessionStatusFailed
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// IsTerminal returns true once the session reached a final status.
func (s *AnalysisSession) IsTerminal() bool {
	return s.Status == SessionStatusCompleted || s.Status == SessionStatusFailed
}

// Progress returns the completion percentage over files.
func (s *AnalysisSession) Progress() float64 {
	if len(s.Files) == 0 {
		return 0
	}
	done := 0
	for _, f := range s.Files {
		if f.Terminal() {
			done++
		}
	}
	return float64(done) / float64(len(s.Files)) * 100
}

// Touch bumps the updated timestamp.
func (s *AnalysisSession) Touch() {
	s.UpdatedAt = time.Now().UTC()
}

// Validate checks session invariants.
func (s *AnalysisSession) Validate() error {
	if s.ID == "" {
		return ErrValidation("SESSION_ID_REQUIRED", "session ID cannot be empty")
	}
	if s.RepoRoot == "" {
		return ErrValidation("REPO_ROOT_REQUIRED", "repository root cannot be empty")
	}
	switch s.Status {
	case SessionStatusRunning, SessionStatusCompleted, SessionStatusFailed:
	default:
		return ErrValidation(CodeInvalidState, fmt.Sprintf("unknown session status %q", s.Status))
	}
	return nil
}

// SessionSummary is a lightweight listing row for a persisted session.
type SessionSummary struct {
	ID          SessionID     `json:"session_id"`
	RepoRoot    string        `json:"repo_root"`
	Status      SessionStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	TotalFiles  int           `json:"total_files"`
	DoneFiles   int           `json:"done_files"`
	FailedFiles int           `json:"failed_files"`
}

// Summary condenses the session into a listing row.
func (s *AnalysisSession) Summary() SessionSummary {
	sum := SessionSummary{
		ID:         s.ID,
		RepoRoot:   s.RepoRoot,
		Status:     s.Status,
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  s.UpdatedAt,
		TotalFiles: len(s.Files),
	}
	for _, f := range s.Files {
		switch f.Status {
		case FileStatusDone:
			sum.DoneFiles++
		case FileStatusFailed:
			sum.FailedFiles++
		}
	}
	return sum
}

// SessionStats aggregates what a finished or in-flight session produced.
type SessionStats struct {
	SessionID      SessionID        `json:"session_id"`
	Status         SessionStatus    `json:"status"`
	FilesTotal     int              `json:"files_total"`
	FilesDone      int              `json:"files_done"`
	FilesFailed    int              `json:"files_failed"`
	FilesSkipped   int              `json:"files_skipped"`
	FindingsByType map[VulnType]int `json:"findings_by_type"`
	Errors         int              `json:"errors"`
}

// GlobalStats aggregates across all persisted sessions.
type GlobalStats struct {
	Sessions         int                   `json:"sessions"`
	SessionsByStatus map[SessionStatus]int `json:"sessions_by_status"`
	FilesAnalyzed    int                   `json:"files_analyzed"`
	CachedResults    int                   `json:"cached_results"`
	CacheHits        int                   `json:"cache_hits"`
	FindingsByType   map[VulnType]int      `json:"findings_by_type"`
}
