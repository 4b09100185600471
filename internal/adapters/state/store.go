package state

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/vulnhound/vulnhound/internal/core"
	"github.com/vulnhound/vulnhound/internal/logging"
)

// Store persists analysis sessions as checksummed JSON checkpoint files with
// a SQLite index alongside. The checkpoint files are canonical: every save
// rewrites the session's file atomically, so a crash mid-write leaves the
// previous checkpoint readable. The index carries listings, cross-session
// analysis caching, and aggregate stats; its rows are derived from the
// checkpoints and rebuilt on every save, so an index write failure never
// loses session state.
//
// Layout under the state directory:
//
//	sessions/<id>.json      current checkpoint
//	sessions/<id>.json.bak  previous checkpoint
//	sessions/<id>.lock      advisory session lock
//	index.db                SQLite index and analysis cache
type Store struct {
	dir         string
	sessionsDir string
	db          *sql.DB
	lockTTL     time.Duration
	logger      *logging.Logger

	// mu serializes writers; readers rely on atomic checkpoint renames
	// and SQLite's own locking.
	mu sync.Mutex
}

// Option configures the store.
type Option func(*Store)

// WithLockTTL sets the duration after which a session lock held by a dead
// or vanished process is considered stale.
func WithLockTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.lockTTL = ttl
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// NewStore opens or creates a state directory.
func NewStore(dir string, opts ...Option) (*Store, error) {
	s := &Store{
		dir:         dir,
		sessionsDir: filepath.Join(dir, "sessions"),
		lockTTL:     time.Hour,
		logger:      logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(s.sessionsDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := openIndex(filepath.Join(dir, "index.db"))
	if err != nil {
		return nil, err
	}
	s.db = db
	return s, nil
}

// Close closes the index database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Stats aggregates per-session counts from the canonical checkpoint.
func (s *Store) Stats(id core.SessionID) (*core.SessionStats, error) {
	session, err := s.Load(id)
	if err != nil {
		return nil, err
	}

	stats := &core.SessionStats{
		SessionID:      session.ID,
		Status:         session.Status,
		FilesTotal:     len(session.Files),
		FindingsByType: findingCounts(session),
	}
	for _, f := range session.Files {
		switch f.Status {
		case core.FileStatusDone:
			stats.FilesDone++
		case core.FileStatusFailed:
			stats.FilesFailed++
			stats.Errors++
		}
		if f.Skipped {
			stats.FilesSkipped++
		}
		for _, inv := range f.Investigations {
			if inv.Error != "" {
				stats.Errors++
			}
		}
	}
	return stats, nil
}

// Cleanup removes sessions whose checkpoints have not been updated within
// the horizon, returning how many were pruned. Cached analysis results are
// content-addressed and survive the sessions that produced them.
func (s *Store) Cleanup(horizonDays int) (int, error) {
	if horizonDays <= 0 {
		return 0, core.ErrValidation(core.CodeBadRequest, "cleanup horizon must be positive")
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -horizonDays)

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.sessionsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading sessions directory: %w", err)
	}

	pruned := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, checkpointExt) {
			continue
		}
		id := core.SessionID(strings.TrimSuffix(name, checkpointExt))
		path := filepath.Join(s.sessionsDir, name)

		updatedAt, err := checkpointUpdatedAt(path)
		if err != nil {
			s.logger.Warn("skipping unreadable checkpoint during cleanup", "file", name, "error", err)
			continue
		}
		if !updatedAt.Before(cutoff) {
			continue
		}

		if err := os.Remove(path); err != nil {
			return pruned, fmt.Errorf("removing checkpoint %s: %w", name, err)
		}
		_ = os.Remove(s.backupPath(id))
		_ = os.Remove(s.lockPath(id))
		if _, err := s.db.Exec("DELETE FROM sessions WHERE id = ?", string(id)); err != nil {
			s.logger.Warn("removing session index row failed", "session", id, "error", err)
		}
		pruned++
	}
	return pruned, nil
}

// findingCounts tallies investigations whose final response still reports
// non-zero confidence, keyed by the investigated type.
func findingCounts(session *core.AnalysisSession) map[core.VulnType]int {
	counts := make(map[core.VulnType]int)
	for _, f := range session.Files {
		for _, inv := range f.Investigations {
			if inv.LastResponse != nil && inv.LastResponse.ConfidenceScore > 0 {
				counts[inv.Type]++
			}
		}
	}
	return counts
}

var _ core.StateStore = (*Store)(nil)
