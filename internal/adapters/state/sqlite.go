package state

import (
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vulnhound/vulnhound/internal/core"
	_ "modernc.org/sqlite"
)

//go:embed migrations/001_initial_schema.sql
var migrationV1 string

// openIndex opens the index database with WAL mode and runs migrations.
func openIndex(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening index database: %w", err)
	}
	if err := migrate(db); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("running migrations: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

// migrate applies pending schema migrations.
func migrate(db *sql.DB) error {
	var version int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version); err != nil {
		// Table doesn't exist yet, run the initial migration.
		version = 0
	}
	if version < 1 {
		if _, err := db.Exec(migrationV1); err != nil {
			return fmt.Errorf("applying migration v1: %w", err)
		}
	}
	return nil
}

// indexSession upserts the session's summary row. Index rows are derived
// from the canonical checkpoint, so failures here are logged and swallowed;
// the next save rebuilds the row.
func (s *Store) indexSession(session *core.AnalysisSession) {
	summary := session.Summary()
	skipped, cacheHits := 0, 0
	for _, f := range session.Files {
		if f.Skipped {
			skipped++
		}
		if f.CacheHit {
			cacheHits++
		}
	}
	findingsJSON, err := json.Marshal(findingCounts(session))
	if err != nil {
		s.logger.Warn("marshaling finding counts failed", "session", session.ID, "error", err)
		return
	}

	_, err = s.db.Exec(`
		INSERT INTO sessions (
			id, repo_root, status, provider, model,
			created_at, updated_at,
			files_total, files_done, files_failed, files_skipped,
			cache_hits, findings_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			provider = excluded.provider,
			model = excluded.model,
			updated_at = excluded.updated_at,
			files_total = excluded.files_total,
			files_done = excluded.files_done,
			files_failed = excluded.files_failed,
			files_skipped = excluded.files_skipped,
			cache_hits = excluded.cache_hits,
			findings_json = excluded.findings_json
	`,
		string(session.ID), session.RepoRoot, string(session.Status),
		session.Provider, session.Model,
		session.CreatedAt, session.UpdatedAt,
		summary.TotalFiles, summary.DoneFiles, summary.FailedFiles, skipped,
		cacheHits, string(findingsJSON),
	)
	if err != nil {
		s.logger.Warn("updating session index failed", "session", session.ID, "error", err)
	}
}

// cacheFinished inserts completed analysis records into the cross-session
// cache, keyed by content fingerprint. Adopted cache hits are not
// re-inserted; the first genuine analysis of a fingerprint wins.
func (s *Store) cacheFinished(session *core.AnalysisSession) {
	for _, rec := range session.Files {
		if rec.Status != core.FileStatusDone || rec.CacheHit || rec.Fingerprint == "" {
			continue
		}
		recordJSON, err := json.Marshal(rec)
		if err != nil {
			s.logger.Warn("marshaling cache record failed", "path", rec.Path, "error", err)
			continue
		}
		_, err = s.db.Exec(`
			INSERT INTO file_cache (fingerprint, path, record_json)
			VALUES (?, ?, ?)
			ON CONFLICT(fingerprint) DO NOTHING
		`, rec.Fingerprint, rec.Path, string(recordJSON))
		if err != nil {
			s.logger.Warn("updating analysis cache failed", "path", rec.Path, "error", err)
		}
	}
}

// List returns summaries of all persisted sessions, newest first.
func (s *Store) List() ([]core.SessionSummary, error) {
	rows, err := s.db.Query(`
		SELECT id, repo_root, status, created_at, updated_at,
		       files_total, files_done, files_failed
		FROM sessions
		ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var summaries []core.SessionSummary
	for rows.Next() {
		var summary core.SessionSummary
		var id, status string
		err := rows.Scan(
			&id, &summary.RepoRoot, &status,
			&summary.CreatedAt, &summary.UpdatedAt,
			&summary.TotalFiles, &summary.DoneFiles, &summary.FailedFiles,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}
		summary.ID = core.SessionID(id)
		summary.Status = core.SessionStatus(status)
		summaries = append(summaries, summary)
	}
	return summaries, rows.Err()
}

// LookupCached returns the completed analysis record for a content
// fingerprint from any prior session, if one exists.
func (s *Store) LookupCached(fingerprint string) (*core.FileAnalysisRecord, bool, error) {
	if fingerprint == "" {
		return nil, false, nil
	}

	var recordJSON string
	err := s.db.QueryRow(
		"SELECT record_json FROM file_cache WHERE fingerprint = ?", fingerprint,
	).Scan(&recordJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("querying analysis cache: %w", err)
	}

	var rec core.FileAnalysisRecord
	if err := json.Unmarshal([]byte(recordJSON), &rec); err != nil {
		return nil, false, fmt.Errorf("unmarshaling cached record: %w", err)
	}
	return &rec, true, nil
}

// GlobalStats aggregates across all indexed sessions.
func (s *Store) GlobalStats() (*core.GlobalStats, error) {
	stats := &core.GlobalStats{
		SessionsByStatus: make(map[core.SessionStatus]int),
		FindingsByType:   make(map[core.VulnType]int),
	}

	rows, err := s.db.Query("SELECT status, files_done, cache_hits, findings_json FROM sessions")
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status, findingsJSON string
		var filesDone, cacheHits int
		if err := rows.Scan(&status, &filesDone, &cacheHits, &findingsJSON); err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}
		stats.Sessions++
		stats.SessionsByStatus[core.SessionStatus(status)]++
		stats.FilesAnalyzed += filesDone
		stats.CacheHits += cacheHits

		if findingsJSON != "" {
			var findings map[core.VulnType]int
			if err := json.Unmarshal([]byte(findingsJSON), &findings); err == nil {
				for vt, n := range findings {
					stats.FindingsByType[vt] += n
				}
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.db.QueryRow("SELECT COUNT(*) FROM file_cache").Scan(&stats.CachedResults); err != nil {
		return nil, fmt.Errorf("counting cached results: %w", err)
	}
	return stats, nil
}
