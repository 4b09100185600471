package state

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"syscall"
	"time"

	"github.com/vulnhound/vulnhound/internal/core"
)

const (
	checkpointExt = ".json"
	backupExt     = ".json.bak"
	lockExt       = ".lock"
)

// checkpointEnvelope wraps a serialized session with integrity metadata.
// The checksum covers the compact session payload, so a torn or hand-edited
// checkpoint is detected on load and the backup takes over.
type checkpointEnvelope struct {
	Version   int             `json:"version"`
	Checksum  string          `json:"checksum"`
	UpdatedAt time.Time       `json:"updated_at"`
	Session   json.RawMessage `json:"session"`
}

// Session IDs become file names, so they are restricted to a safe charset.
var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

func validateSessionID(id core.SessionID) error {
	if sessionIDPattern.MatchString(string(id)) {
		return nil
	}
	return core.ErrValidation(core.CodeBadRequest, fmt.Sprintf("invalid session ID %q", id))
}

func (s *Store) sessionPath(id core.SessionID) string {
	return filepath.Join(s.sessionsDir, string(id)+checkpointExt)
}

func (s *Store) backupPath(id core.SessionID) string {
	return filepath.Join(s.sessionsDir, string(id)+backupExt)
}

func (s *Store) lockPath(id core.SessionID) string {
	return filepath.Join(s.sessionsDir, string(id)+lockExt)
}

// Create persists a new session. It fails when a checkpoint for the ID
// already exists.
func (s *Store) Create(session *core.AnalysisSession) error {
	if err := session.Validate(); err != nil {
		return err
	}
	if err := validateSessionID(session.ID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.sessionPath(session.ID)); err == nil {
		return core.ErrState(core.CodeInvalidState, fmt.Sprintf("session %s already exists", session.ID))
	}
	if err := s.writeCheckpoint(session); err != nil {
		return err
	}
	s.indexSession(session)
	return nil
}

// Save checkpoints the session atomically. The checkpoint file is the
// source of truth; index and cache rows are refreshed best-effort.
func (s *Store) Save(session *core.AnalysisSession) error {
	if err := validateSessionID(session.ID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writeCheckpoint(session); err != nil {
		return err
	}
	s.indexSession(session)
	s.cacheFinished(session)
	return nil
}

// Load reads a session from its checkpoint, falling back to the backup
// when the current file is unreadable or corrupted.
func (s *Store) Load(id core.SessionID) (*core.AnalysisSession, error) {
	if err := validateSessionID(id); err != nil {
		return nil, err
	}

	session, err := s.readCheckpoint(s.sessionPath(id))
	if err == nil {
		return session, nil
	}
	if os.IsNotExist(err) {
		return nil, core.ErrNotFound("session", string(id))
	}

	backup, backupErr := s.readCheckpoint(s.backupPath(id))
	if backupErr != nil {
		return nil, fmt.Errorf("loading checkpoint: %w (backup also failed: %v)", err, backupErr)
	}
	s.logger.Warn("checkpoint unreadable, recovered from backup", "session", id, "error", err)
	return backup, nil
}

// writeCheckpoint backs up the existing checkpoint, then atomically writes
// the new one. Caller holds s.mu.
func (s *Store) writeCheckpoint(session *core.AnalysisSession) error {
	path := s.sessionPath(session.ID)
	if _, err := os.Stat(path); err == nil {
		if err := s.backupCheckpoint(session.ID); err != nil {
			return fmt.Errorf("backing up checkpoint: %w", err)
		}
	}

	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshaling session: %w", err)
	}
	hash := sha256.Sum256(payload)

	envelope := checkpointEnvelope{
		Version:   1,
		Checksum:  hex.EncodeToString(hash[:]),
		UpdatedAt: session.UpdatedAt,
		Session:   payload,
	}
	data, err := json.MarshalIndent(envelope, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling envelope: %w", err)
	}

	if err := atomicWriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing checkpoint: %w", err)
	}
	return nil
}

func (s *Store) readCheckpoint(path string) (*core.AnalysisSession, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var envelope checkpointEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("unmarshaling envelope: %w", err)
	}

	// MarshalIndent re-indented the embedded payload, so compact it back
	// to the form the checksum was computed over.
	var compact bytes.Buffer
	if err := json.Compact(&compact, envelope.Session); err != nil {
		return nil, fmt.Errorf("compacting session payload: %w", err)
	}
	hash := sha256.Sum256(compact.Bytes())
	if hex.EncodeToString(hash[:]) != envelope.Checksum {
		return nil, core.ErrState(core.CodeStateCorrupted, "checkpoint checksum mismatch")
	}

	var session core.AnalysisSession
	if err := json.Unmarshal(envelope.Session, &session); err != nil {
		return nil, fmt.Errorf("unmarshaling session: %w", err)
	}
	return &session, nil
}

func (s *Store) backupCheckpoint(id core.SessionID) error {
	data, err := os.ReadFile(s.sessionPath(id))
	if err != nil {
		return err
	}
	return atomicWriteFile(s.backupPath(id), data, 0o644)
}

// lockInfo is the contents of a session lock file.
type lockInfo struct {
	PID        int       `json:"pid"`
	Hostname   string    `json:"hostname"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// AcquireLock takes an exclusive advisory lock on a session. A lock whose
// owning process is gone, or that outlived the TTL, is broken as stale.
func (s *Store) AcquireLock(id core.SessionID) error {
	if err := validateSessionID(id); err != nil {
		return err
	}
	lockPath := s.lockPath(id)

	if data, err := os.ReadFile(lockPath); err == nil {
		var info lockInfo
		if err := json.Unmarshal(data, &info); err == nil {
			if time.Since(info.AcquiredAt) < s.lockTTL && processExists(info.PID) {
				return core.ErrState(core.CodeLockAcquireFailed,
					fmt.Sprintf("session locked by PID %d since %s", info.PID, info.AcquiredAt.Format(time.RFC3339)))
			}
		}
		// Stale or unreadable lock.
		_ = os.Remove(lockPath)
	}

	hostname, _ := os.Hostname()
	info := lockInfo{
		PID:        os.Getpid(),
		Hostname:   hostname,
		AcquiredAt: time.Now().UTC(),
	}
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshaling lock info: %w", err)
	}

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return core.ErrState(core.CodeLockAcquireFailed, "lock file created by another process")
		}
		return fmt.Errorf("creating lock file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		_ = os.Remove(lockPath)
		return fmt.Errorf("writing lock file: %w", err)
	}
	return nil
}

// ReleaseLock releases the session lock. Releasing an unheld lock is a
// no-op; a lock held by another process is left alone.
func (s *Store) ReleaseLock(id core.SessionID) error {
	if err := validateSessionID(id); err != nil {
		return err
	}

	data, err := os.ReadFile(s.lockPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading lock file: %w", err)
	}

	var info lockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return fmt.Errorf("parsing lock info: %w", err)
	}
	if info.PID != os.Getpid() {
		return core.ErrState("LOCK_RELEASE_FAILED", "lock owned by different process")
	}
	return os.Remove(s.lockPath(id))
}

// checkpointUpdatedAt reads only the envelope timestamp of a checkpoint.
func checkpointUpdatedAt(path string) (time.Time, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return time.Time{}, err
	}
	var envelope struct {
		UpdatedAt time.Time `json:"updated_at"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return time.Time{}, err
	}
	return envelope.UpdatedAt, nil
}

// processExists checks whether a process is running.
func processExists(pid int) bool {
	// Windows reports no access when signaling the current process; treat
	// that as existing.
	if runtime.GOOS == "windows" && pid == os.Getpid() {
		return true
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On Unix, FindProcess always succeeds, so send signal 0.
	err = process.Signal(syscall.Signal(0))
	return err == nil
}
