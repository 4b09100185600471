package core

import "context"

// Prompt is the structured input for one model call.
type Prompt struct {
	System string
	User   string
}

// Provider abstracts one LLM backend. Implementations own authentication,
// transport, endpoint, and model selection; callers own scheduling, retries,
// and validation. Send returns the raw reply text.
type Provider interface {
	// Name returns the provider identifier (claude, openai, openrouter, ollama).
	Name() string

	// Send performs one completion call and returns the raw response text.
	// Failures are classified: rate limiting surfaces ErrCatRateLimit (with a
	// retry-after hint when the backend supplied one), timeouts and resets
	// surface ErrCatTransient, authentication failures ErrCatAuth.
	Send(ctx context.Context, prompt Prompt) (string, error)

	// Ping verifies the provider is reachable and credentialed.
	Ping(ctx context.Context) error
}

// ProviderRegistry manages available providers.
type ProviderRegistry interface {
	// Get returns a provider by name, creating it if necessary.
	Get(name string) (Provider, error)

	// List returns names of all registered providers.
	List() []string

	// Ping checks if a provider is available.
	Ping(ctx context.Context, name string) error
}

// Gateway is one logical "send structured prompt, get validated structured
// response" call against a provider fixed at construction. Implementations
// compose rate limiting and retry scheduling; they do not cache.
type Gateway interface {
	// Send issues a call whose reply must parse as a ModelResponse.
	Send(ctx context.Context, prompt Prompt) (*ModelResponse, error)

	// SendText issues a call and returns the raw reply without shape
	// validation. Used for free-form asks like the project summary.
	SendText(ctx context.Context, prompt Prompt) (string, error)
}

// StateStore persists sessions durably and crash-safe. Save is atomic: a
// failed write must leave the previously committed checkpoint readable.
type StateStore interface {
	// Create persists a new session. Fails if the ID already exists.
	Create(session *AnalysisSession) error

	// Load reads a session by ID.
	Load(id SessionID) (*AnalysisSession, error)

	// Save checkpoints the session atomically.
	Save(session *AnalysisSession) error

	// List returns summaries of all persisted sessions, newest first.
	List() ([]SessionSummary, error)

	// LookupCached returns the completed analysis record for a content
	// fingerprint from any prior session, if one exists. A hit skips
	// re-invoking the model entirely for unchanged files.
	LookupCached(fingerprint string) (*FileAnalysisRecord, bool, error)

	// Stats aggregates per-session counts: files processed, findings by
	// vulnerability type, errors encountered.
	Stats(id SessionID) (*SessionStats, error)

	// GlobalStats aggregates across all sessions.
	GlobalStats() (*GlobalStats, error)

	// Cleanup removes sessions not updated within the horizon, returning
	// how many were pruned.
	Cleanup(horizonDays int) (int, error)

	// AcquireLock takes an exclusive advisory lock on a session so two
	// processes cannot drive it concurrently.
	AcquireLock(id SessionID) error

	// ReleaseLock releases the session lock.
	ReleaseLock(id SessionID) error
}

// RepoScanner selects candidate files for analysis. Paths are returned
// relative to root, slash-separated and sorted, so resumed sessions
// reference the same index set. A non-empty include list overrides the
// scanner's default extension set; exclude entries are appended to its
// default skip list.
type RepoScanner interface {
	Scan(root string, include, exclude []string) ([]string, error)
}

// SymbolDefinition is one resolved symbol: where it lives and its source.
type SymbolDefinition struct {
	Name     string `json:"name"`
	FilePath string `json:"file_path"`
	Source   string `json:"source"`
}

// SymbolResolver turns a requested symbol name into its definition.
// Stateless from the orchestrator's point of view: resolution caching
// lives in each investigation's context map, never here. Absence is
// reported with an ErrCatNotFound error, which callers record as a miss
// and proceed.
type SymbolResolver interface {
	Resolve(ctx context.Context, name, fromFile, repoRoot string) (*SymbolDefinition, error)
}

// ProgressKind tags orchestrator progress events.
type ProgressKind string

const (
	ProgressFileStarted   ProgressKind = "file_started"
	ProgressInitialDone   ProgressKind = "initial_done"
	ProgressIterationDone ProgressKind = "iteration_done"
	ProgressFileDone      ProgressKind = "file_done"
	ProgressFileFailed    ProgressKind = "file_failed"
	ProgressSessionDone   ProgressKind = "session_done"
)

// ProgressEvent reports orchestrator progress to an optional listener.
type ProgressEvent struct {
	Kind      ProgressKind
	SessionID SessionID
	File      string
	VulnType  VulnType
	Iteration int
	FilesDone int
	FilesAll  int
	Message   string
}

// ProgressFunc receives progress events. Implementations must be fast and
// must not block the analysis loop.
type ProgressFunc func(ev ProgressEvent)
