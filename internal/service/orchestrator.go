package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vulnhound/vulnhound/internal/core"
	"github.com/vulnhound/vulnhound/internal/fsutil"
	"github.com/vulnhound/vulnhound/internal/logging"
	"github.com/vulnhound/vulnhound/internal/prompts"
	"github.com/vulnhound/vulnhound/internal/scan"
)

// DefaultMaxIterations bounds the deep-dive loop per vulnerability class.
const DefaultMaxIterations = 7

// OrchestratorConfig bounds one analysis run.
type OrchestratorConfig struct {
	Provider      string
	Model         string
	MaxIterations int
	Workers       int
	Include       []string
	Exclude       []string
}

// Orchestrator drives the per-file analysis state machine: initial pass,
// per-class deep dives with a growing context map, checkpoint after every
// completed iteration, and resume from the last checkpoint. It owns the
// session exclusively while holding the store lock.
type Orchestrator struct {
	config   OrchestratorConfig
	store    core.StateStore
	gateway  core.Gateway
	scanner  core.RepoScanner
	resolver core.SymbolResolver
	renderer *prompts.Renderer
	logger   *logging.Logger
	progress core.ProgressFunc

	// mu serializes session mutation and checkpointing; model calls and
	// symbol resolution run outside it.
	mu sync.Mutex
}

// OrchestratorOption configures an orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithProgress registers a progress listener.
func WithProgress(fn core.ProgressFunc) OrchestratorOption {
	return func(o *Orchestrator) {
		o.progress = fn
	}
}

// WithOrchestratorLogger sets the logger.
func WithOrchestratorLogger(logger *logging.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// NewOrchestrator creates an orchestrator. Zero config values fall back to
// defaults: 7 iterations, sequential processing.
func NewOrchestrator(
	cfg OrchestratorConfig,
	store core.StateStore,
	gateway core.Gateway,
	scanner core.RepoScanner,
	resolver core.SymbolResolver,
	renderer *prompts.Renderer,
	opts ...OrchestratorOption,
) *Orchestrator {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}

	o := &Orchestrator{
		config:   cfg,
		store:    store,
		gateway:  gateway,
		scanner:  scanner,
		resolver: resolver,
		renderer: renderer,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run scans the repository, creates a new session over the candidate files,
// and analyzes them to completion. The returned session reflects whatever
// state was reached, including on cancellation.
func (o *Orchestrator) Run(ctx context.Context, repoRoot string) (*core.AnalysisSession, error) {
	absRoot, err := filepath.Abs(repoRoot)
	if err != nil {
		return nil, fmt.Errorf("resolving repo root: %w", err)
	}

	paths, err := o.scanner.Scan(absRoot, o.config.Include, o.config.Exclude)
	if err != nil {
		return nil, fmt.Errorf("scanning repository: %w", err)
	}
	if len(paths) == 0 {
		return nil, core.ErrValidation(core.CodeNoFiles, "no analyzable files found under "+absRoot)
	}

	session := core.NewSession(core.SessionID(uuid.New().String()), absRoot, paths)
	session.Provider = o.config.Provider
	session.Model = o.config.Model
	for _, rec := range session.Files {
		fp, err := fileFingerprint(absRoot, rec.Path)
		if err != nil {
			o.logger.Warn("fingerprint failed", "file", rec.Path, "error", err)
			continue
		}
		rec.Fingerprint = fp
	}

	if err := o.store.Create(session); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	if err := o.store.AcquireLock(session.ID); err != nil {
		return nil, fmt.Errorf("locking session: %w", err)
	}
	defer func() {
		if err := o.store.ReleaseLock(session.ID); err != nil {
			o.logger.Warn("releasing session lock", "session_id", session.ID, "error", err)
		}
	}()

	o.logger.Info("analysis session started",
		"session_id", session.ID,
		"repo", absRoot,
		"files", len(session.Files),
		"provider", o.config.Provider,
		"workers", o.config.Workers,
	)

	return session, o.drive(ctx, session)
}

// Resume continues a persisted session from its last checkpoint. Work
// already recorded is never repeated: terminal files are skipped and
// mid-flight investigations pick up at their next iteration. Resuming a
// finished session is a no-op.
func (o *Orchestrator) Resume(ctx context.Context, id core.SessionID) (*core.AnalysisSession, error) {
	session, err := o.store.Load(id)
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	if session.IsTerminal() {
		o.logger.Info("session already finished", "session_id", id, "status", session.Status)
		return session, nil
	}

	if err := o.store.AcquireLock(id); err != nil {
		return nil, fmt.Errorf("locking session: %w", err)
	}
	defer func() {
		if err := o.store.ReleaseLock(id); err != nil {
			o.logger.Warn("releasing session lock", "session_id", id, "error", err)
		}
	}()

	if o.config.Provider != "" && session.Provider != "" && o.config.Provider != session.Provider {
		o.logger.Warn("resuming with a different provider",
			"session_id", id,
			"recorded", session.Provider,
			"current", o.config.Provider,
		)
	}

	o.logger.Info("resuming session",
		"session_id", id,
		"pending", len(session.PendingFiles()),
		"total", len(session.Files),
	)

	return session, o.drive(ctx, session)
}

// drive processes every non-terminal file, then finalizes the session.
// On cancellation the session stays running with its last checkpoint intact.
func (o *Orchestrator) drive(ctx context.Context, session *core.AnalysisSession) error {
	if !session.ReadmeSummarized {
		if err := o.summarizeProject(ctx, session); err != nil {
			return err
		}
	}

	var runErr error
	if o.config.Workers > 1 {
		runErr = o.processParallel(ctx, session)
	} else {
		runErr = o.processSequential(ctx, session)
	}
	if runErr != nil {
		o.commit(session, nil)
		o.logger.Info("analysis interrupted, checkpoint saved",
			"session_id", session.ID,
			"error", runErr,
		)
		return runErr
	}

	if err := session.Complete(); err != nil {
		return err
	}
	if err := o.store.Save(session); err != nil {
		return fmt.Errorf("saving final state: %w", err)
	}

	done, all := o.progressCounts(session)
	o.emit(core.ProgressEvent{
		Kind:      core.ProgressSessionDone,
		SessionID: session.ID,
		FilesDone: done,
		FilesAll:  all,
	})
	o.logger.Info("analysis session complete", "session_id", session.ID, "files", all)
	return nil
}

// summarizeProject performs the one-time README summarization. The step is
// recorded even when no README exists so resume does not repeat it.
func (o *Orchestrator) summarizeProject(ctx context.Context, session *core.AnalysisSession) error {
	readme, ok := scan.FindReadme(session.RepoRoot)
	if !ok || strings.TrimSpace(readme) == "" {
		o.logger.Warn("no readme found, continuing without project summary", "session_id", session.ID)
		o.commit(session, func() { session.ReadmeSummarized = true })
		return nil
	}

	prompt, err := o.renderer.ReadmeSummary(prompts.ReadmeParams{Content: readme})
	if err != nil {
		return fmt.Errorf("rendering summary prompt: %w", err)
	}

	o.logger.Info("summarizing project readme", "session_id", session.ID)
	raw, err := o.gateway.SendText(ctx, prompt)
	if err != nil {
		if isContextErr(err) {
			return err
		}
		o.logger.Warn("project summary failed, continuing without", "session_id", session.ID, "error", err)
		o.commit(session, func() { session.ReadmeSummarized = true })
		return nil
	}

	summary := scan.ExtractSummary(raw)
	o.commit(session, func() {
		session.ReadmeSummary = summary
		session.ReadmeSummarized = true
	})
	o.logger.Info("readme summary complete", "session_id", session.ID, "length", len(summary))
	return nil
}

func (o *Orchestrator) processSequential(ctx context.Context, session *core.AnalysisSession) error {
	for _, rec := range session.Files {
		if rec.Terminal() {
			continue
		}
		if err := o.processFile(ctx, session, rec); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) processParallel(ctx context.Context, session *core.AnalysisSession) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.config.Workers)

	for _, rec := range session.Files {
		if rec.Terminal() {
			continue
		}
		g.Go(func() error {
			return o.processFile(gctx, session, rec)
		})
	}
	return g.Wait()
}

// processFile takes one file from its current state to a terminal one.
// Only cancellation propagates as an error; analysis failures are recorded
// on the file and never abort the session.
func (o *Orchestrator) processFile(ctx context.Context, session *core.AnalysisSession, rec *core.FileAnalysisRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	o.emit(core.ProgressEvent{Kind: core.ProgressFileStarted, SessionID: session.ID, File: rec.Path})
	o.logger.Info("analyzing file", "session_id", session.ID, "file", rec.Path)

	// Unchanged content reuses the completed record of a prior session.
	if rec.Status == core.FileStatusPending && rec.Fingerprint != "" {
		cached, ok, err := o.store.LookupCached(rec.Fingerprint)
		if err != nil {
			o.logger.Warn("cache lookup failed", "file", rec.Path, "error", err)
		} else if ok {
			o.commit(session, func() { rec.AdoptCached(cached) })
			o.finishFile(session, rec)
			o.logger.Info("cache hit, analysis reused", "session_id", session.ID, "file", rec.Path)
			return nil
		}
	}

	source, err := fsutil.ReadWithinRoot(session.RepoRoot, rec.Path)
	if err != nil {
		o.failFile(session, rec, fmt.Errorf("reading source: %w", err))
		return nil
	}
	if strings.TrimSpace(string(source)) == "" {
		o.commit(session, func() { rec.MarkSkipped() })
		o.finishFile(session, rec)
		return nil
	}

	if rec.Status == core.FileStatusPending {
		if err := o.initialAnalysis(ctx, session, rec, string(source)); err != nil {
			return err
		}
		if rec.Terminal() {
			o.finishFile(session, rec)
			return nil
		}
	}

	if err := o.investigations(ctx, session, rec, string(source)); err != nil {
		return err
	}

	if !rec.Terminal() {
		o.commit(session, func() { rec.MarkDone() })
	}
	o.finishFile(session, rec)
	return nil
}

// initialAnalysis issues the first-pass call for a file. Nothing flagged
// means the file is done with exactly one model call.
func (o *Orchestrator) initialAnalysis(ctx context.Context, session *core.AnalysisSession, rec *core.FileAnalysisRecord, source string) error {
	prompt, err := o.renderer.Initial(prompts.InitialParams{
		FilePath:      rec.Path,
		FileSource:    source,
		ReadmeSummary: session.ReadmeSummary,
	})
	if err != nil {
		o.failFile(session, rec, fmt.Errorf("rendering initial prompt: %w", err))
		return nil
	}

	resp, err := o.gateway.Send(ctx, prompt)
	if err != nil {
		if isContextErr(err) {
			return err
		}
		o.failFile(session, rec, err)
		return nil
	}

	flagged := resp.HasFindings()
	o.commit(session, func() {
		_ = rec.MarkInitialDone(resp)
		if !flagged {
			rec.MarkSkipped()
		}
	})
	o.emit(core.ProgressEvent{Kind: core.ProgressInitialDone, SessionID: session.ID, File: rec.Path})

	if flagged {
		o.logger.Info("initial analysis flagged file",
			"session_id", session.ID,
			"file", rec.Path,
			"confidence", resp.ConfidenceScore,
			"types", fmt.Sprint(resp.VulnTypes),
		)
	} else {
		o.logger.Info("initial analysis found nothing to pursue", "session_id", session.ID, "file", rec.Path)
	}
	return nil
}

// investigations runs one deep dive per distinct flagged class, in the
// order the initial analysis reported them.
func (o *Orchestrator) investigations(ctx context.Context, session *core.AnalysisSession, rec *core.FileAnalysisRecord, source string) error {
	if rec.InitialResult == nil {
		return nil
	}

	o.withLock(func() { rec.Status = core.FileStatusSecondaryInProgress })

	seen := make(map[core.VulnType]bool)
	for _, vt := range rec.InitialResult.VulnTypes {
		if seen[vt] {
			continue
		}
		seen[vt] = true

		var inv *core.VulnInvestigation
		o.withLock(func() { inv = rec.Investigation(vt) })
		if inv.Terminal {
			continue
		}
		if err := o.investigate(ctx, session, rec, inv, source); err != nil {
			return err
		}
	}
	return nil
}

// investigate is the bounded context-accumulation loop for one (file, class)
// pair. Iteration 0 sees only the file source; each later iteration folds in
// the symbols requested so far. The loop ends when a response requests no
// genuinely new symbol, or at the iteration ceiling. State is checkpointed
// after every completed iteration, so resume continues exactly here.
func (o *Orchestrator) investigate(ctx context.Context, session *core.AnalysisSession, rec *core.FileAnalysisRecord, inv *core.VulnInvestigation, source string) error {
	for !inv.Terminal && inv.Iteration < o.config.MaxIterations {
		if err := ctx.Err(); err != nil {
			return err
		}

		if inv.Iteration > 0 {
			if err := o.resolveRequests(ctx, session, rec, inv); err != nil {
				return err
			}
		}

		prompt, err := o.renderer.Secondary(prompts.SecondaryParams{
			FilePath:         rec.Path,
			FileSource:       source,
			VulnType:         inv.Type,
			Definitions:      o.contextDefinitions(inv),
			PreviousAnalysis: previousAnalysis(inv),
			ReadmeSummary:    session.ReadmeSummary,
		})
		if err != nil {
			o.commit(session, func() { inv.FinishFailed(err) })
			return nil
		}

		o.logger.Debug("deep dive iteration",
			"session_id", session.ID,
			"file", rec.Path,
			"vuln_type", inv.Type,
			"iteration", inv.Iteration,
			"context_symbols", len(inv.ContextMap),
		)

		resp, err := o.gateway.Send(ctx, prompt)
		if err != nil {
			if isContextErr(err) {
				return err
			}
			// The last valid response, if any, stands as the result.
			o.commit(session, func() { inv.FinishFailed(err) })
			o.logger.Warn("deep dive failed",
				"session_id", session.ID,
				"file", rec.Path,
				"vuln_type", inv.Type,
				"iteration", inv.Iteration,
				"error", err,
			)
			return nil
		}

		fresh := inv.NewRequests(resp)
		done := len(fresh) == 0 || inv.Iteration+1 >= o.config.MaxIterations
		o.commit(session, func() {
			inv.RecordIteration(resp)
			if done {
				inv.Finish(resp)
			}
		})
		o.emit(core.ProgressEvent{
			Kind:      core.ProgressIterationDone,
			SessionID: session.ID,
			File:      rec.Path,
			VulnType:  inv.Type,
			Iteration: inv.Iteration,
		})

		if done {
			o.logger.Info("investigation finished",
				"session_id", session.ID,
				"file", rec.Path,
				"vuln_type", inv.Type,
				"iterations", inv.Iteration,
				"confidence", resp.ConfidenceScore,
			)
		}
	}

	// A resumed investigation already at the ceiling keeps its last response.
	if !inv.Terminal {
		o.commit(session, func() { inv.Finish(inv.LastResponse) })
	}
	return nil
}

// resolveRequests resolves the symbols the last response asked for that are
// not yet in the context map. Misses are recorded with a not-found marker so
// the name is never resolved again. Resolution is local and cheap; redoing
// it after a crash never repeats a model call.
func (o *Orchestrator) resolveRequests(ctx context.Context, session *core.AnalysisSession, rec *core.FileAnalysisRecord, inv *core.VulnInvestigation) error {
	fromFile := filepath.Join(session.RepoRoot, filepath.FromSlash(rec.Path))
	for _, req := range inv.NewRequests(inv.LastResponse) {
		if err := ctx.Err(); err != nil {
			return err
		}

		def, err := o.resolver.Resolve(ctx, req.Name, fromFile, session.RepoRoot)
		var entry core.ContextEntry
		if err != nil {
			if isContextErr(err) {
				return err
			}
			o.logger.Debug("symbol not found",
				"session_id", session.ID,
				"file", rec.Path,
				"symbol", req.Name,
			)
			entry = core.ContextEntry{Found: false}
		} else {
			entry = core.ContextEntry{Source: def.Source, FilePath: def.FilePath, Found: true}
		}
		o.withLock(func() { inv.AddContext(req.Name, entry) })
	}
	return nil
}

// contextDefinitions flattens an investigation's context map into the
// deterministic order prompts are assembled in.
func (o *Orchestrator) contextDefinitions(inv *core.VulnInvestigation) []prompts.ContextDefinition {
	o.mu.Lock()
	defer o.mu.Unlock()

	names := make([]string, 0, len(inv.ContextMap))
	for name := range inv.ContextMap {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]prompts.ContextDefinition, 0, len(names))
	for _, name := range names {
		entry := inv.ContextMap[name]
		defs = append(defs, prompts.ContextDefinition{
			Name:     name,
			FilePath: entry.FilePath,
			Source:   entry.Source,
			Found:    entry.Found,
		})
	}
	return defs
}

func previousAnalysis(inv *core.VulnInvestigation) string {
	if inv.LastResponse == nil {
		return ""
	}
	return inv.LastResponse.Analysis
}

func (o *Orchestrator) failFile(session *core.AnalysisSession, rec *core.FileAnalysisRecord, err error) {
	o.commit(session, func() { rec.MarkFailed(err) })
	done, all := o.progressCounts(session)
	o.emit(core.ProgressEvent{
		Kind:      core.ProgressFileFailed,
		SessionID: session.ID,
		File:      rec.Path,
		FilesDone: done,
		FilesAll:  all,
		Message:   err.Error(),
	})
	o.logger.Warn("file analysis failed", "session_id", session.ID, "file", rec.Path, "error", err)
}

func (o *Orchestrator) finishFile(session *core.AnalysisSession, rec *core.FileAnalysisRecord) {
	done, all := o.progressCounts(session)
	o.emit(core.ProgressEvent{
		Kind:      core.ProgressFileDone,
		SessionID: session.ID,
		File:      rec.Path,
		FilesDone: done,
		FilesAll:  all,
	})
}

// commit applies a state mutation and checkpoints the session under one
// lock, so a concurrent marshal never sees a half-applied transition. A
// failed checkpoint write is logged and does not abort the run; the
// previously committed checkpoint stays intact.
func (o *Orchestrator) commit(session *core.AnalysisSession, mutate func()) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if mutate != nil {
		mutate()
	}
	session.Touch()
	if err := o.store.Save(session); err != nil {
		o.logger.Warn("checkpoint save failed", "session_id", session.ID, "error", err)
	}
}

func (o *Orchestrator) withLock(fn func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fn()
}

func (o *Orchestrator) emit(ev core.ProgressEvent) {
	if o.progress == nil {
		return
	}
	o.progress(ev)
}

func (o *Orchestrator) progressCounts(session *core.AnalysisSession) (done, all int) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, f := range session.Files {
		if f.Terminal() {
			done++
		}
	}
	return done, len(session.Files)
}

// fileFingerprint returns the hex sha256 of the file content. Identical
// content across sessions shares one cache slot.
func fileFingerprint(root, rel string) (string, error) {
	data, err := fsutil.ReadWithinRoot(root, rel)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
