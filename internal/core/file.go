package core

import "fmt"

// FileStatus represents the analysis state of a single file.
type FileStatus string

const (
	FileStatusPending             FileStatus = "pending"
	FileStatusInitialDone         FileStatus = "initial_done"
	FileStatusSecondaryInProgress FileStatus = "secondary_in_progress"
	FileStatusDone                FileStatus = "done"
	FileStatusFailed              FileStatus = "failed"
)

// FileAnalysisRecord tracks one file through the per-file state machine:
// pending -> initial analysis -> (skipped | secondary analysis per flagged
// vulnerability type) -> done | failed.
type FileAnalysisRecord struct {
	Path           string                          `json:"path"`
	Fingerprint    string                          `json:"fingerprint,omitempty"`
	Status         FileStatus                      `json:"status"`
	InitialResult  *ModelResponse                  `json:"initial_result,omitempty"`
	Investigations map[VulnType]*VulnInvestigation `json:"investigations,omitempty"`
	Skipped        bool                            `json:"skipped,omitempty"`
	CacheHit       bool                            `json:"cache_hit,omitempty"`
	Error          string                          `json:"error,omitempty"`
}

// Terminal returns true once the file needs no further work.
func (f *FileAnalysisRecord) Terminal() bool {
	return f.Status == FileStatusDone || f.Status == FileStatusFailed
}

// MarkInitialDone records the initial analysis response.
func (f *FileAnalysisRecord) MarkInitialDone(resp *ModelResponse) error {
	if f.Status != FileStatusPending {
		return fmt.Errorf("cannot record initial analysis in %s state", f.Status)
	}
	f.InitialResult = resp
	f.Status = FileStatusInitialDone
	return nil
}

// MarkSkipped finishes a file whose initial analysis found nothing to chase:
// confidence 0 or an empty vulnerability set. No further model calls happen.
func (f *FileAnalysisRecord) MarkSkipped() {
	f.Skipped = true
	f.Status = FileStatusDone
}

// MarkDone finishes a file whose investigations all reached a terminal state.
func (f *FileAnalysisRecord) MarkDone() {
	f.Status = FileStatusDone
}

// MarkFailed records an error and finishes the file. A failed file never
// aborts the session; it is itemized in the final report.
func (f *FileAnalysisRecord) MarkFailed(err error) {
	f.Status = FileStatusFailed
	if err != nil {
		f.Error = err.Error()
	}
}

// AdoptCached copies a prior session's completed result for identical file
// content. The adopting record finishes without any model calls.
func (f *FileAnalysisRecord) AdoptCached(prior *FileAnalysisRecord) {
	f.InitialResult = prior.InitialResult
	f.Investigations = prior.Investigations
	f.Skipped = prior.Skipped
	f.CacheHit = true
	f.Status = FileStatusDone
}

// Investigation returns the investigation for a vulnerability type, creating
// it on first access.
func (f *FileAnalysisRecord) Investigation(vt VulnType) *VulnInvestigation {
	if f.Investigations == nil {
		f.Investigations = make(map[VulnType]*VulnInvestigation)
	}
	inv, ok := f.Investigations[vt]
	if !ok {
		inv = &VulnInvestigation{Type: vt, ContextMap: make(map[string]ContextEntry)}
		f.Investigations[vt] = inv
	}
	return inv
}

// OpenInvestigations returns the investigations not yet terminal, in
// deterministic type order.
func (f *FileAnalysisRecord) OpenInvestigations() []*VulnInvestigation {
	var open []*VulnInvestigation
	for _, vt := range AllVulnTypes {
		if inv, ok := f.Investigations[vt]; ok && !inv.Terminal {
			open = append(open, inv)
		}
	}
	return open
}

// ContextEntry is one resolved symbol in an investigation's context map.
// Found is false for an explicit "not found" marker; the symbol is still
// never re-resolved.
type ContextEntry struct {
	Source   string `json:"source"`
	FilePath string `json:"file_path,omitempty"`
	Found    bool   `json:"found"`
}

// VulnInvestigation is the bounded iterative deep-dive for one (file,
// vulnerability type) pair. The context map grows monotonically: a symbol is
// resolved at most once, keyed by name, even if requested repeatedly.
type VulnInvestigation struct {
	Type         VulnType                `json:"type"`
	Iteration    int                     `json:"iteration"`
	ContextMap   map[string]ContextEntry `json:"context_map"`
	LastResponse *ModelResponse          `json:"last_response,omitempty"`
	Terminal     bool                    `json:"terminal"`
	Error        string                  `json:"error,omitempty"`
}

// HasContext reports whether a symbol name is already resolved (or marked
// absent) in this investigation.
func (v *VulnInvestigation) HasContext(name string) bool {
	_, ok := v.ContextMap[name]
	return ok
}

// AddContext inserts a resolved symbol. Existing keys are never overwritten.
func (v *VulnInvestigation) AddContext(name string, entry ContextEntry) {
	if v.ContextMap == nil {
		v.ContextMap = make(map[string]ContextEntry)
	}
	if _, ok := v.ContextMap[name]; ok {
		return
	}
	v.ContextMap[name] = entry
}

// NewRequests returns the symbol names in resp's context-request list that
// are not yet keys in the context map, preserving request order and dropping
// duplicates. An empty result is the loop's termination signal.
func (v *VulnInvestigation) NewRequests(resp *ModelResponse) []ContextRequest {
	if resp == nil {
		return nil
	}
	var fresh []ContextRequest
	seen := make(map[string]bool)
	for _, req := range resp.ContextCode {
		if req.Name == "" || seen[req.Name] || v.HasContext(req.Name) {
			continue
		}
		seen[req.Name] = true
		fresh = append(fresh, req)
	}
	return fresh
}

// RecordIteration stores one completed deep-dive response. Iteration counts
// completed model calls for this investigation.
func (v *VulnInvestigation) RecordIteration(resp *ModelResponse) {
	v.Iteration++
	v.LastResponse = resp
}

// Finish marks the investigation terminal with resp as its final result.
func (v *VulnInvestigation) Finish(resp *ModelResponse) {
	if resp != nil {
		v.LastResponse = resp
	}
	v.Terminal = true
}

// FinishFailed marks the investigation terminal with an error. The last
// valid response, if any, remains as the result.
func (v *VulnInvestigation) FinishFailed(err error) {
	if err != nil {
		v.Error = err.Error()
	}
	v.Terminal = true
}
