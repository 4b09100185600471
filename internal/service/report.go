package service

import (
	"time"

	"github.com/vulnhound/vulnhound/internal/core"
)

// BuildReport assembles the final report from a session. Findings are the
// terminal investigation results at or above minConfidence, in session file
// order and stable vulnerability type order within a file. Failed files and
// investigations that ended without a usable response are itemized in the
// failures list, never dropped.
func BuildReport(session *core.AnalysisSession, minConfidence int) *core.Report {
	rep := &core.Report{
		SessionID:   session.ID,
		RepoRoot:    session.RepoRoot,
		Status:      session.Status,
		GeneratedAt: time.Now().UTC(),
		Findings:    []core.Finding{},
		FilesTotal:  len(session.Files),
	}

	for _, rec := range session.Files {
		switch rec.Status {
		case core.FileStatusDone:
			rep.FilesDone++
		case core.FileStatusFailed:
			rep.FilesFailed++
			rep.Failures = append(rep.Failures, core.Failure{
				File:  rec.Path,
				Error: rec.Error,
			})
		}

		for _, vt := range core.AllVulnTypes {
			inv, ok := rec.Investigations[vt]
			if !ok {
				continue
			}
			switch {
			case inv.LastResponse != nil:
				// An investigation that errored out keeps its last valid
				// response as the result.
				if inv.LastResponse.ConfidenceScore >= minConfidence {
					rep.Findings = append(rep.Findings, core.Finding{
						File:       rec.Path,
						Type:       vt,
						Severity:   core.SeverityFor(inv.LastResponse.ConfidenceScore),
						Confidence: inv.LastResponse.ConfidenceScore,
						Analysis:   inv.LastResponse.Analysis,
						PoC:        inv.LastResponse.PoC,
					})
				}
			case inv.Error != "":
				rep.Failures = append(rep.Failures, core.Failure{
					File:  rec.Path,
					Type:  vt,
					Error: inv.Error,
				})
			}
		}
	}

	return rep
}
