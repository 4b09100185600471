package core

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ContextRequest is one symbol the model wants resolved before the next
// iteration. Name is the matching key; reason and code line are advisory.
type ContextRequest struct {
	Name     string `json:"name"`
	Reason   string `json:"reason,omitempty"`
	CodeLine string `json:"code_line,omitempty"`
}

// ModelResponse is the structured reply expected from every analysis call.
// All six fields are required; a reply missing any of them, or with an
// out-of-range confidence score, is schema-invalid and never coerced.
type ModelResponse struct {
	Scratchpad      string           `json:"scratchpad"`
	Analysis        string           `json:"analysis"`
	PoC             string           `json:"poc"`
	ConfidenceScore int              `json:"confidence_score"`
	VulnTypes       []VulnType       `json:"vulnerability_types"`
	ContextCode     []ContextRequest `json:"context_code"`
}

// RequestedNames returns the ordered symbol names in the context-request
// list, duplicates preserved.
func (r *ModelResponse) RequestedNames() []string {
	names := make([]string, 0, len(r.ContextCode))
	for _, req := range r.ContextCode {
		names = append(names, req.Name)
	}
	return names
}

// HasFindings reports whether the response flags at least one vulnerability
// class with non-zero confidence.
func (r *ModelResponse) HasFindings() bool {
	return r.ConfidenceScore > 0 && len(r.VulnTypes) > 0
}

// rawModelResponse detects absent keys before committing to ModelResponse.
type rawModelResponse struct {
	Scratchpad      *string           `json:"scratchpad"`
	Analysis        *string           `json:"analysis"`
	PoC             *string           `json:"poc"`
	ConfidenceScore *int              `json:"confidence_score"`
	VulnTypes       *[]string         `json:"vulnerability_types"`
	ContextCode     *[]ContextRequest `json:"context_code"`
}

// ParseModelResponse validates raw model output against the response shape.
// Markdown fences and surrounding prose are tolerated; structural problems
// are not.
func ParseModelResponse(raw string) (*ModelResponse, error) {
	payload := extractJSON(raw)
	if payload == "" {
		return nil, ErrSchema("response contains no JSON object")
	}

	var parsed rawModelResponse
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		return nil, ErrSchema("response is not valid JSON").WithCause(err)
	}

	var missing []string
	if parsed.Scratchpad == nil {
		missing = append(missing, "scratchpad")
	}
	if parsed.Analysis == nil {
		missing = append(missing, "analysis")
	}
	if parsed.PoC == nil {
		missing = append(missing, "poc")
	}
	if parsed.ConfidenceScore == nil {
		missing = append(missing, "confidence_score")
	}
	if parsed.VulnTypes == nil {
		missing = append(missing, "vulnerability_types")
	}
	if parsed.ContextCode == nil {
		missing = append(missing, "context_code")
	}
	if len(missing) > 0 {
		return nil, ErrSchema("missing required fields: " + strings.Join(missing, ", "))
	}

	if *parsed.ConfidenceScore < 0 || *parsed.ConfidenceScore > 10 {
		return nil, ErrSchema(fmt.Sprintf("confidence_score %d out of range 0-10", *parsed.ConfidenceScore))
	}

	types := make([]VulnType, 0, len(*parsed.VulnTypes))
	for _, tag := range *parsed.VulnTypes {
		vt, err := ParseVulnType(tag)
		if err != nil {
			return nil, ErrSchema(fmt.Sprintf("unknown vulnerability type %q", tag))
		}
		types = append(types, vt)
	}

	resp := &ModelResponse{
		Scratchpad:      *parsed.Scratchpad,
		Analysis:        *parsed.Analysis,
		PoC:             *parsed.PoC,
		ConfidenceScore: *parsed.ConfidenceScore,
		VulnTypes:       types,
		ContextCode:     *parsed.ContextCode,
	}
	return resp, nil
}

// extractJSON strips markdown fences and surrounding prose, returning the
// outermost JSON object in raw, or "".
func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
