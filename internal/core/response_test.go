package core

import (
	"strings"
	"testing"
)

const validResponse = `{
  "scratchpad": "traced user input from request to sink",
  "analysis": "the filename parameter reaches open() unchecked",
  "poc": "GET /download?file=../../etc/passwd",
  "confidence_score": 8,
  "vulnerability_types": ["LFI"],
  "context_code": [{"name": "read_file", "reason": "sink", "code_line": "open(path)"}]
}`

func TestParseModelResponse_Valid(t *testing.T) {
	resp, err := ParseModelResponse(validResponse)
	if err != nil {
		t.Fatalf("ParseModelResponse() error = %v", err)
	}
	if resp.ConfidenceScore != 8 {
		t.Errorf("ConfidenceScore = %d, want 8", resp.ConfidenceScore)
	}
	if len(resp.VulnTypes) != 1 || resp.VulnTypes[0] != VulnLFI {
		t.Errorf("VulnTypes = %v, want [LFI]", resp.VulnTypes)
	}
	if len(resp.ContextCode) != 1 || resp.ContextCode[0].Name != "read_file" {
		t.Errorf("ContextCode = %v", resp.ContextCode)
	}
	if !resp.HasFindings() {
		t.Errorf("expected findings")
	}
}

func TestParseModelResponse_MarkdownFences(t *testing.T) {
	fenced := "```json\n" + validResponse + "\n```"
	resp, err := ParseModelResponse(fenced)
	if err != nil {
		t.Fatalf("ParseModelResponse() error = %v", err)
	}
	if resp.ConfidenceScore != 8 {
		t.Errorf("ConfidenceScore = %d, want 8", resp.ConfidenceScore)
	}
}

func TestParseModelResponse_SurroundingProse(t *testing.T) {
	wrapped := "Here is my analysis:\n" + validResponse + "\nLet me know if you need more."
	if _, err := ParseModelResponse(wrapped); err != nil {
		t.Fatalf("ParseModelResponse() error = %v", err)
	}
}

func TestParseModelResponse_MissingFields(t *testing.T) {
	partial := `{"scratchpad": "x", "analysis": "y", "confidence_score": 3}`
	_, err := ParseModelResponse(partial)
	if err == nil {
		t.Fatalf("expected schema error")
	}
	if !IsSchemaInvalid(err) {
		t.Fatalf("error category = %v, want schema", GetCategory(err))
	}
	for _, field := range []string{"poc", "vulnerability_types", "context_code"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("error should name missing field %s: %v", field, err)
		}
	}
}

func TestParseModelResponse_ConfidenceOutOfRange(t *testing.T) {
	for _, score := range []string{"-1", "11", "42"} {
		raw := strings.Replace(validResponse, `"confidence_score": 8`, `"confidence_score": `+score, 1)
		_, err := ParseModelResponse(raw)
		if err == nil || !IsSchemaInvalid(err) {
			t.Errorf("score %s: expected schema error, got %v", score, err)
		}
	}
}

func TestParseModelResponse_UnknownVulnType(t *testing.T) {
	raw := strings.Replace(validResponse, `["LFI"]`, `["CSRF"]`, 1)
	_, err := ParseModelResponse(raw)
	if err == nil || !IsSchemaInvalid(err) {
		t.Fatalf("expected schema error for unknown type, got %v", err)
	}
}

func TestParseModelResponse_NotJSON(t *testing.T) {
	for _, raw := range []string{"", "no json here", "{broken"} {
		_, err := ParseModelResponse(raw)
		if err == nil || !IsSchemaInvalid(err) {
			t.Errorf("raw %q: expected schema error, got %v", raw, err)
		}
	}
}

func TestParseModelResponse_EmptyCollectionsAllowed(t *testing.T) {
	raw := `{
	  "scratchpad": "", "analysis": "nothing suspicious", "poc": "",
	  "confidence_score": 0, "vulnerability_types": [], "context_code": []
	}`
	resp, err := ParseModelResponse(raw)
	if err != nil {
		t.Fatalf("ParseModelResponse() error = %v", err)
	}
	if resp.HasFindings() {
		t.Errorf("confidence 0 must not count as a finding")
	}
}
