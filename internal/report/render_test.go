package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vulnhound/vulnhound/internal/core"
	"github.com/vulnhound/vulnhound/internal/testutil"
)

func sampleReport() *core.Report {
	return &core.Report{
		SessionID:   "scan-42",
		RepoRoot:    "/repo/demo",
		Status:      core.SessionStatusCompleted,
		GeneratedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		Findings: []core.Finding{
			{
				File:       "app/handlers.py",
				Type:       core.VulnRCE,
				Severity:   core.SeverityHigh,
				Confidence: 9,
				Analysis:   "user input reaches subprocess.run without sanitization",
				PoC:        "curl -d 'cmd=id' http://target/run",
			},
			{
				File:       "app/views.py",
				Type:       core.VulnXSS,
				Severity:   core.SeverityMedium,
				Confidence: 6,
				Analysis:   "autoescape disabled for the profile template",
			},
		},
		Failures: []core.Failure{
			{File: "app/broken.py", Error: "reading file: permission denied"},
			{File: "app/flaky.py", Type: core.VulnSQLI, Error: "retries exhausted"},
		},
		FilesTotal:  4,
		FilesDone:   3,
		FilesFailed: 1,
	}
}

func TestParseFormat(t *testing.T) {
	cases := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatTerminal, false},
		{"terminal", FormatTerminal, false},
		{"MD", FormatMarkdown, false},
		{"json", FormatJSON, false},
		{"yml", FormatYAML, false},
		{"xml", "", true},
	}
	for _, tc := range cases {
		got, err := ParseFormat(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseFormat(%q) accepted", tc.in)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("ParseFormat(%q) = %v, %v; want %v", tc.in, got, err, tc.want)
		}
	}
}

func TestMarkdownLayout(t *testing.T) {
	md := Markdown(sampleReport())

	for _, want := range []string{
		"# Vulnerability Report: scan-42",
		"## Findings (2)",
		"### HIGH: Remote Code Execution in `app/handlers.py`",
		"**Confidence:** 9/10",
		"curl -d 'cmd=id'",
		"## Failures (2)",
		"`app/flaky.py` (SQLI): retries exhausted",
		"`app/broken.py`: reading file: permission denied",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q\n%s", want, md)
		}
	}

	// The PoC rides inside a fence.
	if !strings.Contains(md, "```\ncurl") {
		t.Error("proof of concept not fenced")
	}
}

func TestMarkdownGolden(t *testing.T) {
	g := testutil.NewGolden(t, "testdata")
	g.AssertString("report_markdown", testutil.Normalize(Markdown(sampleReport())))
}

func TestMarkdownEmptyReport(t *testing.T) {
	rep := &core.Report{SessionID: "empty", Status: core.SessionStatusCompleted, Findings: []core.Finding{}}
	md := Markdown(rep)
	if !strings.Contains(md, "No findings above the confidence threshold.") {
		t.Errorf("markdown = %q", md)
	}
	if strings.Contains(md, "## Failures") {
		t.Error("failure section rendered with no failures")
	}
}

func TestJSONRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := JSON(&buf, sampleReport()); err != nil {
		t.Fatalf("JSON: %v", err)
	}
	var decoded core.Report
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if decoded.SessionID != "scan-42" || len(decoded.Findings) != 2 || len(decoded.Failures) != 2 {
		t.Errorf("decoded = %+v", decoded)
	}
	if decoded.Findings[0].Severity != core.SeverityHigh {
		t.Errorf("severity = %s", decoded.Findings[0].Severity)
	}
}

func TestYAMLRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := YAML(&buf, sampleReport()); err != nil {
		t.Fatalf("YAML: %v", err)
	}
	var decoded core.Report
	if err := yaml.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if decoded.RepoRoot != "/repo/demo" || len(decoded.Findings) != 2 {
		t.Errorf("decoded = %+v", decoded)
	}
	if decoded.Findings[0].PoC == "" {
		t.Error("yaml dropped the poc field")
	}
}

func TestTerminalPlain(t *testing.T) {
	var buf bytes.Buffer
	if err := Terminal(&buf, sampleReport(), Options{Width: 80, Color: false}); err != nil {
		t.Fatalf("Terminal: %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"vulnhound report  scan-42",
		"1 HIGH",
		"1 MEDIUM",
		"0 LOW",
		"3/4 files",
		"app/handlers.py",
		"retries exhausted",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("terminal output missing %q\n%s", want, out)
		}
	}
	if strings.Contains(out, "\x1b[") {
		t.Error("plain render emitted ANSI escapes")
	}
}

func TestRenderDispatch(t *testing.T) {
	var buf bytes.Buffer
	if err := Render(&buf, sampleReport(), FormatJSON, Options{}); err != nil {
		t.Fatalf("Render json: %v", err)
	}
	if !json.Valid(buf.Bytes()) {
		t.Error("json dispatch produced invalid JSON")
	}

	buf.Reset()
	if err := Render(&buf, sampleReport(), FormatMarkdown, Options{}); err != nil {
		t.Fatalf("Render markdown: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "# Vulnerability Report") {
		t.Errorf("markdown dispatch = %q", buf.String()[:40])
	}
}
