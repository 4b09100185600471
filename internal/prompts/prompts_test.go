package prompts

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/vulnhound/vulnhound/internal/core"
)

func newRenderer(t *testing.T) *Renderer {
	t.Helper()
	r, err := NewRenderer()
	if err != nil {
		t.Fatalf("NewRenderer() error = %v", err)
	}
	return r
}

func TestResponseFormatIsValidJSON(t *testing.T) {
	var schema map[string]interface{}
	if err := json.Unmarshal([]byte(responseFormat), &schema); err != nil {
		t.Fatalf("response format is not valid JSON: %v", err)
	}
	props, ok := schema["properties"].(map[string]interface{})
	if !ok {
		t.Fatal("schema has no properties object")
	}
	for _, field := range []string{"scratchpad", "analysis", "poc", "confidence_score", "vulnerability_types", "context_code"} {
		if _, ok := props[field]; !ok {
			t.Errorf("schema missing field %q", field)
		}
	}
}

func TestRenderer_Initial(t *testing.T) {
	r := newRenderer(t)

	prompt, err := r.Initial(InitialParams{
		FilePath:      "app.py",
		FileSource:    "@app.route('/run')\ndef run(): pass",
		ReadmeSummary: "flask app with a /run endpoint",
	})
	if err != nil {
		t.Fatalf("Initial() error = %v", err)
	}

	if !strings.Contains(prompt.System, "flask app with a /run endpoint") {
		t.Error("system prompt missing readme summary")
	}
	if !strings.Contains(prompt.System, "<readme_summary>") {
		t.Error("system prompt missing readme_summary tags")
	}
	for _, want := range []string{
		"<file_path>app.py</file_path>",
		"@app.route('/run')",
		"<instructions>",
		"<analysis_approach>",
		"<previous_analysis>",
		"<guidelines>",
		"<response_format>",
		`"confidence_score"`,
	} {
		if !strings.Contains(prompt.User, want) {
			t.Errorf("initial prompt missing %q", want)
		}
	}
}

func TestRenderer_Secondary(t *testing.T) {
	r := newRenderer(t)

	prompt, err := r.Secondary(SecondaryParams{
		FilePath:   "app.py",
		FileSource: "def run(cmd): subprocess.call(cmd)",
		VulnType:   core.VulnRCE,
		Definitions: []ContextDefinition{
			{Name: "run_cmd", FilePath: "lib/exec.py", Source: "def run_cmd(c):\n    os.system(c)", Found: true},
			{Name: "ghost", Found: false},
		},
		PreviousAnalysis: "user input reaches os.system unsanitized",
		ReadmeSummary:    "summary",
	})
	if err != nil {
		t.Fatalf("Secondary() error = %v", err)
	}

	for _, want := range []string{
		"Remote Code Execution (RCE)",
		"<name>run_cmd</name>",
		"<file_path>lib/exec.py</file_path>",
		"os.system(c)",
		"<name>ghost</name>",
		"Not found in the project source.",
		"__import__('os').system('id')",
		"<previous_analysis>\nuser input reaches os.system unsanitized\n</previous_analysis>",
	} {
		if !strings.Contains(prompt.User, want) {
			t.Errorf("secondary prompt missing %q", want)
		}
	}
}

func TestRenderer_Secondary_EmptyContext(t *testing.T) {
	r := newRenderer(t)

	prompt, err := r.Secondary(SecondaryParams{
		FilePath:   "app.py",
		FileSource: "code",
		VulnType:   core.VulnSQLI,
	})
	if err != nil {
		t.Fatalf("Secondary() error = %v", err)
	}
	if !strings.Contains(prompt.User, "<context_code>\n</context_code>") {
		t.Error("empty context should render an empty context_code block")
	}
	if !strings.Contains(prompt.User, "UNION SELECT") {
		t.Error("SQLI bypasses missing")
	}
}

func TestRenderer_Secondary_UnknownType(t *testing.T) {
	r := newRenderer(t)
	if _, err := r.Secondary(SecondaryParams{VulnType: core.VulnType("CSRF")}); err == nil {
		t.Fatal("Secondary() error = nil, want unknown type failure")
	}
}

func TestRenderer_EveryTypeHasGuidance(t *testing.T) {
	r := newRenderer(t)
	for _, vt := range core.AllVulnTypes {
		if _, err := r.Secondary(SecondaryParams{VulnType: vt, FilePath: "f.py", FileSource: "x"}); err != nil {
			t.Errorf("Secondary(%s) error = %v", vt, err)
		}
	}
}

func TestRenderer_ReadmeSummary(t *testing.T) {
	r := newRenderer(t)

	prompt, err := r.ReadmeSummary(ReadmeParams{Content: "# my project\nruns a web API"})
	if err != nil {
		t.Fatalf("ReadmeSummary() error = %v", err)
	}
	if prompt.System != "" {
		t.Errorf("summary prompt System = %q, want empty", prompt.System)
	}
	if !strings.Contains(prompt.User, "runs a web API") {
		t.Error("summary prompt missing readme content")
	}
	if !strings.Contains(prompt.User, "<summary></summary>") {
		t.Error("summary prompt missing output tag instruction")
	}
}
