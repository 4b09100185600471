// Package prompts assembles the model prompts for every analysis call from
// embedded templates. The layout mirrors what the analysis loop expects back:
// structured XML-ish sections in the user prompt, a fixed system prompt
// carrying the project summary, and a response_format section holding the
// JSON schema replies are validated against.
package prompts

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"strings"
	"text/template"

	"github.com/vulnhound/vulnhound/internal/core"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

// Renderer renders prompts from the embedded templates. It is immutable
// after construction and safe for concurrent use.
type Renderer struct {
	templates map[string]*template.Template
}

// NewRenderer loads every embedded template.
func NewRenderer() (*Renderer, error) {
	r := &Renderer{templates: make(map[string]*template.Template)}
	if err := r.loadTemplates(); err != nil {
		return nil, fmt.Errorf("loading templates: %w", err)
	}
	return r, nil
}

func (r *Renderer) loadTemplates() error {
	return fs.WalkDir(templatesFS, "templates", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".tmpl") {
			return nil
		}

		content, err := templatesFS.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}

		name := strings.TrimPrefix(path, "templates/")
		name = strings.TrimSuffix(name, ".tmpl")

		tmpl, err := template.New(name).Funcs(templateFuncs()).Parse(string(content))
		if err != nil {
			return fmt.Errorf("parsing template %s: %w", name, err)
		}

		r.templates[name] = tmpl
		return nil
	})
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"join": strings.Join,
	}
}

func (r *Renderer) render(name string, data interface{}) (string, error) {
	tmpl, ok := r.templates[name]
	if !ok {
		return "", fmt.Errorf("template %q not found", name)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("executing template %s: %w", name, err)
	}
	return buf.String(), nil
}

// SystemParams contains parameters for the shared system prompt.
type SystemParams struct {
	ReadmeSummary string
}

// System renders the system prompt carried by every analysis call.
func (r *Renderer) System(params SystemParams) (string, error) {
	return r.render("system", params)
}

// ReadmeParams contains parameters for the project summary prompt.
type ReadmeParams struct {
	Content string
}

// ReadmeSummary renders the one-time project summarization prompt. The call
// runs without a system prompt and its reply is free text, not the analysis
// schema.
func (r *Renderer) ReadmeSummary(params ReadmeParams) (core.Prompt, error) {
	user, err := r.render("readme-summary", params)
	if err != nil {
		return core.Prompt{}, err
	}
	return core.Prompt{User: user}, nil
}

// InitialParams contains parameters for the first-pass prompt on one file.
type InitialParams struct {
	FilePath      string
	FileSource    string
	ReadmeSummary string
}

// Initial renders the first-pass prompt for one file.
func (r *Renderer) Initial(params InitialParams) (core.Prompt, error) {
	system, err := r.System(SystemParams{ReadmeSummary: params.ReadmeSummary})
	if err != nil {
		return core.Prompt{}, err
	}

	user, err := r.render("initial", struct {
		FilePath       string
		FileSource     string
		Approach       string
		Guidelines     string
		ResponseFormat string
	}{
		FilePath:       params.FilePath,
		FileSource:     params.FileSource,
		Approach:       analysisApproach,
		Guidelines:     guidelines,
		ResponseFormat: responseFormat,
	})
	if err != nil {
		return core.Prompt{}, err
	}

	return core.Prompt{System: system, User: user}, nil
}

// ContextDefinition is one resolved symbol rendered into the context_code
// section of a deep-dive prompt. Found is false for symbols the resolver
// could not locate; the prompt says so instead of omitting them.
type ContextDefinition struct {
	Name     string
	FilePath string
	Source   string
	Found    bool
}

// SecondaryParams contains parameters for one deep-dive iteration prompt.
type SecondaryParams struct {
	FilePath         string
	FileSource       string
	VulnType         core.VulnType
	Definitions      []ContextDefinition
	PreviousAnalysis string
	ReadmeSummary    string
}

// Secondary renders the deep-dive prompt for one vulnerability class. The
// context_code section carries everything resolved so far, and
// previous_analysis the analysis text of the last completed iteration.
func (r *Renderer) Secondary(params SecondaryParams) (core.Prompt, error) {
	guidance, ok := guidanceFor(params.VulnType)
	if !ok {
		return core.Prompt{}, fmt.Errorf("no guidance for vulnerability type %q", params.VulnType)
	}

	system, err := r.System(SystemParams{ReadmeSummary: params.ReadmeSummary})
	if err != nil {
		return core.Prompt{}, err
	}

	user, err := r.render("secondary", struct {
		FilePath         string
		FileSource       string
		Definitions      []ContextDefinition
		Bypasses         []string
		Instructions     string
		Approach         string
		PreviousAnalysis string
		Guidelines       string
		ResponseFormat   string
	}{
		FilePath:         params.FilePath,
		FileSource:       params.FileSource,
		Definitions:      params.Definitions,
		Bypasses:         guidance.Bypasses,
		Instructions:     guidance.Instructions,
		Approach:         analysisApproach,
		PreviousAnalysis: params.PreviousAnalysis,
		Guidelines:       guidelines,
		ResponseFormat:   responseFormat,
	})
	if err != nil {
		return core.Prompt{}, err
	}

	return core.Prompt{System: system, User: user}, nil
}
