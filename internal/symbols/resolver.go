package symbols

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/sahilm/fuzzy"

	"github.com/vulnhound/vulnhound/internal/core"
	"github.com/vulnhound/vulnhound/internal/fsutil"
	"github.com/vulnhound/vulnhound/internal/logging"
)

var (
	defPattern   = regexp.MustCompile(`^(\s*)(?:async\s+)?def\s+([A-Za-z_]\w*)\s*\(`)
	classPattern = regexp.MustCompile(`^(\s*)class\s+([A-Za-z_]\w*)\s*[(:]`)
	identPattern = regexp.MustCompile(`^[A-Za-z_]\w*$`)
)

// skipDirNames are directory names never descended into.
var skipDirNames = map[string]bool{
	"node_modules": true,
	"__pycache__":  true,
	"venv":         true,
}

// Resolver locates Python symbol definitions lexically: function and class
// blocks with their decorators, class members for dotted names, module-level
// assignments, whole modules for bare module names, and a fuzzy-ranked
// fallback for near-miss names. The originating file is searched before the
// rest of the project, so local definitions win over same-named ones
// elsewhere. Stateless: callers own any caching of resolutions.
type Resolver struct {
	extensions []string
	ignore     []string
	logger     *logging.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithExtensions replaces the default extension set.
func WithExtensions(exts []string) Option {
	return func(r *Resolver) {
		if len(exts) > 0 {
			r.extensions = exts
		}
	}
}

// WithIgnore replaces the default path ignore set.
func WithIgnore(ignore []string) Option {
	return func(r *Resolver) {
		if len(ignore) > 0 {
			r.ignore = ignore
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewResolver creates a resolver with the same default selection rules the
// repository scanner applies.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		extensions: []string{".py"},
		ignore:     []string{"/setup.py", "/test", "/example", "/docs", "/site-packages", ".venv", "virtualenv", "/dist"},
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// sourceFile is one loaded candidate, path relative to the repository root.
type sourceFile struct {
	rel   string
	lines []string
}

// Resolve implements core.SymbolResolver. Dotted names resolve through their
// final segment, preferring a member of the named enclosing class. A miss is
// an ErrCatNotFound error; the caller records it and moves on.
func (r *Resolver) Resolve(ctx context.Context, name, fromFile, repoRoot string) (*core.SymbolDefinition, error) {
	parts := splitSymbol(name)
	if len(parts) == 0 {
		return nil, core.ErrNotFound("symbol", name)
	}
	base := parts[len(parts)-1]

	absRoot, err := filepath.Abs(repoRoot)
	if err != nil {
		return nil, fmt.Errorf("resolving repo root: %w", err)
	}
	paths, err := r.candidateFiles(ctx, absRoot, fromFile)
	if err != nil {
		return nil, err
	}

	assignPattern := regexp.MustCompile(`^` + regexp.QuoteMeta(base) + `(?:\s*:\s*[^=\n]+)?\s*=([^=]|$)`)

	sources := make([]sourceFile, 0, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rel := relPath(absRoot, path)
		data, err := fsutil.ReadWithinRoot(absRoot, rel)
		if err != nil {
			r.logger.Debug("unreadable file skipped", "file", path, "error", err)
			continue
		}
		sources = append(sources, sourceFile{
			rel:   rel,
			lines: strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n"),
		})
	}

	for _, src := range sources {
		if def := searchSource(src, parts, base, assignPattern); def != nil {
			return def, nil
		}
	}

	// A bare module name resolves to the whole module file.
	for _, src := range sources {
		stem := strings.TrimSuffix(filepath.Base(src.rel), filepath.Ext(src.rel))
		if stem == base {
			return &core.SymbolDefinition{
				Name:     base,
				FilePath: src.rel,
				Source:   strings.Join(src.lines, "\n"),
			}, nil
		}
	}

	// Last lexical resort: an assignment at any scope, instance attributes
	// included.
	scoped := regexp.MustCompile(`^\s*(?:self\.)?` + regexp.QuoteMeta(base) + `(?:\s*:\s*[^=\n]+)?\s*=([^=]|$)`)
	for _, src := range sources {
		for i, line := range src.lines {
			if scoped.MatchString(line) {
				return &core.SymbolDefinition{Name: base, FilePath: src.rel, Source: captureStatement(src.lines, i)}, nil
			}
		}
	}

	if def := fuzzySearch(sources, base); def != nil {
		r.logger.Debug("fuzzy match", "requested", name, "matched", def.Name, "file", def.FilePath)
		return def, nil
	}

	r.logger.Debug("symbol not found", "symbol", name)
	return nil, core.ErrNotFound("symbol", name)
}

// candidateFiles returns the originating file first, then every other
// project source in deterministic walk order.
func (r *Resolver) candidateFiles(ctx context.Context, absRoot, fromFile string) ([]string, error) {
	var files []string
	if fromFile != "" {
		if abs, err := filepath.Abs(fromFile); err == nil {
			if info, err := os.Stat(abs); err == nil && !info.IsDir() {
				files = append(files, abs)
			}
		}
	}

	err := filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		name := d.Name()
		if d.IsDir() {
			if path == absRoot {
				return nil
			}
			if strings.HasPrefix(name, ".") || skipDirNames[name] {
				return filepath.SkipDir
			}
			return nil
		}
		if !hasExtension(name, r.extensions) {
			return nil
		}
		if len(files) > 0 && path == files[0] {
			return nil
		}
		rel, err := filepath.Rel(absRoot, path)
		if err != nil {
			return err
		}
		if matchesIgnore("/"+strings.ToLower(filepath.ToSlash(rel)), r.ignore) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", absRoot, err)
	}
	return files, nil
}

// searchSource looks for the symbol in one file: class member for dotted
// names, then function or class definitions, then module-level assignments.
func searchSource(src sourceFile, parts []string, base string, assign *regexp.Regexp) *core.SymbolDefinition {
	if len(parts) >= 2 {
		if def := searchClassMember(src, parts[len(parts)-2], base, assign); def != nil {
			return def
		}
	}
	for i, line := range src.lines {
		if m := defPattern.FindStringSubmatch(line); m != nil && m[2] == base {
			return &core.SymbolDefinition{Name: base, FilePath: src.rel, Source: captureBlock(src.lines, i)}
		}
		if m := classPattern.FindStringSubmatch(line); m != nil && m[2] == base {
			return &core.SymbolDefinition{Name: base, FilePath: src.rel, Source: captureBlock(src.lines, i)}
		}
	}
	for i, line := range src.lines {
		if assign.MatchString(line) {
			return &core.SymbolDefinition{Name: base, FilePath: src.rel, Source: captureStatement(src.lines, i)}
		}
	}
	return nil
}

// searchClassMember resolves names like Service.handle by finding the class
// block and then the member definition inside it.
func searchClassMember(src sourceFile, owner, base string, assign *regexp.Regexp) *core.SymbolDefinition {
	for i, line := range src.lines {
		m := classPattern.FindStringSubmatch(line)
		if m == nil || m[2] != owner {
			continue
		}
		classIndent := indentOf(line)
		end := blockEnd(src.lines, i, classIndent)
		for j := i + 1; j < end; j++ {
			inner := src.lines[j]
			if dm := defPattern.FindStringSubmatch(inner); dm != nil && dm[2] == base {
				return &core.SymbolDefinition{Name: base, FilePath: src.rel, Source: captureBlock(src.lines, j)}
			}
			if indentOf(inner) > classIndent && assign.MatchString(strings.TrimLeft(inner, " \t")) {
				return &core.SymbolDefinition{Name: base, FilePath: src.rel, Source: captureStatement(src.lines, j)}
			}
		}
	}
	return nil
}

// fuzzySearch ranks every definition name in the project against the
// requested one and takes the best candidate. Catches naming drift like a
// requested get_user against a defined getUser.
func fuzzySearch(sources []sourceFile, base string) *core.SymbolDefinition {
	if len(base) < 3 {
		return nil
	}

	type site struct {
		src  int
		line int
	}
	var names []string
	var sites []site
	seen := make(map[string]bool)
	for si, src := range sources {
		for li, line := range src.lines {
			var defName string
			if m := defPattern.FindStringSubmatch(line); m != nil {
				defName = m[2]
			} else if m := classPattern.FindStringSubmatch(line); m != nil {
				defName = m[2]
			} else {
				continue
			}
			if seen[defName] {
				continue
			}
			seen[defName] = true
			names = append(names, defName)
			sites = append(sites, site{src: si, line: li})
		}
	}

	matches := fuzzy.Find(base, names)
	if len(matches) == 0 || matches[0].Score <= 0 {
		return nil
	}
	hit := sites[matches[0].Index]
	src := sources[hit.src]
	return &core.SymbolDefinition{
		Name:     names[matches[0].Index],
		FilePath: src.rel,
		Source:   captureBlock(src.lines, hit.line),
	}
}

// captureBlock returns the definition at idx with its decorators and its
// whole indented body.
func captureBlock(lines []string, idx int) string {
	indent := indentOf(lines[idx])
	start := idx
	for start > 0 {
		prev := lines[start-1]
		if strings.HasPrefix(strings.TrimSpace(prev), "@") && indentOf(prev) == indent {
			start--
			continue
		}
		break
	}
	end := blockEnd(lines, idx, indent)
	for end > idx+1 && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	return strings.Join(lines[start:end], "\n")
}

// captureStatement returns the statement at idx including bracket and
// backslash continuations.
func captureStatement(lines []string, idx int) string {
	depth := bracketDelta(lines[idx])
	cont := strings.HasSuffix(strings.TrimRight(lines[idx], " \t"), `\`)
	end := idx + 1
	for end < len(lines) && (depth > 0 || cont) {
		depth += bracketDelta(lines[end])
		cont = strings.HasSuffix(strings.TrimRight(lines[end], " \t"), `\`)
		end++
	}
	return strings.Join(lines[idx:end], "\n")
}

// blockEnd returns the index after the last line belonging to the block
// opened at start with the given indent.
func blockEnd(lines []string, start, indent int) int {
	end := start + 1
	for end < len(lines) {
		line := lines[end]
		if strings.TrimSpace(line) == "" {
			end++
			continue
		}
		if indentOf(line) <= indent {
			break
		}
		end++
	}
	return end
}

// bracketDelta counts net bracket depth on one line, skipping brackets
// inside single-line string literals.
func bracketDelta(line string) int {
	depth := 0
	var quote rune
	escaped := false
	for _, r := range line {
		if escaped {
			escaped = false
			continue
		}
		if r == '\\' {
			escaped = true
			continue
		}
		if quote != 0 {
			if r == quote {
				quote = 0
			}
			continue
		}
		switch r {
		case '\'', '"':
			quote = r
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		}
	}
	return depth
}

func indentOf(line string) int {
	w := 0
	for _, r := range line {
		switch r {
		case ' ':
			w++
		case '\t':
			w += 8
		default:
			return w
		}
	}
	return w
}

// splitSymbol normalizes a requested name into dotted parts, tolerating
// call-style requests like handler() or mod.fn(arg).
func splitSymbol(name string) []string {
	raw := strings.Split(strings.TrimSpace(name), ".")
	parts := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if i := strings.IndexAny(p, "( "); i >= 0 {
			p = p[:i]
		}
		if p == "" {
			continue
		}
		parts = append(parts, p)
	}
	if len(parts) == 0 || !identPattern.MatchString(parts[len(parts)-1]) {
		return nil
	}
	return parts
}

func relPath(absRoot, path string) string {
	if rel, err := filepath.Rel(absRoot, path); err == nil && !strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(rel)
	}
	return filepath.ToSlash(path)
}

func hasExtension(name string, extensions []string) bool {
	for _, ext := range extensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

func matchesIgnore(lowerPath string, ignore []string) bool {
	for _, fragment := range ignore {
		if fragment == "" {
			continue
		}
		if strings.Contains(lowerPath, strings.ToLower(fragment)) {
			return true
		}
	}
	return false
}
