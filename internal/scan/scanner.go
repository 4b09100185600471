package scan

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/vulnhound/vulnhound/internal/logging"
)

// entryPatterns matches code that accepts remote input or starts a server.
// A file matching any of them counts as part of the network attack surface.
var entryPatterns = []*regexp.Regexp{
	// async handlers
	regexp.MustCompile(`async\sdef\s\w+\(.*?request`),

	// Gradio
	regexp.MustCompile(`gr\.Interface\(`),

	// Flask / Quart
	regexp.MustCompile(`@app\.route\(`),
	regexp.MustCompile(`@blueprint\.route\(`),
	regexp.MustCompile(`class\s+\w+\(MethodView\):`),
	regexp.MustCompile(`@(?:app|blueprint)\.add_url_rule\(`),

	// FastAPI / Starlette
	regexp.MustCompile(`@app\.(?:get|post|put|delete|patch|options|head|trace)\(`),
	regexp.MustCompile(`@router\.(?:get|post|put|delete|patch|options|head|trace)\(`),
	regexp.MustCompile(`Route\(`),

	// Django
	regexp.MustCompile(`re_path\(`),
	regexp.MustCompile(`@channel_layer\.group_add`),

	// Pyramid
	regexp.MustCompile(`@view_config\(`),

	// Tornado
	regexp.MustCompile(`class\s+\w+\((?:RequestHandler|WebSocketHandler)\):`),

	// WebSockets
	regexp.MustCompile(`websockets\.serve\(`),
	regexp.MustCompile(`@websocket\.(?:route|get|post|put|delete|patch|head|options)\(`),

	// aiohttp
	regexp.MustCompile(`app\.router\.add_(?:get|post|put|delete|patch|head|options)\(`),
	regexp.MustCompile(`@routes\.(?:get|post|put|delete|patch|head|options)\(`),

	// Falcon
	regexp.MustCompile(`app\.add_route\(`),

	// CherryPy
	regexp.MustCompile(`@cherrypy\.expose`),

	// Hug / Responder / Dash
	regexp.MustCompile(`@hug\.(?:get|post|put|delete|patch|options|head)\(`),
	regexp.MustCompile(`@api\.route\(`),
	regexp.MustCompile(`@app\.callback\(`),

	// generic routing decorators
	regexp.MustCompile(`@route\(`),
	regexp.MustCompile(`@endpoint\(`),

	// cloud function handlers
	regexp.MustCompile(`def\s+lambda_handler\(event,\s*context\):`),
	regexp.MustCompile(`def\s+handler\(event,\s*context\):`),

	// server startup
	regexp.MustCompile(`app\.run\(`),
	regexp.MustCompile(`uvicorn\.run\(`),
	regexp.MustCompile(`web\.run_app\(`),
	regexp.MustCompile(`waitress\.serve\(`),
	regexp.MustCompile(`serve\(app,`),
	regexp.MustCompile(`make_server\(`),
	regexp.MustCompile(`WSGIServer\(`),
	regexp.MustCompile(`httpd\.serve_forever\(`),
	regexp.MustCompile(`tornado\.ioloop\.IOLoop\.current\(\)\.start\(\)`),
	regexp.MustCompile(`grpc\.server\(`),
	regexp.MustCompile(`cherrypy\.quickstart\(`),
}

// skipDirNames are directory names never descended into.
var skipDirNames = map[string]bool{
	"node_modules": true,
	"__pycache__":  true,
	"venv":         true,
}

// Scanner walks a repository and selects candidate files for analysis.
// Output is deterministic: slash-separated paths relative to the root,
// sorted, so a resumed session sees the identical file set.
type Scanner struct {
	extensions   []string
	exclude      []string
	excludeNames []string
	networkOnly  bool
	analyzePath  string
	logger       *logging.Logger
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithExtensions replaces the default extension set.
func WithExtensions(exts []string) Option {
	return func(s *Scanner) {
		if len(exts) > 0 {
			s.extensions = exts
		}
	}
}

// WithExcludes replaces the default path exclusion set.
func WithExcludes(excludes []string) Option {
	return func(s *Scanner) {
		if len(excludes) > 0 {
			s.exclude = excludes
		}
	}
}

// WithNetworkOnly toggles the network-surface content filter.
func WithNetworkOnly(on bool) Option {
	return func(s *Scanner) {
		s.networkOnly = on
	}
}

// WithAnalyzePath narrows the scan to one file or directory under the root.
// An explicit target bypasses both the exclusion list and the network filter.
func WithAnalyzePath(path string) Option {
	return func(s *Scanner) {
		s.analyzePath = path
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Scanner) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewScanner creates a scanner with the default Python-oriented selection
// rules.
func NewScanner(opts ...Option) *Scanner {
	s := &Scanner{
		extensions:   []string{".py"},
		exclude:      []string{"/setup.py", "/test", "/example", "/docs", "/site-packages", ".venv", "virtualenv", "/dist"},
		excludeNames: []string{"test_", "conftest", "_test."},
		networkOnly:  true,
		logger:       logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scan implements core.RepoScanner. A non-empty include list overrides the
// configured extensions; exclude entries are appended to the configured set.
func (s *Scanner) Scan(root string, include, exclude []string) ([]string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root: %w", err)
	}
	if _, err := os.Stat(absRoot); err != nil {
		return nil, fmt.Errorf("repository root: %w", err)
	}

	extensions := s.extensions
	if len(include) > 0 {
		extensions = include
	}
	excludes := make([]string, 0, len(s.exclude)+len(exclude))
	excludes = append(excludes, s.exclude...)
	excludes = append(excludes, exclude...)

	walkRoot := absRoot
	explicit := false
	if s.analyzePath != "" {
		explicit = true
		walkRoot = s.analyzePath
		if !filepath.IsAbs(walkRoot) {
			walkRoot = filepath.Join(absRoot, walkRoot)
		}
		info, err := os.Stat(walkRoot)
		if err != nil {
			return nil, fmt.Errorf("analyze target: %w", err)
		}
		if !info.IsDir() {
			rel, err := filepath.Rel(absRoot, walkRoot)
			if err != nil {
				return nil, fmt.Errorf("analyze target outside root: %w", err)
			}
			return []string{filepath.ToSlash(rel)}, nil
		}
	}

	var files []string
	err = filepath.WalkDir(walkRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path == walkRoot {
				return nil
			}
			if strings.HasPrefix(name, ".") || skipDirNames[name] {
				return filepath.SkipDir
			}
			return nil
		}

		if !hasExtension(name, extensions) {
			return nil
		}
		rel, err := filepath.Rel(absRoot, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if !explicit {
			if matchesExclusion("/"+strings.ToLower(rel), excludes) {
				return nil
			}
			for _, fragment := range s.excludeNames {
				if strings.Contains(name, fragment) {
					return nil
				}
			}
			if s.networkOnly && !s.isNetworkFile(path, rel) {
				return nil
			}
		}

		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", walkRoot, err)
	}

	sort.Strings(files)
	s.logger.Debug("scan complete", "root", absRoot, "files", len(files), "network_only", s.networkOnly && !explicit)
	return files, nil
}

// isNetworkFile reports whether the file content matches any entry pattern.
func (s *Scanner) isNetworkFile(path, rel string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		s.logger.Warn("unreadable file skipped", "file", rel, "error", err)
		return false
	}
	for _, pattern := range entryPatterns {
		if pattern.Match(data) {
			return true
		}
	}
	return false
}

func hasExtension(name string, extensions []string) bool {
	for _, ext := range extensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

func matchesExclusion(lowerPath string, excludes []string) bool {
	for _, fragment := range excludes {
		if fragment == "" {
			continue
		}
		if strings.Contains(lowerPath, strings.ToLower(fragment)) {
			return true
		}
	}
	return false
}
