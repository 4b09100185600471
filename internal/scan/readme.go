package scan

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var summaryPattern = regexp.MustCompile(`(?s)<summary>(.+?)</summary>`)

// FindReadme returns the README content at the repository root. Markdown is
// preferred over reStructuredText; any other README file is a last resort.
// Matching is case-insensitive.
func FindReadme(root string) (string, bool) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", false
	}

	var markdown, rst, other string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		switch lower := strings.ToLower(name); {
		case lower == "readme.md":
			markdown = name
		case lower == "readme.rst":
			rst = name
		case strings.HasPrefix(lower, "readme") && other == "":
			other = name
		}
	}

	pick := markdown
	if pick == "" {
		pick = rst
	}
	if pick == "" {
		pick = other
	}
	if pick == "" {
		return "", false
	}

	data, err := os.ReadFile(filepath.Join(root, pick))
	if err != nil {
		return "", false
	}
	return string(data), true
}

// ExtractSummary pulls the text between summary tags out of a model reply,
// falling back to the trimmed reply when no tags are present.
func ExtractSummary(raw string) string {
	if m := summaryPattern.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(raw)
}
