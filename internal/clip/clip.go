// Package clip copies a rendered report to the clipboard, falling back from
// the native clipboard to the OSC52 terminal escape to a temp file.
package clip

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	atotto "github.com/atotto/clipboard"
	osc52 "github.com/aymanbagabas/go-osc52/v2"
	"golang.org/x/term"
)

// Method is the mechanism that ended up holding the copied report.
type Method string

const (
	MethodNative Method = "native" // OS clipboard
	MethodOSC52  Method = "osc52"  // terminal clipboard escape, works over SSH
	MethodFile   Method = "file"   // temp file, when no clipboard is reachable
)

// Result reports how the content was made available.
type Result struct {
	Method   Method
	FilePath string // set only when Method == MethodFile
}

// Seams for tests.
var (
	nativeCopy = func(text string) error { return atotto.WriteAll(text) }
	osc52Copy  = copyOSC52
)

// Copy places text on the clipboard. The native clipboard is tried first,
// then the OSC52 escape for terminals without one (SSH sessions, WSL), and
// finally a temp file whose path the caller should surface to the user.
func Copy(text string) (Result, error) {
	if err := nativeCopy(text); err == nil {
		return Result{Method: MethodNative}, nil
	}

	if err := osc52Copy(text); err == nil {
		return Result{Method: MethodOSC52}, nil
	}

	path, err := writeTempFile(text)
	if err != nil {
		return Result{}, err
	}
	return Result{Method: MethodFile, FilePath: path}, nil
}

// Terminals commonly cap OSC52 payloads; a full report can exceed that.
const osc52LimitBytes = 100_000

func copyOSC52(text string) error {
	if text == "" {
		return errors.New("empty clipboard text")
	}
	if !term.IsTerminal(int(os.Stderr.Fd())) {
		return errors.New("stderr is not a terminal")
	}
	if len(text) > osc52LimitBytes {
		return fmt.Errorf("report too large for OSC52 (%d bytes > %d)", len(text), osc52LimitBytes)
	}

	seq := osc52.New(text).Limit(osc52LimitBytes)
	if os.Getenv("TMUX") != "" {
		seq = seq.Tmux()
	} else if os.Getenv("STY") != "" {
		seq = seq.Screen()
	}

	// Stderr keeps the escape out of piped report output.
	_, err := seq.WriteTo(os.Stderr)
	return err
}

func writeTempFile(text string) (string, error) {
	f, err := os.CreateTemp("", "vulnhound-report-*.md")
	if err != nil {
		return "", err
	}
	path := f.Name()
	defer func() {
		_ = f.Close()
		if err != nil {
			_ = os.Remove(path)
		}
	}()

	if _, err = f.WriteString(text); err != nil {
		return "", err
	}
	if err = f.Close(); err != nil {
		return "", err
	}
	return filepath.Clean(path), nil
}
