package clip

import (
	"errors"
	"os"
	"strings"
	"testing"
)

func stubCopiers(t *testing.T, native, osc error) {
	t.Helper()
	origNative, origOSC := nativeCopy, osc52Copy
	t.Cleanup(func() {
		nativeCopy = origNative
		osc52Copy = origOSC
	})
	nativeCopy = func(string) error { return native }
	osc52Copy = func(string) error { return osc }
}

func TestCopy_NativeFirst(t *testing.T) {
	stubCopiers(t, nil, errors.New("osc52 must not be tried"))

	got, err := Copy("report body")
	if err != nil {
		t.Fatalf("Copy: %v", err)
	}
	if got.Method != MethodNative || got.FilePath != "" {
		t.Errorf("result = %+v, want native with no file", got)
	}
}

func TestCopy_OSC52Fallback(t *testing.T) {
	stubCopiers(t, errors.New("no display"), nil)

	got, err := Copy("report body")
	if err != nil {
		t.Fatalf("Copy: %v", err)
	}
	if got.Method != MethodOSC52 {
		t.Errorf("method = %s, want osc52", got.Method)
	}
}

func TestCopy_TempFileFallback(t *testing.T) {
	stubCopiers(t, errors.New("no display"), errors.New("not a terminal"))

	got, err := Copy("# Vulnerability Report\n")
	if err != nil {
		t.Fatalf("Copy: %v", err)
	}
	if got.Method != MethodFile || got.FilePath == "" {
		t.Fatalf("result = %+v, want file fallback with a path", got)
	}
	t.Cleanup(func() { _ = os.Remove(got.FilePath) })

	if !strings.HasSuffix(got.FilePath, ".md") {
		t.Errorf("temp file %s is not markdown", got.FilePath)
	}
	b, err := os.ReadFile(got.FilePath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(b) != "# Vulnerability Report\n" {
		t.Errorf("file contents = %q", b)
	}
}

func TestCopyOSC52_RejectsEmptyAndOversized(t *testing.T) {
	if err := copyOSC52(""); err == nil {
		t.Error("empty text accepted")
	}
	if err := copyOSC52(strings.Repeat("x", osc52LimitBytes+1)); err == nil {
		t.Error("oversized payload accepted")
	}
}
