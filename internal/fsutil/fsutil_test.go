package fsutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestReadWithinRoot_ReadsFile(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a.py"), []byte("print(1)"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	b, err := ReadWithinRoot(root, "a.py")
	if err != nil {
		t.Fatalf("ReadWithinRoot error: %v", err)
	}
	if string(b) != "print(1)" {
		t.Fatalf("unexpected content: %q", string(b))
	}
}

func TestReadWithinRoot_NestedSlashPath(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "app", "api")
	if err := os.MkdirAll(nested, 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(nested, "views.py"), []byte("deep"), 0o600); err != nil {
		t.Fatal(err)
	}

	b, err := ReadWithinRoot(root, "app/api/views.py")
	if err != nil {
		t.Fatalf("ReadWithinRoot: %v", err)
	}
	if string(b) != "deep" {
		t.Fatalf("unexpected content: %q", string(b))
	}
}

func TestReadWithinRoot_RejectsInvalidPath(t *testing.T) {
	root := t.TempDir()
	for _, rel := range []string{"", "."} {
		if _, err := ReadWithinRoot(root, rel); err == nil {
			t.Errorf("expected error for %q", rel)
		}
	}
}

func TestReadWithinRoot_RejectsEscape(t *testing.T) {
	parent := t.TempDir()
	if err := os.WriteFile(filepath.Join(parent, "secret.txt"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	root := filepath.Join(parent, "repo")
	if err := os.MkdirAll(root, 0o750); err != nil {
		t.Fatal(err)
	}

	if _, err := ReadWithinRoot(root, "../secret.txt"); err == nil {
		t.Error("expected error for parent traversal")
	}
	if _, err := ReadWithinRoot(root, filepath.Join(parent, "secret.txt")); err == nil {
		t.Error("expected error for absolute path")
	}
}

func TestReadWithinRoot_RejectsSymlinkEscape(t *testing.T) {
	parent := t.TempDir()
	outside := filepath.Join(parent, "outside.txt")
	if err := os.WriteFile(outside, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	root := filepath.Join(parent, "repo")
	if err := os.MkdirAll(root, 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(outside, filepath.Join(root, "link.py")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	if _, err := ReadWithinRoot(root, "link.py"); err == nil {
		t.Error("expected error for symlink leaving the root")
	}
}

func TestReadWithinRoot_MissingFile(t *testing.T) {
	if _, err := ReadWithinRoot(t.TempDir(), "absent.py"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestReadWithinRoot_DirectoryAsPath(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "pkg"), 0o750); err != nil {
		t.Fatal(err)
	}

	if _, err := ReadWithinRoot(root, "pkg"); err == nil {
		t.Error("expected error when reading a directory")
	}
}
