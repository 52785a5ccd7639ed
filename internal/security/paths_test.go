package security

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// canonicalTempDir returns a temp dir with symlinks resolved so expectations
// match what the guard returns on systems where TMPDIR is itself a link.
func canonicalTempDir(t *testing.T) string {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatalf("EvalSymlinks: %v", err)
	}
	return dir
}

func TestResolvePath_InsideAllowList(t *testing.T) {
	root := canonicalTempDir(t)
	if err := os.MkdirAll(filepath.Join(root, "src", "pkg"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "src", "main.go"), []byte("package main"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name      string
		requested string
		want      string
	}{
		{"existing file", "src/main.go", filepath.Join(root, "src", "main.go")},
		{"existing dir", "src/pkg", filepath.Join(root, "src", "pkg")},
		{"base itself", ".", root},
		{"empty means base", "", root},
		{"dot segments inside", "src/pkg/../main.go", filepath.Join(root, "src", "main.go")},
		{"new file", "src/new.go", filepath.Join(root, "src", "new.go")},
		{"new nested dirs", "a/b/c/d.txt", filepath.Join(root, "a", "b", "c", "d.txt")},
		{"absolute inside", filepath.Join(root, "src", "main.go"), filepath.Join(root, "src", "main.go")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolvePath(root, tt.requested, []string{root})
			if err != nil {
				t.Fatalf("ResolvePath(%q) error = %v", tt.requested, err)
			}
			if got != tt.want {
				t.Errorf("ResolvePath(%q) = %q, want %q", tt.requested, got, tt.want)
			}
		})
	}
}

func TestResolvePath_Traversal(t *testing.T) {
	root := canonicalTempDir(t)
	base := filepath.Join(root, "workspace")
	if err := os.MkdirAll(base, 0o755); err != nil {
		t.Fatal(err)
	}

	tests := []string{
		"../outside.txt",
		"../../etc/passwd",
		"sub/../../outside",
		"a/b/../../../x",
		"/etc/passwd",
		"missing/../../escape",
	}

	for _, requested := range tests {
		t.Run(requested, func(t *testing.T) {
			got, err := ResolvePath(base, requested, []string{base})
			if err == nil {
				t.Fatalf("ResolvePath(%q) = %q, want error", requested, got)
			}
			if got != "" {
				t.Errorf("ResolvePath(%q) returned path %q alongside error", requested, got)
			}
			if !errors.Is(err, ErrPathEscape) && !errors.Is(err, ErrPathNotAllowed) {
				t.Errorf("ResolvePath(%q) error = %v, want PathEscape or PathNotAllowed", requested, err)
			}
		})
	}
}

func TestResolvePath_BaseNotInAllowList(t *testing.T) {
	root := canonicalTempDir(t)
	allowed := filepath.Join(root, "allowed")
	other := filepath.Join(root, "other")
	for _, dir := range []string{allowed, other} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}

	_, err := ResolvePath(other, "file.txt", []string{allowed})
	if !errors.Is(err, ErrPathNotAllowed) {
		t.Fatalf("error = %v, want ErrPathNotAllowed", err)
	}

	var pathErr *PathError
	if !errors.As(err, &pathErr) {
		t.Fatalf("error %T is not *PathError", err)
	}
	if pathErr.Path != "file.txt" {
		t.Errorf("PathError.Path = %q, want file.txt", pathErr.Path)
	}
}

func TestResolvePath_SecondAllowListEntry(t *testing.T) {
	root := canonicalTempDir(t)
	first := filepath.Join(root, "first")
	second := filepath.Join(root, "second")
	for _, dir := range []string{first, second} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}

	got, err := ResolvePath(root, "second/notes.md", []string{first, second})
	if err != nil {
		t.Fatalf("ResolvePath() error = %v", err)
	}
	if want := filepath.Join(second, "notes.md"); got != want {
		t.Errorf("ResolvePath() = %q, want %q", got, want)
	}
}

func TestResolvePath_EmptyAllowListDenies(t *testing.T) {
	root := canonicalTempDir(t)
	if _, err := ResolvePath(root, "file.txt", nil); !errors.Is(err, ErrPathNotAllowed) {
		t.Errorf("error = %v, want ErrPathNotAllowed", err)
	}
}

func TestResolvePath_SymlinkEscape(t *testing.T) {
	root := canonicalTempDir(t)
	base := filepath.Join(root, "workspace")
	outside := filepath.Join(root, "secret")
	for _, dir := range []string{base, outside} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Symlink(outside, filepath.Join(base, "link")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	if err := os.Symlink(filepath.Join(outside, "new.txt"), filepath.Join(base, "dangling")); err != nil {
		t.Fatal(err)
	}

	for _, requested := range []string{"link/key.pem", "link", "dangling"} {
		t.Run(requested, func(t *testing.T) {
			_, err := ResolvePath(base, requested, []string{base})
			if !errors.Is(err, ErrPathEscape) {
				t.Errorf("ResolvePath(%q) error = %v, want ErrPathEscape", requested, err)
			}
		})
	}
}

func TestResolvePath_SymlinkInside(t *testing.T) {
	root := canonicalTempDir(t)
	target := filepath.Join(root, "real")
	if err := os.MkdirAll(target, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(target, filepath.Join(root, "alias")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	got, err := ResolvePath(root, "alias/file.txt", []string{root})
	if err != nil {
		t.Fatalf("ResolvePath() error = %v", err)
	}
	if want := filepath.Join(target, "file.txt"); got != want {
		t.Errorf("ResolvePath() = %q, want %q", got, want)
	}
}

func TestResolvePath_NullByte(t *testing.T) {
	root := canonicalTempDir(t)
	if _, err := ResolvePath(root, "a\x00b", []string{root}); !errors.Is(err, ErrInvalidPath) {
		t.Errorf("error = %v, want ErrInvalidPath", err)
	}
}

func TestNewPathGuard_CanonicalizesAllowList(t *testing.T) {
	root := canonicalTempDir(t)
	sub := filepath.Join(root, "sub")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}

	guard, err := NewPathGuard(root, []string{sub + "/../sub", sub, "", root})
	if err != nil {
		t.Fatalf("NewPathGuard() error = %v", err)
	}
	got := guard.AllowedPaths()
	if len(got) != 2 || got[0] != sub || got[1] != root {
		t.Errorf("AllowedPaths() = %v, want [%s %s]", got, sub, root)
	}
	if guard.Base() != root {
		t.Errorf("Base() = %q, want %q", guard.Base(), root)
	}

	got[0] = "/mutated"
	if guard.AllowedPaths()[0] != sub {
		t.Error("AllowedPaths() must return a copy")
	}
}

func TestCanonicalize_MissingTail(t *testing.T) {
	root := canonicalTempDir(t)
	got, err := Canonicalize(filepath.Join(root, "x", "y", "..", "z"))
	if err != nil {
		t.Fatalf("Canonicalize() error = %v", err)
	}
	if want := filepath.Join(root, "x", "z"); got != want {
		t.Errorf("Canonicalize() = %q, want %q", got, want)
	}
}

func TestWithin(t *testing.T) {
	tests := []struct {
		root, target string
		want         bool
	}{
		{"/a", "/a", true},
		{"/a", "/a/b", true},
		{"/a", "/ab", false},
		{"/a", "/", false},
		{"/a/b", "/a", false},
		{"/a", "/a/..b", true},
	}
	for _, tt := range tests {
		if got := within(tt.root, tt.target); got != tt.want {
			t.Errorf("within(%q, %q) = %v, want %v", tt.root, tt.target, got, tt.want)
		}
	}
}
