package security

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// PathGuard resolves caller-supplied paths against a base directory and an
// allow-list of roots. All roots are canonicalized once, at construction.
type PathGuard struct {
	base    string
	allowed []string
}

// NewPathGuard canonicalizes baseDir and every allow-list entry. An empty
// baseDir means the working directory. An empty allow-list denies every path.
func NewPathGuard(baseDir string, allowList []string) (*PathGuard, error) {
	if strings.TrimSpace(baseDir) == "" {
		baseDir = "."
	}
	base, err := Canonicalize(baseDir)
	if err != nil {
		return nil, &PathError{Op: "canonicalize base", Path: baseDir, Err: err}
	}

	allowed := make([]string, 0, len(allowList))
	seen := make(map[string]struct{}, len(allowList))
	for _, entry := range allowList {
		if strings.TrimSpace(entry) == "" {
			continue
		}
		root, err := Canonicalize(entry)
		if err != nil {
			return nil, &PathError{Op: "canonicalize allowed path", Path: entry, Err: err}
		}
		if _, ok := seen[root]; ok {
			continue
		}
		seen[root] = struct{}{}
		allowed = append(allowed, root)
	}

	return &PathGuard{base: base, allowed: allowed}, nil
}

// Base returns the canonical base directory.
func (g *PathGuard) Base() string {
	return g.base
}

// AllowedPaths returns a copy of the canonical allow-list, in configured order.
func (g *PathGuard) AllowedPaths() []string {
	out := make([]string, len(g.allowed))
	copy(out, g.allowed)
	return out
}

// Resolve joins requested onto the base directory, canonicalizes the result,
// and returns it only if it stays under the base and under at least one
// allowed root. Absolute requests are checked as given.
func (g *PathGuard) Resolve(requested string) (string, error) {
	if strings.ContainsRune(requested, 0) {
		return "", &PathError{Op: "resolve", Path: requested, Err: ErrInvalidPath}
	}
	clean := strings.TrimSpace(requested)
	if clean == "" {
		clean = "."
	}

	target := clean
	if !filepath.IsAbs(target) {
		// Joined without Clean so symlinks are resolved before any "..".
		target = g.base + string(filepath.Separator) + clean
	}

	resolved, err := Canonicalize(target)
	if err != nil {
		return "", &PathError{Op: "resolve", Path: requested, Err: err}
	}
	if !within(g.base, resolved) {
		return "", &PathError{Op: "resolve", Path: requested, Err: ErrPathEscape}
	}
	for _, root := range g.allowed {
		if within(root, resolved) {
			return resolved, nil
		}
	}
	return "", &PathError{Op: "resolve", Path: requested, Err: ErrPathNotAllowed}
}

// ResolvePath is the one-shot form of PathGuard.Resolve.
func ResolvePath(baseDir, requested string, allowList []string) (string, error) {
	guard, err := NewPathGuard(baseDir, allowList)
	if err != nil {
		return "", err
	}
	return guard.Resolve(requested)
}

// Canonicalize returns the absolute, symlink-free form of path. Components
// that do not exist yet are appended to their deepest existing ancestor.
func Canonicalize(path string) (string, error) {
	if path == "" {
		path = "."
	}
	abs := path
	if !filepath.IsAbs(abs) {
		wd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		abs = wd + string(filepath.Separator) + path
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err == nil {
		return resolved, nil
	}
	if !isMissing(err) {
		return "", err
	}
	return resolvePartial(abs, 0)
}

const maxLinkDepth = 40

var errTooManyLinks = errors.New("too many levels of symbolic links")

// resolvePartial walks abs one component at a time, resolving each existing
// prefix and keeping missing components literally. Dangling symlinks are
// followed so a write through them is judged by where it would land.
func resolvePartial(abs string, depth int) (string, error) {
	if depth > maxLinkDepth {
		return "", errTooManyLinks
	}
	vol := filepath.VolumeName(abs)
	cur := vol + string(filepath.Separator)

	for _, part := range strings.Split(abs[len(vol):], string(filepath.Separator)) {
		switch part {
		case "", ".":
			continue
		case "..":
			cur = filepath.Dir(cur)
			continue
		}

		next := filepath.Join(cur, part)
		resolved, err := filepath.EvalSymlinks(next)
		switch {
		case err == nil:
			cur = resolved
		case isMissing(err):
			info, lerr := os.Lstat(next)
			if lerr != nil || info.Mode()&fs.ModeSymlink == 0 {
				cur = next
				continue
			}
			dest, rerr := os.Readlink(next)
			if rerr != nil {
				return "", rerr
			}
			if !filepath.IsAbs(dest) {
				dest = cur + string(filepath.Separator) + dest
			}
			if cur, err = resolvePartial(dest, depth+1); err != nil {
				return "", err
			}
		default:
			return "", err
		}
	}
	return cur, nil
}

func isMissing(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR)
}

// within reports whether target equals root or is a descendant of it.
func within(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}
