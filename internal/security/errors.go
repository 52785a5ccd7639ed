// Package security authorizes filesystem paths and subprocess commands before
// any side effect runs. Both guards are default-deny and read-only after
// construction.
package security

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors usable with errors.Is.
var (
	// ErrPathEscape reports a path that resolves outside its base directory.
	ErrPathEscape = errors.New("path escapes base directory")
	// ErrPathNotAllowed reports a path outside every allow-listed root.
	ErrPathNotAllowed = errors.New("path not in allowed directories")
	// ErrInvalidPath reports a path that cannot be a filesystem name.
	ErrInvalidPath = errors.New("invalid path")
	// ErrCommandNotAllowed reports a command rejected by the allow-list.
	ErrCommandNotAllowed = errors.New("command not allowed")
	// ErrFileTooLarge reports a file above the configured size limit.
	ErrFileTooLarge = errors.New("file too large")
)

// PathError records a rejected path and the operation that requested it.
type PathError struct {
	Op   string
	Path string
	Err  error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Op, e.Path, e.Err)
}

func (e *PathError) Unwrap() error {
	return e.Err
}

// CommandError records a rejected command. It always matches
// ErrCommandNotAllowed; Err carries the specific reason when there is one.
type CommandError struct {
	Command []string
	Err     error
}

func (e *CommandError) Error() string {
	cmd := strings.Join(e.Command, " ")
	if e.Err == nil || e.Err == ErrCommandNotAllowed {
		return fmt.Sprintf("command %q: %v", cmd, ErrCommandNotAllowed)
	}
	return fmt.Sprintf("command %q: %v: %v", cmd, ErrCommandNotAllowed, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrCommandNotAllowed.
func (e *CommandError) Is(target error) bool {
	return target == ErrCommandNotAllowed
}
