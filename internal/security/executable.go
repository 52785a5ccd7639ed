package security

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	shellMetachars  = regexp.MustCompile("[;&|`$<>]")
	controlChars    = regexp.MustCompile(`[\r\n]`)
	quoteChars      = regexp.MustCompile(`["']`)
	bareNamePattern = regexp.MustCompile(`^[A-Za-z0-9._+-]+$`)
)

// Executable and argument validation errors.
var (
	ErrEmptyExecutable       = errors.New("executable is empty")
	ErrExecutableNullByte    = errors.New("executable contains null byte")
	ErrExecutableControlChar = errors.New("executable contains control characters")
	ErrExecutableMetachar    = errors.New("executable contains shell metacharacters")
	ErrExecutableQuote       = errors.New("executable contains quote characters")
	ErrExecutablePath        = errors.New("executable must be a bare program name")
	ErrOptionInjection       = errors.New("executable starts with dash (option injection)")
	ErrInvalidExecutableName = errors.New("executable contains invalid characters")
	ErrArgumentNullByte      = errors.New("argument contains null byte")
)

// SanitizeExecutable validates a program name and returns it trimmed.
// Allow-lists name programs, so paths are rejected along with anything a
// shell would interpret.
func SanitizeExecutable(value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	switch {
	case trimmed == "":
		return "", ErrEmptyExecutable
	case strings.Contains(trimmed, "\x00"):
		return "", ErrExecutableNullByte
	case controlChars.MatchString(trimmed):
		return "", ErrExecutableControlChar
	case shellMetachars.MatchString(trimmed):
		return "", ErrExecutableMetachar
	case quoteChars.MatchString(trimmed):
		return "", ErrExecutableQuote
	case strings.ContainsAny(trimmed, `/\`) || strings.HasPrefix(trimmed, "~"):
		return "", ErrExecutablePath
	case strings.HasPrefix(trimmed, "-"):
		return "", ErrOptionInjection
	case !bareNamePattern.MatchString(trimmed):
		return "", ErrInvalidExecutableName
	}
	if trimmed != value {
		// "git " and "git" must not be treated as different programs.
		return "", ErrInvalidExecutableName
	}
	return trimmed, nil
}

// ArgumentError provides context about which argv element failed validation.
type ArgumentError struct {
	Index int
	Err   error
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("argument %d is unsafe: %v", e.Index, e.Err)
}

func (e *ArgumentError) Unwrap() error {
	return e.Err
}
