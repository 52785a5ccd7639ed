package security

import (
	"errors"
	"fmt"
	"strings"
)

// ErrShellSyntax reports shell operators in a command line that is split
// into argv and never handed to a shell.
var ErrShellSyntax = errors.New("shell syntax not supported")

// ShellSyntaxError locates the first unquoted shell operator.
type ShellSyntaxError struct {
	Token    string
	Position int
	Risk     string
}

func (e *ShellSyntaxError) Error() string {
	return fmt.Sprintf("%v: %q at offset %d (%s)", ErrShellSyntax, e.Token, e.Position, riskDescriptions[e.Risk])
}

func (e *ShellSyntaxError) Unwrap() error {
	return ErrShellSyntax
}

// shellOperators maps operators to their risk category, longest first so
// ">>" is reported instead of ">".
var shellOperators = []struct {
	token string
	risk  string
}{
	{">>", "redirect"},
	{"&&", "command_chain"},
	{"||", "command_chain"},
	{"$(", "subshell"},
	{";", "command_chain"},
	{"|", "pipe"},
	{">", "redirect"},
	{"<", "redirect"},
	{"`", "subshell"},
	{"&", "background"},
}

var riskDescriptions = map[string]string{
	"command_chain": "command chaining allows execution of multiple commands",
	"pipe":          "pipes send output to another command",
	"redirect":      "redirects read or overwrite files",
	"subshell":      "subshells allow arbitrary command execution",
	"background":    "background execution spawns detached processes",
	"quote":         "quotes must be balanced",
}

// SplitCommand splits a command line into argv with POSIX-style quoting:
// single quotes are literal, double quotes allow backslash escapes, and a
// backslash outside quotes escapes the next byte. Unquoted shell operators
// are rejected rather than passed through as literal arguments.
func SplitCommand(cmd string) ([]string, error) {
	var (
		argv          []string
		current       strings.Builder
		inWord        bool
		inSingleQuote bool
		inDoubleQuote bool
		quoteStart    int
	)

	flush := func() {
		if inWord {
			argv = append(argv, current.String())
			current.Reset()
			inWord = false
		}
	}

	for i := 0; i < len(cmd); i++ {
		c := cmd[i]

		switch {
		case inSingleQuote:
			if c == '\'' {
				inSingleQuote = false
			} else {
				current.WriteByte(c)
			}
			continue
		case inDoubleQuote:
			switch {
			case c == '"':
				inDoubleQuote = false
			case c == '\\' && i+1 < len(cmd) && strings.IndexByte("\"\\$`", cmd[i+1]) >= 0:
				i++
				current.WriteByte(cmd[i])
			case c == '$' && i+1 < len(cmd) && cmd[i+1] == '(', c == '`':
				return nil, operatorError(cmd, i)
			default:
				current.WriteByte(c)
			}
			continue
		}

		switch c {
		case ' ', '\t', '\n', '\r':
			flush()
		case '\'':
			inSingleQuote, inWord, quoteStart = true, true, i
		case '"':
			inDoubleQuote, inWord, quoteStart = true, true, i
		case '\\':
			if i+1 < len(cmd) {
				i++
				current.WriteByte(cmd[i])
			}
			inWord = true
		default:
			if err := operatorError(cmd, i); err != nil {
				return nil, err
			}
			current.WriteByte(c)
			inWord = true
		}
	}

	if inSingleQuote || inDoubleQuote {
		return nil, &ShellSyntaxError{Token: cmd[quoteStart : quoteStart+1], Position: quoteStart, Risk: "quote"}
	}
	flush()
	return argv, nil
}

// operatorError reports the operator starting at cmd[i], if any.
func operatorError(cmd string, i int) error {
	for _, op := range shellOperators {
		if strings.HasPrefix(cmd[i:], op.token) {
			return &ShellSyntaxError{Token: op.token, Position: i, Risk: op.risk}
		}
	}
	return nil
}
