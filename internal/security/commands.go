package security

import (
	"fmt"
	"sort"
	"strings"
)

// CommandRule lists what may follow a program on the command line.
type CommandRule struct {
	// Subcommands are the permitted second argv elements.
	Subcommands []string `json:"subcommands" yaml:"subcommands"`
	// BareAllowed permits running the program with no arguments at all.
	BareAllowed bool `json:"bare_allowed,omitempty" yaml:"bare_allowed,omitempty"`
}

func (r CommandRule) permits(sub string) bool {
	for _, s := range r.Subcommands {
		if s == sub {
			return true
		}
	}
	return false
}

// CommandAllowList maps a program name to its rule. Absent programs are denied.
type CommandAllowList map[string]CommandRule

// NewCommandAllowList builds an allow-list from the configuration shape:
// program to subcommands, plus the programs that may run bare.
func NewCommandAllowList(commands map[string][]string, bare []string) CommandAllowList {
	out := make(CommandAllowList, len(commands)+len(bare))
	for program, subs := range commands {
		rule := out[program]
		rule.Subcommands = append([]string(nil), subs...)
		out[program] = rule
	}
	for _, program := range bare {
		rule := out[program]
		rule.BareAllowed = true
		out[program] = rule
	}
	return out
}

// Programs returns the allow-listed program names, sorted.
func (l CommandAllowList) Programs() []string {
	names := make([]string, 0, len(l))
	for name := range l {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Authorize reports whether parts may be spawned under allow. Only the
// program and the first argument are inspected; anything after is free.
func Authorize(parts []string, allow CommandAllowList) bool {
	if len(parts) == 0 {
		return false
	}
	rule, ok := allow[parts[0]]
	if !ok {
		return false
	}
	if len(parts) == 1 {
		return rule.BareAllowed
	}
	return rule.permits(parts[1])
}

// CommandGuard checks argv vectors right before a process is spawned.
type CommandGuard struct {
	allow CommandAllowList
}

// NewCommandGuard copies allow so later edits to the caller's map have no effect.
func NewCommandGuard(allow CommandAllowList) *CommandGuard {
	copied := make(CommandAllowList, len(allow))
	for program, rule := range allow {
		copied[program] = CommandRule{
			Subcommands: append([]string(nil), rule.Subcommands...),
			BareAllowed: rule.BareAllowed,
		}
	}
	return &CommandGuard{allow: copied}
}

// Authorize is the boolean allow-list decision.
func (g *CommandGuard) Authorize(parts []string) bool {
	return Authorize(parts, g.allow)
}

// Check authorizes parts and also rejects executable names and arguments
// that cannot be passed safely to exec.
func (g *CommandGuard) Check(parts []string) error {
	if len(parts) == 0 {
		return &CommandError{Command: parts, Err: fmt.Errorf("empty command")}
	}
	if _, err := SanitizeExecutable(parts[0]); err != nil {
		return &CommandError{Command: parts, Err: err}
	}
	for i, arg := range parts[1:] {
		if strings.ContainsRune(arg, 0) {
			return &CommandError{Command: parts, Err: &ArgumentError{Index: i + 1, Err: ErrArgumentNullByte}}
		}
	}
	if !g.Authorize(parts) {
		return &CommandError{Command: parts, Err: ErrCommandNotAllowed}
	}
	return nil
}
