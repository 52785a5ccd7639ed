package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/haasonsaas/delegator/internal/security"
)

// devCommands maps execute_dev_command's command_type to an argv prefix.
var devCommands = map[string][]string{
	"npm_install": {"npm", "install"},
	"pip_install": {"pip", "install"},
	"cargo_build": {"cargo", "build"},
	"go_mod_tidy": {"go", "mod", "tidy"},
	"make":        {"make"},
	"test":        {"pytest"},
}

type devCommandArgs struct {
	CommandType      string   `json:"command_type"`
	Arguments        []string `json:"arguments"`
	WorkingDirectory string   `json:"working_directory"`
	CustomCommand    string   `json:"custom_command"`
}

type devCommandOutcome struct {
	OK               bool   `json:"ok"`
	Command          string `json:"command"`
	WorkingDirectory string `json:"working_directory"`
	ReturnCode       int    `json:"return_code"`
	Stdout           string `json:"stdout"`
	Stderr           string `json:"stderr"`
	DurationMS       int64  `json:"duration_ms"`
}

func newExecuteDevCommand(deps *Deps) Tool {
	return &argTool[devCommandArgs]{
		name:        "execute_dev_command",
		description: "Run a common development command (package install, build, tests) in a project directory. Only allow-listed programs and subcommands run, and never through a shell.",
		schema: `{
  "type": "object",
  "properties": {
    "command_type": {"type": "string", "enum": ["npm_install", "pip_install", "cargo_build", "go_mod_tidy", "make", "test", "custom"]},
    "arguments": {"type": "array", "items": {"type": "string"}, "default": []},
    "working_directory": {"type": "string", "default": "."},
    "custom_command": {"type": "string", "default": "", "description": "Command line for command_type=custom; quotes are honoured, shell operators are rejected"}
  },
  "required": ["command_type"]
}`,
		deps: deps,
		run:  runDevCommand,
	}
}

// DevCommandArgv builds the argv for a command type. Custom commands are
// split with shell quoting rules, but shell operators are refused since no
// shell runs them.
func DevCommandArgv(commandType, custom string, args []string) ([]string, error) {
	var argv []string
	if commandType == "custom" {
		var err error
		argv, err = security.SplitCommand(custom)
		if err != nil {
			return nil, err
		}
		if len(argv) == 0 {
			return nil, fmt.Errorf("custom_command is required for command_type custom")
		}
	} else {
		prefix, ok := devCommands[commandType]
		if !ok {
			return nil, fmt.Errorf("unknown command type %q", commandType)
		}
		argv = append(argv, prefix...)
	}
	return append(argv, args...), nil
}

func runDevCommand(ctx context.Context, deps *Deps, a devCommandArgs) (*Result, error) {
	argv, err := DevCommandArgv(a.CommandType, a.CustomCommand, a.Arguments)
	if errors.Is(err, security.ErrShellSyntax) {
		return nil, err
	}
	if err != nil {
		return nil, &InvalidArgumentsError{Tool: "execute_dev_command", Err: err}
	}
	res, err := deps.run(ctx, a.WorkingDirectory, argv...)
	if err != nil {
		return nil, err
	}
	deps.Logger.Info(ctx, "dev command finished", "command", strings.Join(argv, " "), "exit_code", res.ExitCode)
	return jsonResult(devCommandOutcome{
		OK:               res.ExitCode == 0,
		Command:          strings.Join(argv, " "),
		WorkingDirectory: res.Dir,
		ReturnCode:       res.ExitCode,
		Stdout:           res.Stdout,
		Stderr:           res.Stderr,
		DurationMS:       res.Duration.Milliseconds(),
	})
}
