package tools

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/haasonsaas/delegator/internal/delegate"
	"github.com/haasonsaas/delegator/internal/upstream"
)

const workingDirectoryProperty = `"working_directory": {"type": "string", "default": ".", "description": "Repository directory relative to the project root"}`

// GitFiles groups porcelain status entries.
type GitFiles struct {
	Modified  []string `json:"modified"`
	Added     []string `json:"added"`
	Deleted   []string `json:"deleted"`
	Untracked []string `json:"untracked"`
}

// GitStatus is the parsed form of `git status --porcelain -b`.
type GitStatus struct {
	OK       bool     `json:"ok"`
	Branch   string   `json:"branch"`
	Upstream string   `json:"upstream,omitempty"`
	Files    GitFiles `json:"files"`
	Output   string   `json:"output"`
	Command  string   `json:"cmd"`
}

// ParsePorcelain parses porcelain v1 output with a leading branch header.
func ParsePorcelain(output string) GitStatus {
	status := GitStatus{
		OK: true,
		Files: GitFiles{
			Modified:  []string{},
			Added:     []string{},
			Deleted:   []string{},
			Untracked: []string{},
		},
		Output: output,
	}
	for _, line := range strings.Split(output, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if header, ok := strings.CutPrefix(line, "## "); ok {
			if name, ok := strings.CutPrefix(header, "No commits yet on "); ok {
				status.Branch = name
				continue
			}
			branch, _, _ := strings.Cut(header, " ")
			status.Branch, status.Upstream, _ = strings.Cut(branch, "...")
			continue
		}
		if len(line) < 4 {
			continue
		}
		code, name := line[:2], line[3:]
		switch {
		case code == "??":
			status.Files.Untracked = append(status.Files.Untracked, name)
		case strings.ContainsRune(code, 'D'):
			status.Files.Deleted = append(status.Files.Deleted, name)
		case code[0] == 'A':
			status.Files.Added = append(status.Files.Added, name)
		case code != "!!":
			status.Files.Modified = append(status.Files.Modified, name)
		}
	}
	return status
}

type gitStatusArgs struct {
	WorkingDirectory string `json:"working_directory"`
}

func newGitStatus(deps *Deps) Tool {
	return &argTool[gitStatusArgs]{
		name:        "git_status",
		description: "Show the working tree status: branch plus modified, added, deleted, and untracked files.",
		schema: `{
  "type": "object",
  "properties": {` + workingDirectoryProperty + `}
}`,
		deps: deps,
		run: func(ctx context.Context, deps *Deps, a gitStatusArgs) (*Result, error) {
			argv := []string{"git", "status", "--porcelain", "-b"}
			res, err := deps.mustRun(ctx, a.WorkingDirectory, argv...)
			if err != nil {
				return nil, err
			}
			status := ParsePorcelain(strings.TrimRight(res.Stdout, "\n"))
			status.Command = strings.Join(argv, " ")
			return jsonResult(status)
		},
	}
}

type gitAddArgs struct {
	Files            []string `json:"files"`
	WorkingDirectory string   `json:"working_directory"`
}

func newGitAdd(deps *Deps) Tool {
	return &argTool[gitAddArgs]{
		name:        "git_add",
		description: "Stage files for commit. Use [\".\"] to stage everything under the working directory.",
		schema: `{
  "type": "object",
  "properties": {
    "files": {"type": "array", "items": {"type": "string", "minLength": 1}, "minItems": 1, "description": "Files to stage"},
    ` + workingDirectoryProperty + `
  },
  "required": ["files"]
}`,
		deps: deps,
		run: func(ctx context.Context, deps *Deps, a gitAddArgs) (*Result, error) {
			if err := deps.checkPaths(a.WorkingDirectory, a.Files); err != nil {
				return nil, err
			}
			argv := append([]string{"git", "add", "--"}, a.Files...)
			res, err := deps.mustRun(ctx, a.WorkingDirectory, argv...)
			if err != nil {
				return nil, err
			}
			return jsonResult(map[string]any{
				"ok":     true,
				"files":  a.Files,
				"output": strings.TrimSpace(res.Stdout),
				"cmd":    strings.Join(argv, " "),
			})
		},
	}
}

type gitDiffArgs struct {
	Staged           bool     `json:"staged"`
	Files            []string `json:"files"`
	WorkingDirectory string   `json:"working_directory"`
}

func newGitDiff(deps *Deps) Tool {
	return &argTool[gitDiffArgs]{
		name:        "git_diff",
		description: "Show unstaged changes, or staged changes with staged=true, optionally limited to some files.",
		schema: `{
  "type": "object",
  "properties": {
    "staged": {"type": "boolean", "default": false, "description": "Show staged changes (--cached)"},
    "files": {"type": "array", "items": {"type": "string", "minLength": 1}, "default": []},
    ` + workingDirectoryProperty + `
  }
}`,
		deps: deps,
		run: func(ctx context.Context, deps *Deps, a gitDiffArgs) (*Result, error) {
			if err := deps.checkPaths(a.WorkingDirectory, a.Files); err != nil {
				return nil, err
			}
			argv := []string{"git", "diff"}
			if a.Staged {
				argv = append(argv, "--cached")
			}
			if len(a.Files) > 0 {
				argv = append(argv, "--")
				argv = append(argv, a.Files...)
			}
			res, err := deps.mustRun(ctx, a.WorkingDirectory, argv...)
			if err != nil {
				return nil, err
			}
			out := strings.TrimSpace(res.Stdout)
			if out == "" {
				out = "No differences found"
			}
			return textResult(out), nil
		},
	}
}

type gitLogArgs struct {
	Limit            *int   `json:"limit"`
	Oneline          *bool  `json:"oneline"`
	WorkingDirectory string `json:"working_directory"`
}

func newGitLog(deps *Deps) Tool {
	return &argTool[gitLogArgs]{
		name:        "git_log",
		description: "Show recent commit history.",
		schema: `{
  "type": "object",
  "properties": {
    "limit": {"type": "integer", "minimum": 1, "maximum": 1000, "default": 10},
    "oneline": {"type": "boolean", "default": true},
    ` + workingDirectoryProperty + `
  }
}`,
		deps: deps,
		run: func(ctx context.Context, deps *Deps, a gitLogArgs) (*Result, error) {
			limit := 10
			if a.Limit != nil {
				limit = *a.Limit
			}
			argv := []string{"git", "log", "-n", strconv.Itoa(limit)}
			if a.Oneline == nil || *a.Oneline {
				argv = append(argv, "--oneline")
			}
			res, err := deps.mustRun(ctx, a.WorkingDirectory, argv...)
			if err != nil {
				return nil, err
			}
			out := strings.TrimSpace(res.Stdout)
			if out == "" {
				out = "No commits found"
			}
			return textResult(out), nil
		},
	}
}

type gitCommitArgs struct {
	Message          string `json:"message"`
	AutoPush         *bool  `json:"auto_push"`
	WorkingDirectory string `json:"working_directory"`
}

type pushOutcome struct {
	OK      bool   `json:"ok"`
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
	Command string `json:"cmd"`
}

func newGitCommit(deps *Deps) Tool {
	return &argTool[gitCommitArgs]{
		name:        "git_commit",
		description: "Commit staged changes with a message. Pushes HEAD to origin afterwards unless auto_push is false.",
		schema: `{
  "type": "object",
  "properties": {
    "message": {"type": "string", "minLength": 1, "description": "Commit message"},
    "auto_push": {"type": "boolean", "default": true},
    ` + workingDirectoryProperty + `
  },
  "required": ["message"]
}`,
		deps: deps,
		run: func(ctx context.Context, deps *Deps, a gitCommitArgs) (*Result, error) {
			if strings.TrimSpace(a.Message) == "" {
				return nil, &InvalidArgumentsError{Tool: "git_commit", Err: fmt.Errorf("commit message required")}
			}
			res, err := deps.mustRun(ctx, a.WorkingDirectory, "git", "commit", "-m", a.Message)
			if err != nil {
				return nil, err
			}
			out := map[string]any{
				"ok":      true,
				"message": a.Message,
				"output":  strings.TrimSpace(res.Stdout),
			}
			if a.AutoPush == nil || *a.AutoPush {
				out["push"] = deps.push(ctx, a.WorkingDirectory)
			}
			return jsonResult(out)
		},
	}
}

// push reports failures in the outcome; the commit already happened.
func (d *Deps) push(ctx context.Context, dir string) pushOutcome {
	argv := []string{"git", "push", "origin", "HEAD"}
	outcome := pushOutcome{Command: strings.Join(argv, " ")}
	res, err := d.mustRun(ctx, dir, argv...)
	if err != nil {
		d.Logger.Warn(ctx, "push after commit failed", "error", err)
		outcome.Error = err.Error()
		return outcome
	}
	outcome.OK = true
	outcome.Output = strings.TrimSpace(res.Stdout + res.Stderr)
	return outcome
}

type commitMessageArgs struct {
	ChangesSummary string `json:"changes_summary"`
	CommitType     string `json:"commit_type"`
	Scope          string `json:"scope"`
}

func newGenerateGitCommitMessage(deps *Deps) Tool {
	return &promptTool[commitMessageArgs]{
		name:        "generate_git_commit_message",
		description: "Write a conventional commit message for a diff or change summary with the local LLM.",
		schema: `{
  "type": "object",
  "properties": {
    "changes_summary": {"type": "string", "minLength": 1, "description": "git diff output or a description of the changes"},
    "commit_type": {"type": "string", "enum": ["feat", "fix", "docs", "style", "refactor", "test", "chore", "auto"], "default": "auto"},
    "scope": {"type": "string", "default": ""}
  },
  "required": ["changes_summary"]
}`,
		deps: deps,
		build: func(a commitMessageArgs) delegate.Request {
			typeLine := "Choose the commit type (feat, fix, docs, style, refactor, test, chore)"
			if ct := or(a.CommitType, "auto"); ct != "auto" {
				typeLine = fmt.Sprintf("Use commit type '%s'", ct)
			}
			if a.Scope != "" {
				typeLine += fmt.Sprintf(" with scope '%s'", a.Scope)
			}
			return delegate.Request{
				Task: upstream.TaskGitCommit,
				Prompt: fmt.Sprintf("Write a conventional commit message for these changes.\n\n%s.\n\nChanges:\n%s\n\n"+
					"Format: type(scope): description\n\nReply with the commit message only.", typeLine, a.ChangesSummary),
			}
		},
		post: strings.TrimSpace,
	}
}
