package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/haasonsaas/delegator/internal/delegate"
	"github.com/haasonsaas/delegator/internal/security"
	"github.com/haasonsaas/delegator/internal/upstream"
	"github.com/haasonsaas/delegator/internal/validate"
)

type readFileArgs struct {
	Path string `json:"path"`
}

func newReadFile(deps *Deps) Tool {
	return &argTool[readFileArgs]{
		name:        "read_file",
		description: "Read a text file inside the project. Files above the configured size limit are refused.",
		schema: `{
  "type": "object",
  "properties": {
    "path": {"type": "string", "minLength": 1, "description": "File path relative to the project root"}
  },
  "required": ["path"]
}`,
		deps: deps,
		run: func(ctx context.Context, deps *Deps, a readFileArgs) (*Result, error) {
			path, err := deps.Paths.Resolve(a.Path)
			if err != nil {
				return nil, err
			}
			if err := security.CheckFileSize(path, deps.Settings.MaxFileSize); err != nil {
				return nil, err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, err
			}
			return textResult(string(data)), nil
		},
	}
}

type writeFileArgs struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type writeOutcome struct {
	OK           bool   `json:"ok"`
	Path         string `json:"path"`
	BytesWritten int    `json:"bytes_written"`
	Backup       string `json:"backup,omitempty"`
}

func newWriteFile(deps *Deps) Tool {
	return &argTool[writeFileArgs]{
		name:        "write_file",
		description: "Write a text file inside the project, creating parent directories. An existing file is backed up first when auto backup is enabled.",
		schema: `{
  "type": "object",
  "properties": {
    "path": {"type": "string", "minLength": 1, "description": "File path relative to the project root"},
    "content": {"type": "string", "description": "Full file contents"}
  },
  "required": ["path", "content"]
}`,
		deps: deps,
		run: func(ctx context.Context, deps *Deps, a writeFileArgs) (*Result, error) {
			path, err := deps.Paths.Resolve(a.Path)
			if err != nil {
				return nil, err
			}
			out, err := deps.writeFile(ctx, path, a.Content)
			if err != nil {
				return nil, err
			}
			return jsonResult(out)
		},
	}
}

// writeFile writes an already resolved path.
func (d *Deps) writeFile(ctx context.Context, path, content string) (writeOutcome, error) {
	if max := d.Settings.MaxFileSize; max > 0 && int64(len(content)) > max {
		return writeOutcome{}, fmt.Errorf("%w: %s would be %d bytes (limit %d)", security.ErrFileTooLarge, path, len(content), max)
	}
	out := writeOutcome{OK: true, Path: path, BytesWritten: len(content)}
	if d.Settings.AutoBackup {
		backup, err := security.Backup(path)
		if err != nil {
			return writeOutcome{}, err
		}
		if backup != "" {
			d.Logger.Info(ctx, "backed up file before overwrite", "path", path, "backup", backup)
		}
		out.Backup = backup
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return writeOutcome{}, err
	}
	mode := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}
	if err := os.WriteFile(path, []byte(content), mode); err != nil {
		return writeOutcome{}, err
	}
	return out, nil
}

type structureArgs struct {
	StructureType string         `json:"structure_type"`
	BasePath      string         `json:"base_path"`
	ProjectName   string         `json:"project_name"`
	Options       map[string]any `json:"options"`
}

// Layout is the directory plan the LLM returns.
type Layout struct {
	Directories []string          `json:"directories"`
	Files       map[string]string `json:"files"`
}

func newCreateDirectoryStructure(deps *Deps) Tool {
	return &argTool[structureArgs]{
		name:        "create_directory_structure",
		description: "Scaffold a standard project layout planned by the local LLM. Every directory and file stays inside the new project directory.",
		schema: `{
  "type": "object",
  "properties": {
    "structure_type": {"type": "string", "enum": ["python_project", "node_project", "rust_project", "go_project", "web_project", "api_project", "custom"]},
    "base_path": {"type": "string", "minLength": 1, "description": "Directory to create the project in, relative to the project root"},
    "project_name": {"type": "string", "minLength": 1, "pattern": "^[A-Za-z0-9._-]+$"},
    "options": {"type": "object", "default": {}, "description": "Extra options such as include_tests or include_docs"}
  },
  "required": ["structure_type", "base_path", "project_name"]
}`,
		deps: deps,
		run:  createStructure,
	}
}

func createStructure(ctx context.Context, deps *Deps, a structureArgs) (*Result, error) {
	if a.ProjectName == "." || a.ProjectName == ".." {
		return nil, &InvalidArgumentsError{Tool: "create_directory_structure", Err: fmt.Errorf("invalid project name %q", a.ProjectName)}
	}
	projectRel := filepath.Join(a.BasePath, a.ProjectName)
	projectPath, err := deps.Paths.Resolve(projectRel)
	if err != nil {
		return nil, err
	}

	options := a.Options
	if options == nil {
		options = map[string]any{}
	}
	optionsJSON, _ := json.MarshalIndent(options, "", "  ")
	res, err := deps.LLM.Complete(ctx, delegate.Request{
		Operation: "create_directory_structure",
		Task:      upstream.TaskCodeGeneration,
		Language:  "json",
		Prompt: fmt.Sprintf("Plan the directory structure for a %s project named '%s'.\n\nOptions: %s\n\n"+
			"Reply with JSON only, in this shape:\n"+
			`{"directories": ["dir1", "dir2/subdir"], "files": {"README.md": "content", "src/main.py": "# content"}}`,
			a.StructureType, a.ProjectName, optionsJSON),
	})
	if err != nil {
		return nil, err
	}

	var layout Layout
	if err := json.Unmarshal([]byte(validate.ExtractCode(res.Content)), &layout); err != nil {
		return nil, fmt.Errorf("%w: layout is not valid JSON: %v", validate.ErrInvalidSyntax, err)
	}

	// Resolve everything before touching the disk.
	dirs := make([]string, 0, len(layout.Directories))
	for _, dir := range layout.Directories {
		resolved, err := deps.projectEntry(projectRel, projectPath, dir)
		if err != nil {
			return nil, err
		}
		dirs = append(dirs, resolved)
	}
	names := make([]string, 0, len(layout.Files))
	for name := range layout.Files {
		names = append(names, name)
	}
	sort.Strings(names)
	files := make(map[string]string, len(names))
	for _, name := range names {
		resolved, err := deps.projectEntry(projectRel, projectPath, name)
		if err != nil {
			return nil, err
		}
		files[name] = resolved
	}

	if err := os.MkdirAll(projectPath, 0o755); err != nil {
		return nil, err
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	for _, name := range names {
		if _, err := deps.writeFile(ctx, files[name], layout.Files[name]); err != nil {
			return nil, err
		}
	}

	deps.Logger.Info(ctx, "created project structure", "path", projectPath, "directories", len(dirs), "files", len(names))
	return jsonResult(map[string]any{
		"ok":                  true,
		"project_path":        projectPath,
		"directories_created": len(dirs),
		"files_created":       len(names),
	})
}

var errOutsideProject = errors.New("entry escapes project directory")

// projectEntry resolves a layout entry through the PathGuard and keeps it
// under the project directory.
func (d *Deps) projectEntry(projectRel, projectPath, entry string) (string, error) {
	if strings.TrimSpace(entry) == "" || filepath.IsAbs(entry) {
		return "", &security.PathError{Op: "layout", Path: entry, Err: security.ErrInvalidPath}
	}
	resolved, err := d.Paths.Resolve(filepath.Join(projectRel, entry))
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(projectPath, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", &security.PathError{Op: "layout", Path: entry, Err: fmt.Errorf("%w: %w", security.ErrPathEscape, errOutsideProject)}
	}
	return resolved, nil
}
