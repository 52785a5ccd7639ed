package tools

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Display is a one-line, human-readable rendering of a tool call.
type Display struct {
	Name   string
	Emoji  string
	Label  string
	Detail string
}

// displaySpec says how to render one tool.
type displaySpec struct {
	Emoji      string
	Label      string
	DetailKeys []string
}

// MaxDetailEntries limits the number of detail items shown.
const MaxDetailEntries = 4

// maxDetailLength truncates long values such as prompts.
const maxDetailLength = 60

var displaySpecs = map[string]displaySpec{
	"health_check":                {Emoji: "🩺", Label: "Checking health"},
	"generate_simple_code":        {Emoji: "🛠️", Label: "Generating code", DetailKeys: []string{"language", "prompt"}},
	"complete_code":               {Emoji: "🛠️", Label: "Completing code", DetailKeys: []string{"language", "instruction"}},
	"explain_code":                {Emoji: "📘", Label: "Explaining code", DetailKeys: []string{"detail_level"}},
	"generate_docstrings":         {Emoji: "📝", Label: "Documenting code", DetailKeys: []string{"language", "style"}},
	"generate_tests":              {Emoji: "🧪", Label: "Generating tests", DetailKeys: []string{"test_framework", "coverage_level"}},
	"refactor_simple_code":        {Emoji: "♻️", Label: "Refactoring", DetailKeys: []string{"refactor_type"}},
	"fix_simple_bugs":             {Emoji: "🐛", Label: "Fixing bug", DetailKeys: []string{"error_message"}},
	"generate_git_commit_message": {Emoji: "✍️", Label: "Writing commit message", DetailKeys: []string{"commit_type", "scope"}},
	"git_status":                  {Emoji: "🌿", Label: "git status", DetailKeys: []string{"working_directory"}},
	"git_add":                     {Emoji: "🌿", Label: "git add", DetailKeys: []string{"files"}},
	"git_diff":                    {Emoji: "🌿", Label: "git diff", DetailKeys: []string{"files"}},
	"git_log":                     {Emoji: "🌿", Label: "git log", DetailKeys: []string{"limit"}},
	"git_commit":                  {Emoji: "🌿", Label: "git commit", DetailKeys: []string{"message"}},
	"read_file":                   {Emoji: "📖", Label: "Reading", DetailKeys: []string{"path"}},
	"write_file":                  {Emoji: "✏️", Label: "Writing", DetailKeys: []string{"path"}},
	"create_directory_structure":  {Emoji: "📁", Label: "Scaffolding", DetailKeys: []string{"structure_type", "base_path", "project_name"}},
	"execute_dev_command":         {Emoji: "💻", Label: "Running", DetailKeys: []string{"command_type", "custom_command", "working_directory"}},
}

const fallbackEmoji = "🧩"

// Describe renders a tool call for logs and the CLI. Unparseable params
// simply produce no detail.
func Describe(name string, params json.RawMessage) Display {
	normalized := normalizeToolName(name)
	spec, ok := displaySpecs[normalized]
	if !ok {
		spec = displaySpec{Emoji: fallbackEmoji, Label: defaultTitle(normalized)}
	}
	display := Display{Name: name, Emoji: spec.Emoji, Label: spec.Label}

	var args map[string]any
	if len(params) > 0 && json.Unmarshal(params, &args) == nil {
		display.Detail = detailFromKeys(args, spec.DetailKeys)
	}
	return display
}

// String formats "<emoji> <label>: <detail>".
func (d Display) String() string {
	summary := strings.TrimSpace(d.Emoji + " " + d.Label)
	if d.Detail != "" {
		summary += ": " + d.Detail
	}
	return summary
}

// normalizeToolName strips MCP namespaces ("mcp__server__tool", "server.tool").
func normalizeToolName(name string) string {
	normalized := strings.ToLower(name)
	if i := strings.LastIndex(normalized, "__"); i >= 0 {
		normalized = normalized[i+2:]
	}
	if i := strings.LastIndex(normalized, "."); i >= 0 {
		normalized = normalized[i+1:]
	}
	return normalized
}

func defaultTitle(name string) string {
	words := strings.Fields(strings.NewReplacer("_", " ", "-", " ").Replace(name))
	for i, word := range words {
		words[i] = strings.ToUpper(word[:1]) + word[1:]
	}
	return strings.Join(words, " ")
}

func detailFromKeys(args map[string]any, keys []string) string {
	var details []string
	for _, key := range keys {
		if len(details) >= MaxDetailEntries {
			break
		}
		value := coerceDisplayValue(args[key])
		if value == "" {
			continue
		}
		if strings.HasSuffix(key, "path") || key == "working_directory" || key == "files" {
			value = shortenHomePath(value)
		}
		details = append(details, truncate(value, maxDetailLength))
	}
	return strings.Join(details, " · ")
}

func coerceDisplayValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return strings.Join(strings.Fields(v), " ")
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%g", v)
	case []any:
		items := make([]string, 0, len(v))
		for _, item := range v {
			if s := coerceDisplayValue(item); s != "" {
				items = append(items, s)
			}
		}
		return strings.Join(items, ", ")
	case map[string]any:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}

// shortenHomePath replaces the home directory prefix with ~.
func shortenHomePath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return path
	}
	clean := filepath.Clean(path)
	home = filepath.Clean(home)
	if clean == home || strings.HasPrefix(clean, home+string(filepath.Separator)) {
		return "~" + clean[len(home):]
	}
	return path
}
