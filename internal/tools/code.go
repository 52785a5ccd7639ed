package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/delegator/internal/delegate"
	"github.com/haasonsaas/delegator/internal/upstream"
)

// promptTool turns typed arguments into one delegated completion.
type promptTool[A any] struct {
	name        string
	description string
	schema      string
	deps        *Deps
	build       func(A) delegate.Request
	post        func(string) string
}

func (t *promptTool[A]) Name() string            { return t.name }
func (t *promptTool[A]) Description() string     { return t.description }
func (t *promptTool[A]) Schema() json.RawMessage { return json.RawMessage(t.schema) }

func (t *promptTool[A]) Execute(ctx context.Context, params json.RawMessage) (*Result, error) {
	var args A
	if err := decodeParams(params, &args); err != nil {
		return nil, &InvalidArgumentsError{Tool: t.name, Err: err}
	}
	req := t.build(args)
	req.Operation = t.name

	res, err := t.deps.LLM.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	content := res.Content
	if t.post != nil {
		content = t.post(content)
	}
	t.deps.Logger.Info(ctx, "generated content", "chars", len(content), "cache_hit", res.CacheHit)
	return textResult(content), nil
}

func or(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

func withContext(extra string) string {
	if strings.TrimSpace(extra) == "" {
		return ""
	}
	return "\n\nAdditional context: " + extra
}

type generateArgs struct {
	Prompt   string `json:"prompt"`
	Language string `json:"language"`
}

func newGenerateSimpleCode(deps *Deps) Tool {
	return &promptTool[generateArgs]{
		name:        "generate_simple_code",
		description: "Delegate simple, well-specified code generation to the local LLM. Use for boilerplate, basic CRUD functions, small utilities, and repetitive patterns. Not for complex algorithms or code that needs deep context.",
		schema: `{
  "type": "object",
  "properties": {
    "prompt": {"type": "string", "minLength": 1, "description": "Clear, specific description of the code to generate"},
    "language": {"type": "string", "default": "python", "description": "Programming language (e.g. python, go, typescript)"}
  },
  "required": ["prompt"]
}`,
		deps: deps,
		build: func(a generateArgs) delegate.Request {
			lang := or(a.Language, "python")
			return delegate.Request{
				Task:     upstream.TaskCodeGeneration,
				Language: lang,
				Prompt: fmt.Sprintf("You are a code generator. Write clean, working %s code for the request below.\n"+
					"Output only the code, without explanations unless asked.\n\nRequest: %s", lang, a.Prompt),
			}
		},
	}
}

type completeArgs struct {
	CodeContext string `json:"code_context"`
	Instruction string `json:"instruction"`
	Language    string `json:"language"`
}

func newCompleteCode(deps *Deps) Tool {
	return &promptTool[completeArgs]{
		name:        "complete_code",
		description: "Complete or extend existing code with the local LLM: fill in function bodies, finish class methods, implement obvious next steps.",
		schema: `{
  "type": "object",
  "properties": {
    "code_context": {"type": "string", "minLength": 1, "description": "Existing code that needs completion"},
    "instruction": {"type": "string", "minLength": 1, "description": "What to complete or add"},
    "language": {"type": "string", "description": "Programming language; detected from the code when omitted"}
  },
  "required": ["code_context", "instruction"]
}`,
		deps: deps,
		build: func(a completeArgs) delegate.Request {
			lang := a.Language
			if lang == "" {
				lang = DetectLanguage(a.CodeContext, "")
			}
			return delegate.Request{
				Task:     upstream.TaskCodeGeneration,
				Language: lang,
				Prompt: fmt.Sprintf("Complete the following code according to the instruction.\n\nCode:\n%s\n\nInstruction: %s\n\n"+
					"Provide only the completion and keep the existing code style.", a.CodeContext, a.Instruction),
			}
		},
	}
}

type explainArgs struct {
	Code        string `json:"code"`
	DetailLevel string `json:"detail_level"`
}

func newExplainCode(deps *Deps) Tool {
	return &promptTool[explainArgs]{
		name:        "explain_code",
		description: "Get a quick explanation of a code snippet from the local LLM.",
		schema: `{
  "type": "object",
  "properties": {
    "code": {"type": "string", "minLength": 1, "description": "Code to explain"},
    "detail_level": {"type": "string", "enum": ["brief", "detailed"], "default": "brief"}
  },
  "required": ["code"]
}`,
		deps: deps,
		build: func(a explainArgs) delegate.Request {
			detail := "briefly"
			if a.DetailLevel == "detailed" {
				detail = "in detail"
			}
			return delegate.Request{
				Task:   upstream.TaskExplanation,
				Prompt: fmt.Sprintf("Explain %s what this code does:\n\n%s", detail, a.Code),
			}
		},
	}
}

type docstringArgs struct {
	Code     string `json:"code"`
	Style    string `json:"style"`
	Language string `json:"language"`
}

func newGenerateDocstrings(deps *Deps) Tool {
	return &promptTool[docstringArgs]{
		name:        "generate_docstrings",
		description: "Add docstrings or doc comments to code with the local LLM. Returns the complete code with documentation added.",
		schema: `{
  "type": "object",
  "properties": {
    "code": {"type": "string", "minLength": 1, "description": "Code that needs documentation"},
    "style": {"type": "string", "enum": ["google", "numpy", "sphinx", "jsdoc", "rustdoc", "godoc"], "default": "google"},
    "language": {"type": "string", "default": "python"}
  },
  "required": ["code"]
}`,
		deps: deps,
		build: func(a docstringArgs) delegate.Request {
			style := or(a.Style, "google")
			lang := or(a.Language, "python")
			return delegate.Request{
				Task:     upstream.TaskDocumentation,
				Original: a.Code,
				Prompt: fmt.Sprintf("Add %s-style docstrings to this %s code and return the complete code with the documentation added.\n\n%s\n\n"+
					"Follow %s conventions for %s. Describe parameters, return values, and any errors raised.", style, lang, a.Code, style, lang),
			}
		},
	}
}

type testArgs struct {
	Code          string `json:"code"`
	TestFramework string `json:"test_framework"`
	CoverageLevel string `json:"coverage_level"`
	Language      string `json:"language"`
}

var coverageDescriptions = map[string]string{
	"basic":         "basic happy path tests",
	"standard":      "happy path tests plus common edge cases",
	"comprehensive": "comprehensive tests covering the happy path, edge cases, and error conditions",
}

func newGenerateTests(deps *Deps) Tool {
	return &promptTool[testArgs]{
		name:        "generate_tests",
		description: "Generate basic unit tests with the local LLM: simple function tests, edge cases, happy paths. Not for integration tests or heavy mocking.",
		schema: `{
  "type": "object",
  "properties": {
    "code": {"type": "string", "minLength": 1, "description": "Code to generate tests for"},
    "test_framework": {"type": "string", "enum": ["pytest", "unittest", "jest", "mocha", "vitest", "cargo-test", "go-test"], "default": "pytest"},
    "coverage_level": {"type": "string", "enum": ["basic", "standard", "comprehensive"], "default": "standard"},
    "language": {"type": "string", "default": "python"}
  },
  "required": ["code"]
}`,
		deps: deps,
		build: func(a testArgs) delegate.Request {
			coverage := coverageDescriptions[or(a.CoverageLevel, "standard")]
			return delegate.Request{
				Task:     upstream.TaskCodeGeneration,
				Language: or(a.Language, "python"),
				Prompt: fmt.Sprintf("Generate %s using %s for the following code.\n\nCode to test:\n%s\n\nGenerate complete, runnable test code.",
					coverage, or(a.TestFramework, "pytest"), a.Code),
			}
		},
	}
}

type refactorArgs struct {
	Code              string `json:"code"`
	RefactorType      string `json:"refactor_type"`
	Language          string `json:"language"`
	AdditionalContext string `json:"additional_context"`
}

func newRefactorSimpleCode(deps *Deps) Tool {
	return &promptTool[refactorArgs]{
		name:        "refactor_simple_code",
		description: "Apply a simple refactoring with the local LLM: rename variables, extract a method, simplify conditionals, remove duplication. Not for architectural or cross-file changes.",
		schema: `{
  "type": "object",
  "properties": {
    "code": {"type": "string", "minLength": 1, "description": "Code to refactor"},
    "refactor_type": {"type": "string", "minLength": 1, "description": "Refactoring to apply, e.g. 'extract method'"},
    "language": {"type": "string", "default": "python"},
    "additional_context": {"type": "string", "default": ""}
  },
  "required": ["code", "refactor_type"]
}`,
		deps: deps,
		build: func(a refactorArgs) delegate.Request {
			return delegate.Request{
				Task:     upstream.TaskCodeGeneration,
				Language: or(a.Language, "python"),
				Original: a.Code,
				Prompt: fmt.Sprintf("Refactor the following code using this refactoring pattern: %s%s\n\nOriginal code:\n%s\n\n"+
					"Provide the refactored code with the same behavior.", a.RefactorType, withContext(a.AdditionalContext), a.Code),
			}
		},
	}
}

type fixArgs struct {
	Code         string `json:"code"`
	ErrorMessage string `json:"error_message"`
	Language     string `json:"language"`
	Context      string `json:"context"`
}

func newFixSimpleBugs(deps *Deps) Tool {
	return &promptTool[fixArgs]{
		name:        "fix_simple_bugs",
		description: "Fix a straightforward bug with the local LLM: syntax errors, simple logic errors, type mismatches, missing standard imports. Not for races or memory leaks.",
		schema: `{
  "type": "object",
  "properties": {
    "code": {"type": "string", "minLength": 1, "description": "Code containing the bug"},
    "error_message": {"type": "string", "minLength": 1, "description": "Error message or bug description"},
    "language": {"type": "string", "default": "python"},
    "context": {"type": "string", "default": ""}
  },
  "required": ["code", "error_message"]
}`,
		deps: deps,
		build: func(a fixArgs) delegate.Request {
			return delegate.Request{
				Task:     upstream.TaskCodeGeneration,
				Language: or(a.Language, "python"),
				Original: a.Code,
				Prompt: fmt.Sprintf("Fix the bug in this code.\n\nError message: %s%s\n\nCode with bug:\n%s\n\n"+
					"Provide the corrected code with a brief explanation of the fix.", a.ErrorMessage, withContext(a.Context), a.Code),
			}
		},
	}
}
