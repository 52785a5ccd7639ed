package tools

import (
	"path/filepath"
	"strings"
)

var extensionLanguages = map[string]string{
	".py":   "python",
	".js":   "javascript",
	".jsx":  "javascript",
	".ts":   "typescript",
	".tsx":  "typescript",
	".rs":   "rust",
	".go":   "go",
	".java": "java",
	".cpp":  "cpp",
	".c":    "c",
	".php":  "php",
	".rb":   "ruby",
	".json": "json",
	".yaml": "yaml",
	".yml":  "yaml",
}

var (
	goHints         = []string{"package ", "func ", ":= ", "fmt."}
	pythonHints     = []string{"def ", "import ", "from ", "class ", "__init__", "elif"}
	javascriptHints = []string{"function", "const ", "let ", "var ", "=>", "console.log"}
	typescriptHints = []string{"interface ", ": string", ": number"}
)

// DetectLanguage guesses a language from filename's extension, then from
// keywords in code. It falls back to python.
func DetectLanguage(code, filename string) string {
	if filename != "" {
		if lang, ok := extensionLanguages[strings.ToLower(filepath.Ext(filename))]; ok {
			return lang
		}
	}

	lower := strings.ToLower(code)
	if strings.Contains(lower, "package ") && containsAny(lower, goHints[1:]) {
		return "go"
	}
	if containsAny(lower, pythonHints) {
		return "python"
	}
	if containsAny(lower, javascriptHints) {
		if containsAny(lower, typescriptHints) {
			return "typescript"
		}
		return "javascript"
	}
	return "python"
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
