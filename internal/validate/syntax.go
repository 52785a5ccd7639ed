package validate

import (
	"encoding/json"
	"fmt"
	"go/parser"
	"go/token"
	"strings"

	"gopkg.in/yaml.v3"
)

type syntaxChecker func(string) error

var syntaxCheckers = map[string]syntaxChecker{
	"go":         checkGo,
	"golang":     checkGo,
	"json":       checkJSON,
	"yaml":       checkYAML,
	"yml":        checkYAML,
	"javascript": checkBalanced,
	"js":         checkBalanced,
	"typescript": checkBalanced,
	"ts":         checkBalanced,
}

// checkGo accepts a full file, top-level declarations, or a statement list.
func checkGo(src string) error {
	fset := token.NewFileSet()
	_, err := parser.ParseFile(fset, "response.go", src, parser.AllErrors)
	if err == nil {
		return nil
	}
	if strings.HasPrefix(strings.TrimSpace(src), "package ") {
		return err
	}
	if _, declErr := parser.ParseFile(fset, "response.go", "package snippet\n"+src, parser.AllErrors); declErr == nil {
		return nil
	}
	if _, stmtErr := parser.ParseFile(fset, "response.go", "package snippet\nfunc _() {\n"+src+"\n}\n", parser.AllErrors); stmtErr == nil {
		return nil
	}
	return err
}

func checkJSON(src string) error {
	var v any
	if err := json.Unmarshal([]byte(src), &v); err != nil {
		return err
	}
	return nil
}

func checkYAML(src string) error {
	var v any
	return yaml.Unmarshal([]byte(src), &v)
}

// checkBalanced compares brace and parenthesis counts.
func checkBalanced(src string) error {
	if o, c := strings.Count(src, "{"), strings.Count(src, "}"); o != c {
		return fmt.Errorf("mismatched braces: %d open, %d close", o, c)
	}
	if o, c := strings.Count(src, "("), strings.Count(src, ")"); o != c {
		return fmt.Errorf("mismatched parentheses: %d open, %d close", o, c)
	}
	return nil
}
