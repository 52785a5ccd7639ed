package validate

import (
	"errors"
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		original string
		limits   Limits
		wantErr  error
	}{
		{
			name:    "too large",
			content: strings.Repeat("a", 100001),
			limits:  Limits{MaxResponseLength: 100000},
			wantErr: ErrTooLarge,
		},
		{
			name:    "at limit",
			content: strings.Repeat("a", 100000),
			limits:  Limits{MaxResponseLength: 100000},
		},
		{
			name:     "suspiciously short",
			content:  "ok",
			original: strings.Repeat("x", 1000),
			limits:   DefaultLimits(),
			wantErr:  ErrSuspiciouslyShort,
		},
		{
			name:     "exactly at ratio",
			content:  strings.Repeat("y", 300),
			original: strings.Repeat("x", 1000),
			limits:   DefaultLimits(),
		},
		{
			name:     "zero ratio uses default",
			content:  "ok",
			original: strings.Repeat("x", 1000),
			limits:   Limits{MaxResponseLength: 50000},
			wantErr:  ErrSuspiciouslyShort,
		},
		{
			name:     "negative ratio disables",
			content:  "ok",
			original: strings.Repeat("x", 1000),
			limits:   Limits{MinLengthRatio: -1},
		},
		{
			name:     "custom ratio",
			content:  strings.Repeat("y", 400),
			original: strings.Repeat("x", 1000),
			limits:   Limits{MinLengthRatio: 0.5},
			wantErr:  ErrSuspiciouslyShort,
		},
		{
			name:    "no original",
			content: "ok",
			limits:  DefaultLimits(),
		},
		{
			name:    "unlimited length",
			content: strings.Repeat("a", 200000),
			limits:  Limits{},
		},
		{
			name:    "multibyte counted as characters",
			content: strings.Repeat("é", 10),
			limits:  Limits{MaxResponseLength: 10},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.content, tt.original, tt.limits)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidationError_Fields(t *testing.T) {
	err := Validate(strings.Repeat("a", 11), "", Limits{MaxResponseLength: 10})
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("error %T is not *ValidationError", err)
	}
	if vErr.Length != 11 || vErr.Limit != 10 {
		t.Errorf("ValidationError = %+v", vErr)
	}
	if got := err.Error(); got != "response too large: 11 characters (limit 10)" {
		t.Errorf("Error() = %q", got)
	}

	err = Validate("ok", strings.Repeat("x", 1000), DefaultLimits())
	if !errors.As(err, &vErr) || vErr.Limit != 300 || vErr.Length != 2 {
		t.Errorf("short error = %+v", vErr)
	}
}

func TestValidateCode(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		language string
		wantErr  error
	}{
		{"empty", "   \n\t", "go", ErrEmptyPayload},
		{"empty unknown language", "", "", ErrEmptyPayload},
		{"go file", "package main\n\nfunc main() {}\n", "go", nil},
		{"go declarations", "func Add(a, b int) int { return a + b }", "go", nil},
		{"go statements", "x := 1\nfmt.Println(x)", "go", nil},
		{"go broken", "func (", "go", ErrInvalidSyntax},
		{"go broken file", "package main\nfunc {", "Go", ErrInvalidSyntax},
		{"json valid", `{"a": [1, 2]}`, "json", nil},
		{"json invalid", `{"a": }`, "json", ErrInvalidSyntax},
		{"yaml valid", "a: 1\nb:\n  - x\n", "yaml", nil},
		{"yaml invalid", "a: [1, 2\n", "yaml", ErrInvalidSyntax},
		{"js balanced", "function f() { return (1); }", "javascript", nil},
		{"js braces", "function f() { return 1;", "javascript", ErrInvalidSyntax},
		{"ts parens", "const x = (1 + 2;", "typescript", ErrInvalidSyntax},
		{"python unchecked", "def f(:", "python", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCode(tt.content, tt.language)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("ValidateCode() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ValidateCode() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateResponse(t *testing.T) {
	if err := ValidateResponse("", "", "go", DefaultLimits()); !errors.Is(err, ErrEmptyPayload) {
		t.Errorf("error = %v, want ErrEmptyPayload", err)
	}
	if err := ValidateResponse("", "", "", DefaultLimits()); err != nil {
		t.Errorf("non-code empty response error = %v", err)
	}
	big := strings.Repeat("a", 60000)
	if err := ValidateResponse(big, "", "go", DefaultLimits()); !errors.Is(err, ErrTooLarge) {
		t.Errorf("error = %v, want ErrTooLarge", err)
	}
}

func TestKindName(t *testing.T) {
	tests := map[error]string{
		ErrTooLarge:                              "too_large",
		ErrSuspiciouslyShort:                     "suspiciously_short",
		ErrEmptyPayload:                          "empty_payload",
		&ValidationError{Kind: ErrInvalidSyntax}: "invalid_syntax",
		errors.New("other"):                      "unknown",
	}
	for err, want := range tests {
		if got := KindName(err); got != want {
			t.Errorf("KindName(%v) = %q, want %q", err, got, want)
		}
	}
}

func TestExtractCode(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"no fences", "x := 1", "x := 1"},
		{"single block", "Here you go:\n```go\nx := 1\n```\nDone.", "x := 1"},
		{"two blocks", "```\na\n```\ntext\n```js\nb\n```", "a\nb"},
		{"unterminated", "```python\nprint(1)", "print(1)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractCode(tt.content); got != tt.want {
				t.Fatalf("ExtractCode() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidateCodeFencedGo(t *testing.T) {
	content := "The function:\n```go\nfunc add(a, b int) int { return a + b }\n```\nIt adds."
	if err := ValidateCode(content, "go"); err != nil {
		t.Fatalf("ValidateCode() error = %v", err)
	}
}
