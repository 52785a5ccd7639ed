// Package validate checks LLM responses for size and plausibility before they
// are cached or returned. Validation never executes the content it inspects.
package validate

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Sentinel kinds usable with errors.Is.
var (
	ErrTooLarge          = errors.New("response too large")
	ErrSuspiciouslyShort = errors.New("response suspiciously short")
	ErrEmptyPayload      = errors.New("response is empty")
	ErrInvalidSyntax     = errors.New("response has invalid syntax")
)

// DefaultMinLengthRatio is the fraction of the original's length below which
// a rewrite is treated as truncated.
const DefaultMinLengthRatio = 0.3

// Limits are supplied per call from configuration.
type Limits struct {
	// MaxResponseLength is the largest accepted response, in characters.
	// Zero or negative disables the check.
	MaxResponseLength int
	// MinLengthRatio is the minimum response/original length ratio. Zero
	// selects DefaultMinLengthRatio; a negative value disables the check.
	MinLengthRatio float64
}

// DefaultLimits mirrors the configuration defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxResponseLength: 50000,
		MinLengthRatio:    DefaultMinLengthRatio,
	}
}

func (l Limits) ratio() float64 {
	if l.MinLengthRatio == 0 {
		return DefaultMinLengthRatio
	}
	return l.MinLengthRatio
}

// ValidationError carries the failing kind and the measured values.
type ValidationError struct {
	Kind     error
	Length   int
	Limit    int
	Language string
	Detail   string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	switch e.Kind {
	case ErrTooLarge:
		fmt.Fprintf(&b, ": %d characters (limit %d)", e.Length, e.Limit)
	case ErrSuspiciouslyShort:
		fmt.Fprintf(&b, ": %d characters (minimum %d)", e.Length, e.Limit)
	}
	if e.Language != "" {
		fmt.Fprintf(&b, " [%s]", e.Language)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	return b.String()
}

func (e *ValidationError) Unwrap() error {
	return e.Kind
}

// KindName returns a short label for metrics and logs.
func KindName(err error) string {
	switch {
	case errors.Is(err, ErrTooLarge):
		return "too_large"
	case errors.Is(err, ErrSuspiciouslyShort):
		return "suspiciously_short"
	case errors.Is(err, ErrEmptyPayload):
		return "empty_payload"
	case errors.Is(err, ErrInvalidSyntax):
		return "invalid_syntax"
	default:
		return "unknown"
	}
}

// Validate rejects content that is too large, or much shorter than a
// non-empty original it is meant to replace.
func Validate(content, original string, limits Limits) error {
	length := utf8.RuneCountInString(content)
	if limits.MaxResponseLength > 0 && length > limits.MaxResponseLength {
		return &ValidationError{Kind: ErrTooLarge, Length: length, Limit: limits.MaxResponseLength}
	}

	if original == "" {
		return nil
	}
	ratio := limits.ratio()
	if ratio <= 0 {
		return nil
	}
	originalLength := utf8.RuneCountInString(original)
	minimum := float64(originalLength) * ratio
	if float64(length) < minimum {
		return &ValidationError{Kind: ErrSuspiciouslyShort, Length: length, Limit: int(minimum)}
	}
	return nil
}

// ValidateCode rejects empty code and, for languages with a checker, code
// that does not parse.
func ValidateCode(content, language string) error {
	if strings.TrimSpace(content) == "" {
		return &ValidationError{Kind: ErrEmptyPayload, Language: language}
	}
	check, ok := syntaxCheckers[strings.ToLower(strings.TrimSpace(language))]
	if !ok {
		return nil
	}
	if err := check(ExtractCode(content)); err != nil {
		return &ValidationError{Kind: ErrInvalidSyntax, Language: language, Detail: err.Error()}
	}
	return nil
}

// ExtractCode returns the bodies of any fenced code blocks in content,
// joined by newlines. Content without fences is returned unchanged.
func ExtractCode(content string) string {
	if !strings.Contains(content, "```") {
		return content
	}
	var blocks []string
	var current []string
	inside := false
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			if inside {
				blocks = append(blocks, strings.Join(current, "\n"))
				current = current[:0]
			}
			inside = !inside
			continue
		}
		if inside {
			current = append(current, line)
		}
	}
	if inside && len(current) > 0 {
		blocks = append(blocks, strings.Join(current, "\n"))
	}
	if len(blocks) == 0 {
		return content
	}
	return strings.Join(blocks, "\n")
}

// ValidateResponse applies Validate and, when language is set, ValidateCode.
func ValidateResponse(content, original, language string, limits Limits) error {
	if err := Validate(content, original, limits); err != nil {
		return err
	}
	if language == "" {
		return nil
	}
	return ValidateCode(content, language)
}
