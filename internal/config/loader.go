package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"
)

// includeKey names the top-level key listing files merged beneath the
// including file. Paths are relative to the including file. includeAlias is
// accepted for files written without the sigil.
const (
	includeKey   = "$include"
	includeAlias = "include"
)

// maxIncludeDepth bounds nested includes independently of cycle detection.
const maxIncludeDepth = 8

// LoadRaw reads a configuration file into a raw map. Environment references
// in string values are expanded after parsing, includes are merged in listed
// order, and the including file's own keys win over anything it includes.
func LoadRaw(path string) (map[string]any, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path is required")
	}
	l := &rawLoader{}
	return l.load(path)
}

// rawLoader tracks the chain of files being loaded.
type rawLoader struct {
	chain []string
}

func (l *rawLoader) load(path string) (map[string]any, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	for _, p := range l.chain {
		if p == absPath {
			return nil, fmt.Errorf("config include cycle detected: %s -> %s", strings.Join(l.chain, " -> "), absPath)
		}
	}
	if len(l.chain) >= maxIncludeDepth {
		return nil, fmt.Errorf("config includes nested deeper than %d at %s", maxIncludeDepth, absPath)
	}
	l.chain = append(l.chain, absPath)
	defer func() { l.chain = l.chain[:len(l.chain)-1] }()

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, err
	}
	raw, err := decodeRawFile(string(data), absPath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}

	includes, err := takeIncludes(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	expandValues(raw)

	merged := map[string]any{}
	for _, inc := range includes {
		inc = expandEnv(inc)
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(absPath), inc)
		}
		incRaw, err := l.load(inc)
		if err != nil {
			return nil, err
		}
		deepMerge(merged, incRaw)
	}
	deepMerge(merged, raw)
	return merged, nil
}

// expandEnv replaces $VAR and ${VAR} with the environment value. The form
// ${VAR:-fallback} uses fallback when VAR is unset or empty, and $$ is a
// literal dollar sign.
func expandEnv(s string) string {
	return os.Expand(s, func(ref string) string {
		if ref == "$" {
			return "$"
		}
		name, fallback, hasFallback := strings.Cut(ref, ":-")
		if v := os.Getenv(name); v != "" || !hasFallback {
			return v
		}
		return fallback
	})
}

// wholeRef matches a value that is nothing but one environment reference.
var wholeRef = regexp.MustCompile(`^\$(\{[A-Za-z_][A-Za-z0-9_]*(:-[^}]*)?\}|[A-Za-z_][A-Za-z0-9_]*)$`)

// expandValues expands environment references in every string value of v,
// leaving keys alone. A value that is a single reference is re-read as a
// YAML scalar so `max_retries: ${RETRIES}` yields a number.
func expandValues(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		for key, value := range typed {
			typed[key] = expandValues(value)
		}
		return typed
	case []any:
		for i, value := range typed {
			typed[i] = expandValues(value)
		}
		return typed
	case string:
		expanded := expandEnv(typed)
		if expanded == typed || !wholeRef.MatchString(typed) {
			return expanded
		}
		var scalar any
		if err := yaml.Unmarshal([]byte(expanded), &scalar); err == nil {
			switch scalar.(type) {
			case int, float64, bool:
				return scalar
			}
		}
		return expanded
	default:
		return v
	}
}

// decodeRawFile parses JSON or JSON5 by extension and YAML otherwise. YAML
// files must hold a single document.
func decodeRawFile(data, pathHint string) (map[string]any, error) {
	var raw map[string]any
	switch strings.ToLower(filepath.Ext(pathHint)) {
	case ".json", ".json5":
		if err := json5.Unmarshal([]byte(data), &raw); err != nil {
			return nil, err
		}
	default:
		decoder := yaml.NewDecoder(strings.NewReader(data))
		if err := decoder.Decode(&raw); err != nil && err != io.EOF {
			return nil, err
		}
		if err := decoder.Decode(&struct{}{}); err != io.EOF {
			return nil, fmt.Errorf("expected a single YAML document")
		}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// takeIncludes removes the include key from raw and returns its paths.
func takeIncludes(raw map[string]any) ([]string, error) {
	key := includeKey
	val, ok := raw[key]
	if !ok {
		key = includeAlias
		if val, ok = raw[key]; !ok {
			return nil, nil
		}
	}
	if _, both := raw[includeAlias]; both && key == includeKey {
		return nil, fmt.Errorf("use either %s or %s, not both", includeKey, includeAlias)
	}
	delete(raw, key)

	var paths []string
	switch typed := val.(type) {
	case nil:
	case string:
		paths = []string{typed}
	case []any:
		for _, entry := range typed {
			p, ok := entry.(string)
			if !ok {
				return nil, fmt.Errorf("%s entries must be strings", key)
			}
			paths = append(paths, p)
		}
	default:
		return nil, fmt.Errorf("%s must be a string or a list of strings", key)
	}

	out := paths[:0]
	for _, p := range paths {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out, nil
}

// deepMerge copies src into dst, descending into nested maps so sibling keys
// from earlier files survive.
func deepMerge(dst, src map[string]any) {
	for key, value := range src {
		if srcMap, ok := value.(map[string]any); ok {
			if dstMap, ok := dst[key].(map[string]any); ok {
				deepMerge(dstMap, srcMap)
				continue
			}
		}
		dst[key] = value
	}
}

// decodeBase carries the true-by-default switches, so a file that omits them
// keeps them on. Collections stay nil so a configured list replaces the
// default instead of merging into it.
func decodeBase() Config {
	return Config{
		Logging: LoggingConfig{Enabled: true},
		Features: FeaturesConfig{
			Caching:    true,
			Metrics:    true,
			AutoBackup: true,
		},
		Observability: ObservabilityConfig{
			Tracing: TracingConfig{Insecure: true},
		},
	}
}

func decodeRawConfig(raw map[string]any) (*Config, error) {
	payload, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize config: %w", err)
	}
	cfg := decodeBase()
	decoder := yaml.NewDecoder(bytes.NewReader(payload))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
