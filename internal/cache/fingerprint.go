package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Fingerprint derives the cache key for an operation and its arguments:
// the hex SHA-256 of "operation:" followed by the canonical JSON of args.
// Canonical JSON has object keys sorted at every level, so a struct and an
// equivalent map produce the same key.
func Fingerprint(operation string, args any) (string, error) {
	canonical, err := canonicalJSON(args)
	if err != nil {
		return "", fmt.Errorf("fingerprint %s: %w", operation, err)
	}
	sum := sha256.Sum256(append([]byte(operation+":"), canonical...))
	return hex.EncodeToString(sum[:]), nil
}

func canonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	// Round-trip through a generic value so struct field order does not leak
	// into the key; encoding/json sorts map keys on the way back out.
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}
