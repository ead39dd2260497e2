package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// CanonicalJSON renders v in canonical form so that equivalent values
// always produce identical bytes:
//
//   - Object keys are sorted lexicographically
//   - No insignificant whitespace
//   - Numbers use the shortest form that round-trips (2.0 renders as 2)
//   - Explicit nulls are kept; missing keys stay missing
//   - Array order is preserved
//
// The value is normalized through a JSON round-trip first, so Go-native
// ints, json.Number literals, and structs all collapse to the same
// representation as their map[string]interface{} equivalent.
func CanonicalJSON(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal value: %w", err)
	}
	var norm interface{}
	if err := json.Unmarshal(raw, &norm); err != nil {
		return nil, fmt.Errorf("failed to normalize value: %w", err)
	}
	out, err := json.Marshal(norm)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal canonical form: %w", err)
	}
	return out, nil
}

// HashParams returns the cache key component for a node's parameter map:
// the SHA-256 of the canonical JSON form, hex encoded in lowercase.
//
// A nil map hashes identically to an empty one, so nodes created without
// parameters and nodes whose parameters were cleared share a key.
func HashParams(params map[string]interface{}) (string, error) {
	if params == nil {
		params = map[string]interface{}{}
	}
	return hashCanonical(params)
}

// HashInputs returns the cache key component for a node's resolved input
// map, using the same canonical form as HashParams. Nodes with no incoming
// edges hash the empty object.
func HashInputs(inputs map[string]interface{}) (string, error) {
	if inputs == nil {
		inputs = map[string]interface{}{}
	}
	return hashCanonical(inputs)
}

func hashCanonical(v interface{}) (string, error) {
	b, err := CanonicalJSON(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
