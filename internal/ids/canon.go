// Package ids derives the content-addressed identifiers the scheduler
// relies on for replay: attempt ids, action ids, and cost attribution
// ids are SHA-256 digests of a canonicalized JSON view of their inputs,
// never random (spec §4.2, §9).
package ids

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Canonicalize renders v as JSON with object keys sorted at every
// level, recursing through arrays, so that two equivalent values always
// serialize byte-identically regardless of map iteration order or
// struct field order.
func Canonicalize(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}

	return canonicalMarshal(generic)
}

func canonicalMarshal(v any) ([]byte, error) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}

		sort.Strings(keys)

		out := []byte{'{'}

		for i, k := range keys {
			if i > 0 {
				out = append(out, ',')
			}

			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}

			out = append(out, kb...)
			out = append(out, ':')

			vb, err := canonicalMarshal(val[k])
			if err != nil {
				return nil, err
			}

			out = append(out, vb...)
		}

		out = append(out, '}')

		return out, nil

	case []any:
		out := []byte{'['}

		for i, elem := range val {
			if i > 0 {
				out = append(out, ',')
			}

			eb, err := canonicalMarshal(elem)
			if err != nil {
				return nil, err
			}

			out = append(out, eb...)
		}

		out = append(out, ']')

		return out, nil

	default:
		return json.Marshal(val)
	}
}

// Digest returns the first n hex characters of the SHA-256 digest of
// the canonical JSON form of v.
func Digest(v any, n int) (string, error) {
	canon, err := Canonicalize(v)
	if err != nil {
		return "", fmt.Errorf("ids: canonicalize: %w", err)
	}

	sum := sha256.Sum256(canon)
	hexSum := hex.EncodeToString(sum[:])

	if n > len(hexSum) {
		n = len(hexSum)
	}

	return hexSum[:n], nil
}

// Prefixed computes "prefix:" + the first n hex chars of the SHA-256
// digest of v's canonical JSON form.
func Prefixed(prefix string, v any, n int) (string, error) {
	d, err := Digest(v, n)
	if err != nil {
		return "", err
	}

	return prefix + ":" + d, nil
}
