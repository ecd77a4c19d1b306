// Package fingerprint computes the content address of an executor
// invocation: a canonical, order-independent serialization of (kind, input)
// reduced to a 32-character hex digest.
//
// Canonicalization rules (required for stability): object keys are emitted
// in code-point-sorted order at every depth; arrays are serialized
// element-by-element then the resulting element strings are sorted before
// joining, so array order never affects the fingerprint. This is a
// deliberate, documented choice — see the package doc on Compute.
package fingerprint

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/pkg/errors"
)

// ErrUnserializable marks input that cannot be canonically serialized
// (functions, channels, cyclic structures).
var ErrUnserializable = errors.New("unserializable input")

// Compute returns the 32-character lowercase hex digest of (kind, input).
// input must be JSON-marshalable; cyclic structures, functions, and
// channels are rejected as unserializable, matching the data model's
// "unserializable input" error.
//
// Tests must verify order-insensitivity for object keys at arbitrary depth
// (and, per the documented choice below, for array elements too) — identical
// inputs under any key/array permutation collapse to the same fingerprint.
func Compute(kind string, input any) (string, error) {
	raw, err := json.Marshal(input)
	if err != nil {
		return "", errors.Wrapf(ErrUnserializable, "%v", err)
	}

	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", errors.Wrapf(ErrUnserializable, "%v", err)
	}

	canonical := canonicalize(value)

	h := md5.New()
	writeField(h, []byte(kind))
	writeField(h, []byte(canonical))
	sum := h.Sum(nil)
	return hex.EncodeToString(sum), nil
}

// writeField writes a length-prefixed field into the running hash so that
// the (kind, canonical-input) concatenation is unambiguous regardless of
// either component's contents.
func writeField(h interface{ Write([]byte) (int, error) }, data []byte) {
	length := uint64(len(data))
	lengthBytes := []byte{
		byte(length >> 56), byte(length >> 48), byte(length >> 40), byte(length >> 32),
		byte(length >> 24), byte(length >> 16), byte(length >> 8), byte(length),
	}
	h.Write(lengthBytes)
	h.Write(data)
}

// canonicalize renders a decoded JSON value (map[string]any, []any,
// string, float64, bool, nil) into a canonical string: object keys sorted
// at every depth, array elements serialized then sorted (Open Question #1
// resolved as order-insensitive), primitives via compact JSON encoding.
func canonicalize(v any) string {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		parts := make([]string, len(keys))
		for i, k := range keys {
			keyJSON, _ := json.Marshal(k)
			parts[i] = string(keyJSON) + ":" + canonicalize(val[k])
		}
		return "{" + joinComma(parts) + "}"

	case []any:
		elems := make([]string, len(val))
		for i, e := range val {
			elems[i] = canonicalize(e)
		}
		sort.Strings(elems)
		return "[" + joinComma(elems) + "]"

	default:
		// string, float64, bool, nil: compact JSON encoding is already
		// canonical for these primitive shapes.
		encoded, _ := json.Marshal(val)
		return string(encoded)
	}
}

func joinComma(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ","
		}
		out += p
	}
	return out
}
