package fingerprint

import "testing"

func TestComputeIsDeterministic(t *testing.T) {
	a, err := Compute("k", map[string]any{"a": 1, "b": 2})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	b, err := Compute("k", map[string]any{"a": 1, "b": 2})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if a != b {
		t.Fatalf("identical input produced different fingerprints: %q vs %q", a, b)
	}
	if len(a) != 32 {
		t.Fatalf("expected a 32-char hex digest, got %d chars: %q", len(a), a)
	}
}

func TestComputeObjectKeyOrderInsensitive(t *testing.T) {
	// S2 — Canonicalization: top-level object keys in any order collapse to
	// the same fingerprint (nested keys: see the next test).
	a, err := Compute("k", map[string]any{"a": 1, "b": 2})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	b, err := Compute("k", map[string]any{"b": 2, "a": 1})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if a != b {
		t.Fatalf("key order affected fingerprint: %q vs %q", a, b)
	}
}

func TestComputeNestedObjectKeyOrderInsensitive(t *testing.T) {
	nested1 := map[string]any{
		"outer": map[string]any{"x": 1, "y": map[string]any{"p": "q", "r": "s"}},
		"z":     3,
	}
	nested2 := map[string]any{
		"z": 3,
		"outer": map[string]any{"y": map[string]any{"r": "s", "p": "q"}, "x": 1},
	}
	a, err := Compute("k", nested1)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	b, err := Compute("k", nested2)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if a != b {
		t.Fatalf("nested key order affected fingerprint: %q vs %q", a, b)
	}
}

func TestComputeArrayOrderInsensitive(t *testing.T) {
	// Documented, deliberate choice (DESIGN.md Open Question #1): array
	// element order does not affect the fingerprint.
	a, err := Compute("k", map[string]any{"items": []any{1, 2, 3}})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	b, err := Compute("k", map[string]any{"items": []any{3, 1, 2}})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if a != b {
		t.Fatalf("array order affected fingerprint despite documented order-insensitivity: %q vs %q", a, b)
	}
}

func TestComputeDiffersByKind(t *testing.T) {
	// Invariant 1: fingerprint(kind1,x) != fingerprint(kind2,x) when kind1 != kind2.
	input := map[string]any{"a": 1}
	a, err := Compute("kind1", input)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	b, err := Compute("kind2", input)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if a == b {
		t.Fatalf("distinct kinds produced the same fingerprint: %q", a)
	}
}

func TestComputeDiffersByContent(t *testing.T) {
	a, err := Compute("k", map[string]any{"a": 1})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	b, err := Compute("k", map[string]any{"a": 2})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if a == b {
		t.Fatalf("different content produced the same fingerprint")
	}
}

func TestComputeUnserializable(t *testing.T) {
	// Functions are not JSON-marshalable: must surface as an error, not
	// silently coerce.
	_, err := Compute("k", map[string]any{"f": func() {}})
	if err == nil {
		t.Fatalf("expected an error for unserializable input")
	}
}
