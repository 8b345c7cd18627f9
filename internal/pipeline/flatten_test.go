package pipeline

import (
	"fmt"
	"testing"
)

func mustParse(t *testing.T, content string) *Node {
	t.Helper()
	n := Parse([]byte(content))
	if n.IsEmpty() {
		t.Fatalf("parse produced empty tree for %q", content)
	}
	return n
}

func TestFlattenKV_SlashJoinedPaths(t *testing.T) {
	tree := mustParse(t, `{"a": {"b": 1, "c": {"d": "x"}}, "top": true}`)
	flat := FlattenKV(tree, FlattenOptions{})

	want := map[string]string{
		"a/b":   "1",
		"a/c/d": "x",
		"top":   "true",
	}
	if len(flat) != len(want) {
		t.Fatalf("got %d keys %v, want %d", len(flat), flat, len(want))
	}
	for k, v := range want {
		got, ok := flat[k]
		if !ok {
			t.Errorf("missing key %q", k)
			continue
		}
		if fmt.Sprintf("%v", got) != v {
			t.Errorf("key %q = %v, want %s", k, got, v)
		}
	}
}

func TestFlattenKV_ListIndices(t *testing.T) {
	tree := mustParse(t, `{"items": [10, 20]}`)
	flat := FlattenKV(tree, FlattenOptions{})
	if fmt.Sprintf("%v", flat["items/0"]) != "10" || fmt.Sprintf("%v", flat["items/1"]) != "20" {
		t.Fatalf("list flattening wrong: %v", flat)
	}
}

func TestFlattenKV_EnvResolution(t *testing.T) {
	// A node containing the env key is replaced by that key's value
	// before recursion.
	tree := mustParse(t, `{"timeout": {"prod": 30, "dev": 5}, "name": "svc"}`)
	flat := FlattenKV(tree, FlattenOptions{EnvKey: "prod"})

	if fmt.Sprintf("%v", flat["timeout"]) != "30" {
		t.Errorf("env overlay not resolved: %v", flat)
	}
	if flat["name"] != "svc" {
		t.Errorf("non-overlay key disturbed: %v", flat)
	}
}

func TestFlattenKV_DefaultFallback(t *testing.T) {
	tree := mustParse(t, `{"timeout": {"default_value": 10, "dev": 5}}`)

	// Without fallback the node stays a mapping.
	flat := FlattenKV(tree, FlattenOptions{EnvKey: "prod"})
	if _, ok := flat["timeout/default_value"]; !ok {
		t.Errorf("without fallback, expected nested keys: %v", flat)
	}

	// With fallback, default_value wins.
	flat = FlattenKV(tree, FlattenOptions{EnvKey: "prod", DefaultKey: "default_value", UseDefaultFallback: true})
	if fmt.Sprintf("%v", flat["timeout"]) != "10" {
		t.Errorf("fallback not applied: %v", flat)
	}
}

func TestFlattenKV_PathEscaping(t *testing.T) {
	tree := mustParse(t, `{"a/b": {"c~d": 1}}`)
	flat := FlattenKV(tree, FlattenOptions{})
	if _, ok := flat["a~1b/c~0d"]; !ok {
		t.Fatalf("expected escaped path a~1b/c~0d, got %v", flat)
	}
}

func TestEscape_RoundTrip(t *testing.T) {
	cases := []string{"plain", "a/b", "a~b", "~1", "~0", "a~/b", "~~//"}
	for _, c := range cases {
		if got := unescape(escape(c)); got != c {
			t.Errorf("escape round-trip %q -> %q", c, got)
		}
	}
}

func TestUnflatten_RoundTrip(t *testing.T) {
	tree := mustParse(t, `{"a": {"b": "1", "c": {"d": "x"}}, "list": ["p", "q"], "top": "y"}`)
	flat := FlattenKV(tree, FlattenOptions{})
	back := Unflatten(flat, "/")
	flatAgain := FlattenKV(back, FlattenOptions{})

	if len(flat) != len(flatAgain) {
		t.Fatalf("round trip changed key count: %v vs %v", flat, flatAgain)
	}
	for k, v := range flat {
		if got := flatAgain[k]; got != v {
			t.Errorf("key %q: %v != %v after round trip", k, got, v)
		}
	}
}

func TestFlattenKV_DeeplyNested(t *testing.T) {
	// The walk must be iterative; a recursion-based implementation
	// would blow the stack here.
	depth := 100000
	root := NewMap()
	cur := root
	for i := 0; i < depth; i++ {
		child := NewMap()
		cur.Entries = append(cur.Entries, Entry{Key: "n", Value: child})
		cur = child
	}
	cur.Entries = append(cur.Entries, Entry{Key: "leaf", Value: NewScalar("v")})

	flat := FlattenKV(root, FlattenOptions{})
	if len(flat) != 1 {
		t.Fatalf("expected a single leaf, got %d", len(flat))
	}
}

func TestFlattenTree_KeepsShape(t *testing.T) {
	tree := mustParse(t, `{"svc": {"timeout": {"prod": 30, "dev": 5}}}`)
	out := FlattenTree(tree, FlattenOptions{EnvKey: "prod"})

	svc, ok := out.Get("svc")
	if !ok {
		t.Fatal("svc missing from flattened tree")
	}
	timeout, ok := svc.Get("timeout")
	if !ok {
		t.Fatal("timeout missing")
	}
	if timeout.Kind != KindScalar || fmt.Sprintf("%v", timeout.Scalar) != "30" {
		t.Fatalf("env overlay not resolved in tree mode: %+v", timeout)
	}
}
