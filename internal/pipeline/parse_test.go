package pipeline

import (
	"fmt"
	"testing"
)

func TestParse_JSON(t *testing.T) {
	n := Parse([]byte(`{"a": 1, "b": [true, null]}`))
	if n.Kind != KindMap {
		t.Fatalf("expected map, got kind %d", n.Kind)
	}
	a, ok := n.Get("a")
	if !ok || fmt.Sprintf("%v", a.Scalar) != "1" {
		t.Errorf("a not decoded: %+v", a)
	}
	b, _ := n.Get("b")
	if b.Kind != KindList || len(b.Items) != 2 {
		t.Errorf("b not a 2-list: %+v", b)
	}
	if b.Items[1].Kind != KindNull {
		t.Errorf("null not preserved: %+v", b.Items[1])
	}
}

func TestParse_YAML(t *testing.T) {
	n := Parse([]byte("a: 1\nb:\n  - x\n  - y\n"))
	if n.Kind != KindMap {
		t.Fatalf("expected map, got kind %d", n.Kind)
	}
	b, ok := n.Get("b")
	if !ok || b.Kind != KindList || len(b.Items) != 2 {
		t.Errorf("yaml list not decoded: %+v", b)
	}
}

func TestParse_XML(t *testing.T) {
	n := Parse([]byte(`<config env="prod"><timeout>30</timeout><host>a</host><host>b</host></config>`))
	if n.Kind != KindMap {
		t.Fatalf("expected map, got kind %d", n.Kind)
	}
	if attr, ok := n.Get("@env"); !ok || attr.Scalar != "prod" {
		t.Errorf("attribute not decoded: %+v", attr)
	}
	if timeout, ok := n.Get("timeout"); !ok || timeout.Scalar != "30" {
		t.Errorf("element text not decoded: %+v", timeout)
	}
	// Repeated elements promote to a list.
	host, _ := n.Get("host")
	if host == nil || host.Kind != KindList || len(host.Items) != 2 {
		t.Errorf("repeated element not promoted to list: %+v", host)
	}
}

func TestParse_DetectionOrder(t *testing.T) {
	// Valid JSON must win even though it is also valid YAML.
	n := Parse([]byte(`{"a": 1}`))
	a, ok := n.Get("a")
	if !ok {
		t.Fatal("JSON not parsed")
	}
	// json.Number, not yaml's int.
	if fmt.Sprintf("%T", a.Scalar) != "json.Number" {
		t.Errorf("expected JSON decoder to win, scalar is %T", a.Scalar)
	}
}

func TestParse_GarbageYieldsEmpty(t *testing.T) {
	n := Parse([]byte("{{{{ not anything parseable: ["))
	if !n.IsEmpty() {
		t.Fatalf("expected empty tree, got %+v", n)
	}
}

func TestParse_EmptyContent(t *testing.T) {
	for _, content := range [][]byte{nil, {}, []byte("   \n  ")} {
		if n := Parse(content); !n.IsEmpty() {
			t.Errorf("expected empty tree for %q", content)
		}
	}
}

func TestProject_FindsKeyAtAnyDepth(t *testing.T) {
	n := Parse([]byte(`{"outer": {"wrapper": {"varTrack": {"a": 1}}}}`))
	got := Project(n, "varTrack")
	if got == nil {
		t.Fatal("varTrack not found")
	}
	if _, ok := got.Get("a"); !ok {
		t.Fatalf("projected wrong node: %+v", got)
	}
}

func TestProject_BreadthFirstPicksShallowest(t *testing.T) {
	n := Parse([]byte(`{"deep": {"x": {"target": "deeper"}}, "target": "shallow"}`))
	got := Project(n, "target")
	if got == nil || got.Scalar != "shallow" {
		t.Fatalf("BFS should find the shallow target first, got %+v", got)
	}
}

func TestProject_AbsentReturnsNil(t *testing.T) {
	n := Parse([]byte(`{"a": 1}`))
	if got := Project(n, "missing"); got != nil {
		t.Fatalf("expected nil for absent key, got %+v", got)
	}
}

func TestProject_EmptyRootKeyReturnsTree(t *testing.T) {
	n := Parse([]byte(`{"a": 1}`))
	if got := Project(n, ""); got != n {
		t.Fatal("empty rootKey should return the tree unchanged")
	}
}
