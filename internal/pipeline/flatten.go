package pipeline

import (
	"strconv"
	"strings"
)

// FlattenOptions controls the Flatten transform.
type FlattenOptions struct {
	EnvKey             string
	DefaultKey         string
	UseDefaultFallback bool
	Separator          string
}

func (o FlattenOptions) separator() string {
	if o.Separator == "" {
		return "/"
	}
	return o.Separator
}

// resolveEnvNode implements the env-resolution rule: at every mapping
// node, if a key equal to opts.EnvKey is present, the node is replaced
// by that key's value; else, if UseDefaultFallback, fall back to
// DefaultKey; else the node is unchanged. This applies before recursion
// into children.
func resolveEnvNode(n *Node, opts FlattenOptions) *Node {
	if n == nil || n.Kind != KindMap || opts.EnvKey == "" {
		return n
	}
	if v, ok := n.Get(opts.EnvKey); ok {
		return v
	}
	if opts.UseDefaultFallback {
		if v, ok := n.Get(opts.DefaultKey); ok {
			return v
		}
	}
	return n
}

// escape encodes a raw key for inclusion in a flattened path: '~'
// becomes "~0" and the separator's sole character '/' becomes "~1"
// (JSON-Pointer-style escaping). Order matters: '~' must
// be escaped before '/' or the escape sequences would collide.
func escape(key string) string {
	key = strings.ReplaceAll(key, "~", "~0")
	key = strings.ReplaceAll(key, "/", "~1")
	return key
}

func unescape(key string) string {
	key = strings.ReplaceAll(key, "~1", "/")
	key = strings.ReplaceAll(key, "~0", "~")
	return key
}

func joinPath(prefix, seg, sep string) string {
	if prefix == "" {
		return seg
	}
	return prefix + sep + seg
}

// FlattenKV runs the iterative, stack-based DFS that produces a flat
// mapping from slash-joined path to scalar value. Children are pushed
// in reverse declaration order so that popping the stack (LIFO)
// visits them in their original forward order; the final ordering is
// not itself part of the contract (the result is an unordered Go
// map).
func FlattenKV(tree *Node, opts FlattenOptions) map[string]interface{} {
	sep := opts.separator()
	result := map[string]interface{}{}

	type frame struct {
		node *Node
		path string
	}
	stack := []frame{{resolveEnvNode(tree, opts), ""}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := f.node
		if n == nil {
			continue
		}
		switch n.Kind {
		case KindMap:
			for i := len(n.Entries) - 1; i >= 0; i-- {
				e := n.Entries[i]
				child := resolveEnvNode(e.Value, opts)
				stack = append(stack, frame{child, joinPath(f.path, escape(e.Key), sep)})
			}
		case KindList:
			for i := len(n.Items) - 1; i >= 0; i-- {
				child := resolveEnvNode(n.Items[i], opts)
				stack = append(stack, frame{child, joinPath(f.path, strconv.Itoa(i), sep)})
			}
		case KindScalar:
			if f.path != "" {
				result[f.path] = n.Scalar
			}
		case KindNull:
			if f.path != "" {
				result[f.path] = nil
			}
		}
	}
	return result
}

// FlattenTree applies the same env-resolution rule as FlattenKV but
// preserves tree shape instead of producing a flat mapping. It is
// built iteratively with an
// explicit work stack rather than recursive calls so a deeply nested
// configuration cannot exhaust the Go call stack.
func FlattenTree(tree *Node, opts FlattenOptions) *Node {
	type pending struct {
		orig   *Node
		built  *Node
		idx    int
		attach func(*Node)
	}
	var out *Node
	var stack []*pending

	push := func(orig *Node, attach func(*Node)) {
		resolved := resolveEnvNode(orig, opts)
		if resolved == nil {
			attach(nil)
			return
		}
		switch resolved.Kind {
		case KindMap:
			stack = append(stack, &pending{orig: resolved, built: NewMap(), attach: attach})
		case KindList:
			stack = append(stack, &pending{orig: resolved, built: NewList(), attach: attach})
		default:
			attach(resolved)
		}
	}

	push(tree, func(n *Node) { out = n })
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		switch top.orig.Kind {
		case KindMap:
			if top.idx >= len(top.orig.Entries) {
				stack = stack[:len(stack)-1]
				top.attach(top.built)
				continue
			}
			e := top.orig.Entries[top.idx]
			top.idx++
			key, built := e.Key, top.built
			push(e.Value, func(n *Node) { built.Entries = append(built.Entries, Entry{Key: key, Value: n}) })
		case KindList:
			if top.idx >= len(top.orig.Items) {
				stack = stack[:len(stack)-1]
				top.attach(top.built)
				continue
			}
			idx := top.idx
			top.idx++
			built := top.built
			push(top.orig.Items[idx], func(n *Node) { built.Items = append(built.Items, n) })
		}
	}
	return out
}

// Unflatten reverses FlattenKV: for any tree without env-overlay
// keys, Unflatten(FlattenKV(t)) is structurally equal to t.
func Unflatten(flat map[string]interface{}, separator string) *Node {
	if separator == "" {
		separator = "/"
	}
	root := NewMap()
	for path, val := range flat {
		insert(root, splitPath(path, separator), val)
	}
	return normalizeLists(root)
}

func splitPath(path, sep string) []string {
	if path == "" {
		return nil
	}
	raw := strings.Split(path, sep)
	out := make([]string, len(raw))
	for i, r := range raw {
		out[i] = unescape(r)
	}
	return out
}

func insert(root *Node, segments []string, val interface{}) {
	cur := root
	for i, seg := range segments {
		if i == len(segments)-1 {
			if val == nil {
				cur.set(seg, NewNull())
			} else {
				cur.set(seg, NewScalar(val))
			}
			return
		}
		child, ok := cur.Get(seg)
		if !ok || child.Kind != KindMap {
			child = NewMap()
			cur.set(seg, child)
		}
		cur = child
	}
}

// normalizeLists recursively converts any map whose keys are exactly
// the integers 0..N-1 into a list, since FlattenKV encodes list
// indices as numeric path segments.
func normalizeLists(n *Node) *Node {
	if n.Kind != KindMap {
		return n
	}
	for i, e := range n.Entries {
		n.Entries[i].Value = normalizeLists(e.Value)
	}
	if idx, ok := indexKeys(n); ok {
		list := NewList()
		list.Items = make([]*Node, len(idx))
		for _, e := range n.Entries {
			i, _ := strconv.Atoi(e.Key)
			list.Items[i] = e.Value
		}
		return list
	}
	return n
}

func indexKeys(n *Node) (map[int]bool, bool) {
	if len(n.Entries) == 0 {
		return nil, false
	}
	seen := map[int]bool{}
	for _, e := range n.Entries {
		i, err := strconv.Atoi(e.Key)
		if err != nil || i < 0 {
			return nil, false
		}
		seen[i] = true
	}
	for i := 0; i < len(seen); i++ {
		if !seen[i] {
			return nil, false
		}
	}
	return seen, true
}
