package pipeline

import (
	"encoding/json"
	"fmt"
)

// Compare is the State Comparator: a pure function over two flat
// key/value maps returning the four-way partition added/changed/
// deleted/unchanged. Inputs may be JSON-encoded strings
// (decoded on entry, falling back to an empty map on decode failure) or
// already-decoded mappings; a non-mapping value is wrapped under the
// empty-string key.
//
// Invariant: keys(added) ⊎ keys(deleted) ⊎ keys(changed) ⊎
// keys(unchanged) = keys(current) ∪ keys(old).
func Compare(current, old interface{}) (added, changed, deleted, unchanged map[string]interface{}) {
	curr := normalizeCompareInput(current)
	prev := normalizeCompareInput(old)

	added = map[string]interface{}{}
	changed = map[string]interface{}{}
	deleted = map[string]interface{}{}
	unchanged = map[string]interface{}{}

	for k, v := range curr {
		pv, existed := prev[k]
		switch {
		case !existed:
			added[k] = v
		case ScalarEqual(v, pv):
			unchanged[k] = v
		default:
			changed[k] = v
		}
	}
	for k, v := range prev {
		if _, ok := curr[k]; !ok {
			deleted[k] = v
		}
	}
	return
}

func normalizeCompareInput(v interface{}) map[string]interface{} {
	switch t := v.(type) {
	case nil:
		return map[string]interface{}{}
	case map[string]interface{}:
		return t
	case string:
		var decoded interface{}
		if err := json.Unmarshal([]byte(t), &decoded); err != nil {
			return map[string]interface{}{}
		}
		return normalizeCompareInput(decoded)
	default:
		return map[string]interface{}{"": v}
	}
}

// ScalarEqual compares two flattened leaf values tolerating the
// representational drift between decoders: JSON decodes numbers as
// json.Number, YAML as int/float64; neither should register as a
// spurious UPDATE.
func ScalarEqual(a, b interface{}) bool {
	return canonicalScalar(a) == canonicalScalar(b)
}

func canonicalScalar(v interface{}) string {
	if v == nil {
		return "\x00nil"
	}
	switch t := v.(type) {
	case json.Number:
		return t.String()
	case float64, int, int64:
		return fmt.Sprintf("%v", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
