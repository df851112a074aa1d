package batch

import (
	"fmt"
	"strings"
)

// Document AI shards nest their collections under "document".
var DocumentAICollections = []string{"document.pages", "document.entities"}

// CombineDocumentAI merges Document AI batch shards.
func CombineDocumentAI(parts []Response) (Response, error) {
	return Combine(parts, DocumentAICollections...)
}

// Combine merges ordered result parts into one response.
//
// A single part is returned as is. Otherwise the result starts as a deep copy
// of the first part and, for every later part, each collection path present
// in that part is appended in order, creating it on the copy if needed.
// Everything else, page counts included, comes from the first part only;
// callers needing aggregate counts must derive them from the merged
// collections.
func Combine(parts []Response, collections ...string) (Response, error) {
	if len(parts) == 0 {
		return nil, newError(CodeEmptyInput, nil, "no responses to combine")
	}
	if len(parts) == 1 {
		return parts[0], nil
	}

	combined := deepCopy(map[string]any(parts[0])).(map[string]any)
	for i, part := range parts[1:] {
		for _, path := range collections {
			items, ok := lookupSlice(part, path)
			if !ok {
				continue
			}
			if err := appendAt(combined, path, deepCopy(items).([]any)); err != nil {
				return nil, fmt.Errorf("part %d: %w", i+1, err)
			}
		}
	}
	return Response(combined), nil
}

// CollectionLen reports the length of the collection at path, or 0.
func CollectionLen(r Response, path string) int {
	items, _ := lookupSlice(r, path)
	return len(items)
}

func lookupSlice(r Response, path string) ([]any, bool) {
	var cur any = map[string]any(r)
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[seg]; !ok {
			return nil, false
		}
	}
	items, ok := cur.([]any)
	return items, ok
}

func appendAt(root map[string]any, path string, items []any) error {
	segs := strings.Split(path, ".")
	m := root
	for _, seg := range segs[:len(segs)-1] {
		next, ok := m[seg]
		if !ok || next == nil {
			child := map[string]any{}
			m[seg] = child
			m = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("cannot merge %s: %s is not an object", path, seg)
		}
		m = child
	}
	last := segs[len(segs)-1]
	existing, ok := m[last]
	if !ok || existing == nil {
		m[last] = items
		return nil
	}
	slice, ok := existing.([]any)
	if !ok {
		return fmt.Errorf("cannot merge %s: not an array", path)
	}
	m[last] = append(slice, items...)
	return nil
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = deepCopy(val)
		}
		return out
	case Response:
		return deepCopy(map[string]any(t))
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = deepCopy(val)
		}
		return out
	default:
		return v
	}
}
