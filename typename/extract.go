package typename

import "sort"

// Field is the reserved field carrying an entity's type.
const Field = "__typename"

// ExtractSet returns the set of non-empty string typenames found anywhere in v.
// The input is never modified. Values that are neither maps nor slices are
// ignored, so malformed payloads simply yield fewer typenames.
func ExtractSet(v any) map[string]struct{} {
	out := make(map[string]struct{})
	walk(v, out)
	return out
}

// Extract returns the typenames found in v, sorted and deduplicated.
func Extract(v any) []string {
	return Sorted(ExtractSet(v))
}

// Sorted returns the members of set in ascending order.
func Sorted(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func walk(v any, out map[string]struct{}) {
	switch val := v.(type) {
	case map[string]any:
		if name, ok := val[Field].(string); ok && name != "" {
			out[name] = struct{}{}
		}
		for _, child := range val {
			walk(child, out)
		}
	case map[any]any:
		if name, ok := val[Field].(string); ok && name != "" {
			out[name] = struct{}{}
		}
		for _, child := range val {
			walk(child, out)
		}
	case []any:
		for _, child := range val {
			walk(child, out)
		}
	case []map[string]any:
		for _, child := range val {
			walk(child, out)
		}
	}
}
