package broadcast

import "fmt"

// Serialize converts a snapshot value into a JSON-encodable form.
//
// Primitives pass through unchanged. Maps and slices are walked
// recursively. Anything else that implements fmt.Stringer (notably
// knx.GroupAddress) becomes its canonical string; remaining values fall
// back to fmt.Sprintf. The result contains only strings, numbers, bools,
// nils, maps and slices.
func Serialize(v any) any {
	switch val := v.(type) {
	case nil, bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return val
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = Serialize(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = Serialize(item)
		}
		return out
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprintf("%v", val)
	}
}

// SerializeSnapshot applies Serialize to every value of a device snapshot.
func SerializeSnapshot(snap map[string]any) map[string]any {
	out := make(map[string]any, len(snap))
	for k, v := range snap {
		out[k] = Serialize(v)
	}
	return out
}
