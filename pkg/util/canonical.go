package util

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// CanonicalKey creates a deterministic JSON representation for a value. This is the key function
// that defines value identity for record data: two values are considered equal exactly when their
// canonical keys match.
func CanonicalKey(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal value to JSON: %w", err)
	}
	return string(b), nil
}

// DeepEqualValues checks two values for equality using JSON comparison. Values that cannot be
// marshaled fall back to reflect.DeepEqual.
func DeepEqualValues(a, b any) bool {
	keyA, errA := CanonicalKey(a)
	keyB, errB := CanonicalKey(b)
	if errA != nil || errB != nil {
		return reflect.DeepEqual(a, b)
	}
	return keyA == keyB
}

// DeepCopyValue creates a deep copy of a value or any nested structure. Only JSON-shaped content
// (maps, slices, primitives) is copied structurally; other types are returned as is.
func DeepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		result := make(map[string]any, len(val))
		for k, sub := range val {
			result[k] = DeepCopyValue(sub)
		}
		return result

	case []any:
		result := make([]any, len(val))
		for i, sub := range val {
			result[i] = DeepCopyValue(sub)
		}
		return result

	default:
		// Primitives can be copied directly
		return v
	}
}

// DeepCopyData creates a deep copy of a record data map.
func DeepCopyData(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	return DeepCopyValue(data).(map[string]any)
}
