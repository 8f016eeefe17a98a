package poll

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

// FieldEquals is true when the JSON value at path renders as want.
func FieldEquals(path, want string) func(json.RawMessage) bool {
	return func(raw json.RawMessage) bool {
		r := gjson.GetBytes(raw, path)
		return r.Exists() && r.String() == want
	}
}

// FieldAtLeast is true when the number at path is >= n.
func FieldAtLeast(path string, n float64) func(json.RawMessage) bool {
	return func(raw json.RawMessage) bool {
		r := gjson.GetBytes(raw, path)
		return r.Exists() && r.Type == gjson.Number && r.Float() >= n
	}
}

// FieldChanged is true once the value at path differs from its value in
// before. A path missing from both documents never counts as changed.
func FieldChanged(path string, before json.RawMessage) func(json.RawMessage) bool {
	prev := gjson.GetBytes(before, path)
	return func(raw json.RawMessage) bool {
		cur := gjson.GetBytes(raw, path)
		if !cur.Exists() && !prev.Exists() {
			return false
		}
		return cur.Exists() != prev.Exists() || cur.Raw != prev.Raw
	}
}

// Field extracts the value at path as a string, or "".
func Field(raw json.RawMessage, path string) string {
	return gjson.GetBytes(raw, path).String()
}
