package session

import (
	"encoding/json"
	"fmt"
	"strings"
)

// stringifyContent renders a tool_result Content value (string, object, or
// array of strings/objects) to the flat string form the Events callbacks
// expect, per spec §4.3's translation rules: array items are concatenated
// with "\n", non-string items are JSON-encoded.
func stringifyContent(content any) string {
	switch v := content.(type) {
	case nil:
		return ""
	case string:
		return v
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, stringifyContent(item))
		}
		return strings.Join(parts, "\n")
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
