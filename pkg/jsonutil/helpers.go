// Package jsonutil provides JSON formatting and comparison utilities for
// traviz.
//
// These helpers are used for attribute values that carry JSON documents,
// for the detail panel and for comparing the attributes of two spans.
package jsonutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// PrettyJSON formats a JSON string with indentation for display.
// Returns the original string if it's not valid JSON.
func PrettyJSON(s string) string {
	var obj interface{}
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return s
	}
	pretty, err := json.MarshalIndent(obj, "", "  ")
	if err != nil {
		return s
	}
	return string(pretty)
}

// CompactJSON minifies a JSON string by removing whitespace.
func CompactJSON(s string) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(s)); err != nil {
		return s
	}
	return buf.String()
}

// IsDocument reports whether s is a JSON object or array.
func IsDocument(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || (s[0] != '{' && s[0] != '[') {
		return false
	}
	return json.Valid([]byte(s))
}

// Change is one difference between two JSON objects.
type Change struct {
	Path     string `json:"path"`
	Type     string `json:"type"` // "add", "update", "delete"
	OldValue string `json:"old_value,omitempty"`
	NewValue string `json:"new_value,omitempty"`
}

func (c Change) String() string {
	switch c.Type {
	case "add":
		return fmt.Sprintf("+ %s = %s", c.Path, c.NewValue)
	case "delete":
		return fmt.Sprintf("- %s = %s", c.Path, c.OldValue)
	default:
		return fmt.Sprintf("~ %s: %s -> %s", c.Path, c.OldValue, c.NewValue)
	}
}

// Diff compares two decoded objects and returns the differences ordered by
// path. Nested objects are compared key by key.
func Diff(oldMap, newMap map[string]interface{}) []Change {
	return diffMaps("", oldMap, newMap, nil)
}

// DiffJSON compares two JSON object strings. An empty string is treated as
// an empty object.
func DiffJSON(oldJSON, newJSON string) ([]Change, error) {
	oldMap, err := decodeObject(oldJSON)
	if err != nil {
		return nil, fmt.Errorf("parsing old JSON: %w", err)
	}
	newMap, err := decodeObject(newJSON)
	if err != nil {
		return nil, fmt.Errorf("parsing new JSON: %w", err)
	}
	return Diff(oldMap, newMap), nil
}

func decodeObject(s string) (map[string]interface{}, error) {
	m := make(map[string]interface{})
	if s == "" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func diffMaps(prefix string, oldMap, newMap map[string]interface{}, diffs []Change) []Change {
	allKeys := make(map[string]bool, len(oldMap)+len(newMap))
	for k := range oldMap {
		allKeys[k] = true
	}
	for k := range newMap {
		allKeys[k] = true
	}

	keys := make([]string, 0, len(allKeys))
	for k := range allKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}

		oldVal, oldExists := oldMap[k]
		newVal, newExists := newMap[k]

		switch {
		case !oldExists:
			diffs = append(diffs, Change{Path: path, Type: "add", NewValue: toJSONStr(newVal)})
		case !newExists:
			diffs = append(diffs, Change{Path: path, Type: "delete", OldValue: toJSONStr(oldVal)})
		default:
			oldStr, newStr := toJSONStr(oldVal), toJSONStr(newVal)
			if oldStr == newStr {
				continue
			}
			oldChild, oldIsMap := oldVal.(map[string]interface{})
			newChild, newIsMap := newVal.(map[string]interface{})
			if oldIsMap && newIsMap {
				diffs = diffMaps(path, oldChild, newChild, diffs)
				continue
			}
			diffs = append(diffs, Change{Path: path, Type: "update", OldValue: oldStr, NewValue: newStr})
		}
	}

	return diffs
}

func toJSONStr(v interface{}) string {
	b, _ := json.Marshal(v)
	return string(b)
}

// TruncateString cuts s to maxLen runes, ending in "..." if truncation
// occurred.
func TruncateString(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}
