package handoff

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Payload is a decoded JSON object crossing a stage boundary. Fields are
// addressed with dotted paths such as "content_package.complete_content.subject".
type Payload map[string]any

// Lookup returns the value at a dotted path.
func (p Payload) Lookup(path string) (any, bool) {
	var cur any = map[string]any(p)
	for _, part := range strings.Split(path, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Set writes value at a dotted path, creating intermediate objects as needed.
// It fails when an intermediate segment exists and is not an object.
func (p Payload) Set(path string, value any) error {
	parts := strings.Split(path, ".")
	cur := map[string]any(p)
	for i, part := range parts[:len(parts)-1] {
		next, ok := cur[part]
		if !ok || next == nil {
			m := map[string]any{}
			cur[part] = m
			cur = m
			continue
		}
		m, ok := asMap(next)
		if !ok {
			return fmt.Errorf("set %s: %s is not an object", path, strings.Join(parts[:i+1], "."))
		}
		cur = m
	}
	cur[parts[len(parts)-1]] = value
	return nil
}

// Clone returns a deep copy of p. Nested objects and arrays are copied; scalar
// values are shared.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	return Payload(cloneMap(p))
}

// String returns the value at path if it is a string.
func (p Payload) String(path string) (string, bool) {
	v, ok := p.Lookup(path)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Number returns the value at path as a float64 if it is numeric.
func (p Payload) Number(path string) (float64, bool) {
	v, ok := p.Lookup(path)
	if !ok {
		return 0, false
	}
	return ToFloat(v)
}

// Bool returns the value at path if it is a bool.
func (p Payload) Bool(path string) (bool, bool) {
	v, ok := p.Lookup(path)
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// Array returns the value at path if it is an array.
func (p Payload) Array(path string) ([]any, bool) {
	v, ok := p.Lookup(path)
	if !ok {
		return nil, false
	}
	return AsArray(v)
}

// ToFloat converts the numeric shapes a payload may hold (decoded JSON or
// Go literals) to float64.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// AsArray converts []any and []string to []any.
func AsArray(v any) ([]any, bool) {
	switch a := v.(type) {
	case []any:
		return a, true
	case []string:
		out := make([]any, len(a))
		for i, s := range a {
			out[i] = s
		}
		return out, true
	case []map[string]any:
		out := make([]any, len(a))
		for i, m := range a {
			out[i] = m
		}
		return out, true
	}
	return nil, false
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Payload:
		return m, true
	}
	return nil, false
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case Payload:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	}
	return v
}

// DecodePayload parses a JSON object.
func DecodePayload(data []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if p == nil {
		return nil, fmt.Errorf("decode payload: not a JSON object")
	}
	return p, nil
}

// ReadPayloadFile reads and parses a JSON payload file.
func ReadPayloadFile(path string) (Payload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read payload %s: %w", path, err)
	}
	return DecodePayload(data)
}
