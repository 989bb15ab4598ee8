package llm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrNoJSON is returned when model output contains no JSON object.
var ErrNoJSON = errors.New("no JSON object in model output")

// ExtractJSON pulls the outermost JSON object out of model output. Code
// fences and any prose before the first '{' or after the last '}' are
// discarded.
func ExtractJSON(text string) ([]byte, error) {
	s := strings.TrimSpace(text)
	s = strings.TrimPrefix(s, "\ufeff")
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```JSON")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}

	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return nil, ErrNoJSON
	}
	return []byte(s[start : end+1]), nil
}

// DecodeJSON extracts the JSON object from text and unmarshals it into v.
func DecodeJSON(text string, v any) error {
	raw, err := ExtractJSON(text)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode model JSON: %w", err)
	}
	return nil
}

// Number accepts a JSON number, a numeric string, or null. Models are not
// consistent about quoting numbers, so structured fields use this type and
// are clamped by the caller.
type Number struct {
	Value float64
	Set   bool
}

// UnmarshalJSON implements json.Unmarshaler.
func (n *Number) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == "" {
		*n = Number{}
		return nil
	}
	s = strings.Trim(s, `"`)
	s = strings.TrimSuffix(strings.TrimSpace(s), "%")
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		*n = Number{}
		return nil
	}
	*n = Number{Value: f, Set: true}
	return nil
}

// IntOr rounds the number into [lo, hi], or returns def when unset.
func (n Number) IntOr(def, lo, hi int) int {
	if !n.Set {
		return Clamp(def, lo, hi)
	}
	return Clamp(int(math.Round(n.Value)), lo, hi)
}

// Clamp bounds v into [lo, hi].
func Clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Strings accepts a JSON array of strings, a single string, or null, and
// drops blank entries.
type Strings []string

// UnmarshalJSON implements json.Unmarshaler.
func (s *Strings) UnmarshalJSON(b []byte) error {
	var list []any
	if err := json.Unmarshal(b, &list); err != nil {
		var one string
		if json.Unmarshal(b, &one) == nil && strings.TrimSpace(one) != "" {
			*s = Strings{strings.TrimSpace(one)}
			return nil
		}
		*s = nil
		return nil
	}
	out := make(Strings, 0, len(list))
	for _, item := range list {
		str, ok := item.(string)
		if !ok {
			continue
		}
		if str = strings.TrimSpace(str); str != "" {
			out = append(out, str)
		}
	}
	*s = out
	return nil
}
