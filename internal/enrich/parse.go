package enrich

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	fenceStart = regexp.MustCompile("(?i)^```(?:json)?\\s*")
	fenceEnd   = regexp.MustCompile("```\\s*$")
)

// extractJSON pulls a JSON object out of raw model output. It tries, in order:
// a direct parse, the text with code fences stripped, the first balanced
// {...} block, and everything between the first { and the last }.
func extractJSON(raw string) (map[string]any, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, false
	}

	if m, ok := parseObject(raw); ok {
		return m, true
	}

	fenced := strings.TrimSpace(fenceEnd.ReplaceAllString(fenceStart.ReplaceAllString(raw, ""), ""))
	if m, ok := parseObject(fenced); ok {
		return m, true
	}

	start := strings.Index(raw, "{")
	if start < 0 {
		return nil, false
	}
	if end := balancedEnd(raw, start); end > 0 {
		if m, ok := parseObject(raw[start:end]); ok {
			return m, true
		}
	}
	if last := strings.LastIndex(raw, "}"); last > start {
		if m, ok := parseObject(raw[start : last+1]); ok {
			return m, true
		}
	}
	return nil, false
}

func parseObject(s string) (map[string]any, bool) {
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil || m == nil {
		return nil, false
	}
	return m, true
}

// balancedEnd returns the index just past the brace closing the one at start,
// or -1. Braces inside string literals are ignored.
func balancedEnd(s string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return -1
}

// stringField returns m[key] when it is a string.
func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// listField returns m[key] as strings. Arrays keep their scalar items; a bare
// string is split on commas.
func listField(m map[string]any, key string) []string {
	switch v := m[key].(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			switch x := item.(type) {
			case string:
				out = append(out, x)
			case float64, bool:
				b, _ := json.Marshal(x)
				out = append(out, string(b))
			}
		}
		return out
	case string:
		return strings.Split(v, ",")
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
