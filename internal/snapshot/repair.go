package snapshot

import (
	"strings"
	"unicode/utf8"
)

// RepairValue walks v and rebuilds strings that were spread into arrays of
// single characters, e.g. ["{","\"","a", ...]. A rebuilt string that spells a
// JSON object or array is parsed back into a value. The returned flag reports
// whether anything changed; v itself is left untouched.
func RepairValue(v any) (any, bool) {
	switch t := v.(type) {
	case []any:
		if s, ok := joinChars(t); ok {
			if looksLikeJSON(s) {
				if parsed, err := DecodeValue([]byte(s)); err == nil {
					return parsed, true
				}
			}
			return s, true
		}
		var out []any
		for i, item := range t {
			fixed, ok := RepairValue(item)
			if !ok {
				continue
			}
			if out == nil {
				out = make([]any, len(t))
				copy(out, t)
			}
			out[i] = fixed
		}
		if out == nil {
			return v, false
		}
		return out, true

	case map[string]any:
		var out map[string]any
		for k, item := range t {
			fixed, ok := RepairValue(item)
			if !ok {
				continue
			}
			if out == nil {
				out = make(map[string]any, len(t))
				for kk, vv := range t {
					out[kk] = vv
				}
			}
			out[k] = fixed
		}
		if out == nil {
			return v, false
		}
		return out, true
	}
	return v, false
}

func joinChars(arr []any) (string, bool) {
	if len(arr) < 2 {
		return "", false
	}
	var sb strings.Builder
	for _, item := range arr {
		s, ok := item.(string)
		if !ok || utf8.RuneCountInString(s) != 1 {
			return "", false
		}
		sb.WriteString(s)
	}
	return sb.String(), true
}

func looksLikeJSON(s string) bool {
	return (strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}")) ||
		(strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]"))
}
