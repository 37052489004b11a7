package assessment

// Coercion helpers for untrusted JSON. Model output routinely declares the
// wrong types (confidence as a string, a single key where a list belongs),
// so every field is recovered with the comma-ok idiom and a defined default
// instead of a failed type assertion.

import "strconv"

// coerceInt recovers an int from the shapes JSON decoding and sloppy model
// output actually produce: numbers, numeric strings.
func coerceInt(value any, fallback int) int {
	switch v := value.(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	case float32:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return int(f)
		}
	}
	return fallback
}

// coerceBool recovers a bool, accepting the string and numeric forms models
// emit.
func coerceBool(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case float64:
		return v != 0
	case string:
		b, err := strconv.ParseBool(v)
		return err == nil && b
	}
	return false
}

// coerceString recovers a string or returns "".
func coerceString(value any) string {
	s, _ := value.(string)
	return s
}

// coerceStringList recovers a list of strings. A bare string becomes a
// single-element list; non-string elements are dropped.
func coerceStringList(value any) []string {
	switch v := value.(type) {
	case []string:
		return v
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// coerceMap recovers a map[string]any or returns an empty map.
func coerceMap(value any) map[string]any {
	if m, ok := value.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}
