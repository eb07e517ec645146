package abac

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Inquiry values arrive as decoded JSON: nil, bool, float64, string, []any,
// map[string]any. Rules built in code may also carry Go ints and []string.

func toFloat(v any) (float64, bool) {
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
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func toList(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case []string:
		out := make([]any, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out, true
	default:
		return nil, false
	}
}

// valuesEqual is deep equality over JSON-shaped values with numbers compared by value.
func valuesEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	switch av := a.(type) {
	case nil:
		return b == nil
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			w, ok := bv[k]
			if !ok || !valuesEqual(v, w) {
				return false
			}
		}
		return true
	}
	if al, ok := toList(a); ok {
		bl, ok := toList(b)
		if !ok || len(al) != len(bl) {
			return false
		}
		for i := range al {
			if !valuesEqual(al[i], bl[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// compareValues orders two numbers or two strings; anything else is a type error.
func compareValues(what, value any) (int, error) {
	if fw, ok := toFloat(what); ok {
		fv, ok := toFloat(value)
		if !ok {
			return 0, fmt.Errorf("%w: cannot compare %T with %T", ErrType, what, value)
		}
		switch {
		case fw < fv:
			return -1, nil
		case fw > fv:
			return 1, nil
		default:
			return 0, nil
		}
	}
	sw, ok := what.(string)
	if !ok {
		return 0, fmt.Errorf("%w: cannot order %T", ErrType, what)
	}
	sv, ok := value.(string)
	if !ok {
		return 0, fmt.Errorf("%w: cannot compare %T with %T", ErrType, what, value)
	}
	return strings.Compare(sw, sv), nil
}

func truthy(v any) bool {
	if f, ok := toFloat(v); ok {
		return f != 0
	}
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case map[string]any:
		return len(t) > 0
	}
	if l, ok := toList(v); ok {
		return len(l) > 0
	}
	return true
}

// stringify renders a value the way regex rules see it.
func stringify(v any) string {
	if f, ok := toFloat(v); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	switch t := v.(type) {
	case nil:
		return "None"
	case string:
		return t
	case bool:
		if t {
			return "True"
		}
		return "False"
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func isHashable(v any) bool {
	switch v.(type) {
	case map[string]any, []any, []string:
		return false
	default:
		return true
	}
}
