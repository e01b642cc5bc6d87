package normalize

import (
	"regexp"
	"slices"
	"strings"
)

var separatorLetter = regexp.MustCompile(`(?i)[-_][a-z]`)

// CamelKey rewrites snake_case and kebab-case keys to camelCase.
// A separator followed by anything other than a letter is kept.
func CamelKey(key string) string {
	return separatorLetter.ReplaceAllStringFunc(key, func(m string) string {
		return strings.ToUpper(m[1:])
	})
}

// Camelize returns a copy of v with every object key camelized.
// Arrays are processed element-wise; scalars are returned unchanged.
// When two keys camelize to the same name, a key already in that form
// wins; otherwise the lexically first key does.
func Camelize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		slices.Sort(keys)

		out := make(map[string]any, len(val))
		for _, k := range keys {
			ck := CamelKey(k)
			if _, taken := out[ck]; ck != k && !taken {
				out[ck] = Camelize(val[k])
			}
		}
		for _, k := range keys {
			if CamelKey(k) == k {
				out[k] = Camelize(val[k])
			}
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = Camelize(elem)
		}
		return out
	default:
		return v
	}
}
