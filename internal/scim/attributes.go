package scim

import (
	"strings"
)

// alwaysReturned attributes survive any projection
var alwaysReturned = []string{"id", "schemas"}

// ParseAttributeList splits a comma separated attributes query parameter
func ParseAttributeList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Project applies the attributes / excludedAttributes parameters to a
// rendered resource. attributes wins when both are given.
func Project(attrs map[string]any, attributes, excluded []string) map[string]any {
	switch {
	case len(attributes) > 0:
		return include(attrs, attributes)
	case len(excluded) > 0:
		return exclude(attrs, excluded)
	}
	return attrs
}

func include(attrs map[string]any, paths []string) map[string]any {
	out := make(map[string]any)
	for _, name := range alwaysReturned {
		if key, ok := FindKey(attrs, name); ok {
			out[key] = attrs[key]
		}
	}
	for _, p := range paths {
		urn, attr := SplitPath(p)
		src, dst := attrs, out
		if urn != "" && !isCoreURN(urn) {
			key, ok := FindKey(attrs, urn)
			if !ok {
				continue
			}
			ext, ok := attrs[key].(map[string]any)
			if !ok {
				continue
			}
			if attr == "" {
				out[key] = ext
				continue
			}
			sub, _ := out[key].(map[string]any)
			if sub == nil {
				sub = make(map[string]any)
				out[key] = sub
			}
			src, dst = ext, sub
		}
		copyPath(src, dst, strings.Split(attr, "."))
	}
	return out
}

// copyPath copies the value at segments from src into dst, descending into
// complex and multi-valued attributes
func copyPath(src, dst map[string]any, segments []string) {
	if len(segments) == 0 || segments[0] == "" {
		return
	}
	key, ok := FindKey(src, segments[0])
	if !ok {
		return
	}
	val := src[key]
	if len(segments) == 1 {
		dst[key] = val
		return
	}

	switch v := val.(type) {
	case map[string]any:
		sub, _ := dst[key].(map[string]any)
		if sub == nil {
			sub = make(map[string]any)
		}
		copyPath(v, sub, segments[1:])
		if len(sub) > 0 {
			dst[key] = sub
		}
	case []any:
		existing, _ := dst[key].([]any)
		items := make([]any, len(v))
		for i, elem := range v {
			m, ok := elem.(map[string]any)
			if !ok {
				continue
			}
			var sub map[string]any
			if i < len(existing) {
				sub, _ = existing[i].(map[string]any)
			}
			if sub == nil {
				sub = make(map[string]any)
			}
			copyPath(m, sub, segments[1:])
			items[i] = sub
		}
		dst[key] = items
	}
}

func exclude(attrs map[string]any, paths []string) map[string]any {
	out := DeepCopy(attrs).(map[string]any)
	for _, p := range paths {
		urn, attr := SplitPath(p)
		target := out
		if urn != "" && !isCoreURN(urn) {
			key, ok := FindKey(out, urn)
			if !ok {
				continue
			}
			if attr == "" {
				delete(out, key)
				continue
			}
			ext, ok := out[key].(map[string]any)
			if !ok {
				continue
			}
			target = ext
		}
		segments := strings.Split(attr, ".")
		if urn == "" && len(segments) == 1 && isAlwaysReturned(segments[0]) {
			continue
		}
		deletePath(target, segments)
	}
	return out
}

func deletePath(m map[string]any, segments []string) {
	key, ok := FindKey(m, segments[0])
	if !ok {
		return
	}
	if len(segments) == 1 {
		delete(m, key)
		return
	}
	switch v := m[key].(type) {
	case map[string]any:
		deletePath(v, segments[1:])
	case []any:
		for _, elem := range v {
			if sub, ok := elem.(map[string]any); ok {
				deletePath(sub, segments[1:])
			}
		}
	}
}

func isAlwaysReturned(name string) bool {
	return containsFold(alwaysReturned, name)
}

func isCoreURN(urn string) bool {
	return strings.EqualFold(urn, SchemaUser) || strings.EqualFold(urn, SchemaGroup)
}

// FindKey finds a map key ignoring case, preferring an exact match
func FindKey(m map[string]any, name string) (string, bool) {
	if _, ok := m[name]; ok {
		return name, true
	}
	for k := range m {
		if strings.EqualFold(k, name) {
			return k, true
		}
	}
	return "", false
}

// DeepCopy copies a decoded JSON value so that the copy shares no maps or
// slices with the original
func DeepCopy(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = DeepCopy(elem)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = DeepCopy(elem)
		}
		return out
	default:
		return val
	}
}
