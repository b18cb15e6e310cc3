package rls

import (
	"regexp"
	"strconv"
	"strings"
)

const maxInputDepth = 32

var operatorValue = regexp.MustCompile(`^\$[A-Za-z]+$`)

// Finding describes the first unsafe element found in an input.
type Finding struct {
	Path   string
	Reason string
}

// FindUnsafe walks maps, slices and strings looking for query operator syntax:
// keys starting with "$", keys containing ".", string values that are a bare
// operator such as "$ne" or "$where", NUL bytes, and nesting deeper than 32.
// Monetary strings like "$100" are not operators.
func FindUnsafe(input any) (Finding, bool) {
	return walk(input, "$", 0)
}

func walk(v any, path string, depth int) (Finding, bool) {
	if depth > maxInputDepth {
		return Finding{Path: path, Reason: "nesting too deep"}, true
	}
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			p := path + "." + k
			if f, bad := checkKey(k, p); bad {
				return f, true
			}
			if f, bad := walk(child, p, depth+1); bad {
				return f, true
			}
		}
	case map[string]string:
		for k, child := range t {
			p := path + "." + k
			if f, bad := checkKey(k, p); bad {
				return f, true
			}
			if f, bad := checkString(child, p); bad {
				return f, true
			}
		}
	case map[string][]string:
		for k, vals := range t {
			p := path + "." + k
			if f, bad := checkKey(k, p); bad {
				return f, true
			}
			for i, s := range vals {
				if f, bad := checkString(s, p+"["+strconv.Itoa(i)+"]"); bad {
					return f, true
				}
			}
		}
	case []any:
		for i, child := range t {
			if f, bad := walk(child, path+"["+strconv.Itoa(i)+"]", depth+1); bad {
				return f, true
			}
		}
	case []string:
		for i, s := range t {
			if f, bad := checkString(s, path+"["+strconv.Itoa(i)+"]"); bad {
				return f, true
			}
		}
	case string:
		return checkString(t, path)
	}
	return Finding{}, false
}

func checkKey(k, path string) (Finding, bool) {
	switch {
	case strings.HasPrefix(k, "$"):
		return Finding{Path: path, Reason: "operator key"}, true
	case strings.Contains(k, "."):
		return Finding{Path: path, Reason: "dotted key"}, true
	case strings.ContainsRune(k, 0):
		return Finding{Path: path, Reason: "NUL in key"}, true
	}
	return Finding{}, false
}

func checkString(s, path string) (Finding, bool) {
	switch {
	case operatorValue.MatchString(strings.TrimSpace(s)):
		return Finding{Path: path, Reason: "operator value"}, true
	case strings.ContainsRune(s, 0):
		return Finding{Path: path, Reason: "NUL in value"}, true
	}
	return Finding{}, false
}
