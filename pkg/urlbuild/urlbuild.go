// Package urlbuild builds request URLs from a path template, a params
// object, and optional $path/$search schemas.
package urlbuild

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/yosida95/uritemplate/v3"
)

// ConstructURLError reports a malformed path template or a missing
// substitution for one of its placeholders.
type ConstructURLError struct {
	Message string
	cause   error
}

func (e *ConstructURLError) Error() string { return e.Message }
func (e *ConstructURLError) Unwrap() error { return e.cause }

func newConstructError(msg string, cause error) *ConstructURLError {
	return &ConstructURLError{Message: msg, cause: cause}
}

// QueryValue is a single query-parameter value. Primitive scalars map to a
// single `key=value` pair; Values (a []string) maps to repeated
// `key=v1&key=v2` pairs; the zero QueryValue (Omit) is omitted entirely, so
// undefined entries never appear in the query string.
type QueryValue struct {
	Values []string
	set    bool
}

// Scalar wraps a single query value.
func Scalar(v string) QueryValue { return QueryValue{Values: []string{v}, set: true} }

// Repeated wraps an array-valued query parameter.
func Repeated(vs ...string) QueryValue { return QueryValue{Values: vs, set: true} }

// Omit represents an explicitly-undefined query entry, dropped from output.
var Omit = QueryValue{}

// Params is the ordered substitution source for a single URL build: path
// placeholders resolve to strings, and search params resolve to QueryValue.
// Go maps don't preserve insertion order, so keys listed in SearchOrder are
// serialized first, in that order, and the remaining keys follow sorted.
type Params struct {
	Path   map[string]string
	Search map[string]QueryValue
	// SearchOrder optionally fixes serialization order of Search keys;
	// unlisted keys fall back to sorted order for determinism.
	SearchOrder []string
}

// Build extracts template placeholders, substitutes them from params.Path,
// percent-encodes each segment, and appends a stable-order query string
// built from params.Search. It never contacts a schema directly: callers
// that want $path/$search validation run it before calling Build and pass
// the validated substitution map in via Params.
func Build(template string, params Params) (string, error) {
	if err := checkBraceBalance(template); err != nil {
		return "", err
	}

	tpl, err := uritemplate.New(template)
	if err != nil {
		return "", newConstructError("malformed template", err)
	}

	values := uritemplate.Values{}
	for _, name := range tpl.Varnames() {
		v, ok := params.Path[name]
		if !ok {
			return "", newConstructError(fmt.Sprintf("malformed template: missing substitution for %q", name), nil)
		}
		values = values.Set(name, uritemplate.String(v))
	}

	path, err := tpl.Expand(values)
	if err != nil {
		return "", newConstructError("malformed template", err)
	}

	query := serializeQuery(params.Search, params.SearchOrder)
	if query == "" {
		return path, nil
	}
	return path + "?" + query, nil
}

// checkBraceBalance fails fast on an unmatched '{' or a stray '}', before
// handing the template to uritemplate.
func checkBraceBalance(template string) error {
	depth := 0
	for _, r := range template {
		switch r {
		case '{':
			depth++
		case '}':
			depth--
			if depth < 0 {
				return newConstructError("malformed template", nil)
			}
		}
	}
	if depth != 0 {
		return newConstructError("malformed template", nil)
	}
	return nil
}

// Placeholders extracts the `{name}` placeholder list from template,
// without requiring a successful Build. Used by schema.Compile's
// invariant check (placeholders == $path keys).
func Placeholders(template string) ([]string, error) {
	if err := checkBraceBalance(template); err != nil {
		return nil, err
	}
	tpl, err := uritemplate.New(template)
	if err != nil {
		return nil, newConstructError("malformed template", err)
	}
	return tpl.Varnames(), nil
}

func serializeQuery(search map[string]QueryValue, order []string) string {
	if len(search) == 0 {
		return ""
	}

	ordered := make([]string, 0, len(search))
	seen := make(map[string]struct{}, len(search))
	for _, k := range order {
		if _, ok := search[k]; ok {
			if _, dup := seen[k]; !dup {
				ordered = append(ordered, k)
				seen[k] = struct{}{}
			}
		}
	}
	rest := make([]string, 0, len(search))
	for k := range search {
		if _, ok := seen[k]; !ok {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	ordered = append(ordered, rest...)

	var b strings.Builder
	first := true
	for _, k := range ordered {
		qv := search[k]
		if !qv.set {
			continue
		}
		for _, v := range qv.Values {
			if !first {
				b.WriteByte('&')
			}
			first = false
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}

// CoerceScalar renders a primitive (string/number/bool) param value into
// its string substitution form, for the no-$path-schema fallback path.
func CoerceScalar(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case fmt.Stringer:
		return x.String(), true
	case bool:
		return strconv.FormatBool(x), true
	case int:
		return strconv.Itoa(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64), true
	default:
		return "", false
	}
}

// ResolveAbsolute implements the url() entry point's base/hostname
// resolution: joins baseURL and path with exactly one '/' separator, and
// prepends hostname when the result isn't absolute.
func ResolveAbsolute(baseURL, hostname, pathAndQuery string) string {
	joined := joinOneSlash(baseURL, pathAndQuery)
	if isAbsoluteURL(joined) {
		return joined
	}
	if hostname == "" {
		return joined
	}
	return joinOneSlash(hostname, joined)
}

func joinOneSlash(base, rest string) string {
	if base == "" {
		return rest
	}
	base = strings.TrimSuffix(base, "/")
	rest = strings.TrimPrefix(rest, "/")
	if rest == "" {
		return base
	}
	return base + "/" + rest
}

func isAbsoluteURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return u.IsAbs()
}
