package workflow

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/su1ph3r/stampede/pkg/types"
)

// extract applies one capture rule to a recorded outcome. A false return
// means the rule found nothing; the instance's slot stays empty.
func extract(rule *CaptureRule, o *types.Outcome) (string, bool) {
	if !o.OK() {
		return "", false
	}

	switch rule.Type {
	case CaptureStatus:
		return strconv.Itoa(o.StatusCode), true
	case CaptureHeader:
		value, ok := o.Headers[http.CanonicalHeaderKey(rule.Path)]
		return value, ok && value != ""
	case CaptureCookie:
		return extractCookie(o.SetCookie, rule.Path)
	case CaptureRegex:
		return extractRegex(rule, o.BodySnippet)
	case CaptureJSON:
		return extractJSON(o.BodySnippet, rule.Path)
	default:
		return "", false
	}
}

// extractCookie pulls a named cookie value out of the recorded Set-Cookie
// values. Each value is one header, so the name=value pair always sits
// before the first ';' and attribute commas cannot mis-split it.
func extractCookie(setCookie []string, name string) (string, bool) {
	for _, raw := range setCookie {
		cookie := raw
		if pair, _, found := strings.Cut(cookie, ";"); found {
			cookie = pair
		}
		if key, value, found := strings.Cut(cookie, "="); found && strings.TrimSpace(key) == name {
			return strings.TrimSpace(value), true
		}
	}
	return "", false
}

// extractRegex matches the compiled pattern against the body, returning the
// first capture group when the pattern has one, the whole match otherwise.
func extractRegex(rule *CaptureRule, body string) (string, bool) {
	if rule.compiled == nil {
		return "", false
	}
	m := rule.compiled.FindStringSubmatch(body)
	if m == nil {
		return "", false
	}
	if len(m) > 1 {
		return m[1], m[1] != ""
	}
	return m[0], m[0] != ""
}

// extractJSON walks a simple dotted path like $.data.order.id through the
// body. Array elements are addressed by numeric segments.
func extractJSON(body, path string) (string, bool) {
	if body == "" || path == "" {
		return "", false
	}

	var data interface{}
	if err := json.Unmarshal([]byte(body), &data); err != nil {
		return "", false
	}

	current := data
	for _, part := range strings.Split(strings.TrimPrefix(path, "$."), ".") {
		if part == "" {
			continue
		}
		switch v := current.(type) {
		case map[string]interface{}:
			current = v[part]
		case []interface{}:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(v) {
				return "", false
			}
			current = v[idx]
		default:
			return "", false
		}
	}

	switch v := current.(type) {
	case string:
		return v, v != ""
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(v), true
	case nil:
		return "", false
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return "", false
		}
		return string(encoded), true
	}
}

// captureRefs returns the (step, name) pairs a template references through
// dotted tokens, restricted to the given predecessor set.
func captureRefs(tmpl *types.RequestTemplate, deps []string) [][2]string {
	depSet := make(map[string]bool, len(deps))
	for _, d := range deps {
		depSet[d] = true
	}

	var refs [][2]string
	for _, token := range tmpl.Tokens {
		step, name, ok := strings.Cut(token, ".")
		if ok && depSet[step] {
			refs = append(refs, [2]string{step, name})
		}
	}
	return refs
}

// describeRef formats a capture reference for error messages.
func describeRef(ref [2]string) string {
	return fmt.Sprintf("{{%s.%s}}", ref[0], ref[1])
}
