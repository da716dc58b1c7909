package workflow

import (
	"regexp"
	"testing"

	"github.com/su1ph3r/stampede/pkg/types"
)

func okOutcome(status int, headers map[string]string, body string) *types.Outcome {
	return &types.Outcome{
		StatusCode:  status,
		Headers:     headers,
		BodySnippet: body,
	}
}

func TestExtractStatus(t *testing.T) {
	rule := &CaptureRule{Name: "code", Type: CaptureStatus}
	got, ok := extract(rule, okOutcome(201, nil, ""))
	if !ok || got != "201" {
		t.Errorf("extract(status) = %q,%v", got, ok)
	}
}

func TestExtractHeader(t *testing.T) {
	rule := &CaptureRule{Name: "loc", Type: CaptureHeader, Path: "location"}
	headers := map[string]string{"Location": "/orders/42"}

	got, ok := extract(rule, okOutcome(302, headers, ""))
	if !ok || got != "/orders/42" {
		t.Errorf("extract(header) = %q,%v", got, ok)
	}

	if _, ok := extract(rule, okOutcome(200, nil, "")); ok {
		t.Error("extract(header) matched with no headers")
	}
}

func TestExtractCookie(t *testing.T) {
	o := &types.Outcome{
		StatusCode: 200,
		SetCookie: []string{
			"session=abc123; Path=/; HttpOnly",
			"theme=dark; Path=/",
		},
	}

	rule := &CaptureRule{Name: "sid", Type: CaptureCookie, Path: "session"}
	got, ok := extract(rule, o)
	if !ok || got != "abc123" {
		t.Errorf("extract(cookie) = %q,%v", got, ok)
	}

	other := &CaptureRule{Name: "theme", Type: CaptureCookie, Path: "theme"}
	got, ok = extract(other, o)
	if !ok || got != "dark" {
		t.Errorf("extract(cookie theme) = %q,%v", got, ok)
	}

	if _, ok := extract(rule, okOutcome(200, nil, "")); ok {
		t.Error("extract(cookie) matched with no Set-Cookie headers")
	}
}

func TestExtractCookieAfterExpiresAttribute(t *testing.T) {
	// The Expires attribute carries a comma; a cookie recorded after one
	// must still be found.
	o := &types.Outcome{
		StatusCode: 200,
		SetCookie: []string{
			"legacy=1; Expires=Wed, 21 Oct 2026 07:28:00 GMT; Path=/",
			"sid=s-99; HttpOnly",
		},
	}

	rule := &CaptureRule{Name: "sid", Type: CaptureCookie, Path: "sid"}
	got, ok := extract(rule, o)
	if !ok || got != "s-99" {
		t.Errorf("extract(cookie sid) = %q,%v", got, ok)
	}
}

func TestExtractRegex(t *testing.T) {
	rule := &CaptureRule{
		Name:     "id",
		Type:     CaptureRegex,
		Pattern:  `"order_id":"([a-z0-9-]+)"`,
		compiled: regexp.MustCompile(`"order_id":"([a-z0-9-]+)"`),
	}

	got, ok := extract(rule, okOutcome(200, nil, `{"order_id":"ord-77","total":5}`))
	if !ok || got != "ord-77" {
		t.Errorf("extract(regex) = %q,%v", got, ok)
	}

	if _, ok := extract(rule, okOutcome(200, nil, `{}`)); ok {
		t.Error("extract(regex) matched empty body")
	}
}

func TestExtractJSON(t *testing.T) {
	body := `{"data":{"order":{"id":"ord-9","total":12.5,"paid":false}},"items":[{"sku":"a1"}]}`

	tests := []struct {
		path string
		want string
	}{
		{"$.data.order.id", "ord-9"},
		{"$.data.order.total", "12.5"},
		{"$.data.order.paid", "false"},
		{"$.items.0.sku", "a1"},
	}
	for _, tt := range tests {
		rule := &CaptureRule{Name: "v", Type: CaptureJSON, Path: tt.path}
		got, ok := extract(rule, okOutcome(200, nil, body))
		if !ok || got != tt.want {
			t.Errorf("extract(json %s) = %q,%v want %q", tt.path, got, ok, tt.want)
		}
	}

	rule := &CaptureRule{Name: "v", Type: CaptureJSON, Path: "$.nope"}
	if _, ok := extract(rule, okOutcome(200, nil, body)); ok {
		t.Error("extract(json) found missing field")
	}
}

func TestExtractSkipsFailedOutcomes(t *testing.T) {
	rule := &CaptureRule{Name: "code", Type: CaptureStatus}
	failed := &types.Outcome{ErrKind: types.ErrKindTimeout}

	if _, ok := extract(rule, failed); ok {
		t.Error("extract() produced a value from a failed outcome")
	}
}
