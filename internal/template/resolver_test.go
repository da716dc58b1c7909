package template

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/su1ph3r/stampede/pkg/types"
)

type captureMap map[string]string

func (c captureMap) Lookup(stepID, name string, index int) (string, bool) {
	v, ok := c[fmt.Sprintf("%s.%s.%d", stepID, name, index)]
	return v, ok
}

func testTemplate(body string) *types.RequestTemplate {
	return &types.RequestTemplate{
		Method: "POST",
		Path:   "/api/redeem",
		Proto:  "HTTP/1.1",
		Scheme: "http",
		Host:   "example.com",
		Headers: []types.Header{
			{Name: "Host", Value: "example.com"},
			{Name: "Content-Type", Value: "application/json"},
		},
		Body:   []byte(body),
		Tokens: types.FindTokens(body),
	}
}

func TestResolveWordlistCycling(t *testing.T) {
	r := NewResolver(map[string][]string{
		"user": {"alice", "bob", "carol"},
	})
	tmpl := testTemplate(`{"user":"{{user}}"}`)

	for i := 0; i < 7; i++ {
		prepared, err := r.Resolve(tmpl, "replay", i)
		if err != nil {
			t.Fatalf("Resolve(%d) error = %v", i, err)
		}
		want := []string{"alice", "bob", "carol"}[i%3]
		if !strings.Contains(string(prepared.Body), want) {
			t.Errorf("instance %d body = %s, want entry %q", i, prepared.Body, want)
		}
	}
}

func TestResolveUniqueDistinctUnderConcurrency(t *testing.T) {
	r := NewResolver(nil)
	tmpl := testTemplate(`{"id":"{{UNIQUE}}","again":"{{UNIQUE}}"}`)

	const n = 100
	values := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			prepared, err := r.Resolve(tmpl, "replay", i)
			if err != nil {
				t.Errorf("Resolve(%d) error = %v", i, err)
				return
			}
			values[i] = string(prepared.Body)
		}(i)
	}
	wg.Wait()

	seen := make(map[string]int)
	for i, v := range values {
		if prev, dup := seen[v]; dup {
			t.Fatalf("instances %d and %d resolved identical unique bodies: %s", prev, i, v)
		}
		seen[v] = i
	}
}

func TestResolveUniqueSharedWithinInstance(t *testing.T) {
	r := NewResolver(nil)
	tmpl := testTemplate(`{"a":"{{UNIQUE}}","b":"{{UNIQUE}}"}`)

	prepared, err := r.Resolve(tmpl, "replay", 0)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	body := string(prepared.Body)
	var a, b string
	if _, err := fmt.Sscanf(body, `{"a":%q,"b":%q}`, &a, &b); err != nil {
		t.Fatalf("unexpected body shape %s: %v", body, err)
	}
	if a != b {
		t.Errorf("occurrences within one instance differ: %q vs %q", a, b)
	}
}

func TestResolveCaptureReference(t *testing.T) {
	r := NewResolver(nil)
	r.SetCaptures(captureMap{
		"login.token.0": "tok-zero",
		"login.token.1": "tok-one",
	})

	tmpl := testTemplate("")
	tmpl.Headers = append(tmpl.Headers, types.Header{Name: "Authorization", Value: "Bearer {{login.token}}"})

	for i, want := range []string{"Bearer tok-zero", "Bearer tok-one"} {
		prepared, err := r.Resolve(tmpl, "checkout", i)
		if err != nil {
			t.Fatalf("Resolve(%d) error = %v", i, err)
		}
		if got := prepared.Headers[len(prepared.Headers)-1].Value; got != want {
			t.Errorf("instance %d Authorization = %q, want %q", i, got, want)
		}
	}
}

func TestResolveMissingCapture(t *testing.T) {
	r := NewResolver(nil)
	r.SetCaptures(captureMap{})

	tmpl := testTemplate(`{"order":"{{create.order_id}}"}`)
	if _, err := r.Resolve(tmpl, "pay", 0); !errors.Is(err, ErrMissingCapture) {
		t.Errorf("Resolve() error = %v, want ErrMissingCapture", err)
	}
}

func TestResolveWordlistPriorityOverUnique(t *testing.T) {
	// A wordlist named UNIQUE shadows the generator.
	r := NewResolver(map[string][]string{
		UniqueToken: {"fixed"},
	})
	tmpl := testTemplate(`{"id":"{{UNIQUE}}"}`)

	prepared, err := r.Resolve(tmpl, "replay", 3)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if string(prepared.Body) != `{"id":"fixed"}` {
		t.Errorf("Body = %s, want wordlist value", prepared.Body)
	}
}

func TestResolveUnboundTokenPassesThrough(t *testing.T) {
	r := NewResolver(nil)
	tmpl := testTemplate(`{"x":"{{mystery}}"}`)

	prepared, err := r.Resolve(tmpl, "replay", 0)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if string(prepared.Body) != `{"x":"{{mystery}}"}` {
		t.Errorf("Body = %s, want token untouched", prepared.Body)
	}

	unbound := r.UnboundTokens(tmpl)
	if len(unbound) != 1 || unbound[0] != "mystery" {
		t.Errorf("UnboundTokens() = %v", unbound)
	}
}

func TestResolveURLSubstitution(t *testing.T) {
	r := NewResolver(map[string][]string{
		"coupon": {"SAVE10", "SAVE20"},
	})
	tmpl := testTemplate("")
	tmpl.Path = "/api/coupons/{{coupon}}/redeem"

	prepared, err := r.Resolve(tmpl, "replay", 1)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if prepared.URL != "http://example.com/api/coupons/SAVE20/redeem" {
		t.Errorf("URL = %q", prepared.URL)
	}
}
