// Package types provides core data structures for Stampede
package types

import "strings"

// Header is a single header pair. Templates keep headers as an ordered
// slice rather than a map so duplicates survive and wire order is preserved.
type Header struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

// RequestTemplate is an HTTP request with placeholder tokens, independent
// of execution mode. It is immutable once parsed; a race run only reads it.
type RequestTemplate struct {
	Method  string   `json:"method" yaml:"method"`
	Path    string   `json:"path" yaml:"path"`
	Proto   string   `json:"proto,omitempty" yaml:"proto,omitempty"`
	Scheme  string   `json:"scheme" yaml:"scheme"`
	Host    string   `json:"host" yaml:"host"`
	Headers []Header `json:"headers,omitempty" yaml:"headers,omitempty"`
	Body    []byte   `json:"body,omitempty" yaml:"body,omitempty"`

	// Tokens holds the placeholder names discovered in path, headers and
	// body at parse time, without the {{ }} delimiters.
	Tokens []string `json:"tokens,omitempty" yaml:"tokens,omitempty"`
}

// URL returns the absolute URL for the template.
func (t *RequestTemplate) URL() string {
	return t.Scheme + "://" + t.Host + t.Path
}

// HeaderValues returns every value for a header name, preserving order.
func (t *RequestTemplate) HeaderValues(name string) []string {
	var values []string
	for _, h := range t.Headers {
		if strings.EqualFold(h.Name, name) {
			values = append(values, h.Value)
		}
	}
	return values
}

// HasToken reports whether the template references the named placeholder.
func (t *RequestTemplate) HasToken(name string) bool {
	for _, tok := range t.Tokens {
		if tok == name {
			return true
		}
	}
	return false
}

// PreparedRequest is a fully substituted, ready-to-send request derived from
// a RequestTemplate plus one binding resolution. Immutable; consumed exactly
// once by the network send.
type PreparedRequest struct {
	StepID  string
	Index   int
	Method  string
	URL     string
	Headers []Header
	Body    []byte
}
