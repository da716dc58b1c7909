// Package parser turns raw HTTP request text and wordlist files into the
// engine's input types.
package parser

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/su1ph3r/stampede/pkg/types"
)

// Errors
var (
	ErrInvalidRequest = errors.New("invalid raw request")
	ErrMissingHost    = errors.New("host header is required")
	ErrParseFailed    = errors.New("failed to parse input")
)

// httpMethods is the set of request methods accepted on the request line.
var httpMethods = map[string]bool{
	"GET":     true,
	"POST":    true,
	"PUT":     true,
	"PATCH":   true,
	"DELETE":  true,
	"HEAD":    true,
	"OPTIONS": true,
	"TRACE":   true,
}

// ParseRequest parses a raw HTTP request, as pasted from an intercepting
// proxy, into a RequestTemplate. Header order is preserved and duplicate
// header names are kept. The scheme is inferred: an X-Forwarded-Proto header
// wins, then a :443 host suffix, otherwise http.
func ParseRequest(raw string) (*types.RequestTemplate, error) {
	lines := strings.Split(raw, "\r\n")
	if len(lines) == 1 {
		lines = strings.Split(raw, "\n")
	}
	if len(lines) == 0 || strings.TrimSpace(lines[0]) == "" {
		return nil, fmt.Errorf("%w: empty request", ErrInvalidRequest)
	}

	method, path, proto, err := parseRequestLine(lines[0])
	if err != nil {
		return nil, err
	}

	tmpl := &types.RequestTemplate{
		Method: method,
		Path:   path,
		Proto:  proto,
	}

	bodyStart := len(lines)
	for i := 1; i < len(lines); i++ {
		line := lines[i]
		if strings.TrimSpace(line) == "" {
			bodyStart = i + 1
			break
		}

		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("%w: malformed header line %q", ErrInvalidRequest, line)
		}
		tmpl.Headers = append(tmpl.Headers, types.Header{
			Name:  strings.TrimSpace(name),
			Value: strings.TrimSpace(value),
		})
	}

	if bodyStart < len(lines) {
		tmpl.Body = []byte(strings.Join(lines[bodyStart:], "\n"))
	}

	hosts := tmpl.HeaderValues("Host")
	if len(hosts) == 0 || hosts[0] == "" {
		return nil, ErrMissingHost
	}
	tmpl.Host = hosts[0]
	tmpl.Scheme = inferScheme(tmpl)
	tmpl.Tokens = discoverTokens(tmpl)

	return tmpl, nil
}

// ParseRequestFile reads and parses a raw request from a file.
func ParseRequestFile(path string) (*types.RequestTemplate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParseFailed, err)
	}
	return ParseRequest(string(data))
}

func parseRequestLine(line string) (method, path, proto string, err error) {
	parts := strings.Fields(line)
	if len(parts) < 2 {
		return "", "", "", fmt.Errorf("%w: bad request line %q", ErrInvalidRequest, line)
	}

	method = strings.ToUpper(parts[0])
	if !httpMethods[method] {
		return "", "", "", fmt.Errorf("%w: unknown method %q", ErrInvalidRequest, parts[0])
	}

	path = parts[1]
	proto = "HTTP/1.1"
	if len(parts) >= 3 {
		proto = parts[2]
	}
	return method, path, proto, nil
}

func inferScheme(tmpl *types.RequestTemplate) string {
	if forwarded := tmpl.HeaderValues("X-Forwarded-Proto"); len(forwarded) > 0 && forwarded[0] == "https" {
		return "https"
	}
	if strings.HasSuffix(tmpl.Host, ":443") {
		return "https"
	}
	return "http"
}

// discoverTokens collects the distinct token names across path, header
// values, and body.
func discoverTokens(tmpl *types.RequestTemplate) []string {
	var tokens []string
	seen := make(map[string]bool)
	add := func(names []string) {
		for _, name := range names {
			if !seen[name] {
				seen[name] = true
				tokens = append(tokens, name)
			}
		}
	}

	add(types.FindTokens(tmpl.Path))
	for _, h := range tmpl.Headers {
		add(types.FindTokens(h.Value))
	}
	add(types.FindTokens(string(tmpl.Body)))
	return tokens
}
