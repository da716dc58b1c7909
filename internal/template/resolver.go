// Package template resolves placeholder tokens in request templates into
// concrete, ready-to-send requests.
package template

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/su1ph3r/stampede/pkg/types"
)

// UniqueToken is the reserved token name that resolves to a value no two
// request instances share.
const UniqueToken = "UNIQUE"

// Errors
var (
	ErrMissingCapture = errors.New("capture not available")
	ErrNoWordlist     = errors.New("wordlist has no entries")
)

// CaptureLookup reads values published by completed workflow steps. Lookup
// returns the value captured for the given step, capture name, and request
// instance index.
type CaptureLookup interface {
	Lookup(stepID, name string, index int) (string, bool)
}

// Resolver substitutes tokens in a RequestTemplate. Token sources are
// consulted in priority order: named wordlist, the reserved UNIQUE generator,
// then cross-step captures referenced as {{step.name}}.
//
// A Resolver is safe for concurrent use; the unique generator advances
// atomically so concurrent instances never collide.
type Resolver struct {
	wordlists map[string][]string
	captures  CaptureLookup
	runID     string
	counter   atomic.Int64
}

// NewResolver creates a resolver over the given wordlists. The map may be
// nil. The run identifier embedded in unique values is freshly generated.
func NewResolver(wordlists map[string][]string) *Resolver {
	return &Resolver{
		wordlists: wordlists,
		runID:     uuid.NewString(),
	}
}

// SetCaptures attaches the capture table consulted for {{step.name}} tokens.
func (r *Resolver) SetCaptures(captures CaptureLookup) {
	r.captures = captures
}

// Resolve produces the concrete request for instance index of the template.
// Every occurrence of every bound token is replaced; tokens with no source
// are left untouched. Instance i consumes the (i mod L)-th entry of an
// L-entry wordlist. All occurrences of UNIQUE within one instance share a
// single freshly drawn value.
func (r *Resolver) Resolve(tmpl *types.RequestTemplate, stepID string, index int) (*types.PreparedRequest, error) {
	var unique string
	var resolveErr error

	replace := func(match string) string {
		name := match[2 : len(match)-2]

		if values, ok := r.wordlists[name]; ok {
			if len(values) == 0 {
				resolveErr = fmt.Errorf("%w: %s", ErrNoWordlist, name)
				return match
			}
			return values[index%len(values)]
		}

		if name == UniqueToken {
			if unique == "" {
				unique = fmt.Sprintf("%s-%d", r.runID, r.counter.Add(1))
			}
			return unique
		}

		if step, capture, ok := strings.Cut(name, "."); ok && r.captures != nil {
			value, found := r.captures.Lookup(step, capture, index)
			if !found {
				resolveErr = fmt.Errorf("%w: {{%s}} for instance %d", ErrMissingCapture, name, index)
				return match
			}
			return value
		}

		return match
	}

	apply := func(s string) string {
		return types.TokenPattern.ReplaceAllStringFunc(s, replace)
	}

	prepared := &types.PreparedRequest{
		StepID: stepID,
		Index:  index,
		Method: tmpl.Method,
	}

	path := apply(tmpl.Path)
	prepared.URL = fmt.Sprintf("%s://%s%s", tmpl.Scheme, apply(tmpl.Host), path)

	prepared.Headers = make([]types.Header, len(tmpl.Headers))
	for i, h := range tmpl.Headers {
		prepared.Headers[i] = types.Header{Name: h.Name, Value: apply(h.Value)}
	}

	if len(tmpl.Body) > 0 {
		prepared.Body = []byte(apply(string(tmpl.Body)))
	}

	if resolveErr != nil {
		return nil, resolveErr
	}
	return prepared, nil
}

// UnboundTokens returns the template tokens no source can satisfy. Useful
// for warning before a run starts; unbound tokens pass through unreplaced.
func (r *Resolver) UnboundTokens(tmpl *types.RequestTemplate) []string {
	var unbound []string
	for _, name := range tmpl.Tokens {
		if _, ok := r.wordlists[name]; ok {
			continue
		}
		if name == UniqueToken {
			continue
		}
		if _, _, ok := strings.Cut(name, "."); ok && r.captures != nil {
			continue
		}
		unbound = append(unbound, name)
	}
	return unbound
}
