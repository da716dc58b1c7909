package types

import "time"

// ErrKind categorizes how a request slot failed. Per-request errors are
// always recorded as outcomes, never propagated across worker boundaries.
type ErrKind string

const (
	ErrKindNone ErrKind = ""
	// ErrKindConnection covers DNS, connect and TLS failures.
	ErrKindConnection ErrKind = "connection"
	// ErrKindTimeout marks a send/receive that exceeded its per-request budget.
	ErrKindTimeout ErrKind = "timeout"
	// ErrKindMissingCapture marks a substitution that referenced a capture
	// no predecessor step produced.
	ErrKindMissingCapture ErrKind = "missing_capture"
	// ErrKindCancelled marks a slot abandoned because the run was cancelled.
	ErrKindCancelled ErrKind = "cancelled"
	// ErrKindBuild marks a request that could not be constructed.
	ErrKindBuild ErrKind = "build"
)

// Outcome is one completed send. Immutable once recorded; appended exactly
// once to the collector.
type Outcome struct {
	StepID string `json:"step_id,omitempty"`
	Index  int    `json:"index"`

	// SentAt is taken from the monotonic clock immediately before the
	// send begins, so true send order can be reconstructed even though
	// collector append order reflects completion order.
	SentAt  time.Time     `json:"sent_at"`
	Elapsed time.Duration `json:"elapsed"`

	StatusCode int     `json:"status_code,omitempty"`
	ErrKind    ErrKind `json:"err_kind,omitempty"`
	Err        string  `json:"err,omitempty"`

	Headers map[string]string `json:"headers,omitempty"`

	// SetCookie keeps each Set-Cookie value unjoined; cookie attributes
	// like Expires contain commas, so the flattened header snapshot
	// cannot be split back apart reliably.
	SetCookie []string `json:"set_cookie,omitempty"`

	BodySnippet string `json:"body_snippet,omitempty"`
	BodySize    int64  `json:"body_size"`

	// Captures holds the values extracted from this response by the owning
	// workflow step's capture rules.
	Captures map[string]string `json:"captures,omitempty"`
}

// OK reports whether the slot produced a response at all.
func (o *Outcome) OK() bool {
	return o.ErrKind == ErrKindNone
}

// Success reports a 2xx response.
func (o *Outcome) Success() bool {
	return o.OK() && o.StatusCode >= 200 && o.StatusCode < 300
}
