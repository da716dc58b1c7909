package workflow

import "sync"

type captureKey struct {
	step string
	name string
}

type captureSlots struct {
	values  []string
	present []bool
}

// CaptureTable is the run-wide store of values extracted from step
// responses, keyed by (step id, capture name) with one slot per instance.
// Slots are written once when a step completes and read-only afterwards, so
// readers never contend with in-flight writes of the same step.
type CaptureTable struct {
	mu    sync.RWMutex
	slots map[captureKey]*captureSlots
}

// NewCaptureTable creates an empty table.
func NewCaptureTable() *CaptureTable {
	return &CaptureTable{
		slots: make(map[captureKey]*captureSlots),
	}
}

// Declare reserves count instance slots for a step's capture. Called before
// extraction so failed instances leave visible gaps.
func (t *CaptureTable) Declare(stepID, name string, count int) {
	t.mu.Lock()
	t.slots[captureKey{stepID, name}] = &captureSlots{
		values:  make([]string, count),
		present: make([]bool, count),
	}
	t.mu.Unlock()
}

// Set publishes the value extracted from one instance's response.
func (t *CaptureTable) Set(stepID, name string, index int, value string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.slots[captureKey{stepID, name}]
	if s == nil || index < 0 || index >= len(s.values) {
		return
	}
	s.values[index] = value
	s.present[index] = true
}

// Lookup resolves a capture for a successor instance. Instance i of the
// successor reads slot i mod count of the predecessor, pairing racing
// successor instances with their corresponding predecessor responses.
func (t *CaptureTable) Lookup(stepID, name string, index int) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := t.slots[captureKey{stepID, name}]
	if s == nil || len(s.values) == 0 {
		return "", false
	}
	slot := index % len(s.values)
	if !s.present[slot] {
		return "", false
	}
	return s.values[slot], true
}

// PresentCount returns how many instances published a value for a capture.
func (t *CaptureTable) PresentCount(stepID, name string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := t.slots[captureKey{stepID, name}]
	if s == nil {
		return 0
	}
	n := 0
	for _, ok := range s.present {
		if ok {
			n++
		}
	}
	return n
}
