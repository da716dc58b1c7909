// Package workflow runs multi-step races: a small DAG of request templates
// with per-step concurrency, inter-step value capture, and barrier-aligned
// release of steps meant to collide.
package workflow

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/su1ph3r/stampede/pkg/types"
)

// StepState is the lifecycle of one workflow step.
type StepState string

const (
	// StatePending means dependencies are not yet satisfied.
	StatePending StepState = "pending"
	// StateDispatching means the step's slots are being released.
	StateDispatching StepState = "dispatching"
	// StateCompleted means all instances ran and at least one produced a
	// response.
	StateCompleted StepState = "completed"
	// StateFailed means every instance failed, or a predecessor could not
	// supply a capture this step references. Failed steps are skipped,
	// never retried; independent branches continue.
	StateFailed StepState = "failed"
)

// Capture rule types.
const (
	CaptureStatus = "status"
	CaptureHeader = "header"
	CaptureCookie = "cookie"
	CaptureRegex  = "regex"
	CaptureJSON   = "json"
)

// CaptureRule names an extraction from a step's responses. Captured values
// are published per instance and consumed by later steps as {{step.name}}.
type CaptureRule struct {
	Name    string `yaml:"name" json:"name"`
	Type    string `yaml:"type" json:"type"`
	Path    string `yaml:"path,omitempty" json:"path,omitempty"`       // header/cookie name or JSON path
	Pattern string `yaml:"pattern,omitempty" json:"pattern,omitempty"` // regex with optional capture group

	compiled *regexp.Regexp
}

// Step is one node of the workflow graph.
type Step struct {
	ID       string                 `yaml:"id" json:"id"`
	Name     string                 `yaml:"name,omitempty" json:"name,omitempty"`
	Template *types.RequestTemplate `yaml:"-" json:"-"`

	// Count is how many concurrent instances of this step's request are
	// raced against each other.
	Count int `yaml:"count" json:"count"`

	// Mode, Concurrency and the timing fields override the run
	// configuration for this step's own dispatch. They are ignored for
	// steps in a sync group, which always burst from the shared barrier.
	Mode         types.Mode    `yaml:"mode,omitempty" json:"mode,omitempty"`
	Concurrency  int           `yaml:"concurrency,omitempty" json:"concurrency,omitempty"`
	MicroDelay   time.Duration `yaml:"-" json:"micro_delay,omitempty"`
	WaveSize     int           `yaml:"wave_size,omitempty" json:"wave_size,omitempty"`
	WaveDelay    time.Duration `yaml:"-" json:"wave_delay,omitempty"`
	RandomWindow time.Duration `yaml:"-" json:"random_window,omitempty"`

	// DependsOn lists steps whose outcomes and captures must be fully
	// recorded before this step may begin.
	DependsOn []string `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`

	// SyncGroup names a release group. Steps sharing a group are held at
	// one common barrier and fire together even though their templates
	// differ. Group members must not depend on each other.
	SyncGroup string `yaml:"sync_group,omitempty" json:"sync_group,omitempty"`

	Captures []CaptureRule `yaml:"captures,omitempty" json:"captures,omitempty"`
}

// Definition is a validated workflow.
type Definition struct {
	Name  string  `yaml:"name" json:"name"`
	Steps []*Step `yaml:"steps" json:"steps"`
}

// Errors
var (
	ErrInvalidWorkflow = errors.New("invalid workflow")
	ErrCyclicWorkflow  = errors.New("workflow graph contains a cycle")
)

// Validate checks the definition before any network activity: unique step
// ids, resolvable dependencies, acyclic graph, legal sync groups, and
// compilable capture rules. Validation mutates capture rules by caching
// their compiled patterns.
func (d *Definition) Validate() error {
	if len(d.Steps) == 0 {
		return fmt.Errorf("%w: no steps", ErrInvalidWorkflow)
	}

	byID := make(map[string]*Step, len(d.Steps))
	for _, step := range d.Steps {
		if step.ID == "" {
			return fmt.Errorf("%w: step with empty id", ErrInvalidWorkflow)
		}
		if strings.Contains(step.ID, ".") {
			return fmt.Errorf("%w: step id %q may not contain '.'", ErrInvalidWorkflow, step.ID)
		}
		if _, dup := byID[step.ID]; dup {
			return fmt.Errorf("%w: duplicate step id %q", ErrInvalidWorkflow, step.ID)
		}
		byID[step.ID] = step

		if step.Template == nil {
			return fmt.Errorf("%w: step %q has no request template", ErrInvalidWorkflow, step.ID)
		}
		if step.Count < 1 {
			step.Count = 1
		}
		if step.Count > types.MaxConcurrency {
			return fmt.Errorf("%w: step %q count %d exceeds %d", ErrInvalidWorkflow, step.ID, step.Count, types.MaxConcurrency)
		}
		if step.Name == "" {
			step.Name = step.ID
		}
		if err := step.checkOverrides(); err != nil {
			return err
		}

		for i := range step.Captures {
			if err := step.Captures[i].compile(step.ID); err != nil {
				return err
			}
		}
	}

	for _, step := range d.Steps {
		for _, dep := range step.DependsOn {
			if _, ok := byID[dep]; !ok {
				return fmt.Errorf("%w: step %q depends on unknown step %q", ErrInvalidWorkflow, step.ID, dep)
			}
			if dep == step.ID {
				return fmt.Errorf("%w: step %q depends on itself", ErrInvalidWorkflow, step.ID)
			}
		}
	}

	if err := d.checkAcyclic(byID); err != nil {
		return err
	}
	return d.checkSyncGroups(byID)
}

// checkOverrides validates the step's own dispatch settings. Sync group
// members may not override mode or timing since the whole group releases
// from one barrier.
func (s *Step) checkOverrides() error {
	if s.SyncGroup != "" {
		if s.Mode != "" || s.Concurrency != 0 || s.MicroDelay != 0 ||
			s.WaveSize != 0 || s.WaveDelay != 0 || s.RandomWindow != 0 {
			return fmt.Errorf("%w: step %q is in sync group %q and may not override dispatch settings",
				ErrInvalidWorkflow, s.ID, s.SyncGroup)
		}
		return nil
	}
	switch s.Mode {
	case "", types.ModeBurst, types.ModeWave, types.ModeRandom:
	default:
		return fmt.Errorf("%w: step %q has unknown mode %q", ErrInvalidWorkflow, s.ID, s.Mode)
	}
	if s.Concurrency < 0 || s.Concurrency > types.MaxConcurrency {
		return fmt.Errorf("%w: step %q concurrency %d out of range", ErrInvalidWorkflow, s.ID, s.Concurrency)
	}
	if s.MicroDelay < 0 || s.WaveDelay < 0 || s.RandomWindow < 0 {
		return fmt.Errorf("%w: step %q has a negative delay", ErrInvalidWorkflow, s.ID)
	}
	if s.Mode == types.ModeRandom && s.RandomWindow == 0 {
		return fmt.Errorf("%w: step %q uses random mode without random_window", ErrInvalidWorkflow, s.ID)
	}
	return nil
}

func (r *CaptureRule) compile(stepID string) error {
	if r.Name == "" {
		return fmt.Errorf("%w: step %q has a capture with no name", ErrInvalidWorkflow, stepID)
	}
	switch r.Type {
	case CaptureStatus:
	case CaptureHeader, CaptureCookie, CaptureJSON:
		if r.Path == "" {
			return fmt.Errorf("%w: step %q capture %q needs a path", ErrInvalidWorkflow, stepID, r.Name)
		}
	case CaptureRegex:
		if r.Pattern == "" {
			return fmt.Errorf("%w: step %q capture %q needs a pattern", ErrInvalidWorkflow, stepID, r.Name)
		}
		compiled, err := regexp.Compile(r.Pattern)
		if err != nil {
			return fmt.Errorf("%w: step %q capture %q: %v", ErrInvalidWorkflow, stepID, r.Name, err)
		}
		r.compiled = compiled
	default:
		return fmt.Errorf("%w: step %q capture %q has unknown type %q", ErrInvalidWorkflow, stepID, r.Name, r.Type)
	}
	return nil
}

// checkAcyclic runs a three-color depth-first search over the dependency
// edges.
func (d *Definition) checkAcyclic(byID map[string]*Step) error {
	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[string]int, len(byID))

	var visit func(id string) error
	visit = func(id string) error {
		switch color[id] {
		case grey:
			return fmt.Errorf("%w: at step %q", ErrCyclicWorkflow, id)
		case black:
			return nil
		}
		color[id] = grey
		for _, dep := range byID[id].DependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}
		color[id] = black
		return nil
	}

	for id := range byID {
		if err := visit(id); err != nil {
			return err
		}
	}
	return nil
}

// checkSyncGroups rejects groups whose members depend on each other: a step
// cannot both wait for and fire together with another.
func (d *Definition) checkSyncGroups(byID map[string]*Step) error {
	groups := make(map[string][]*Step)
	for _, step := range d.Steps {
		if step.SyncGroup != "" {
			groups[step.SyncGroup] = append(groups[step.SyncGroup], step)
		}
	}

	for name, members := range groups {
		ids := make(map[string]bool, len(members))
		for _, m := range members {
			ids[m.ID] = true
		}
		for _, m := range members {
			for _, dep := range m.DependsOn {
				if ids[dep] {
					return fmt.Errorf("%w: sync group %q: step %q depends on group member %q",
						ErrInvalidWorkflow, name, m.ID, dep)
				}
			}
		}
	}
	return nil
}

// step returns the step with the given id, or nil.
func (d *Definition) step(id string) *Step {
	for _, s := range d.Steps {
		if s.ID == id {
			return s
		}
	}
	return nil
}
