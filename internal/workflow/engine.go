package workflow

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/su1ph3r/stampede/internal/collector"
	"github.com/su1ph3r/stampede/internal/dispatch"
	"github.com/su1ph3r/stampede/internal/logger"
	"github.com/su1ph3r/stampede/internal/template"
	"github.com/su1ph3r/stampede/pkg/types"
)

// Engine executes one workflow definition. Steps whose dependencies are
// satisfied run concurrently on independent branches; steps sharing a sync
// group are released from one common barrier.
type Engine struct {
	def      *Definition
	cfg      types.RunConfig
	resolver *template.Resolver
	captures *CaptureTable
	sink     *collector.Collector
	log      logger.Logger

	mu     sync.Mutex
	states map[string]StepState
}

// Result is the final view of a finished or cancelled workflow run.
type Result struct {
	States    map[string]StepState
	Snapshot  collector.Snapshot
	Outcomes  []types.Outcome
	Duration  time.Duration
	Cancelled bool
}

// New validates both the run configuration and the definition, and wires the
// run-wide capture table into the resolver. No network activity happens
// until Run.
func New(def *Definition, cfg types.RunConfig, resolver *template.Resolver, log logger.Logger) (*Engine, error) {
	if err := types.ValidateRunConfig(cfg); err != nil {
		return nil, err
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}

	captures := NewCaptureTable()
	resolver.SetCaptures(captures)

	states := make(map[string]StepState, len(def.Steps))
	for _, step := range def.Steps {
		states[step.ID] = StatePending
	}

	return &Engine{
		def:      def,
		cfg:      cfg,
		resolver: resolver,
		captures: captures,
		sink:     collector.New(),
		log:      log,
		states:   states,
	}, nil
}

// Collector exposes the live outcome sink for display polling.
func (e *Engine) Collector() *collector.Collector {
	return e.sink
}

// States returns a copy of the current per-step states.
func (e *Engine) States() map[string]StepState {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]StepState, len(e.states))
	for id, st := range e.states {
		out[id] = st
	}
	return out
}

func (e *Engine) state(id string) StepState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.states[id]
}

func (e *Engine) setState(id string, st StepState) {
	e.mu.Lock()
	e.states[id] = st
	e.mu.Unlock()
}

// Run drives the workflow to termination: natural completion, partial
// completion with failed branches, or cancellation. The partial result is
// returned together with the context error when cancelled.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	client := dispatch.NewClient(e.cfg)

	e.log.Info("workflow starting",
		"name", e.def.Name,
		"steps", len(e.def.Steps),
		"mode", string(e.cfg.Mode))

	start := time.Now()
	runErr := e.runStages(ctx, client)

	result := &Result{
		States:    e.States(),
		Snapshot:  e.sink.Snapshot(),
		Outcomes:  e.sink.Outcomes(),
		Duration:  time.Since(start),
		Cancelled: runErr != nil,
	}

	e.log.Info("workflow finished",
		"outcomes", result.Snapshot.Total,
		"duration", result.Duration.String(),
		"cancelled", result.Cancelled)

	return result, runErr
}

// runStages repeatedly dispatches every ready unit until no step can make
// progress. Cycle-free validation guarantees termination.
func (e *Engine) runStages(ctx context.Context, client *http.Client) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		e.propagateFailures()

		units := e.readyUnits()
		if len(units) == 0 {
			return nil
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, unit := range units {
			unit := unit
			g.Go(func() error {
				return e.dispatchUnit(gctx, client, unit)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
}

// propagateFailures fails pending steps that can never run: a dependency
// failed, or every instance of a dependency withheld a referenced capture.
func (e *Engine) propagateFailures() {
	for _, step := range e.def.Steps {
		if e.state(step.ID) != StatePending {
			continue
		}

		for _, dep := range step.DependsOn {
			if e.state(dep) == StateFailed {
				e.log.Warn("skipping step, dependency failed", "step", step.ID, "dependency", dep)
				e.setState(step.ID, StateFailed)
				break
			}
		}
		if e.state(step.ID) != StatePending {
			continue
		}

		if !e.depsCompleted(step) {
			continue
		}
		for _, ref := range captureRefs(step.Template, step.DependsOn) {
			if e.captures.PresentCount(ref[0], ref[1]) == 0 {
				e.log.Warn("skipping step, capture never produced",
					"step", step.ID, "capture", describeRef(ref))
				e.setState(step.ID, StateFailed)
				break
			}
		}
	}
}

func (e *Engine) depsCompleted(step *Step) bool {
	for _, dep := range step.DependsOn {
		if e.state(dep) != StateCompleted {
			return false
		}
	}
	return true
}

// readyUnits groups the runnable steps into dispatch units. A sync group
// only becomes a unit once every non-failed member is ready, so the shared
// barrier covers the whole group.
func (e *Engine) readyUnits() [][]*Step {
	ready := make(map[string]bool)
	for _, step := range e.def.Steps {
		if e.state(step.ID) == StatePending && e.depsCompleted(step) {
			ready[step.ID] = true
		}
	}

	var units [][]*Step
	grouped := make(map[string][]*Step)

	for _, step := range e.def.Steps {
		if !ready[step.ID] {
			continue
		}
		if step.SyncGroup == "" {
			units = append(units, []*Step{step})
			continue
		}
		grouped[step.SyncGroup] = append(grouped[step.SyncGroup], step)
	}

	for name, members := range grouped {
		if e.groupComplete(name, ready) {
			units = append(units, members)
		}
	}
	return units
}

// groupComplete reports whether every live member of a sync group is ready.
func (e *Engine) groupComplete(name string, ready map[string]bool) bool {
	for _, step := range e.def.Steps {
		if step.SyncGroup != name {
			continue
		}
		if e.state(step.ID) == StateFailed {
			continue
		}
		if !ready[step.ID] {
			return false
		}
	}
	return true
}

// dispatchUnit races all instances of the unit's steps as one slot set.
// Concurrency is widened to the unit size so a burst release puts every
// instance of every member behind the same barrier.
func (e *Engine) dispatchUnit(ctx context.Context, client *http.Client, unit []*Step) error {
	var slots []dispatch.Slot
	for _, step := range unit {
		e.setState(step.ID, StateDispatching)
		step := step
		for i := 0; i < step.Count; i++ {
			i := i
			slots = append(slots, dispatch.Slot{
				StepID: step.ID,
				Index:  i,
				Build: func() (*types.PreparedRequest, error) {
					return e.resolver.Resolve(step.Template, step.ID, i)
				},
			})
		}
	}

	unitCfg := e.cfg
	unitCfg.TotalRequests = len(slots)
	if len(unit) == 1 {
		unitCfg = applyStepOverrides(unitCfg, unit[0])
	} else {
		// Sync groups always burst so one barrier covers every member.
		unitCfg.Mode = types.ModeBurst
		unitCfg.Concurrency = len(slots)
	}
	if unitCfg.Concurrency > types.MaxConcurrency {
		unitCfg.Concurrency = types.MaxConcurrency
	}

	scheduler := dispatch.NewScheduler(unitCfg, client, e.sink, e.log)
	runErr := scheduler.Run(ctx, slots)

	for _, step := range unit {
		e.finishStep(step)
	}
	return runErr
}

// applyStepOverrides layers a step's own dispatch settings over the run
// configuration. Concurrency defaults to the step's instance count so a
// plain burst step puts every instance behind one barrier.
func applyStepOverrides(cfg types.RunConfig, step *Step) types.RunConfig {
	cfg.Concurrency = step.Count
	if step.Concurrency > 0 {
		cfg.Concurrency = step.Concurrency
	}
	if step.Mode != "" {
		cfg.Mode = step.Mode
	}
	if step.MicroDelay > 0 {
		cfg.MicroDelay = step.MicroDelay
	}
	if step.WaveSize > 0 {
		cfg.WaveSize = step.WaveSize
	}
	if step.WaveDelay > 0 {
		cfg.WaveDelay = step.WaveDelay
	}
	if step.RandomWindow > 0 {
		cfg.RandomWindow = step.RandomWindow
	}
	if cfg.Mode == types.ModeWave {
		// A step may switch to wave mode without the run config ever
		// validating wave_size; resolve anything non-positive here.
		if cfg.WaveSize < 1 || cfg.WaveSize > cfg.Concurrency {
			cfg.WaveSize = cfg.Concurrency
		}
	}
	return cfg
}

// finishStep publishes captures from the step's recorded outcomes and
// settles its terminal state. A step fails when no instance produced a
// response.
func (e *Engine) finishStep(step *Step) {
	outcomes := e.sink.StepOutcomes(step.ID)

	for i := range step.Captures {
		rule := &step.Captures[i]
		e.captures.Declare(step.ID, rule.Name, step.Count)
		for j := range outcomes {
			if value, ok := extract(rule, &outcomes[j]); ok {
				e.captures.Set(step.ID, rule.Name, outcomes[j].Index, value)
				e.sink.SetCapture(step.ID, outcomes[j].Index, rule.Name, value)
			}
		}
	}

	succeeded := 0
	for i := range outcomes {
		if outcomes[i].OK() {
			succeeded++
		}
	}

	if succeeded == 0 {
		e.log.Warn("step failed, no instance produced a response", "step", step.ID)
		e.setState(step.ID, StateFailed)
		return
	}

	e.log.Debug("step completed",
		"step", step.ID,
		"instances", len(outcomes),
		"responded", succeeded)
	e.setState(step.ID, StateCompleted)
}
