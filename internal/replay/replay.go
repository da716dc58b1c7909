// Package replay runs single-template races: N substituted copies of one
// request dispatched as one swarm.
package replay

import (
	"context"
	"time"

	"github.com/su1ph3r/stampede/internal/collector"
	"github.com/su1ph3r/stampede/internal/dispatch"
	"github.com/su1ph3r/stampede/internal/logger"
	"github.com/su1ph3r/stampede/internal/template"
	"github.com/su1ph3r/stampede/pkg/types"
)

// StepID tagged on every replay outcome.
const StepID = "replay"

// Engine executes one replay race per Run call.
type Engine struct {
	cfg      types.RunConfig
	resolver *template.Resolver
	sink     *collector.Collector
	log      logger.Logger
}

// Result is the final view of a finished or cancelled run.
type Result struct {
	Snapshot  collector.Snapshot
	Outcomes  []types.Outcome
	Duration  time.Duration
	Cancelled bool
}

// New validates the configuration and creates an engine. The collector is
// created here so callers can poll live aggregates while a run is in flight.
func New(cfg types.RunConfig, resolver *template.Resolver, log logger.Logger) (*Engine, error) {
	if err := types.ValidateRunConfig(cfg); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Engine{
		cfg:      cfg,
		resolver: resolver,
		sink:     collector.New(),
		log:      log,
	}, nil
}

// Collector exposes the live outcome sink for display polling.
func (e *Engine) Collector() *collector.Collector {
	return e.sink
}

// Run builds one slot per configured request and dispatches them under the
// configured timing mode. On cancellation the partial result is returned
// together with the context error.
func (e *Engine) Run(ctx context.Context, tmpl *types.RequestTemplate) (*Result, error) {
	if unbound := e.resolver.UnboundTokens(tmpl); len(unbound) > 0 {
		e.log.Warn("template has unbound tokens, they will be sent literally", "tokens", unbound)
	}

	slots := make([]dispatch.Slot, e.cfg.TotalRequests)
	for i := 0; i < e.cfg.TotalRequests; i++ {
		i := i
		slots[i] = dispatch.Slot{
			StepID: StepID,
			Index:  i,
			Build: func() (*types.PreparedRequest, error) {
				return e.resolver.Resolve(tmpl, StepID, i)
			},
		}
	}

	scheduler := dispatch.NewScheduler(e.cfg, dispatch.NewClient(e.cfg), e.sink, e.log)

	e.log.Info("replay race starting",
		"target", tmpl.URL(),
		"mode", string(e.cfg.Mode),
		"total", e.cfg.TotalRequests,
		"concurrency", e.cfg.Concurrency)

	start := time.Now()
	runErr := scheduler.Run(ctx, slots)

	result := &Result{
		Snapshot:  e.sink.Snapshot(),
		Outcomes:  e.sink.Outcomes(),
		Duration:  time.Since(start),
		Cancelled: runErr != nil,
	}

	e.log.Info("replay race finished",
		"outcomes", result.Snapshot.Total,
		"duration", result.Duration.String(),
		"cancelled", result.Cancelled)

	return result, runErr
}
