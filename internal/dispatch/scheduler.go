// Package dispatch converts prepared send slots plus a timing mode into
// tightly clustered concurrent network sends.
package dispatch

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/su1ph3r/stampede/internal/collector"
	"github.com/su1ph3r/stampede/internal/logger"
	"github.com/su1ph3r/stampede/internal/template"
	"github.com/su1ph3r/stampede/pkg/types"
)

// Slot is one send slot. Build is invoked lazily on the dispatching worker,
// ahead of the release barrier, so substitution cost never adds skew.
type Slot struct {
	StepID string
	Index  int
	Build  func() (*types.PreparedRequest, error)
}

// Scheduler drives one timing mode over a set of slots. Every slot produces
// at most one outcome in the collector; per-request failures are recorded,
// never propagated.
type Scheduler struct {
	cfg     types.RunConfig
	client  *http.Client
	limiter *RateLimiter
	sink    *collector.Collector
	log     logger.Logger
}

// NewScheduler creates a scheduler. A nil log is replaced with a no-op
// logger.
func NewScheduler(cfg types.RunConfig, client *http.Client, sink *collector.Collector, log logger.Logger) *Scheduler {
	if log == nil {
		log = logger.Nop()
	}
	return &Scheduler{
		cfg:     cfg,
		client:  client,
		limiter: NewRateLimiter(cfg.RateLimit),
		sink:    sink,
		log:     log,
	}
}

// Run dispatches all slots under the configured mode. It returns the context
// error if the run was cancelled, nil on natural completion. Cancellation is
// checked at slot acquisition; in-flight sends run to their own timeout.
func (s *Scheduler) Run(ctx context.Context, slots []Slot) error {
	s.log.Debug("dispatch starting",
		"mode", string(s.cfg.Mode),
		"slots", len(slots),
		"concurrency", s.cfg.Concurrency)

	switch s.cfg.Mode {
	case types.ModeWave:
		return s.runGrouped(ctx, slots, s.cfg.WaveSize, s.cfg.WaveDelay)
	case types.ModeRandom:
		return s.runRandom(ctx, slots)
	default:
		return s.runGrouped(ctx, slots, s.cfg.Concurrency, 0)
	}
}

// runGrouped releases slots in groups of groupSize, each group synchronized
// on its own barrier. Burst mode is the degenerate case with no pause
// between groups.
func (s *Scheduler) runGrouped(ctx context.Context, slots []Slot, groupSize int, pause time.Duration) error {
	// A non-positive group size would never advance the loop.
	if groupSize < 1 {
		groupSize = len(slots)
	}
	for off := 0; off < len(slots); off += groupSize {
		if err := ctx.Err(); err != nil {
			return err
		}

		end := off + groupSize
		if end > len(slots) {
			end = len(slots)
		}
		s.releaseGroup(ctx, slots[off:end])

		if pause > 0 && end < len(slots) {
			if !sleepCtx(ctx, pause) {
				return ctx.Err()
			}
		}
	}
	return ctx.Err()
}

// releaseGroup parks one worker per slot at a fresh barrier and releases
// them together. Substitution and rate limiting happen before a worker
// arrives, so barrier release is immediately followed by the send.
func (s *Scheduler) releaseGroup(ctx context.Context, group []Slot) {
	barrier := NewBarrier(len(group))

	var wg sync.WaitGroup
	for _, slot := range group {
		wg.Add(1)
		go func(slot Slot) {
			defer wg.Done()

			prepared, buildErr := s.prepare(ctx, slot)

			if err := barrier.Await(ctx); err != nil {
				s.sink.Append(types.Outcome{
					StepID:  slot.StepID,
					Index:   slot.Index,
					ErrKind: types.ErrKindCancelled,
					Err:     err.Error(),
				})
				return
			}

			if buildErr != nil {
				s.sink.Append(buildOutcome(slot, buildErr))
				return
			}

			if s.cfg.MicroDelay > 0 {
				time.Sleep(s.cfg.MicroDelay)
			}
			s.sink.Append(s.send(ctx, prepared))
		}(slot)
	}
	wg.Wait()
}

// runRandom spreads sends across the configured window, each slot delayed by
// an independently drawn offset. No barrier; concurrency is still bounded.
func (s *Scheduler) runRandom(ctx context.Context, slots []Slot) error {
	sem := make(chan struct{}, s.cfg.Concurrency)

	var wg sync.WaitGroup
	for _, slot := range slots {
		select {
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(slot Slot) {
			defer wg.Done()
			defer func() { <-sem }()

			delay := time.Duration(rand.Int63n(int64(s.cfg.RandomWindow)))
			if !sleepCtx(ctx, delay) {
				s.sink.Append(types.Outcome{
					StepID:  slot.StepID,
					Index:   slot.Index,
					ErrKind: types.ErrKindCancelled,
					Err:     ctx.Err().Error(),
				})
				return
			}

			prepared, err := s.prepare(ctx, slot)
			if err != nil {
				s.sink.Append(buildOutcome(slot, err))
				return
			}

			if s.cfg.MicroDelay > 0 {
				time.Sleep(s.cfg.MicroDelay)
			}
			s.sink.Append(s.send(ctx, prepared))
		}(slot)
	}

	wg.Wait()
	return ctx.Err()
}

func (s *Scheduler) prepare(ctx context.Context, slot Slot) (*types.PreparedRequest, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return slot.Build()
}

// buildOutcome records a slot whose request could not be constructed.
func buildOutcome(slot Slot, err error) types.Outcome {
	kind := types.ErrKindBuild
	switch {
	case errors.Is(err, template.ErrMissingCapture):
		kind = types.ErrKindMissingCapture
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		kind = types.ErrKindCancelled
	}
	return types.Outcome{
		StepID:  slot.StepID,
		Index:   slot.Index,
		ErrKind: kind,
		Err:     err.Error(),
	}
}

// sleepCtx pauses for d, returning false if the context was cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
