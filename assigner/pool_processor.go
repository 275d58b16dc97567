// Copyright 2025 LinguaFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package assigner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"linguaflow/platform/shared/logger"
)

// poolSource is the slice of the pool repository the processor consumes
type poolSource interface {
	PeekReady(ctx context.Context, now time.Time, lookahead time.Duration, limit int) ([]Booking, error)
	Claim(ctx context.Context, bookingID int64, version int) (bool, error)
	Fail(ctx context.Context, bookingID int64) error
	Release(ctx context.Context, bookingID int64) error
	UncountAttempt(ctx context.Context, bookingID int64) error
	Stats(ctx context.Context) (*PoolStats, error)
}

// bookingAssigner is the single entry point the processor drives per entry
type bookingAssigner interface {
	AssignBooking(ctx context.Context, bookingID int64, requestID string) (*AssignmentResult, error)
}

// TickReport summarises one pool-processing pass
type TickReport struct {
	TickID        string        `json:"tickId"`
	StartedAt     time.Time     `json:"startedAt"`
	Duration      time.Duration `json:"duration"`
	Peeked        int           `json:"peeked"`
	Claimed       int           `json:"claimed"`
	Skipped       int           `json:"skipped"` // lost the claim race
	Assigned      int           `json:"assigned"`
	Pooled        int           `json:"pooled"`
	Escalated     int           `json:"escalated"`
	Failed        int           `json:"failed"`
	BudgetExpired bool          `json:"budgetExpired"`
}

// PoolProcessor drains ready pool entries in priority order. Each entry is
// claimed before processing so concurrent processors never double-run a
// booking; losing a claim is normal and counted as a skip.
type PoolProcessor struct {
	pool     poolSource
	runner   bookingAssigner
	policies policySource
	cfg      EngineConfig
	log      *logger.Logger
	now      func() time.Time

	mu      sync.Mutex // serialises ticks within this process
	running bool
}

func NewPoolProcessor(pool poolSource, runner bookingAssigner, policies policySource, cfg EngineConfig) *PoolProcessor {
	return &PoolProcessor{
		pool:     pool,
		runner:   runner,
		policies: policies,
		cfg:      cfg,
		log:      logger.New("pool-processor"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ProcessTick runs one full pass: peek ready entries within the active
// mode's lookahead, claim each, and run the assignment path. The pass stops
// early when the tick budget expires; unprocessed claims are released.
func (p *PoolProcessor) ProcessTick(ctx context.Context) (*TickReport, error) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil, NewEngineError(ReasonProcessingFailed, "pool tick already in progress")
	}
	p.running = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	started := p.now()
	report := &TickReport{
		TickID:    uuid.New().String(),
		StartedAt: started,
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.TickBudget)
	defer cancel()

	policy, err := p.policies.LoadPolicy(ctx)
	if err != nil {
		return report, err
	}
	mode := ModeNormal
	if policy != nil {
		mode = policy.Mode
	}
	lookahead := ModeLookahead(mode, p.cfg.CustomLookahead)

	entries, err := p.pool.PeekReady(ctx, started, lookahead, p.cfg.BatchSize)
	if err != nil {
		return report, fmt.Errorf("failed to peek pool: %w", err)
	}
	report.Peeked = len(entries)
	if len(entries) == 0 {
		report.Duration = p.now().Sub(started)
		promTickDuration.Observe(report.Duration.Seconds())
		return report, nil
	}

	workers := 1
	if mode == ModeCustom && p.cfg.Parallelism > 1 {
		workers = p.cfg.Parallelism
	}

	if workers == 1 {
		p.drainSequential(ctx, entries, report)
	} else {
		p.drainParallel(ctx, entries, report, workers)
	}

	report.Duration = p.now().Sub(started)
	promTickDuration.Observe(report.Duration.Seconds())

	if stats, serr := p.pool.Stats(context.Background()); serr == nil {
		updatePoolDepthMetrics(stats)
	}

	p.log.Info("", report.TickID, "Pool tick complete", map[string]interface{}{
		"peeked":    report.Peeked,
		"claimed":   report.Claimed,
		"assigned":  report.Assigned,
		"escalated": report.Escalated,
		"failed":    report.Failed,
		"durationMs": report.Duration.Milliseconds(),
	})
	return report, nil
}

// drainSequential preserves strict priority order: entry N+1 starts only
// after entry N finishes.
func (p *PoolProcessor) drainSequential(ctx context.Context, entries []Booking, report *TickReport) {
	for i := range entries {
		if ctx.Err() != nil {
			report.BudgetExpired = true
			return
		}
		p.processOne(ctx, &entries[i], report, nil)
	}
}

// drainParallel runs a bounded worker pool over the batch. Order within the
// batch is already priority-sorted; claims keep the workers disjoint.
func (p *PoolProcessor) drainParallel(ctx context.Context, entries []Booking, report *TickReport, workers int) {
	var mu sync.Mutex
	var wg sync.WaitGroup
	jobs := make(chan *Booking)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for b := range jobs {
				p.processOne(ctx, b, report, &mu)
			}
		}()
	}

	for i := range entries {
		if ctx.Err() != nil {
			mu.Lock()
			report.BudgetExpired = true
			mu.Unlock()
			break
		}
		jobs <- &entries[i]
	}
	close(jobs)
	wg.Wait()
}

// processOne claims and runs a single pool entry. mu guards report counters
// in the parallel path; nil in the sequential path.
func (p *PoolProcessor) processOne(ctx context.Context, booking *Booking, report *TickReport, mu *sync.Mutex) {
	count := func(f func()) {
		if mu != nil {
			mu.Lock()
			defer mu.Unlock()
		}
		f()
	}

	claimed, err := p.pool.Claim(ctx, booking.ID, booking.Version)
	if err != nil {
		count(func() { report.Failed++ })
		p.log.ErrorWithReason(fmt.Sprintf("%d", booking.ID), report.TickID,
			"Failed to claim pool entry", string(ReasonTransientIO), err, nil)
		return
	}
	if !claimed {
		count(func() { report.Skipped++ })
		return
	}
	count(func() { report.Claimed++ })

	result, err := p.runner.AssignBooking(ctx, booking.ID, report.TickID)
	if err != nil {
		// Cleanup writes must land even when the tick budget has expired.
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		// Transient failures go back to waiting for the next tick; anything
		// else parks the entry as failed for the recovery sweep.
		if IsTransient(err) || ctx.Err() != nil {
			if rerr := p.pool.Release(cleanupCtx, booking.ID); rerr != nil {
				p.log.ErrorWithReason(fmt.Sprintf("%d", booking.ID), report.TickID,
					"Failed to release pool entry", string(ReasonTransientIO), rerr, nil)
			}
		} else {
			if ferr := p.pool.Fail(cleanupCtx, booking.ID); ferr != nil {
				p.log.ErrorWithReason(fmt.Sprintf("%d", booking.ID), report.TickID,
					"Failed to park pool entry", string(ReasonTransientIO), ferr, nil)
			}
		}
		count(func() { report.Failed++ })
		p.log.ErrorWithReason(fmt.Sprintf("%d", booking.ID), report.TickID,
			"Pool entry processing failed", string(CodeOf(err)), err, nil)
		return
	}

	count(func() {
		switch result.Status {
		case "assigned", "noop":
			report.Assigned++
		case "pooled":
			report.Pooled++
		case "escalated":
			report.Escalated++
		}
	})

	// A lookahead re-pool is not a failed attempt; reverse the claim's
	// increment so healthy entries never trip the excessive-retries sweep.
	if result.Status == "pooled" {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if uerr := p.pool.UncountAttempt(cleanupCtx, booking.ID); uerr != nil {
			p.log.ErrorWithReason(fmt.Sprintf("%d", booking.ID), report.TickID,
				"Failed to uncount re-pool attempt", string(ReasonTransientIO), uerr, nil)
		}
	}
}
