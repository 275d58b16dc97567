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

// emergencyPoolSource extends the processor's view with the full-pool scan
// the emergency drain needs.
type emergencyPoolSource interface {
	poolSource
	AllEntries(ctx context.Context) ([]Booking, error)
}

// emergencyRunStore persists the run-level audit record
type emergencyRunStore interface {
	Record(ctx context.Context, report *EmergencyReport) error
}

const (
	emergencyRetryLimit = 5
	emergencyBaseDelay  = 500 * time.Millisecond
	emergencyMaxDelay   = 8 * time.Second
)

// EmergencyEntryResult is the per-booking line of an emergency report
type EmergencyEntryResult struct {
	BookingID                int64      `json:"bookingId"`
	Status                   string     `json:"status"`
	InterpreterEmpCode       string     `json:"interpreterId,omitempty"`
	Attempts                 int        `json:"attempts"`
	Bucket                   int        `json:"priorityBucket"`
	TimeToDeadlineMs         *int64     `json:"timeToDeadlineMs,omitempty"`
	ManualAssignmentRequired bool       `json:"manualAssignmentRequired"`
	ReasonCode               ReasonCode `json:"reasonCode,omitempty"`
	Error                    string     `json:"error,omitempty"`
}

// EmergencyReport summarises a full emergency drain
type EmergencyReport struct {
	RunID       string                 `json:"runId"`
	TriggeredBy string                 `json:"triggeredBy"`
	Reason      string                 `json:"reason,omitempty"`
	StartedAt   time.Time              `json:"startedAt"`
	Duration    time.Duration          `json:"duration"`
	Total       int                    `json:"total"`
	Assigned    int                    `json:"assigned"`
	Escalated   int                    `json:"escalated"`
	Failed      int                    `json:"failed"`
	Skipped     int                    `json:"skipped"`
	StatsBefore *PoolStats             `json:"statsBefore,omitempty"`
	StatsAfter  *PoolStats             `json:"statsAfter,omitempty"`
	Entries     []EmergencyEntryResult `json:"entries"`
}

// EmergencyProcessor drains the ENTIRE pool immediately, ignoring deadlines
// and lookahead windows. It exists for operator intervention when the
// scheduled pipeline has fallen behind; every run is audited with the
// triggering admin.
type EmergencyProcessor struct {
	pool    emergencyPoolSource
	runner  bookingAssigner
	history *PoolHistoryRepository
	runs    emergencyRunStore
	log     *logger.Logger
	now     func() time.Time

	mu      sync.Mutex // at most one drain at a time
	running bool

	sleep func(context.Context, time.Duration) error
}

func NewEmergencyProcessor(pool emergencyPoolSource, runner bookingAssigner, history *PoolHistoryRepository, runs emergencyRunStore) *EmergencyProcessor {
	return &EmergencyProcessor{
		pool:    pool,
		runner:  runner,
		history: history,
		runs:    runs,
		log:     logger.New("emergency"),
		now:     func() time.Time { return time.Now().UTC() },
		sleep: func(ctx context.Context, d time.Duration) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d):
				return nil
			}
		},
	}
}

// Drain processes every waiting, failed or ready entry in recomputed
// priority order. Unlike the scheduled path, each entry gets up to five
// attempts with exponential backoff before it is parked.
func (e *EmergencyProcessor) Drain(ctx context.Context, triggeredBy, reason string) (*EmergencyReport, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, NewEngineError(ReasonProcessingFailed, "emergency drain already in progress")
	}
	e.running = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	started := e.now()
	report := &EmergencyReport{
		RunID:       uuid.New().String(),
		TriggeredBy: triggeredBy,
		Reason:      reason,
		StartedAt:   started,
	}

	promEmergencyRuns.Inc()
	e.log.Warn("", report.RunID, "Emergency pool drain started", map[string]interface{}{
		"triggeredBy": triggeredBy,
		"reason":      reason,
	})

	// Stats snapshots bracket the drain; losing one never aborts the run.
	report.StatsBefore, _ = e.pool.Stats(ctx)

	entries, err := e.pool.AllEntries(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to load pool for emergency drain: %w", err)
	}
	SortByPoolPriority(entries, started)
	report.Total = len(entries)

	for i := range entries {
		if ctx.Err() != nil {
			break
		}
		report.Entries = append(report.Entries, e.drainOne(ctx, &entries[i], report.RunID))
	}

	for _, r := range report.Entries {
		switch r.Status {
		case "assigned", "noop", "pooled":
			report.Assigned++
		case "escalated":
			report.Escalated++
		case "skipped":
			report.Skipped++
		default:
			report.Failed++
		}
	}

	report.StatsAfter, _ = e.pool.Stats(ctx)
	report.Duration = e.now().Sub(started)

	// The audit row must land even when the caller's context is gone.
	if e.runs != nil {
		auditCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if rerr := e.runs.Record(auditCtx, report); rerr != nil {
			e.log.ErrorWithReason("", report.RunID,
				"Failed to record emergency run audit row", string(ReasonTransientIO), rerr, nil)
		}
		cancel()
	}

	e.log.Warn("", report.RunID, "Emergency pool drain finished", map[string]interface{}{
		"total":      report.Total,
		"assigned":   report.Assigned,
		"escalated":  report.Escalated,
		"failed":     report.Failed,
		"durationMs": report.Duration.Milliseconds(),
	})
	return report, nil
}

func (e *EmergencyProcessor) drainOne(ctx context.Context, booking *Booking, runID string) EmergencyEntryResult {
	line := EmergencyEntryResult{BookingID: booking.ID}
	if booking.PoolDeadlineTime != nil {
		line.Bucket = int(PriorityBucketFor(*booking.PoolDeadlineTime, e.now()))
		remaining := booking.PoolDeadlineTime.Sub(e.now()).Milliseconds()
		line.TimeToDeadlineMs = &remaining
	}

	claimed, err := e.pool.Claim(ctx, booking.ID, booking.Version)
	if err != nil {
		line.Status = "failed"
		line.Error = err.Error()
		return line
	}
	if !claimed {
		line.Status = "skipped"
		return line
	}

	var lastErr error
	for attempt := 0; attempt < emergencyRetryLimit; attempt++ {
		line.Attempts = attempt + 1
		result, err := e.runner.AssignBooking(ctx, booking.ID, runID)
		if err == nil {
			line.Status = result.Status
			line.InterpreterEmpCode = result.InterpreterEmpCode
			line.ReasonCode = result.ReasonCode
			line.ManualAssignmentRequired = result.Status == "escalated"
			e.recordHistory(booking, runID, PoolActionProcessed, "")
			return line
		}
		lastErr = err
		if !IsTransient(err) || attempt == emergencyRetryLimit-1 {
			break
		}
		delay := emergencyBaseDelay << attempt
		if delay > emergencyMaxDelay {
			delay = emergencyMaxDelay
		}
		if e.sleep(ctx, delay) != nil {
			break
		}
	}

	line.Status = "failed"
	line.ManualAssignmentRequired = true
	line.ReasonCode = CodeOf(lastErr)
	if lastErr != nil {
		line.Error = lastErr.Error()
	}

	cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if ferr := e.pool.Fail(cleanupCtx, booking.ID); ferr != nil {
		e.log.ErrorWithReason(fmt.Sprintf("%d", booking.ID), runID,
			"Failed to park entry after emergency retries", string(ReasonTransientIO), ferr, nil)
	}
	e.recordHistory(booking, runID, PoolActionFailed, line.Error)
	return line
}

// recordHistory keeps the audit trail on a best-effort basis; the drain
// itself never fails on an audit write.
func (e *EmergencyProcessor) recordHistory(booking *Booking, runID string, action PoolAction, errMsg string) {
	if e.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	hist := &PoolEntryHistory{
		BookingID:    booking.ID,
		Action:       action,
		PrevStatus:   booking.PoolStatus,
		NewStatus:    booking.PoolStatus,
		Attempts:     booking.PoolAttempts,
		ErrorMessage: errMsg,
		SystemState: map[string]interface{}{
			"emergencyRunId": runID,
		},
	}
	if err := e.history.Append(ctx, hist); err != nil {
		e.log.ErrorWithReason(fmt.Sprintf("%d", booking.ID), runID,
			"Failed to record emergency audit entry", string(ReasonTransientIO), err, nil)
	}
}
