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
	"time"

	"linguaflow/platform/shared/logger"
)

const (
	// Processing entries older than this are presumed orphaned by a crashed
	// worker and returned to the queue.
	stuckProcessingAge = time.Hour
	// Failed entries rest this long before the sweep retries them.
	failedRetryAge = 10 * time.Minute
	// Entries past this many attempts are reset once and flagged; a second
	// trip through the limit escalates them.
	maxPoolAttempts = 6
)

// recoveryPoolSource is the slice of the pool repository the sweep consumes
type recoveryPoolSource interface {
	ResetStuckProcessing(ctx context.Context, age time.Duration) ([]int64, error)
	ResetFailed(ctx context.Context, age time.Duration) ([]int64, error)
	ResetExcessiveRetries(ctx context.Context, maxAttempts int) ([]int64, error)
	AllEntries(ctx context.Context) ([]Booking, error)
	Remove(ctx context.Context, bookingID int64) error
	Stats(ctx context.Context) (*PoolStats, error)
}

type escalationStore interface {
	Get(ctx context.Context, id int64) (*Booking, error)
	CommitEscalation(ctx context.Context, bookingID int64, version int, logEntry *AssignmentLog, hist *PoolEntryHistory) error
}

// CorruptionFinding describes one invalid pool entry found by the sweep
type CorruptionFinding struct {
	BookingID int64  `json:"bookingId"`
	Problem   string `json:"problem"`
	Action    string `json:"action"` // quarantined | escalated
}

// RepairReport summarises one health-check-and-repair pass
type RepairReport struct {
	StartedAt       time.Time           `json:"startedAt"`
	Duration        time.Duration       `json:"duration"`
	StuckReset      []int64             `json:"stuckReset"`
	FailedRetried   []int64             `json:"failedRetried"`
	RetryLimitReset []int64             `json:"retryLimitReset"`
	Corrupted       []CorruptionFinding `json:"corrupted"`
	PoolStats       *PoolStats          `json:"poolStats,omitempty"`
	Degraded        bool                `json:"degraded"`
	DegradedReason  string              `json:"degradedReason,omitempty"`
}

// RecoveryManager repairs pool entries left in bad states by crashes,
// timeouts and data corruption. It runs on demand from the repair endpoint;
// the health endpoint uses its read-only check.
type RecoveryManager struct {
	pool     recoveryPoolSource
	bookings escalationStore
	log      *logger.Logger
	now      func() time.Time
}

func NewRecoveryManager(pool recoveryPoolSource, bookings escalationStore) *RecoveryManager {
	return &RecoveryManager{
		pool:     pool,
		bookings: bookings,
		log:      logger.New("recovery"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// RepairAction selects one part of the repair sweep
type RepairAction string

const (
	RepairStuckProcessing   RepairAction = "cleanup_stuck_processing"
	RepairRetryFailed       RepairAction = "retry_failed_entries"
	RepairExcessiveRetries  RepairAction = "reset_excessive_retries"
	RepairCleanupCorrupted  RepairAction = "cleanup_corrupted"
	RepairValidateIntegrity RepairAction = "validate_pool_integrity"
)

// ParseRepairAction validates an action name from the API
func ParseRepairAction(s string) (RepairAction, bool) {
	switch a := RepairAction(s); a {
	case RepairStuckProcessing, RepairRetryFailed, RepairExcessiveRetries,
		RepairCleanupCorrupted, RepairValidateIntegrity:
		return a, true
	}
	return "", false
}

// Repair runs the sweep: orphaned processing entries, rested failures,
// retry-limit offenders, then structural validation of every entry. With no
// actions given it runs everything; otherwise only the named actions.
func (m *RecoveryManager) Repair(ctx context.Context, actions ...RepairAction) (*RepairReport, error) {
	started := m.now()
	report := &RepairReport{StartedAt: started}

	selected := func(a RepairAction) bool {
		if len(actions) == 0 {
			return true
		}
		for _, want := range actions {
			if want == a {
				return true
			}
		}
		return false
	}

	if selected(RepairStuckProcessing) {
		stuck, err := m.pool.ResetStuckProcessing(ctx, stuckProcessingAge)
		if err != nil {
			return report, fmt.Errorf("failed to reset stuck entries: %w", err)
		}
		report.StuckReset = stuck
		if len(stuck) > 0 {
			promRecoveryActions.WithLabelValues("stuck_reset").Add(float64(len(stuck)))
			m.log.Warn("", "", "Reset orphaned processing entries", map[string]interface{}{"count": len(stuck)})
		}
	}

	if selected(RepairRetryFailed) {
		retried, err := m.pool.ResetFailed(ctx, failedRetryAge)
		if err != nil {
			return report, fmt.Errorf("failed to retry failed entries: %w", err)
		}
		report.FailedRetried = retried
		if len(retried) > 0 {
			promRecoveryActions.WithLabelValues("failed_retried").Add(float64(len(retried)))
		}
	}

	if selected(RepairExcessiveRetries) {
		reset, err := m.pool.ResetExcessiveRetries(ctx, maxPoolAttempts)
		if err != nil {
			return report, fmt.Errorf("failed to reset retry-limit entries: %w", err)
		}
		report.RetryLimitReset = reset
		if len(reset) > 0 {
			promRecoveryActions.WithLabelValues("retry_limit_reset").Add(float64(len(reset)))
			m.log.Warn("", "", "Reset entries past the retry limit", map[string]interface{}{"count": len(reset)})
		}
	}

	// validate_pool_integrity reports findings without quarantining
	if selected(RepairCleanupCorrupted) || selected(RepairValidateIntegrity) {
		dryRun := !selected(RepairCleanupCorrupted)
		if err := m.quarantineCorrupted(ctx, report, dryRun); err != nil {
			return report, err
		}
	}

	if stats, err := m.pool.Stats(ctx); err == nil {
		report.PoolStats = stats
		updatePoolDepthMetrics(stats)
	}

	report.Duration = m.now().Sub(started)
	return report, nil
}

// quarantineCorrupted validates every pool entry and pulls structurally
// invalid ones out of the processing path. The booking row itself is never
// deleted; corrupted entries escalate so an admin sees them. A dry run
// reports findings without touching anything.
func (m *RecoveryManager) quarantineCorrupted(ctx context.Context, report *RepairReport, dryRun bool) error {
	entries, err := m.pool.AllEntries(ctx)
	if err != nil {
		return fmt.Errorf("failed to scan pool for corruption: %w", err)
	}

	for i := range entries {
		b := &entries[i]
		problem := validatePoolEntry(b)
		if problem == "" {
			continue
		}

		finding := CorruptionFinding{BookingID: b.ID, Problem: problem}
		if dryRun {
			finding.Action = "reported"
			report.Corrupted = append(report.Corrupted, finding)
			continue
		}
		promRecoveryActions.WithLabelValues("quarantined").Inc()

		logEntry := &AssignmentLog{
			BookingID:   b.ID,
			Status:      LogEscalated,
			Reason:      fmt.Sprintf("%s: %s", ReasonCorruptedEntry, problem),
			SystemState: map[string]interface{}{"reasonCode": string(ReasonCorruptedEntry)},
		}
		hist := &PoolEntryHistory{
			BookingID:    b.ID,
			Action:       PoolActionEscalated,
			PrevStatus:   b.PoolStatus,
			NewStatus:    PoolEscalated,
			Attempts:     b.PoolAttempts,
			ErrorMessage: problem,
		}
		if err := m.bookings.CommitEscalation(ctx, b.ID, b.Version, logEntry, hist); err != nil {
			// A version race here means someone else just touched the entry;
			// the next sweep re-validates it.
			if CodeOf(err) != ReasonConcurrentUpdate {
				m.log.ErrorWithReason(fmt.Sprintf("%d", b.ID), "",
					"Failed to quarantine corrupted entry", string(ReasonTransientIO), err, nil)
			}
			continue
		}
		finding.Action = "escalated"
		report.Corrupted = append(report.Corrupted, finding)
		m.log.ErrorWithReason(fmt.Sprintf("%d", b.ID), "",
			"Quarantined corrupted pool entry", string(ReasonCorruptedEntry), nil,
			map[string]interface{}{"problem": problem})
	}
	return nil
}

// validatePoolEntry returns a problem description for structurally invalid
// entries, or "" when the entry is sound.
func validatePoolEntry(b *Booking) string {
	if b.PoolEntryTime == nil {
		return "pool entry missing entry time"
	}
	if b.PoolDeadlineTime == nil {
		return "pool entry missing deadline"
	}
	if !b.EndTime.After(b.StartTime) {
		return "booking ends at or before its start"
	}
	if b.PoolDeadlineTime.Before(*b.PoolEntryTime) {
		return "deadline precedes pool entry time"
	}
	if b.PoolDeadlineTime.After(b.StartTime) {
		return "deadline falls after the meeting start"
	}
	return ""
}

// CheckHealth reports whether the pool subsystem is operable without
// mutating anything. It backs the health endpoint's read side.
func (m *RecoveryManager) CheckHealth(ctx context.Context) (*RepairReport, error) {
	started := m.now()
	report := &RepairReport{StartedAt: started}

	stats, err := m.pool.Stats(ctx)
	if err != nil {
		report.Degraded = true
		report.DegradedReason = fmt.Sprintf("pool stats unavailable: %v", err)
		report.Duration = m.now().Sub(started)
		return report, nil
	}
	report.PoolStats = stats

	if stats.OldestEntryTime != nil && started.Sub(*stats.OldestEntryTime) > 24*time.Hour {
		report.Degraded = true
		report.DegradedReason = "oldest pool entry older than 24h"
	}
	if stats.CountsByStatus[PoolFailed] > 0 && stats.CountsByStatus[PoolFailed] >= stats.CountsByStatus[PoolWaiting] {
		report.Degraded = true
		report.DegradedReason = "failed entries outnumber waiting entries"
	}

	report.Duration = m.now().Sub(started)
	return report, nil
}
