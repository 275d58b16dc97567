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
	"math"
	"time"

	"linguaflow/platform/shared/logger"
)

// bookingStore is the slice of the booking repository the Runner consumes.
// Small consumer-side interfaces keep the Runner testable on fakes.
type bookingStore interface {
	Get(ctx context.Context, id int64) (*Booking, error)
	CommitAssignment(ctx context.Context, bookingID int64, version int, empCode string, logEntry *AssignmentLog, hist *PoolEntryHistory) error
	CommitPoolEntry(ctx context.Context, bookingID int64, version int, entryTime, deadline time.Time, hist *PoolEntryHistory) error
	CommitEscalation(ctx context.Context, bookingID int64, version int, logEntry *AssignmentLog, hist *PoolEntryHistory) error
	overlapSource
	fairnessSource
	drSource
}

type interpreterStore interface {
	ListActive(ctx context.Context) ([]Interpreter, error)
}

type policySource interface {
	LoadPolicy(ctx context.Context) (*Policy, error)
}

type prioritySource interface {
	ThresholdsFor(ctx context.Context, meetingType MeetingType) (urgent, general int, err error)
}

// RouteDecision is where a booking goes before any candidate work happens
type RouteDecision string

const (
	RouteImmediate RouteDecision = "immediate"
	RoutePool      RouteDecision = "pool"
)

// AssignmentResult is the outcome of one Runner invocation
type AssignmentResult struct {
	BookingID          int64           `json:"bookingId"`
	Status             string          `json:"status"` // assigned | pooled | escalated | noop
	InterpreterEmpCode string          `json:"interpreterId,omitempty"`
	Reason             string          `json:"reason,omitempty"`
	ReasonCode         ReasonCode      `json:"reasonCode,omitempty"`
	Breakdown          *ScoreBreakdown `json:"breakdown,omitempty"`
	PoolDeadline       *time.Time      `json:"poolDeadline,omitempty"`
}

const (
	versionRetryLimit   = 2 // retries after the first optimistic failure
	transientRetryLimit = 3
	transientBaseDelay  = time.Second
	transientMaxDelay   = 30 * time.Second
)

// Runner orchestrates one assignment decision for one booking: gate by
// policy, route, resolve candidates, score, commit, log.
type Runner struct {
	bookings     bookingStore
	interpreters interpreterStore
	policies     policySource
	priorities   prioritySource
	detector     *ConflictDetector
	accountant   *FairnessAccountant
	drInspector  *DRHistoryInspector
	poolManager  *DynamicPoolManager
	cfg          EngineConfig
	log          *logger.Logger
	now          func() time.Time
}

// NewRunner wires an assignment runner from its collaborators
func NewRunner(bookings bookingStore, interpreters interpreterStore, policies policySource, priorities prioritySource, poolManager *DynamicPoolManager, cfg EngineConfig) *Runner {
	return &Runner{
		bookings:     bookings,
		interpreters: interpreters,
		policies:     policies,
		priorities:   priorities,
		detector:     NewConflictDetector(bookings),
		accountant:   NewFairnessAccountant(bookings),
		drInspector:  NewDRHistoryInspector(bookings),
		poolManager:  poolManager,
		cfg:          cfg,
		log:          logger.New("runner"),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// AssignBooking runs the single-booking contract. It is safe to call
// concurrently for different bookings; racing calls for the same booking
// resolve through the version token.
func (r *Runner) AssignBooking(ctx context.Context, bookingID int64, requestID string) (*AssignmentResult, error) {
	started := r.now()
	ctx, cancel := context.WithTimeout(ctx, r.cfg.RunnerBudget)
	defer cancel()

	result, err := r.assign(ctx, bookingID, requestID, started)
	promAssignmentDuration.Observe(r.now().Sub(started).Seconds())
	if result != nil {
		promAssignmentsTotal.WithLabelValues(result.Status).Inc()
	}
	return result, err
}

func (r *Runner) assign(ctx context.Context, bookingID int64, requestID string, started time.Time) (*AssignmentResult, error) {
	bid := fmt.Sprintf("%d", bookingID)

	booking, err := r.getBookingRetry(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking == nil {
		return nil, NewEngineError(ReasonNotFound, fmt.Sprintf("booking %d not found", bookingID))
	}

	// Idempotence: an already-assigned booking is a no-op with the same
	// interpreter and no new decision row.
	if booking.IsAssigned() {
		return &AssignmentResult{
			BookingID:          bookingID,
			Status:             "noop",
			InterpreterEmpCode: *booking.InterpreterEmpCode,
			Reason:             "booking already assigned",
			ReasonCode:         ReasonAlreadyAssigned,
		}, nil
	}
	if booking.BookingStatus == StatusCancel {
		return &AssignmentResult{
			BookingID:  bookingID,
			Status:     "noop",
			Reason:     "booking cancelled",
			ReasonCode: ReasonBookingCancelled,
		}, nil
	}

	policy, err := r.policies.LoadPolicy(ctx)
	if err != nil {
		return nil, err
	}
	if policy == nil || !policy.AutoAssignEnabled {
		return r.escalate(ctx, booking, ReasonAutoAssignDisabled, "auto-assign disabled", nil, nil, started, requestID)
	}

	urgent, general, err := r.priorities.ThresholdsFor(ctx, booking.MeetingType)
	if err != nil {
		return nil, err
	}

	now := r.now()
	daysToStart := booking.StartTime.Sub(now).Hours() / 24

	route := RoutePool
	if policy.Mode == ModeUrgent || daysToStart <= float64(urgent) {
		route = RouteImmediate
	}

	if route == RoutePool {
		deadline := booking.StartTime.AddDate(0, 0, -urgent)
		// Only a deadline already in the past gets pushed forward; a near
		// deadline in the future stands, so it can never land after the
		// meeting start.
		if deadline.Before(now) {
			deadline = now.Add(time.Minute)
		}
		return r.pool(ctx, booking, now, deadline, requestID)
	}

	return r.immediate(ctx, booking, policy, urgent, general, started, requestID, bid)
}

// pool routes a booking into the deferred pool with its computed deadline
func (r *Runner) pool(ctx context.Context, booking *Booking, now, deadline time.Time, requestID string) (*AssignmentResult, error) {
	action := PoolActionEntered
	if booking.PoolStatus != PoolNone {
		action = PoolActionUpdated
	}

	hist := &PoolEntryHistory{
		BookingID:  booking.ID,
		Action:     action,
		PrevStatus: booking.PoolStatus,
		NewStatus:  PoolWaiting,
		Attempts:   booking.PoolAttempts,
		SystemState: map[string]interface{}{
			"deadline": deadline.UTC().Format(time.RFC3339),
		},
	}

	err := r.withTransientRetry(ctx, func() error {
		return r.bookings.CommitPoolEntry(ctx, booking.ID, booking.Version, now, deadline, hist)
	})
	if err != nil {
		if CodeOf(err) == ReasonConcurrentUpdate {
			// Someone else moved the booking; report without guessing.
			return &AssignmentResult{
				BookingID:  booking.ID,
				Status:     "noop",
				Reason:     "booking changed concurrently",
				ReasonCode: ReasonConcurrentUpdate,
			}, nil
		}
		return nil, err
	}

	r.log.Info(fmt.Sprintf("%d", booking.ID), requestID, "Booking routed to pool", map[string]interface{}{
		"deadline": deadline.UTC().Format(time.RFC3339),
		"action":   string(action),
	})

	d := deadline
	return &AssignmentResult{
		BookingID:    booking.ID,
		Status:       "pooled",
		Reason:       "deferred until deadline",
		PoolDeadline: &d,
	}, nil
}

// immediate runs candidate resolution, scoring and the optimistic commit
func (r *Runner) immediate(ctx context.Context, booking *Booking, policy *Policy, urgent, general int, started time.Time, requestID, bid string) (*AssignmentResult, error) {
	interpreters, err := r.interpreters.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	if len(interpreters) == 0 {
		return r.escalate(ctx, booking, ReasonNoCandidates, "no active interpreters", nil, nil, started, requestID)
	}

	codes := make([]string, 0, len(interpreters))
	for _, i := range interpreters {
		codes = append(codes, i.EmpCode)
	}

	availCtx, cancelAvail := context.WithTimeout(ctx, r.cfg.AvailabilityBudget)
	available, conflictSummary, err := r.detector.Availability(availCtx, codes, booking.StartTime, booking.EndTime, booking.ID)
	cancelAvail()
	if err != nil {
		return nil, err
	}
	if len(available) == 0 {
		return r.escalate(ctx, booking, ReasonNoCandidates, "all interpreters conflicted", nil, conflictSummary, started, requestID)
	}

	signals, err := r.accountant.Collect(ctx, available, r.now(), policy.FairnessWindowDays)
	if err != nil {
		return nil, err
	}

	hours := make(map[string]float64, len(signals))
	for code, s := range signals {
		hours[code] = s.CurrentHours
	}
	adjustment := r.poolManager.Observe(available, hours)
	if adjustment.ShouldRecalculate {
		for _, code := range adjustment.Added {
			if s, ok := signals[code]; ok {
				s.CurrentHours = adjustment.SeedHours
			}
		}
		r.log.Info(bid, requestID, "Active pool changed, fairness adjusted", map[string]interface{}{
			"added":   len(adjustment.Added),
			"removed": len(adjustment.Removed),
			"factor":  adjustment.AdjustmentFactor,
		})
	}

	var drDecision *DRPolicyDecision
	var drInfo map[string]*DRCandidateInfo
	if booking.MeetingType == MeetingDR {
		cfg := DRPolicyConfigFor(policy.Mode, r.cfg.CustomForbidConsecutive)
		drInfo, err = r.drInspector.Inspect(ctx, booking, available, cfg)
		if err != nil {
			return nil, err
		}
		available, drDecision, err = ApplyDRPolicy(available, drInfo, cfg, policy.DRConsecutivePenalty)
		if err != nil {
			return r.escalate(ctx, booking, CodeOf(err), err.Error(), &ScoreBreakdown{
				SchemaVersion: breakdownSchemaVersion,
				DRPolicy:      drDecision,
			}, conflictSummary, started, requestID)
		}
	}

	candidates := make([]ScorerCandidate, 0, len(available))
	for _, code := range available {
		s := signals[code]
		if s == nil {
			continue
		}
		c := ScorerCandidate{
			EmpCode:       code,
			CurrentHours:  s.CurrentHours,
			DaysSinceLast: s.DaysSinceLast,
		}
		if drInfo != nil {
			c.DRInfo = drInfo[code]
		}
		candidates = append(candidates, c)
	}

	breakdown := Score(ScorerInput{
		Booking:          booking,
		Candidates:       candidates,
		Policy:           policy,
		UrgentThreshold:  urgent,
		GeneralThreshold: general,
		AdjustmentFactor: adjustment.AdjustmentFactor,
		Now:              r.now(),
	})
	breakdown.DRPolicy = drDecision

	ranked := breakdown.EligibleRanked()
	if len(ranked) == 0 {
		return r.escalate(ctx, booking, ReasonNoCandidates, "no eligible candidate after scoring", breakdown, conflictSummary, started, requestID)
	}

	winner := ranked[0]
	breakdown.SelectedEmpCode = winner

	preHours := make(map[string]float64, len(signals))
	postHours := make(map[string]float64, len(signals))
	duration := booking.DurationHours()
	for code, s := range signals {
		preHours[code] = s.CurrentHours
		postHours[code] = s.CurrentHours
	}
	postHours[winner] += duration

	logEntry := &AssignmentLog{
		BookingID:          booking.ID,
		InterpreterEmpCode: &winner,
		Status:             LogAssigned,
		Reason:             "auto-assigned",
		PreHoursSnapshot:   preHours,
		PostHoursSnapshot:  postHours,
		Breakdown:          breakdown,
		ConflictSummary:    conflictSummary,
		DurationMS:         r.now().Sub(started).Milliseconds(),
		SystemState:        r.systemState(policy),
	}
	if drDecision != nil && drDecision.Override {
		logEntry.Reason = "auto-assigned (DR_OVERRIDE)"
	}

	var hist *PoolEntryHistory
	if booking.PoolStatus != PoolNone {
		hist = &PoolEntryHistory{
			BookingID:  booking.ID,
			Action:     PoolActionProcessed,
			PrevStatus: booking.PoolStatus,
			NewStatus:  PoolAssigned,
			Attempts:   booking.PoolAttempts,
		}
	}

	return r.commit(ctx, booking, winner, logEntry, hist, breakdown, requestID)
}

// commit performs the optimistic write with bounded retries. On a version
// mismatch the booking is re-read: an assignment by a racing runner turns
// this call into a no-op.
func (r *Runner) commit(ctx context.Context, booking *Booking, winner string, logEntry *AssignmentLog, hist *PoolEntryHistory, breakdown *ScoreBreakdown, requestID string) (*AssignmentResult, error) {
	version := booking.Version
	for attempt := 0; ; attempt++ {
		err := r.withTransientRetry(ctx, func() error {
			return r.bookings.CommitAssignment(ctx, booking.ID, version, winner, logEntry, hist)
		})
		if err == nil {
			r.log.Info(fmt.Sprintf("%d", booking.ID), requestID, "Booking assigned", map[string]interface{}{
				"interpreter": winner,
			})
			return &AssignmentResult{
				BookingID:          booking.ID,
				Status:             "assigned",
				InterpreterEmpCode: winner,
				Breakdown:          breakdown,
			}, nil
		}
		if CodeOf(err) != ReasonConcurrentUpdate {
			return nil, err
		}

		fresh, gerr := r.bookings.Get(ctx, booking.ID)
		if gerr != nil {
			return nil, gerr
		}
		if fresh == nil {
			return nil, NewEngineError(ReasonNotFound, fmt.Sprintf("booking %d vanished mid-commit", booking.ID))
		}
		if fresh.IsAssigned() {
			return &AssignmentResult{
				BookingID:          booking.ID,
				Status:             "noop",
				InterpreterEmpCode: *fresh.InterpreterEmpCode,
				Reason:             "assigned concurrently",
				ReasonCode:         ReasonAlreadyAssigned,
			}, nil
		}
		if fresh.BookingStatus == StatusCancel {
			return &AssignmentResult{
				BookingID:  booking.ID,
				Status:     "noop",
				Reason:     "booking cancelled",
				ReasonCode: ReasonBookingCancelled,
			}, nil
		}
		if attempt >= versionRetryLimit {
			return r.escalate(ctx, fresh, ReasonConcurrentUpdate,
				"optimistic commit failed repeatedly", breakdown, logEntry.ConflictSummary, r.now(), requestID)
		}
		version = fresh.Version
	}
}

// escalate records a terminal escalation; a human must intervene
func (r *Runner) escalate(ctx context.Context, booking *Booking, code ReasonCode, reason string, breakdown *ScoreBreakdown, conflicts *ConflictSummary, started time.Time, requestID string) (*AssignmentResult, error) {
	logEntry := &AssignmentLog{
		BookingID:       booking.ID,
		Status:          LogEscalated,
		Reason:          fmt.Sprintf("%s: %s", code, reason),
		Breakdown:       breakdown,
		ConflictSummary: conflicts,
		DurationMS:      r.now().Sub(started).Milliseconds(),
		SystemState:     map[string]interface{}{"reasonCode": string(code)},
	}

	var hist *PoolEntryHistory
	if booking.PoolStatus != PoolNone {
		hist = &PoolEntryHistory{
			BookingID:    booking.ID,
			Action:       PoolActionEscalated,
			PrevStatus:   booking.PoolStatus,
			NewStatus:    PoolEscalated,
			Attempts:     booking.PoolAttempts,
			ErrorMessage: reason,
		}
	}

	err := r.withTransientRetry(ctx, func() error {
		return r.bookings.CommitEscalation(ctx, booking.ID, booking.Version, logEntry, hist)
	})
	if err != nil && CodeOf(err) != ReasonConcurrentUpdate {
		return nil, err
	}

	r.log.ErrorWithReason(fmt.Sprintf("%d", booking.ID), requestID, "Booking escalated", string(code), nil, nil)

	return &AssignmentResult{
		BookingID:  booking.ID,
		Status:     "escalated",
		Reason:     reason,
		ReasonCode: code,
		Breakdown:  breakdown,
	}, nil
}

// SuggestCandidates runs the same gating and scoring as the assignment path
// without mutating anything. centers restricts the candidate set to the
// caller's visible centers; nil means unrestricted.
func (r *Runner) SuggestCandidates(ctx context.Context, bookingID int64, maxCandidates int, centers map[string]bool) ([]CandidateScore, error) {
	booking, err := r.bookings.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking == nil {
		return nil, NewEngineError(ReasonNotFound, fmt.Sprintf("booking %d not found", bookingID))
	}

	policy, err := r.policies.LoadPolicy(ctx)
	if err != nil {
		return nil, err
	}
	if policy == nil {
		return nil, NewEngineError(ReasonNotFound, "policy singleton not initialised")
	}

	urgent, general, err := r.priorities.ThresholdsFor(ctx, booking.MeetingType)
	if err != nil {
		return nil, err
	}

	interpreters, err := r.interpreters.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	interpreters = FilterByCenters(interpreters, centers)

	codes := make([]string, 0, len(interpreters))
	for _, i := range interpreters {
		codes = append(codes, i.EmpCode)
	}
	if len(codes) == 0 {
		return []CandidateScore{}, nil
	}

	available, _, err := r.detector.Availability(ctx, codes, booking.StartTime, booking.EndTime, booking.ID)
	if err != nil {
		return nil, err
	}
	if len(available) == 0 {
		return []CandidateScore{}, nil
	}

	signals, err := r.accountant.Collect(ctx, available, r.now(), policy.FairnessWindowDays)
	if err != nil {
		return nil, err
	}

	var drInfo map[string]*DRCandidateInfo
	var drDecision *DRPolicyDecision
	if booking.MeetingType == MeetingDR {
		cfg := DRPolicyConfigFor(policy.Mode, r.cfg.CustomForbidConsecutive)
		drInfo, err = r.drInspector.Inspect(ctx, booking, available, cfg)
		if err != nil {
			return nil, err
		}
		available, drDecision, err = ApplyDRPolicy(available, drInfo, cfg, policy.DRConsecutivePenalty)
		if err != nil {
			return []CandidateScore{}, nil
		}
	}

	candidates := make([]ScorerCandidate, 0, len(available))
	for _, code := range available {
		s := signals[code]
		if s == nil {
			continue
		}
		c := ScorerCandidate{EmpCode: code, CurrentHours: s.CurrentHours, DaysSinceLast: s.DaysSinceLast}
		if drInfo != nil {
			c.DRInfo = drInfo[code]
		}
		candidates = append(candidates, c)
	}

	breakdown := Score(ScorerInput{
		Booking:          booking,
		Candidates:       candidates,
		Policy:           policy,
		UrgentThreshold:  urgent,
		GeneralThreshold: general,
		AdjustmentFactor: 1,
		Now:              r.now(),
	})
	breakdown.DRPolicy = drDecision

	results := breakdown.Candidates
	if maxCandidates > 0 && len(results) > maxCandidates {
		results = results[:maxCandidates]
	}
	return results, nil
}

// systemState is the snapshot persisted with each decision
func (r *Runner) systemState(policy *Policy) map[string]interface{} {
	return map[string]interface{}{
		"mode":               string(policy.Mode),
		"fairnessWindowDays": policy.FairnessWindowDays,
		"maxGapHours":        policy.MaxGapHours,
	}
}

// getBookingRetry reads a booking with transient-error retry
func (r *Runner) getBookingRetry(ctx context.Context, id int64) (*Booking, error) {
	var booking *Booking
	err := r.withTransientRetry(ctx, func() error {
		var err error
		booking, err = r.bookings.Get(ctx, id)
		return err
	})
	return booking, err
}

// withTransientRetry applies bounded exponential backoff to transient
// failures. Domain errors surface immediately.
func (r *Runner) withTransientRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < transientRetryLimit; attempt++ {
		lastErr = fn()
		if lastErr == nil || !IsTransient(lastErr) {
			return lastErr
		}
		delay := time.Duration(math.Min(
			float64(transientBaseDelay)*math.Pow(2, float64(attempt)),
			float64(transientMaxDelay),
		))
		select {
		case <-ctx.Done():
			return WrapEngineError(ReasonProcessingTimeout, "runner budget exceeded", ctx.Err())
		case <-time.After(delay):
		}
	}
	return WrapEngineError(ReasonProcessingFailed, "transient retries exhausted", lastErr)
}
