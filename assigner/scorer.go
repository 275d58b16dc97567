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
	"math"
	"sort"
	"time"
)

// ScorerCandidate is one pre-gated candidate entering the scorer. The
// runner has already removed inactive, conflicted and DR-hard-blocked
// interpreters; the scorer only applies the max-gap eligibility rule.
type ScorerCandidate struct {
	EmpCode       string
	CurrentHours  float64
	DaysSinceLast float64 // +Inf when never assigned
	DRInfo        *DRCandidateInfo
}

// ScorerInput bundles everything one scoring run needs. The scorer is a
// pure function of this input: identical inputs produce identical output
// and identical ordering.
type ScorerInput struct {
	Booking          *Booking
	Candidates       []ScorerCandidate
	Policy           *Policy
	UrgentThreshold  int // days
	GeneralThreshold int // days
	AdjustmentFactor float64 // from the dynamic pool manager, in [0.5, 2.0]
	Now              time.Time
}

const fairnessEpsilon = 1e-9

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// fairnessScore maps a candidate's projected hours against the pool minimum
// into [0, 1]: the least-loaded candidate scores 1, anyone at or beyond the
// gap scores 0.
func fairnessScore(projected, projectedMin, maxGapHours float64) float64 {
	denom := math.Max(fairnessEpsilon, maxGapHours)
	return 1 - clamp((projected-projectedMin)/denom, 0, 1)
}

// urgencyScore maps days-to-start against the meeting type thresholds.
// At or below the urgent threshold the booking is maximally urgent; between
// the thresholds urgency decays linearly; beyond the general threshold a
// small pressure term driven by minAdvanceDays remains.
func urgencyScore(daysToStart float64, urgent, general, minAdvanceDays int) float64 {
	u, g := float64(urgent), float64(general)
	switch {
	case daysToStart <= u:
		return 1
	case daysToStart <= g:
		if g-u <= 0 {
			return 1
		}
		return (g - daysToStart) / (g - u)
	default:
		if daysToStart <= 0 {
			return 1
		}
		return clamp(float64(minAdvanceDays)/daysToStart, 0, 1)
	}
}

// lrsScore maps days-since-last-assignment into [0, 1] relative to the
// fairness window; never-assigned maps to 1.
func lrsScore(daysSinceLast float64, fairnessWindowDays int) float64 {
	if math.IsInf(daysSinceLast, 1) {
		return 1
	}
	if fairnessWindowDays <= 0 {
		return 1
	}
	return clamp(daysSinceLast/float64(fairnessWindowDays), 0, 1)
}

// Score ranks a candidate set for one booking. The returned breakdown lists
// eligible candidates in rank order followed by the max-gap ineligible ones;
// SelectedEmpCode is left for the caller to fill in after committing.
func Score(input ScorerInput) *ScoreBreakdown {
	breakdown := &ScoreBreakdown{
		SchemaVersion: breakdownSchemaVersion,
		Candidates:    []CandidateScore{},
	}
	if len(input.Candidates) == 0 {
		return breakdown
	}

	policy := input.Policy
	duration := input.Booking.DurationHours()
	daysToStart := input.Booking.StartTime.Sub(input.Now).Hours() / 24
	urgency := urgencyScore(daysToStart, input.UrgentThreshold, input.GeneralThreshold, policy.MinAdvanceDays)

	adjustment := input.AdjustmentFactor
	if adjustment == 0 {
		adjustment = 1
	}
	adjustment = clamp(adjustment, 0.5, 2.0)

	projectedMin := math.Inf(1)
	for _, c := range input.Candidates {
		if p := c.CurrentHours + duration; p < projectedMin {
			projectedMin = p
		}
	}

	isDR := input.Booking.MeetingType == MeetingDR

	type scored struct {
		cand     ScorerCandidate
		score    CandidateScore
		eligible bool
	}
	results := make([]scored, 0, len(input.Candidates))

	for _, c := range input.Candidates {
		projected := c.CurrentHours + duration
		fair := fairnessScore(projected, projectedMin, policy.MaxGapHours)
		lrs := lrsScore(c.DaysSinceLast, policy.FairnessWindowDays)

		total := policy.WFair*fair*adjustment + policy.WUrgency*urgency + policy.WLRS*lrs
		if isDR && c.DRInfo != nil {
			total += policy.DRConsecutivePenalty * float64(c.DRInfo.ConsecutiveCount)
		}

		days := c.DaysSinceLast
		if math.IsInf(days, 1) {
			days = -1 // JSON cannot carry +Inf; -1 means never assigned
		}

		s := scored{
			cand: c,
			score: CandidateScore{
				EmpCode:       c.EmpCode,
				Eligible:      true,
				Hours:         c.CurrentHours,
				DaysSinceLast: days,
				Scores: ScoreComponents{
					Fairness: fair,
					Urgency:  urgency,
					LRS:      lrs,
					Total:    total,
				},
			},
			eligible: true,
		}

		// Max-gap gate: a candidate projected beyond the gap is only
		// usable when nobody with fewer hours exists, which a multi-
		// candidate pool always contradicts.
		if projected-projectedMin > policy.MaxGapHours && len(input.Candidates) > 1 {
			s.eligible = false
			s.score.Eligible = false
			s.score.Reason = "MAX_GAP_EXCEEDED"
		}

		results = append(results, s)
	}

	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.eligible != b.eligible {
			return a.eligible
		}
		if a.score.Scores.Total != b.score.Scores.Total {
			return a.score.Scores.Total > b.score.Scores.Total
		}
		if a.cand.CurrentHours != b.cand.CurrentHours {
			return a.cand.CurrentHours < b.cand.CurrentHours
		}
		if a.cand.DaysSinceLast != b.cand.DaysSinceLast {
			return a.cand.DaysSinceLast > b.cand.DaysSinceLast
		}
		return a.cand.EmpCode < b.cand.EmpCode
	})

	for _, s := range results {
		breakdown.Candidates = append(breakdown.Candidates, s.score)
	}
	return breakdown
}

// EligibleRanked extracts the ordered eligible employee codes from a
// breakdown
func (b *ScoreBreakdown) EligibleRanked() []string {
	var ranked []string
	for _, c := range b.Candidates {
		if c.Eligible {
			ranked = append(ranked, c.EmpCode)
		}
	}
	return ranked
}
