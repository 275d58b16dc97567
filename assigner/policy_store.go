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
	"database/sql"
	"fmt"
	"time"
)

// modeVector is a canonical parameter set applied when switching into a
// non-CUSTOM mode.
type modeVector struct {
	FairnessWindowDays   int
	MaxGapHours          float64
	WFair                float64
	WUrgency             float64
	WLRS                 float64
	DRConsecutivePenalty float64
}

// canonicalVectors holds the locked parameter sets per mode
var canonicalVectors = map[PolicyMode]modeVector{
	ModeBalance: {FairnessWindowDays: 60, MaxGapHours: 2, WFair: 2.0, WUrgency: 0.6, WLRS: 0.6, DRConsecutivePenalty: -0.8},
	ModeUrgent:  {FairnessWindowDays: 14, MaxGapHours: 10, WFair: 0.5, WUrgency: 2.5, WLRS: 0.2, DRConsecutivePenalty: -0.1},
	ModeNormal:  {FairnessWindowDays: 30, MaxGapHours: 5, WFair: 1.2, WUrgency: 0.8, WLRS: 0.3, DRConsecutivePenalty: -0.5},
}

// PolicyPatch is a partial policy update; nil fields are left unchanged
type PolicyPatch struct {
	Mode                 *PolicyMode `json:"mode,omitempty"`
	AutoAssignEnabled    *bool       `json:"autoAssignEnabled,omitempty"`
	FairnessWindowDays   *int        `json:"fairnessWindowDays,omitempty"`
	MaxGapHours          *float64    `json:"maxGapHours,omitempty"`
	MinAdvanceDays       *int        `json:"minAdvanceDays,omitempty"`
	WFair                *float64    `json:"wFair,omitempty"`
	WUrgency             *float64    `json:"wUrgency,omitempty"`
	WLRS                 *float64    `json:"wLRS,omitempty"`
	DRConsecutivePenalty *float64    `json:"drConsecutivePenalty,omitempty"`
}

// touchesLockedField reports whether a patch modifies any mode-locked
// parameter. AutoAssignEnabled and MinAdvanceDays changes through explicit
// mode switches are the only writes allowed outside CUSTOM.
func (p *PolicyPatch) touchesLockedField() bool {
	return p.FairnessWindowDays != nil || p.MaxGapHours != nil ||
		p.MinAdvanceDays != nil || p.WFair != nil || p.WUrgency != nil ||
		p.WLRS != nil || p.DRConsecutivePenalty != nil
}

// hardRange is an inclusive validation band
type hardRange struct{ lo, hi float64 }

var (
	rangeFairnessWindow = hardRange{7, 90}
	rangeMaxGap         = hardRange{1, 100}
	rangeMinAdvance     = hardRange{0, 30}
	rangeWeight         = hardRange{0, 5}
	rangeDRPenalty      = hardRange{-2, 0}

	recFairnessWindow = hardRange{14, 60}
	recMaxGap         = hardRange{2, 20}
	recMinAdvance     = hardRange{1, 7}
	recWFair          = hardRange{0.5, 3}
	recWUrgency       = hardRange{0.3, 3}
	recWLRS           = hardRange{0.1, 1}
	recDRPenalty      = hardRange{-1, -0.2}
)

func (r hardRange) contains(v float64) bool { return v >= r.lo && v <= r.hi }

// PolicyStore is the persistent source of the active policy singleton
type PolicyStore struct {
	db *sql.DB
}

// NewPolicyStore creates a policy store over the shared database handle
func NewPolicyStore(db *sql.DB) *PolicyStore {
	return &PolicyStore{db: db}
}

// LoadPolicy returns a consistent snapshot of the active policy. Runs that
// loaded a snapshot keep using it even if the policy changes mid-run.
func (s *PolicyStore) LoadPolicy(ctx context.Context) (*Policy, error) {
	query := `
		SELECT mode, auto_assign_enabled, fairness_window_days, max_gap_hours,
		       min_advance_days, w_fair, w_urgency, w_lrs, dr_consecutive_penalty,
		       updated_at
		FROM assignment_policy
		WHERE id = 1
	`

	policy := &Policy{}
	var mode string
	err := s.db.QueryRowContext(ctx, query).Scan(
		&mode, &policy.AutoAssignEnabled, &policy.FairnessWindowDays,
		&policy.MaxGapHours, &policy.MinAdvanceDays, &policy.WFair,
		&policy.WUrgency, &policy.WLRS, &policy.DRConsecutivePenalty,
		&policy.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load policy: %w", err)
	}

	policy.Mode = PolicyMode(mode)
	return policy, nil
}

// PolicyUpdateResult reports the outcome of an update attempt. Warnings list
// accepted values that fall outside the recommended bands.
type PolicyUpdateResult struct {
	Policy   *Policy  `json:"policy"`
	Warnings []string `json:"warnings,omitempty"`
}

// UpdatePolicy validates and persists a partial update. Mode-locked fields
// reject with POLICY_LOCKED when the current (or target) mode is not CUSTOM.
// With validateOnly the merged policy is checked but nothing is persisted.
func (s *PolicyStore) UpdatePolicy(ctx context.Context, patch *PolicyPatch, validateOnly bool) (*PolicyUpdateResult, error) {
	current, err := s.LoadPolicy(ctx)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, NewEngineError(ReasonNotFound, "policy singleton not initialised")
	}

	targetMode := current.Mode
	if patch.Mode != nil {
		targetMode = *patch.Mode
		if _, ok := canonicalVectors[targetMode]; !ok && targetMode != ModeCustom {
			return nil, NewEngineError(ReasonInvalidInput, fmt.Sprintf("unknown mode %q", targetMode))
		}
	}

	if targetMode != ModeCustom && patch.touchesLockedField() {
		return nil, NewEngineError(ReasonPolicyLocked,
			fmt.Sprintf("parameters are locked in %s mode; switch to CUSTOM to tune them", targetMode))
	}

	merged := *current
	merged.Mode = targetMode
	if patch.AutoAssignEnabled != nil {
		merged.AutoAssignEnabled = *patch.AutoAssignEnabled
	}

	if targetMode == ModeCustom {
		if patch.FairnessWindowDays != nil {
			merged.FairnessWindowDays = *patch.FairnessWindowDays
		}
		if patch.MaxGapHours != nil {
			merged.MaxGapHours = *patch.MaxGapHours
		}
		if patch.MinAdvanceDays != nil {
			merged.MinAdvanceDays = *patch.MinAdvanceDays
		}
		if patch.WFair != nil {
			merged.WFair = *patch.WFair
		}
		if patch.WUrgency != nil {
			merged.WUrgency = *patch.WUrgency
		}
		if patch.WLRS != nil {
			merged.WLRS = *patch.WLRS
		}
		if patch.DRConsecutivePenalty != nil {
			merged.DRConsecutivePenalty = *patch.DRConsecutivePenalty
		}
	} else if vec, ok := canonicalVectors[targetMode]; ok && targetMode != current.Mode {
		// Mode transition atomically replaces locked fields with the
		// target mode's canonical vector.
		applyVector(&merged, vec)
	}

	if err := validatePolicy(&merged); err != nil {
		return nil, err
	}
	warnings := recommendPolicy(&merged)

	if validateOnly {
		return &PolicyUpdateResult{Policy: &merged, Warnings: warnings}, nil
	}

	merged.UpdatedAt = time.Now().UTC()
	if err := s.persist(ctx, &merged); err != nil {
		return nil, err
	}

	return &PolicyUpdateResult{Policy: &merged, Warnings: warnings}, nil
}

// SwitchMode transitions to a new mode, replacing locked parameters with the
// target mode's canonical vector. A switch into CUSTOM keeps the current
// parameter values as the starting point for tuning.
func (s *PolicyStore) SwitchMode(ctx context.Context, newMode PolicyMode, validateOnly bool) (*PolicyUpdateResult, error) {
	if _, ok := canonicalVectors[newMode]; !ok && newMode != ModeCustom {
		return nil, NewEngineError(ReasonInvalidInput, fmt.Sprintf("unknown mode %q", newMode))
	}

	current, err := s.LoadPolicy(ctx)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, NewEngineError(ReasonNotFound, "policy singleton not initialised")
	}

	merged := *current
	merged.Mode = newMode
	if vec, ok := canonicalVectors[newMode]; ok {
		applyVector(&merged, vec)
	}

	warnings := recommendPolicy(&merged)
	if validateOnly {
		return &PolicyUpdateResult{Policy: &merged, Warnings: warnings}, nil
	}

	merged.UpdatedAt = time.Now().UTC()
	if err := s.persist(ctx, &merged); err != nil {
		return nil, err
	}

	return &PolicyUpdateResult{Policy: &merged, Warnings: warnings}, nil
}

func applyVector(p *Policy, vec modeVector) {
	p.FairnessWindowDays = vec.FairnessWindowDays
	p.MaxGapHours = vec.MaxGapHours
	p.WFair = vec.WFair
	p.WUrgency = vec.WUrgency
	p.WLRS = vec.WLRS
	p.DRConsecutivePenalty = vec.DRConsecutivePenalty
}

func (s *PolicyStore) persist(ctx context.Context, p *Policy) error {
	query := `
		UPDATE assignment_policy
		SET mode = $1, auto_assign_enabled = $2, fairness_window_days = $3,
		    max_gap_hours = $4, min_advance_days = $5, w_fair = $6,
		    w_urgency = $7, w_lrs = $8, dr_consecutive_penalty = $9,
		    updated_at = $10
		WHERE id = 1
	`
	_, err := s.db.ExecContext(ctx, query,
		string(p.Mode), p.AutoAssignEnabled, p.FairnessWindowDays,
		p.MaxGapHours, p.MinAdvanceDays, p.WFair, p.WUrgency, p.WLRS,
		p.DRConsecutivePenalty, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to persist policy: %w", err)
	}
	return nil
}

// validatePolicy enforces the hard ranges
func validatePolicy(p *Policy) error {
	checks := []struct {
		name string
		val  float64
		rng  hardRange
	}{
		{"fairnessWindowDays", float64(p.FairnessWindowDays), rangeFairnessWindow},
		{"maxGapHours", p.MaxGapHours, rangeMaxGap},
		{"minAdvanceDays", float64(p.MinAdvanceDays), rangeMinAdvance},
		{"wFair", p.WFair, rangeWeight},
		{"wUrgency", p.WUrgency, rangeWeight},
		{"wLRS", p.WLRS, rangeWeight},
		{"drConsecutivePenalty", p.DRConsecutivePenalty, rangeDRPenalty},
	}
	for _, c := range checks {
		if !c.rng.contains(c.val) {
			return NewEngineError(ReasonInvalidInput,
				fmt.Sprintf("%s=%g outside allowed range [%g, %g]", c.name, c.val, c.rng.lo, c.rng.hi))
		}
	}
	return nil
}

// recommendPolicy returns non-fatal warnings for values outside the
// recommended operational bands
func recommendPolicy(p *Policy) []string {
	var warnings []string
	checks := []struct {
		name string
		val  float64
		rng  hardRange
	}{
		{"fairnessWindowDays", float64(p.FairnessWindowDays), recFairnessWindow},
		{"maxGapHours", p.MaxGapHours, recMaxGap},
		{"minAdvanceDays", float64(p.MinAdvanceDays), recMinAdvance},
		{"wFair", p.WFair, recWFair},
		{"wUrgency", p.WUrgency, recWUrgency},
		{"wLRS", p.WLRS, recWLRS},
		{"drConsecutivePenalty", p.DRConsecutivePenalty, recDRPenalty},
	}
	for _, c := range checks {
		if !c.rng.contains(c.val) {
			warnings = append(warnings,
				fmt.Sprintf("%s=%g outside recommended band [%g, %g]", c.name, c.val, c.rng.lo, c.rng.hi))
		}
	}
	return warnings
}
