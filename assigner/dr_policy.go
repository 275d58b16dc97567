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
	"time"
)

// DRScope restricts which DR history the consecutive policy inspects
type DRScope string

const (
	DRScopeGlobal DRScope = "GLOBAL"
	DRScopeLocal  DRScope = "LOCAL"
)

// DRPolicyConfig is the mode-parameterised behaviour of the DR
// consecutive-assignment rule. The penalty magnitude itself comes from the
// policy's drConsecutivePenalty weight.
type DRPolicyConfig struct {
	Scope             DRScope
	ForbidConsecutive bool
	IncludePending    bool
}

// DRPolicyConfigFor resolves the DR behaviour for a mode. CUSTOM keeps
// global scope with a configurable hard-block flag.
func DRPolicyConfigFor(mode PolicyMode, customForbid bool) DRPolicyConfig {
	switch mode {
	case ModeUrgent:
		return DRPolicyConfig{Scope: DRScopeLocal, ForbidConsecutive: false, IncludePending: true}
	case ModeBalance:
		return DRPolicyConfig{Scope: DRScopeGlobal, ForbidConsecutive: true, IncludePending: false}
	case ModeCustom:
		return DRPolicyConfig{Scope: DRScopeGlobal, ForbidConsecutive: customForbid, IncludePending: false}
	default: // NORMAL
		return DRPolicyConfig{Scope: DRScopeGlobal, ForbidConsecutive: false, IncludePending: false}
	}
}

// DRCandidateInfo is the inspector's verdict for one candidate
type DRCandidateInfo struct {
	ConsecutiveCount int        `json:"consecutiveCount"`
	IsBlocked        bool       `json:"isBlocked"`
	LastDRAt         *time.Time `json:"lastDRAt,omitempty"`
}

// drSource is the slice of the booking store the inspector needs
type drSource interface {
	RecentDRAssignments(ctx context.Context, scopeGroup *OwnerGroup, includePending bool, before time.Time, limit int) ([]DRAssignment, error)
}

// DRHistoryInspector reports recent DR assignment history per candidate
type DRHistoryInspector struct {
	source drSource
}

// NewDRHistoryInspector creates an inspector over the booking store
func NewDRHistoryInspector(source drSource) *DRHistoryInspector {
	return &DRHistoryInspector{source: source}
}

// drHistoryLimit bounds the history walk; consecutive runs longer than this
// are effectively capped.
const drHistoryLimit = 50

// Inspect resolves per-candidate DR info for one booking. A candidate is
// consecutive-DR-blocked iff they hold the most recent DR assignment in
// scope with no other interpreter in between; ConsecutiveCount is the length
// of their run at the head of the history.
func (i *DRHistoryInspector) Inspect(ctx context.Context, booking *Booking, candidates []string, cfg DRPolicyConfig) (map[string]*DRCandidateInfo, error) {
	var scopeGroup *OwnerGroup
	if cfg.Scope == DRScopeLocal {
		g := booking.OwnerGroup
		scopeGroup = &g
	}

	history, err := i.source.RecentDRAssignments(ctx, scopeGroup, cfg.IncludePending, booking.StartTime, drHistoryLimit)
	if err != nil {
		return nil, err
	}

	info := make(map[string]*DRCandidateInfo, len(candidates))
	for _, code := range candidates {
		info[code] = &DRCandidateInfo{}
	}

	for _, h := range history {
		if ci, ok := info[h.EmpCode]; ok && ci.LastDRAt == nil {
			t := h.StartTime
			ci.LastDRAt = &t
		}
	}

	if len(history) > 0 {
		head := history[0].EmpCode
		run := 0
		for _, h := range history {
			if h.EmpCode != head {
				break
			}
			run++
		}
		if ci, ok := info[head]; ok {
			ci.ConsecutiveCount = run
			ci.IsBlocked = cfg.ForbidConsecutive
		}
	}

	return info, nil
}

// ApplyDRPolicy filters hard-blocked candidates and builds the decision
// record. When every candidate is blocked the block is lifted for the one
// with the earliest LastDRAt (the DR override); the returned decision tags
// the override so the assignment log can surface it.
func ApplyDRPolicy(candidates []string, info map[string]*DRCandidateInfo, cfg DRPolicyConfig, penalty float64) ([]string, *DRPolicyDecision, error) {
	decision := &DRPolicyDecision{
		Applied:           true,
		Scope:             string(cfg.Scope),
		ForbidConsecutive: cfg.ForbidConsecutive,
		Penalty:           penalty,
	}

	if !cfg.ForbidConsecutive {
		return candidates, decision, nil
	}

	var allowed, blocked []string
	for _, code := range candidates {
		if ci, ok := info[code]; ok && ci.IsBlocked {
			blocked = append(blocked, code)
		} else {
			allowed = append(allowed, code)
		}
	}
	decision.BlockedEmpCodes = blocked

	if len(allowed) > 0 || len(blocked) == 0 {
		return allowed, decision, nil
	}

	// All candidates blocked: lift the block for the least recent DR
	// assignee so the booking can still be served.
	overrideCode := ""
	var earliest time.Time
	for _, code := range blocked {
		ci := info[code]
		if ci.LastDRAt == nil {
			continue
		}
		if overrideCode == "" || ci.LastDRAt.Before(earliest) {
			overrideCode = code
			earliest = *ci.LastDRAt
		}
	}
	if overrideCode == "" {
		return nil, decision, NewEngineError(ReasonDRAllBlocked,
			"all candidates blocked by DR policy and no override target exists")
	}

	decision.Override = true
	decision.OverrideEmpCode = overrideCode
	return []string{overrideCode}, decision, nil
}
