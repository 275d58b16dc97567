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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDRSource struct {
	history    []DRAssignment
	gotScope   *OwnerGroup
	gotPending bool
}

func (f *fakeDRSource) RecentDRAssignments(ctx context.Context, scopeGroup *OwnerGroup, includePending bool, before time.Time, limit int) ([]DRAssignment, error) {
	f.gotScope = scopeGroup
	f.gotPending = includePending
	return f.history, nil
}

func drBooking() *Booking {
	start := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)
	return &Booking{
		ID:          42,
		MeetingType: MeetingDR,
		DRType:      DRTypeI,
		OwnerGroup:  GroupHardware,
		StartTime:   start,
		EndTime:     start.Add(2 * time.Hour),
	}
}

func TestDRPolicyConfigFor(t *testing.T) {
	cfg := DRPolicyConfigFor(ModeBalance, false)
	assert.Equal(t, DRScopeGlobal, cfg.Scope)
	assert.True(t, cfg.ForbidConsecutive)

	cfg = DRPolicyConfigFor(ModeUrgent, false)
	assert.Equal(t, DRScopeLocal, cfg.Scope)
	assert.False(t, cfg.ForbidConsecutive)
	assert.True(t, cfg.IncludePending)

	cfg = DRPolicyConfigFor(ModeNormal, true)
	assert.False(t, cfg.ForbidConsecutive)

	cfg = DRPolicyConfigFor(ModeCustom, true)
	assert.Equal(t, DRScopeGlobal, cfg.Scope)
	assert.True(t, cfg.ForbidConsecutive)
}

func TestInspectHeadRun(t *testing.T) {
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	source := &fakeDRSource{history: []DRAssignment{
		{EmpCode: "E001", StartTime: base.AddDate(0, 0, 5)},
		{EmpCode: "E001", StartTime: base.AddDate(0, 0, 3)},
		{EmpCode: "E002", StartTime: base.AddDate(0, 0, 1)},
	}}
	inspector := NewDRHistoryInspector(source)

	info, err := inspector.Inspect(context.Background(), drBooking(),
		[]string{"E001", "E002", "E003"}, DRPolicyConfigFor(ModeBalance, false))
	require.NoError(t, err)

	assert.Equal(t, 2, info["E001"].ConsecutiveCount)
	assert.True(t, info["E001"].IsBlocked)
	require.NotNil(t, info["E001"].LastDRAt)

	assert.Equal(t, 0, info["E002"].ConsecutiveCount)
	assert.False(t, info["E002"].IsBlocked)
	require.NotNil(t, info["E002"].LastDRAt)

	assert.Equal(t, 0, info["E003"].ConsecutiveCount)
	assert.Nil(t, info["E003"].LastDRAt)
}

func TestInspectScopeAndPendingFlags(t *testing.T) {
	source := &fakeDRSource{}
	inspector := NewDRHistoryInspector(source)
	booking := drBooking()

	_, err := inspector.Inspect(context.Background(), booking,
		[]string{"E001"}, DRPolicyConfigFor(ModeUrgent, false))
	require.NoError(t, err)
	require.NotNil(t, source.gotScope)
	assert.Equal(t, GroupHardware, *source.gotScope)
	assert.True(t, source.gotPending)

	_, err = inspector.Inspect(context.Background(), booking,
		[]string{"E001"}, DRPolicyConfigFor(ModeBalance, false))
	require.NoError(t, err)
	assert.Nil(t, source.gotScope)
	assert.False(t, source.gotPending)
}

func TestInspectNoBlockWhenForbidOff(t *testing.T) {
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	source := &fakeDRSource{history: []DRAssignment{
		{EmpCode: "E001", StartTime: base},
	}}
	inspector := NewDRHistoryInspector(source)

	info, err := inspector.Inspect(context.Background(), drBooking(),
		[]string{"E001"}, DRPolicyConfigFor(ModeNormal, false))
	require.NoError(t, err)
	assert.Equal(t, 1, info["E001"].ConsecutiveCount)
	assert.False(t, info["E001"].IsBlocked)
}

func TestApplyDRPolicyFiltersBlocked(t *testing.T) {
	cfg := DRPolicyConfigFor(ModeBalance, false)
	info := map[string]*DRCandidateInfo{
		"E001": {IsBlocked: true, ConsecutiveCount: 1},
		"E002": {},
	}

	allowed, decision, err := ApplyDRPolicy([]string{"E001", "E002"}, info, cfg, -0.8)
	require.NoError(t, err)
	assert.Equal(t, []string{"E002"}, allowed)
	assert.True(t, decision.Applied)
	assert.False(t, decision.Override)
	assert.Equal(t, []string{"E001"}, decision.BlockedEmpCodes)
	assert.Equal(t, -0.8, decision.Penalty)
}

func TestApplyDRPolicyPassThroughWhenForbidOff(t *testing.T) {
	cfg := DRPolicyConfigFor(ModeNormal, false)
	info := map[string]*DRCandidateInfo{"E001": {IsBlocked: false}}

	allowed, decision, err := ApplyDRPolicy([]string{"E001"}, info, cfg, -0.5)
	require.NoError(t, err)
	assert.Equal(t, []string{"E001"}, allowed)
	assert.Empty(t, decision.BlockedEmpCodes)
}

func TestApplyDRPolicyOverride(t *testing.T) {
	cfg := DRPolicyConfigFor(ModeBalance, false)
	early := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	late := time.Date(2025, 5, 20, 9, 0, 0, 0, time.UTC)
	info := map[string]*DRCandidateInfo{
		"E001": {IsBlocked: true, LastDRAt: &late},
		"E002": {IsBlocked: true, LastDRAt: &early},
	}

	allowed, decision, err := ApplyDRPolicy([]string{"E001", "E002"}, info, cfg, -0.8)
	require.NoError(t, err)
	assert.Equal(t, []string{"E002"}, allowed)
	assert.True(t, decision.Override)
	assert.Equal(t, "E002", decision.OverrideEmpCode)
	assert.ElementsMatch(t, []string{"E001", "E002"}, decision.BlockedEmpCodes)
}

func TestApplyDRPolicyNoOverrideTarget(t *testing.T) {
	cfg := DRPolicyConfigFor(ModeBalance, false)
	info := map[string]*DRCandidateInfo{
		"E001": {IsBlocked: true}, // blocked but no LastDRAt on record
	}

	allowed, _, err := ApplyDRPolicy([]string{"E001"}, info, cfg, -0.8)
	require.Error(t, err)
	assert.Equal(t, ReasonDRAllBlocked, CodeOf(err))
	assert.Nil(t, allowed)
}

func TestApplyDRPolicyEmptyCandidates(t *testing.T) {
	cfg := DRPolicyConfigFor(ModeBalance, false)
	allowed, decision, err := ApplyDRPolicy(nil, map[string]*DRCandidateInfo{}, cfg, -0.8)
	require.NoError(t, err)
	assert.Empty(t, allowed)
	assert.False(t, decision.Override)
}
