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
	"database/sql/driver"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var policyColumns = []string{
	"mode", "auto_assign_enabled", "fairness_window_days", "max_gap_hours",
	"min_advance_days", "w_fair", "w_urgency", "w_lrs",
	"dr_consecutive_penalty", "updated_at",
}

func policyRow(mode PolicyMode) []driver.Value {
	vec := canonicalVectors[ModeNormal]
	if v, ok := canonicalVectors[mode]; ok {
		vec = v
	}
	return []driver.Value{
		string(mode), true, vec.FairnessWindowDays, vec.MaxGapHours,
		1, vec.WFair, vec.WUrgency, vec.WLRS, vec.DRConsecutivePenalty,
		time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}

func expectLoadPolicy(mock sqlmock.Sqlmock, mode PolicyMode) {
	mock.ExpectQuery("SELECT mode, auto_assign_enabled").
		WillReturnRows(sqlmock.NewRows(policyColumns).AddRow(policyRow(mode)...))
}

func TestLoadPolicy(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	expectLoadPolicy(mock, ModeBalance)

	store := NewPolicyStore(db)
	policy, err := store.LoadPolicy(context.Background())
	require.NoError(t, err)
	require.NotNil(t, policy)
	assert.Equal(t, ModeBalance, policy.Mode)
	assert.Equal(t, 60, policy.FairnessWindowDays)
	assert.Equal(t, 2.0, policy.MaxGapHours)
}

func TestLoadPolicyMissingRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT mode, auto_assign_enabled").
		WillReturnRows(sqlmock.NewRows(policyColumns))

	store := NewPolicyStore(db)
	policy, err := store.LoadPolicy(context.Background())
	require.NoError(t, err)
	assert.Nil(t, policy)
}

func TestUpdatePolicyLockedOutsideCustom(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	expectLoadPolicy(mock, ModeBalance)

	store := NewPolicyStore(db)
	w := 1.5
	_, err = store.UpdatePolicy(context.Background(), &PolicyPatch{WFair: &w}, false)
	require.Error(t, err)
	assert.Equal(t, ReasonPolicyLocked, CodeOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdatePolicyAutoAssignAllowedWhileLocked(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	expectLoadPolicy(mock, ModeBalance)
	mock.ExpectExec("UPDATE assignment_policy").
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := NewPolicyStore(db)
	off := false
	result, err := store.UpdatePolicy(context.Background(), &PolicyPatch{AutoAssignEnabled: &off}, false)
	require.NoError(t, err)
	assert.False(t, result.Policy.AutoAssignEnabled)
	assert.Equal(t, ModeBalance, result.Policy.Mode)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdatePolicyCustomTuning(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	expectLoadPolicy(mock, ModeCustom)
	mock.ExpectExec("UPDATE assignment_policy").
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := NewPolicyStore(db)
	w := 2.5
	gap := 8.0
	result, err := store.UpdatePolicy(context.Background(),
		&PolicyPatch{WFair: &w, MaxGapHours: &gap}, false)
	require.NoError(t, err)
	assert.Equal(t, 2.5, result.Policy.WFair)
	assert.Equal(t, 8.0, result.Policy.MaxGapHours)
}

func TestUpdatePolicyHardRangeRejected(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	expectLoadPolicy(mock, ModeCustom)

	store := NewPolicyStore(db)
	days := 500 // beyond the hard ceiling
	_, err = store.UpdatePolicy(context.Background(),
		&PolicyPatch{FairnessWindowDays: &days}, false)
	require.Error(t, err)
	assert.Equal(t, ReasonInvalidInput, CodeOf(err))
}

func TestUpdatePolicyValidateOnlySkipsPersist(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	// Only the load is expected; any UPDATE would fail ExpectationsWereMet.
	expectLoadPolicy(mock, ModeCustom)

	store := NewPolicyStore(db)
	w := 4.9
	result, err := store.UpdatePolicy(context.Background(), &PolicyPatch{WFair: &w}, true)
	require.NoError(t, err)
	assert.Equal(t, 4.9, result.Policy.WFair)
	assert.NotEmpty(t, result.Warnings) // beyond the recommended band
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSwitchModeAppliesCanonicalVector(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	expectLoadPolicy(mock, ModeNormal)
	mock.ExpectExec("UPDATE assignment_policy").
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := NewPolicyStore(db)
	result, err := store.SwitchMode(context.Background(), ModeUrgent, false)
	require.NoError(t, err)
	assert.Equal(t, ModeUrgent, result.Policy.Mode)
	assert.Equal(t, 14, result.Policy.FairnessWindowDays)
	assert.Equal(t, 10.0, result.Policy.MaxGapHours)
	assert.Equal(t, 2.5, result.Policy.WUrgency)
}

func TestSwitchModeToCustomKeepsValues(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	expectLoadPolicy(mock, ModeBalance)
	mock.ExpectExec("UPDATE assignment_policy").
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := NewPolicyStore(db)
	result, err := store.SwitchMode(context.Background(), ModeCustom, false)
	require.NoError(t, err)
	assert.Equal(t, ModeCustom, result.Policy.Mode)
	// CUSTOM starts from the previous mode's values.
	assert.Equal(t, 60, result.Policy.FairnessWindowDays)
	assert.Equal(t, 2.0, result.Policy.WFair)
}

func TestSwitchModeUnknown(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPolicyStore(db)
	_, err = store.SwitchMode(context.Background(), PolicyMode("TURBO"), false)
	require.Error(t, err)
	assert.Equal(t, ReasonInvalidInput, CodeOf(err))
}
