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

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmergencyRunStore struct {
	recorded []*EmergencyReport
}

func (f *fakeEmergencyRunStore) Record(_ context.Context, report *EmergencyReport) error {
	f.recorded = append(f.recorded, report)
	return nil
}

func newTestEmergency(pool *fakePoolSource, runner *fakeAssigner) (*EmergencyProcessor, *[]time.Duration) {
	e := NewEmergencyProcessor(pool, runner, nil, nil)
	var slept []time.Duration
	e.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return e, &slept
}

func TestEmergencyDrainAssignsWholePool(t *testing.T) {
	parked := poolBooking(4, 3*time.Hour)
	parked.PoolStatus = PoolFailed
	pool := &fakePoolSource{entries: []Booking{
		poolBooking(1, time.Hour),
		poolBooking(2, 48*time.Hour), // beyond any lookahead; drained anyway
		poolBooking(3, -time.Hour),   // past deadline
		parked,                       // failed entries are drain-eligible too
	}}
	runner := &fakeAssigner{}

	e, _ := newTestEmergency(pool, runner)
	report, err := e.Drain(context.Background(), "admin-007", "pipeline stalled")
	require.NoError(t, err)

	assert.Equal(t, "admin-007", report.TriggeredBy)
	assert.Equal(t, "pipeline stalled", report.Reason)
	assert.Equal(t, 4, report.Total)
	assert.Equal(t, 4, report.Assigned)
	assert.Equal(t, 0, report.Skipped)
	assert.Equal(t, 0, report.Failed)
	assert.NotEmpty(t, report.RunID)
	// Past-deadline entries drain first.
	assert.Equal(t, int64(3), runner.calls[0])
	require.Len(t, report.Entries, 4)
	assert.Equal(t, 1, report.Entries[0].Attempts)
	assert.Equal(t, int(BucketPastDeadline), report.Entries[0].Bucket)
	require.NotNil(t, report.Entries[0].TimeToDeadlineMs)
	assert.Negative(t, *report.Entries[0].TimeToDeadlineMs)
	assert.False(t, report.Entries[0].ManualAssignmentRequired)
	assert.NotNil(t, report.StatsBefore)
	assert.NotNil(t, report.StatsAfter)
}

func TestEmergencyDrainRetriesTransientThenParks(t *testing.T) {
	pool := &fakePoolSource{entries: []Booking{poolBooking(1, time.Hour)}}
	runner := &fakeAssigner{errs: map[int64]error{
		1: NewEngineError(ReasonTransientIO, "db gone away"),
	}}

	e, slept := newTestEmergency(pool, runner)
	report, err := e.Drain(context.Background(), "admin-007", "pipeline stalled")
	require.NoError(t, err)

	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Entries, 1)
	line := report.Entries[0]
	assert.Equal(t, "failed", line.Status)
	assert.Equal(t, emergencyRetryLimit, line.Attempts)
	assert.Equal(t, ReasonTransientIO, line.ReasonCode)
	assert.True(t, line.ManualAssignmentRequired)

	// Exponential backoff between the five attempts, shifted and capped.
	assert.Equal(t, []time.Duration{
		500 * time.Millisecond, time.Second, 2 * time.Second, 4 * time.Second,
	}, *slept)

	assert.Equal(t, []int64{1}, pool.parked)
}

func TestEmergencyDrainNonTransientFailsFast(t *testing.T) {
	pool := &fakePoolSource{entries: []Booking{poolBooking(1, time.Hour)}}
	runner := &fakeAssigner{errs: map[int64]error{
		1: NewEngineError(ReasonInvalidInput, "booking data invalid"),
	}}

	e, slept := newTestEmergency(pool, runner)
	report, err := e.Drain(context.Background(), "admin-007", "pipeline stalled")
	require.NoError(t, err)

	require.Len(t, report.Entries, 1)
	assert.Equal(t, 1, report.Entries[0].Attempts)
	assert.Empty(t, *slept)
	assert.Equal(t, 1, report.Failed)
}

func TestEmergencyDrainSkipsLostClaims(t *testing.T) {
	pool := &fakePoolSource{
		entries:    []Booking{poolBooking(1, time.Hour), poolBooking(2, time.Hour)},
		denyClaims: map[int64]bool{1: true},
	}
	runner := &fakeAssigner{}

	e, _ := newTestEmergency(pool, runner)
	report, err := e.Drain(context.Background(), "admin-007", "pipeline stalled")
	require.NoError(t, err)

	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 1, report.Assigned)
	assert.Equal(t, []int64{2}, runner.calls)
}

func TestEmergencyDrainEmptyPool(t *testing.T) {
	e, _ := newTestEmergency(&fakePoolSource{}, &fakeAssigner{})
	report, err := e.Drain(context.Background(), "admin-007", "pipeline stalled")
	require.NoError(t, err)
	assert.Equal(t, 0, report.Total)
	assert.Empty(t, report.Entries)
}

func TestEmergencyDrainRecordsRunAudit(t *testing.T) {
	pool := &fakePoolSource{entries: []Booking{poolBooking(1, time.Hour)}}
	runs := &fakeEmergencyRunStore{}
	e := NewEmergencyProcessor(pool, &fakeAssigner{}, nil, runs)

	report, err := e.Drain(context.Background(), "admin-007", "pipeline stalled")
	require.NoError(t, err)

	require.Len(t, runs.recorded, 1)
	recorded := runs.recorded[0]
	assert.Equal(t, report.RunID, recorded.RunID)
	assert.Equal(t, "admin-007", recorded.TriggeredBy)
	assert.Equal(t, "pipeline stalled", recorded.Reason)
	assert.Equal(t, 1, recorded.Assigned)
	assert.NotNil(t, recorded.StatsBefore)
	assert.NotNil(t, recorded.StatsAfter)
}

func TestEmergencyDrainRejectsConcurrentRun(t *testing.T) {
	e, _ := newTestEmergency(&fakePoolSource{}, &fakeAssigner{})
	e.running = true

	_, err := e.Drain(context.Background(), "admin-007", "pipeline stalled")
	require.Error(t, err)
	assert.Equal(t, ReasonProcessingFailed, CodeOf(err))
}

func TestEmergencyRunRepositoryRecord(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	started := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	report := &EmergencyReport{
		RunID:       "run-1",
		TriggeredBy: "admin-007",
		Reason:      "pipeline stalled",
		StartedAt:   started,
		Duration:    3 * time.Second,
		Total:       2,
		Assigned:    1,
		Failed:      1,
		Entries: []EmergencyEntryResult{
			{BookingID: 1, Status: "assigned"},
			{BookingID: 2, Status: "failed"},
		},
	}

	mock.ExpectExec("INSERT INTO emergency_run").
		WithArgs("run-1", "admin-007", "pipeline stalled", started, int64(3000),
			2, 1, 0, 1, 0, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewEmergencyRunRepository(db)
	require.NoError(t, repo.Record(context.Background(), report))
	assert.NoError(t, mock.ExpectationsWereMet())
}
