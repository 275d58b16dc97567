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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePoolSource is an in-memory pool for processor and drain tests
type fakePoolSource struct {
	mu         sync.Mutex
	entries    []Booking
	denyClaims map[int64]bool
	released   []int64
	parked     []int64
	uncounted  []int64
	stats      *PoolStats
}

func (f *fakePoolSource) PeekReady(_ context.Context, _ time.Time, _ time.Duration, limit int) ([]Booking, error) {
	if limit > 0 && len(f.entries) > limit {
		return f.entries[:limit], nil
	}
	return f.entries, nil
}

// Claim mirrors the repository CAS: only claim-eligible pool statuses with
// a matching version transition to processing.
func (f *fakePoolSource) Claim(_ context.Context, bookingID int64, version int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.denyClaims[bookingID] {
		return false, nil
	}
	for i := range f.entries {
		b := &f.entries[i]
		if b.ID != bookingID {
			continue
		}
		if b.Version != version {
			return false, nil
		}
		switch b.PoolStatus {
		case PoolWaiting, PoolReady, PoolFailed:
			b.PoolStatus = PoolProcessing
			b.PoolAttempts++
			b.Version++
			return true, nil
		}
		return false, nil
	}
	return false, nil
}

func (f *fakePoolSource) Fail(_ context.Context, bookingID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.parked = append(f.parked, bookingID)
	return nil
}

func (f *fakePoolSource) Release(_ context.Context, bookingID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, bookingID)
	return nil
}

func (f *fakePoolSource) UncountAttempt(_ context.Context, bookingID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uncounted = append(f.uncounted, bookingID)
	for i := range f.entries {
		if f.entries[i].ID == bookingID && f.entries[i].PoolAttempts > 0 {
			f.entries[i].PoolAttempts--
		}
	}
	return nil
}

func (f *fakePoolSource) Stats(_ context.Context) (*PoolStats, error) {
	if f.stats != nil {
		return f.stats, nil
	}
	return &PoolStats{CountsByStatus: map[PoolStatus]int{}}, nil
}

func (f *fakePoolSource) AllEntries(_ context.Context) ([]Booking, error) {
	return f.entries, nil
}

// fakeAssigner returns canned results per booking id; unknown ids assign
type fakeAssigner struct {
	mu      sync.Mutex
	calls   []int64
	results map[int64]*AssignmentResult
	errs    map[int64]error
}

func (f *fakeAssigner) AssignBooking(_ context.Context, bookingID int64, _ string) (*AssignmentResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, bookingID)
	f.mu.Unlock()
	if err, ok := f.errs[bookingID]; ok {
		return nil, err
	}
	if r, ok := f.results[bookingID]; ok {
		return r, nil
	}
	return &AssignmentResult{BookingID: bookingID, Status: "assigned", InterpreterEmpCode: "E001"}, nil
}

func poolBooking(id int64, deadlineIn time.Duration) Booking {
	now := time.Now().UTC()
	entry := now.Add(-time.Hour)
	deadline := now.Add(deadlineIn)
	start := deadline.Add(time.Hour)
	return Booking{
		ID:               id,
		OwnerGroup:       GroupSoftware,
		MeetingType:      MeetingGeneral,
		StartTime:        start,
		EndTime:          start.Add(time.Hour),
		BookingStatus:    StatusWaiting,
		PoolStatus:       PoolWaiting,
		PoolEntryTime:    &entry,
		PoolDeadlineTime: &deadline,
		Version:          1,
	}
}

func newTestProcessor(pool *fakePoolSource, runner *fakeAssigner, policy *Policy) *PoolProcessor {
	return NewPoolProcessor(pool, runner, &fakePolicySource{policy: policy}, DefaultEngineConfig())
}

func TestProcessTickDrainsBatch(t *testing.T) {
	pool := &fakePoolSource{entries: []Booking{
		poolBooking(1, time.Hour),
		poolBooking(2, 2*time.Hour),
		poolBooking(3, 3*time.Hour),
	}}
	runner := &fakeAssigner{
		results: map[int64]*AssignmentResult{
			2: {BookingID: 2, Status: "escalated", ReasonCode: ReasonNoCandidates},
			3: {BookingID: 3, Status: "noop", ReasonCode: ReasonAlreadyAssigned},
		},
	}

	p := newTestProcessor(pool, runner, defaultTestPolicy(ModeNormal))
	report, err := p.ProcessTick(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, report.Peeked)
	assert.Equal(t, 3, report.Claimed)
	assert.Equal(t, 2, report.Assigned) // the noop counts as settled
	assert.Equal(t, 1, report.Escalated)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, []int64{1, 2, 3}, runner.calls)
	assert.NotEmpty(t, report.TickID)
}

func TestProcessTickEmptyPool(t *testing.T) {
	p := newTestProcessor(&fakePoolSource{}, &fakeAssigner{}, defaultTestPolicy(ModeNormal))
	report, err := p.ProcessTick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Peeked)
	assert.Equal(t, 0, report.Claimed)
}

func TestProcessTickSkipsLostClaims(t *testing.T) {
	pool := &fakePoolSource{
		entries:    []Booking{poolBooking(1, time.Hour), poolBooking(2, time.Hour)},
		denyClaims: map[int64]bool{1: true},
	}
	runner := &fakeAssigner{}

	p := newTestProcessor(pool, runner, defaultTestPolicy(ModeNormal))
	report, err := p.ProcessTick(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 1, report.Claimed)
	assert.Equal(t, []int64{2}, runner.calls)
}

func TestProcessTickReleasesOnTransientFailure(t *testing.T) {
	pool := &fakePoolSource{entries: []Booking{poolBooking(1, time.Hour)}}
	runner := &fakeAssigner{errs: map[int64]error{
		1: NewEngineError(ReasonTransientIO, "db gone away"),
	}}

	p := newTestProcessor(pool, runner, defaultTestPolicy(ModeNormal))
	report, err := p.ProcessTick(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, []int64{1}, pool.released)
	assert.Empty(t, pool.parked)
}

func TestProcessTickParksOnDomainFailure(t *testing.T) {
	pool := &fakePoolSource{entries: []Booking{poolBooking(1, time.Hour)}}
	runner := &fakeAssigner{errs: map[int64]error{
		1: NewEngineError(ReasonInvalidInput, "booking data invalid"),
	}}

	p := newTestProcessor(pool, runner, defaultTestPolicy(ModeNormal))
	report, err := p.ProcessTick(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, []int64{1}, pool.parked)
	assert.Empty(t, pool.released)
}

func TestProcessTickRepoolDoesNotCountAttempt(t *testing.T) {
	pool := &fakePoolSource{entries: []Booking{poolBooking(1, time.Hour)}}
	runner := &fakeAssigner{results: map[int64]*AssignmentResult{
		1: {BookingID: 1, Status: "pooled"},
	}}

	p := newTestProcessor(pool, runner, defaultTestPolicy(ModeNormal))
	report, err := p.ProcessTick(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Pooled)
	assert.Equal(t, []int64{1}, pool.uncounted)
	// A healthy lookahead re-pool leaves the attempt counter untouched, so
	// repeated ticks never trip the excessive-retries sweep.
	assert.Equal(t, 0, pool.entries[0].PoolAttempts)
}

func TestProcessTickBudgetExpiryEndsDrainCleanly(t *testing.T) {
	pool := &fakePoolSource{entries: []Booking{
		poolBooking(1, time.Hour),
		poolBooking(2, 2*time.Hour),
	}}
	runner := &fakeAssigner{}
	p := newTestProcessor(pool, runner, defaultTestPolicy(ModeNormal))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// An exhausted budget is not a tick failure: the report flags it and
	// untouched entries stay waiting for the next tick.
	report, err := p.ProcessTick(ctx)
	require.NoError(t, err)
	assert.True(t, report.BudgetExpired)
	assert.Equal(t, 0, report.Claimed)
	assert.Empty(t, runner.calls)
	assert.Equal(t, PoolWaiting, pool.entries[0].PoolStatus)
	assert.Equal(t, PoolWaiting, pool.entries[1].PoolStatus)
}

func TestProcessTickRespectsBatchSize(t *testing.T) {
	var entries []Booking
	for i := int64(1); i <= 30; i++ {
		entries = append(entries, poolBooking(i, time.Hour))
	}
	pool := &fakePoolSource{entries: entries}
	runner := &fakeAssigner{}

	cfg := DefaultEngineConfig()
	cfg.BatchSize = 5
	p := NewPoolProcessor(pool, runner, &fakePolicySource{policy: defaultTestPolicy(ModeNormal)}, cfg)

	report, err := p.ProcessTick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, report.Peeked)
	assert.Len(t, runner.calls, 5)
}

func TestProcessTickRejectsConcurrentTick(t *testing.T) {
	p := newTestProcessor(&fakePoolSource{}, &fakeAssigner{}, defaultTestPolicy(ModeNormal))
	p.running = true

	_, err := p.ProcessTick(context.Background())
	require.Error(t, err)
	assert.Equal(t, ReasonProcessingFailed, CodeOf(err))
}

func TestProcessTickParallelInCustomMode(t *testing.T) {
	var entries []Booking
	for i := int64(1); i <= 8; i++ {
		entries = append(entries, poolBooking(i, time.Hour))
	}
	pool := &fakePoolSource{entries: entries}
	runner := &fakeAssigner{}

	cfg := DefaultEngineConfig()
	cfg.Parallelism = 4
	policy := defaultTestPolicy(ModeCustom)
	p := NewPoolProcessor(pool, runner, &fakePolicySource{policy: policy}, cfg)

	report, err := p.ProcessTick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 8, report.Claimed)
	assert.Equal(t, 8, report.Assigned)
	assert.Len(t, runner.calls, 8)
}
