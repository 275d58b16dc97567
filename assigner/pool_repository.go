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
	"sort"
	"time"
)

// PriorityBucket classifies pool entries by time-to-deadline. Lower buckets
// drain first.
type PriorityBucket int

const (
	BucketPastDeadline PriorityBucket = 1
	BucketWithin2h     PriorityBucket = 2
	BucketWithin6h     PriorityBucket = 3
	BucketWithin24h    PriorityBucket = 4
	BucketLater        PriorityBucket = 5
)

// PriorityBucketFor classifies one deadline relative to now
func PriorityBucketFor(deadline, now time.Time) PriorityBucket {
	until := deadline.Sub(now)
	switch {
	case until < 0:
		return BucketPastDeadline
	case until <= 2*time.Hour:
		return BucketWithin2h
	case until <= 6*time.Hour:
		return BucketWithin6h
	case until <= 24*time.Hour:
		return BucketWithin24h
	default:
		return BucketLater
	}
}

// lessPoolPriority orders pool entries for draining: bucket first, then
// meeting-type weight, then pool entry time. Entries beyond 24h order on
// the raw deadline.
func lessPoolPriority(a, b *Booking, now time.Time) bool {
	da, db := deadlineOf(a), deadlineOf(b)
	ba, bb := PriorityBucketFor(da, now), PriorityBucketFor(db, now)
	if ba != bb {
		return ba < bb
	}
	if ba == BucketLater && !da.Equal(db) {
		return da.Before(db)
	}
	wa, wb := MeetingTypeWeight(a.MeetingType), MeetingTypeWeight(b.MeetingType)
	if wa != wb {
		return wa > wb
	}
	ea, eb := entryTimeOf(a), entryTimeOf(b)
	if !ea.Equal(eb) {
		return ea.Before(eb)
	}
	return a.ID < b.ID
}

func deadlineOf(b *Booking) time.Time {
	if b.PoolDeadlineTime != nil {
		return *b.PoolDeadlineTime
	}
	return b.StartTime
}

func entryTimeOf(b *Booking) time.Time {
	if b.PoolEntryTime != nil {
		return *b.PoolEntryTime
	}
	return b.CreatedAt
}

// SortByPoolPriority orders entries in place by drain priority
func SortByPoolPriority(entries []Booking, now time.Time) {
	sort.SliceStable(entries, func(i, j int) bool {
		return lessPoolPriority(&entries[i], &entries[j], now)
	})
}

// ModeLookahead is how far past deadlines the pool processor reaches on each
// tick: entries with deadline <= now + lookahead are eligible.
func ModeLookahead(mode PolicyMode, custom time.Duration) time.Duration {
	switch mode {
	case ModeBalance:
		return 6 * time.Hour
	case ModeNormal:
		return 24 * time.Hour
	case ModeUrgent:
		return 0
	default:
		return custom
	}
}

// PoolRepository persists deferred bookings. Pool state lives on the
// bookings row itself; this repository owns the pool sub-state transitions
// that are not assignment commits.
type PoolRepository struct {
	db *sql.DB
}

// NewPoolRepository creates a new pool repository
func NewPoolRepository(db *sql.DB) *PoolRepository {
	return &PoolRepository{db: db}
}

// PeekReady returns up to limit waiting entries with deadline inside the
// lookahead horizon, ordered by drain priority.
func (r *PoolRepository) PeekReady(ctx context.Context, now time.Time, lookahead time.Duration, limit int) ([]Booking, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM bookings
		WHERE pool_status = 'waiting'
		  AND booking_status != 'cancel'
		  AND pool_deadline_time <= $1
		ORDER BY pool_deadline_time
		LIMIT $2
	`, bookingColumns)

	// Over-fetch so in-horizon priority ordering is not distorted by the
	// SQL deadline sort alone.
	fetchLimit := limit * 4
	if fetchLimit < 50 {
		fetchLimit = 50
	}

	rows, err := r.db.QueryContext(ctx, query, now.Add(lookahead), fetchLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to peek pool: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Booking
	for rows.Next() {
		b, err := scanBooking(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pool entry: %w", err)
		}
		entries = append(entries, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	SortByPoolPriority(entries, now)
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// Claim atomically transitions one entry to processing using the version
// token. Returns false when another worker got there first. Besides waiting
// entries, ready and failed ones are claimable so the emergency drain can
// take the whole pool.
func (r *PoolRepository) Claim(ctx context.Context, bookingID int64, version int) (bool, error) {
	query := `
		UPDATE bookings
		SET pool_status = 'processing',
		    pool_attempts = pool_attempts + 1,
		    updated_at = NOW(),
		    version = version + 1
		WHERE id = $1 AND version = $2
		  AND pool_status IN ('waiting', 'ready', 'failed')
	`
	result, err := r.db.ExecContext(ctx, query, bookingID, version)
	if err != nil {
		return false, WrapEngineError(ReasonTransientIO, "failed to claim pool entry", err)
	}
	affected, _ := result.RowsAffected()
	return affected == 1, nil
}

// Fail transitions a processing entry to failed. The entry stays in the pool
// and may be reset to waiting by error recovery.
func (r *PoolRepository) Fail(ctx context.Context, bookingID int64) error {
	query := `
		UPDATE bookings
		SET pool_status = 'failed', updated_at = NOW(), version = version + 1
		WHERE id = $1 AND pool_status = 'processing'
	`
	if _, err := r.db.ExecContext(ctx, query, bookingID); err != nil {
		return WrapEngineError(ReasonTransientIO, "failed to fail pool entry", err)
	}
	return nil
}

// Release returns a claimed entry to waiting without counting the attempt as
// a failure (used when a tick runs out of budget).
func (r *PoolRepository) Release(ctx context.Context, bookingID int64) error {
	query := `
		UPDATE bookings
		SET pool_status = 'waiting',
		    pool_attempts = GREATEST(pool_attempts - 1, 0),
		    updated_at = NOW(),
		    version = version + 1
		WHERE id = $1 AND pool_status = 'processing'
	`
	if _, err := r.db.ExecContext(ctx, query, bookingID); err != nil {
		return WrapEngineError(ReasonTransientIO, "failed to release pool entry", err)
	}
	return nil
}

// UncountAttempt reverses a claim's attempt increment for entries the runner
// put straight back to waiting (lookahead re-pools).
func (r *PoolRepository) UncountAttempt(ctx context.Context, bookingID int64) error {
	query := `
		UPDATE bookings
		SET pool_attempts = GREATEST(pool_attempts - 1, 0),
		    updated_at = NOW(),
		    version = version + 1
		WHERE id = $1 AND pool_status = 'waiting'
	`
	if _, err := r.db.ExecContext(ctx, query, bookingID); err != nil {
		return WrapEngineError(ReasonTransientIO, "failed to uncount pool attempt", err)
	}
	return nil
}

// ResetFailed returns failed entries older than age to waiting. Returns the
// ids that were reset.
func (r *PoolRepository) ResetFailed(ctx context.Context, age time.Duration) ([]int64, error) {
	query := `
		UPDATE bookings
		SET pool_status = 'waiting', updated_at = NOW(), version = version + 1
		WHERE pool_status = 'failed' AND updated_at <= $1
		RETURNING id
	`
	return r.updateReturningIDs(ctx, query, time.Now().UTC().Add(-age))
}

// ResetStuckProcessing returns processing entries older than age to waiting
func (r *PoolRepository) ResetStuckProcessing(ctx context.Context, age time.Duration) ([]int64, error) {
	query := `
		UPDATE bookings
		SET pool_status = 'waiting', updated_at = NOW(), version = version + 1
		WHERE pool_status = 'processing' AND updated_at <= $1
		RETURNING id
	`
	return r.updateReturningIDs(ctx, query, time.Now().UTC().Add(-age))
}

// ResetExcessiveRetries zeroes the attempt counter of entries beyond the
// threshold and returns them to waiting for admin review.
func (r *PoolRepository) ResetExcessiveRetries(ctx context.Context, maxAttempts int) ([]int64, error) {
	query := `
		UPDATE bookings
		SET pool_status = 'waiting', pool_attempts = 0, updated_at = NOW(),
		    version = version + 1
		WHERE pool_status IN ('waiting', 'failed', 'processing')
		  AND pool_attempts > $1
		RETURNING id
	`
	return r.updateReturningIDs(ctx, query, maxAttempts)
}

func (r *PoolRepository) updateReturningIDs(ctx context.Context, query string, arg interface{}) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, WrapEngineError(ReasonTransientIO, "pool reset failed", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan reset id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Remove takes an entry out of the pool entirely, clearing pool state. The
// booking row itself is never deleted.
func (r *PoolRepository) Remove(ctx context.Context, bookingID int64) error {
	query := `
		UPDATE bookings
		SET pool_status = 'none', pool_entry_time = NULL,
		    pool_deadline_time = NULL, updated_at = NOW(), version = version + 1
		WHERE id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, bookingID); err != nil {
		return WrapEngineError(ReasonTransientIO, "failed to remove pool entry", err)
	}
	return nil
}

// AllEntries returns every live pool entry regardless of deadline; the
// emergency override drains this set.
func (r *PoolRepository) AllEntries(ctx context.Context) ([]Booking, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM bookings
		WHERE pool_status IN ('waiting', 'ready', 'failed')
		  AND booking_status != 'cancel'
		ORDER BY pool_deadline_time
	`, bookingColumns)

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list pool entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Booking
	for rows.Next() {
		b, err := scanBooking(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pool entry: %w", err)
		}
		entries = append(entries, *b)
	}
	return entries, rows.Err()
}

// Stats summarises the pool for dashboards and the health check
func (r *PoolRepository) Stats(ctx context.Context) (*PoolStats, error) {
	query := `
		SELECT pool_status, COUNT(*), MIN(pool_entry_time)
		FROM bookings
		WHERE pool_status != 'none'
		GROUP BY pool_status
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query pool stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	stats := &PoolStats{CountsByStatus: make(map[PoolStatus]int)}
	for rows.Next() {
		var status string
		var count int
		var oldest sql.NullTime
		if err := rows.Scan(&status, &count, &oldest); err != nil {
			return nil, fmt.Errorf("failed to scan pool stats: %w", err)
		}
		ps := PoolStatus(status)
		stats.CountsByStatus[ps] = count
		if ps == PoolProcessing {
			stats.ProcessingInFlight = count
		}
		if oldest.Valid && (ps == PoolWaiting || ps == PoolReady || ps == PoolProcessing || ps == PoolFailed) {
			if stats.OldestEntryTime == nil || oldest.Time.Before(*stats.OldestEntryTime) {
				t := oldest.Time
				stats.OldestEntryTime = &t
			}
		}
	}
	return stats, rows.Err()
}
