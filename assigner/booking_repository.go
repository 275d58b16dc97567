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

	"github.com/lib/pq"
)

const bookingColumns = `
	id, owner_group, meeting_type, COALESCE(dr_type, ''), start_time, end_time,
	booking_status, interpreter_emp_code, pool_status, pool_entry_time,
	pool_deadline_time, pool_attempts, created_at, updated_at, version
`

// BookingRepository handles database operations for bookings, including the
// optimistic-concurrency transitions the Runner relies on.
type BookingRepository struct {
	db *sql.DB
}

// NewBookingRepository creates a new booking repository
func NewBookingRepository(db *sql.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

func scanBooking(scan func(...interface{}) error) (*Booking, error) {
	b := &Booking{}
	var ownerGroup, meetingType, drType, bookingStatus, poolStatus string
	var empCode sql.NullString
	var entryTime, deadlineTime sql.NullTime

	err := scan(
		&b.ID, &ownerGroup, &meetingType, &drType, &b.StartTime, &b.EndTime,
		&bookingStatus, &empCode, &poolStatus, &entryTime, &deadlineTime,
		&b.PoolAttempts, &b.CreatedAt, &b.UpdatedAt, &b.Version,
	)
	if err != nil {
		return nil, err
	}

	b.OwnerGroup = OwnerGroup(ownerGroup)
	b.MeetingType = MeetingType(meetingType)
	b.DRType = DRType(drType)
	b.BookingStatus = BookingStatus(bookingStatus)
	b.PoolStatus = PoolStatus(poolStatus)
	if empCode.Valid && empCode.String != "" {
		code := empCode.String
		b.InterpreterEmpCode = &code
	}
	if entryTime.Valid {
		t := entryTime.Time
		b.PoolEntryTime = &t
	}
	if deadlineTime.Valid {
		t := deadlineTime.Time
		b.PoolDeadlineTime = &t
	}
	return b, nil
}

// Get returns a booking by id, or nil when it does not exist
func (r *BookingRepository) Get(ctx context.Context, id int64) (*Booking, error) {
	query := fmt.Sprintf(`SELECT %s FROM bookings WHERE id = $1`, bookingColumns)
	row := r.db.QueryRowContext(ctx, query, id)
	b, err := scanBooking(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return b, nil
}

// Create inserts a new booking in waiting state. Used by the intake flow and
// by tests; the engine itself never creates bookings.
func (r *BookingRepository) Create(ctx context.Context, b *Booking) error {
	if !b.StartTime.Before(b.EndTime) {
		return NewEngineError(ReasonInvalidInput, "booking start must precede end")
	}

	query := `
		INSERT INTO bookings (
			owner_group, meeting_type, dr_type, start_time, end_time,
			booking_status, pool_status, created_at, updated_at, version
		) VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $8, 1)
		RETURNING id
	`
	now := time.Now().UTC()
	if b.BookingStatus == "" {
		b.BookingStatus = StatusWaiting
	}
	if b.PoolStatus == "" {
		b.PoolStatus = PoolNone
	}
	err := r.db.QueryRowContext(ctx, query,
		string(b.OwnerGroup), string(b.MeetingType), string(b.DRType),
		b.StartTime, b.EndTime, string(b.BookingStatus), string(b.PoolStatus), now,
	).Scan(&b.ID)
	if err != nil {
		return fmt.Errorf("failed to create booking: %w", err)
	}
	b.CreatedAt = now
	b.UpdatedAt = now
	b.Version = 1
	return nil
}

// Overlapping returns the non-cancelled bookings of one interpreter whose
// [start, end) interval intersects the given window. Adjacency is not an
// intersection (s1 < e2 AND s2 < e1).
func (r *BookingRepository) Overlapping(ctx context.Context, empCode string, start, end time.Time, excludeBookingID int64) ([]Booking, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM bookings
		WHERE interpreter_emp_code = $1
		  AND booking_status != 'cancel'
		  AND start_time < $3 AND $2 < end_time
		  AND id != $4
		ORDER BY start_time
	`, bookingColumns)

	rows, err := r.db.QueryContext(ctx, query, empCode, start, end, excludeBookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to query overlapping bookings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var bookings []Booking
	for rows.Next() {
		b, err := scanBooking(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, *b)
	}
	return bookings, rows.Err()
}

// OverlappingBatch is the availability hot path: one query resolving the
// conflicting bookings for a whole candidate set.
func (r *BookingRepository) OverlappingBatch(ctx context.Context, empCodes []string, start, end time.Time, excludeBookingID int64) (map[string][]Booking, error) {
	if len(empCodes) == 0 {
		return map[string][]Booking{}, nil
	}

	query := fmt.Sprintf(`
		SELECT %s FROM bookings
		WHERE interpreter_emp_code = ANY($1)
		  AND booking_status != 'cancel'
		  AND start_time < $3 AND $2 < end_time
		  AND id != $4
		ORDER BY interpreter_emp_code, start_time
	`, bookingColumns)

	rows, err := r.db.QueryContext(ctx, query, pq.Array(empCodes), start, end, excludeBookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to query batch availability: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := make(map[string][]Booking)
	for rows.Next() {
		b, err := scanBooking(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		if b.InterpreterEmpCode != nil {
			result[*b.InterpreterEmpCode] = append(result[*b.InterpreterEmpCode], *b)
		}
	}
	return result, rows.Err()
}

// HoursInWindow sums assigned, non-cancelled hours per interpreter over the
// rolling fairness window [now - windowDays, now).
func (r *BookingRepository) HoursInWindow(ctx context.Context, empCodes []string, now time.Time, windowDays int) (map[string]float64, error) {
	result := make(map[string]float64, len(empCodes))
	for _, code := range empCodes {
		result[code] = 0
	}
	if len(empCodes) == 0 {
		return result, nil
	}

	windowStart := now.AddDate(0, 0, -windowDays)
	query := `
		SELECT interpreter_emp_code,
		       COALESCE(SUM(EXTRACT(EPOCH FROM (end_time - start_time)) / 3600.0), 0)
		FROM bookings
		WHERE interpreter_emp_code = ANY($1)
		  AND booking_status != 'cancel'
		  AND start_time >= $2 AND start_time < $3
		GROUP BY interpreter_emp_code
	`

	rows, err := r.db.QueryContext(ctx, query, pq.Array(empCodes), windowStart, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query hours in window: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var code string
		var hours float64
		if err := rows.Scan(&code, &hours); err != nil {
			return nil, fmt.Errorf("failed to scan hours: %w", err)
		}
		result[code] = hours
	}
	return result, rows.Err()
}

// LastAssignedAt returns the most recent assigned, non-cancelled booking
// start per interpreter. Interpreters with no assignment are absent from
// the map.
func (r *BookingRepository) LastAssignedAt(ctx context.Context, empCodes []string, now time.Time) (map[string]time.Time, error) {
	result := make(map[string]time.Time)
	if len(empCodes) == 0 {
		return result, nil
	}

	query := `
		SELECT interpreter_emp_code, MAX(start_time)
		FROM bookings
		WHERE interpreter_emp_code = ANY($1)
		  AND booking_status != 'cancel'
		  AND start_time < $2
		GROUP BY interpreter_emp_code
	`

	rows, err := r.db.QueryContext(ctx, query, pq.Array(empCodes), now)
	if err != nil {
		return nil, fmt.Errorf("failed to query last assignments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var code string
		var last time.Time
		if err := rows.Scan(&code, &last); err != nil {
			return nil, fmt.Errorf("failed to scan last assignment: %w", err)
		}
		result[code] = last
	}
	return result, rows.Err()
}

// DRAssignment is one row of DR history used by the consecutive policy
type DRAssignment struct {
	EmpCode   string
	StartTime time.Time
}

// RecentDRAssignments returns DR assignments ordered most recent first.
// scopeGroup restricts history to one owning group (local scope);
// includePending also counts DR bookings still waiting in the pool.
func (r *BookingRepository) RecentDRAssignments(ctx context.Context, scopeGroup *OwnerGroup, includePending bool, before time.Time, limit int) ([]DRAssignment, error) {
	query := `
		SELECT interpreter_emp_code, start_time
		FROM bookings
		WHERE meeting_type = 'DR'
		  AND booking_status != 'cancel'
		  AND interpreter_emp_code IS NOT NULL
		  AND start_time < $1
	`
	args := []interface{}{before}
	argIndex := 2

	if !includePending {
		query += ` AND booking_status = 'approve'`
	}
	if scopeGroup != nil {
		query += fmt.Sprintf(` AND owner_group = $%d`, argIndex)
		args = append(args, string(*scopeGroup))
		argIndex++
	}

	query += fmt.Sprintf(` ORDER BY start_time DESC LIMIT $%d`, argIndex)
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query DR history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var history []DRAssignment
	for rows.Next() {
		var a DRAssignment
		if err := rows.Scan(&a.EmpCode, &a.StartTime); err != nil {
			return nil, fmt.Errorf("failed to scan DR history: %w", err)
		}
		history = append(history, a)
	}
	return history, rows.Err()
}

// CommitAssignment atomically assigns an interpreter, appends the
// assignment log, and (for previously pooled bookings) the pool history, in
// one transaction guarded by the version token. A pooled booking moves to
// pool sub-state "assigned"; a never-pooled one stays at "none". Returns
// CONFLICT_CONCURRENT_UPDATE when the version no longer matches; the
// booking is then untouched.
func (r *BookingRepository) CommitAssignment(ctx context.Context, bookingID int64, version int, empCode string, logEntry *AssignmentLog, hist *PoolEntryHistory) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		query := `
			UPDATE bookings
			SET interpreter_emp_code = $1,
			    booking_status = 'approve',
			    pool_status = CASE WHEN pool_status = 'none' THEN 'none' ELSE 'assigned' END,
			    updated_at = NOW(),
			    version = version + 1
			WHERE id = $2 AND version = $3 AND booking_status != 'cancel'
		`
		result, err := tx.ExecContext(ctx, query, empCode, bookingID, version)
		if err != nil {
			return WrapEngineError(ReasonTransientIO, "failed to assign booking", err)
		}
		affected, _ := result.RowsAffected()
		if affected == 0 {
			return NewEngineError(ReasonConcurrentUpdate,
				fmt.Sprintf("booking %d changed concurrently (expected version %d)", bookingID, version))
		}
		if logEntry != nil {
			if err := appendAssignmentLog(ctx, tx, logEntry); err != nil {
				return err
			}
		}
		if hist != nil {
			if err := appendPoolHistory(ctx, tx, hist); err != nil {
				return err
			}
		}
		return nil
	})
}

// CommitPoolEntry atomically transitions a booking into the deferred pool
// with the computed deadline and appends the pool history row.
func (r *BookingRepository) CommitPoolEntry(ctx context.Context, bookingID int64, version int, entryTime, deadline time.Time, hist *PoolEntryHistory) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		query := `
			UPDATE bookings
			SET pool_status = 'waiting',
			    pool_entry_time = $1,
			    pool_deadline_time = $2,
			    updated_at = NOW(),
			    version = version + 1
			WHERE id = $3 AND version = $4 AND booking_status != 'cancel'
		`
		result, err := tx.ExecContext(ctx, query, entryTime, deadline, bookingID, version)
		if err != nil {
			return WrapEngineError(ReasonTransientIO, "failed to pool booking", err)
		}
		affected, _ := result.RowsAffected()
		if affected == 0 {
			return NewEngineError(ReasonConcurrentUpdate,
				fmt.Sprintf("booking %d changed concurrently (expected version %d)", bookingID, version))
		}
		if hist != nil {
			return appendPoolHistory(ctx, tx, hist)
		}
		return nil
	})
}

// CommitEscalation atomically marks a booking for human intervention and
// appends the assignment log and pool history. Terminal: the scheduler never
// picks escalated entries up again.
func (r *BookingRepository) CommitEscalation(ctx context.Context, bookingID int64, version int, logEntry *AssignmentLog, hist *PoolEntryHistory) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		query := `
			UPDATE bookings
			SET pool_status = 'escalated',
			    updated_at = NOW(),
			    version = version + 1
			WHERE id = $1 AND version = $2
		`
		result, err := tx.ExecContext(ctx, query, bookingID, version)
		if err != nil {
			return WrapEngineError(ReasonTransientIO, "failed to escalate booking", err)
		}
		affected, _ := result.RowsAffected()
		if affected == 0 {
			return NewEngineError(ReasonConcurrentUpdate,
				fmt.Sprintf("booking %d changed concurrently (expected version %d)", bookingID, version))
		}
		if logEntry != nil {
			if err := appendAssignmentLog(ctx, tx, logEntry); err != nil {
				return err
			}
		}
		if hist != nil {
			return appendPoolHistory(ctx, tx, hist)
		}
		return nil
	})
}

func (r *BookingRepository) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return WrapEngineError(ReasonTransientIO, "failed to begin transaction", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return WrapEngineError(ReasonTransientIO, "failed to commit transaction", err)
	}
	return nil
}

// Cancel is the administrative cancel: one transaction sets the status and
// clears any assignment and pool state.
func (r *BookingRepository) Cancel(ctx context.Context, bookingID int64) error {
	query := `
		UPDATE bookings
		SET booking_status = 'cancel',
		    interpreter_emp_code = NULL,
		    pool_status = 'none',
		    pool_entry_time = NULL,
		    pool_deadline_time = NULL,
		    updated_at = NOW(),
		    version = version + 1
		WHERE id = $1
	`
	result, err := r.db.ExecContext(ctx, query, bookingID)
	if err != nil {
		return WrapEngineError(ReasonTransientIO, "failed to cancel booking", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return NewEngineError(ReasonNotFound, fmt.Sprintf("booking %d not found", bookingID))
	}
	return nil
}
