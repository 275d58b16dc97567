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
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// execer abstracts *sql.DB and *sql.Tx for append helpers shared between
// standalone writes and the Runner's transactional commit.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// AssignmentLogRepository handles the append-only assignment audit log
type AssignmentLogRepository struct {
	db *sql.DB
}

// NewAssignmentLogRepository creates a new assignment log repository
func NewAssignmentLogRepository(db *sql.DB) *AssignmentLogRepository {
	return &AssignmentLogRepository{db: db}
}

// Append writes one assignment log row
func (r *AssignmentLogRepository) Append(ctx context.Context, entry *AssignmentLog) error {
	return appendAssignmentLog(ctx, r.db, entry)
}

func appendAssignmentLog(ctx context.Context, ex execer, entry *AssignmentLog) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	preJSON, err := json.Marshal(entry.PreHoursSnapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal pre-hours snapshot: %w", err)
	}
	postJSON, err := json.Marshal(entry.PostHoursSnapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal post-hours snapshot: %w", err)
	}
	breakdownJSON, err := json.Marshal(entry.Breakdown)
	if err != nil {
		return fmt.Errorf("failed to marshal score breakdown: %w", err)
	}
	conflictJSON, err := json.Marshal(entry.ConflictSummary)
	if err != nil {
		return fmt.Errorf("failed to marshal conflict summary: %w", err)
	}
	stateJSON, err := json.Marshal(entry.SystemState)
	if err != nil {
		return fmt.Errorf("failed to marshal system state: %w", err)
	}

	query := `
		INSERT INTO assignment_log (
			id, booking_id, interpreter_emp_code, status, reason,
			pre_hours_snapshot, post_hours_snapshot, score_breakdown,
			conflict_summary, duration_ms, system_state, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = ex.ExecContext(ctx, query,
		entry.ID, entry.BookingID, entry.InterpreterEmpCode, string(entry.Status),
		entry.Reason, preJSON, postJSON, breakdownJSON, conflictJSON,
		entry.DurationMS, stateJSON, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert assignment log: %w", err)
	}
	return nil
}

// ListByBooking returns a booking's decision history, most recent first
func (r *AssignmentLogRepository) ListByBooking(ctx context.Context, bookingID int64) ([]AssignmentLog, error) {
	query := `
		SELECT id, booking_id, interpreter_emp_code, status, reason,
		       pre_hours_snapshot, post_hours_snapshot, score_breakdown,
		       conflict_summary, duration_ms, system_state, created_at
		FROM assignment_log
		WHERE booking_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignment logs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []AssignmentLog
	for rows.Next() {
		var e AssignmentLog
		var status string
		var empCode sql.NullString
		var preJSON, postJSON, breakdownJSON, conflictJSON, stateJSON []byte

		err := rows.Scan(&e.ID, &e.BookingID, &empCode, &status, &e.Reason,
			&preJSON, &postJSON, &breakdownJSON, &conflictJSON,
			&e.DurationMS, &stateJSON, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assignment log: %w", err)
		}

		e.Status = AssignmentStatus(status)
		if empCode.Valid && empCode.String != "" {
			code := empCode.String
			e.InterpreterEmpCode = &code
		}
		_ = json.Unmarshal(preJSON, &e.PreHoursSnapshot)
		_ = json.Unmarshal(postJSON, &e.PostHoursSnapshot)
		_ = json.Unmarshal(breakdownJSON, &e.Breakdown)
		_ = json.Unmarshal(conflictJSON, &e.ConflictSummary)
		_ = json.Unmarshal(stateJSON, &e.SystemState)

		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// LatestDecision returns the most recent log row for a booking, or nil
func (r *AssignmentLogRepository) LatestDecision(ctx context.Context, bookingID int64) (*AssignmentLog, error) {
	entries, err := r.ListByBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}
