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

// PoolHistoryRepository handles the append-only pool transition log
type PoolHistoryRepository struct {
	db *sql.DB
}

// NewPoolHistoryRepository creates a new pool history repository
func NewPoolHistoryRepository(db *sql.DB) *PoolHistoryRepository {
	return &PoolHistoryRepository{db: db}
}

// Append writes one pool history row
func (r *PoolHistoryRepository) Append(ctx context.Context, entry *PoolEntryHistory) error {
	return appendPoolHistory(ctx, r.db, entry)
}

func appendPoolHistory(ctx context.Context, ex execer, entry *PoolEntryHistory) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	stateJSON, err := json.Marshal(entry.SystemState)
	if err != nil {
		return fmt.Errorf("failed to marshal system state: %w", err)
	}

	query := `
		INSERT INTO pool_entry_history (
			id, booking_id, action, prev_status, new_status, attempts,
			error_message, system_state, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = ex.ExecContext(ctx, query,
		entry.ID, entry.BookingID, string(entry.Action), string(entry.PrevStatus),
		string(entry.NewStatus), entry.Attempts, entry.ErrorMessage,
		stateJSON, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert pool history: %w", err)
	}
	return nil
}

// ListByBooking returns a booking's pool transitions, most recent first
func (r *PoolHistoryRepository) ListByBooking(ctx context.Context, bookingID int64) ([]PoolEntryHistory, error) {
	query := `
		SELECT id, booking_id, action, prev_status, new_status, attempts,
		       error_message, system_state, created_at
		FROM pool_entry_history
		WHERE booking_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pool history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []PoolEntryHistory
	for rows.Next() {
		var e PoolEntryHistory
		var action, prev, next string
		var stateJSON []byte

		err := rows.Scan(&e.ID, &e.BookingID, &action, &prev, &next,
			&e.Attempts, &e.ErrorMessage, &stateJSON, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pool history: %w", err)
		}

		e.Action = PoolAction(action)
		e.PrevStatus = PoolStatus(prev)
		e.NewStatus = PoolStatus(next)
		_ = json.Unmarshal(stateJSON, &e.SystemState)

		entries = append(entries, e)
	}
	return entries, rows.Err()
}
