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
)

// schemaStatements bootstraps the engine's tables. Statements are idempotent
// so every instance can run them at startup.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS bookings (
		id BIGSERIAL PRIMARY KEY,
		owner_group TEXT NOT NULL DEFAULT 'other',
		meeting_type TEXT NOT NULL,
		dr_type TEXT,
		start_time TIMESTAMPTZ NOT NULL,
		end_time TIMESTAMPTZ NOT NULL,
		booking_status TEXT NOT NULL DEFAULT 'waiting',
		interpreter_emp_code TEXT,
		pool_status TEXT NOT NULL DEFAULT 'none',
		pool_entry_time TIMESTAMPTZ,
		pool_deadline_time TIMESTAMPTZ,
		pool_attempts INT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		version INT NOT NULL DEFAULT 1,
		CHECK (start_time < end_time)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_start ON bookings (start_time)`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_interpreter ON bookings (interpreter_emp_code, start_time)`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_pool ON bookings (pool_status, pool_deadline_time)`,

	`CREATE TABLE IF NOT EXISTS interpreters (
		emp_code TEXT PRIMARY KEY,
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		dept_path TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_interpreters_active ON interpreters (is_active)`,

	`CREATE TABLE IF NOT EXISTS assignment_policy (
		id INT PRIMARY KEY DEFAULT 1,
		mode TEXT NOT NULL DEFAULT 'NORMAL',
		auto_assign_enabled BOOLEAN NOT NULL DEFAULT TRUE,
		fairness_window_days INT NOT NULL DEFAULT 30,
		max_gap_hours DOUBLE PRECISION NOT NULL DEFAULT 5,
		min_advance_days INT NOT NULL DEFAULT 2,
		w_fair DOUBLE PRECISION NOT NULL DEFAULT 1.2,
		w_urgency DOUBLE PRECISION NOT NULL DEFAULT 0.8,
		w_lrs DOUBLE PRECISION NOT NULL DEFAULT 0.3,
		dr_consecutive_penalty DOUBLE PRECISION NOT NULL DEFAULT -0.5,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CHECK (id = 1)
	)`,

	`CREATE TABLE IF NOT EXISTS meeting_type_priority (
		meeting_type TEXT PRIMARY KEY,
		priority_value INT NOT NULL,
		urgent_threshold_days INT NOT NULL,
		general_threshold_days INT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CHECK (urgent_threshold_days < general_threshold_days)
	)`,

	`CREATE TABLE IF NOT EXISTS assignment_log (
		id TEXT PRIMARY KEY,
		booking_id BIGINT NOT NULL,
		interpreter_emp_code TEXT,
		status TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		pre_hours_snapshot JSONB,
		post_hours_snapshot JSONB,
		score_breakdown JSONB,
		conflict_summary JSONB,
		duration_ms BIGINT NOT NULL DEFAULT 0,
		system_state JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_assignment_log_booking ON assignment_log (booking_id)`,
	`CREATE INDEX IF NOT EXISTS idx_assignment_log_created ON assignment_log (created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS pool_entry_history (
		id TEXT PRIMARY KEY,
		booking_id BIGINT NOT NULL,
		action TEXT NOT NULL,
		prev_status TEXT NOT NULL DEFAULT 'none',
		new_status TEXT NOT NULL DEFAULT 'none',
		attempts INT NOT NULL DEFAULT 0,
		error_message TEXT NOT NULL DEFAULT '',
		system_state JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_pool_history_booking ON pool_entry_history (booking_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_pool_history_action ON pool_entry_history (action)`,

	`CREATE TABLE IF NOT EXISTS emergency_run (
		run_id TEXT PRIMARY KEY,
		triggered_by TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMPTZ NOT NULL,
		duration_ms BIGINT NOT NULL DEFAULT 0,
		total INT NOT NULL DEFAULT 0,
		assigned INT NOT NULL DEFAULT 0,
		escalated INT NOT NULL DEFAULT 0,
		failed INT NOT NULL DEFAULT 0,
		skipped INT NOT NULL DEFAULT 0,
		stats_before JSONB,
		stats_after JSONB,
		entries JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_emergency_run_started ON emergency_run (started_at DESC)`,
}

// InitializeSchema creates the engine tables if they do not exist
func InitializeSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

// defaultPriorities seeds meeting_type_priority on first boot. Values mirror
// the operational defaults used before priorities became admin-editable.
var defaultPriorities = []MeetingTypePriority{
	{MeetingType: MeetingDR, PriorityValue: 10, UrgentThresholdDays: 1, GeneralThresholdDays: 7},
	{MeetingType: MeetingVIP, PriorityValue: 9, UrgentThresholdDays: 1, GeneralThresholdDays: 7},
	{MeetingType: MeetingPresident, PriorityValue: 9, UrgentThresholdDays: 1, GeneralThresholdDays: 7},
	{MeetingType: MeetingUrgent, PriorityValue: 8, UrgentThresholdDays: 0, GeneralThresholdDays: 3},
	{MeetingType: MeetingWeekly, PriorityValue: 5, UrgentThresholdDays: 2, GeneralThresholdDays: 14},
	{MeetingType: MeetingGeneral, PriorityValue: 3, UrgentThresholdDays: 3, GeneralThresholdDays: 30},
	{MeetingType: MeetingOther, PriorityValue: 1, UrgentThresholdDays: 3, GeneralThresholdDays: 30},
}

// SeedDefaults inserts the policy singleton and default priorities when the
// tables are empty. Existing rows are never overwritten.
func SeedDefaults(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO assignment_policy (id, mode) VALUES (1, 'NORMAL')
		ON CONFLICT (id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("failed to seed policy: %w", err)
	}

	for _, p := range defaultPriorities {
		_, err := db.ExecContext(ctx, `
			INSERT INTO meeting_type_priority (meeting_type, priority_value, urgent_threshold_days, general_threshold_days)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (meeting_type) DO NOTHING
		`, string(p.MeetingType), p.PriorityValue, p.UrgentThresholdDays, p.GeneralThresholdDays)
		if err != nil {
			return fmt.Errorf("failed to seed priority for %s: %w", p.MeetingType, err)
		}
	}

	return nil
}
