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
)

// EmergencyRunRepository persists one audit row per emergency drain, keyed
// by the run id, linking the trigger, reason, pool snapshots and per-booking
// results.
type EmergencyRunRepository struct {
	db *sql.DB
}

// NewEmergencyRunRepository creates a new emergency run repository
func NewEmergencyRunRepository(db *sql.DB) *EmergencyRunRepository {
	return &EmergencyRunRepository{db: db}
}

// Record writes the run summary row
func (r *EmergencyRunRepository) Record(ctx context.Context, report *EmergencyReport) error {
	statsBefore, err := json.Marshal(report.StatsBefore)
	if err != nil {
		return fmt.Errorf("failed to marshal pool stats: %w", err)
	}
	statsAfter, err := json.Marshal(report.StatsAfter)
	if err != nil {
		return fmt.Errorf("failed to marshal pool stats: %w", err)
	}
	entries, err := json.Marshal(report.Entries)
	if err != nil {
		return fmt.Errorf("failed to marshal run entries: %w", err)
	}

	query := `
		INSERT INTO emergency_run (
			run_id, triggered_by, reason, started_at, duration_ms,
			total, assigned, escalated, failed, skipped,
			stats_before, stats_after, entries
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = r.db.ExecContext(ctx, query,
		report.RunID, report.TriggeredBy, report.Reason, report.StartedAt,
		report.Duration.Milliseconds(), report.Total, report.Assigned,
		report.Escalated, report.Failed, report.Skipped,
		statsBefore, statsAfter, entries,
	)
	if err != nil {
		return fmt.Errorf("failed to insert emergency run: %w", err)
	}
	return nil
}
