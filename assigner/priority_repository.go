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
)

// PriorityRepository handles database operations for meeting-type priorities
type PriorityRepository struct {
	db *sql.DB
}

// NewPriorityRepository creates a new priority repository
func NewPriorityRepository(db *sql.DB) *PriorityRepository {
	return &PriorityRepository{db: db}
}

// List returns all stored priorities ordered by priority value
func (r *PriorityRepository) List(ctx context.Context) ([]MeetingTypePriority, error) {
	query := `
		SELECT meeting_type, priority_value, urgent_threshold_days,
		       general_threshold_days, updated_at
		FROM meeting_type_priority
		ORDER BY priority_value DESC, meeting_type
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list priorities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var priorities []MeetingTypePriority
	for rows.Next() {
		var p MeetingTypePriority
		var mt string
		if err := rows.Scan(&mt, &p.PriorityValue, &p.UrgentThresholdDays,
			&p.GeneralThresholdDays, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan priority: %w", err)
		}
		p.MeetingType = MeetingType(mt)
		priorities = append(priorities, p)
	}

	return priorities, rows.Err()
}

// Get returns the priority for a meeting type, or nil when none is stored
func (r *PriorityRepository) Get(ctx context.Context, meetingType MeetingType) (*MeetingTypePriority, error) {
	query := `
		SELECT meeting_type, priority_value, urgent_threshold_days,
		       general_threshold_days, updated_at
		FROM meeting_type_priority
		WHERE meeting_type = $1
	`

	p := &MeetingTypePriority{}
	var mt string
	err := r.db.QueryRowContext(ctx, query, string(meetingType)).Scan(
		&mt, &p.PriorityValue, &p.UrgentThresholdDays,
		&p.GeneralThresholdDays, &p.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get priority: %w", err)
	}

	p.MeetingType = MeetingType(mt)
	return p, nil
}

// Upsert validates and stores a priority row
func (r *PriorityRepository) Upsert(ctx context.Context, p *MeetingTypePriority) error {
	if p.PriorityValue < 1 || p.PriorityValue > 10 {
		return NewEngineError(ReasonInvalidInput,
			fmt.Sprintf("priorityValue=%d outside allowed range [1, 10]", p.PriorityValue))
	}
	if p.UrgentThresholdDays < 0 || p.UrgentThresholdDays > 30 {
		return NewEngineError(ReasonInvalidInput,
			fmt.Sprintf("urgentThresholdDays=%d outside allowed range [0, 30]", p.UrgentThresholdDays))
	}
	if p.GeneralThresholdDays < 1 || p.GeneralThresholdDays > 365 {
		return NewEngineError(ReasonInvalidInput,
			fmt.Sprintf("generalThresholdDays=%d outside allowed range [1, 365]", p.GeneralThresholdDays))
	}
	if p.UrgentThresholdDays >= p.GeneralThresholdDays {
		return NewEngineError(ReasonInvalidInput,
			fmt.Sprintf("urgentThresholdDays=%d must be below generalThresholdDays=%d",
				p.UrgentThresholdDays, p.GeneralThresholdDays))
	}

	query := `
		INSERT INTO meeting_type_priority (
			meeting_type, priority_value, urgent_threshold_days,
			general_threshold_days, updated_at
		) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (meeting_type) DO UPDATE SET
			priority_value = EXCLUDED.priority_value,
			urgent_threshold_days = EXCLUDED.urgent_threshold_days,
			general_threshold_days = EXCLUDED.general_threshold_days,
			updated_at = EXCLUDED.updated_at
	`
	_, err := r.db.ExecContext(ctx, query,
		string(p.MeetingType), p.PriorityValue, p.UrgentThresholdDays,
		p.GeneralThresholdDays, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert priority: %w", err)
	}
	return nil
}

// ThresholdsFor resolves the urgency thresholds for a meeting type, falling
// back to the General row and finally to (3, 30) when nothing is stored.
func (r *PriorityRepository) ThresholdsFor(ctx context.Context, meetingType MeetingType) (urgent, general int, err error) {
	p, err := r.Get(ctx, meetingType)
	if err != nil {
		return 0, 0, err
	}
	if p == nil {
		p, err = r.Get(ctx, MeetingGeneral)
		if err != nil {
			return 0, 0, err
		}
	}
	if p == nil {
		return 3, 30, nil
	}
	return p.UrgentThresholdDays, p.GeneralThresholdDays, nil
}

// MeetingTypeWeight orders meeting types for pool tie-breaking.
// Higher is more important: DR > VIP > Urgent > Weekly > others.
func MeetingTypeWeight(mt MeetingType) int {
	switch mt {
	case MeetingDR:
		return 5
	case MeetingVIP:
		return 4
	case MeetingUrgent:
		return 3
	case MeetingWeekly:
		return 2
	default:
		return 1
	}
}
