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

var priorityColumns = []string{
	"meeting_type", "priority_value", "urgent_threshold_days",
	"general_threshold_days", "updated_at",
}

func TestUpsertPriorityValidation(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewPriorityRepository(db)

	tests := []struct {
		name string
		p    MeetingTypePriority
	}{
		{"priority too high", MeetingTypePriority{MeetingType: MeetingDR, PriorityValue: 11, UrgentThresholdDays: 3, GeneralThresholdDays: 30}},
		{"priority too low", MeetingTypePriority{MeetingType: MeetingDR, PriorityValue: 0, UrgentThresholdDays: 3, GeneralThresholdDays: 30}},
		{"urgent negative", MeetingTypePriority{MeetingType: MeetingDR, PriorityValue: 5, UrgentThresholdDays: -1, GeneralThresholdDays: 30}},
		{"general too large", MeetingTypePriority{MeetingType: MeetingDR, PriorityValue: 5, UrgentThresholdDays: 3, GeneralThresholdDays: 400}},
		{"urgent not below general", MeetingTypePriority{MeetingType: MeetingDR, PriorityValue: 5, UrgentThresholdDays: 30, GeneralThresholdDays: 30}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := tt.p
			err := repo.Upsert(context.Background(), &p)
			require.Error(t, err)
			assert.Equal(t, ReasonInvalidInput, CodeOf(err))
		})
	}
}

func TestUpsertPriority(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO meeting_type_priority").
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewPriorityRepository(db)
	err = repo.Upsert(context.Background(), &MeetingTypePriority{
		MeetingType:          MeetingVIP,
		PriorityValue:        8,
		UrgentThresholdDays:  2,
		GeneralThresholdDays: 14,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestThresholdsForDirectHit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT meeting_type").
		WillReturnRows(sqlmock.NewRows(priorityColumns).
			AddRow("DR", 10, 5, 14, time.Now()))

	repo := NewPriorityRepository(db)
	urgent, general, err := repo.ThresholdsFor(context.Background(), MeetingDR)
	require.NoError(t, err)
	assert.Equal(t, 5, urgent)
	assert.Equal(t, 14, general)
}

func TestThresholdsForFallsBackToGeneral(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT meeting_type").
		WillReturnRows(sqlmock.NewRows(priorityColumns))
	mock.ExpectQuery("SELECT meeting_type").
		WillReturnRows(sqlmock.NewRows(priorityColumns).
			AddRow("General", 3, 3, 30, time.Now()))

	repo := NewPriorityRepository(db)
	urgent, general, err := repo.ThresholdsFor(context.Background(), MeetingWeekly)
	require.NoError(t, err)
	assert.Equal(t, 3, urgent)
	assert.Equal(t, 30, general)
}

func TestThresholdsForBuiltInDefault(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT meeting_type").
		WillReturnRows(sqlmock.NewRows(priorityColumns))
	mock.ExpectQuery("SELECT meeting_type").
		WillReturnRows(sqlmock.NewRows(priorityColumns))

	repo := NewPriorityRepository(db)
	urgent, general, err := repo.ThresholdsFor(context.Background(), MeetingOther)
	require.NoError(t, err)
	assert.Equal(t, 3, urgent)
	assert.Equal(t, 30, general)
}

func TestMeetingTypeWeight(t *testing.T) {
	// DR outranks everything; the long tail shares the floor.
	assert.Greater(t, MeetingTypeWeight(MeetingDR), MeetingTypeWeight(MeetingVIP))
	assert.Greater(t, MeetingTypeWeight(MeetingVIP), MeetingTypeWeight(MeetingUrgent))
	assert.Greater(t, MeetingTypeWeight(MeetingUrgent), MeetingTypeWeight(MeetingWeekly))
	assert.Equal(t, MeetingTypeWeight(MeetingGeneral), MeetingTypeWeight(MeetingOther))
}
