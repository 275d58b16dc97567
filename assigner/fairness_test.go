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
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFairnessSource struct {
	hours  map[string]float64
	lastAt map[string]time.Time
}

func (f *fakeFairnessSource) HoursInWindow(_ context.Context, empCodes []string, _ time.Time, _ int) (map[string]float64, error) {
	result := make(map[string]float64, len(empCodes))
	for _, code := range empCodes {
		result[code] = f.hours[code]
	}
	return result, nil
}

func (f *fakeFairnessSource) LastAssignedAt(_ context.Context, empCodes []string, _ time.Time) (map[string]time.Time, error) {
	result := make(map[string]time.Time)
	for _, code := range empCodes {
		if t, ok := f.lastAt[code]; ok {
			result[code] = t
		}
	}
	return result, nil
}

func TestCollectFairnessSignals(t *testing.T) {
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	source := &fakeFairnessSource{
		hours: map[string]float64{"E001": 12.5, "E002": 0},
		lastAt: map[string]time.Time{
			"E001": now.AddDate(0, 0, -3),
		},
	}

	signals, err := NewFairnessAccountant(source).Collect(context.Background(), []string{"E001", "E002"}, now, 30)
	require.NoError(t, err)
	require.Len(t, signals, 2)

	assert.Equal(t, 12.5, signals["E001"].CurrentHours)
	assert.InDelta(t, 3.0, signals["E001"].DaysSinceLast, 1e-9)
	require.NotNil(t, signals["E001"].LastAssigned)

	// Never assigned: infinite recency, so the LRS signal saturates.
	assert.Equal(t, 0.0, signals["E002"].CurrentHours)
	assert.True(t, math.IsInf(signals["E002"].DaysSinceLast, 1))
	assert.Nil(t, signals["E002"].LastAssigned)
}

func TestCollectFairnessSignalsEmpty(t *testing.T) {
	signals, err := NewFairnessAccountant(&fakeFairnessSource{}).Collect(context.Background(), nil, time.Now(), 30)
	require.NoError(t, err)
	assert.Empty(t, signals)
}
