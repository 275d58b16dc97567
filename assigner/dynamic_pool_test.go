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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestObserveFirstRunIsNeutral(t *testing.T) {
	m := NewDynamicPoolManager()
	adj := m.Observe([]string{"E001", "E002"}, map[string]float64{"E001": 4, "E002": 6})

	assert.Empty(t, adj.Added)
	assert.Empty(t, adj.Removed)
	assert.False(t, adj.ShouldRecalculate)
	assert.Equal(t, 1.0, adj.AdjustmentFactor)
}

func TestObserveUnchangedSet(t *testing.T) {
	m := NewDynamicPoolManager()
	hours := map[string]float64{"E001": 4, "E002": 6}
	m.Observe([]string{"E001", "E002"}, hours)
	adj := m.Observe([]string{"E002", "E001"}, hours)

	assert.Empty(t, adj.Added)
	assert.Empty(t, adj.Removed)
	assert.False(t, adj.Significant)
	assert.Equal(t, 1.0, adj.AdjustmentFactor)
}

func TestObserveAdditionSeedsMedian(t *testing.T) {
	m := NewDynamicPoolManager()
	m.Observe([]string{"E001", "E002", "E003"},
		map[string]float64{"E001": 2, "E002": 6, "E003": 10})

	adj := m.Observe([]string{"E001", "E002", "E003", "E004"},
		map[string]float64{"E001": 2, "E002": 6, "E003": 10, "E004": 0})

	assert.Equal(t, []string{"E004"}, adj.Added)
	assert.True(t, adj.Significant)
	assert.True(t, adj.ShouldRecalculate)
	// Newcomers are seeded with the previous pool's median hours.
	assert.InDelta(t, 6.0, adj.SeedHours, 1e-9)
	// Growth inflates the factor: 1 + 0.25 * 1/3.
	assert.InDelta(t, 1+0.25/3, adj.AdjustmentFactor, 1e-9)
}

func TestObserveRemovalDeflatesFactor(t *testing.T) {
	m := NewDynamicPoolManager()
	m.Observe([]string{"E001", "E002", "E003", "E004"},
		map[string]float64{"E001": 2, "E002": 4, "E003": 6, "E004": 8})

	adj := m.Observe([]string{"E001", "E002"},
		map[string]float64{"E001": 2, "E002": 4})

	assert.Equal(t, []string{"E003", "E004"}, adj.Removed)
	assert.True(t, adj.ShouldRecalculate)
	assert.InDelta(t, 1-0.25*2.0/4, adj.AdjustmentFactor, 1e-9)
}

func TestObserveFactorClamped(t *testing.T) {
	m := NewDynamicPoolManager()
	m.Observe([]string{"E001"}, map[string]float64{"E001": 5})

	// A massive influx cannot push the factor beyond 2.0.
	adj := m.Observe(
		[]string{"E001", "E002", "E003", "E004", "E005", "E006", "E007"},
		map[string]float64{})
	assert.True(t, adj.ShouldRecalculate)
	assert.Equal(t, 2.0, adj.AdjustmentFactor)
}

func TestObserveEvenMedian(t *testing.T) {
	m := NewDynamicPoolManager()
	m.Observe([]string{"E001", "E002"}, map[string]float64{"E001": 2, "E002": 8})
	adj := m.Observe([]string{"E001", "E002", "E003"},
		map[string]float64{"E001": 2, "E002": 8, "E003": 0})

	assert.InDelta(t, 5.0, adj.SeedHours, 1e-9)
}
