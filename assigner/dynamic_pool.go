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
	"sort"
	"sync"
)

// PoolAdjustment is the fairness directive emitted when the active
// interpreter set changes between runs.
type PoolAdjustment struct {
	Added             []string `json:"added,omitempty"`
	Removed           []string `json:"removed,omitempty"`
	Significant       bool     `json:"significant"`
	ShouldRecalculate bool     `json:"shouldRecalculate"`
	AdjustmentFactor  float64  `json:"adjustmentFactor"`
	// SeedHours is the hours value newly added interpreters are treated
	// as carrying (the previous pool's median) so historical staff are
	// not starved by zero-hour newcomers.
	SeedHours float64 `json:"seedHours"`
}

// DynamicPoolManager tracks active-set membership across runner invocations.
// It is process-local state: a fresh leader observes the set anew on its
// first run, which only costs one neutral adjustment.
type DynamicPoolManager struct {
	mu           sync.Mutex
	lastSeen     map[string]bool
	lastHours    map[string]float64
	observedOnce bool
}

// NewDynamicPoolManager creates an empty manager
func NewDynamicPoolManager() *DynamicPoolManager {
	return &DynamicPoolManager{
		lastSeen:  make(map[string]bool),
		lastHours: make(map[string]float64),
	}
}

// Observe diffs the current active set against the last observed one and
// returns the fairness adjustment. currentHours is the per-interpreter
// window hours of the current set, used to seed newcomers with the previous
// pool's median.
func (m *DynamicPoolManager) Observe(current []string, currentHours map[string]float64) *PoolAdjustment {
	m.mu.Lock()
	defer m.mu.Unlock()

	adj := &PoolAdjustment{AdjustmentFactor: 1.0}

	currentSet := make(map[string]bool, len(current))
	for _, code := range current {
		currentSet[code] = true
	}

	if m.observedOnce {
		for code := range currentSet {
			if !m.lastSeen[code] {
				adj.Added = append(adj.Added, code)
			}
		}
		for code := range m.lastSeen {
			if !currentSet[code] {
				adj.Removed = append(adj.Removed, code)
			}
		}
		sort.Strings(adj.Added)
		sort.Strings(adj.Removed)

		prev := len(m.lastSeen)
		changed := len(adj.Added) + len(adj.Removed)
		if changed > 0 && prev > 0 {
			threshold := int(0.1 * float64(prev))
			if threshold < 1 {
				threshold = 1
			}
			if changed >= threshold {
				adj.Significant = true
				adj.ShouldRecalculate = true
				adj.AdjustmentFactor = clamp(
					1+0.25*float64(len(adj.Added)-len(adj.Removed))/float64(prev),
					0.5, 2.0)
				adj.SeedHours = medianHours(m.lastHours)
			}
		}
	}

	m.lastSeen = currentSet
	m.lastHours = make(map[string]float64, len(currentHours))
	for code, h := range currentHours {
		m.lastHours[code] = h
	}
	m.observedOnce = true

	return adj
}

// medianHours returns the median of a hours map, 0 when empty
func medianHours(hours map[string]float64) float64 {
	if len(hours) == 0 {
		return 0
	}
	values := make([]float64, 0, len(hours))
	for _, h := range hours {
		values = append(values, h)
	}
	sort.Float64s(values)
	mid := len(values) / 2
	if len(values)%2 == 1 {
		return values[mid]
	}
	return (values[mid-1] + values[mid]) / 2
}
