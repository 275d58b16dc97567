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
	"time"
)

// fairnessSource is the slice of the booking store the accountant needs
type fairnessSource interface {
	HoursInWindow(ctx context.Context, empCodes []string, now time.Time, windowDays int) (map[string]float64, error)
	LastAssignedAt(ctx context.Context, empCodes []string, now time.Time) (map[string]time.Time, error)
}

// FairnessAccountant computes the per-interpreter fairness signals: hours
// inside the rolling window and days since last assignment.
type FairnessAccountant struct {
	source fairnessSource
}

// NewFairnessAccountant creates an accountant over the booking store
func NewFairnessAccountant(source fairnessSource) *FairnessAccountant {
	return &FairnessAccountant{source: source}
}

// FairnessSignals carries one interpreter's inputs to the scorer.
// DaysSinceLast is +Inf for interpreters never assigned.
type FairnessSignals struct {
	EmpCode       string
	CurrentHours  float64
	DaysSinceLast float64
	LastAssigned  *time.Time
}

// Collect resolves fairness signals for a candidate set in two batch queries
func (a *FairnessAccountant) Collect(ctx context.Context, empCodes []string, now time.Time, windowDays int) (map[string]*FairnessSignals, error) {
	hours, err := a.source.HoursInWindow(ctx, empCodes, now, windowDays)
	if err != nil {
		return nil, err
	}
	lastAssigned, err := a.source.LastAssignedAt(ctx, empCodes, now)
	if err != nil {
		return nil, err
	}

	signals := make(map[string]*FairnessSignals, len(empCodes))
	for _, code := range empCodes {
		s := &FairnessSignals{
			EmpCode:       code,
			CurrentHours:  hours[code],
			DaysSinceLast: math.Inf(1),
		}
		if last, ok := lastAssigned[code]; ok {
			t := last
			s.LastAssigned = &t
			s.DaysSinceLast = now.Sub(last).Hours() / 24
		}
		signals[code] = s
	}
	return signals, nil
}
