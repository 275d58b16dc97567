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
	"time"
)

// IntervalsConflict reports whether two [start, end) intervals overlap.
// Adjacency (e1 == s2 or e2 == s1) is not a conflict.
func IntervalsConflict(s1, e1, s2, e2 time.Time) bool {
	return s1.Before(e2) && s2.Before(e1)
}

// ClassifyConflict tags the geometric relation of two intervals.
// CONTAINED means one interval lies entirely within the other, exact
// equality included. ADJACENT is only reported by this function; the
// availability test treats adjacency as free.
func ClassifyConflict(s1, e1, s2, e2 time.Time) ConflictType {
	if e1.Equal(s2) || e2.Equal(s1) {
		return ConflictAdjacent
	}
	if (!s2.Before(s1) && !e2.After(e1)) || (!s1.Before(s2) && !e1.After(e2)) {
		return ConflictContained
	}
	return ConflictOverlap
}

// overlapSource is the slice of the booking store the detector needs
type overlapSource interface {
	Overlapping(ctx context.Context, empCode string, start, end time.Time, excludeBookingID int64) ([]Booking, error)
	OverlappingBatch(ctx context.Context, empCodes []string, start, end time.Time, excludeBookingID int64) (map[string][]Booking, error)
}

// ConflictDetector enforces at-most-one-concurrent-booking-per-interpreter.
// Cancelled bookings never participate.
type ConflictDetector struct {
	source overlapSource
}

// NewConflictDetector creates a detector over the booking store
func NewConflictDetector(source overlapSource) *ConflictDetector {
	return &ConflictDetector{source: source}
}

// AvailabilityResult is the outcome of a single-interpreter check
type AvailabilityResult struct {
	Available bool       `json:"available"`
	Conflicts []Conflict `json:"conflicts,omitempty"`
}

// Check reports whether one interpreter is free over [start, end)
func (d *ConflictDetector) Check(ctx context.Context, empCode string, start, end time.Time, excludeBookingID int64) (*AvailabilityResult, error) {
	overlapping, err := d.source.Overlapping(ctx, empCode, start, end, excludeBookingID)
	if err != nil {
		return nil, err
	}

	result := &AvailabilityResult{Available: true}
	for _, b := range overlapping {
		if !IntervalsConflict(start, end, b.StartTime, b.EndTime) {
			continue
		}
		result.Available = false
		result.Conflicts = append(result.Conflicts, Conflict{
			BookingID: b.ID,
			StartTime: b.StartTime,
			EndTime:   b.EndTime,
			Type:      ClassifyConflict(start, end, b.StartTime, b.EndTime),
		})
	}
	return result, nil
}

// Availability is the batch hot path: it returns the subset of empCodes with
// no conflict over [start, end), plus a summary for the assignment log.
func (d *ConflictDetector) Availability(ctx context.Context, empCodes []string, start, end time.Time, excludeBookingID int64) ([]string, *ConflictSummary, error) {
	byCode, err := d.source.OverlappingBatch(ctx, empCodes, start, end, excludeBookingID)
	if err != nil {
		return nil, nil, err
	}

	summary := &ConflictSummary{
		CheckedCount:    len(empCodes),
		ConflictedCodes: make(map[string][]Conflict),
	}

	available := make([]string, 0, len(empCodes))
	for _, code := range empCodes {
		conflicts := byCode[code]
		var real []Conflict
		for _, b := range conflicts {
			if !IntervalsConflict(start, end, b.StartTime, b.EndTime) {
				continue
			}
			real = append(real, Conflict{
				BookingID: b.ID,
				StartTime: b.StartTime,
				EndTime:   b.EndTime,
				Type:      ClassifyConflict(start, end, b.StartTime, b.EndTime),
			})
		}
		if len(real) == 0 {
			available = append(available, code)
		} else {
			summary.ConflictedCodes[code] = real
		}
	}

	summary.AvailableCount = len(available)
	if len(summary.ConflictedCodes) == 0 {
		summary.ConflictedCodes = nil
	}
	return available, summary, nil
}
