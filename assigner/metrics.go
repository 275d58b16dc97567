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
	"github.com/prometheus/client_golang/prometheus"
)

// Process-wide engine metrics. Registered once at init; the only shared
// mutable state between tasks besides the scheduler status.
var (
	promAssignmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assigner_decisions_total",
			Help: "Assignment decisions by outcome (assigned, pooled, escalated, noop)",
		},
		[]string{"outcome"},
	)
	promAssignmentDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "assigner_decision_duration_seconds",
			Help:    "Wall time of one assignment decision",
			Buckets: prometheus.DefBuckets,
		},
	)
	promPoolDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "assigner_pool_entries",
			Help: "Pool entries by sub-state",
		},
		[]string{"status"},
	)
	promTickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "assigner_pool_tick_duration_seconds",
			Help:    "Wall time of one pool processor tick",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120},
		},
	)
	promEmergencyRuns = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "assigner_emergency_runs_total",
			Help: "Emergency full-drain passes triggered by admins",
		},
	)
	promRecoveryActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assigner_recovery_actions_total",
			Help: "Error-recovery actions by kind (stuck_reset, retries_reset, quarantined, failed_reset)",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(promAssignmentsTotal)
	prometheus.MustRegister(promAssignmentDuration)
	prometheus.MustRegister(promPoolDepth)
	prometheus.MustRegister(promTickDuration)
	prometheus.MustRegister(promEmergencyRuns)
	prometheus.MustRegister(promRecoveryActions)
}

// updatePoolDepthMetrics refreshes the pool gauge from a stats snapshot
func updatePoolDepthMetrics(stats *PoolStats) {
	if stats == nil {
		return
	}
	for _, status := range []PoolStatus{PoolWaiting, PoolReady, PoolProcessing, PoolAssigned, PoolEscalated, PoolFailed} {
		promPoolDepth.WithLabelValues(string(status)).Set(float64(stats.CountsByStatus[status]))
	}
}
