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
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"linguaflow/platform/shared/logger"
)

// ModeInterval maps the active policy mode to the pool tick cadence
func ModeInterval(mode PolicyMode, customMinutes int) time.Duration {
	switch mode {
	case ModeBalance:
		return 60 * time.Minute
	case ModeUrgent:
		return 5 * time.Minute
	case ModeCustom:
		if customMinutes > 0 {
			return time.Duration(customMinutes) * time.Minute
		}
		return 15 * time.Minute
	default: // NORMAL
		return 30 * time.Minute
	}
}

// SchedulerStatus is the observable state snapshot
type SchedulerStatus struct {
	Running       bool          `json:"running"`
	Leader        bool          `json:"leader"`
	Mode          PolicyMode    `json:"mode"`
	Interval      time.Duration `json:"interval"`
	LastTickAt    *time.Time    `json:"lastTickAt,omitempty"`
	NextTickAt    *time.Time    `json:"nextTickAt,omitempty"`
	MissedTicks   int64         `json:"missedTicks"`
	TicksRun      int64         `json:"ticksRun"`
	LastTickError string        `json:"lastTickError,omitempty"`
}

const leaderLeaseKey = "linguaflow:assigner:leader"

// Scheduler drives the pool processor on a mode-dependent cadence. Wakeups
// are computed from the expected schedule rather than the previous tick's
// finish time, so long ticks do not accumulate drift; a run of missed
// wakeups coalesces into one catch-up tick.
//
// With Redis configured, instances compete for a lease and only the holder
// ticks. Without Redis the scheduler runs standalone.
type Scheduler struct {
	processor *PoolProcessor
	policies  policySource
	cfg       EngineConfig
	rdb       *redis.Client
	log       *logger.Logger
	now       func() time.Time

	instanceID string

	mu       sync.Mutex
	running  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	override time.Duration // 0 means mode-derived cadence
	status   SchedulerStatus
	tickGate sync.Mutex // serialises ticks, including ProcessNow
}

func NewScheduler(processor *PoolProcessor, policies policySource, cfg EngineConfig) *Scheduler {
	s := &Scheduler{
		processor:  processor,
		policies:   policies,
		cfg:        cfg,
		log:        logger.New("scheduler"),
		now:        func() time.Time { return time.Now().UTC() },
		instanceID: schedulerInstanceID(),
	}
	if cfg.RedisAddr != "" {
		s.rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}
	return s
}

func schedulerInstanceID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// Start launches the tick loop. Starting an already-running scheduler is a
// no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.status.Running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.loop(ctx, s.stopCh, s.doneCh)
	s.log.Info("", "", "Scheduler started", map[string]interface{}{"instance": s.instanceID})
}

// Stop halts the loop and waits for any in-flight tick to finish
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.status.Running = false
	close(s.stopCh)
	done := s.doneCh
	s.mu.Unlock()

	<-done
	s.releaseLease()
	s.log.Info("", "", "Scheduler stopped", nil)
}

// Restart stops and starts the loop, picking up any interval change
func (s *Scheduler) Restart(ctx context.Context) {
	s.Stop()
	s.Start(ctx)
}

// SetIntervalOverride pins the tick cadence to a fixed interval regardless
// of the active mode. Zero restores the mode-derived cadence. The loop picks
// the change up on its next wakeup.
func (s *Scheduler) SetIntervalOverride(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d < 0 {
		d = 0
	}
	s.override = d
}

// Initialize clears any interval override and ensures the loop is running
// with the mode-derived cadence.
func (s *Scheduler) Initialize(ctx context.Context) {
	s.SetIntervalOverride(0)
	s.Start(ctx)
}

// ProcessNow runs one tick immediately, outside the schedule. It shares the
// tick gate with the loop so two ticks never overlap.
func (s *Scheduler) ProcessNow(ctx context.Context) (*TickReport, error) {
	s.tickGate.Lock()
	defer s.tickGate.Unlock()
	return s.runTick(ctx, true)
}

// Status returns a snapshot of the scheduler state
func (s *Scheduler) Status() SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Scheduler) loop(ctx context.Context, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	interval := s.currentInterval(ctx)
	expected := s.now().Add(interval)
	s.setNextTick(expected, interval)

	for {
		wait := expected.Sub(s.now())
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)

		select {
		case <-stopCh:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		// Coalesce wakeups that slipped past while a previous tick ran long
		// or the process was suspended: one catch-up tick, then realign.
		interval = s.currentInterval(ctx)
		var missed int64
		expected, missed = realignExpected(expected, s.now(), interval)
		if missed > 0 {
			s.mu.Lock()
			s.status.MissedTicks += missed
			s.mu.Unlock()
			s.log.Warn("", "", "Coalesced missed scheduler wakeups", map[string]interface{}{"missed": missed})
		}

		s.tickGate.Lock()
		if _, err := s.runTick(ctx, false); err != nil {
			s.log.ErrorWithReason("", "", "Scheduled tick failed", string(CodeOf(err)), err, nil)
		}
		s.tickGate.Unlock()

		interval = s.currentInterval(ctx)
		expected = expected.Add(interval)
		s.setNextTick(expected, interval)
	}
}

// realignExpected advances a stale tick target past wakeups that already
// elapsed, so a long pause produces one catch-up tick instead of a burst.
// It returns the realigned target and how many whole intervals were skipped.
func realignExpected(expected, now time.Time, interval time.Duration) (time.Time, int64) {
	missed := int64(0)
	for !expected.Add(interval).After(now) {
		expected = expected.Add(interval)
		missed++
	}
	return expected, missed
}

// runTick acquires (or refreshes) leadership and drives one processor pass.
// forced ticks from ProcessNow run even on a non-leader, on the operator's
// authority.
func (s *Scheduler) runTick(ctx context.Context, forced bool) (*TickReport, error) {
	leader := s.acquireLease(ctx)
	s.mu.Lock()
	s.status.Leader = leader
	s.mu.Unlock()

	if !leader && !forced {
		return nil, nil
	}

	report, err := s.processor.ProcessTick(ctx)

	now := s.now()
	s.mu.Lock()
	s.status.LastTickAt = &now
	s.status.TicksRun++
	if err != nil {
		s.status.LastTickError = err.Error()
	} else {
		s.status.LastTickError = ""
	}
	s.mu.Unlock()

	return report, err
}

func (s *Scheduler) currentInterval(ctx context.Context) time.Duration {
	mode := ModeNormal
	if policy, err := s.policies.LoadPolicy(ctx); err == nil && policy != nil {
		mode = policy.Mode
	}
	interval := ModeInterval(mode, s.cfg.CustomIntervalMinutes)
	s.mu.Lock()
	if s.override > 0 {
		interval = s.override
	}
	s.status.Mode = mode
	s.status.Interval = interval
	s.mu.Unlock()
	return interval
}

func (s *Scheduler) setNextTick(next time.Time, interval time.Duration) {
	s.mu.Lock()
	n := next
	s.status.NextTickAt = &n
	s.status.Interval = interval
	s.mu.Unlock()
}

// acquireLease takes or refreshes the leader lease. SETNX grants a fresh
// lease; a holder extends its own with a value check. Redis being down
// degrades to standalone operation rather than stalling the pool.
func (s *Scheduler) acquireLease(ctx context.Context) bool {
	if s.rdb == nil {
		return true
	}

	ttl := s.cfg.LeaderLeaseTTL
	if ttl <= 0 {
		ttl = 90 * time.Second
	}

	ok, err := s.rdb.SetNX(ctx, leaderLeaseKey, s.instanceID, ttl).Result()
	if err != nil {
		s.log.Warn("", "", "Leader lease check failed, running standalone", map[string]interface{}{"error": err.Error()})
		return true
	}
	if ok {
		return true
	}

	holder, err := s.rdb.Get(ctx, leaderLeaseKey).Result()
	if err != nil {
		return false
	}
	if holder != s.instanceID {
		return false
	}
	// Extend our own lease
	if err := s.rdb.Expire(ctx, leaderLeaseKey, ttl).Err(); err != nil {
		s.log.Warn("", "", "Failed to extend leader lease", map[string]interface{}{"error": err.Error()})
	}
	return true
}

// releaseLease gives up leadership on shutdown so a peer can take over
// without waiting out the TTL.
func (s *Scheduler) releaseLease() {
	if s.rdb == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	holder, err := s.rdb.Get(ctx, leaderLeaseKey).Result()
	if err == nil && holder == s.instanceID {
		_ = s.rdb.Del(ctx, leaderLeaseKey).Err()
	}
}
