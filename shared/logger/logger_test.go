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

package logger

import (
	"bytes"
	"encoding/json"
	"log"
	"strings"
	"testing"
)

func captureOutput(fn func()) string {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	log.SetFlags(0)
	defer log.SetOutput(log.Writer())
	fn()
	return buf.String()
}

func TestNewDefaultsToUnknownInstance(t *testing.T) {
	l := New("assigner")
	if l.Component != "assigner" {
		t.Errorf("expected component assigner, got %s", l.Component)
	}
	if l.InstanceID == "" {
		t.Error("instance ID should never be empty")
	}
}

func TestLogEmitsValidJSON(t *testing.T) {
	l := New("scheduler")
	out := captureOutput(func() {
		l.Info("77", "req-1", "tick complete", map[string]interface{}{"processed": 3})
	})

	line := strings.TrimSpace(out)
	var entry LogEntry
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log output is not valid JSON: %v (%q)", err, line)
	}
	if entry.Level != INFO {
		t.Errorf("expected level INFO, got %s", entry.Level)
	}
	if entry.BookingID != "77" {
		t.Errorf("expected booking_id 77, got %s", entry.BookingID)
	}
	if entry.Fields["processed"] != float64(3) {
		t.Errorf("expected processed=3 field, got %v", entry.Fields["processed"])
	}
}

func TestErrorWithReasonAddsReasonCode(t *testing.T) {
	l := New("runner")
	out := captureOutput(func() {
		l.ErrorWithReason("9", "", "escalated", "NO_CANDIDATES", nil, nil)
	})

	var entry LogEntry
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &entry); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if entry.Fields["reason_code"] != "NO_CANDIDATES" {
		t.Errorf("expected reason_code NO_CANDIDATES, got %v", entry.Fields["reason_code"])
	}
	if entry.Level != ERROR {
		t.Errorf("expected level ERROR, got %s", entry.Level)
	}
}

func TestInfoWithDurationAddsField(t *testing.T) {
	l := New("pool")
	out := captureOutput(func() {
		l.InfoWithDuration("", "req-2", "drain complete", 125.5, nil)
	})

	var entry LogEntry
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &entry); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if entry.Fields["duration_ms"] != 125.5 {
		t.Errorf("expected duration_ms 125.5, got %v", entry.Fields["duration_ms"])
	}
}
