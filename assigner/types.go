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
	"time"
)

// OwnerGroup is the organisational group that owns a booking
type OwnerGroup string

const (
	GroupIOT      OwnerGroup = "iot"
	GroupHardware OwnerGroup = "hardware"
	GroupSoftware OwnerGroup = "software"
	GroupOther    OwnerGroup = "other"
)

// MeetingType classifies a booked meeting
type MeetingType string

const (
	MeetingDR        MeetingType = "DR"
	MeetingVIP       MeetingType = "VIP"
	MeetingWeekly    MeetingType = "Weekly"
	MeetingGeneral   MeetingType = "General"
	MeetingUrgent    MeetingType = "Urgent"
	MeetingPresident MeetingType = "President"
	MeetingOther     MeetingType = "Other"
)

// DRType is the DR sub-classification, present only when MeetingType is DR
type DRType string

const (
	DRTypeI     DRType = "DR-I"
	DRTypeII    DRType = "DR-II"
	DRTypeK     DRType = "DR-k"
	DRTypePR    DRType = "DR-PR"
	DRTypeOther DRType = "Other"
)

// ParseOwnerGroup maps unknown groups to the "other" bucket
func ParseOwnerGroup(s string) OwnerGroup {
	switch g := OwnerGroup(s); g {
	case GroupIOT, GroupHardware, GroupSoftware:
		return g
	}
	return GroupOther
}

// ParseMeetingType maps unknown types to the "Other" bucket
func ParseMeetingType(s string) MeetingType {
	switch t := MeetingType(s); t {
	case MeetingDR, MeetingVIP, MeetingWeekly, MeetingGeneral,
		MeetingUrgent, MeetingPresident:
		return t
	}
	return MeetingOther
}

// ParseDRType preserves the empty string for non-DR meetings
func ParseDRType(s string) DRType {
	if s == "" {
		return ""
	}
	switch t := DRType(s); t {
	case DRTypeI, DRTypeII, DRTypeK, DRTypePR:
		return t
	}
	return DRTypeOther
}

// BookingStatus is the externally visible state of a booking
type BookingStatus string

const (
	StatusWaiting BookingStatus = "waiting"
	StatusApprove BookingStatus = "approve"
	StatusCancel  BookingStatus = "cancel"
)

// PoolStatus is the deferred-assignment sub-state of a booking
type PoolStatus string

const (
	PoolNone       PoolStatus = "none"
	PoolWaiting    PoolStatus = "waiting"
	PoolReady      PoolStatus = "ready"
	PoolProcessing PoolStatus = "processing"
	PoolAssigned   PoolStatus = "assigned"
	PoolEscalated  PoolStatus = "escalated"
	PoolFailed     PoolStatus = "failed"
)

// PolicyMode selects a canonical weight vector for the scoring function.
// All modes except CUSTOM lock their parameters against updates.
type PolicyMode string

const (
	ModeBalance PolicyMode = "BALANCE"
	ModeUrgent  PolicyMode = "URGENT"
	ModeNormal  PolicyMode = "NORMAL"
	ModeCustom  PolicyMode = "CUSTOM"
)

// Booking is the unit of work the engine decides on. Pool fields are only
// meaningful while PoolStatus is not "none".
type Booking struct {
	ID                 int64
	OwnerGroup         OwnerGroup
	MeetingType        MeetingType
	DRType             DRType // empty unless MeetingType == DR
	StartTime          time.Time
	EndTime            time.Time
	BookingStatus      BookingStatus
	InterpreterEmpCode *string
	PoolStatus         PoolStatus
	PoolEntryTime      *time.Time
	PoolDeadlineTime   *time.Time
	PoolAttempts       int
	CreatedAt          time.Time
	UpdatedAt          time.Time
	Version            int
}

// DurationHours returns the booking length in hours
func (b *Booking) DurationHours() float64 {
	return b.EndTime.Sub(b.StartTime).Hours()
}

// IsAssigned reports whether an interpreter has been committed
func (b *Booking) IsAssigned() bool {
	return b.InterpreterEmpCode != nil && *b.InterpreterEmpCode != ""
}

// Interpreter is a member of the active pool, identified by employee code
type Interpreter struct {
	EmpCode   string
	FirstName string
	LastName  string
	IsActive  bool
	DeptPath  string // "/"-separated; the center component drives tenant filtering
}

// DisplayName is presentation-only; all engine state keys by EmpCode
func (i *Interpreter) DisplayName() string {
	if i.LastName == "" {
		return i.FirstName
	}
	return i.FirstName + " " + i.LastName
}

// Policy is the singleton set of scoring and routing parameters.
// When Mode is not CUSTOM every tunable below is locked and reflects the
// mode's canonical vector.
type Policy struct {
	Mode                 PolicyMode
	AutoAssignEnabled    bool
	FairnessWindowDays   int
	MaxGapHours          float64
	MinAdvanceDays       int
	WFair                float64
	WUrgency             float64
	WLRS                 float64
	DRConsecutivePenalty float64
	UpdatedAt            time.Time
}

// MeetingTypePriority defines per-type urgency thresholds in days.
// Invariant: UrgentThresholdDays < GeneralThresholdDays.
type MeetingTypePriority struct {
	MeetingType          MeetingType
	PriorityValue        int
	UrgentThresholdDays  int
	GeneralThresholdDays int
	UpdatedAt            time.Time
}

// AssignmentStatus is the terminal decision recorded per engine run
type AssignmentStatus string

const (
	LogAssigned  AssignmentStatus = "assigned"
	LogEscalated AssignmentStatus = "escalated"
	LogRejected  AssignmentStatus = "rejected"
)

// AssignmentLog is the append-only audit record of one engine decision
type AssignmentLog struct {
	ID                 string
	BookingID          int64
	InterpreterEmpCode *string
	Status             AssignmentStatus
	Reason             string
	PreHoursSnapshot   map[string]float64
	PostHoursSnapshot  map[string]float64
	Breakdown          *ScoreBreakdown
	ConflictSummary    *ConflictSummary
	DurationMS         int64
	SystemState        map[string]interface{}
	CreatedAt          time.Time
}

// PoolAction enumerates pool history actions
type PoolAction string

const (
	PoolActionEntered   PoolAction = "entered"
	PoolActionUpdated   PoolAction = "updated"
	PoolActionProcessed PoolAction = "processed"
	PoolActionFailed    PoolAction = "failed"
	PoolActionRetried   PoolAction = "retried"
	PoolActionEscalated PoolAction = "escalated"
)

// PoolEntryHistory is the append-only audit record of pool transitions
type PoolEntryHistory struct {
	ID           string
	BookingID    int64
	Action       PoolAction
	PrevStatus   PoolStatus
	NewStatus    PoolStatus
	Attempts     int
	ErrorMessage string
	SystemState  map[string]interface{}
	CreatedAt    time.Time
}

// breakdownSchemaVersion is bumped whenever the ScoreBreakdown wire shape
// changes; dashboards key off it.
const breakdownSchemaVersion = 1

// ScoreComponents carries the per-signal sub-scores for one candidate
type ScoreComponents struct {
	Fairness float64 `json:"fairness"`
	Urgency  float64 `json:"urgency"`
	LRS      float64 `json:"lrs"`
	Total    float64 `json:"total"`
}

// CandidateScore is one candidate's entry in a breakdown. DaysSinceLast is
// -1 for interpreters that have never been assigned (JSON cannot carry +Inf).
type CandidateScore struct {
	EmpCode       string          `json:"empCode"`
	Eligible      bool            `json:"eligible"`
	Reason        string          `json:"reason,omitempty"`
	Scores        ScoreComponents `json:"scores"`
	Hours         float64         `json:"hours"`
	DaysSinceLast float64         `json:"daysSinceLast"`
}

// DRPolicyDecision records how the DR consecutive-assignment policy was
// applied for one booking
type DRPolicyDecision struct {
	Applied           bool     `json:"applied"`
	Scope             string   `json:"scope,omitempty"` // GLOBAL or LOCAL
	ForbidConsecutive bool     `json:"forbidConsecutive"`
	Penalty           float64  `json:"penalty"`
	BlockedEmpCodes   []string `json:"blockedEmpCodes,omitempty"`
	Override          bool     `json:"override"`
	OverrideEmpCode   string   `json:"overrideEmpCode,omitempty"`
}

// ScoreBreakdown is the stable, versioned scoring record persisted with
// every AssignmentLog row. Consumers depend on its shape.
type ScoreBreakdown struct {
	SchemaVersion   int               `json:"schemaVersion"`
	Candidates      []CandidateScore  `json:"candidates"`
	SelectedEmpCode string            `json:"selectedEmpCode,omitempty"`
	DRPolicy        *DRPolicyDecision `json:"drPolicy,omitempty"`
}

// ConflictType classifies the geometric relation between two intervals
type ConflictType string

const (
	ConflictOverlap   ConflictType = "OVERLAP"
	ConflictContained ConflictType = "CONTAINED"
	ConflictAdjacent  ConflictType = "ADJACENT"
)

// Conflict records one overlapping booking found for a candidate
type Conflict struct {
	BookingID int64        `json:"bookingId"`
	StartTime time.Time    `json:"startTime"`
	EndTime   time.Time    `json:"endTime"`
	Type      ConflictType `json:"type"`
}

// ConflictSummary is the availability result recorded in the assignment log
type ConflictSummary struct {
	CheckedCount    int                 `json:"checkedCount"`
	AvailableCount  int                 `json:"availableCount"`
	ConflictedCodes map[string][]Conflict `json:"conflictedCodes,omitempty"`
}

// PoolStats summarises the deferred pool for dashboards and health checks
type PoolStats struct {
	CountsByStatus    map[PoolStatus]int `json:"countsByStatus"`
	OldestEntryTime   *time.Time         `json:"oldestEntryTime,omitempty"`
	ProcessingInFlight int               `json:"processingInFlight"`
}
