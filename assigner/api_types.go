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

import "time"

// APIError is the uniform error envelope
type APIError struct {
	Error APIErrorDetail `json:"error"`
}

type APIErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CreateBookingRequest is the POST /bookings payload
type CreateBookingRequest struct {
	OwnerGroup  string    `json:"ownerGroup"`
	MeetingType string    `json:"meetingType"`
	DRType      string    `json:"drType,omitempty"`
	StartTime   time.Time `json:"startTime"`
	EndTime     time.Time `json:"endTime"`
	// AutoAssign triggers the assignment path right after creation;
	// defaults to true.
	AutoAssign *bool `json:"autoAssign,omitempty"`
}

// BookingResponse is the wire shape of a booking
type BookingResponse struct {
	ID                 int64      `json:"id"`
	OwnerGroup         string     `json:"ownerGroup"`
	MeetingType        string     `json:"meetingType"`
	DRType             string     `json:"drType,omitempty"`
	StartTime          time.Time  `json:"startTime"`
	EndTime            time.Time  `json:"endTime"`
	BookingStatus      string     `json:"bookingStatus"`
	InterpreterEmpCode string     `json:"interpreterId,omitempty"`
	PoolStatus         string     `json:"poolStatus"`
	PoolEntryTime      *time.Time `json:"poolEntryTime,omitempty"`
	PoolDeadlineTime   *time.Time `json:"poolDeadlineTime,omitempty"`
	PoolAttempts       int        `json:"poolAttempts"`
	Version            int        `json:"version"`
	CreatedAt          time.Time  `json:"createdAt"`
}

// CreateBookingResponse bundles the stored booking with the assignment
// outcome when auto-assign ran.
type CreateBookingResponse struct {
	Booking    *BookingResponse  `json:"booking"`
	Assignment *AssignmentResult `json:"assignment,omitempty"`
}

// PolicyResponse is the wire shape of the policy singleton
type PolicyResponse struct {
	Mode                 string    `json:"mode"`
	AutoAssignEnabled    bool      `json:"autoAssignEnabled"`
	FairnessWindowDays   int       `json:"fairnessWindowDays"`
	MaxGapHours          float64   `json:"maxGapHours"`
	MinAdvanceDays       int       `json:"minAdvanceDays"`
	WeightFairness       float64   `json:"weightFairness"`
	WeightUrgency        float64   `json:"weightUrgency"`
	WeightLRS            float64   `json:"weightLrs"`
	DRConsecutivePenalty float64   `json:"drConsecutivePenalty"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

// PolicyUpdateResponse carries the saved (or validated) policy plus
// soft-range warnings.
type PolicyUpdateResponse struct {
	Policy       *PolicyResponse `json:"policy"`
	Warnings     []string        `json:"warnings,omitempty"`
	ValidateOnly bool            `json:"validateOnly"`
}

// SwitchModeRequest is the POST /policy/mode payload
type SwitchModeRequest struct {
	Mode string `json:"mode"`
}

// PriorityRequest is the PUT /priorities/{meetingType} payload
type PriorityRequest struct {
	PriorityValue        int `json:"priorityValue"`
	UrgentThresholdDays  int `json:"urgentThresholdDays"`
	GeneralThresholdDays int `json:"generalThresholdDays"`
}

// PriorityResponse is the wire shape of one meeting-type priority row
type PriorityResponse struct {
	MeetingType          string    `json:"meetingType"`
	PriorityValue        int       `json:"priorityValue"`
	UrgentThresholdDays  int       `json:"urgentThresholdDays"`
	GeneralThresholdDays int       `json:"generalThresholdDays"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

// PoolEntryResponse is one pool entry in the status listing
type PoolEntryResponse struct {
	BookingID    int64      `json:"bookingId"`
	MeetingType  string     `json:"meetingType"`
	StartTime    time.Time  `json:"startTime"`
	PoolStatus   string     `json:"poolStatus"`
	EntryTime    *time.Time `json:"entryTime,omitempty"`
	DeadlineTime *time.Time `json:"deadlineTime,omitempty"`
	Attempts     int        `json:"attempts"`
	Bucket       int        `json:"priorityBucket"`
}

// PoolStatusResponse is the GET /pool payload
type PoolStatusResponse struct {
	Stats   *PoolStats          `json:"stats"`
	Entries []PoolEntryResponse `json:"entries"`
}

// EmergencyRequest is the optional POST /pool/emergency payload
type EmergencyRequest struct {
	Reason string `json:"reason"`
}

// RepairRequest is the optional POST /health/repair payload. An empty
// action list runs the full sweep.
type RepairRequest struct {
	Actions []string `json:"actions"`
}

// SchedulerControlRequest is the optional POST /scheduler/{action} payload.
// A positive intervalMs pins the tick cadence for start and restart.
type SchedulerControlRequest struct {
	IntervalMs int64 `json:"intervalMs"`
}

// CandidatesResponse is the GET /bookings/{id}/candidates payload
type CandidatesResponse struct {
	BookingID  int64            `json:"bookingId"`
	Candidates []CandidateScore `json:"candidates"`
}

// AssignmentLogResponse is the wire shape of one decision log row
type AssignmentLogResponse struct {
	ID                 string                 `json:"id"`
	BookingID          int64                  `json:"bookingId"`
	InterpreterEmpCode string                 `json:"interpreterId,omitempty"`
	Status             string                 `json:"status"`
	Reason             string                 `json:"reason"`
	Breakdown          *ScoreBreakdown        `json:"breakdown,omitempty"`
	ConflictSummary    *ConflictSummary       `json:"conflictSummary,omitempty"`
	DurationMS         int64                  `json:"durationMs"`
	SystemState        map[string]interface{} `json:"systemState,omitempty"`
	CreatedAt          time.Time              `json:"createdAt"`
}

// PoolHistoryResponse is the wire shape of one pool transition row
type PoolHistoryResponse struct {
	ID           string    `json:"id"`
	BookingID    int64     `json:"bookingId"`
	Action       string    `json:"action"`
	PrevStatus   string    `json:"prevStatus"`
	NewStatus    string    `json:"newStatus"`
	Attempts     int       `json:"attempts"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

func bookingResponse(b *Booking) *BookingResponse {
	resp := &BookingResponse{
		ID:               b.ID,
		OwnerGroup:       string(b.OwnerGroup),
		MeetingType:      string(b.MeetingType),
		DRType:           string(b.DRType),
		StartTime:        b.StartTime,
		EndTime:          b.EndTime,
		BookingStatus:    string(b.BookingStatus),
		PoolStatus:       string(b.PoolStatus),
		PoolEntryTime:    b.PoolEntryTime,
		PoolDeadlineTime: b.PoolDeadlineTime,
		PoolAttempts:     b.PoolAttempts,
		Version:          b.Version,
		CreatedAt:        b.CreatedAt,
	}
	if b.InterpreterEmpCode != nil {
		resp.InterpreterEmpCode = *b.InterpreterEmpCode
	}
	return resp
}

func policyResponse(p *Policy) *PolicyResponse {
	return &PolicyResponse{
		Mode:                 string(p.Mode),
		AutoAssignEnabled:    p.AutoAssignEnabled,
		FairnessWindowDays:   p.FairnessWindowDays,
		MaxGapHours:          p.MaxGapHours,
		MinAdvanceDays:       p.MinAdvanceDays,
		WeightFairness:       p.WFair,
		WeightUrgency:        p.WUrgency,
		WeightLRS:            p.WLRS,
		DRConsecutivePenalty: p.DRConsecutivePenalty,
		UpdatedAt:            p.UpdatedAt,
	}
}

func priorityResponse(p *MeetingTypePriority) *PriorityResponse {
	return &PriorityResponse{
		MeetingType:          string(p.MeetingType),
		PriorityValue:        p.PriorityValue,
		UrgentThresholdDays:  p.UrgentThresholdDays,
		GeneralThresholdDays: p.GeneralThresholdDays,
		UpdatedAt:            p.UpdatedAt,
	}
}

func assignmentLogResponse(l *AssignmentLog) *AssignmentLogResponse {
	resp := &AssignmentLogResponse{
		ID:              l.ID,
		BookingID:       l.BookingID,
		Status:          string(l.Status),
		Reason:          l.Reason,
		Breakdown:       l.Breakdown,
		ConflictSummary: l.ConflictSummary,
		DurationMS:      l.DurationMS,
		SystemState:     l.SystemState,
		CreatedAt:       l.CreatedAt,
	}
	if l.InterpreterEmpCode != nil {
		resp.InterpreterEmpCode = *l.InterpreterEmpCode
	}
	return resp
}

func poolHistoryResponse(h *PoolEntryHistory) *PoolHistoryResponse {
	return &PoolHistoryResponse{
		ID:           h.ID,
		BookingID:    h.BookingID,
		Action:       string(h.Action),
		PrevStatus:   string(h.PrevStatus),
		NewStatus:    string(h.NewStatus),
		Attempts:     h.Attempts,
		ErrorMessage: h.ErrorMessage,
		CreatedAt:    h.CreatedAt,
	}
}
