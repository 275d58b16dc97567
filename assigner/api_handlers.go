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
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"linguaflow/platform/shared/logger"
)

// maxRequestBodySize limits request bodies to 1MB to prevent memory
// exhaustion.
const maxRequestBodySize = 1 << 20

// APIHandler exposes the assignment engine over HTTP
type APIHandler struct {
	bookings   *BookingRepository
	pool       *PoolRepository
	policies   *PolicyStore
	priorities *PriorityRepository
	logs       *AssignmentLogRepository
	history    *PoolHistoryRepository
	runner     *Runner
	scheduler  *Scheduler
	emergency  *EmergencyProcessor
	recovery   *RecoveryManager
	log        *logger.Logger
	now        func() time.Time
}

func NewAPIHandler(
	bookings *BookingRepository,
	pool *PoolRepository,
	policies *PolicyStore,
	priorities *PriorityRepository,
	logs *AssignmentLogRepository,
	history *PoolHistoryRepository,
	runner *Runner,
	scheduler *Scheduler,
	emergency *EmergencyProcessor,
	recovery *RecoveryManager,
) *APIHandler {
	return &APIHandler{
		bookings:   bookings,
		pool:       pool,
		policies:   policies,
		priorities: priorities,
		logs:       logs,
		history:    history,
		runner:     runner,
		scheduler:  scheduler,
		emergency:  emergency,
		recovery:   recovery,
		log:        logger.New("api"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// RegisterRoutes mounts the authenticated API surface on the router
func (h *APIHandler) RegisterRoutes(r *mux.Router) {
	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(authMiddleware)

	api.HandleFunc("/bookings", h.createBooking).Methods("POST")
	api.HandleFunc("/bookings/{id:[0-9]+}", h.getBooking).Methods("GET")
	api.HandleFunc("/bookings/{id:[0-9]+}/assign", h.assignBooking).Methods("POST")
	api.HandleFunc("/bookings/{id:[0-9]+}/cancel", h.cancelBooking).Methods("POST")
	api.HandleFunc("/bookings/{id:[0-9]+}/candidates", h.suggestCandidates).Methods("GET")
	api.HandleFunc("/bookings/{id:[0-9]+}/logs", h.listAssignmentLogs).Methods("GET")
	api.HandleFunc("/bookings/{id:[0-9]+}/pool-history", h.listPoolHistory).Methods("GET")

	api.HandleFunc("/policy", h.getPolicy).Methods("GET")
	api.HandleFunc("/policy", h.updatePolicy).Methods("PATCH")
	api.HandleFunc("/policy/mode", h.switchMode).Methods("POST")

	api.HandleFunc("/priorities", h.listPriorities).Methods("GET")
	api.HandleFunc("/priorities/{meetingType}", h.upsertPriority).Methods("PUT")

	api.HandleFunc("/pool", h.poolStatus).Methods("GET")
	api.HandleFunc("/pool/process", h.processPoolNow).Methods("POST")
	api.HandleFunc("/pool/emergency", requireSuperAdmin(h.emergencyProcess)).Methods("POST")

	api.HandleFunc("/scheduler", h.schedulerStatus).Methods("GET")
	api.HandleFunc("/scheduler/{action}", h.schedulerControl).Methods("POST")

	api.HandleFunc("/health", h.healthCheck).Methods("GET")
	api.HandleFunc("/health/repair", requireSuperAdmin(h.repair)).Methods("POST")
}

func (h *APIHandler) createBooking(w http.ResponseWriter, r *http.Request) {
	var req CreateBookingRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, ReasonInvalidInput, err.Error())
		return
	}

	booking := &Booking{
		OwnerGroup:  ParseOwnerGroup(req.OwnerGroup),
		MeetingType: ParseMeetingType(req.MeetingType),
		DRType:      ParseDRType(req.DRType),
		StartTime:   req.StartTime.UTC(),
		EndTime:     req.EndTime.UTC(),
	}
	if booking.MeetingType != MeetingDR && booking.DRType != "" {
		writeError(w, http.StatusBadRequest, ReasonInvalidInput, "drType only applies to DR meetings")
		return
	}
	if err := h.bookings.Create(r.Context(), booking); err != nil {
		writeEngineError(w, err)
		return
	}

	resp := &CreateBookingResponse{Booking: bookingResponse(booking)}

	autoAssign := req.AutoAssign == nil || *req.AutoAssign
	if autoAssign {
		requestID := uuid.New().String()
		result, err := h.runner.AssignBooking(r.Context(), booking.ID, requestID)
		if err != nil {
			// The booking is stored; surface the assignment failure in-band
			// rather than failing the create.
			result = &AssignmentResult{
				BookingID:  booking.ID,
				Status:     "escalated",
				Reason:     err.Error(),
				ReasonCode: CodeOf(err),
			}
		}
		resp.Assignment = result
		if fresh, err := h.bookings.Get(r.Context(), booking.ID); err == nil && fresh != nil {
			resp.Booking = bookingResponse(fresh)
		}
	}

	writeJSON(w, http.StatusCreated, resp)
}

func (h *APIHandler) getBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	booking, err := h.bookings.Get(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if booking == nil {
		writeError(w, http.StatusNotFound, ReasonNotFound, "booking not found")
		return
	}
	writeJSON(w, http.StatusOK, bookingResponse(booking))
}

func (h *APIHandler) assignBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	requestID := uuid.New().String()
	result, err := h.runner.AssignBooking(r.Context(), id, requestID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *APIHandler) cancelBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.bookings.Cancel(r.Context(), id); err != nil {
		writeEngineError(w, err)
		return
	}
	booking, err := h.bookings.Get(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if booking == nil {
		writeError(w, http.StatusNotFound, ReasonNotFound, "booking not found")
		return
	}
	writeJSON(w, http.StatusOK, bookingResponse(booking))
}

func (h *APIHandler) suggestCandidates(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	max := 0
	if raw := r.URL.Query().Get("max"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, ReasonInvalidInput, "max must be a positive integer")
			return
		}
		max = n
	}

	centers := IdentityFrom(r.Context()).Centers()
	candidates, err := h.runner.SuggestCandidates(r.Context(), id, max, centers)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &CandidatesResponse{BookingID: id, Candidates: candidates})
}

func (h *APIHandler) listAssignmentLogs(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	entries, err := h.logs.ListByBooking(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	out := make([]*AssignmentLogResponse, 0, len(entries))
	for i := range entries {
		out = append(out, assignmentLogResponse(&entries[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *APIHandler) listPoolHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	entries, err := h.history.ListByBooking(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	out := make([]*PoolHistoryResponse, 0, len(entries))
	for i := range entries {
		out = append(out, poolHistoryResponse(&entries[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *APIHandler) getPolicy(w http.ResponseWriter, r *http.Request) {
	policy, err := h.policies.LoadPolicy(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if policy == nil {
		writeError(w, http.StatusNotFound, ReasonNotFound, "policy not initialised")
		return
	}
	writeJSON(w, http.StatusOK, policyResponse(policy))
}

func (h *APIHandler) updatePolicy(w http.ResponseWriter, r *http.Request) {
	var patch PolicyPatch
	if err := decodeBody(w, r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, ReasonInvalidInput, err.Error())
		return
	}
	validateOnly := r.URL.Query().Get("validateOnly") == "true"

	result, err := h.policies.UpdatePolicy(r.Context(), &patch, validateOnly)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &PolicyUpdateResponse{
		Policy:       policyResponse(result.Policy),
		Warnings:     result.Warnings,
		ValidateOnly: validateOnly,
	})
}

func (h *APIHandler) switchMode(w http.ResponseWriter, r *http.Request) {
	var req SwitchModeRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, ReasonInvalidInput, err.Error())
		return
	}
	mode := PolicyMode(req.Mode)
	switch mode {
	case ModeBalance, ModeUrgent, ModeNormal, ModeCustom:
	default:
		writeError(w, http.StatusBadRequest, ReasonInvalidInput, "unknown mode")
		return
	}
	validateOnly := r.URL.Query().Get("validateOnly") == "true"

	result, err := h.policies.SwitchMode(r.Context(), mode, validateOnly)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	// The tick cadence follows the mode; pick it up without waiting for the
	// next scheduled wakeup.
	if !validateOnly && h.scheduler != nil && h.scheduler.Status().Running {
		h.scheduler.Restart(context.Background())
	}

	writeJSON(w, http.StatusOK, &PolicyUpdateResponse{
		Policy:       policyResponse(result.Policy),
		Warnings:     result.Warnings,
		ValidateOnly: validateOnly,
	})
}

func (h *APIHandler) listPriorities(w http.ResponseWriter, r *http.Request) {
	priorities, err := h.priorities.List(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	out := make([]*PriorityResponse, 0, len(priorities))
	for i := range priorities {
		out = append(out, priorityResponse(&priorities[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *APIHandler) upsertPriority(w http.ResponseWriter, r *http.Request) {
	meetingType := ParseMeetingType(mux.Vars(r)["meetingType"])

	var req PriorityRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, ReasonInvalidInput, err.Error())
		return
	}

	p := &MeetingTypePriority{
		MeetingType:          meetingType,
		PriorityValue:        req.PriorityValue,
		UrgentThresholdDays:  req.UrgentThresholdDays,
		GeneralThresholdDays: req.GeneralThresholdDays,
	}
	if err := h.priorities.Upsert(r.Context(), p); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, priorityResponse(p))
}

func (h *APIHandler) poolStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := h.pool.Stats(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	entries, err := h.pool.AllEntries(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	now := h.now()
	SortByPoolPriority(entries, now)

	out := make([]PoolEntryResponse, 0, len(entries))
	for i := range entries {
		b := &entries[i]
		entry := PoolEntryResponse{
			BookingID:    b.ID,
			MeetingType:  string(b.MeetingType),
			StartTime:    b.StartTime,
			PoolStatus:   string(b.PoolStatus),
			EntryTime:    b.PoolEntryTime,
			DeadlineTime: b.PoolDeadlineTime,
			Attempts:     b.PoolAttempts,
		}
		if b.PoolDeadlineTime != nil {
			entry.Bucket = int(PriorityBucketFor(*b.PoolDeadlineTime, now))
		}
		out = append(out, entry)
	}

	updatePoolDepthMetrics(stats)
	writeJSON(w, http.StatusOK, &PoolStatusResponse{Stats: stats, Entries: out})
}

func (h *APIHandler) processPoolNow(w http.ResponseWriter, r *http.Request) {
	// A degraded pool rejects forced ticks until a repair clears it.
	if health, err := h.recovery.CheckHealth(r.Context()); err == nil && health.Degraded {
		writeError(w, http.StatusServiceUnavailable, ReasonSystemDegraded, health.DegradedReason)
		return
	}
	report, err := h.scheduler.ProcessNow(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *APIHandler) emergencyProcess(w http.ResponseWriter, r *http.Request) {
	var req EmergencyRequest
	if r.ContentLength > 0 {
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, ReasonInvalidInput, err.Error())
			return
		}
	}

	// The trigger is attributed to the authenticated admin, not the payload.
	identity := IdentityFrom(r.Context())
	report, err := h.emergency.Drain(r.Context(), identity.EmpCode, req.Reason)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *APIHandler) schedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.scheduler.Status())
}

func (h *APIHandler) schedulerControl(w http.ResponseWriter, r *http.Request) {
	var req SchedulerControlRequest
	if r.ContentLength > 0 {
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, ReasonInvalidInput, err.Error())
			return
		}
		if req.IntervalMs < 0 {
			writeError(w, http.StatusBadRequest, ReasonInvalidInput, "intervalMs must be non-negative")
			return
		}
	}

	// The loop outlives the request, so it runs on a background context.
	switch mux.Vars(r)["action"] {
	case "start":
		h.scheduler.SetIntervalOverride(time.Duration(req.IntervalMs) * time.Millisecond)
		h.scheduler.Start(context.Background())
	case "stop":
		h.scheduler.Stop()
	case "restart":
		h.scheduler.SetIntervalOverride(time.Duration(req.IntervalMs) * time.Millisecond)
		h.scheduler.Restart(context.Background())
	case "initialize":
		h.scheduler.Initialize(context.Background())
	default:
		writeError(w, http.StatusBadRequest, ReasonInvalidInput, "action must be start, stop, restart or initialize")
		return
	}
	writeJSON(w, http.StatusOK, h.scheduler.Status())
}

func (h *APIHandler) healthCheck(w http.ResponseWriter, r *http.Request) {
	report, err := h.recovery.CheckHealth(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	status := http.StatusOK
	if report.Degraded {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func (h *APIHandler) repair(w http.ResponseWriter, r *http.Request) {
	var req RepairRequest
	if r.ContentLength > 0 {
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, ReasonInvalidInput, err.Error())
			return
		}
	}
	actions := make([]RepairAction, 0, len(req.Actions))
	for _, name := range req.Actions {
		action, ok := ParseRepairAction(name)
		if !ok {
			writeError(w, http.StatusBadRequest, ReasonInvalidInput,
				fmt.Sprintf("unknown repair action %q", name))
			return
		}
		actions = append(actions, action)
	}

	report, err := h.recovery.Repair(r.Context(), actions...)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// decodeBody parses a size-capped JSON body, rejecting unknown fields
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, ReasonInvalidInput, "invalid booking id")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code ReasonCode, message string) {
	writeJSON(w, status, APIError{Error: APIErrorDetail{Code: string(code), Message: message}})
}

// writeEngineError maps domain reason codes onto HTTP statuses
func writeEngineError(w http.ResponseWriter, err error) {
	code := CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case ReasonInvalidInput:
		status = http.StatusBadRequest
	case ReasonNotFound:
		status = http.StatusNotFound
	case ReasonPolicyLocked, ReasonAlreadyAssigned, ReasonBookingCancelled:
		status = http.StatusConflict
	case ReasonConcurrentUpdate:
		status = http.StatusConflict
	case ReasonProcessingTimeout:
		status = http.StatusGatewayTimeout
	case ReasonSystemDegraded:
		status = http.StatusServiceUnavailable
	}
	writeError(w, status, code, err.Error())
}
