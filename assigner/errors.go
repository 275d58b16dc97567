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
	"errors"
	"fmt"
	"strings"
)

// ReasonCode is a stable machine-readable failure classification. Codes are
// returned to callers and persisted in assignment_log rows; dashboards and
// admin queues key off them, so existing values must never change.
type ReasonCode string

const (
	ReasonInvalidInput       ReasonCode = "INVALID_INPUT"
	ReasonPolicyLocked       ReasonCode = "POLICY_LOCKED"
	ReasonConcurrentUpdate   ReasonCode = "CONFLICT_CONCURRENT_UPDATE"
	ReasonNoCandidates       ReasonCode = "NO_CANDIDATES"
	ReasonDRAllBlocked       ReasonCode = "DR_ALL_BLOCKED_AND_NO_OVERRIDE_POSSIBLE"
	ReasonProcessingTimeout  ReasonCode = "PROCESSING_TIMEOUT"
	ReasonTransientIO        ReasonCode = "TRANSIENT_IO"
	ReasonProcessingFailed   ReasonCode = "PROCESSING_FAILED"
	ReasonCorruptedEntry     ReasonCode = "CORRUPTED_ENTRY"
	ReasonSystemDegraded     ReasonCode = "SYSTEM_DEGRADED"
	ReasonAutoAssignDisabled ReasonCode = "AUTO_ASSIGN_DISABLED"
	ReasonAlreadyAssigned    ReasonCode = "ALREADY_ASSIGNED"
	ReasonBookingCancelled   ReasonCode = "BOOKING_CANCELLED"
	ReasonNotFound           ReasonCode = "NOT_FOUND"
)

// EngineError is a tagged failure carried through return values; the engine
// never uses panics for control flow.
type EngineError struct {
	Code    ReasonCode
	Message string
	Err     error
}

func (e *EngineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// NewEngineError builds a tagged error
func NewEngineError(code ReasonCode, message string) *EngineError {
	return &EngineError{Code: code, Message: message}
}

// WrapEngineError builds a tagged error wrapping a cause
func WrapEngineError(code ReasonCode, message string, err error) *EngineError {
	return &EngineError{Code: code, Message: message, Err: err}
}

// CodeOf extracts the reason code from an error chain, defaulting to
// PROCESSING_FAILED for untagged errors.
func CodeOf(err error) ReasonCode {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ReasonProcessingFailed
}

// ErrorCategory buckets transient errors for reporting. Categorisation is
// keyword-based and affects reports only, never correctness.
type ErrorCategory string

const (
	CategoryTimeout  ErrorCategory = "timeout"
	CategoryNetwork  ErrorCategory = "network"
	CategoryConflict ErrorCategory = "conflict"
	CategoryInvalid  ErrorCategory = "invalid"
	CategoryBusiness ErrorCategory = "business"
	CategoryUnknown  ErrorCategory = "unknown"
)

// CategorizeError buckets an error by message keywords
func CategorizeError(err error) ErrorCategory {
	if err == nil {
		return CategoryUnknown
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return CategoryTimeout
	case strings.Contains(msg, "network") || strings.Contains(msg, "connection"):
		return CategoryNetwork
	case strings.Contains(msg, "conflict"):
		return CategoryConflict
	case strings.Contains(msg, "invalid"):
		return CategoryInvalid
	case strings.Contains(msg, "business"):
		return CategoryBusiness
	default:
		return CategoryUnknown
	}
}

// IsTransient reports whether an error is worth retrying with backoff
func IsTransient(err error) bool {
	switch CategorizeError(err) {
	case CategoryTimeout, CategoryNetwork:
		return true
	}
	return CodeOf(err) == ReasonTransientIO
}
