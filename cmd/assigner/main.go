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

// Package main is the entry point for the LinguaFlow assignment engine.
//
// The engine auto-assigns interpreters to booked meetings:
// - Scores candidates on fairness, urgency and time-since-last-assignment
// - Detects schedule conflicts across the active interpreter pool
// - Enforces the consecutive-DR policy with emergency override
// - Defers non-urgent bookings to a deadline-driven pool
// - Drives the pool on a mode-dependent scheduler with drift control
//
// Usage:
//
//	./assigner
//
// Environment Variables:
//
//	PORT - HTTP server port (default: 8084)
//	DATABASE_URL - PostgreSQL connection string
//	JWT_SECRET - HMAC key for admin bearer tokens
//	REDIS_ADDR - leader-lease Redis address (optional)
//	ENGINE_CONFIG - path to YAML tuning file (optional)
package main

import (
	"linguaflow/platform/assigner"
)

func main() {
	assigner.Run()
}
