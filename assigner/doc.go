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

// Package assigner implements the interpreter auto-assignment engine.
//
// A booking either gets an interpreter immediately or enters a deferred
// pool with a deadline derived from its meeting type's urgency threshold.
// Candidate selection scores the active pool on projected fairness,
// booking urgency and time since last assignment, subject to schedule
// conflicts and the consecutive-DR policy. A mode-dependent scheduler
// drains the pool; an emergency path drains it all at once under operator
// control. All decisions are audited to append-only logs.
package assigner
