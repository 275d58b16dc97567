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

/*
Package logger provides structured JSON logging for LinguaFlow components.

# Overview

The logger outputs single-line JSON to stdout, making logs easily
consumable by CloudWatch, ELK, or other log aggregation systems.

Each log entry includes:
  - Timestamp (RFC3339Nano format)
  - Log level (DEBUG, INFO, WARN, ERROR)
  - Component name (assigner, scheduler, pool, etc.)
  - Instance ID and container name
  - Booking ID (for decision correlation with assignment_log rows)
  - Request ID (for HTTP request correlation)
  - Custom fields

# Usage

Create a logger for your component:

	log := logger.New("assigner")

Log messages with booking and request context:

	log.Info("1042", "req-456", "Booking routed to pool", map[string]interface{}{
	    "deadline": deadline.Format(time.RFC3339),
	})

Log failures with their stable reason code:

	log.ErrorWithReason("1042", "req-456", "Assignment escalated",
	    "NO_CANDIDATES", err, nil)

# Thread Safety

Logger instances are safe for concurrent use from multiple goroutines.
*/
package logger
