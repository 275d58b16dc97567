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
	"database/sql"
	"fmt"
	"strings"
)

// InterpreterRepository handles database operations for the interpreter pool
type InterpreterRepository struct {
	db *sql.DB
}

// NewInterpreterRepository creates a new interpreter repository
func NewInterpreterRepository(db *sql.DB) *InterpreterRepository {
	return &InterpreterRepository{db: db}
}

// ListActive returns all interpreters currently in the active pool
func (r *InterpreterRepository) ListActive(ctx context.Context) ([]Interpreter, error) {
	query := `
		SELECT emp_code, first_name, last_name, is_active, dept_path
		FROM interpreters
		WHERE is_active = TRUE
		ORDER BY emp_code
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list active interpreters: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var interpreters []Interpreter
	for rows.Next() {
		var i Interpreter
		if err := rows.Scan(&i.EmpCode, &i.FirstName, &i.LastName, &i.IsActive, &i.DeptPath); err != nil {
			return nil, fmt.Errorf("failed to scan interpreter: %w", err)
		}
		interpreters = append(interpreters, i)
	}
	return interpreters, rows.Err()
}

// Get returns one interpreter, or nil when the employee code is unknown
func (r *InterpreterRepository) Get(ctx context.Context, empCode string) (*Interpreter, error) {
	query := `
		SELECT emp_code, first_name, last_name, is_active, dept_path
		FROM interpreters
		WHERE emp_code = $1
	`
	i := &Interpreter{}
	err := r.db.QueryRowContext(ctx, query, empCode).Scan(
		&i.EmpCode, &i.FirstName, &i.LastName, &i.IsActive, &i.DeptPath,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get interpreter: %w", err)
	}
	return i, nil
}

// CenterComponent extracts the center partition from a department path.
// Paths look like "org/center-7/interpreting"; the center is the second
// segment. An empty path has no center.
func CenterComponent(deptPath string) string {
	parts := strings.Split(strings.Trim(deptPath, "/"), "/")
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

// FilterByCenters intersects interpreters with an admin's visible centers.
// A nil centers set means unrestricted (SUPER_ADMIN).
func FilterByCenters(interpreters []Interpreter, centers map[string]bool) []Interpreter {
	if centers == nil {
		return interpreters
	}
	filtered := make([]Interpreter, 0, len(interpreters))
	for _, i := range interpreters {
		if centers[CenterComponent(i.DeptPath)] {
			filtered = append(filtered, i)
		}
	}
	return filtered
}
