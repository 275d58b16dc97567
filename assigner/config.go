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
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// EngineConfig carries process-level tuning. Policy-level parameters
// (weights, windows, thresholds) live in the database; this file only holds
// knobs that are deployment concerns rather than admin concerns.
type EngineConfig struct {
	Port string `yaml:"port"`

	// Pool processor tuning
	BatchSize   int           `yaml:"batch_size"`
	Parallelism int           `yaml:"parallelism"` // honoured only in CUSTOM mode
	TickBudget  time.Duration `yaml:"tick_budget"`

	// Custom-mode overrides; ignored in canonical modes
	CustomIntervalMinutes   int           `yaml:"custom_interval_minutes"`
	CustomLookahead         time.Duration `yaml:"custom_lookahead"`
	CustomForbidConsecutive bool          `yaml:"custom_forbid_consecutive"`

	// Runner budgets
	RunnerBudget       time.Duration `yaml:"runner_budget"`
	AvailabilityBudget time.Duration `yaml:"availability_budget"`

	// When true the Runner intersects candidates with the booker's admin
	// scope. Default false: auto-assignment acts system-wide and only
	// SuggestCandidates uses the caller's scope.
	ScopeRunnerCandidates bool `yaml:"scope_runner_candidates"`

	// Leader lease
	RedisAddr      string        `yaml:"redis_addr"`
	LeaderLeaseTTL time.Duration `yaml:"leader_lease_ttl"`
}

// DefaultEngineConfig returns the built-in tuning defaults
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Port:                  "8084",
		BatchSize:             20,
		Parallelism:           1,
		TickBudget:            60 * time.Second,
		CustomIntervalMinutes: 15,
		CustomLookahead:       6 * time.Hour,
		RunnerBudget:          10 * time.Second,
		AvailabilityBudget:    500 * time.Millisecond,
		LeaderLeaseTTL:        90 * time.Second,
	}
}

// LoadEngineConfig reads tuning from an optional YAML file and applies
// environment overrides. A missing file is not an error; the defaults apply.
func LoadEngineConfig(path string) (EngineConfig, error) {
	cfg := DefaultEngineConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, nil
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = port
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.RedisAddr = addr
	}

	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	if cfg.Parallelism < 1 {
		cfg.Parallelism = 1
	}
	if cfg.TickBudget <= 0 {
		cfg.TickBudget = 60 * time.Second
	}

	return cfg, nil
}

// DatabaseURL resolves the postgres connection string. DATABASE_URL wins;
// otherwise it is assembled from the discrete DATABASE_* variables
// (12-Factor App pattern).
func DatabaseURL() (string, error) {
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		return dbURL, nil
	}

	host := os.Getenv("DATABASE_HOST")
	port := os.Getenv("DATABASE_PORT")
	user := os.Getenv("DATABASE_USER")
	password := os.Getenv("DATABASE_PASSWORD")
	dbname := os.Getenv("DATABASE_NAME")
	sslmode := os.Getenv("DATABASE_SSLMODE")

	if sslmode == "" {
		sslmode = "require" // secure by default
	}
	if port == "" {
		port = "5432"
	}
	if host == "" || user == "" || password == "" || dbname == "" {
		return "", fmt.Errorf("database not configured (need DATABASE_URL or DATABASE_HOST, DATABASE_USER, DATABASE_PASSWORD, DATABASE_NAME)")
	}

	return fmt.Sprintf("postgresql://%s:%s@%s:%s/%s?sslmode=%s",
		user, password, host, port, dbname, sslmode), nil
}
