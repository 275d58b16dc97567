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
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

// Run starts the assignment engine service: schema init, repositories, the
// scheduler loop and the HTTP API. It blocks until SIGINT/SIGTERM, then
// drains in-flight work before exiting.
//
// Environment variables used:
//   - PORT: HTTP server port (default: 8084)
//   - DATABASE_URL (or DATABASE_HOST/PORT/USER/PASSWORD/NAME/SSLMODE)
//   - JWT_SECRET: HMAC key for admin tokens
//   - REDIS_ADDR: leader-lease Redis (optional; standalone without it)
//   - ENGINE_CONFIG: path to the YAML tuning file (optional)
func Run() {
	log.Println("Starting LinguaFlow Assignment Engine...")

	cfg, err := LoadEngineConfig(os.Getenv("ENGINE_CONFIG"))
	if err != nil {
		log.Fatalf("Failed to load engine config: %v", err)
	}

	dbURL, err := DatabaseURL()
	if err != nil {
		log.Fatalf("Database configuration error: %v", err)
	}
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := InitializeSchema(ctx, db); err != nil {
		cancel()
		log.Fatalf("Failed to initialize schema: %v", err)
	}
	if err := SeedDefaults(ctx, db); err != nil {
		cancel()
		log.Fatalf("Failed to seed defaults: %v", err)
	}
	cancel()

	bookings := NewBookingRepository(db)
	interpreters := NewInterpreterRepository(db)
	policies := NewPolicyStore(db)
	priorities := NewPriorityRepository(db)
	logs := NewAssignmentLogRepository(db)
	history := NewPoolHistoryRepository(db)
	pool := NewPoolRepository(db)

	poolManager := NewDynamicPoolManager()
	runner := NewRunner(bookings, interpreters, policies, priorities, poolManager, cfg)
	processor := NewPoolProcessor(pool, runner, policies, cfg)
	scheduler := NewScheduler(processor, policies, cfg)
	emergency := NewEmergencyProcessor(pool, runner, history, NewEmergencyRunRepository(db))
	recovery := NewRecoveryManager(pool, bookings)

	scheduler.Start(context.Background())
	defer scheduler.Stop()

	r := mux.NewRouter()

	// Liveness and metrics sit outside auth
	r.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if err := db.PingContext(req.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, ReasonSystemDegraded, "database unreachable")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := NewAPIHandler(bookings, pool, policies, priorities, logs, history,
		runner, scheduler, emergency, recovery)
	api.RegisterRoutes(r)

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"}, // Configure for production
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      c.Handler(r),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute, // emergency drains can run long
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Assignment engine listening on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Println("Shutting down assignment engine...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown error: %v", err)
	}
}
