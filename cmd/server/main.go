/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the attendance engine server.
  Handles configuration, dependency injection, job scheduling and
  graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, flags)
  2. Initialize SQLite store
  3. Seed rules and shifts from the rules file, if any
  4. Create API handler, engines and job orchestrator
  5. Start scheduled jobs when autostart is on
  6. Configure HTTP router and start the server

CONFIGURATION:
  See config/config.go for every flag and environment variable.
  Flags override the environment, which overrides defaults.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop job schedules and wait for in-flight runs (same deadline)
  4. Close database connection

EXAMPLES:
  # Run with file database and seeded rules
  ./server -db="./data/attendance.db" -rules=rules.example.json

  # Run in-memory, Bogota time, jobs scheduled at startup
  ./server -db=":memory:" -tz=America/Bogota -jobs-autostart

SEE ALSO:
  - config/config.go: Configuration
  - api/server.go: Router configuration
  - jobs/orchestrator.go: Scheduled jobs
*/
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/warp/attendance-engine/api"
	"github.com/warp/attendance-engine/config"
	"github.com/warp/attendance-engine/rules"
	"github.com/warp/attendance-engine/store/sqlite"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	cfg.Log(log.Default())

	clock, err := cfg.Clock()
	if err != nil {
		log.Fatalf("Invalid timezone: %v", err)
	}

	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Seed rules
	if cfg.RulesFile != "" {
		f, err := rules.LoadFile(cfg.RulesFile)
		if err != nil {
			log.Fatalf("Failed to load rules: %v", err)
		}
		if err := rules.Seed(context.Background(), store, f); err != nil {
			log.Fatalf("Failed to seed rules: %v", err)
		}
		log.Printf("[Rules] seeded %d tardiness rules, %d disciplinary rules, %d assignments from %s",
			len(f.Tardiness), len(f.Disciplinary), len(f.Assignments), cfg.RulesFile)
	}

	// Initialize handler
	handler, err := api.NewHandler(store, clock, api.Options{
		UnpaidBreak:       cfg.UnpaidBreak,
		MaxPlausibleHours: cfg.MaxPlausibleHours,
		Schedule:          cfg.Schedule(),
	})
	if err != nil {
		log.Fatalf("Failed to initialize handler: %v", err)
	}

	// Load existing rules into cache
	if err := handler.LoadRules(context.Background()); err != nil {
		log.Printf("Warning: Failed to load tardiness rules: %v", err)
	}

	if cfg.JobsAutostart {
		for _, kind := range handler.Jobs.Kinds() {
			if err := handler.Jobs.Start(kind); err != nil {
				log.Fatalf("Failed to start %s job: %v", kind, err)
			}
		}
	}

	router := api.NewRouter(handler, cfg.CORSOrigins)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // manual job runs answer synchronously
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on http://localhost:%d", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}
	if err := handler.Jobs.Shutdown(ctx); err != nil {
		log.Printf("Jobs forced to stop: %v", err)
	}

	log.Println("Server stopped")
}
