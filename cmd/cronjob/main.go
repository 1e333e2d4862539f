package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"car-rental-backend/internal/bootstrap"
	"car-rental-backend/internal/config"
	"car-rental-backend/internal/jobs"
	"car-rental-backend/internal/logger"
	"car-rental-backend/internal/scheduler"
)

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "config/config.dev.yaml", "Path to configuration file")
	runOnce := flag.String("run-once", "", "Run a specific job once and exit (e.g., 'detect-late-returns', 'daily-reconciliation', 'all')")
	date := flag.String("date", "", "Day to reconcile with -run-once daily-reconciliation (YYYY-MM-DD, default yesterday)")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger.Initialize(logger.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	logger.Info("Starting Car Rental Cronjob Runner...", "log_level", cfg.Log.Level)

	// Initialize Database
	logger.Info("Connecting to database...", "host", cfg.Database.Host, "port", cfg.Database.Port)
	db, err := sql.Open("postgres", cfg.GetDatabaseConnectionString())
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Test database connection
	if err := db.Ping(); err != nil {
		logger.Error("Failed to ping database", "error", err)
		log.Fatalf("Failed to ping database: %v", err)
	}
	logger.Info("Database connection established")

	ctx := context.Background()
	container, err := bootstrap.NewContainer(ctx, db, cfg)
	if err != nil {
		logger.Error("Failed to initialize services", "error", err)
		log.Fatalf("Failed to initialize services: %v", err)
	}
	defer container.Close(context.Background())

	locker, err := container.NewLocker(ctx)
	if err != nil {
		logger.Error("Failed to connect to redis", "error", err)
		log.Fatalf("Failed to connect to redis: %v", err)
	}

	// Initialize Job Runner
	jobRunner := container.JobRunner(locker)

	// Check if running a single job
	if *runOnce != "" {
		logger.Info("Running job once", "job", *runOnce)
		if err := runJobOnce(ctx, jobRunner, *runOnce, *date); err != nil {
			logger.Error("Job execution failed", "job", *runOnce, "error", err)
			_ = container.Close(ctx)
			os.Exit(1)
		}
		logger.Info("Job execution completed", "job", *runOnce)
		return
	}

	// Initialize Scheduler
	cronScheduler := scheduler.NewScheduler(jobRunner)

	// Start scheduler
	cronScheduler.Start()
	logger.Info("Cronjob scheduler is running. Press Ctrl+C to stop.")

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	// Graceful shutdown
	logger.Info("Shutting down cronjob scheduler...")
	cronScheduler.Stop()
	logger.Info("Cronjob scheduler stopped. Goodbye!")
}

// runJobOnce runs a specific job once and exits
func runJobOnce(ctx context.Context, jobRunner *jobs.JobRunner, jobName, date string) error {
	switch jobName {
	case jobs.JobDetectLateReturns:
		return jobRunner.DetectLateReturns(ctx)
	case jobs.JobDailyReconciliation:
		if date == "" {
			return jobRunner.ReconcileYesterday(ctx)
		}
		day, err := time.ParseInLocation("2006-01-02", date, time.UTC)
		if err != nil {
			return fmt.Errorf("invalid -date %q: %w", date, err)
		}
		report, err := jobRunner.ReconcileDate(ctx, day)
		if err != nil {
			return err
		}
		fmt.Printf("Reconciliation %s: matched=%d discrepancies=%d skipped=%d\n",
			date, report.Matched, len(report.Discrepancies), report.Skipped)
		return nil
	case "all":
		return jobRunner.RunAll(ctx)
	default:
		fmt.Printf("Available jobs:\n")
		fmt.Printf("  - %s\n", jobs.JobDetectLateReturns)
		fmt.Printf("  - %s\n", jobs.JobDailyReconciliation)
		fmt.Printf("  - all\n")
		return fmt.Errorf("unknown job name: %s", jobName)
	}
}
