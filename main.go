package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"xarid-sync/config"
	"xarid-sync/marketplace"
	"xarid-sync/scraper"
	"xarid-sync/services"
	"xarid-sync/storage"
	"xarid-sync/utils"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: xarid-sync <scrape|create|update>")
		os.Exit(2)
	}
	job := os.Args[1]

	cfg := config.Load()
	logger := utils.NewLogger(cfg.Verbose)
	ctx := context.Background()

	logger.Info("=== xarid-sync starting — job: %s ===", job)
	logger.Info("Config — batch: %d | record delay: %dms | field delay: %dms",
		cfg.BatchSize, cfg.InterRecordDelayMs, cfg.InterFieldDelayMs)

	repo, err := storage.NewPostgres(cfg.DSN(), cfg.ListingCacheSize)
	if err != nil {
		logger.Error("Failed to connect to PostgreSQL: %v", err)
		logger.Error("Make sure Docker is running: docker compose up -d")
		os.Exit(1)
	}
	defer repo.Close()

	client, err := marketplace.NewClient(marketplace.Options{
		BaseURL:     cfg.APIBaseURL,
		Origin:      cfg.APIOrigin,
		Login:       cfg.Login,
		Password:    cfg.Password,
		ClientID:    cfg.ClientID,
		InsecureTLS: cfg.InsecureTLS,
		Logger:      logger,
	})
	if err != nil {
		logger.Error("Failed to build marketplace client: %v", err)
		os.Exit(1)
	}

	metrics := services.NewMetrics()
	client.SetCallHook(metrics.IncRPC)

	switch job {
	case "scrape":
		runScrape(ctx, cfg, logger, repo, client)
	case "create":
		runCreate(ctx, cfg, logger, repo, client)
	case "update":
		runUpdate(ctx, cfg, logger, repo, client, metrics)
	default:
		fmt.Fprintf(os.Stderr, "unknown job %q — want scrape, create, or update\n", job)
		os.Exit(2)
	}
}

func runScrape(ctx context.Context, cfg *config.Config, logger *utils.Logger,
	repo storage.Repository, client *marketplace.Client) {

	s := scraper.New(repo, client, logger, cfg.ScrapePageSize)
	if err := s.Run(ctx); err != nil {
		logger.Error("Scrape failed: %v", err)
		os.Exit(1)
	}
}

func runCreate(ctx context.Context, cfg *config.Config, logger *utils.Logger,
	repo storage.Repository, client *marketplace.Client) {

	authenticate(ctx, cfg, logger, client)

	syncer := services.NewSyncer(repo, client, logger, cfg.Login, cfg.BatchSize,
		time.Duration(cfg.InterRecordDelayMs)*time.Millisecond)
	summary, err := syncer.Run(ctx)
	if err != nil {
		logger.Error("Create sync failed: %v", err)
		os.Exit(1)
	}
	printSummary(logger, "create", summary.Total, summary.Successful, summary.Failed)
}

func runUpdate(ctx context.Context, cfg *config.Config, logger *utils.Logger,
	repo storage.Repository, client *marketplace.Client, metrics *services.Metrics) {

	authenticate(ctx, cfg, logger, client)

	mapper := services.NewFieldMapper(logger)
	reconciler := services.NewReconciler(repo, client, mapper, logger, metrics,
		services.ReconcilerOptions{
			BatchSize:        cfg.BatchSize,
			InterRecordDelay: time.Duration(cfg.InterRecordDelayMs) * time.Millisecond,
			InterFieldDelay:  time.Duration(cfg.InterFieldDelayMs) * time.Millisecond,
		})

	summary, err := reconciler.ProcessBatch(ctx, cfg.Login)
	if err != nil {
		logger.Error("Field update batch failed: %v", err)
		os.Exit(1)
	}

	if len(summary.Errors) > 0 {
		report, err := storage.NewReportWriter(cfg.ReportPath)
		if err != nil {
			logger.Error("Failed to create failure report: %v", err)
		} else {
			defer report.Close()
			if err := report.WriteSummary(summary); err != nil {
				logger.Error("Failed to write failure report: %v", err)
			} else {
				logger.Info("Failure report written to %s", cfg.ReportPath)
			}
		}
		for _, recErr := range summary.Errors {
			logger.Warn("  - %s (proc %d): %s", recErr.ListingID, recErr.ProcedureID, recErr.Reason)
		}
	}
	printSummary(logger, "update", summary.Total, summary.Successful, summary.Failed)
}

// authenticate validates credentials and performs the password grant,
// retrying a couple of times since nothing has happened yet that a
// retry could duplicate.
func authenticate(ctx context.Context, cfg *config.Config, logger *utils.Logger, client *marketplace.Client) {
	if err := cfg.ValidateCredentials(); err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}

	retry := &utils.RetryConfig{MaxAttempts: 3, BaseDelay: 2 * time.Second, Logger: logger}
	err := retry.Do(ctx, "authenticate", func() error {
		_, err := client.Authenticate(ctx)
		return err
	})
	if err != nil {
		logger.Error("Authentication failed: %v", err)
		os.Exit(1)
	}
	logger.Info("Authenticated as %s", cfg.Login)
}

func printSummary(logger *utils.Logger, job string, total, successful, failed int) {
	logger.Info("=== %s summary — total: %d | successful: %d | failed: %d ===",
		job, total, successful, failed)
}
