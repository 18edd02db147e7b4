// Command listworker is the worker process entrypoint: it registers
// signal handling, connects to the document database, runs the cache's
// startup cleanup sweep, and runs the claim loop until shutdown
// (§4.2, §4.3 "Runs at worker startup", §6.7 exit codes).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/zachlagden/listworker/internal/cacherepo"
	"github.com/zachlagden/listworker/internal/config"
	"github.com/zachlagden/listworker/internal/downloader"
	"github.com/zachlagden/listworker/internal/jobsrepo"
	"github.com/zachlagden/listworker/internal/pipeline"
	"github.com/zachlagden/listworker/internal/platform/dbctx"
	"github.com/zachlagden/listworker/internal/platform/logger"
	"github.com/zachlagden/listworker/internal/platform/mongodb"
	"github.com/zachlagden/listworker/internal/tenantsrepo"
	"github.com/zachlagden/listworker/internal/worker"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log = log.With("worker_id", cfg.WorkerID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := mongodb.Connect(ctx, cfg.MongoURI, cfg.DatabaseName, log, cfg.MongoConnectBaseBackoff, cfg.MongoConnectMaxElapsed)
	if err != nil {
		log.Error("failed to connect to Mongo", "error", err)
		os.Exit(1)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPTimeout)
		defer cancel()
		if err := svc.Close(closeCtx); err != nil {
			log.Warn("error closing Mongo connection", "error", err)
		}
	}()

	bucket, err := svc.GridFSBucket()
	if err != nil {
		log.Error("failed to open GridFS bucket", "error", err)
		os.Exit(1)
	}

	jobsRepo := jobsrepo.New(svc.Collection("jobs"), log)
	cacheRepo := cacherepo.New(svc.Collection("cache"), bucket, cfg.CacheLargeObjectThreshold, log)
	configRepo := tenantsrepo.NewConfigRepo(svc.Collection("tenants"), log)
	statsRepo := tenantsrepo.NewStatsRepo(svc.Collection("tenant_stats"), log)

	deleted, err := cacheRepo.CleanupStale(dbctx.Background(), cfg.CacheTTL)
	if err != nil {
		log.Warn("startup cache cleanup failed", "error", err)
	} else {
		log.Info("startup cache cleanup complete", "deleted", deleted)
	}

	dl := downloader.New(cfg.HTTPTimeout, cacheRepo, log)

	proc := &pipeline.Processor{
		Jobs:        jobsRepo,
		Cache:       cacheRepo,
		Configs:     configRepo,
		Stats:       statsRepo,
		Downloader:  dl,
		DataDir:     cfg.DataDir,
		CacheTTL:    cfg.CacheTTL,
		MaxDownload: cfg.MaxConcurrentDownloads,
		Log:         log,
	}

	w := worker.New(cfg.WorkerID, jobsRepo, proc, cfg.HeartbeatInterval, log)

	log.Info("worker starting", "database", cfg.DatabaseName, "data_dir", cfg.DataDir)
	w.Run(ctx)
	log.Info("worker shut down cleanly")
}
