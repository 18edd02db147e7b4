// Package worker is the polling claim loop and background heartbeat
// task (§4.2). A single worker runs exactly one job at a time — the
// teacher's WORKER_CONCURRENCY multi-goroutine pool is deliberately not
// reused here, since §4.2 makes "one job in flight per process" an
// explicit invariant rather than an omission; horizontal scaling comes
// from running more worker processes (§5).
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/zachlagden/listworker/internal/domain"
	"github.com/zachlagden/listworker/internal/jobsrepo"
	"github.com/zachlagden/listworker/internal/pipeline"
	"github.com/zachlagden/listworker/internal/platform/dbctx"
	"github.com/zachlagden/listworker/internal/platform/logger"
)

// pollInterval is the sleep between empty claims (§4.2 "Between empty
// claims, sleep two seconds").
const pollInterval = 2 * time.Second

// Worker claims and executes jobs one at a time, with an independent
// heartbeat task reading a mutex-guarded current-job cell (§9
// "Background heartbeat").
type Worker struct {
	id   string
	jobs jobsrepo.Repo
	proc *pipeline.Processor
	log  *logger.Logger

	heartbeatInterval time.Duration

	mu        sync.Mutex
	currentID string
}

// New constructs a Worker identified by workerID (§6.1 "Worker id is a
// freshly generated UUID per process").
func New(workerID string, jobs jobsrepo.Repo, proc *pipeline.Processor, heartbeatInterval time.Duration, baseLog *logger.Logger) *Worker {
	return &Worker{
		id:                workerID,
		jobs:              jobs,
		proc:              proc,
		heartbeatInterval: heartbeatInterval,
		log:               baseLog.With("worker_id", workerID),
	}
}

// Run drives the claim loop until ctx is cancelled, then releases any
// held job and returns (§4.2 "Shutdown"). It also starts and stops the
// background heartbeat task.
func (w *Worker) Run(ctx context.Context) {
	hbCtx, stopHeartbeat := context.WithCancel(context.Background())
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go func() {
		defer hbWG.Done()
		w.runHeartbeat(hbCtx)
	}()

	w.runLoop(ctx)

	stopHeartbeat()
	hbWG.Wait()

	if err := w.releaseAll(); err != nil {
		w.log.Warn("release-all on shutdown failed", "error", err)
	}
}

func (w *Worker) runLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.log.Info("worker loop stopping")
			return
		default:
		}

		job, err := w.jobs.Claim(dbctx.Context{Ctx: ctx}, w.id)
		if err != nil {
			w.log.Warn("claim failed, retrying", "error", err)
			sleepOrDone(ctx, pollInterval)
			continue
		}
		if job == nil {
			sleepOrDone(ctx, pollInterval)
			continue
		}

		// The in-flight job runs to completion even if shutdown is
		// signalled meanwhile, so it gets a context that ctx's
		// cancellation does not reach.
		w.setCurrentJob(job.ID)
		w.processJob(context.WithoutCancel(ctx), job)
		w.setCurrentJob("")
	}
}

func (w *Worker) processJob(ctx context.Context, job *domain.Job) {
	log := w.log.With("job_id", job.ID, "tenant_id", job.TenantID)
	log.Info("processing job")

	if err := w.proc.ProcessJob(ctx, job); err != nil {
		log.Error("processor error, marking job failed", "error", err)
		if failErr := w.jobs.Fail(dbctx.Context{Ctx: ctx}, job.ID, domain.Failure(err.Error())); failErr != nil {
			log.Error("failed to write failed status", "error", failErr)
		}
		return
	}

	log.Info("job finished")
}

func (w *Worker) runHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			jobID := w.getCurrentJob()
			if jobID == "" {
				continue
			}
			ok, err := w.jobs.Heartbeat(dbctx.Background(), jobID, w.id)
			if err != nil {
				w.log.Warn("heartbeat write failed", "job_id", jobID, "error", err)
				continue
			}
			if !ok {
				w.log.Warn("heartbeat lost ownership of job", "job_id", jobID)
			}
		}
	}
}

func (w *Worker) setCurrentJob(id string) {
	w.mu.Lock()
	w.currentID = id
	w.mu.Unlock()
}

func (w *Worker) getCurrentJob() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.currentID
}

func (w *Worker) releaseAll() error {
	_, err := w.jobs.ReleaseAll(dbctx.Background(), w.id)
	return err
}

func sleepOrDone(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
