package catalog

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

const DefaultPollInterval = 2 * time.Second

// JobHandler executes one generation job. progress takes a percentage.
type JobHandler interface {
	HandleJob(ctx context.Context, job *Job, progress func(percent int)) error
}

type Runner struct {
	repo         Repository
	handler      JobHandler
	logger       *slog.Logger
	pollInterval time.Duration
	wake         chan struct{}
	running      atomic.Bool
	paused       atomic.Bool
	active       atomic.Int32
}

func NewRunner(repo Repository, handler JobHandler, logger *slog.Logger, pollInterval time.Duration) *Runner {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Runner{
		repo:         repo,
		handler:      handler,
		logger:       logger,
		pollInterval: pollInterval,
		wake:         make(chan struct{}, 1),
	}
}

func (r *Runner) Start(ctx context.Context) {
	if r.running.Swap(true) {
		return
	}

	r.logger.Info("job runner started", "poll_interval", r.pollInterval)

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("job runner stopping")
			r.running.Store(false)
			return
		case <-ticker.C:
		case <-r.wake:
		}
		if r.paused.Load() {
			continue
		}
		for r.processNextJob(ctx) {
			if ctx.Err() != nil || r.paused.Load() {
				break
			}
		}
	}
}

// Notify wakes the runner so a new job starts without waiting for a tick.
func (r *Runner) Notify() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Runner) Pause() {
	r.paused.Store(true)
	r.logger.Info("job runner paused")
}

func (r *Runner) Resume() {
	r.paused.Store(false)
	r.logger.Info("job runner resumed")
	r.Notify()
}

func (r *Runner) IsPaused() bool {
	return r.paused.Load()
}

func (r *Runner) IsRunning() bool {
	return r.running.Load()
}

// ActiveJobs is the number of jobs executing right now.
func (r *Runner) ActiveJobs() int {
	return int(r.active.Load())
}

// processNextJob runs the oldest pending job and reports whether there
// was one.
func (r *Runner) processNextJob(ctx context.Context) bool {
	jobs, err := r.repo.ListPendingJobs(ctx)
	if err != nil {
		r.logger.Error("failed to list pending jobs", "error", err)
		return false
	}
	if len(jobs) == 0 {
		return false
	}

	job := jobs[0]
	log := r.logger.With("job_id", job.ID, "type", job.Type, "project_id", job.ProjectID)
	log.Info("processing job")

	if err := r.repo.UpdateJobStatus(ctx, job.ID, JobStatusRunning, ""); err != nil {
		log.Error("failed to mark job running", "error", err)
		return false
	}

	r.active.Add(1)
	defer r.active.Add(-1)

	start := time.Now()
	progress := func(percent int) {
		if err := r.repo.UpdateJobProgress(ctx, job.ID, percent); err != nil {
			log.Warn("failed to record job progress", "error", err)
		}
	}

	if err := r.handler.HandleJob(ctx, job, progress); err != nil {
		log.Error("job failed", "error", err, "duration", time.Since(start))
		r.repo.UpdateJobStatus(context.WithoutCancel(ctx), job.ID, JobStatusFailed, truncateStr(err.Error(), 512))
		return true
	}

	r.repo.UpdateJobProgress(ctx, job.ID, 100)
	r.repo.UpdateJobStatus(ctx, job.ID, JobStatusCompleted, "")
	log.Info("job completed", "duration", time.Since(start))
	return true
}

func truncateStr(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
