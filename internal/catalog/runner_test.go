package catalog

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeHandler struct {
	mu      sync.Mutex
	handled []string
	fn      func(ctx context.Context, job *Job, progress func(int)) error
}

func (f *fakeHandler) HandleJob(ctx context.Context, job *Job, progress func(int)) error {
	f.mu.Lock()
	f.handled = append(f.handled, job.ID)
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(ctx, job, progress)
	}
	return nil
}

func (f *fakeHandler) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.handled...)
}

func setupRunnerTest(t *testing.T, handler JobHandler) (*Runner, *Service, Repository) {
	t.Helper()

	database, repo := setupTestDB(t)
	t.Cleanup(func() { database.Close() })

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	svc := NewService(repo, nil)
	return NewRunner(repo, handler, logger, time.Hour), svc, repo
}

func enqueueStory(t *testing.T, svc *Service) *Job {
	t.Helper()
	job, err := svc.EnqueueJob(context.Background(), JobTypeStory, "", "", map[string]string{"keywords": "x"})
	if err != nil {
		t.Fatalf("EnqueueJob() error = %v", err)
	}
	return job
}

func TestProcessNextJob_Completes(t *testing.T) {
	handler := &fakeHandler{fn: func(ctx context.Context, job *Job, progress func(int)) error {
		progress(40)
		return nil
	}}
	runner, svc, repo := setupRunnerTest(t, handler)
	ctx := context.Background()
	job := enqueueStory(t, svc)

	if !runner.processNextJob(ctx) {
		t.Fatal("processNextJob() = false, want a job")
	}

	got, _ := repo.GetJob(ctx, job.ID)
	if got.Status != JobStatusCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
	if got.Progress != 100 {
		t.Errorf("progress = %d, want 100", got.Progress)
	}
	if runner.processNextJob(ctx) {
		t.Error("processNextJob() = true with an empty queue")
	}
}

func TestProcessNextJob_HandlerError(t *testing.T) {
	handler := &fakeHandler{fn: func(ctx context.Context, job *Job, progress func(int)) error {
		progress(30)
		return errors.New(strings.Repeat("x", 600))
	}}
	runner, svc, repo := setupRunnerTest(t, handler)
	ctx := context.Background()
	job := enqueueStory(t, svc)

	runner.processNextJob(ctx)

	got, _ := repo.GetJob(ctx, job.ID)
	if got.Status != JobStatusFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
	if len(got.Error) != 512 {
		t.Errorf("error length = %d, want 512", len(got.Error))
	}
	if got.Progress != 30 {
		t.Errorf("progress = %d, want 30", got.Progress)
	}
}

func TestProcessNextJob_OldestFirst(t *testing.T) {
	handler := &fakeHandler{}
	runner, svc, _ := setupRunnerTest(t, handler)
	ctx := context.Background()
	first := enqueueStory(t, svc)
	second := enqueueStory(t, svc)

	runner.processNextJob(ctx)
	runner.processNextJob(ctx)

	calls := handler.calls()
	if len(calls) != 2 || calls[0] != first.ID || calls[1] != second.ID {
		t.Errorf("handled = %v, want [%s %s]", calls, first.ID, second.ID)
	}
}

func TestRunner_NotifyDrainsQueue(t *testing.T) {
	handler := &fakeHandler{}
	runner, svc, repo := setupRunnerTest(t, handler)
	enqueueStory(t, svc)
	enqueueStory(t, svc)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		runner.Start(ctx)
		close(done)
	}()
	runner.Notify()

	deadline := time.Now().Add(5 * time.Second)
	for len(handler.calls()) < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	if n := len(handler.calls()); n != 2 {
		t.Fatalf("handled %d jobs, want 2", n)
	}
	pending, _ := repo.ListPendingJobs(context.Background())
	if len(pending) != 0 {
		t.Errorf("pending = %d, want 0", len(pending))
	}
	if runner.IsRunning() {
		t.Error("runner still reports running after cancel")
	}
}

func TestRunner_PauseResume(t *testing.T) {
	runner, _, _ := setupRunnerTest(t, &fakeHandler{})

	if runner.IsPaused() {
		t.Error("new runner should not be paused")
	}
	runner.Pause()
	if !runner.IsPaused() {
		t.Error("IsPaused() = false after Pause()")
	}
	runner.Resume()
	if runner.IsPaused() {
		t.Error("IsPaused() = true after Resume()")
	}
}

func TestRunner_PausedSkipsJobs(t *testing.T) {
	handler := &fakeHandler{}
	runner, svc, _ := setupRunnerTest(t, handler)
	enqueueStory(t, svc)
	runner.Pause()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		runner.Start(ctx)
		close(done)
	}()
	runner.Notify()
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	if n := len(handler.calls()); n != 0 {
		t.Errorf("handled %d jobs while paused", n)
	}
}
