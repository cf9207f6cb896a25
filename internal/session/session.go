// Package session holds the projects open for editing and preview. Every
// model mutation goes through a Session so that timing, playback and
// generation never see a half-applied edit.
package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/marriagesignal/studio/internal/audio"
	"github.com/marriagesignal/studio/internal/events"
	"github.com/marriagesignal/studio/internal/playback"
	"github.com/marriagesignal/studio/internal/timeline"
)

// Session is one open project. It satisfies playback.ProjectView and
// production.Workspace.
type Session struct {
	id     string
	bus    *events.Bus
	logger *slog.Logger

	// ctx outlives requests; playback started over HTTP keeps running
	// after the request returns.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	project *timeline.Project
	total   float64
	dirty   bool

	audio     *audio.Store
	scheduler *playback.Scheduler
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) View(fn func(p *timeline.Project)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.project)
}

// Update applies fn and then re-runs duration aggregation. A change of
// the total is published after the lock is released.
func (s *Session) Update(fn func(p *timeline.Project) error) error {
	s.mu.Lock()
	err := fn(s.project)
	timeline.RecalculateAll(s.project)
	total := timeline.TotalDuration(s.project)
	changed := total != s.total
	s.total = total
	s.dirty = true
	s.mu.Unlock()

	if changed {
		s.bus.Publish(events.Event{Type: events.TotalDurationChanged, ProjectID: s.id, Total: total})
	}
	return err
}

func (s *Session) Audio(dialogueID string) ([]byte, bool) {
	return s.audio.Get(dialogueID)
}

func (s *Session) PutAudio(dialogueID string, wav []byte) {
	s.audio.Put(dialogueID, wav)
}

func (s *Session) DeleteAudio(dialogueID string) {
	s.audio.Delete(dialogueID)
}

func (s *Session) AudioStore() *audio.Store {
	return s.audio
}

// Snapshot returns a deep copy of the project.
func (s *Session) Snapshot() *timeline.Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.project.Clone()
}

func (s *Session) TotalDuration() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func (s *Session) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

func (s *Session) markClean() {
	s.mu.Lock()
	s.dirty = false
	s.mu.Unlock()
}

// Retime auto-times every cut and aggregates durations. It returns the
// indexes of cuts left stale.
func (s *Session) Retime() []int {
	var stale []int
	s.Update(func(p *timeline.Project) error {
		timeline.AutoTimeAll(p)
		stale = timeline.RecalculateAll(p)
		return nil
	})
	return stale
}

func (s *Session) Play() error {
	return s.scheduler.Play(s.ctx)
}

func (s *Session) Pause() {
	s.scheduler.Pause()
}

func (s *Session) Stop() {
	s.scheduler.Stop()
}

func (s *Session) Seek(t float64) error {
	return s.scheduler.Seek(s.ctx, t)
}

func (s *Session) Playback() playback.Status {
	return s.scheduler.Status()
}

// Release stops playback and drops every audio buffer the session holds.
func (s *Session) Release() {
	s.scheduler.Stop()
	s.audio.Clear()
}

// Replace swaps in a reloaded project with its audio. Buffers of the
// previous project are released first.
func (s *Session) Replace(p *timeline.Project, store *audio.Store) {
	s.Release()
	s.Update(func(cur *timeline.Project) error {
		*cur = *p
		return nil
	})
	for _, id := range store.Keys() {
		if wav, ok := store.Get(id); ok {
			s.audio.Put(id, wav)
		}
	}
}

// close stops playback. It must not be called with s.mu held; the
// scheduler reads the project under its own lock.
func (s *Session) close() {
	s.scheduler.Stop()
	s.cancel()
}
