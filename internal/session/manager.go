package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/marriagesignal/studio/internal/catalog"
	"github.com/marriagesignal/studio/internal/events"
	"github.com/marriagesignal/studio/internal/generation"
	"github.com/marriagesignal/studio/internal/playback"
	"github.com/marriagesignal/studio/internal/production"
	"github.com/marriagesignal/studio/internal/timeline"
)

type Options struct {
	Bus *events.Bus
	// Output builds the audio output for a project's preview. Defaults to
	// playback.CueOutput on Bus.
	Output   func(projectID string) playback.Output
	Clock    playback.Clock
	Interval time.Duration
	Logger   *slog.Logger
}

// Manager owns the open sessions and executes generation jobs against
// them.
type Manager struct {
	library  *catalog.Service
	producer *production.Producer
	opts     Options
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	last     string
}

func NewManager(library *catalog.Service, producer *production.Producer, opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Output == nil {
		bus := opts.Bus
		opts.Output = func(projectID string) playback.Output {
			return playback.CueOutput{Bus: bus, ProjectID: projectID}
		}
	}
	if opts.Interval == 0 {
		opts.Interval = playback.DefaultInterval
	}
	return &Manager{
		library:  library,
		producer: producer,
		opts:     opts,
		logger:   opts.Logger,
		sessions: make(map[string]*Session),
	}
}

// Open returns the session for a stored project, loading it on first use.
func (m *Manager) Open(ctx context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[id]; ok {
		m.last = id
		return s, nil
	}

	p, store, err := m.library.LoadProject(ctx, id)
	if err != nil {
		return nil, err
	}
	timeline.RecalculateAll(p)

	sctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:      id,
		bus:     m.opts.Bus,
		logger:  m.logger.With("project_id", id),
		ctx:     sctx,
		cancel:  cancel,
		project: p,
		total:   timeline.TotalDuration(p),
		audio:   store,
	}
	s.scheduler = playback.NewScheduler(playback.Config{
		ProjectID: id,
		View:      s,
		Output:    m.opts.Output(id),
		Clock:     m.opts.Clock,
		Bus:       m.opts.Bus,
		Interval:  m.opts.Interval,
		Logger:    s.logger,
	})

	m.sessions[id] = s
	m.last = id
	m.logger.Info("session opened", "project_id", id, "cuts", len(p.Cuts))
	return s, nil
}

func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Last is the most recently opened session, or nil.
func (m *Manager) Last() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[m.last]
}

// Save writes the session's project and audio back to the library.
func (m *Manager) Save(ctx context.Context, s *Session) (*catalog.Project, error) {
	snapshot := s.Snapshot()
	rec, err := m.library.SaveProject(ctx, s.id, snapshot, s.audio)
	if err != nil {
		return nil, fmt.Errorf("saving session %s: %w", s.id, err)
	}
	s.markClean()
	return rec, nil
}

// Close stops playback, saves pending edits and forgets the session.
func (m *Manager) Close(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return nil
	}

	s.close()
	if s.Dirty() {
		if _, err := m.Save(ctx, s); err != nil {
			return err
		}
	}
	s.Release()
	m.logger.Info("session closed", "project_id", id)
	return nil
}

// Discard drops a session without saving, for deleted projects.
func (m *Manager) Discard(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		s.close()
		s.Release()
	}
}

func (m *Manager) CloseAll(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.Close(ctx, id); err != nil {
			m.logger.Error("failed to close session", "project_id", id, "error", err)
		}
	}
}

// HandleJob runs a queued generation job. It implements catalog.JobHandler.
func (m *Manager) HandleJob(ctx context.Context, job *catalog.Job, progress func(int)) error {
	if job.Type == catalog.JobTypeStory {
		return m.handleStory(ctx, job, progress)
	}

	s, err := m.Open(ctx, job.ProjectID)
	if err != nil {
		return err
	}
	progress(5)

	switch job.Type {
	case catalog.JobTypeReferenceImages:
		done, failed := m.producer.GenerateReferenceImages(ctx, s)
		s.logger.Info("reference images generated", "job_id", job.ID, "done", done, "failed", failed)
	case catalog.JobTypeShotImages:
		done, failed, err := m.producer.GenerateShotImages(ctx, s)
		if err != nil {
			return err
		}
		s.logger.Info("shot images generated", "job_id", job.ID, "done", done, "failed", failed)
	case catalog.JobTypeSpeech:
		if job.TargetID != "" {
			err = m.producer.GenerateSpeech(ctx, s, job.TargetID)
		} else {
			var done, failed int
			done, failed, err = m.producer.GenerateAllSpeech(ctx, s)
			s.logger.Info("speech generated", "job_id", job.ID, "done", done, "failed", failed)
		}
		if err != nil {
			// Keep whatever did succeed.
			m.Save(context.WithoutCancel(ctx), s)
			return err
		}
	case catalog.JobTypeTiming:
		if err := m.producer.Retime(s); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown job type %q", job.Type)
	}

	progress(95)
	_, err = m.Save(ctx, s)
	return err
}

func (m *Manager) handleStory(ctx context.Context, job *catalog.Job, progress func(int)) error {
	var req generation.StoryRequest
	if err := json.Unmarshal([]byte(job.Payload), &req); err != nil {
		return fmt.Errorf("decoding story request: %w", err)
	}

	progress(5)
	p, store, report, err := m.producer.GenerateFullStory(ctx, req)
	if err != nil {
		return err
	}
	progress(95)

	rec, err := m.library.CreateProject(ctx, p, store)
	if err != nil {
		return err
	}
	if err := m.library.AttachJobProject(ctx, job.ID, rec.ID); err != nil {
		m.logger.Warn("failed to link story job to project", "job_id", job.ID, "project_id", rec.ID, "error", err)
	}
	m.logger.Info("story generated", "job_id", job.ID, "project_id", rec.ID,
		"speech", report.Speech, "speech_failures", report.SpeechFailures,
		"images", report.ShotImages, "image_failures", report.ShotFailures)
	return nil
}
