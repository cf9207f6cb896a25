// Package catalog is the project library: stored projects, their dialogue
// audio and the queue of generation jobs.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/marriagesignal/studio/internal/audio"
	"github.com/marriagesignal/studio/internal/document"
	"github.com/marriagesignal/studio/internal/timeline"
)

type LibraryService interface {
	CreateProject(ctx context.Context, p *timeline.Project, store *audio.Store) (*Project, error)
	SaveProject(ctx context.Context, id string, p *timeline.Project, store *audio.Store) (*Project, error)
	GetProject(ctx context.Context, id string) (*Project, error)
	LoadProject(ctx context.Context, id string) (*timeline.Project, *audio.Store, error)
	ListProjects(ctx context.Context) ([]*Project, error)
	DeleteProject(ctx context.Context, id string) error
	ImportDocument(ctx context.Context, data []byte) (*Project, error)
	ExportDocument(ctx context.Context, id string) ([]byte, error)
	EnqueueJob(ctx context.Context, jobType, projectID, targetID string, payload any) (*Job, error)
	RecalculateTiming(ctx context.Context, id string) (*TimingResult, error)
}

// TimingResult reports a timing pass. StaleCuts lists cuts whose duration
// was kept because a dialogue has no audio duration yet.
type TimingResult struct {
	TotalDuration float64 `json:"total_duration"`
	StaleCuts     []int   `json:"stale_cuts"`
}

type Service struct {
	repo   Repository
	logger *slog.Logger
}

func NewService(repo Repository, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

func (s *Service) CreateProject(ctx context.Context, p *timeline.Project, store *audio.Store) (*Project, error) {
	now := time.Now()
	rec, err := s.save(ctx, NewID(), p, store, now)
	if err != nil {
		return nil, err
	}
	if s.logger != nil {
		s.logger.Info("project created", "project_id", rec.ID, "title", rec.Title, "cuts", rec.CutCount)
	}
	return rec, nil
}

func (s *Service) SaveProject(ctx context.Context, id string, p *timeline.Project, store *audio.Store) (*Project, error) {
	existing, err := s.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.save(ctx, id, p, store, existing.CreatedAt)
}

func (s *Service) save(ctx context.Context, id string, p *timeline.Project, store *audio.Store, createdAt time.Time) (*Project, error) {
	doc, err := document.Marshal(p, nil)
	if err != nil {
		return nil, fmt.Errorf("encoding project: %w", err)
	}

	rec := &Project{
		ID:            id,
		Title:         p.Title,
		Version:       document.CurrentVersion,
		TotalDuration: timeline.TotalDuration(p),
		CutCount:      len(p.Cuts),
		DialogueCount: p.DialogueCount(),
		Document:      doc,
		CreatedAt:     createdAt,
		UpdatedAt:     time.Now(),
	}

	var rows []*DialogueAudio
	if store != nil {
		for _, dialogueID := range store.Keys() {
			if _, d := p.FindDialogue(dialogueID); d == nil {
				continue
			}
			wav, _ := store.Get(dialogueID)
			seconds, err := audio.Duration(wav)
			if err != nil {
				if s.logger != nil {
					s.logger.Warn("skipping undecodable audio", "project_id", id, "dialogue_id", dialogueID, "error", err)
				}
				continue
			}
			rows = append(rows, &DialogueAudio{DialogueID: dialogueID, WAV: wav, Duration: seconds})
		}
	}

	if err := s.repo.SaveProject(ctx, rec, rows); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Service) GetProject(ctx context.Context, id string) (*Project, error) {
	rec, err := s.repo.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	return rec, nil
}

// LoadProject decodes a stored project and restores its audio. Stored
// audio durations fill in dialogues whose duration is unknown.
func (s *Service) LoadProject(ctx context.Context, id string) (*timeline.Project, *audio.Store, error) {
	rec, err := s.GetProject(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	res, err := document.Unmarshal(rec.Document)
	if err != nil {
		return nil, nil, fmt.Errorf("decoding project %s: %w", id, err)
	}

	rows, err := s.repo.ListAudio(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("loading audio for project %s: %w", id, err)
	}
	for _, a := range rows {
		_, d := res.Project.FindDialogue(a.DialogueID)
		if d == nil {
			continue
		}
		res.Audio.Put(a.DialogueID, a.WAV)
		if d.AudioDuration == nil {
			d.AudioDuration = timeline.Seconds(a.Duration)
		}
	}
	return res.Project, res.Audio, nil
}

func (s *Service) ListProjects(ctx context.Context) ([]*Project, error) {
	return s.repo.ListProjects(ctx)
}

func (s *Service) DeleteProject(ctx context.Context, id string) error {
	if _, err := s.GetProject(ctx, id); err != nil {
		return err
	}
	if err := s.repo.DeleteProject(ctx, id); err != nil {
		return err
	}
	if s.logger != nil {
		s.logger.Info("project deleted", "project_id", id)
	}
	return nil
}

// ImportDocument stores a project file of any supported version.
func (s *Service) ImportDocument(ctx context.Context, data []byte) (*Project, error) {
	res, err := document.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	rec, err := s.CreateProject(ctx, res.Project, res.Audio)
	if err != nil {
		return nil, err
	}
	if s.logger != nil && res.StoredVersion < document.CurrentVersion {
		s.logger.Info("imported project migrated", "project_id", rec.ID, "from_version", res.StoredVersion, "to_version", document.CurrentVersion)
	}
	return rec, nil
}

// ExportDocument returns the project file with audio embedded.
func (s *Service) ExportDocument(ctx context.Context, id string) ([]byte, error) {
	p, store, err := s.LoadProject(ctx, id)
	if err != nil {
		return nil, err
	}
	return document.Marshal(p, store)
}

func (s *Service) EnqueueJob(ctx context.Context, jobType, projectID, targetID string, payload any) (*Job, error) {
	if !JobTypes[jobType] {
		return nil, fmt.Errorf("unknown job type %q", jobType)
	}
	if jobType == JobTypeStory {
		if payload == nil {
			return nil, fmt.Errorf("story job needs a request payload")
		}
	} else if _, err := s.GetProject(ctx, projectID); err != nil {
		return nil, err
	}

	var encoded string
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding job payload: %w", err)
		}
		encoded = string(data)
	}

	now := time.Now()
	job := &Job{
		ID:        NewID(),
		Type:      jobType,
		Status:    JobStatusPending,
		ProjectID: projectID,
		TargetID:  targetID,
		Payload:   encoded,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	if s.logger != nil {
		s.logger.Info("generation job created", "job_id", job.ID, "type", jobType, "project_id", projectID)
	}
	return job, nil
}

// RecalculateTiming auto-times and aggregates a stored project in place.
func (s *Service) RecalculateTiming(ctx context.Context, id string) (*TimingResult, error) {
	p, store, err := s.LoadProject(ctx, id)
	if err != nil {
		return nil, err
	}
	timeline.AutoTimeAll(p)
	stale := timeline.RecalculateAll(p)
	rec, err := s.SaveProject(ctx, id, p, store)
	if err != nil {
		return nil, err
	}
	return &TimingResult{TotalDuration: rec.TotalDuration, StaleCuts: stale}, nil
}

func (s *Service) GetJob(ctx context.Context, id string) (*Job, error) {
	job, err := s.repo.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return job, nil
}

func (s *Service) ListJobs(ctx context.Context, limit int) ([]*Job, error) {
	return s.repo.ListJobs(ctx, limit)
}

// AttachJobProject records the project a story job produced.
func (s *Service) AttachJobProject(ctx context.Context, jobID, projectID string) error {
	return s.repo.UpdateJobProject(ctx, jobID, projectID)
}
