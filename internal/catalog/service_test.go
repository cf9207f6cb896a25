package catalog

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/marriagesignal/studio/internal/audio"
	"github.com/marriagesignal/studio/internal/db"
	"github.com/marriagesignal/studio/internal/document"
	"github.com/marriagesignal/studio/internal/timeline"
)

func setupTestDB(t *testing.T) (*db.DB, Repository) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	database, err := db.New(dbPath, nil)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	repo := NewRepository(database.Conn())
	return database, repo
}

// oneSecond is a second of silent speech as WAV.
func oneSecond() []byte {
	return audio.EncodeWAV(make([]byte, audio.SampleRate*2), audio.SampleRate)
}

func sampleProject() *timeline.Project {
	return &timeline.Project{
		Title:      "계약 결혼",
		Characters: []*timeline.Character{{ID: "c1", Name: "하준", Speed: 1}},
		Cuts: []*timeline.Cut{{
			ID:                 "cut-1",
			Duration:           3,
			AutoAdjustDuration: true,
			Shots:              []*timeline.Shot{{ShotID: 1, ImagePrompt: "@하준 smiles"}},
			Dialogues: []*timeline.Dialogue{
				{ID: "d1", CharID: "c1", Text: "안녕", StartTime: 4, PostDelay: 0.5},
				{ID: "d2", CharID: "c1", Text: "잘 지냈어?", PostDelay: 0.25},
			},
		}},
	}
}

func TestService_CreateAndLoadProject(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()
	svc := NewService(repo, nil)
	ctx := context.Background()

	store := audio.NewStore()
	store.Put("d1", oneSecond())
	store.Put("gone", oneSecond())

	rec, err := svc.CreateProject(ctx, sampleProject(), store)
	if err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}
	if rec.ID == "" {
		t.Error("rec.ID is empty")
	}
	if rec.CutCount != 1 || rec.DialogueCount != 2 {
		t.Errorf("counts = %d cuts, %d dialogues, want 1, 2", rec.CutCount, rec.DialogueCount)
	}
	if rec.TotalDuration != 3 {
		t.Errorf("TotalDuration = %v, want 3", rec.TotalDuration)
	}

	p, loaded, err := svc.LoadProject(ctx, rec.ID)
	if err != nil {
		t.Fatalf("LoadProject() error = %v", err)
	}
	if p.Title != "계약 결혼" {
		t.Errorf("Title = %q", p.Title)
	}
	if loaded.Len() != 1 {
		t.Errorf("loaded audio = %v, want only d1", loaded.Keys())
	}
	_, d1 := p.FindDialogue("d1")
	if d1.AudioDuration == nil || *d1.AudioDuration != 1 {
		t.Errorf("d1 duration = %v, want 1", d1.AudioDuration)
	}
	if p.Character(timeline.NarratorID) == nil {
		t.Error("narrator missing after load")
	}
}

func TestService_SaveProjectKeepsCreatedAt(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()
	svc := NewService(repo, nil)
	ctx := context.Background()

	rec, err := svc.CreateProject(ctx, sampleProject(), nil)
	if err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}

	p := sampleProject()
	p.Title = "새 제목"
	saved, err := svc.SaveProject(ctx, rec.ID, p, nil)
	if err != nil {
		t.Fatalf("SaveProject() error = %v", err)
	}
	if !saved.CreatedAt.Equal(rec.CreatedAt) {
		t.Errorf("CreatedAt changed: %v -> %v", rec.CreatedAt, saved.CreatedAt)
	}

	list, err := svc.ListProjects(ctx)
	if err != nil {
		t.Fatalf("ListProjects() error = %v", err)
	}
	if len(list) != 1 || list[0].Title != "새 제목" {
		t.Errorf("ListProjects() = %+v", list)
	}
	if list[0].Document != nil {
		t.Error("list entries should not carry documents")
	}
}

func TestService_NotFound(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()
	svc := NewService(repo, nil)
	ctx := context.Background()

	if _, err := svc.GetProject(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetProject() error = %v, want ErrNotFound", err)
	}
	if _, err := svc.SaveProject(ctx, "missing", sampleProject(), nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("SaveProject() error = %v, want ErrNotFound", err)
	}
	if err := svc.DeleteProject(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteProject() error = %v, want ErrNotFound", err)
	}
	if _, err := svc.EnqueueJob(ctx, JobTypeSpeech, "missing", "", nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("EnqueueJob() error = %v, want ErrNotFound", err)
	}
}

func TestService_ImportExportDocument(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()
	svc := NewService(repo, nil)
	ctx := context.Background()

	legacy := []byte(`{
		"version": 1.3,
		"title": "옛 프로젝트",
		"characters": [{"id": "c1", "name": "하준"}],
		"backgrounds": [{"name": "사무실", "prompt": "an office"}],
		"cutscenes": [{"duration": 2, "imagePrompt": "@하준 at desk", "dialogues": [{"id": "d1", "charId": "c1", "text": "시작"}]}]
	}`)

	rec, err := svc.ImportDocument(ctx, legacy)
	if err != nil {
		t.Fatalf("ImportDocument() error = %v", err)
	}
	if rec.Version != document.CurrentVersion {
		t.Errorf("Version = %v, want %v", rec.Version, document.CurrentVersion)
	}

	data, err := svc.ExportDocument(ctx, rec.ID)
	if err != nil {
		t.Fatalf("ExportDocument() error = %v", err)
	}
	res, err := document.Unmarshal(data)
	if err != nil {
		t.Fatalf("exported document does not load: %v", err)
	}
	if len(res.Project.Cuts[0].Shots) != 1 {
		t.Errorf("shots = %d, want 1", len(res.Project.Cuts[0].Shots))
	}
	if res.Project.Backgrounds[0].GroupName != "사무실" {
		t.Errorf("GroupName = %q", res.Project.Backgrounds[0].GroupName)
	}

	if _, err := svc.ImportDocument(ctx, []byte("not json")); !errors.Is(err, document.ErrMalformed) {
		t.Errorf("ImportDocument(garbage) error = %v, want ErrMalformed", err)
	}
}

func TestService_RecalculateTiming(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()
	svc := NewService(repo, nil)
	ctx := context.Background()

	p := sampleProject()
	p.Cuts[0].Dialogues[1].AudioDuration = timeline.Seconds(2)
	store := audio.NewStore()
	store.Put("d1", oneSecond())
	rec, err := svc.CreateProject(ctx, p, store)
	if err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}

	res, err := svc.RecalculateTiming(ctx, rec.ID)
	if err != nil {
		t.Fatalf("RecalculateTiming() error = %v", err)
	}
	// d1: 0..1 +0.5, d2: 1.5..3.5 +0.25 => 3.75 rounds to 3.8
	if res.TotalDuration != 3.8 {
		t.Errorf("TotalDuration = %v, want 3.8", res.TotalDuration)
	}
	if len(res.StaleCuts) != 0 {
		t.Errorf("StaleCuts = %v, want none", res.StaleCuts)
	}

	loaded, _, err := svc.LoadProject(ctx, rec.ID)
	if err != nil {
		t.Fatalf("LoadProject() error = %v", err)
	}
	if got := loaded.Cuts[0].Dialogues[1].StartTime; got != 1.5 {
		t.Errorf("d2 start = %v, want 1.5", got)
	}
}

func TestService_RecalculateTimingReportsStaleCuts(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()
	svc := NewService(repo, nil)
	ctx := context.Background()

	rec, err := svc.CreateProject(ctx, sampleProject(), nil)
	if err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}
	res, err := svc.RecalculateTiming(ctx, rec.ID)
	if err != nil {
		t.Fatalf("RecalculateTiming() error = %v", err)
	}
	if len(res.StaleCuts) != 1 || res.StaleCuts[0] != 0 {
		t.Errorf("StaleCuts = %v, want [0]", res.StaleCuts)
	}
	if res.TotalDuration != 3 {
		t.Errorf("TotalDuration = %v, want unchanged 3", res.TotalDuration)
	}
}

func TestService_EnqueueJob(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()
	svc := NewService(repo, nil)
	ctx := context.Background()

	if _, err := svc.EnqueueJob(ctx, "render", "", "", nil); err == nil {
		t.Error("EnqueueJob() should reject unknown types")
	}
	if _, err := svc.EnqueueJob(ctx, JobTypeStory, "", "", nil); err == nil {
		t.Error("EnqueueJob() should require a story payload")
	}

	story, err := svc.EnqueueJob(ctx, JobTypeStory, "", "", map[string]string{"keywords": "첫사랑"})
	if err != nil {
		t.Fatalf("EnqueueJob(story) error = %v", err)
	}
	if story.Payload != `{"keywords":"첫사랑"}` {
		t.Errorf("Payload = %s", story.Payload)
	}

	rec, _ := svc.CreateProject(ctx, sampleProject(), nil)
	speech, err := svc.EnqueueJob(ctx, JobTypeSpeech, rec.ID, "d1", nil)
	if err != nil {
		t.Fatalf("EnqueueJob(speech) error = %v", err)
	}

	pending, err := repo.ListPendingJobs(ctx)
	if err != nil {
		t.Fatalf("ListPendingJobs() error = %v", err)
	}
	if len(pending) != 2 || pending[0].ID != story.ID || pending[1].ID != speech.ID {
		t.Errorf("pending jobs out of order: %+v", pending)
	}
	if pending[1].TargetID != "d1" || pending[1].ProjectID != rec.ID {
		t.Errorf("speech job = %+v", pending[1])
	}
}

func TestService_DeleteProjectRemovesAudio(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()
	svc := NewService(repo, nil)
	ctx := context.Background()

	store := audio.NewStore()
	store.Put("d1", oneSecond())
	rec, _ := svc.CreateProject(ctx, sampleProject(), store)

	if err := svc.DeleteProject(ctx, rec.ID); err != nil {
		t.Fatalf("DeleteProject() error = %v", err)
	}
	rows, err := repo.ListAudio(ctx, rec.ID)
	if err != nil {
		t.Fatalf("ListAudio() error = %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("audio rows = %d, want 0", len(rows))
	}
}
