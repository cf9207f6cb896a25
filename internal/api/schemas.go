package api

import (
	"time"

	"github.com/marriagesignal/studio/internal/catalog"
	"github.com/marriagesignal/studio/internal/playback"
	"github.com/marriagesignal/studio/internal/timeline"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

type StatusResponse struct {
	State        string       `json:"state"`
	LastError    string       `json:"last_error,omitempty"`
	ProjectCount int          `json:"project_count"`
	JobsRunning  int          `json:"jobs_running"`
	JobsPending  int          `json:"jobs_pending"`
	ActiveJob    *JobResponse `json:"active_job,omitempty"`
	Transcoder   bool         `json:"mp3_export"`
}

type CreateProjectRequest struct {
	Title string `json:"title"`
}

type ProjectResponse struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	Version       float64 `json:"version"`
	TotalDuration float64 `json:"total_duration"`
	CutCount      int     `json:"cut_count"`
	DialogueCount int     `json:"dialogue_count"`
	CreatedAt     string  `json:"created_at"`
	UpdatedAt     string  `json:"updated_at"`
}

type ProjectsResponse struct {
	Projects []ProjectResponse `json:"projects"`
}

// ProjectDetailResponse carries the live timeline of a project.
type ProjectDetailResponse struct {
	ProjectResponse
	Timeline  *timeline.Project `json:"timeline"`
	StaleCuts []int             `json:"stale_cuts"`
	Audio     []string          `json:"audio"`

	ReferenceProblems []ReferenceProblem `json:"reference_problems"`
}

// ReferenceProblem is a dangling character or background reference. It
// never blocks an edit.
type ReferenceProblem struct {
	Entity  string `json:"entity"`
	ID      string `json:"id"`
	Ref     string `json:"ref"`
	Message string `json:"message"`
}

type ImproveScriptRequest struct {
	Keywords string `json:"keywords"`
	Script   string `json:"script"`
}

type ImproveScriptResponse struct {
	Script string `json:"script"`
}

type TranslateRequest struct {
	Text       string `json:"text"`
	TargetLang string `json:"target_lang,omitempty"`
}

type TranslateResponse struct {
	Text       string `json:"text"`
	TargetLang string `json:"target_lang"`
}

type TimingResponse struct {
	TotalDuration float64 `json:"total_duration"`
	StaleCuts     []int   `json:"stale_cuts"`
}

type UpdateCutRequest struct {
	Duration           *float64 `json:"duration,omitempty"`
	AutoAdjustDuration *bool    `json:"auto_adjust_duration,omitempty"`
}

type MoveCutRequest struct {
	To int `json:"to"`
}

type AddDialogueRequest struct {
	CharID    string   `json:"char_id"`
	Text      string   `json:"text"`
	PostDelay *float64 `json:"post_delay,omitempty"`
}

type UpdateDialogueRequest struct {
	Text      *string  `json:"text,omitempty"`
	CharID    *string  `json:"char_id,omitempty"`
	TTSPrompt *string  `json:"tts_prompt,omitempty"`
	PostDelay *float64 `json:"post_delay,omitempty"`
}

type GenerateRequest struct {
	Type     string `json:"type"`
	TargetID string `json:"target_id,omitempty"`
}

type StoryRequest struct {
	Keywords        string `json:"keywords"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
	ReferenceScript string `json:"reference_script,omitempty"`
}

type JobAcceptedResponse struct {
	JobID string `json:"job_id"`
}

type SeekRequest struct {
	Position float64 `json:"position"`
}

type JobResponse struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Status    string `json:"status"`
	ProjectID string `json:"project_id,omitempty"`
	TargetID  string `json:"target_id,omitempty"`
	Progress  int    `json:"progress"`
	Error     string `json:"error,omitempty"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type JobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

type PlaybackResponse = playback.Status

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func ProjectToResponse(p *catalog.Project) ProjectResponse {
	return ProjectResponse{
		ID:            p.ID,
		Title:         p.Title,
		Version:       p.Version,
		TotalDuration: p.TotalDuration,
		CutCount:      p.CutCount,
		DialogueCount: p.DialogueCount,
		CreatedAt:     p.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     p.UpdatedAt.Format(time.RFC3339),
	}
}

func JobToResponse(j *catalog.Job) JobResponse {
	return JobResponse{
		ID:        j.ID,
		Type:      j.Type,
		Status:    j.Status,
		ProjectID: j.ProjectID,
		TargetID:  j.TargetID,
		Progress:  j.Progress,
		Error:     j.Error,
		CreatedAt: j.CreatedAt.Format(time.RFC3339),
		UpdatedAt: j.UpdatedAt.Format(time.RFC3339),
	}
}
