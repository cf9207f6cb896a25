package catalog

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("not found")

// Project is a library entry. Document holds the project file without
// embedded audio; audio lives in DialogueAudio rows.
type Project struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Version       float64   `json:"version"`
	TotalDuration float64   `json:"total_duration"`
	CutCount      int       `json:"cut_count"`
	DialogueCount int       `json:"dialogue_count"`
	Document      []byte    `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type DialogueAudio struct {
	DialogueID string
	WAV        []byte
	Duration   float64
}

const (
	JobTypeStory           = "story"
	JobTypeReferenceImages = "reference_images"
	JobTypeShotImages      = "shot_images"
	JobTypeSpeech          = "speech"
	JobTypeTiming          = "timing"

	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

var JobTypes = map[string]bool{
	JobTypeStory:           true,
	JobTypeReferenceImages: true,
	JobTypeShotImages:      true,
	JobTypeSpeech:          true,
	JobTypeTiming:          true,
}

// Job is a queued generation step. ProjectID is empty for a story job
// until its project is created. TargetID narrows a speech job to one
// dialogue.
type Job struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	ProjectID string    `json:"project_id,omitempty"`
	TargetID  string    `json:"target_id,omitempty"`
	Payload   string    `json:"payload,omitempty"`
	Progress  int       `json:"progress"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ConfigEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func NewID() string {
	return uuid.NewString()
}
