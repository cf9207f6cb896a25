// Package generation talks to the hosted models that write stories, draw
// images and synthesize speech.
package generation

import (
	"context"
	"fmt"

	"github.com/marriagesignal/studio/internal/timeline"
)

type StoryRequest struct {
	Keywords        string `json:"keywords"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
	ReferenceScript string `json:"reference_script,omitempty"`
}

// ImageRequest asks for one still. Reference images are data URLs.
type ImageRequest struct {
	Prompt         string   `json:"prompt"`
	CharacterRefs  []string `json:"-"`
	BackgroundRefs []string `json:"-"`
	// Previous is the image of the preceding shot, passed for continuity.
	Previous    string `json:"-"`
	AspectRatio string `json:"aspect_ratio,omitempty"`
}

// Client is the generation API surface the studio consumes. Speech is
// returned as raw 16-bit mono PCM at audio.SampleRate.
type Client interface {
	GenerateStory(ctx context.Context, req StoryRequest) (*timeline.Project, error)
	GenerateImage(ctx context.Context, req ImageRequest) (string, error)
	GenerateSpeech(ctx context.Context, prompt, voice string) ([]byte, error)
	Translate(ctx context.Context, text, targetLang string) (string, error)
	ImproveScript(ctx context.Context, keywords, script string) (string, error)
}

// GenerationError is returned for every failed call. Payload holds the
// request that failed so it can be logged or retried.
type GenerationError struct {
	Op         string
	StatusCode int
	Body       string
	Payload    []byte
	Err        error
}

func (e *GenerationError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("%s failed: HTTP %d: %s", e.Op, e.StatusCode, e.Body)
	case e.Err != nil:
		return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s failed: %s", e.Op, e.Body)
	}
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// IsRetryable reports server-side and rate-limit failures. Other client
// errors are permanent.
func (e *GenerationError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}
