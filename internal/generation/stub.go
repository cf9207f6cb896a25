package generation

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/marriagesignal/studio/internal/audio"
	"github.com/marriagesignal/studio/internal/timeline"
)

// Speech length the stub produces per character of prompt text.
const stubSecondsPerRune = 0.08

// StubClient produces deterministic placeholder output without network
// access. It backs offline mode and tests.
type StubClient struct {
	logger *slog.Logger
}

func NewStubClient(logger *slog.Logger) *StubClient {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &StubClient{logger: logger}
}

func (c *StubClient) GenerateStory(ctx context.Context, req StoryRequest) (*timeline.Project, error) {
	if err := ctx.Err(); err != nil {
		return nil, &GenerationError{Op: "story generation", Err: err}
	}
	c.logger.Info("generation stub: story requested", "keywords", req.Keywords)

	title := strings.TrimSpace(req.Keywords)
	if title == "" {
		title = "무제"
	}
	return &timeline.Project{
		Title: title,
		Characters: []*timeline.Character{
			{ID: "character_1", Name: "민수", Gender: "남성", Personality: timeline.Tags{"다정한"}, Prompt: "a man in his late twenties with short black hair"},
			{ID: "character_2", Name: "지영", Gender: "여성", Personality: timeline.Tags{"당찬"}, Prompt: "a woman in her late twenties with long brown hair"},
			{ID: timeline.NarratorID, Name: timeline.NarratorName},
		},
		Backgrounds: []*timeline.BackgroundGroup{{
			GroupName: "카페",
			SubImages: []*timeline.SubImage{{SubName: "창가", Prompt: "a quiet cafe window seat at dusk"}},
		}},
		Cuts: []*timeline.Cut{
			{
				AutoAdjustDuration: true,
				Shots:              []*timeline.Shot{{ShotID: 1, ImagePrompt: "@카페(창가) @민수 waits alone"}},
				Dialogues: []*timeline.Dialogue{
					{CharID: timeline.NarratorID, Text: title + "에 관한 이야기.", PostDelay: 0.6},
					{CharID: "character_1", Text: "(속으로) 오늘은 꼭 말해야 해.", PostDelay: 0.4},
				},
			},
			{
				AutoAdjustDuration: true,
				Shots: []*timeline.Shot{
					{ShotID: 1, ImagePrompt: "@카페(창가) @지영 walks in"},
					{ShotID: 2, ImagePrompt: "@민수 stands up, surprised"},
				},
				Dialogues: []*timeline.Dialogue{
					{CharID: "character_2", Text: "오래 기다렸어?", PostDelay: 0.5},
					{CharID: "character_1", Text: "아니, 방금 왔어.", PostDelay: 0.3},
				},
			},
		},
	}, nil
}

func (c *StubClient) GenerateImage(ctx context.Context, req ImageRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &GenerationError{Op: "image generation", Err: err}
	}
	sum := sha256.Sum256([]byte(ImagePrompt(req)))
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(sum[:]), nil
}

// GenerateSpeech returns silence whose length follows the prompt length.
func (c *StubClient) GenerateSpeech(ctx context.Context, prompt, voice string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, &GenerationError{Op: "speech generation", Err: err}
	}
	samples := int(float64(utf8.RuneCountInString(prompt)) * stubSecondsPerRune * audio.SampleRate)
	return make([]byte, samples*2), nil
}

func (c *StubClient) Translate(ctx context.Context, text, targetLang string) (string, error) {
	return text, nil
}

func (c *StubClient) ImproveScript(ctx context.Context, keywords, script string) (string, error) {
	sum := sha256.Sum256([]byte(keywords + script))
	return fmt.Sprintf("%s\n\n(revision %s)", strings.TrimSpace(script), hex.EncodeToString(sum[:4])), nil
}
