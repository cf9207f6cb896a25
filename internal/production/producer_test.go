package production

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marriagesignal/studio/internal/events"
	"github.com/marriagesignal/studio/internal/generation"
	"github.com/marriagesignal/studio/internal/timeline"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type speechCall struct {
	prompt string
	voice  string
}

type fakeClient struct {
	generation.StubClient

	mu          sync.Mutex
	story       *timeline.Project
	storyErr    error
	failImage   string
	failSpeech  string
	speechCalls []speechCall
	imageCalls  []generation.ImageRequest
	onSpeech    func()
}

func (f *fakeClient) GenerateStory(ctx context.Context, req generation.StoryRequest) (*timeline.Project, error) {
	if f.storyErr != nil {
		return nil, f.storyErr
	}
	if f.story != nil {
		return f.story, nil
	}
	return generation.NewStubClient(nil).GenerateStory(ctx, req)
}

func (f *fakeClient) GenerateImage(ctx context.Context, req generation.ImageRequest) (string, error) {
	f.mu.Lock()
	f.imageCalls = append(f.imageCalls, req)
	f.mu.Unlock()
	if f.failImage != "" && strings.Contains(req.Prompt, f.failImage) {
		return "", &generation.GenerationError{Op: "image generation", StatusCode: 500}
	}
	return "data:image/png;base64," + req.Prompt, nil
}

// GenerateSpeech returns one second of silence.
func (f *fakeClient) GenerateSpeech(ctx context.Context, prompt, voice string) ([]byte, error) {
	f.mu.Lock()
	f.speechCalls = append(f.speechCalls, speechCall{prompt, voice})
	hook := f.onSpeech
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	if f.failSpeech != "" && strings.Contains(prompt, f.failSpeech) {
		return nil, &generation.GenerationError{Op: "speech generation", StatusCode: 503}
	}
	return make([]byte, 48000), nil
}

func newTestProducer(c generation.Client) *Producer {
	return NewProducer(c, Options{Logger: testLogger(), Rand: rand.New(rand.NewSource(1))})
}

func speechProject() *timeline.Project {
	return &timeline.Project{
		Characters: []*timeline.Character{
			{ID: "c1", Name: "민수", Voice: "Puck", Speed: 1},
			{ID: timeline.NarratorID, Name: timeline.NarratorName, Voice: "Charon", Speed: 1},
		},
		Cuts: []*timeline.Cut{{
			ID:                 "cut-1",
			AutoAdjustDuration: true,
			Shots:              []*timeline.Shot{{ShotID: 1}},
			Dialogues: []*timeline.Dialogue{
				{ID: "d1", CharID: "c1", Text: "(속으로) 떨린다", PostDelay: 0.5},
				{ID: "d2", CharID: "ghost", Text: "누구세요?", PostDelay: 0.5},
				{ID: "d3", CharID: timeline.NarratorID, Text: "그날 밤.", PostDelay: 0.5},
			},
		}},
	}
}

func TestTTSPrompt(t *testing.T) {
	p := &timeline.Project{Characters: []*timeline.Character{
		{ID: "toned", TTSTone: "Say this coldly", Speed: 1, Voice: "Charon"},
		{ID: "fast", Speed: 1.25, Pitch: 1.0},
		{ID: "deep", Speed: 1, Pitch: -2},
		{ID: "plain", Speed: 1.005, Pitch: 0.5},
		{ID: timeline.NarratorID, Speed: 1, Voice: "Charon"},
	}}

	tests := []struct {
		name       string
		d          timeline.Dialogue
		wantPrompt string
		wantVoice  string
	}{
		{"character tone", timeline.Dialogue{CharID: "toned", Text: "가", TTSPrompt: "ignored"}, `Say this coldly: "가"`, "Charon"},
		{"dialogue prompt", timeline.Dialogue{CharID: "fast", Text: "나", TTSPrompt: "angrily"}, `angrily, at a speed of 1.25x, with a high pitch: "나"`, "Kore"},
		{"default tone", timeline.Dialogue{CharID: "deep", Text: "다"}, `Say this clearly, with a very low pitch: "다"`, "Kore"},
		{"small deviations ignored", timeline.Dialogue{CharID: "plain", Text: "라"}, `Say this clearly: "라"`, "Kore"},
		{"whisper", timeline.Dialogue{CharID: "toned", Text: "(속으로) 비밀"}, `Whisper this secretly: "비밀"`, "Charon"},
		{"narrator", timeline.Dialogue{CharID: timeline.NarratorID, Text: "(속으로) 옛날에"}, `Say this in a clear, informative tone: "옛날에"`, "Charon"},
		{"missing character", timeline.Dialogue{CharID: "ghost", Text: "마", TTSPrompt: "softly"}, `softly: "마"`, "Kore"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prompt, voice := TTSPrompt(p, &tt.d)
			assert.Equal(t, tt.wantPrompt, prompt)
			assert.Equal(t, tt.wantVoice, voice)
		})
	}
}

func TestGenerateAllSpeech(t *testing.T) {
	client := &fakeClient{}
	ws := NewMemoryWorkspace("p1", speechProject())

	done, failed, err := newTestProducer(client).GenerateAllSpeech(context.Background(), ws)
	require.NoError(t, err)
	assert.Equal(t, 3, done)
	assert.Equal(t, 0, failed)

	p := ws.Project()
	d1 := p.Cuts[0].Dialogues[0]
	assert.Equal(t, "떨린다", d1.Text)
	require.NotNil(t, d1.AudioDuration)
	assert.InDelta(t, 1.0, *d1.AudioDuration, 1e-9)

	require.Len(t, client.speechCalls, 3)
	assert.Equal(t, speechCall{`Whisper this secretly: "떨린다"`, "Puck"}, client.speechCalls[0])
	assert.Equal(t, speechCall{`Say this clearly: "누구세요?"`, "Kore"}, client.speechCalls[1])
	assert.Equal(t, "Charon", client.speechCalls[2].voice)
	assert.Equal(t, 3, ws.Audio().Len())
}

func TestGenerateAllSpeechContinuesPastFailures(t *testing.T) {
	client := &fakeClient{failSpeech: "누구세요"}
	ws := NewMemoryWorkspace("p1", speechProject())
	ws.PutAudio("d2", []byte("old"))

	done, failed, err := newTestProducer(client).GenerateAllSpeech(context.Background(), ws)
	require.NoError(t, err)
	assert.Equal(t, 2, done)
	assert.Equal(t, 1, failed)

	p := ws.Project()
	assert.Nil(t, p.Cuts[0].Dialogues[1].AudioDuration)
	assert.NotNil(t, p.Cuts[0].Dialogues[2].AudioDuration)
	_, ok := ws.Audio().Get("d2")
	assert.False(t, ok)
}

func TestGenerateSpeechEmptyText(t *testing.T) {
	client := &fakeClient{}
	p := speechProject()
	p.Cuts[0].Dialogues[0].Text = "  (속으로)  "
	ws := NewMemoryWorkspace("p1", p)
	ws.PutAudio("d1", []byte("old"))

	require.NoError(t, newTestProducer(client).GenerateSpeech(context.Background(), ws, "d1"))
	assert.Empty(t, client.speechCalls)
	d := ws.Project().Cuts[0].Dialogues[0]
	assert.Equal(t, "", d.Text)
	require.NotNil(t, d.AudioDuration)
	assert.Equal(t, 0.0, *d.AudioDuration)
	_, ok := ws.Audio().Get("d1")
	assert.False(t, ok)
}

func TestGenerateSpeechDiscardsResultForDeletedDialogue(t *testing.T) {
	ws := NewMemoryWorkspace("p1", speechProject())
	client := &fakeClient{}
	client.onSpeech = func() {
		ws.Update(func(p *timeline.Project) error {
			p.DeleteDialogue("d1")
			return nil
		})
	}

	err := newTestProducer(client).GenerateSpeech(context.Background(), ws, "d1")
	assert.ErrorIs(t, err, ErrDialogueNotFound)
	_, ok := ws.Audio().Get("d1")
	assert.False(t, ok)
	assert.Len(t, ws.Project().Cuts[0].Dialogues, 2)
}

func TestGenerateSpeechUnknownDialogue(t *testing.T) {
	ws := NewMemoryWorkspace("p1", speechProject())
	err := newTestProducer(&fakeClient{}).GenerateSpeech(context.Background(), ws, "nope")
	assert.ErrorIs(t, err, ErrDialogueNotFound)
}

func imageProject() *timeline.Project {
	p := &timeline.Project{
		Characters: []*timeline.Character{
			{ID: "c1", Name: "민수", Nationality: "한국", Prompt: "a man in a coat"},
			{ID: "c2", Name: "지영", Nationality: "한국"},
			{ID: timeline.NarratorID, Name: timeline.NarratorName},
		},
		Backgrounds: []*timeline.BackgroundGroup{{
			ID: "g1", GroupName: "카페",
			SubImages: []*timeline.SubImage{{SubID: "s1", SubName: "창가", Prompt: "cafe window"}},
		}},
		Cuts: []*timeline.Cut{
			{ID: "cut-1", Shots: []*timeline.Shot{
				{ShotID: 1, ImagePrompt: "@카페(창가) @민수 waits"},
				{ShotID: 2, ImagePrompt: "close up of @민수"},
			}},
			{ID: "cut-2", Shots: []*timeline.Shot{{ShotID: 1, ImagePrompt: "empty street"}}},
		},
	}
	timeline.Normalize(p, nil)
	return p
}

func TestGenerateReferenceImages(t *testing.T) {
	client := &fakeClient{failImage: "cafe"}
	ws := NewMemoryWorkspace("p1", imageProject())

	done, failed := newTestProducer(client).GenerateReferenceImages(context.Background(), ws)
	assert.Equal(t, 1, done)
	assert.Equal(t, 2, failed)

	p := ws.Project()
	assert.Equal(t, "data:image/png;base64,Korean a man in a coat", p.Character("c1").Image)
	assert.Equal(t, PlaceholderNoPrompt, p.Character("c2").Image)
	assert.Empty(t, p.Character(timeline.NarratorID).Image)
	assert.Equal(t, PlaceholderError, p.Backgrounds[0].SubImages[0].Image)
	// The failing background is a server error and is tried three times.
	assert.Len(t, client.imageCalls, 4)
}

func TestGenerateShotImages(t *testing.T) {
	p := imageProject()
	p.Character("c1").Image = "data:image/png;base64,MINSU"
	p.Backgrounds[0].SubImages[0].Image = "data:image/png;base64,CAFE"
	client := &fakeClient{}
	ws := NewMemoryWorkspace("p1", p)

	done, failed, err := newTestProducer(client).GenerateShotImages(context.Background(), ws)
	require.NoError(t, err)
	assert.Equal(t, 3, done)
	assert.Equal(t, 0, failed)

	require.Len(t, client.imageCalls, 3)
	first := client.imageCalls[0]
	assert.Equal(t, "Korean 민수 waits", first.Prompt)
	assert.Equal(t, []string{"data:image/png;base64,MINSU"}, first.CharacterRefs)
	assert.Equal(t, []string{"data:image/png;base64,CAFE"}, first.BackgroundRefs)
	assert.Empty(t, first.Previous)

	assert.Equal(t, "data:image/png;base64,Korean 민수 waits", client.imageCalls[1].Previous)
	assert.Empty(t, client.imageCalls[2].Previous, "continuity does not cross cuts")
	assert.Equal(t, "data:image/png;base64,empty street", ws.Project().Cuts[1].Shots[0].Image)
}

func TestGenerateShotImagesCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ws := NewMemoryWorkspace("p1", imageProject())
	prod := NewProducer(&fakeClient{}, Options{ShotDelay: DefaultShotDelay, Logger: testLogger()})

	_, _, err := prod.GenerateShotImages(ctx, ws)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGenerateFullStory(t *testing.T) {
	bus := events.NewBus()
	sub, cancel := bus.Subscribe()
	defer cancel()

	prod := NewProducer(&fakeClient{}, Options{
		Logger:      testLogger(),
		Bus:         bus,
		Rand:        rand.New(rand.NewSource(7)),
		Personality: DefaultPersonalitySystem(),
	})
	p, store, report, err := prod.GenerateFullStory(context.Background(), generation.StoryRequest{Keywords: "재회"})
	require.NoError(t, err)

	assert.Equal(t, 4, report.Speech)
	assert.Equal(t, 4, store.Len())
	for _, c := range p.Cuts {
		assert.False(t, c.Stale)
		last := c.Dialogues[len(c.Dialogues)-1]
		assert.InDelta(t, timeline.Round1(last.StartTime+1.0+last.PostDelay), c.Duration, 1e-9)
		for _, d := range c.Dialogues {
			assert.GreaterOrEqual(t, d.PostDelay, 0.1)
		}
	}
	assert.Equal(t, "Puck", p.Character("character_1").Voice)
	assert.NotEmpty(t, p.Character("character_1").TTSTone)

	var stages []string
	for len(sub) > 0 {
		e := <-sub
		if e.Done == e.Count {
			stages = append(stages, e.Stage)
		}
	}
	assert.Contains(t, stages, StageStory)
	assert.Contains(t, stages, StageTiming)
}

func TestGenerateFullStoryFailure(t *testing.T) {
	prod := newTestProducer(&fakeClient{storyErr: errors.New("quota")})
	p, store, _, err := prod.GenerateFullStory(context.Background(), generation.StoryRequest{Keywords: "x"})
	assert.Error(t, err)
	assert.Nil(t, p)
	assert.Nil(t, store)
}

func TestGenerateFullStoryFillsOnlyMissingPauses(t *testing.T) {
	story := &timeline.Project{
		Title:      "재회",
		Characters: []*timeline.Character{{ID: "c1", Name: "민수"}},
		Cuts: []*timeline.Cut{{
			AutoAdjustDuration: true,
			Shots:              []*timeline.Shot{{ShotID: 1}},
			Dialogues: []*timeline.Dialogue{
				{ID: "d1", CharID: "c1", Text: "왔어?"},
				{ID: "d2", CharID: "c1", Text: "응.", PostDelayMissing: true},
				{ID: "d3", CharID: "c1", Text: "…", PostDelay: -1},
			},
		}},
	}
	p, _, _, err := newTestProducer(&fakeClient{story: story}).GenerateFullStory(context.Background(), generation.StoryRequest{Keywords: "재회"})
	require.NoError(t, err)

	_, d1 := p.FindDialogue("d1")
	_, d2 := p.FindDialogue("d2")
	_, d3 := p.FindDialogue("d3")
	assert.Equal(t, 0.0, d1.PostDelay)
	assert.GreaterOrEqual(t, d2.PostDelay, 0.1)
	assert.Less(t, d2.PostDelay, 1.0)
	assert.Equal(t, 0.0, d3.PostDelay)
}

// flakySpeech fails with the given status a fixed number of times.
type flakySpeech struct {
	generation.StubClient
	status   int
	failures int
	calls    int
}

func (f *flakySpeech) GenerateSpeech(ctx context.Context, prompt, voice string) ([]byte, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, &generation.GenerationError{Op: "speech generation", StatusCode: f.status}
	}
	return make([]byte, 48000), nil
}

func TestGenerateSpeechRetries(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		failures  int
		wantCalls int
		wantErr   bool
	}{
		{"rate limited once", 429, 1, 2, false},
		{"server error twice", 503, 2, 3, false},
		{"server error exhausts attempts", 500, 5, 3, true},
		{"client error is permanent", 400, 1, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &flakySpeech{status: tt.status, failures: tt.failures}
			ws := NewMemoryWorkspace("p1", speechProject())

			err := newTestProducer(client).GenerateSpeech(context.Background(), ws, "d3")
			assert.Equal(t, tt.wantCalls, client.calls)
			if tt.wantErr {
				assert.Error(t, err)
				_, ok := ws.Audio().Get("d3")
				assert.False(t, ok)
				return
			}
			require.NoError(t, err)
			_, d := ws.Project().FindDialogue("d3")
			require.NotNil(t, d.AudioDuration)
			assert.InDelta(t, 1.0, *d.AudioDuration, 1e-9)
		})
	}
}

func TestRetryStopsWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := &flakySpeech{status: 503, failures: 5}
	prod := NewProducer(client, Options{Logger: testLogger(), RetryDelay: DefaultRetryDelay})
	cancel()

	err := prod.GenerateSpeech(ctx, NewMemoryWorkspace("p1", speechProject()), "d3")
	assert.Error(t, err)
	assert.Equal(t, 1, client.calls)
}
