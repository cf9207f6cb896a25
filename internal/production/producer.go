// Package production runs the batch generation flow: story, reference
// images, shot images, speech and timing.
package production

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/marriagesignal/studio/internal/audio"
	"github.com/marriagesignal/studio/internal/events"
	"github.com/marriagesignal/studio/internal/generation"
	"github.com/marriagesignal/studio/internal/timeline"
)

const (
	DefaultShotDelay   = 500 * time.Millisecond
	DefaultSpeechDelay = 300 * time.Millisecond
	DefaultRetryDelay  = 2 * time.Second

	// maxAttempts bounds calls per item when the API reports a transient
	// failure.
	maxAttempts = 3

	PlaceholderError    = "placeholder:error"
	PlaceholderNoPrompt = "placeholder:no-prompt"
)

const (
	StageStory      = "story"
	StageReferences = "reference_images"
	StageShots      = "shot_images"
	StageSpeech     = "speech"
	StageTiming     = "timing"
)

var ErrDialogueNotFound = errors.New("dialogue not found")

// Workspace is the project a Producer writes into. Update must serialize
// mutations; audio is stored next to the model keyed by dialogue id.
type Workspace interface {
	ID() string
	View(fn func(p *timeline.Project))
	Update(fn func(p *timeline.Project) error) error
	PutAudio(dialogueID string, wav []byte)
	DeleteAudio(dialogueID string)
}

type Options struct {
	ShotDelay   time.Duration
	SpeechDelay time.Duration
	RetryDelay  time.Duration
	Personality *PersonalitySystem
	Bus         *events.Bus
	Rand        *rand.Rand
	Logger      *slog.Logger
}

// Report counts the outcome of a batch. Failures are per item; a batch
// never stops on one.
type Report struct {
	ReferenceImages   int `json:"reference_images"`
	ReferenceFailures int `json:"reference_failures"`
	ShotImages        int `json:"shot_images"`
	ShotFailures      int `json:"shot_failures"`
	Speech            int `json:"speech"`
	SpeechFailures    int `json:"speech_failures"`
}

type Producer struct {
	client      generation.Client
	shotDelay   time.Duration
	speechDelay time.Duration
	retryDelay  time.Duration
	personality *PersonalitySystem
	bus         *events.Bus
	logger      *slog.Logger

	randMu sync.Mutex
	rng    *rand.Rand
}

func NewProducer(client generation.Client, opts Options) *Producer {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Producer{
		client:      client,
		shotDelay:   opts.ShotDelay,
		speechDelay: opts.SpeechDelay,
		retryDelay:  opts.RetryDelay,
		personality: opts.Personality,
		bus:         opts.Bus,
		logger:      opts.Logger,
		rng:         opts.Rand,
	}
}

// GenerateFullStory runs the whole flow into a fresh project. A story
// failure returns no project; later stages degrade per item.
func (p *Producer) GenerateFullStory(ctx context.Context, req generation.StoryRequest) (*timeline.Project, *audio.Store, Report, error) {
	var report Report
	p.progress("", StageStory, 0, 1)
	var project *timeline.Project
	err := p.withRetry(ctx, "story", func() (err error) {
		project, err = p.client.GenerateStory(ctx, req)
		return err
	})
	if err != nil {
		return nil, nil, report, fmt.Errorf("generating story: %w", err)
	}
	p.progress("", StageStory, 1, 1)

	p.randMu.Lock()
	timeline.Normalize(project, p.rng)
	for _, c := range project.Characters {
		if c.ID == timeline.NarratorID {
			continue
		}
		if p.personality != nil && !p.personality.Apply(c, p.rng) && len(c.Personality) > 0 {
			p.logger.Warn("no personality mapping matched", "character", c.Name, "keywords", c.Personality.String())
		}
	}
	p.randMu.Unlock()

	ws := NewMemoryWorkspace("", project)
	if report, err = p.Produce(ctx, ws); err != nil {
		return nil, nil, report, err
	}
	return ws.Project(), ws.Audio(), report, nil
}

// Produce runs every media stage over an existing workspace and finishes
// with auto-timing and duration aggregation.
func (p *Producer) Produce(ctx context.Context, ws Workspace) (Report, error) {
	var report Report
	report.ReferenceImages, report.ReferenceFailures = p.GenerateReferenceImages(ctx, ws)
	if err := ctx.Err(); err != nil {
		return report, err
	}

	var err error
	report.ShotImages, report.ShotFailures, err = p.GenerateShotImages(ctx, ws)
	if err != nil {
		return report, err
	}
	report.Speech, report.SpeechFailures, err = p.GenerateAllSpeech(ctx, ws)
	if err != nil {
		return report, err
	}
	return report, p.Retime(ws)
}

// Retime auto-times every cut and then aggregates cut durations.
func (p *Producer) Retime(ws Workspace) error {
	p.progress(ws.ID(), StageTiming, 0, 1)
	err := ws.Update(func(project *timeline.Project) error {
		timeline.AutoTimeAll(project)
		if stale := timeline.RecalculateAll(project); len(stale) > 0 {
			p.logger.Warn("cut durations left stale", "cuts", stale)
		}
		return nil
	})
	p.progress(ws.ID(), StageTiming, 1, 1)
	return err
}

type refTarget struct {
	characterID string
	groupID     string
	subID       string
	prompt      string
}

// GenerateReferenceImages draws every character and background sub image
// concurrently. Failed items get a placeholder image.
func (p *Producer) GenerateReferenceImages(ctx context.Context, ws Workspace) (done, failed int) {
	var targets []refTarget
	ws.View(func(project *timeline.Project) {
		for _, c := range project.Characters {
			if c.ID == timeline.NarratorID {
				continue
			}
			targets = append(targets, refTarget{characterID: c.ID, prompt: withNationality(c.Prompt, c.Nationality)})
		}
		for _, g := range project.Backgrounds {
			for _, s := range g.SubImages {
				targets = append(targets, refTarget{groupID: g.ID, subID: s.SubID, prompt: s.Prompt})
			}
		}
	})

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	p.progress(ws.ID(), StageReferences, 0, len(targets))
	for _, t := range targets {
		wg.Add(1)
		go func(t refTarget) {
			defer wg.Done()
			image, ok := p.image(ctx, generation.ImageRequest{Prompt: t.prompt})

			err := ws.Update(func(project *timeline.Project) error {
				if t.characterID != "" {
					if c := project.Character(t.characterID); c != nil {
						c.Image = image
					}
					return nil
				}
				if g := project.BackgroundByID(t.groupID); g != nil {
					if s := g.Sub(t.subID); s != nil {
						s.Image = image
					}
				}
				return nil
			})
			if err != nil {
				p.logger.Warn("storing reference image failed", "error", err)
			}

			mu.Lock()
			if ok {
				done++
			} else {
				failed++
			}
			p.progress(ws.ID(), StageReferences, done+failed, len(targets))
			mu.Unlock()
		}(t)
	}
	wg.Wait()
	return done, failed
}

type shotKey struct {
	cutID  string
	shotID int
}

// GenerateShotImages draws shots one at a time in timeline order, passing
// the previous shot of the same cut as a continuity reference.
func (p *Producer) GenerateShotImages(ctx context.Context, ws Workspace) (done, failed int, err error) {
	var keys []shotKey
	ws.View(func(project *timeline.Project) {
		for _, c := range project.Cuts {
			for _, s := range c.Shots {
				keys = append(keys, shotKey{cutID: c.ID, shotID: s.ShotID})
			}
		}
	})

	p.progress(ws.ID(), StageShots, 0, len(keys))
	previous := ""
	for i, key := range keys {
		if i > 0 {
			if err := sleep(ctx, p.shotDelay); err != nil {
				return done, failed, err
			}
			if keys[i-1].cutID != key.cutID {
				previous = ""
			}
		}

		var (
			req   generation.ImageRequest
			found bool
		)
		ws.View(func(project *timeline.Project) {
			shot := project.FindShot(key.cutID, key.shotID)
			if shot == nil {
				return
			}
			found = true
			req = shotRequest(project, shot)
			req.Previous = previous
		})
		if !found {
			continue
		}

		image, ok := p.image(ctx, req)
		if ok {
			done++
			previous = image
		} else {
			failed++
		}
		err := ws.Update(func(project *timeline.Project) error {
			if shot := project.FindShot(key.cutID, key.shotID); shot != nil {
				shot.Image = image
			}
			return nil
		})
		if err != nil {
			p.logger.Warn("storing shot image failed", "cut_id", key.cutID, "shot_id", key.shotID, "error", err)
		}
		p.progress(ws.ID(), StageShots, i+1, len(keys))
	}
	return done, failed, nil
}

func shotRequest(project *timeline.Project, shot *timeline.Shot) generation.ImageRequest {
	req := generation.ImageRequest{}
	chars := shot.CharacterIDs(project)
	refs := shot.Refs
	if len(refs) == 0 {
		refs = timeline.ParseRefs(shot.ImagePrompt, project)
	}
	nationality := ""
	for _, r := range refs {
		if r.Kind == timeline.RefCharacter {
			if c := project.Character(r.ID); c != nil {
				nationality = c.Nationality
				break
			}
		}
	}
	for _, c := range project.Characters {
		if chars[c.ID] && isImage(c.Image) {
			req.CharacterRefs = append(req.CharacterRefs, c.Image)
		}
	}
	for _, s := range shot.Backgrounds(project) {
		if isImage(s.Image) {
			req.BackgroundRefs = append(req.BackgroundRefs, s.Image)
		}
	}
	req.Prompt = withNationality(timeline.CleanPrompt(shot.ImagePrompt), nationality)
	return req
}

// image returns a placeholder instead of an error so the batch can go on.
func (p *Producer) image(ctx context.Context, req generation.ImageRequest) (string, bool) {
	if strings.TrimSpace(req.Prompt) == "" {
		return PlaceholderNoPrompt, false
	}
	var image string
	err := p.withRetry(ctx, "image", func() (err error) {
		image, err = p.client.GenerateImage(ctx, req)
		return err
	})
	if err != nil {
		p.logger.Warn("image generation failed", "prompt", req.Prompt, "error", err)
		return PlaceholderError, false
	}
	return image, true
}

// GenerateAllSpeech synthesizes every dialogue in timeline order. A failed
// line is left with an unknown duration and the batch continues.
func (p *Producer) GenerateAllSpeech(ctx context.Context, ws Workspace) (done, failed int, err error) {
	var ids []string
	ws.View(func(project *timeline.Project) {
		for _, c := range project.Cuts {
			for _, d := range c.Dialogues {
				ids = append(ids, d.ID)
			}
		}
	})

	p.progress(ws.ID(), StageSpeech, 0, len(ids))
	for i, id := range ids {
		if i > 0 {
			if err := sleep(ctx, p.speechDelay); err != nil {
				return done, failed, err
			}
		}
		switch err := p.GenerateSpeech(ctx, ws, id); {
		case err == nil:
			done++
		case errors.Is(err, ErrDialogueNotFound):
		case ctx.Err() != nil:
			return done, failed, ctx.Err()
		default:
			failed++
		}
		p.progress(ws.ID(), StageSpeech, i+1, len(ids))
	}
	return done, failed, nil
}

// GenerateSpeech synthesizes one dialogue. The whisper marker is removed
// from the stored text; empty text gets a zero duration without a call.
func (p *Producer) GenerateSpeech(ctx context.Context, ws Workspace, dialogueID string) error {
	var (
		prompt, voice, text string
		missing             bool
	)
	err := ws.Update(func(project *timeline.Project) error {
		_, d := project.FindDialogue(dialogueID)
		if d == nil {
			return ErrDialogueNotFound
		}
		prompt, voice = TTSPrompt(project, d)
		text, _ = timeline.StripWhisper(d.Text)
		d.Text = text
		if text == "" {
			d.AudioDuration = timeline.Seconds(0)
		}
		missing = project.Character(d.CharID) == nil
		if missing {
			p.logger.Warn("speech falls back to the default voice",
				"error", &timeline.ReferentialError{Entity: "dialogue", ID: d.ID, Ref: d.CharID})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("dialogue %s: %w", dialogueID, err)
	}
	if text == "" {
		ws.DeleteAudio(dialogueID)
		return nil
	}

	var pcm []byte
	err = p.withRetry(ctx, "speech", func() (err error) {
		pcm, err = p.client.GenerateSpeech(ctx, prompt, voice)
		return err
	})
	if err != nil {
		p.logger.Warn("speech generation failed", "dialogue_id", dialogueID, "error", err)
		ws.DeleteAudio(dialogueID)
		_ = ws.Update(func(project *timeline.Project) error {
			if _, d := project.FindDialogue(dialogueID); d != nil {
				d.AudioDuration = nil
			}
			return nil
		})
		return fmt.Errorf("speech for dialogue %s: %w", dialogueID, err)
	}

	// The dialogue may have been deleted while the request was in flight.
	wav := audio.EncodeWAV(pcm, audio.SampleRate)
	seconds := audio.PCMDuration(pcm, audio.SampleRate)
	ws.PutAudio(dialogueID, wav)
	err = ws.Update(func(project *timeline.Project) error {
		_, d := project.FindDialogue(dialogueID)
		if d == nil {
			return ErrDialogueNotFound
		}
		d.AudioDuration = timeline.Seconds(seconds)
		return nil
	})
	if err != nil {
		ws.DeleteAudio(dialogueID)
		p.logger.Info("discarding speech for removed dialogue", "dialogue_id", dialogueID)
		return fmt.Errorf("dialogue %s: %w", dialogueID, err)
	}
	return nil
}

// withRetry calls fn again after the retry delay while it fails with a
// transient generation error.
func (p *Producer) withRetry(ctx context.Context, op string, fn func() error) error {
	err := fn()
	for attempt := 2; attempt <= maxAttempts && retryable(err); attempt++ {
		p.logger.Info("retrying generation call", "op", op, "attempt", attempt, "error", err)
		if sleep(ctx, p.retryDelay) != nil {
			return err
		}
		err = fn()
	}
	return err
}

func retryable(err error) bool {
	var genErr *generation.GenerationError
	return errors.As(err, &genErr) && genErr.IsRetryable()
}

func (p *Producer) progress(projectID, stage string, done, count int) {
	p.bus.Publish(events.Event{
		Type:      events.GenerationProgress,
		ProjectID: projectID,
		Stage:     stage,
		Done:      done,
		Count:     count,
	})
}

func withNationality(prompt, nationality string) string {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return ""
	}
	if nationality == timeline.DefaultNationality {
		nationality = "Korean"
	}
	if nationality == "" || strings.Contains(strings.ToLower(prompt), strings.ToLower(nationality)) {
		return prompt
	}
	return nationality + " " + prompt
}

func isImage(handle string) bool {
	return strings.HasPrefix(handle, "data:image")
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
