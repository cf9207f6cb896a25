package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/marriagesignal/studio/internal/audio"
	"github.com/marriagesignal/studio/internal/events"
	"github.com/marriagesignal/studio/internal/timeline"
)

const DefaultInterval = 100 * time.Millisecond

type State int

const (
	Stopped State = iota
	Playing
	Paused
)

func (s State) String() string {
	switch s {
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	default:
		return "stopped"
	}
}

// Clock is a monotonic time source.
type Clock interface {
	Now() time.Duration
}

type systemClock struct {
	start time.Time
}

func SystemClock() Clock {
	return systemClock{start: time.Now()}
}

func (c systemClock) Now() time.Duration {
	return time.Since(c.start)
}

// ProjectView gives the scheduler read access to the project it plays.
type ProjectView interface {
	View(fn func(p *timeline.Project))
	Audio(dialogueID string) ([]byte, bool)
}

type Decoder interface {
	Decode(ctx context.Context, data []byte) (*audio.Buffer, error)
}

type WAVDecoder struct{}

func (WAVDecoder) Decode(ctx context.Context, data []byte) (*audio.Buffer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return audio.Decode(data)
}

type Config struct {
	ProjectID string
	View      ProjectView
	Output    Output
	Decoder   Decoder
	Clock     Clock
	Bus       *events.Bus
	// Interval between playhead polls. Zero disables the poller; Tick must
	// then be driven by the caller.
	Interval time.Duration
	Logger   *slog.Logger
}

type Status struct {
	State     string  `json:"state"`
	Position  float64 `json:"position"`
	Total     float64 `json:"total"`
	CutIndex  int     `json:"cut_index"`
	ShotIndex int     `json:"shot_index"`
}

// Scheduler plays a project: it starts dialogue audio at the right offsets
// and keeps the active cut, shot and subtitle in step with the playhead.
type Scheduler struct {
	cfg Config

	mu       sync.Mutex
	state    State
	position float64
	origin   time.Duration
	gen      uint64
	device   Device
	sources  []Source
	stop     chan struct{}
	cancel   context.CancelFunc

	lastCut  int
	lastShot int
	lastSub  string
}

func NewScheduler(cfg Config) *Scheduler {
	if cfg.Clock == nil {
		cfg.Clock = SystemClock()
	}
	if cfg.Decoder == nil {
		cfg.Decoder = WAVDecoder{}
	}
	if cfg.Output == nil {
		cfg.Output = NullOutput{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Scheduler{cfg: cfg, lastCut: -1, lastShot: -1}
}

func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scheduler) Position() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentPosition()
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{State: s.state.String(), Position: s.currentPosition(), CutIndex: s.lastCut, ShotIndex: s.lastShot}
	s.cfg.View.View(func(p *timeline.Project) {
		st.Total = timeline.TotalDuration(p)
	})
	return st
}

// Play starts playback from the playhead. A playhead at or past the end
// restarts from zero.
func (s *Scheduler) Play(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Playing {
		return nil
	}
	return s.start(ctx)
}

// Pause stops all audio and freezes the playhead.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Playing {
		return
	}
	s.position = s.elapsed()
	s.halt()
	s.setState(Paused)
}

// Stop stops all audio and rewinds to zero.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.halt()
	s.position = 0
	s.lastCut, s.lastShot, s.lastSub = -1, -1, ""
	if s.state != Stopped {
		s.setState(Stopped)
	}
}

// Seek moves the playhead. Playback continues from the new position when
// it was running.
func (s *Scheduler) Seek(ctx context.Context, t float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total float64
	var f Frame
	s.cfg.View.View(func(p *timeline.Project) {
		total = timeline.TotalDuration(p)
		t = min(max(t, 0), total)
		f = Locate(p, t)
	})

	wasPlaying := s.state == Playing
	if wasPlaying {
		s.halt()
	}
	s.position = t
	s.emitFrame(f)
	if wasPlaying {
		s.state = Stopped
		return s.start(ctx)
	}
	return nil
}

// Tick advances the playhead one poll step.
func (s *Scheduler) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Playing {
		return
	}

	elapsed := s.elapsed()
	var total float64
	var f Frame
	s.cfg.View.View(func(p *timeline.Project) {
		total = timeline.TotalDuration(p)
		f = Locate(p, elapsed)
	})

	if elapsed >= total {
		s.halt()
		s.position = 0
		s.lastCut, s.lastShot, s.lastSub = -1, -1, ""
		s.setState(Stopped)
		return
	}
	s.position = elapsed
	s.emitFrame(f)
}

func (s *Scheduler) start(ctx context.Context) error {
	var total float64
	s.cfg.View.View(func(p *timeline.Project) {
		total = timeline.TotalDuration(p)
	})
	if s.position >= total {
		s.position = 0
	}

	device, err := s.cfg.Output.Open(ctx)
	if err != nil {
		return fmt.Errorf("open audio output: %w", err)
	}

	var cues []Cue
	var f Frame
	s.cfg.View.View(func(p *timeline.Project) {
		cues = Cues(p, s.position)
		f = Locate(p, s.position)
	})

	playCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.device = device
	s.cancel = cancel
	s.origin = s.cfg.Clock.Now() - seconds(s.position)
	s.gen++
	s.stop = make(chan struct{})
	s.setState(Playing)
	s.emitFrame(f)

	for _, cue := range cues {
		data, ok := s.cfg.View.Audio(cue.DialogueID)
		if !ok {
			continue
		}
		go s.schedule(playCtx, s.gen, cue, data)
	}
	if s.cfg.Interval > 0 {
		go s.poll(s.stop)
	}
	return nil
}

func (s *Scheduler) schedule(ctx context.Context, gen uint64, cue Cue, data []byte) {
	buf, err := s.cfg.Decoder.Decode(ctx, data)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.cfg.Logger.Warn("audio decode failed", "dialogue_id", cue.DialogueID, "error", err)
		}
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Playback stopped or restarted while decoding.
	if s.gen != gen || s.state != Playing {
		return
	}
	src, err := s.device.Schedule(ctx, Scheduled{
		DialogueID: cue.DialogueID,
		Start:      cue.Start,
		At:         s.origin + seconds(cue.Start),
		Buffer:     buf,
	})
	if err != nil {
		s.cfg.Logger.Warn("audio schedule failed", "dialogue_id", cue.DialogueID, "error", err)
		return
	}
	s.sources = append(s.sources, src)
}

func (s *Scheduler) poll(stop <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}

func (s *Scheduler) halt() {
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	for _, src := range s.sources {
		src.Stop()
	}
	s.sources = nil
	if s.device != nil {
		if err := s.device.Close(); err != nil {
			s.cfg.Logger.Warn("audio output close failed", "error", err)
		}
		s.device = nil
	}
	s.gen++
}

func (s *Scheduler) elapsed() float64 {
	return (s.cfg.Clock.Now() - s.origin).Seconds()
}

func (s *Scheduler) currentPosition() float64 {
	if s.state == Playing {
		return s.elapsed()
	}
	return s.position
}

func (s *Scheduler) setState(st State) {
	s.state = st
	s.cfg.Bus.Publish(events.Event{
		Type:      events.PlaybackStateChanged,
		ProjectID: s.cfg.ProjectID,
		State:     st.String(),
		Position:  s.position,
		CutIndex:  s.lastCut,
		ShotIndex: s.lastShot,
	})
}

func (s *Scheduler) emitFrame(f Frame) {
	if f.CutIndex != s.lastCut || f.ShotIndex != s.lastShot {
		s.lastCut, s.lastShot = f.CutIndex, f.ShotIndex
		s.cfg.Bus.Publish(events.Event{
			Type:      events.ActiveIndexChanged,
			ProjectID: s.cfg.ProjectID,
			CutIndex:  f.CutIndex,
			ShotIndex: f.ShotIndex,
			Position:  s.position,
		})
	}

	sub := ""
	if f.Subtitle != nil {
		sub = f.Subtitle.DialogueID
	}
	if sub != s.lastSub {
		s.lastSub = sub
		s.cfg.Bus.Publish(events.Event{
			Type:      events.SubtitleChanged,
			ProjectID: s.cfg.ProjectID,
			CutIndex:  f.CutIndex,
			ShotIndex: f.ShotIndex,
			Subtitle:  f.Subtitle,
			Position:  s.position,
		})
	}
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
