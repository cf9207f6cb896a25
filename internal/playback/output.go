package playback

import (
	"context"
	"sync"
	"time"

	"github.com/marriagesignal/studio/internal/audio"
	"github.com/marriagesignal/studio/internal/events"
)

// Output opens an audio device for one play run.
type Output interface {
	Open(ctx context.Context) (Device, error)
}

// Device is an open audio context. Closing it releases everything it
// scheduled.
type Device interface {
	Schedule(ctx context.Context, a Scheduled) (Source, error)
	Close() error
}

// Source is one scheduled buffer.
type Source interface {
	Stop()
}

// Scheduled describes a buffer to start on the device. Start is the
// position on the timeline, At the clock time at which it begins.
type Scheduled struct {
	DialogueID string
	Start      float64
	At         time.Duration
	Buffer     *audio.Buffer
}

// NullOutput discards audio. It is used when no listener is attached.
type NullOutput struct{}

func (NullOutput) Open(context.Context) (Device, error) {
	return nullDevice{}, nil
}

type nullDevice struct{}

func (nullDevice) Schedule(context.Context, Scheduled) (Source, error) { return nullSource{}, nil }
func (nullDevice) Close() error                                      { return nil }

type nullSource struct{}

func (nullSource) Stop() {}

// CueOutput forwards scheduled audio as events so that an attached client
// can fetch the clip and play it at the given timeline position.
type CueOutput struct {
	Bus       *events.Bus
	ProjectID string
}

func (o CueOutput) Open(context.Context) (Device, error) {
	return &cueDevice{bus: o.Bus, projectID: o.ProjectID}, nil
}

type cueDevice struct {
	bus       *events.Bus
	projectID string
}

func (d *cueDevice) Schedule(_ context.Context, a Scheduled) (Source, error) {
	d.bus.Publish(events.Event{
		Type:       events.AudioCue,
		ProjectID:  d.projectID,
		DialogueID: a.DialogueID,
		Position:   a.Start,
		Total:      a.Buffer.Seconds(),
	})
	return &cueSource{device: d, dialogueID: a.DialogueID}, nil
}

func (d *cueDevice) Close() error {
	return nil
}

type cueSource struct {
	device     *cueDevice
	dialogueID string
	once       sync.Once
}

func (s *cueSource) Stop() {
	s.once.Do(func() {
		s.device.bus.Publish(events.Event{
			Type:       events.AudioStop,
			ProjectID:  s.device.projectID,
			DialogueID: s.dialogueID,
		})
	})
}
