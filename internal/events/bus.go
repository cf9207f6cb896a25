// Package events carries typed change notifications from the engine to any
// attached presentation layer.
package events

import (
	"sync"
	"time"
)

type Type string

const (
	ActiveIndexChanged   Type = "active_index_changed"
	SubtitleChanged      Type = "subtitle_changed"
	TotalDurationChanged Type = "total_duration_changed"
	PlaybackStateChanged Type = "playback_state_changed"
	GenerationProgress   Type = "generation_progress"
	AudioCue             Type = "audio_cue"
	AudioStop            Type = "audio_stop"
)

type Subtitle struct {
	DialogueID string  `json:"dialogue_id"`
	Speaker    string  `json:"speaker"`
	Text       string  `json:"text"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
}

type Event struct {
	Type       Type      `json:"type"`
	ProjectID  string    `json:"project_id,omitempty"`
	CutIndex   int       `json:"cut_index"`
	ShotIndex  int       `json:"shot_index"`
	Subtitle   *Subtitle `json:"subtitle,omitempty"`
	Total      float64   `json:"total,omitempty"`
	State      string    `json:"state,omitempty"`
	Position   float64   `json:"position"`
	DialogueID string    `json:"dialogue_id,omitempty"`
	Stage      string    `json:"stage,omitempty"`
	Done       int       `json:"done,omitempty"`
	Count      int       `json:"count,omitempty"`
	Time       time.Time `json:"time"`
}

const subscriberBuffer = 64

// Bus fans events out to subscribers. Publish never blocks; a subscriber
// that falls behind loses events.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, subscriberBuffer)
	b.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
	return ch, cancel
}

// Publish is safe on a nil bus.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
