package playback

import (
	"github.com/marriagesignal/studio/internal/events"
	"github.com/marriagesignal/studio/internal/timeline"
)

// Frame is what should be on screen at a given playhead position.
type Frame struct {
	CutIndex  int
	ShotIndex int
	Subtitle  *events.Subtitle
}

// Locate maps an absolute playhead position to the active cut, the active
// shot inside it and the dialogue being spoken. Indexes are -1 when nothing
// is active.
func Locate(p *timeline.Project, elapsed float64) Frame {
	f := Frame{CutIndex: -1, ShotIndex: -1}

	cutStart := 0.0
	for i, c := range p.Cuts {
		if elapsed >= cutStart && elapsed < cutStart+c.Duration {
			f.CutIndex = i
			f.ShotIndex = activeShot(c, elapsed-cutStart)
			break
		}
		cutStart += c.Duration
	}

	f.Subtitle = activeSubtitle(p, elapsed)
	return f
}

func activeShot(c *timeline.Cut, rel float64) int {
	if len(c.Shots) == 0 {
		return -1
	}
	idx := 0
	for i, s := range c.Shots {
		if s.StartTime <= rel {
			idx = i
		}
	}
	return idx
}

func activeSubtitle(p *timeline.Project, elapsed float64) *events.Subtitle {
	cutStart := 0.0
	for _, c := range p.Cuts {
		for _, d := range c.Dialogues {
			start := cutStart + d.StartTime
			end := start + d.Duration()
			if elapsed >= start && elapsed < end {
				return &events.Subtitle{
					DialogueID: d.ID,
					Speaker:    p.SpeakerName(d.CharID),
					Text:       d.Text,
					Start:      start,
					End:        end,
				}
			}
		}
		cutStart += c.Duration
	}
	return nil
}

// Cue is a dialogue positioned on the absolute time axis.
type Cue struct {
	DialogueID string
	Start      float64
}

// Cues lists the dialogues starting at or after the given position.
func Cues(p *timeline.Project, from float64) []Cue {
	var cues []Cue
	cutStart := 0.0
	for _, c := range p.Cuts {
		for _, d := range c.Dialogues {
			if start := cutStart + d.StartTime; start >= from {
				cues = append(cues, Cue{DialogueID: d.ID, Start: start})
			}
		}
		cutStart += c.Duration
	}
	return cues
}
