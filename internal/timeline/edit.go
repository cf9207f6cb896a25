package timeline

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

var ErrIndexOutOfRange = errors.New("index out of range")

// ReferentialError describes an entity that points at something missing,
// such as a dialogue whose charId has no matching character. It is reported,
// never fatal.
type ReferentialError struct {
	Entity string
	ID     string
	Ref    string
}

func (e *ReferentialError) Error() string {
	return fmt.Sprintf("%s %s references missing %s", e.Entity, e.ID, e.Ref)
}

// ValidateReferences lists every dangling reference in the project.
func (p *Project) ValidateReferences() []*ReferentialError {
	var errs []*ReferentialError
	for _, c := range p.Cuts {
		for _, d := range c.Dialogues {
			if p.Character(d.CharID) == nil {
				errs = append(errs, &ReferentialError{Entity: "dialogue", ID: d.ID, Ref: "character " + d.CharID})
			}
		}
		for _, s := range c.Shots {
			for _, r := range s.Refs {
				switch r.Kind {
				case RefCharacter:
					if p.Character(r.ID) == nil {
						errs = append(errs, &ReferentialError{Entity: "shot", ID: fmt.Sprintf("%s/%d", c.ID, s.ShotID), Ref: "character " + r.ID})
					}
				case RefBackground:
					g := p.BackgroundByID(r.ID)
					if g == nil || (r.Sub != "" && g.Sub(r.Sub) == nil) {
						errs = append(errs, &ReferentialError{Entity: "shot", ID: fmt.Sprintf("%s/%d", c.ID, s.ShotID), Ref: "background " + r.ID})
					}
				}
			}
		}
	}
	return errs
}

// EnsureNarrator adds the reserved narrator character when it is missing
// and fills in its voice defaults.
func (p *Project) EnsureNarrator() *Character {
	n := p.Character(NarratorID)
	if n == nil {
		n = &Character{ID: NarratorID, Name: NarratorName, Speed: 1}
		p.Characters = append(p.Characters, n)
	}
	if n.Name == "" {
		n.Name = NarratorName
	}
	if n.Voice == "" {
		n.Voice = DefaultNarratorVoice
	}
	if n.Speed == 0 {
		n.Speed = 1
	}
	return n
}

func (p *Project) MoveCut(from, to int) error {
	if from < 0 || from >= len(p.Cuts) || to < 0 || to >= len(p.Cuts) {
		return ErrIndexOutOfRange
	}
	c := p.Cuts[from]
	p.Cuts = append(p.Cuts[:from], p.Cuts[from+1:]...)
	p.Cuts = append(p.Cuts[:to], append([]*Cut{c}, p.Cuts[to:]...)...)
	return nil
}

// DeleteCut removes a cut and returns the ids of the dialogues it held so
// their audio can be released.
func (p *Project) DeleteCut(i int) ([]string, error) {
	if i < 0 || i >= len(p.Cuts) {
		return nil, ErrIndexOutOfRange
	}
	var ids []string
	for _, d := range p.Cuts[i].Dialogues {
		ids = append(ids, d.ID)
	}
	p.Cuts = append(p.Cuts[:i], p.Cuts[i+1:]...)
	return ids, nil
}

// AddDialogue appends a dialogue to a cut. The new dialogue has no audio.
func (p *Project) AddDialogue(cutIndex int, charID, text string, postDelay float64) (*Dialogue, error) {
	if cutIndex < 0 || cutIndex >= len(p.Cuts) {
		return nil, ErrIndexOutOfRange
	}
	c := p.Cuts[cutIndex]
	start := 0.0
	if n := len(c.Dialogues); n > 0 {
		last := c.Dialogues[n-1]
		start = last.StartTime + last.Duration() + last.PostDelay
	}
	d := &Dialogue{
		ID:        uuid.NewString(),
		CharID:    charID,
		Text:      text,
		StartTime: start,
		PostDelay: postDelay,
	}
	c.Dialogues = append(c.Dialogues, d)
	return d, nil
}

func (p *Project) DeleteDialogue(id string) bool {
	for _, c := range p.Cuts {
		for i, d := range c.Dialogues {
			if d.ID == id {
				c.Dialogues = append(c.Dialogues[:i], c.Dialogues[i+1:]...)
				return true
			}
		}
	}
	return false
}

// SetDialogueText replaces the text of a dialogue. Changed text invalidates
// the audio, so the duration becomes unknown.
func (p *Project) SetDialogueText(id, text string) error {
	_, d := p.FindDialogue(id)
	if d == nil {
		return fmt.Errorf("dialogue %s: %w", id, ErrIndexOutOfRange)
	}
	if d.Text != text {
		d.Text = text
		d.AudioDuration = nil
	}
	return nil
}

func sortDialogues(c *Cut) {
	sort.SliceStable(c.Dialogues, func(i, j int) bool {
		return c.Dialogues[i].StartTime < c.Dialogues[j].StartTime
	})
}

func sortShots(c *Cut) {
	sort.SliceStable(c.Shots, func(i, j int) bool {
		return c.Shots[i].StartTime < c.Shots[j].StartTime
	})
}
