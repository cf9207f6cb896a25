package timeline

import (
	"math/rand"

	"github.com/google/uuid"
)

// NewPostDelay picks a pause after a line in [0.1, 1.0) seconds.
func NewPostDelay(rng *rand.Rand) float64 {
	return rng.Float64()*0.9 + 0.1
}

// Normalize fills in the defaults a freshly generated or imported project
// may be missing: ids, narrator voice, nationality, shot structure and
// dialogue pauses. Existing values are kept, except negative pauses which
// are reset to zero.
func Normalize(p *Project, rng *rand.Rand) {
	p.EnsureNarrator()
	for _, c := range p.Characters {
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		if c.Nationality == "" {
			c.Nationality = DefaultNationality
		}
		if c.Speed == 0 {
			c.Speed = 1
		}
	}

	for _, g := range p.Backgrounds {
		if g.ID == "" {
			g.ID = uuid.NewString()
		}
		for _, s := range g.SubImages {
			if s.SubID == "" {
				s.SubID = uuid.NewString()
			}
			if s.SubName == "" {
				s.SubName = DefaultSubName
			}
		}
	}

	for _, c := range p.Cuts {
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		for i, s := range c.Shots {
			if s.ShotID == 0 {
				s.ShotID = i + 1
			}
			if i == 0 {
				s.StartTime = 0
			}
			if len(s.Refs) == 0 {
				s.Refs = ParseRefs(s.ImagePrompt, p)
			}
		}
		for _, d := range c.Dialogues {
			if d.ID == "" {
				d.ID = uuid.NewString()
			}
			if d.PostDelay < 0 {
				d.PostDelay = 0
			}
			if d.PostDelayMissing && rng != nil {
				d.PostDelay = NewPostDelay(rng)
				d.PostDelayMissing = false
			}
		}
	}
}
