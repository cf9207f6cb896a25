package timeline

import (
	"math"
)

// AutoTime lays out the dialogues of one cut back to back and moves every
// shot to the first line spoken by a character it shows. A cut without
// dialogues is left untouched.
//
// Unknown audio durations count as zero when placing dialogues.
func AutoTime(p *Project, cutIndex int) error {
	if cutIndex < 0 || cutIndex >= len(p.Cuts) {
		return ErrIndexOutOfRange
	}
	autoTimeCut(p, p.Cuts[cutIndex])
	return nil
}

func AutoTimeAll(p *Project) {
	for _, c := range p.Cuts {
		autoTimeCut(p, c)
	}
}

func autoTimeCut(p *Project, c *Cut) {
	if len(c.Dialogues) == 0 {
		return
	}

	cursor := 0.0
	for _, d := range c.Dialogues {
		d.StartTime = cursor
		cursor += d.Duration() + d.Pause()
	}
	sortDialogues(c)

	for i, s := range c.Shots {
		if i == 0 {
			s.StartTime = 0
			continue
		}
		ids := s.CharacterIDs(p)
		start, found := math.Inf(1), false
		for _, d := range c.Dialogues {
			if ids[d.CharID] && d.StartTime < start {
				start, found = d.StartTime, true
			}
		}
		if !found {
			start = c.Shots[i-1].StartTime
		}
		s.StartTime = start
	}
	sortShots(c)
}
