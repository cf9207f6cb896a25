package timeline

import "math"

// RecalculateCutDuration derives an auto-adjusting cut's duration from the
// end of its last dialogue, rounded to one decimal. It only does so when
// every dialogue has a known audio duration; otherwise the cut is stale
// and keeps its duration. Cut.Stale mirrors the stale result.
func RecalculateCutDuration(c *Cut) (changed, stale bool) {
	c.Stale = false
	if !c.AutoAdjustDuration || len(c.Dialogues) == 0 {
		return false, false
	}
	last := c.Dialogues[0]
	for _, d := range c.Dialogues {
		if !d.HasDuration() {
			c.Stale = true
			return false, true
		}
		if d.StartTime >= last.StartTime {
			last = d
		}
	}
	duration := Round1(last.StartTime + *last.AudioDuration + last.Pause())
	if duration == c.Duration {
		return false, false
	}
	c.Duration = duration
	return true, false
}

// RecalculateAll refreshes every cut and returns the indexes of the cuts
// left stale.
func RecalculateAll(p *Project) (stale []int) {
	for i, c := range p.Cuts {
		if _, isStale := RecalculateCutDuration(c); isStale {
			stale = append(stale, i)
		}
	}
	return stale
}

// TotalDuration is the sum of the cut durations rounded to one decimal.
func TotalDuration(p *Project) float64 {
	total := 0.0
	for _, c := range p.Cuts {
		total += c.Duration
	}
	return Round1(total)
}

func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}
