package export

import (
	"fmt"
	"strings"

	"github.com/marriagesignal/studio/internal/timeline"
)

// GenerateVTT renders dialogue subtitles as WebVTT. Cue times are the
// dialogues' absolute start and audio duration; dialogues without audio
// are left out.
func GenerateVTT(p *timeline.Project) (string, int) {
	var b strings.Builder
	b.WriteString("WEBVTT\n")

	cues := 0
	cutStart := 0.0
	for _, cut := range p.Cuts {
		for _, d := range cut.Dialogues {
			if !d.HasDuration() || *d.AudioDuration <= 0 || strings.TrimSpace(d.Text) == "" {
				continue
			}
			cues++
			start := cutStart + d.StartTime
			end := start + *d.AudioDuration

			fmt.Fprintf(&b, "\n%d\n%s --> %s\n", cues, vttTimestamp(start), vttTimestamp(end))
			if c := p.Character(d.CharID); c != nil && d.CharID != timeline.NarratorID {
				fmt.Fprintf(&b, "<v %s>%s\n", c.Name, vttEscape(d.Text))
			} else {
				fmt.Fprintf(&b, "%s\n", vttEscape(d.Text))
			}
		}
		cutStart += cut.Duration
	}
	return b.String(), cues
}

func vttTimestamp(seconds float64) string {
	ms := secondsToMs(seconds)
	h := ms / 3600000
	m := ms / 60000 % 60
	s := ms / 1000 % 60
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms%1000)
}

var vttReplacer = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", "-->", "--&gt;")

func vttEscape(s string) string {
	return vttReplacer.Replace(s)
}
