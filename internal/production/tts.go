package production

import (
	"fmt"
	"math"
	"strings"

	"github.com/marriagesignal/studio/internal/timeline"
)

const (
	toneWhisper  = "Whisper this secretly"
	toneNarrator = "Say this in a clear, informative tone"
	toneDefault  = "Say this clearly"
)

// TTSPrompt builds the speech prompt and voice for a dialogue. A dialogue
// whose character is missing gets the generic prompt and the default voice.
func TTSPrompt(p *timeline.Project, d *timeline.Dialogue) (prompt, voice string) {
	text, whisper := timeline.StripWhisper(d.Text)
	c := p.Character(d.CharID)

	var base string
	switch {
	case d.CharID == timeline.NarratorID:
		base = toneNarrator
	case whisper:
		base = toneWhisper
	case c != nil && c.TTSTone != "":
		base = c.TTSTone
	case d.TTSPrompt != "":
		base = d.TTSPrompt
	default:
		base = toneDefault
	}

	if c == nil {
		return fmt.Sprintf("%s: \"%s\"", base, text), timeline.DefaultVoice
	}

	instructions := []string{base}
	speed := c.Speed
	if speed == 0 {
		speed = 1
	}
	if math.Abs(speed-1) > 0.01 {
		instructions = append(instructions, fmt.Sprintf("at a speed of %.2fx", speed))
	}
	switch {
	case c.Pitch > 1.5:
		instructions = append(instructions, "with a very high pitch")
	case c.Pitch > 0.7:
		instructions = append(instructions, "with a high pitch")
	case c.Pitch < -1.5:
		instructions = append(instructions, "with a very low pitch")
	case c.Pitch < -0.7:
		instructions = append(instructions, "with a low pitch")
	}

	voice = c.Voice
	if voice == "" {
		voice = timeline.DefaultVoice
	}
	return fmt.Sprintf("%s: \"%s\"", strings.Join(instructions, ", "), text), voice
}
