package export

import (
	"fmt"
	"math"
	"strings"

	"github.com/marriagesignal/studio/internal/timeline"
)

// GenerateEDL writes one event per shot. Each shot runs from its start to
// the next shot's start, or to the end of its cut. Shots with no screen
// time are skipped.
func GenerateEDL(p *timeline.Project, title string, frameRate float64) (string, int) {
	fps := int(math.Round(frameRate))
	if fps <= 0 {
		fps = 30
	}

	isDropFrame := math.Abs(frameRate-29.97) < 0.01 || math.Abs(frameRate-59.94) < 0.01

	lines := []string{fmt.Sprintf("TITLE: %s", title)}
	if isDropFrame {
		lines = append(lines, "FCM: DROP FRAME")
	} else {
		lines = append(lines, "FCM: NON-DROP FRAME")
	}
	lines = append(lines, "")

	event := 0
	cutStart := 0.0
	for ci, cut := range p.Cuts {
		for si, shot := range cut.Shots {
			in := math.Min(shot.StartTime, cut.Duration)
			out := cut.Duration
			if si+1 < len(cut.Shots) {
				out = math.Min(cut.Shots[si+1].StartTime, cut.Duration)
			}
			if out <= in {
				continue
			}
			event++

			durationMs := secondsToMs(out - in)
			recIn := secondsToMs(cutStart + in)
			lines = append(lines,
				fmt.Sprintf("%03d  %-8s %-5s C        %s %s %s %s", event, "AX", "V",
					msToTimecode(0, fps), msToTimecode(durationMs, fps),
					msToTimecode(recIn, fps), msToTimecode(recIn+durationMs, fps)),
				fmt.Sprintf("* FROM CLIP NAME:  CUT %d SHOT %d", ci+1, shot.ShotID),
			)
			if prompt := SanitizeName(timeline.CleanPrompt(shot.ImagePrompt), 160); prompt != "" {
				lines = append(lines, fmt.Sprintf("* COMMENT:  %s", prompt))
			}
		}
		cutStart += cut.Duration
	}

	lines = append(lines, "")
	return strings.Join(lines, "\n"), event
}

func secondsToMs(s float64) int {
	return int(math.Round(s * 1000))
}

func msToTimecode(ms int, fps int) string {
	totalFrames := int(math.Round(float64(ms) * float64(fps) / 1000.0))
	frames := totalFrames % fps
	totalSeconds := totalFrames / fps
	seconds := totalSeconds % 60
	totalMinutes := totalSeconds / 60
	minutes := totalMinutes % 60
	hours := totalMinutes / 60
	return fmt.Sprintf("%02d:%02d:%02d:%02d", hours, minutes, seconds, frames)
}
