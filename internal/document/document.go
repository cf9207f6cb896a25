// Package document reads and writes the portable project file, including
// embedded dialogue audio and upgrades from older layouts.
package document

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/marriagesignal/studio/internal/audio"
	"github.com/marriagesignal/studio/internal/timeline"
)

var ErrMalformed = errors.New("malformed project document")

const wavDataURLPrefix = "data:audio/wav;base64,"

type AudioSource interface {
	Get(dialogueID string) ([]byte, bool)
}

type fileProject struct {
	Version     float64                     `json:"version"`
	Title       string                      `json:"title"`
	Characters  []*timeline.Character       `json:"characters"`
	Backgrounds []*timeline.BackgroundGroup `json:"backgrounds"`
	Cuts        []*fileCut                  `json:"cutscenes"`
}

type fileCut struct {
	ID                 string           `json:"id,omitempty"`
	Duration           float64          `json:"duration"`
	AutoAdjustDuration bool             `json:"autoAdjustDuration"`
	Shots              []*timeline.Shot `json:"shots"`
	Dialogues          []*fileDialogue  `json:"dialogues"`
}

type fileDialogue struct {
	timeline.Dialogue
	// PostDelay shadows the embedded field so a missing pause can be told
	// apart from an explicit zero.
	PostDelay *float64 `json:"postDelay"`
	AudioData string   `json:"audioData_base64,omitempty"`
}

// Marshal writes the project at CurrentVersion. Audio found in src is
// embedded as WAV data URLs; src may be nil.
func Marshal(p *timeline.Project, src AudioSource) ([]byte, error) {
	doc := fileProject{
		Version:     CurrentVersion,
		Title:       p.Title,
		Characters:  p.Characters,
		Backgrounds: p.Backgrounds,
		Cuts:        make([]*fileCut, 0, len(p.Cuts)),
	}
	for _, c := range p.Cuts {
		fc := &fileCut{
			ID:                 c.ID,
			Duration:           c.Duration,
			AutoAdjustDuration: c.AutoAdjustDuration,
			Shots:              c.Shots,
			Dialogues:          make([]*fileDialogue, 0, len(c.Dialogues)),
		}
		for _, d := range c.Dialogues {
			postDelay := d.PostDelay
			fd := &fileDialogue{Dialogue: *d, PostDelay: &postDelay}
			if src != nil {
				if wav, ok := src.Get(d.ID); ok {
					fd.AudioData = wavDataURLPrefix + base64.StdEncoding.EncodeToString(wav)
				}
			}
			fc.Dialogues = append(fc.Dialogues, fd)
		}
		doc.Cuts = append(doc.Cuts, fc)
	}
	return json.MarshalIndent(doc, "", "  ")
}

// Result is a loaded document.
type Result struct {
	Project *timeline.Project
	Audio   *audio.Store
	// StoredVersion is the version the file was written with.
	StoredVersion float64
}

// Unmarshal parses a project document of any known version and upgrades
// it to the current layout.
func Unmarshal(data []byte) (*Result, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: not an object", ErrMalformed)
	}
	stored := Migrate(raw)

	upgraded, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	var doc fileProject
	if err := json.Unmarshal(upgraded, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	res := &Result{
		Project: &timeline.Project{
			Version:     CurrentVersion,
			Title:       doc.Title,
			Characters:  doc.Characters,
			Backgrounds: doc.Backgrounds,
		},
		Audio:         audio.NewStore(),
		StoredVersion: stored,
	}

	for _, fc := range doc.Cuts {
		c := &timeline.Cut{
			ID:                 fc.ID,
			Duration:           fc.Duration,
			AutoAdjustDuration: fc.AutoAdjustDuration,
			Shots:              fc.Shots,
		}
		for _, fd := range fc.Dialogues {
			d := fd.Dialogue
			if fd.PostDelay != nil {
				d.PostDelay = *fd.PostDelay
			} else {
				d.PostDelayMissing = true
			}
			if d.ID == "" {
				d.ID = uuid.NewString()
			}
			if fd.AudioData != "" {
				wav, err := decodeAudio(fd.AudioData)
				if err != nil {
					return nil, fmt.Errorf("dialogue %s: %w", d.ID, err)
				}
				res.Audio.Put(d.ID, wav)
				if d.AudioDuration == nil {
					if secs, err := audio.Duration(wav); err == nil {
						d.AudioDuration = timeline.Seconds(secs)
					}
				}
			}
			c.Dialogues = append(c.Dialogues, &d)
		}
		res.Project.Cuts = append(res.Project.Cuts, c)
	}
	timeline.Normalize(res.Project, nil)
	return res, nil
}

// decodeAudio accepts a data URL or bare base64, holding either WAV or raw
// speech PCM.
func decodeAudio(s string) ([]byte, error) {
	if i := strings.Index(s, ","); strings.HasPrefix(s, "data:") && i >= 0 {
		s = s[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: audio: %v", ErrMalformed, err)
	}
	if len(data) >= 4 && string(data[:4]) == "RIFF" {
		return data, nil
	}
	return audio.EncodeWAV(data, audio.SampleRate), nil
}
