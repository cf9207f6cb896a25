// Package timeline holds the project model and the pure timing calculations
// that keep shots, dialogues and cuts aligned on a single time axis.
package timeline

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

const (
	NarratorID           = "narrator"
	NarratorName         = "내레이터"
	DefaultNarratorVoice = "Charon"
	DefaultVoice         = "Kore"
	DefaultNationality   = "한국"
	DefaultSubName       = "기본"
)

type Project struct {
	Version     float64            `json:"version"`
	Title       string             `json:"title"`
	Characters  []*Character       `json:"characters"`
	Backgrounds []*BackgroundGroup `json:"backgrounds"`
	Cuts        []*Cut             `json:"cuts"`
}

type Character struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Gender      string  `json:"gender,omitempty"`
	Nationality string  `json:"nationality,omitempty"`
	Voice       string  `json:"voice,omitempty"`
	Pitch       float64 `json:"pitch"`
	Speed       float64 `json:"speed"`
	Personality Tags    `json:"personality,omitempty"`
	TTSTone     string  `json:"tts_tone,omitempty"`
	Prompt      string  `json:"prompt,omitempty"`
	Image       string  `json:"image,omitempty"`
}

type BackgroundGroup struct {
	ID        string      `json:"id"`
	GroupName string      `json:"groupName"`
	SubImages []*SubImage `json:"subImages"`
}

type SubImage struct {
	SubID   string `json:"subId"`
	SubName string `json:"subName"`
	Prompt  string `json:"prompt,omitempty"`
	Image   string `json:"image,omitempty"`
}

type Cut struct {
	ID                 string      `json:"id,omitempty"`
	Duration           float64     `json:"duration"`
	AutoAdjustDuration bool        `json:"autoAdjustDuration"`
	Shots              []*Shot     `json:"shots"`
	Dialogues          []*Dialogue `json:"dialogues"`

	// Stale is set when the duration could not be recomputed because a
	// dialogue has no known audio duration yet.
	Stale bool `json:"-"`
}

type Shot struct {
	ShotID      int     `json:"shotId"`
	ImagePrompt string  `json:"imagePrompt"`
	VideoPrompt string  `json:"videoPrompt,omitempty"`
	StartTime   float64 `json:"startTime"`
	Image       string  `json:"image,omitempty"`
	Refs        []Ref   `json:"refs,omitempty"`
}

type Dialogue struct {
	ID            string   `json:"id"`
	CharID        string   `json:"charId"`
	Text          string   `json:"text"`
	TTSPrompt     string   `json:"ttsPrompt,omitempty"`
	StartTime     float64  `json:"startTime"`
	PostDelay     float64  `json:"postDelay"`
	AudioDuration *float64 `json:"audioDuration"`

	// PostDelayMissing is set by decoders when the source carried no pause.
	// Normalize picks one when it is given a random source.
	PostDelayMissing bool `json:"-"`
}

// Pause is the gap after the line. Negative delays count as none.
func (d *Dialogue) Pause() float64 {
	return math.Max(d.PostDelay, 0)
}

// Tags is a list of keywords. It decodes from either a JSON array or a
// comma separated string.
type Tags []string

func (t *Tags) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*t = list
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("tags must be a string or a list: %w", err)
	}
	*t = SplitTags(s)
	return nil
}

func (t Tags) String() string {
	return strings.Join(t, ", ")
}

func SplitTags(s string) Tags {
	var out Tags
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func Seconds(v float64) *float64 {
	return &v
}

// Duration returns the known audio duration, treating unknown as zero.
func (d *Dialogue) Duration() float64 {
	if d.AudioDuration == nil {
		return 0
	}
	return *d.AudioDuration
}

func (d *Dialogue) HasDuration() bool {
	return d.AudioDuration != nil
}

func (p *Project) Character(id string) *Character {
	for _, c := range p.Characters {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func (p *Project) CharacterByName(name string) *Character {
	for _, c := range p.Characters {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func (p *Project) Background(groupName string) *BackgroundGroup {
	for _, g := range p.Backgrounds {
		if g.GroupName == groupName {
			return g
		}
	}
	return nil
}

func (p *Project) BackgroundByID(id string) *BackgroundGroup {
	for _, g := range p.Backgrounds {
		if g.ID == id {
			return g
		}
	}
	return nil
}

func (g *BackgroundGroup) Sub(id string) *SubImage {
	for _, s := range g.SubImages {
		if s.SubID == id {
			return s
		}
	}
	return nil
}

func (g *BackgroundGroup) SubByName(name string) *SubImage {
	for _, s := range g.SubImages {
		if s.SubName == name {
			return s
		}
	}
	return nil
}

// SpeakerName returns the display name for a character id, or "Unknown".
func (p *Project) SpeakerName(charID string) string {
	if c := p.Character(charID); c != nil {
		return c.Name
	}
	return "Unknown"
}

// FindDialogue locates a dialogue by id. It is used to re-validate a
// dialogue after an asynchronous step, since the dialogue may have been
// deleted in the meantime.
func (p *Project) FindDialogue(id string) (cutIndex int, d *Dialogue) {
	for i, c := range p.Cuts {
		for _, dlg := range c.Dialogues {
			if dlg.ID == id {
				return i, dlg
			}
		}
	}
	return -1, nil
}

func (p *Project) FindCut(id string) (int, *Cut) {
	for i, c := range p.Cuts {
		if c.ID == id {
			return i, c
		}
	}
	return -1, nil
}

func (p *Project) FindShot(cutID string, shotID int) *Shot {
	_, c := p.FindCut(cutID)
	if c == nil {
		return nil
	}
	for _, s := range c.Shots {
		if s.ShotID == shotID {
			return s
		}
	}
	return nil
}

func (p *Project) DialogueCount() int {
	n := 0
	for _, c := range p.Cuts {
		n += len(c.Dialogues)
	}
	return n
}

// CutStart returns the absolute start time of the cut at index i.
func (p *Project) CutStart(i int) float64 {
	start := 0.0
	for j := 0; j < i && j < len(p.Cuts); j++ {
		start += p.Cuts[j].Duration
	}
	return start
}

// Clone returns a deep copy of the project.
func (p *Project) Clone() *Project {
	if p == nil {
		return nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		panic(fmt.Sprintf("timeline: clone: %v", err))
	}
	out := &Project{}
	if err := json.Unmarshal(data, out); err != nil {
		panic(fmt.Sprintf("timeline: clone: %v", err))
	}
	for i, c := range p.Cuts {
		out.Cuts[i].Stale = c.Stale
	}
	return out
}
