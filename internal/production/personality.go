package production

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"strings"

	"github.com/marriagesignal/studio/internal/timeline"
)

//go:embed personality.json
var defaultPersonalityJSON []byte

const (
	genderMale   = "남성"
	genderFemale = "여성"
)

// VoiceProfile is the voice and look assigned to one personality keyword
// for one gender.
type VoiceProfile struct {
	Voice      string   `json:"보이스"`
	Tone       string   `json:"톤"`
	Pitch      float64  `json:"Pitch"`
	Speed      float64  `json:"Speaking Rate"`
	Appearance string   `json:"기본 외모"`
	Fashion    []string `json:"패션"`
	Hair       []string `json:"헤어"`
}

type PersonalityMapping struct {
	Keyword string        `json:"성격 키워드"`
	Male    *VoiceProfile `json:"남성,omitempty"`
	Female  *VoiceProfile `json:"여성,omitempty"`
}

func (m PersonalityMapping) profile(gender string) *VoiceProfile {
	if gender == genderMale {
		return m.Male
	}
	return m.Female
}

// PersonalitySystem maps personality keywords to voices, tones and
// appearance options.
type PersonalitySystem struct {
	// OptionPool holds appearance options (eyes, mouth, build...) per gender.
	OptionPool map[string]map[string][]string
	Mappings   []PersonalityMapping
}

type personalityFile struct {
	OptionPool map[string]json.RawMessage `json:"옵션풀"`
	Mappings   []PersonalityMapping       `json:"캐릭터"`
}

func ParsePersonalitySystem(data []byte) (*PersonalitySystem, error) {
	var f personalityFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing personality system: %w", err)
	}

	ps := &PersonalitySystem{Mappings: f.Mappings, OptionPool: make(map[string]map[string][]string)}
	_, gendered := f.OptionPool[genderMale]
	if !gendered {
		_, gendered = f.OptionPool[genderFemale]
	}
	if gendered {
		for gender, raw := range f.OptionPool {
			var pool map[string][]string
			if err := json.Unmarshal(raw, &pool); err != nil {
				return nil, fmt.Errorf("parsing option pool %q: %w", gender, err)
			}
			ps.OptionPool[gender] = pool
		}
		return ps, nil
	}

	// A flat pool applies to both genders.
	flat := make(map[string][]string)
	for key, raw := range f.OptionPool {
		var options []string
		if err := json.Unmarshal(raw, &options); err != nil {
			return nil, fmt.Errorf("parsing option pool %q: %w", key, err)
		}
		flat[key] = options
	}
	ps.OptionPool[genderMale] = flat
	ps.OptionPool[genderFemale] = flat
	return ps, nil
}

func LoadPersonalitySystem(path string) (*PersonalitySystem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading personality system: %w", err)
	}
	return ParsePersonalitySystem(data)
}

func DefaultPersonalitySystem() *PersonalitySystem {
	ps, err := ParsePersonalitySystem(defaultPersonalityJSON)
	if err != nil {
		panic(err)
	}
	return ps
}

// Apply picks one matching mapping at random and assigns its voice, tone,
// pitch, speed and a composed appearance prompt. It reports whether any
// keyword matched.
func (ps *PersonalitySystem) Apply(c *timeline.Character, rng *rand.Rand) bool {
	if ps == nil || c.ID == timeline.NarratorID || len(c.Personality) == 0 {
		return false
	}

	gender := genderFemale
	if c.Gender == genderMale {
		gender = genderMale
	}

	keywords := make(map[string]bool, len(c.Personality))
	for _, k := range c.Personality {
		keywords[k] = true
	}
	var candidates []*VoiceProfile
	for _, m := range ps.Mappings {
		if !keywords[m.Keyword] {
			continue
		}
		if prof := m.profile(gender); prof != nil {
			candidates = append(candidates, prof)
		}
	}
	if len(candidates) == 0 {
		return false
	}

	chosen := candidates[rng.Intn(len(candidates))]
	c.Voice = chosen.Voice
	c.TTSTone = chosen.Tone
	c.Pitch = chosen.Pitch
	c.Speed = chosen.Speed
	if c.Speed == 0 {
		c.Speed = 1
	}

	pool := ps.OptionPool[gender]
	pick := func(options []string) string {
		if len(options) == 0 {
			return ""
		}
		return options[rng.Intn(len(options))]
	}
	var looks []string
	for _, part := range []string{chosen.Appearance, pick(pool["눈"]), pick(pool["입"]), pick(pool["코"]), pick(pool["눈썹"]), pick(pool["몸매"])} {
		if part != "" {
			looks = append(looks, part)
		}
	}

	noun := "woman"
	if gender == genderMale {
		noun = "man"
	}
	c.Prompt = fmt.Sprintf("A %s %s in their 30s, %s. Wearing %s. Hair is %s. photorealistic, cinematic lighting.",
		c.Nationality, noun, strings.Join(looks, ", "), pick(chosen.Fashion), pick(chosen.Hair))
	return true
}
