package timeline

import (
	"regexp"
	"strings"
)

type RefKind string

const (
	RefCharacter  RefKind = "character"
	RefBackground RefKind = "background"
)

// Ref is an explicit pointer from a shot to a character or a background
// sub image. For backgrounds ID is the group id and Sub the sub image id.
type Ref struct {
	Kind RefKind `json:"kind"`
	ID   string  `json:"id"`
	Sub  string  `json:"sub,omitempty"`
}

// @Name or @Group(Sub). Names are letters, digits and underscores.
var tagPattern = regexp.MustCompile(`@([\p{L}\p{N}_]+)(?:\(([\p{L}\p{N}_]+)\))?`)

var spaces = regexp.MustCompile(`\s{2,}`)

// ParseRefs derives structured references from the legacy inline tags of a
// prompt. Unknown names are skipped.
func ParseRefs(text string, p *Project) []Ref {
	var refs []Ref
	seen := make(map[Ref]bool)
	for _, m := range tagPattern.FindAllStringSubmatch(text, -1) {
		var r Ref
		if m[2] != "" {
			g := p.Background(m[1])
			if g == nil {
				continue
			}
			sub := g.SubByName(m[2])
			if sub == nil {
				continue
			}
			r = Ref{Kind: RefBackground, ID: g.ID, Sub: sub.SubID}
		} else {
			c := p.CharacterByName(m[1])
			if c == nil {
				continue
			}
			r = Ref{Kind: RefCharacter, ID: c.ID}
		}
		if !seen[r] {
			seen[r] = true
			refs = append(refs, r)
		}
	}
	return refs
}

// CleanPrompt removes background tags and the @ of character tags.
func CleanPrompt(text string) string {
	out := tagPattern.ReplaceAllStringFunc(text, func(tag string) string {
		m := tagPattern.FindStringSubmatch(tag)
		if m[2] != "" {
			return ""
		}
		return m[1]
	})
	return strings.TrimSpace(spaces.ReplaceAllString(out, " "))
}

// CharacterIDs returns the set of characters referenced by the shot. The
// explicit refs win; a shot without refs falls back to its prompt tags.
func (s *Shot) CharacterIDs(p *Project) map[string]bool {
	refs := s.Refs
	if len(refs) == 0 {
		refs = ParseRefs(s.ImagePrompt, p)
	}
	ids := make(map[string]bool)
	for _, r := range refs {
		if r.Kind == RefCharacter {
			ids[r.ID] = true
		}
	}
	return ids
}

// Backgrounds returns the background sub images referenced by the shot.
func (s *Shot) Backgrounds(p *Project) []*SubImage {
	refs := s.Refs
	if len(refs) == 0 {
		refs = ParseRefs(s.ImagePrompt, p)
	}
	var out []*SubImage
	for _, r := range refs {
		if r.Kind != RefBackground {
			continue
		}
		if g := p.BackgroundByID(r.ID); g != nil {
			if sub := g.Sub(r.Sub); sub != nil {
				out = append(out, sub)
			}
		}
	}
	return out
}

const WhisperMarker = "(속으로)"

// StripWhisper removes the whisper marker from dialogue text.
func StripWhisper(text string) (string, bool) {
	if !strings.Contains(text, WhisperMarker) {
		return strings.TrimSpace(text), false
	}
	return strings.TrimSpace(strings.ReplaceAll(text, WhisperMarker, "")), true
}
