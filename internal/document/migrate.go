package document

import (
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/marriagesignal/studio/internal/timeline"
)

const (
	// CurrentVersion is written on every save.
	CurrentVersion = 2.7

	shotsVersion      = 1.4
	bgGroupsVersion   = 2.7
	defaultDocVersion = 1.0
	legacyCutsKey     = "cuts"
	cutsKey           = "cutscenes"
)

// Migrate upgrades a decoded document in place and returns the version it
// was stored with.
func Migrate(doc map[string]any) float64 {
	version := number(doc["version"], defaultDocVersion)

	if _, ok := doc[cutsKey]; !ok {
		if cuts, ok := doc[legacyCutsKey]; ok {
			doc[cutsKey] = cuts
			delete(doc, legacyCutsKey)
		}
	}

	for _, cut := range objects(doc[cutsKey]) {
		if _, hasShots := cut["shots"]; !hasShots {
			if _, flat := cut["imagePrompt"]; flat || version < shotsVersion {
				wrapShot(cut)
			}
		}
		cut["duration"] = number(cut["duration"], 0)
		if _, ok := cut["autoAdjustDuration"]; !ok {
			cut["autoAdjustDuration"] = true
		}
		if _, ok := cut["dialogues"]; !ok {
			cut["dialogues"] = []any{}
		}
	}

	if version < bgGroupsVersion {
		doc["backgrounds"] = groupBackgrounds(objects(doc["backgrounds"]))
	}

	doc["version"] = CurrentVersion
	return version
}

// wrapShot moves the flat image fields of a pre-shot cut into a single
// shot starting at zero.
func wrapShot(cut map[string]any) {
	shot := map[string]any{
		"shotId":      1,
		"imagePrompt": stringValue(cut["imagePrompt"]),
		"startTime":   0,
	}
	if v, ok := cut["videoPrompt"]; ok {
		shot["videoPrompt"] = stringValue(v)
	}
	if v, ok := cut["image"]; ok {
		shot["image"] = stringValue(v)
	}
	delete(cut, "imagePrompt")
	delete(cut, "videoPrompt")
	delete(cut, "image")
	cut["shots"] = []any{shot}
}

func groupBackgrounds(items []map[string]any) []any {
	out := make([]any, 0, len(items))
	for _, bg := range items {
		if _, grouped := bg["groupName"]; grouped {
			out = append(out, bg)
			continue
		}
		id := stringValue(bg["id"])
		if id == "" {
			id = uuid.NewString()
		}
		out = append(out, map[string]any{
			"id":        id,
			"groupName": stringValue(bg["name"]),
			"subImages": []any{map[string]any{
				"subId":   uuid.NewString(),
				"subName": timeline.DefaultSubName,
				"prompt":  stringValue(bg["prompt"]),
				"image":   stringValue(bg["image"]),
			}},
		})
	}
	return out
}

func objects(v any) []map[string]any {
	list, _ := v.([]any)
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// number accepts JSON numbers and numeric strings.
func number(v any, def float64) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
			return f
		}
	}
	return def
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}
