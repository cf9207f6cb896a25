package generation

import (
	"fmt"
	"strings"
)

const defaultAspectRatio = "9:16"

const storySystemPrompt = `You write scripts for short vertical drama videos.
Break the story into cutscenes. Each cutscene has shots and dialogues.

Rules:
- Every character has an id, name, gender (남성/여성), nationality and an English appearance prompt.
- Narration uses the character id "narrator".
- Define background groups per location with sub images for each detailed view.
- Shot image prompts reference characters as @Name and backgrounds as @GroupName(SubName).
- Dialogue text is Korean. Inner monologue starts with (속으로).

Respond with JSON only:
{
  "title": "string",
  "characters": [{"id": "string", "name": "string", "gender": "string", "nationality": "string", "personality": "string", "prompt": "string"}],
  "backgrounds": [{"groupName": "string", "subImages": [{"subName": "string", "prompt": "string"}]}],
  "cutscenes": [{
    "duration": 0,
    "shots": [{"shotId": 1, "imagePrompt": "string", "videoPrompt": "string"}],
    "dialogues": [{"charId": "string", "text": "string", "ttsPrompt": "string"}]
  }]
}`

const improveSystemPrompt = `You are a script doctor for short drama videos.
Rewrite the script so the hook lands in the first three seconds and every line moves the story.
Keep the language of the original. Return only the improved script.`

func translatePrompt(targetLang string) string {
	if targetLang == "" {
		targetLang = "Korean"
	}
	return fmt.Sprintf("Translate the user's text to %s. Return only the translation.", targetLang)
}

// ImagePrompt is the text sent with an image request.
func ImagePrompt(req ImageRequest) string {
	ratio := req.AspectRatio
	if ratio == "" {
		ratio = defaultAspectRatio
	}
	return fmt.Sprintf("Photorealistic image of %s. captured with a Sony A7 III, 35mm lens at f/1.8, cinematic lighting, dramatic, high detail. The final image MUST have an aspect ratio of %s.",
		strings.TrimSuffix(strings.TrimSpace(req.Prompt), "."), ratio)
}
