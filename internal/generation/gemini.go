package generation

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/marriagesignal/studio/internal/document"
	"github.com/marriagesignal/studio/internal/timeline"
)

const (
	DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com"

	maxResponseBytes = 64 << 20
	maxErrorBody     = 4096
)

type Models struct {
	Story  string
	Text   string
	Image  string
	Speech string
}

var DefaultModels = Models{
	Story:  "gemini-2.5-flash-preview-05-20",
	Text:   "gemini-2.5-flash-preview-05-20",
	Image:  "gemini-2.5-flash-image-preview",
	Speech: "gemini-2.5-flash-preview-tts",
}

// GeminiClient calls the generateContent REST endpoint. It sets no request
// timeout of its own; callers bound calls through the context.
type GeminiClient struct {
	baseURL    string
	apiKey     string
	models     Models
	httpClient *http.Client
	logger     *slog.Logger
}

func NewGeminiClient(baseURL, apiKey string, logger *slog.Logger) *GeminiClient {
	if baseURL == "" {
		baseURL = DefaultGeminiBaseURL
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &GeminiClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		models:     DefaultModels,
		httpClient: &http.Client{},
		logger:     logger,
	}
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type generationConfig struct {
	ResponseMimeType   string        `json:"responseMimeType,omitempty"`
	ResponseModalities []string      `json:"responseModalities,omitempty"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type generateRequest struct {
	Contents          []content         `json:"contents"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type candidate struct {
	Content      content `json:"content"`
	FinishReason string  `json:"finishReason,omitempty"`
}

type generateResponse struct {
	Candidates []candidate `json:"candidates"`
}

func (r *generateResponse) firstPart(match func(part) bool) (part, bool) {
	for _, c := range r.Candidates {
		for _, p := range c.Content.Parts {
			if match(p) {
				return p, true
			}
		}
	}
	return part{}, false
}

func (c *GeminiClient) GenerateStory(ctx context.Context, req StoryRequest) (*timeline.Project, error) {
	prompt := fmt.Sprintf("주제 키워드: %q, 영상 길이: %d초.\n\n참고 대본/사연:\n%s", req.Keywords, req.DurationSeconds, req.ReferenceScript)
	body := generateRequest{
		Contents:          []content{{Parts: []part{{Text: prompt}}}},
		SystemInstruction: &content{Parts: []part{{Text: storySystemPrompt}}},
		GenerationConfig:  &generationConfig{ResponseMimeType: "application/json"},
	}
	text, payload, err := c.generateText(ctx, "story generation", c.models.Story, body)
	if err != nil {
		return nil, err
	}
	return decodeStory("story generation", text, payload)
}

func (c *GeminiClient) GenerateImage(ctx context.Context, req ImageRequest) (string, error) {
	var parts []part
	for _, ref := range append(append([]string{req.Previous}, req.BackgroundRefs...), req.CharacterRefs...) {
		if p, ok := imagePart(ref); ok {
			parts = append(parts, p)
		}
	}
	parts = append([]part{{Text: ImagePrompt(req)}}, parts...)

	body := generateRequest{
		Contents:         []content{{Parts: parts}},
		GenerationConfig: &generationConfig{ResponseModalities: []string{"IMAGE"}},
	}
	resp, payload, err := c.call(ctx, "image generation", c.models.Image, body)
	if err != nil {
		return "", err
	}
	img, ok := resp.firstPart(func(p part) bool { return p.InlineData != nil && p.InlineData.Data != "" })
	if !ok {
		return "", &GenerationError{Op: "image generation", Body: "no image data in response", Payload: payload}
	}
	mime := img.InlineData.MimeType
	if mime == "" {
		mime = "image/png"
	}
	return "data:" + mime + ";base64," + img.InlineData.Data, nil
}

func (c *GeminiClient) GenerateSpeech(ctx context.Context, prompt, voice string) ([]byte, error) {
	body := generateRequest{
		Contents: []content{{Parts: []part{{Text: prompt}}}},
		GenerationConfig: &generationConfig{
			ResponseModalities: []string{"AUDIO"},
			SpeechConfig: &speechConfig{VoiceConfig: voiceConfig{
				PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: voice},
			}},
		},
	}
	resp, payload, err := c.call(ctx, "speech generation", c.models.Speech, body)
	if err != nil {
		return nil, err
	}
	audio, ok := resp.firstPart(func(p part) bool { return p.InlineData != nil && p.InlineData.Data != "" })
	if !ok {
		return nil, &GenerationError{Op: "speech generation", Body: "no audio data in response", Payload: payload}
	}
	pcm, err := base64.StdEncoding.DecodeString(audio.InlineData.Data)
	if err != nil {
		return nil, &GenerationError{Op: "speech generation", Err: fmt.Errorf("decode audio: %w", err), Payload: payload}
	}
	return pcm, nil
}

func (c *GeminiClient) Translate(ctx context.Context, text, targetLang string) (string, error) {
	body := generateRequest{
		Contents:          []content{{Parts: []part{{Text: text}}}},
		SystemInstruction: &content{Parts: []part{{Text: translatePrompt(targetLang)}}},
	}
	text, _, err := c.generateText(ctx, "translation", c.models.Text, body)
	return strings.TrimSpace(text), err
}

func (c *GeminiClient) ImproveScript(ctx context.Context, keywords, script string) (string, error) {
	body := generateRequest{
		Contents:          []content{{Parts: []part{{Text: fmt.Sprintf("키워드: %s\n\n대본:\n%s", keywords, script)}}}},
		SystemInstruction: &content{Parts: []part{{Text: improveSystemPrompt}}},
	}
	text, _, err := c.generateText(ctx, "script improvement", c.models.Text, body)
	return strings.TrimSpace(text), err
}

func (c *GeminiClient) generateText(ctx context.Context, op, model string, body generateRequest) (string, []byte, error) {
	resp, payload, err := c.call(ctx, op, model, body)
	if err != nil {
		return "", payload, err
	}
	p, ok := resp.firstPart(func(p part) bool { return p.Text != "" })
	if !ok {
		return "", payload, &GenerationError{Op: op, Body: "no text in response", Payload: payload}
	}
	return p.Text, payload, nil
}

func (c *GeminiClient) call(ctx context.Context, op, model string, body generateRequest) (*generateResponse, []byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal %s request: %w", op, err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, url.PathEscape(model))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, payload, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	c.logger.Debug("calling generation api", "op", op, "model", model, "body_bytes", len(payload))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, payload, &GenerationError{Op: op, Err: err, Payload: payload}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, payload, &GenerationError{Op: op, StatusCode: resp.StatusCode, Body: string(errBody), Payload: payload}
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, payload, &GenerationError{Op: op, Err: fmt.Errorf("read response: %w", err), Payload: payload}
	}
	var out generateResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, payload, &GenerationError{Op: op, Err: fmt.Errorf("malformed response: %w", err), Body: truncate(string(respBody), maxErrorBody), Payload: payload}
	}
	return &out, payload, nil
}

func imagePart(dataURL string) (part, bool) {
	if !strings.HasPrefix(dataURL, "data:image") {
		return part{}, false
	}
	meta, data, ok := strings.Cut(dataURL, ",")
	if !ok || data == "" {
		return part{}, false
	}
	mime := strings.TrimSuffix(strings.TrimPrefix(meta, "data:"), ";base64")
	return part{InlineData: &inlineData{MimeType: mime, Data: data}}, true
}

// decodeStory turns the story JSON produced by a model into a project. The
// response must carry characters and cuts.
func decodeStory(op, text string, payload []byte) (*timeline.Project, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimSuffix(strings.TrimPrefix(text, "```"), "```")

	res, err := document.Unmarshal([]byte(text))
	if err != nil {
		return nil, &GenerationError{Op: op, Err: err, Body: truncate(text, maxErrorBody), Payload: payload}
	}
	p := res.Project
	if len(p.Cuts) == 0 || len(p.Characters) <= 1 {
		return nil, &GenerationError{Op: op, Body: "story is missing characters or cuts", Payload: payload}
	}
	return p, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
