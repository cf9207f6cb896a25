package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/marriagesignal/studio/internal/timeline"
)

type storyCharacter struct {
	ID          string `json:"id" jsonschema_description:"Stable id such as character_1; use narrator for narration"`
	Name        string `json:"name" jsonschema_description:"Korean display name without spaces"`
	Gender      string `json:"gender" jsonschema_description:"남성 or 여성"`
	Nationality string `json:"nationality" jsonschema_description:"Nationality in Korean, e.g. 한국"`
	Personality string `json:"personality" jsonschema_description:"Comma separated personality keywords"`
	Prompt      string `json:"prompt" jsonschema_description:"English appearance description for a reference portrait"`
}

type storySubImage struct {
	SubName string `json:"subName" jsonschema_description:"Detailed view of the location, e.g. 거실_소파"`
	Prompt  string `json:"prompt" jsonschema_description:"English description of the view"`
}

type storyBackground struct {
	GroupName string          `json:"groupName" jsonschema_description:"Location name without spaces"`
	SubImages []storySubImage `json:"subImages"`
}

type storyShot struct {
	ShotID      int    `json:"shotId"`
	ImagePrompt string `json:"imagePrompt" jsonschema_description:"English prompt referencing @Name and @GroupName(SubName)"`
	VideoPrompt string `json:"videoPrompt" jsonschema_description:"Camera movement for the shot"`
}

type storyDialogue struct {
	CharID    string `json:"charId"`
	Text      string `json:"text" jsonschema_description:"Korean line; prefix inner monologue with (속으로)"`
	TTSPrompt string `json:"ttsPrompt" jsonschema_description:"How the line should be delivered"`
}

type storyCut struct {
	Duration  float64         `json:"duration" jsonschema_description:"Approximate duration in seconds"`
	Shots     []storyShot     `json:"shots"`
	Dialogues []storyDialogue `json:"dialogues"`
}

type storyResponse struct {
	Title       string            `json:"title"`
	Characters  []storyCharacter  `json:"characters"`
	Backgrounds []storyBackground `json:"backgrounds"`
	Cutscenes   []storyCut        `json:"cutscenes"`
}

// GenerateSchema reflects a strict JSON schema for structured outputs.
func GenerateSchema[T any]() any {
	reflector := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	return reflector.Reflect(v)
}

var storyResponseSchema = GenerateSchema[storyResponse]()

// OpenAIStoryClient writes stories and text with OpenAI chat completions
// and hands images and speech to another client.
type OpenAIStoryClient struct {
	client openai.Client
	model  openai.ChatModel
	media  Client
	logger *slog.Logger
}

func NewOpenAIStoryClient(apiKey string, media Client, logger *slog.Logger, opts ...option.RequestOption) *OpenAIStoryClient {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &OpenAIStoryClient{
		client: openai.NewClient(opts...),
		model:  openai.ChatModelGPT4oMini,
		media:  media,
		logger: logger,
	}
}

func (c *OpenAIStoryClient) GenerateStory(ctx context.Context, req StoryRequest) (*timeline.Project, error) {
	prompt := fmt.Sprintf("주제 키워드: %q, 영상 길이: %d초.\n\n참고 대본/사연:\n%s", req.Keywords, req.DurationSeconds, req.ReferenceScript)
	payload, _ := json.Marshal(req)

	completion, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(storySystemPrompt),
			openai.UserMessage(prompt),
		},
		Model: c.model,
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:        "story",
					Description: openai.String("Short drama script broken into cutscenes"),
					Schema:      storyResponseSchema,
					Strict:      openai.Bool(true),
				},
			},
		},
	})
	if err != nil {
		return nil, openAIError("story generation", err, payload)
	}
	if len(completion.Choices) == 0 {
		return nil, &GenerationError{Op: "story generation", Body: "no choices in response", Payload: payload}
	}
	return decodeStory("story generation", completion.Choices[0].Message.Content, payload)
}

func (c *OpenAIStoryClient) Translate(ctx context.Context, text, targetLang string) (string, error) {
	return c.complete(ctx, "translation", translatePrompt(targetLang), text)
}

func (c *OpenAIStoryClient) ImproveScript(ctx context.Context, keywords, script string) (string, error) {
	return c.complete(ctx, "script improvement", improveSystemPrompt, fmt.Sprintf("키워드: %s\n\n대본:\n%s", keywords, script))
}

func (c *OpenAIStoryClient) GenerateImage(ctx context.Context, req ImageRequest) (string, error) {
	if c.media == nil {
		return "", &GenerationError{Op: "image generation", Body: "no media client configured"}
	}
	return c.media.GenerateImage(ctx, req)
}

func (c *OpenAIStoryClient) GenerateSpeech(ctx context.Context, prompt, voice string) ([]byte, error) {
	if c.media == nil {
		return nil, &GenerationError{Op: "speech generation", Body: "no media client configured"}
	}
	return c.media.GenerateSpeech(ctx, prompt, voice)
}

func (c *OpenAIStoryClient) complete(ctx context.Context, op, system, user string) (string, error) {
	completion, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		Model: c.model,
	})
	if err != nil {
		return "", openAIError(op, err, []byte(user))
	}
	if len(completion.Choices) == 0 {
		return "", &GenerationError{Op: op, Body: "no choices in response", Payload: []byte(user)}
	}
	return strings.TrimSpace(completion.Choices[0].Message.Content), nil
}

func openAIError(op string, err error, payload []byte) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &GenerationError{Op: op, StatusCode: apiErr.StatusCode, Body: apiErr.Message, Payload: payload, Err: err}
	}
	return &GenerationError{Op: op, Err: err, Payload: payload}
}
