package generation

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marriagesignal/studio/internal/timeline"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func geminiServer(t *testing.T, handler func(model string, req generateRequest) (int, any)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-goog-api-key") != "test-key" {
			t.Errorf("missing api key header")
		}
		model := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v1beta/models/"), ":generateContent")
		body, _ := io.ReadAll(r.Body)
		var req generateRequest
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		status, resp := handler(model, req)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if s, ok := resp.(string); ok {
			io.WriteString(w, s)
			return
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func textResponse(text string) generateResponse {
	return generateResponse{Candidates: []candidate{{Content: content{Parts: []part{{Text: text}}}}}}
}

func TestGeminiGenerateStory(t *testing.T) {
	story := `{"title":"비밀","characters":[{"id":"character_1","name":"민수"}],
	  "backgrounds":[{"groupName":"집","subImages":[{"subName":"거실","prompt":"living room"}]}],
	  "cutscenes":[{"duration":5,"shots":[{"shotId":1,"imagePrompt":"@집(거실) @민수"}],"dialogues":[{"charId":"character_1","text":"안녕"}]}]}`

	var gotReq generateRequest
	var gotModel string
	srv := geminiServer(t, func(model string, req generateRequest) (int, any) {
		gotModel, gotReq = model, req
		return http.StatusOK, textResponse("```json\n" + story + "\n```")
	})
	defer srv.Close()

	c := NewGeminiClient(srv.URL, "test-key", testLogger())
	p, err := c.GenerateStory(context.Background(), StoryRequest{Keywords: "비밀 연애", DurationSeconds: 60})
	require.NoError(t, err)

	assert.Equal(t, DefaultModels.Story, gotModel)
	require.NotNil(t, gotReq.SystemInstruction)
	assert.Equal(t, "application/json", gotReq.GenerationConfig.ResponseMimeType)
	assert.Contains(t, gotReq.Contents[0].Parts[0].Text, "비밀 연애")

	assert.Equal(t, "비밀", p.Title)
	require.Len(t, p.Cuts, 1)
	assert.True(t, p.Cuts[0].AutoAdjustDuration)
	assert.NotEmpty(t, p.Cuts[0].Dialogues[0].ID)
	assert.NotEmpty(t, p.Backgrounds[0].ID)
	assert.NotNil(t, p.Character(timeline.NarratorID))
}

func TestGeminiGenerateStoryMissingFields(t *testing.T) {
	srv := geminiServer(t, func(string, generateRequest) (int, any) {
		return http.StatusOK, textResponse(`{"title":"빈 이야기","characters":[],"cutscenes":[]}`)
	})
	defer srv.Close()

	_, err := NewGeminiClient(srv.URL, "test-key", testLogger()).GenerateStory(context.Background(), StoryRequest{Keywords: "x"})
	var genErr *GenerationError
	require.True(t, errors.As(err, &genErr))
	assert.Equal(t, "story generation", genErr.Op)
	assert.NotEmpty(t, genErr.Payload)
}

func TestDecodeStoryTellsMissingPauseFromZero(t *testing.T) {
	text := "```json\n" + `{"title":"재회","characters":[{"id":"c1","name":"민수"}],"cutscenes":[{"shots":[{"shotId":1}],"dialogues":[
		{"charId":"c1","text":"왔어?","postDelay":0},
		{"charId":"c1","text":"응."}
	]}]}` + "\n```"

	p, err := decodeStory("story generation", text, nil)
	require.NoError(t, err)
	ds := p.Cuts[0].Dialogues
	assert.Equal(t, 0.0, ds[0].PostDelay)
	assert.False(t, ds[0].PostDelayMissing)
	assert.True(t, ds[1].PostDelayMissing)
}

func TestGeminiGenerateImage(t *testing.T) {
	var gotReq generateRequest
	srv := geminiServer(t, func(model string, req generateRequest) (int, any) {
		gotReq = req
		return http.StatusOK, generateResponse{Candidates: []candidate{{Content: content{Parts: []part{
			{Text: "here you go"},
			{InlineData: &inlineData{MimeType: "image/png", Data: "iVBORw0KGgo="}},
		}}}}}
	})
	defer srv.Close()

	c := NewGeminiClient(srv.URL, "test-key", testLogger())
	img, err := c.GenerateImage(context.Background(), ImageRequest{
		Prompt:         "민수 at the window",
		CharacterRefs:  []string{"data:image/png;base64,AAAA", "https://example.com/not-inline.png"},
		BackgroundRefs: []string{"data:image/jpeg;base64,BBBB"},
		Previous:       "data:image/png;base64,CCCC",
	})
	require.NoError(t, err)
	assert.Equal(t, "data:image/png;base64,iVBORw0KGgo=", img)

	parts := gotReq.Contents[0].Parts
	require.Len(t, parts, 4)
	assert.Contains(t, parts[0].Text, "Photorealistic image of 민수 at the window")
	assert.Contains(t, parts[0].Text, "9:16")
	assert.Equal(t, "CCCC", parts[1].InlineData.Data)
	assert.Equal(t, "image/jpeg", parts[2].InlineData.MimeType)
	assert.Equal(t, "AAAA", parts[3].InlineData.Data)
	assert.Equal(t, []string{"IMAGE"}, gotReq.GenerationConfig.ResponseModalities)
}

func TestGeminiGenerateSpeech(t *testing.T) {
	pcm := []byte{1, 0, 2, 0, 3, 0}
	var gotReq generateRequest
	srv := geminiServer(t, func(model string, req generateRequest) (int, any) {
		gotReq = req
		return http.StatusOK, generateResponse{Candidates: []candidate{{Content: content{Parts: []part{
			{InlineData: &inlineData{MimeType: "audio/L16;rate=24000", Data: base64.StdEncoding.EncodeToString(pcm)}},
		}}}}}
	})
	defer srv.Close()

	got, err := NewGeminiClient(srv.URL, "test-key", testLogger()).GenerateSpeech(context.Background(), `Say this clearly: "안녕"`, "Kore")
	require.NoError(t, err)
	assert.Equal(t, pcm, got)
	assert.Equal(t, "Kore", gotReq.GenerationConfig.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName)
}

func TestGeminiErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      any
		wantCode  int
		retryable bool
	}{
		{"server error", http.StatusServiceUnavailable, `{"error":"overloaded"}`, 503, true},
		{"rate limited", http.StatusTooManyRequests, `{"error":"slow down"}`, 429, true},
		{"bad request", http.StatusBadRequest, `{"error":"bad"}`, 400, false},
		{"malformed json", http.StatusOK, `{not json`, 0, false},
		{"no audio", http.StatusOK, textResponse("only text"), 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := geminiServer(t, func(string, generateRequest) (int, any) { return tt.status, tt.body })
			defer srv.Close()

			_, err := NewGeminiClient(srv.URL, "test-key", testLogger()).GenerateSpeech(context.Background(), "p", "Kore")
			var genErr *GenerationError
			require.True(t, errors.As(err, &genErr), "got %v", err)
			assert.Equal(t, tt.wantCode, genErr.StatusCode)
			assert.Equal(t, tt.retryable, genErr.IsRetryable())
			assert.Contains(t, string(genErr.Payload), "Kore")
		})
	}
}

func TestStubClient(t *testing.T) {
	c := NewStubClient(nil)
	ctx := context.Background()

	p, err := c.GenerateStory(ctx, StoryRequest{Keywords: "첫사랑"})
	require.NoError(t, err)
	assert.Equal(t, "첫사랑", p.Title)
	assert.Len(t, p.Cuts, 2)

	a, _ := c.GenerateImage(ctx, ImageRequest{Prompt: "x"})
	b, _ := c.GenerateImage(ctx, ImageRequest{Prompt: "x"})
	assert.Equal(t, a, b)
	assert.True(t, strings.HasPrefix(a, "data:image/png;base64,"))

	pcm, err := c.GenerateSpeech(ctx, "열 글자짜리 문장입니다", "Kore")
	require.NoError(t, err)
	assert.Equal(t, 0, len(pcm)%2)
	assert.NotEmpty(t, pcm)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = c.GenerateSpeech(cancelled, "x", "Kore")
	assert.ErrorIs(t, err, context.Canceled)
}
