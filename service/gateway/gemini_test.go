package gateway

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestGateway(t *testing.T, handler http.HandlerFunc) *GeminiGateway {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewGeminiGateway(GeminiConfig{
		APIKey:            "test-key",
		BaseURL:           srv.URL + "/",
		TextModel:         "text-model",
		ImageModel:        "image-model",
		VideoModel:        "video-model",
		VideoPollInterval: 5 * time.Millisecond,
		VideoTimeout:      5 * time.Second,
	}, zap.NewNop())
}

func textResponse(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"candidates": []any{map[string]any{
			"content": map[string]any{"parts": []any{map[string]any{"text": text}}},
		}},
	})
}

func TestGemini_CompleteStructured(t *testing.T) {
	schema := Object(map[string]*Schema{"title": String()}, "title")

	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/text-model:generateContent", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))

		var body geminiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.NotNil(t, body.GenerationConfig)
		assert.Equal(t, "application/json", body.GenerationConfig.ResponseMimeType)
		assert.Equal(t, TypeObject, body.GenerationConfig.ResponseSchema.Type)
		parts := body.Contents[0].Parts
		require.Len(t, parts, 2)
		assert.Equal(t, "image/jpeg", parts[0].InlineData.MimeType)
		assert.Equal(t, "write a concept", parts[1].Text)

		textResponse(w, "```json\n{\"title\":\"Frog Café\"}\n```")
	})

	res := gw.CompleteStructured(t.Context(), StructuredRequest{
		Name:   "concept",
		Prompt: "write a concept",
		Schema: schema,
		Images: []Image{{MimeType: "image/jpeg", Data: []byte{1, 2, 3}}},
	})
	require.Equal(t, ResultOK, res.Kind, res.Err())
	var out struct{ Title string }
	require.NoError(t, res.Decode(&out))
	assert.Equal(t, "Frog Café", out.Title)
}

func TestGemini_CompleteStructuredMismatch(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		textResponse(w, `{"name":"x"}`)
	})
	res := gw.CompleteStructured(t.Context(), StructuredRequest{
		Name:   "concept",
		Schema: Object(map[string]*Schema{"title": String()}, "title"),
	})
	assert.Equal(t, ResultSchemaMismatch, res.Kind)
	assert.JSONEq(t, `{"name":"x"}`, string(res.Value))
}

func TestGemini_CompleteStructuredProviderError(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"code":429,"message":"quota exceeded"}}`)
	})
	res := gw.CompleteStructured(t.Context(), StructuredRequest{Name: "shot_plan"})
	require.Equal(t, ResultProviderError, res.Kind)
	assert.Equal(t, "rate_limited", res.Report.Type)
	assert.Equal(t, "quota exceeded", res.Report.Summary)
	assert.Equal(t, 429, *res.Report.StatusCode)
}

func TestGemini_GenerateImage(t *testing.T) {
	png := []byte("\x89PNG fake")
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/image-model:generateContent", r.URL.Path)
		var body geminiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []string{"TEXT", "IMAGE"}, body.GenerationConfig.ResponseModalities)
		assert.Equal(t, "16:9", body.GenerationConfig.ImageConfig.AspectRatio)

		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []any{map[string]any{
				"content": map[string]any{"parts": []any{
					map[string]any{"text": "here you go"},
					map[string]any{"inlineData": map[string]any{"mimeType": "image/png", "data": base64.StdEncoding.EncodeToString(png)}},
				}},
			}},
		})
	})

	img, err := gw.GenerateImage(t.Context(), ImageRequest{Label: "portrait", Prompt: "a frog", AspectRatio: "16:9"})
	require.NoError(t, err)
	require.NotNil(t, img)
	assert.Equal(t, "image/png", img.MimeType)
	assert.Equal(t, png, img.Data)
}

func TestGemini_GenerateImageWithoutImage(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		textResponse(w, "I cannot draw that")
	})
	img, err := gw.GenerateImage(t.Context(), ImageRequest{Label: "frame"})
	assert.NoError(t, err)
	assert.Nil(t, img)
}

func TestGemini_GenerateVideoPollsAndDownloads(t *testing.T) {
	var polls atomic.Int32
	var srvURL string
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/models/video-model:predictLongRunning":
			var body veoRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, 6, body.Parameters.DurationSeconds)
			require.NotNil(t, body.Instances[0].Image)
			fmt.Fprint(w, `{"name":"operations/op-1"}`)
		case "/operations/op-1":
			if polls.Add(1) < 3 {
				fmt.Fprint(w, `{"name":"operations/op-1","done":false}`)
				return
			}
			fmt.Fprintf(w, `{"name":"operations/op-1","done":true,"response":{"generateVideoResponse":{"generatedSamples":[{"video":{"uri":"%s/files/clip"}}]}}}`, srvURL)
		case "/files/clip":
			assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
			w.Write([]byte("mp4-bytes"))
		default:
			http.NotFound(w, r)
		}
	})
	srvURL = gw.cfg.BaseURL

	video, err := gw.GenerateVideo(t.Context(), VideoRequest{
		Label:           "shot-1",
		Prompt:          "frog sips coffee",
		References:      []Image{{MimeType: "image/png", Data: []byte("frame")}},
		DurationSeconds: 6,
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("mp4-bytes"), video.Data)
	assert.Equal(t, "video/mp4", video.MimeType)
	assert.Equal(t, int32(3), polls.Load())
}

func TestGemini_GenerateVideoOperationError(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/models/video-model:predictLongRunning":
			fmt.Fprint(w, `{"name":"operations/op-2"}`)
		default:
			fmt.Fprint(w, `{"name":"operations/op-2","done":true,"error":{"code":3,"message":"prompt rejected"}}`)
		}
	})

	_, err := gw.GenerateVideo(t.Context(), VideoRequest{Label: "shot-2", Prompt: "x"})
	require.Error(t, err)
	var oe *OperationError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, "prompt rejected", oe.Message)
	assert.Equal(t, "operation_error", Normalize(err).Type)
}
