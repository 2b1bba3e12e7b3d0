package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// GeminiConfig configures GeminiGateway.
type GeminiConfig struct {
	APIKey            string
	BaseURL           string
	TextModel         string
	ImageModel        string
	VideoModel        string
	Timeout           time.Duration
	VideoTimeout      time.Duration
	VideoPollInterval time.Duration
}

// GeminiGateway talks to the Gemini REST API for text and images and to Veo for video.
type GeminiGateway struct {
	cfg    GeminiConfig
	client *http.Client
	logger *zap.Logger
}

func NewGeminiGateway(cfg GeminiConfig, logger *zap.Logger) *GeminiGateway {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.VideoTimeout == 0 {
		cfg.VideoTimeout = 10 * time.Minute
	}
	if cfg.VideoPollInterval == 0 {
		cfg.VideoPollInterval = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GeminiGateway{
		cfg:    cfg,
		client: &http.Client{},
		logger: logger.With(zap.String("component", "gemini_gateway")),
	}
}

type geminiInline struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiPart struct {
	Text       string        `json:"text,omitempty"`
	InlineData *geminiInline `json:"inlineData,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiImageConfig struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
}

type geminiGenConfig struct {
	ResponseMimeType   string             `json:"responseMimeType,omitempty"`
	ResponseSchema     *Schema            `json:"responseSchema,omitempty"`
	ResponseModalities []string           `json:"responseModalities,omitempty"`
	ImageConfig        *geminiImageConfig `json:"imageConfig,omitempty"`
}

type geminiRequest struct {
	Contents         []geminiContent  `json:"contents"`
	GenerationConfig *geminiGenConfig `json:"generationConfig,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text       string        `json:"text,omitempty"`
				InlineData *geminiInline `json:"inlineData,omitempty"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback,omitempty"`
}

func userContent(prompt string, images []Image) []geminiContent {
	parts := make([]geminiPart, 0, len(images)+1)
	for _, img := range images {
		parts = append(parts, geminiPart{InlineData: &geminiInline{
			MimeType: mimeOr(img.MimeType, "image/png"),
			Data:     base64.StdEncoding.EncodeToString(img.Data),
		}})
	}
	parts = append(parts, geminiPart{Text: prompt})
	return []geminiContent{{Role: "user", Parts: parts}}
}

// CompleteStructured asks the text model for JSON matching req.Schema.
func (g *GeminiGateway) CompleteStructured(ctx context.Context, req StructuredRequest) StructuredResult {
	body := geminiRequest{
		Contents: userContent(req.Prompt, req.Images),
		GenerationConfig: &geminiGenConfig{
			ResponseMimeType: "application/json",
			ResponseSchema:   req.Schema,
		},
	}
	var resp geminiResponse
	if err := g.generateContent(ctx, g.cfg.TextModel, body, &resp); err != nil {
		return Failed(fmt.Errorf("%s: %w", req.Name, err))
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return Failed(fmt.Errorf("%s: prompt blocked: %s", req.Name, resp.PromptFeedback.BlockReason))
	}
	var text strings.Builder
	if len(resp.Candidates) > 0 {
		for _, p := range resp.Candidates[0].Content.Parts {
			text.WriteString(p.Text)
		}
	}
	raw := json.RawMessage(strings.TrimSpace(stripFence(text.String())))
	if len(raw) == 0 {
		return Mismatch(raw, &MismatchError{Message: "empty response"})
	}
	return Validated(raw, req.Schema)
}

// GenerateImage returns the first inline image of the response, or nil when there is none.
func (g *GeminiGateway) GenerateImage(ctx context.Context, req ImageRequest) (*Image, error) {
	cfg := &geminiGenConfig{ResponseModalities: []string{"TEXT", "IMAGE"}}
	if req.AspectRatio != "" {
		cfg.ImageConfig = &geminiImageConfig{AspectRatio: req.AspectRatio}
	}
	body := geminiRequest{
		Contents:         userContent(req.Prompt, req.References),
		GenerationConfig: cfg,
	}
	var resp geminiResponse
	if err := g.generateContent(ctx, g.cfg.ImageModel, body, &resp); err != nil {
		return nil, err
	}
	for _, c := range resp.Candidates {
		for _, p := range c.Content.Parts {
			if p.InlineData == nil || p.InlineData.Data == "" {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
			if err != nil {
				return nil, fmt.Errorf("decode inline image: %w", err)
			}
			return &Image{MimeType: mimeOr(p.InlineData.MimeType, "image/png"), Data: data}, nil
		}
	}
	g.logger.Debug("image response carried no image", zap.String("label", req.Label))
	return nil, nil
}

func (g *GeminiGateway) generateContent(ctx context.Context, model string, body geminiRequest, out *geminiResponse) error {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()
	url := fmt.Sprintf("%s/models/%s:generateContent", g.cfg.BaseURL, model)
	return g.doJSON(ctx, http.MethodPost, url, body, out)
}

func (g *GeminiGateway) doJSON(ctx context.Context, method, url string, in any, out any) error {
	var reader io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request failed: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("create request failed: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", g.cfg.APIKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("gemini request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return &ProviderError{Provider: "gemini", StatusCode: resp.StatusCode, Body: string(errBody)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode gemini response failed: %w", err)
	}
	return nil
}

func mimeOr(m, def string) string {
	if m == "" {
		return def
	}
	return m
}

// stripFence removes a ```json fence some models wrap around JSON output.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	return strings.TrimSuffix(strings.TrimSpace(s), "```")
}

var errNoVideo = errors.New("operation finished without a generated video")
