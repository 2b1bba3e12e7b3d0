package gateway

import (
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

type veoImage struct {
	BytesBase64Encoded string `json:"bytesBase64Encoded"`
	MimeType           string `json:"mimeType"`
}

type veoInstance struct {
	Prompt string    `json:"prompt"`
	Image  *veoImage `json:"image,omitempty"`
}

type veoParams struct {
	AspectRatio     string `json:"aspectRatio,omitempty"`
	DurationSeconds int    `json:"durationSeconds,omitempty"`
	Resolution      string `json:"resolution,omitempty"`
	GenerateAudio   bool   `json:"generateAudio,omitempty"`
}

type veoRequest struct {
	Instances  []veoInstance `json:"instances"`
	Parameters veoParams     `json:"parameters"`
}

type veoOperation struct {
	Name     string `json:"name"`
	Done     bool   `json:"done"`
	Response *struct {
		GenerateVideoResponse struct {
			GeneratedSamples []struct {
				Video struct {
					URI      string `json:"uri"`
					MimeType string `json:"mimeType,omitempty"`
				} `json:"video"`
			} `json:"generatedSamples"`
			RaiMediaFilteredReasons []string `json:"raiMediaFilteredReasons,omitempty"`
		} `json:"generateVideoResponse"`
	} `json:"response,omitempty"`
	Error *struct {
		Code    int             `json:"code"`
		Message string          `json:"message"`
		Details json.RawMessage `json:"details,omitempty"`
	} `json:"error,omitempty"`
}

// GenerateVideo submits a Veo long-running operation, polls it to completion and
// downloads the first generated sample. The first reference image, if any, is used
// as the starting frame.
func (g *GeminiGateway) GenerateVideo(ctx context.Context, req VideoRequest) (*Video, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.VideoTimeout)
	defer cancel()

	inst := veoInstance{Prompt: req.Prompt}
	if len(req.References) > 0 {
		ref := req.References[0]
		inst.Image = &veoImage{
			BytesBase64Encoded: base64.StdEncoding.EncodeToString(ref.Data),
			MimeType:           mimeOr(ref.MimeType, "image/png"),
		}
	}
	body := veoRequest{
		Instances: []veoInstance{inst},
		Parameters: veoParams{
			AspectRatio:     req.AspectRatio,
			DurationSeconds: req.DurationSeconds,
			Resolution:      req.Resolution,
			GenerateAudio:   req.GenerateAudio,
		},
	}

	var op veoOperation
	url := fmt.Sprintf("%s/models/%s:predictLongRunning", g.cfg.BaseURL, g.cfg.VideoModel)
	if err := g.doJSON(ctx, http.MethodPost, url, body, &op); err != nil {
		return nil, fmt.Errorf("submit video %s: %w", req.Label, err)
	}
	if op.Name == "" && !op.Done {
		return nil, fmt.Errorf("submit video %s: response missing operation name", req.Label)
	}
	g.logger.Info("video operation submitted", zap.String("label", req.Label), zap.String("operation", op.Name))

	done, err := g.pollOperation(ctx, op)
	if err != nil {
		return nil, fmt.Errorf("video %s: %w", req.Label, err)
	}
	return g.downloadSample(ctx, done)
}

func (g *GeminiGateway) pollOperation(ctx context.Context, op veoOperation) (*veoOperation, error) {
	ticker := time.NewTicker(g.cfg.VideoPollInterval)
	defer ticker.Stop()

	for !op.Done {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("polling operation %s: %w", op.Name, ctx.Err())
		case <-ticker.C:
			var next veoOperation
			url := fmt.Sprintf("%s/%s", g.cfg.BaseURL, strings.TrimLeft(op.Name, "/"))
			if err := g.doJSON(ctx, http.MethodGet, url, nil, &next); err != nil {
				// 5xx while polling is transient; anything else is final
				var pe *ProviderError
				if errors.As(err, &pe) && pe.StatusCode < 500 {
					return nil, err
				}
				g.logger.Warn("poll video operation failed, retrying", zap.String("operation", op.Name), zap.Error(err))
				continue
			}
			if next.Name == "" {
				next.Name = op.Name
			}
			op = next
		}
	}
	if op.Error != nil {
		return nil, &OperationError{Operation: op.Name, Code: op.Error.Code, Message: op.Error.Message, Details: op.Error.Details}
	}
	return &op, nil
}

func (g *GeminiGateway) downloadSample(ctx context.Context, op *veoOperation) (*Video, error) {
	if op.Response == nil || len(op.Response.GenerateVideoResponse.GeneratedSamples) == 0 {
		msg := errNoVideo.Error()
		if op.Response != nil && len(op.Response.GenerateVideoResponse.RaiMediaFilteredReasons) > 0 {
			msg = "filtered: " + strings.Join(op.Response.GenerateVideoResponse.RaiMediaFilteredReasons, "; ")
		}
		return nil, &OperationError{Operation: op.Name, Message: msg}
	}
	sample := op.Response.GenerateVideoResponse.GeneratedSamples[0].Video
	if sample.URI == "" {
		return nil, &OperationError{Operation: op.Name, Message: errNoVideo.Error()}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, sample.URI, nil)
	if err != nil {
		return nil, fmt.Errorf("create download request failed: %w", err)
	}
	httpReq.Header.Set("x-goog-api-key", g.cfg.APIKey)
	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("download video failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, &ProviderError{Provider: "veo", StatusCode: resp.StatusCode, Body: string(errBody)}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read video body failed: %w", err)
	}
	return &Video{MimeType: mimeOr(sample.MimeType, "video/mp4"), Data: data, URI: sample.URI}, nil
}
