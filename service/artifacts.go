package service

import (
	"context"
	"errors"
	"fmt"

	"PromptToVideo-server/models"
	"PromptToVideo-server/service/gateway"

	"go.uber.org/zap"
)

var errEmptyImage = errors.New("model returned no image")

// reference is a resolved reference image: its handle plus the bytes sent to the model.
type reference struct {
	url string
	img *gateway.Image
}

func urlsOf(refs []reference) []string {
	if len(refs) == 0 {
		return nil
	}
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = r.url
	}
	return out
}

func imagesOf(refs []reference) []gateway.Image {
	if len(refs) == 0 {
		return nil
	}
	out := make([]gateway.Image, len(refs))
	for i, r := range refs {
		out[i] = *r.img
	}
	return out
}

// imager generates one image, stores it under the session prefix and returns the
// artifact with its provenance. One imager serves one invocation.
type imager struct {
	gw        gateway.Gateway
	store     ArtifactStore
	refs      *refCache
	sessionID string
	aspect    string
	logger    *zap.Logger
}

// load resolves a reference handle. Unloadable references are logged and skipped
// so the caller can phrase its prompt around what is actually attached.
func (m *imager) load(ctx context.Context, url string) (reference, bool) {
	if url == "" {
		return reference{}, false
	}
	img, err := m.refs.load(ctx, url)
	if err != nil {
		m.logger.Warn("reference image unavailable", zap.String("ref", truncateRef(url)), zap.Error(err))
		return reference{}, false
	}
	return reference{url: url, img: img}, true
}

func (m *imager) generate(ctx context.Context, label, object, prompt string, refs []reference) (models.ImageArtifact, *gateway.Image, error) {
	img, err := m.gw.GenerateImage(ctx, gateway.ImageRequest{
		Label:       label,
		Prompt:      prompt,
		References:  imagesOf(refs),
		AspectRatio: m.aspect,
	})
	if err != nil {
		return models.ImageArtifact{}, nil, err
	}
	if img == nil || len(img.Data) == 0 {
		return models.ImageArtifact{}, nil, errEmptyImage
	}
	if img.MimeType == "" {
		img.MimeType = "image/png"
	}
	ref, err := m.store.Put(ctx, m.objectName(object, img.MimeType), img.Data, img.MimeType)
	if err != nil {
		return models.ImageArtifact{}, nil, fmt.Errorf("store %s: %w", label, err)
	}
	m.refs.remember(ref, img)
	return models.ImageArtifact{URL: ref, References: urlsOf(refs)}, img, nil
}

func (m *imager) objectName(object, mime string) string {
	return fmt.Sprintf("sessions/%s/%s%s", m.sessionID, object, extensionFor(mime))
}

// truncateRef keeps data URIs out of the logs.
func truncateRef(ref string) string {
	if len(ref) > 96 {
		return ref[:96] + "..."
	}
	return ref
}
