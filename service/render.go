package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"PromptToVideo-server/models"
	"PromptToVideo-server/service/gateway"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const stageVideo = "video"

// RenderFailure is a single shot's failed render.
type RenderFailure struct {
	ShotIndex int
	Report    gateway.Report
}

func (f *RenderFailure) Error() string {
	return fmt.Sprintf("render shot %d: %s", f.ShotIndex, f.Report.Error())
}

// RenderOptions are passed through to the video model.
type RenderOptions struct {
	Resolution    string `json:"resolution,omitempty" validate:"omitempty,oneof=720p 1080p"`
	GenerateAudio bool   `json:"generateAudio,omitempty"`
}

// Renderer turns shots into clips. Shots are independent of each other, so RenderAll
// runs them concurrently up to limit.
type Renderer struct {
	img      *imager
	recorder Recorder
	em       *Emitter
	concept  *models.Concept
	opts     RenderOptions
	limit    int
}

// Render renders one shot, using its storyboard frame (if any) as the starting image.
func (r *Renderer) Render(ctx context.Context, shot models.Shot, frameURL string) (models.Clip, error) {
	var refs []reference
	if ref, ok := r.img.load(ctx, frameURL); ok {
		refs = append(refs, ref)
	}
	prompt := videoPrompt(r.concept, shot)
	video, err := r.img.gw.GenerateVideo(ctx, gateway.VideoRequest{
		Label:           fmt.Sprintf("shot-%d", shot.Index),
		Prompt:          prompt,
		References:      imagesOf(refs),
		AspectRatio:     r.img.aspect,
		DurationSeconds: shot.Duration,
		Resolution:      r.opts.Resolution,
		GenerateAudio:   r.opts.GenerateAudio,
	})
	if err == nil && video == nil {
		err = errors.New("model returned no video")
	}
	if err != nil {
		return models.Clip{}, &RenderFailure{ShotIndex: shot.Index, Report: gateway.Normalize(err)}
	}

	url := video.URI
	if len(video.Data) > 0 {
		mime := mimeOrDefault(video.MimeType, "video/mp4")
		url, err = r.img.store.Put(ctx, r.img.objectName(fmt.Sprintf("clips/shot-%d", shot.Index), mime), video.Data, mime)
		if err != nil {
			return models.Clip{}, &RenderFailure{ShotIndex: shot.Index, Report: gateway.Normalize(fmt.Errorf("store clip: %w", err))}
		}
	}
	clip := models.Clip{ShotIndex: shot.Index, URL: url, Prompt: prompt}
	r.record(ctx, clip, urlsOf(refs))
	return clip, nil
}

// record failures are logged only; the clip already exists.
func (r *Renderer) record(ctx context.Context, clip models.Clip, refs []string) {
	if r.recorder == nil {
		return
	}
	err := r.recorder.RecordArtifact(ctx, r.img.sessionID, clip.ShotIndex, ArtifactRef{URL: clip.URL, Prompt: clip.Prompt, References: refs})
	if err != nil {
		r.img.logger.Warn("record artifact failed", zap.Int("shot_index", clip.ShotIndex), zap.Error(err))
	}
}

// RenderAll renders every shot and returns clips aligned with shots plus the sorted
// indices of shots that failed. frames is aligned with shots and may be shorter.
func (r *Renderer) RenderAll(ctx context.Context, shots []models.Shot, frames []models.FrameArtifact) ([]models.Clip, []int) {
	r.em.StageStart(stageVideo, fmt.Sprintf("%d clip(s)", len(shots)))
	clips := make([]models.Clip, len(shots))

	var (
		mu     sync.Mutex
		failed []int
		g      errgroup.Group
	)
	if r.limit > 0 {
		g.SetLimit(r.limit)
	}
	for i, shot := range shots {
		if ctx.Err() != nil {
			break
		}
		frameURL := ""
		if i < len(frames) {
			frameURL = frames[i].URL
		}
		g.Go(func() error {
			clip, err := r.renderOne(ctx, shot, frameURL)
			if err != nil {
				mu.Lock()
				failed = append(failed, shot.Index)
				mu.Unlock()
				return nil
			}
			clips[i] = clip
			return nil
		})
	}
	_ = g.Wait()

	// shots never scheduled because of cancellation count as failed
	for i, s := range shots {
		if clips[i].Empty() && !containsInt(failed, s.Index) {
			failed = append(failed, s.Index)
		}
	}
	sort.Ints(failed)
	r.em.StageComplete(stageVideo, len(shots)-len(failed), len(shots))
	return clips, failed
}

func (r *Renderer) renderOne(ctx context.Context, shot models.Shot, frameURL string) (models.Clip, error) {
	key := fmt.Sprintf("shot-%d", shot.Index)
	if err := ctx.Err(); err != nil {
		r.em.ItemError(stageVideo, key, reportOf(err))
		return models.Clip{}, err
	}
	clip, err := r.Render(ctx, shot, frameURL)
	if err != nil {
		var rf *RenderFailure
		if errors.As(err, &rf) {
			r.em.ItemError(stageVideo, key, &rf.Report)
		} else {
			r.em.ItemError(stageVideo, key, reportOf(err))
		}
		return models.Clip{}, err
	}
	r.em.ItemComplete(stageVideo, key, clip.URL)
	return clip, nil
}

func containsInt(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func removeInt(list []int, v int) []int {
	out := list[:0:0]
	for _, x := range list {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}

func mimeOrDefault(m, def string) string {
	if m == "" {
		return def
	}
	return m
}
