package service

import (
	"context"
	"fmt"

	"PromptToVideo-server/models"
	"PromptToVideo-server/service/gateway"
)

const (
	stageFrames     = "frames"
	stageContinuity = "continuity"
)

// FrameInput is everything frame synthesis conditions on. Environments is aligned
// with Shots; the maps are keyed by character name and group key.
type FrameInput struct {
	Shots        []models.Shot
	Characters   []models.Character
	Groups       []models.LocationGroup
	Environments []models.ImageArtifact
	Portraits    map[string]models.ImageArtifact
	GroupRefs    map[string]models.ImageArtifact
}

// FrameSynthesizer renders storyboard frames strictly in shot order. Each frame is
// conditioned on the frame before it, checked for continuity and regenerated at
// most once.
type FrameSynthesizer struct {
	img     *imager
	checker *ContinuityChecker
	em      *Emitter
	concept *models.Concept
}

// Synthesize returns one frame per shot, aligned with in.Shots. A failed shot leaves
// an empty frame and the sequence continues. The error is non-nil only when ctx
// ended before every shot was attempted.
func (f *FrameSynthesizer) Synthesize(ctx context.Context, in FrameInput) ([]models.FrameArtifact, error) {
	frames := make([]models.FrameArtifact, len(in.Shots))
	f.em.StageStart(stageFrames, fmt.Sprintf("%d frame(s)", len(in.Shots)))

	var prev *reference
	ok := 0
	for i, shot := range in.Shots {
		if err := ctx.Err(); err != nil {
			f.em.StageComplete(stageFrames, ok, len(in.Shots))
			return frames, err
		}
		frame, img := f.one(ctx, in, i, shot, prev)
		frames[i] = frame
		// the next shot sees this frame only if it exists
		prev = nil
		if !frame.Empty() {
			prev = &reference{url: frame.URL, img: img}
			ok++
		}
	}
	f.em.StageComplete(stageFrames, ok, len(in.Shots))
	return frames, nil
}

func (f *FrameSynthesizer) one(ctx context.Context, in FrameInput, pos int, shot models.Shot, prev *reference) (models.FrameArtifact, *gateway.Image) {
	key := fmt.Sprintf("shot-%d", shot.Index)
	refs, roles := f.references(ctx, in, pos, shot, prev)

	art, img, err := f.img.generate(ctx, "frame "+key, "frames/"+key, framePrompt(f.concept, shot, roles, ""), refs)
	if err != nil {
		f.em.ItemError(stageFrames, key, reportOf(err))
		return models.FrameArtifact{}, nil
	}
	frame := models.FrameArtifact{ImageArtifact: art}
	if prev == nil {
		f.em.ItemComplete(stageFrames, key, frame.URL)
		return frame, img
	}

	v := f.checker.Check(ctx, prev.img, img, shot.Prompt)
	if v.Err != nil {
		f.em.Fallback(stageContinuity, fmt.Sprintf("%s: continuity check unavailable, frame accepted (%s)", key, v.Err.Summary))
	}
	frame.Continuity = v.Scores
	if !v.NeedsRegeneration {
		f.em.ItemComplete(stageFrames, key, frame.URL)
		return frame, img
	}

	f.em.Log(stageContinuity, fmt.Sprintf("%s scored %d, regenerating once: %s", key, v.Scores.Min(), v.Feedback))
	regen, regenImg, err := f.img.generate(ctx, "frame "+key+" regen", "frames/"+key+"-regen",
		framePrompt(f.concept, shot, roles, v.Feedback), refs)
	if err != nil {
		f.em.ItemError(stageFrames, key, reportOf(err))
		return models.FrameArtifact{}, nil
	}
	// accepted without a second check
	frame.ImageArtifact = regen
	frame.Feedback = v.Feedback
	frame.Regenerated = true
	f.em.ItemComplete(stageFrames, key, frame.URL)
	return frame, regenImg
}

// references assembles environment, portraits, group reference and previous frame,
// in that order, and describes each attached image's role.
func (f *FrameSynthesizer) references(ctx context.Context, in FrameInput, pos int, shot models.Shot, prev *reference) ([]reference, frameRoles) {
	var (
		refs  []reference
		roles frameRoles
	)
	if r, ok := f.img.load(ctx, environmentFor(in, pos, shot.Index)); ok {
		refs = append(refs, r)
		roles.environment = true
	}
	seen := make(map[string]bool, len(shot.Characters))
	for _, name := range shot.Characters {
		if seen[name] {
			continue
		}
		seen[name] = true
		p, ok := in.Portraits[name]
		if !ok {
			continue
		}
		if r, ok := f.img.load(ctx, p.URL); ok {
			refs = append(refs, r)
			roles.portraits = append(roles.portraits, name)
		}
	}
	if gk, ok := shot.GroupKey(); ok {
		if g, ok := in.GroupRefs[gk]; ok {
			if r, ok := f.img.load(ctx, g.URL); ok {
				refs = append(refs, r)
				roles.group = true
			}
		}
	}
	if prev != nil {
		refs = append(refs, *prev)
		roles.previous = true
	}
	return refs, roles
}

// environmentFor prefers the shot's own plate and falls back to its group's hero.
func environmentFor(in FrameInput, pos, shotIndex int) string {
	if pos < len(in.Environments) && !in.Environments[pos].Empty() {
		return in.Environments[pos].URL
	}
	grp, ok := groupOf(in.Groups, shotIndex)
	if !ok {
		return ""
	}
	for i, s := range in.Shots {
		if s.Index == grp.Primary && i < len(in.Environments) {
			return in.Environments[i].URL
		}
	}
	return ""
}
