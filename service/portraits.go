package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"PromptToVideo-server/models"
)

const (
	stagePortraits = "portraits"
	stageGroupRefs = "group_references"
)

// PortraitGenerator renders one reference portrait per character and one group
// reference per co-occurring character set, both through FanOut.
type PortraitGenerator struct {
	img     *imager
	em      *Emitter
	concept *models.Concept
}

// Portraits returns the successful portraits keyed by character name.
func (p *PortraitGenerator) Portraits(ctx context.Context, chars []models.Character, styleRef string) map[string]models.ImageArtifact {
	p.em.StageStart(stagePortraits, fmt.Sprintf("%d character(s)", len(chars)))
	style, hasStyle := p.img.load(ctx, styleRef)

	tasks := make([]Task[string, models.ImageArtifact], 0, len(chars))
	for _, ch := range chars {
		tasks = append(tasks, Task[string, models.ImageArtifact]{
			Key: ch.Name,
			Run: func(ctx context.Context) (models.ImageArtifact, error) {
				var refs []reference
				if hasStyle {
					refs = append(refs, style)
				}
				art, _, err := p.img.generate(ctx, "portrait "+ch.Name, "portraits/"+objectSafe(ch.Name),
					portraitPrompt(p.concept, ch, hasStyle), refs)
				return art, err
			},
		})
	}
	out := FanOut(ctx, tasks, p.settled(stagePortraits))
	p.em.StageComplete(stagePortraits, len(out), len(chars))
	return out
}

// GroupReferences renders a reference for every distinct set of two or more
// characters sharing a shot, conditioned on whichever member portraits exist.
func (p *PortraitGenerator) GroupReferences(ctx context.Context, shots []models.Shot, chars []models.Character,
	portraits map[string]models.ImageArtifact) map[string]models.ImageArtifact {
	byName := make(map[string]models.Character, len(chars))
	for _, c := range chars {
		byName[c.Name] = c
	}
	keys := groupKeys(shots)
	if len(keys) == 0 {
		return map[string]models.ImageArtifact{}
	}
	p.em.StageStart(stageGroupRefs, fmt.Sprintf("%d group(s)", len(keys)))

	tasks := make([]Task[string, models.ImageArtifact], 0, len(keys))
	for _, key := range keys {
		tasks = append(tasks, Task[string, models.ImageArtifact]{
			Key: key,
			Run: func(ctx context.Context) (models.ImageArtifact, error) {
				var (
					refs    []reference
					members []models.Character
				)
				for _, name := range strings.Split(key, "+") {
					ch, ok := byName[name]
					if !ok {
						ch = models.Character{Name: name}
					}
					art, ok := portraits[name]
					if !ok {
						continue
					}
					if r, ok := p.img.load(ctx, art.URL); ok {
						refs = append(refs, r)
						members = append(members, ch)
					}
				}
				if len(members) < 2 {
					return models.ImageArtifact{}, fmt.Errorf("group %s: fewer than two member portraits available", key)
				}
				art, _, err := p.img.generate(ctx, "group "+key, "groups/"+objectSafe(key),
					groupReferencePrompt(p.concept, members), refs)
				return art, err
			},
		})
	}
	out := FanOut(ctx, tasks, p.settled(stageGroupRefs))
	p.em.StageComplete(stageGroupRefs, len(out), len(keys))
	return out
}

func (p *PortraitGenerator) settled(stage string) Settled[string, models.ImageArtifact] {
	return func(key string, art models.ImageArtifact, err error) {
		if err != nil {
			p.em.ItemError(stage, key, reportOf(err))
			return
		}
		p.em.ItemComplete(stage, key, art.URL)
	}
}

// groupKeys lists the distinct group keys across shots, sorted.
func groupKeys(shots []models.Shot) []string {
	seen := make(map[string]bool)
	var keys []string
	for _, s := range shots {
		if k, ok := s.GroupKey(); ok && !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func objectSafe(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '+':
			return r
		}
		return '_'
	}, name)
}
