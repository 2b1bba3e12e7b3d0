package service

import (
	"context"
	"fmt"

	"PromptToVideo-server/models"

	"go.uber.org/zap"
)

const stageEnvironments = "environments"

// EnvironmentGenerator renders one environment plate per shot, locked per location
// group: heroes for all groups concurrently, then each group's secondaries in order,
// each conditioned on its hero and earlier siblings.
type EnvironmentGenerator struct {
	img     *imager
	em      *Emitter
	concept *models.Concept
}

// Generate returns one artifact per shot, aligned with shots. A failed plate is empty.
func (g *EnvironmentGenerator) Generate(ctx context.Context, shots []models.Shot, groups []models.LocationGroup, styleRef string) []models.ImageArtifact {
	envs := make([]models.ImageArtifact, len(shots))
	byIndex := make(map[int]int, len(shots))
	for i, s := range shots {
		byIndex[s.Index] = i
	}
	g.em.StageStart(stageEnvironments, fmt.Sprintf("%d location group(s), %d shot(s)", len(groups), len(shots)))

	// pass 1: heroes
	style, hasStyle := g.img.load(ctx, styleRef)
	heroTasks := make([]Task[int, models.ImageArtifact], 0, len(groups))
	for _, grp := range groups {
		shot := shots[byIndex[grp.Primary]]
		heroTasks = append(heroTasks, Task[int, models.ImageArtifact]{
			Key: grp.ID,
			Run: func(ctx context.Context) (models.ImageArtifact, error) {
				var refs []reference
				if hasStyle {
					refs = append(refs, style)
				}
				art, _, err := g.img.generate(ctx,
					fmt.Sprintf("environment hero group %d", grp.ID),
					fmt.Sprintf("environments/shot-%d", shot.Index),
					heroEnvironmentPrompt(g.concept, shot, hasStyle),
					refs)
				return art, err
			},
		})
	}
	heroes := FanOut(ctx, heroTasks, func(id int, art models.ImageArtifact, err error) {
		if err != nil {
			g.em.ItemError(stageEnvironments, fmt.Sprintf("group-%d", id), reportOf(err))
			return
		}
		g.em.ItemComplete(stageEnvironments, fmt.Sprintf("group-%d", id), art.URL)
	})
	for _, grp := range groups {
		if art, ok := heroes[grp.ID]; ok {
			envs[byIndex[grp.Primary]] = art
		}
	}

	// pass 2: secondaries, sequential within a group
	var secTasks []Task[int, struct{}]
	for _, grp := range groups {
		if len(grp.Members) < 2 {
			continue
		}
		hero, hasHero := heroes[grp.ID]
		secTasks = append(secTasks, Task[int, struct{}]{
			Key: grp.ID,
			Run: func(ctx context.Context) (struct{}, error) {
				g.secondaries(ctx, grp, hero.URL, hasHero, shots, byIndex, envs)
				return struct{}{}, nil
			},
		})
	}
	FanOut(ctx, secTasks, nil)

	ok := 0
	for _, e := range envs {
		if !e.Empty() {
			ok++
		}
	}
	g.em.StageComplete(stageEnvironments, ok, len(shots))
	return envs
}

// secondaries writes only the positions of its own group's members.
func (g *EnvironmentGenerator) secondaries(ctx context.Context, grp models.LocationGroup, heroURL string, hasHero bool,
	shots []models.Shot, byIndex map[int]int, envs []models.ImageArtifact) {
	if !hasHero {
		g.em.Log(stageEnvironments, fmt.Sprintf("group %d has no hero plate; secondaries render without a reference", grp.ID))
	}
	var hero reference
	if hasHero {
		hero, hasHero = g.img.load(ctx, heroURL)
	}
	var siblings []reference
	for _, idx := range grp.Members[1:] {
		if ctx.Err() != nil {
			return
		}
		shot := shots[byIndex[idx]]
		var refs []reference
		if hasHero {
			refs = append(refs, hero)
			refs = append(refs, siblings...)
		}
		key := fmt.Sprintf("shot-%d", idx)
		art, img, err := g.img.generate(ctx,
			"environment "+key,
			fmt.Sprintf("environments/shot-%d", idx),
			secondaryEnvironmentPrompt(g.concept, shot, hasHero, len(refs)-boolInt(hasHero)),
			refs)
		if err != nil {
			g.em.ItemError(stageEnvironments, key, reportOf(err))
			continue
		}
		envs[byIndex[idx]] = art
		siblings = append(siblings, reference{url: art.URL, img: img})
		g.em.ItemComplete(stageEnvironments, key, art.URL)
		g.img.logger.Debug("secondary environment generated", zap.Int("group", grp.ID), zap.Int("shot", idx))
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
