package service

import (
	"context"
	"fmt"
	"strings"

	"PromptToVideo-server/models"
	"PromptToVideo-server/service/gateway"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const (
	stageIdea      = "idea"
	stageScenes    = "scenes"
	stageMoodBoard = "mood_board"
)

// Planner owns the structured-reasoning stages: concept and shot plan.
type Planner struct {
	gw           gateway.Gateway
	speakingRate float64
	validate     *validator.Validate
	logger       *zap.Logger
}

func NewPlanner(gw gateway.Gateway, speakingRate float64, validate *validator.Validate, logger *zap.Logger) *Planner {
	if speakingRate <= 0 {
		speakingRate = 2.5
	}
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{gw: gw, speakingRate: speakingRate, validate: validate, logger: logger.With(zap.String("component", "planner"))}
}

// Concept develops the idea into a title, description, style and mood.
func (p *Planner) Concept(ctx context.Context, idea string, refs []gateway.Image) (*models.Concept, error) {
	res := p.gw.CompleteStructured(ctx, gateway.StructuredRequest{
		Name:   "concept",
		Prompt: conceptPrompt(idea, len(refs)),
		Schema: conceptSchema,
		Images: refs,
	})
	var c models.Concept
	if err := res.Decode(&c); err != nil {
		return nil, fmt.Errorf("concept: %w", err)
	}
	if strings.TrimSpace(c.Title) == "" || strings.TrimSpace(c.Style) == "" || strings.TrimSpace(c.Mood) == "" {
		return nil, fmt.Errorf("concept: %w: empty title, style or mood", gateway.ErrSchemaMismatch)
	}
	return &c, nil
}

// Plan is a shot plan plus what planning had to correct or flag.
type Plan struct {
	Shots      []models.Shot
	Characters []models.Character
	Notes      []string
}

type planAnswer struct {
	Shots []struct {
		Prompt     string                `json:"prompt"`
		Duration   int                   `json:"duration"`
		Dialogue   []models.DialogueLine `json:"dialogue"`
		Characters []string              `json:"characters"`
	} `json:"shots"`
	Characters []models.Character `json:"characters"`
}

// Plan breaks the concept into exactly n shots. Durations outside the allowed set are
// snapped to the nearest allowed value; dialogue over the word ceiling is only noted.
func (p *Planner) Plan(ctx context.Context, idea string, concept *models.Concept, n int) (*Plan, error) {
	res := p.gw.CompleteStructured(ctx, gateway.StructuredRequest{
		Name:   "shot_plan",
		Prompt: shotPlanPrompt(idea, concept, n, p.speakingRate),
		Schema: shotPlanSchema(n),
	})
	var ans planAnswer
	if err := res.Decode(&ans); err != nil {
		return nil, fmt.Errorf("shot plan: %w", err)
	}
	if len(ans.Shots) != n {
		return nil, fmt.Errorf("shot plan: %w: got %d shots, want %d", gateway.ErrSchemaMismatch, len(ans.Shots), n)
	}

	plan := &Plan{}
	for i, s := range ans.Shots {
		shot := models.Shot{
			Index:      i + 1,
			Prompt:     strings.TrimSpace(s.Prompt),
			Duration:   s.Duration,
			Dialogue:   s.Dialogue,
			Characters: s.Characters,
		}
		if !models.IsAllowedDuration(shot.Duration) {
			snapped := SnapDuration(shot.Duration)
			plan.Notes = append(plan.Notes, fmt.Sprintf("shot %d: duration %ds snapped to %ds", shot.Index, shot.Duration, snapped))
			shot.Duration = snapped
		}
		if shot.OverBudget(p.speakingRate) {
			plan.Notes = append(plan.Notes, fmt.Sprintf("shot %d: %d dialogue words exceed the %d-word ceiling for %ds",
				shot.Index, shot.DialogueWords(), shot.WordCeiling(p.speakingRate), shot.Duration))
		}
		if err := p.validate.Struct(shot); err != nil {
			return nil, fmt.Errorf("shot plan: shot %d: %w", shot.Index, err)
		}
		plan.Shots = append(plan.Shots, shot)
	}
	plan.Characters = models.CharacterScenes(plan.Shots, dedupeCharacters(ans.Characters))
	return plan, nil
}

// SnapDuration maps any duration onto the nearest allowed value; ties go to the shorter one.
func SnapDuration(d int) int {
	best := models.AllowedDurations[0]
	for _, a := range models.AllowedDurations[1:] {
		if abs(a-d) < abs(best-d) {
			best = a
		}
	}
	return best
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// dedupeCharacters keeps the first entry per name; a name is the character's identity.
func dedupeCharacters(chars []models.Character) []models.Character {
	seen := make(map[string]bool, len(chars))
	out := make([]models.Character, 0, len(chars))
	for _, c := range chars {
		c.Name = strings.TrimSpace(c.Name)
		if c.Name == "" || seen[c.Name] {
			continue
		}
		seen[c.Name] = true
		out = append(out, c)
	}
	return out
}

// moodBoard renders the style candidates concurrently and returns them in variant order.
func moodBoard(ctx context.Context, img *imager, em *Emitter, concept *models.Concept, size int, userRefs []string) []models.ImageArtifact {
	em.StageStart(stageMoodBoard, fmt.Sprintf("%d style image(s)", size))
	var refs []reference
	for _, u := range userRefs {
		if r, ok := img.load(ctx, u); ok {
			refs = append(refs, r)
		}
	}
	tasks := make([]Task[int, models.ImageArtifact], size)
	for i := range tasks {
		tasks[i] = Task[int, models.ImageArtifact]{
			Key: i,
			Run: func(ctx context.Context) (models.ImageArtifact, error) {
				art, _, err := img.generate(ctx, fmt.Sprintf("mood board %d", i+1), fmt.Sprintf("moodboard/%d", i+1),
					moodBoardPrompt(concept, i, size), refs)
				return art, err
			},
		}
	}
	got := FanOut(ctx, tasks, func(i int, art models.ImageArtifact, err error) {
		key := fmt.Sprintf("image-%d", i+1)
		if err != nil {
			em.ItemError(stageMoodBoard, key, reportOf(err))
			return
		}
		em.ItemComplete(stageMoodBoard, key, art.URL)
	})
	out := make([]models.ImageArtifact, 0, len(got))
	for i := 0; i < size; i++ {
		if art, ok := got[i]; ok {
			out = append(out, art)
		}
	}
	em.StageComplete(stageMoodBoard, len(out), size)
	return out
}
