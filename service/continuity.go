package service

import (
	"context"
	"errors"

	"PromptToVideo-server/models"
	"PromptToVideo-server/service/gateway"

	"go.uber.org/zap"
)

const DefaultContinuityThreshold = 7

// Verdict is the outcome of one continuity check. Err is set when the check itself
// failed; NeedsRegeneration is then always false.
type Verdict struct {
	NeedsRegeneration bool
	Feedback          string
	Scores            *models.AxisScores
	Err               *models.ErrorReport
}

// ContinuityChecker scores a candidate frame against the previous one on four axes.
// It fails open: a scoring failure never asks for regeneration.
type ContinuityChecker struct {
	gw        gateway.Gateway
	threshold int
	logger    *zap.Logger
}

func NewContinuityChecker(gw gateway.Gateway, threshold int, logger *zap.Logger) *ContinuityChecker {
	if threshold <= 0 {
		threshold = DefaultContinuityThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContinuityChecker{gw: gw, threshold: threshold, logger: logger.With(zap.String("component", "continuity_checker"))}
}

type continuityAnswer struct {
	models.AxisScores
	Feedback string `json:"feedback"`
}

func (c *ContinuityChecker) Check(ctx context.Context, previous, candidate *gateway.Image, shotDesc string) Verdict {
	if previous == nil || candidate == nil {
		return c.open(errors.New("missing frame for comparison"))
	}
	res := c.gw.CompleteStructured(ctx, gateway.StructuredRequest{
		Name:   "continuity",
		Prompt: continuityPrompt(shotDesc),
		Schema: continuitySchema,
		Images: []gateway.Image{*previous, *candidate},
	})
	var ans continuityAnswer
	if err := res.Decode(&ans); err != nil {
		return c.open(err)
	}
	scores := ans.AxisScores
	v := Verdict{
		NeedsRegeneration: scores.Min() < c.threshold,
		Feedback:          ans.Feedback,
		Scores:            &scores,
	}
	c.logger.Debug("continuity scored",
		zap.Int("min", scores.Min()),
		zap.Int("threshold", c.threshold),
		zap.Bool("regenerate", v.NeedsRegeneration))
	return v
}

func (c *ContinuityChecker) open(err error) Verdict {
	rep := gateway.Normalize(err)
	c.logger.Warn("continuity check failed open", zap.String("error", rep.Summary), zap.String("type", rep.Type))
	return Verdict{Err: &rep}
}
