package service

import (
	"context"
	"fmt"

	"PromptToVideo-server/models"
	"PromptToVideo-server/service/gateway"

	"go.uber.org/zap"
)

const stageClustering = "location_clustering"

// Clustering is the clusterer's answer: one group id per shot, in shot order.
// Fallback is set when the model's answer was unusable and the degenerate
// one-shot-per-group partition was substituted.
type Clustering struct {
	IDs      []int
	Fallback bool
	Reason   string
}

// LocationClusterer groups shots by inferred physical location with a single
// structured call. It never fails: a bad answer degrades to one group per shot.
type LocationClusterer struct {
	gw     gateway.Gateway
	logger *zap.Logger
}

func NewLocationClusterer(gw gateway.Gateway, logger *zap.Logger) *LocationClusterer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocationClusterer{gw: gw, logger: logger.With(zap.String("component", "location_clusterer"))}
}

type clusterAnswer struct {
	Groups []int `json:"groups"`
}

func (c *LocationClusterer) Cluster(ctx context.Context, shots []models.Shot) Clustering {
	if len(shots) == 0 {
		return Clustering{}
	}
	if len(shots) == 1 {
		return Clustering{IDs: []int{0}}
	}

	res := c.gw.CompleteStructured(ctx, gateway.StructuredRequest{
		Name:   "location_groups",
		Prompt: clusterPrompt(shots),
		Schema: locationSchema,
	})
	var ans clusterAnswer
	if err := res.Decode(&ans); err != nil {
		return c.fallback(len(shots), fmt.Sprintf("clustering call failed: %v", err))
	}
	if len(ans.Groups) != len(shots) {
		return c.fallback(len(shots), fmt.Sprintf("clustering returned %d ids for %d shots", len(ans.Groups), len(shots)))
	}
	return Clustering{IDs: ans.Groups}
}

func (c *LocationClusterer) fallback(n int, reason string) Clustering {
	c.logger.Warn("falling back to one location per shot", zap.String("reason", reason))
	return Clustering{IDs: DegeneratePartition(n), Fallback: true, Reason: reason}
}

// DegeneratePartition puts every shot in its own group.
func DegeneratePartition(n int) []int {
	ids := make([]int, n)
	for i := range ids {
		ids[i] = i
	}
	return ids
}

// BuildLocationGroups turns per-shot ids into groups ordered by first appearance.
// The primary of each group is its first member. ids must be as long as shots.
func BuildLocationGroups(shots []models.Shot, ids []int) []models.LocationGroup {
	var groups []models.LocationGroup
	pos := make(map[int]int)
	for i, s := range shots {
		id := ids[i]
		p, ok := pos[id]
		if !ok {
			pos[id] = len(groups)
			groups = append(groups, models.LocationGroup{ID: id, Primary: s.Index, Members: []int{s.Index}})
			continue
		}
		groups[p].Members = append(groups[p].Members, s.Index)
	}
	return groups
}

// groupOf returns the location group holding the shot, if any.
func groupOf(groups []models.LocationGroup, shotIndex int) (models.LocationGroup, bool) {
	for _, g := range groups {
		for _, m := range g.Members {
			if m == shotIndex {
				return g, true
			}
		}
	}
	return models.LocationGroup{}, false
}
