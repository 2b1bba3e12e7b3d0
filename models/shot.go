package models

import (
	"sort"
	"strings"
)

// 允许的分镜时长（秒）
var AllowedDurations = []int{2, 4, 6, 8}

type DialogueLine struct {
	Speaker string `json:"speaker" validate:"required"`
	Text    string `json:"text"`
}

// Shot 的 Prompt 必须自包含：下游生成调用不记得其他分镜。
type Shot struct {
	Index      int            `json:"index" validate:"min=1"`
	Prompt     string         `json:"prompt" validate:"required"`
	Duration   int            `json:"duration" validate:"oneof=2 4 6 8"`
	Dialogue   []DialogueLine `json:"dialogue" validate:"dive"`
	Characters []string       `json:"characters"`
}

func IsAllowedDuration(d int) bool {
	for _, a := range AllowedDurations {
		if a == d {
			return true
		}
	}
	return false
}

// DialogueWords counts the words spoken across all dialogue lines.
func (s Shot) DialogueWords() int {
	n := 0
	for _, l := range s.Dialogue {
		n += len(strings.Fields(l.Text))
	}
	return n
}

// WordCeiling is the soft dialogue budget for the shot's duration.
func (s Shot) WordCeiling(speakingRate float64) int {
	return int(float64(s.Duration) * speakingRate)
}

// OverBudget reports whether the dialogue exceeds the duration-derived ceiling.
// This is guidance for planning, never enforced at render time.
func (s Shot) OverBudget(speakingRate float64) bool {
	return s.DialogueWords() > s.WordCeiling(speakingRate)
}

// GroupKey identifies a multi-character group reference: sorted names joined by "+".
// Shots with fewer than two distinct characters have no group key.
func (s Shot) GroupKey() (string, bool) {
	return GroupKeyOf(s.Characters)
}

func GroupKeyOf(names []string) (string, bool) {
	seen := make(map[string]bool, len(names))
	uniq := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		uniq = append(uniq, n)
	}
	if len(uniq) < 2 {
		return "", false
	}
	sort.Strings(uniq)
	return strings.Join(uniq, "+"), true
}

// CharacterScenes rebuilds each character's scene list from the shot plan.
func CharacterScenes(shots []Shot, chars []Character) []Character {
	out := make([]Character, len(chars))
	for i, c := range chars {
		c.Scenes = nil
		for _, s := range shots {
			for _, n := range s.Characters {
				if n == c.Name {
					c.Scenes = append(c.Scenes, s.Index)
					break
				}
			}
		}
		out[i] = c
	}
	return out
}
