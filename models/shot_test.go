package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShot_WordCeiling(t *testing.T) {
	s := Shot{Duration: 4, Dialogue: []DialogueLine{
		{Speaker: "Frog", Text: "one two three four five"},
		{Speaker: "Crab", Text: "six seven"},
	}}
	assert.Equal(t, 7, s.DialogueWords())
	assert.Equal(t, 10, s.WordCeiling(2.5))
	assert.False(t, s.OverBudget(2.5))

	s.Duration = 2
	assert.Equal(t, 5, s.WordCeiling(2.5))
	assert.True(t, s.OverBudget(2.5))
}

func TestIsAllowedDuration(t *testing.T) {
	for _, d := range []int{2, 4, 6, 8} {
		assert.True(t, IsAllowedDuration(d), d)
	}
	for _, d := range []int{0, 1, 3, 5, 10} {
		assert.False(t, IsAllowedDuration(d), d)
	}
}

func TestGroupKeyOf(t *testing.T) {
	tests := []struct {
		name  string
		names []string
		want  string
		ok    bool
	}{
		{"empty", nil, "", false},
		{"single", []string{"Frog"}, "", false},
		{"duplicates collapse", []string{"Frog", " Frog "}, "", false},
		{"sorted", []string{"Frog", "Crab"}, "Crab+Frog", true},
		{"three", []string{"Owl", "Frog", "Crab", ""}, "Crab+Frog+Owl", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := GroupKeyOf(tt.names)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCharacterScenes(t *testing.T) {
	shots := []Shot{
		{Index: 1, Characters: []string{"Frog"}},
		{Index: 2, Characters: []string{"Crab", "Frog"}},
		{Index: 3},
	}
	chars := CharacterScenes(shots, []Character{{Name: "Frog", Scenes: []int{9}}, {Name: "Crab"}, {Name: "Owl"}})
	assert.Equal(t, []int{1, 2}, chars[0].Scenes)
	assert.Equal(t, []int{2}, chars[1].Scenes)
	assert.Nil(t, chars[2].Scenes)
}
