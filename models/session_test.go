package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestPhase_NextWalksTheWholeOrder(t *testing.T) {
	var walked []Phase
	p := PhaseIdea
	for {
		walked = append(walked, p)
		next, ok := p.Next()
		if !ok {
			break
		}
		assert.Greater(t, next.Rank(), p.Rank())
		p = next
	}
	assert.Equal(t, []Phase{
		PhaseIdea, PhaseScenes, PhaseMoodBoardReview, PhasePortraits, PhaseCharacterReview,
		PhaseStoryboard, PhaseReviewing, PhaseRenderingVideo, PhaseComplete,
	}, walked)
}

func TestPhase_ErrorIsOutsideTheOrder(t *testing.T) {
	assert.Equal(t, -1, PhaseError.Rank())
	_, ok := PhaseError.Next()
	assert.False(t, ok)
	assert.True(t, PhaseError.Terminal())
	assert.True(t, PhaseComplete.Terminal())
	assert.False(t, PhaseStoryboard.Terminal())
}

func TestPhase_IsGate(t *testing.T) {
	gates := map[Phase]bool{PhaseMoodBoardReview: true, PhaseCharacterReview: true}
	for _, p := range append(append([]Phase{}, phaseOrder...), PhaseError) {
		assert.Equal(t, gates[p], p.IsGate(), p)
	}
}

func TestSession_EffectivePhase(t *testing.T) {
	s := &Session{}
	assert.Equal(t, PhaseIdea, s.EffectivePhase())

	s.Phase = PhasePortraits
	assert.Equal(t, PhasePortraits, s.EffectivePhase())

	s.Phase = PhaseError
	s.FailedPhase = PhaseStoryboard
	assert.Equal(t, PhaseStoryboard, s.EffectivePhase())
}

func TestSession_StyleReferenceSkipsEmpty(t *testing.T) {
	s := &Session{MoodBoard: []ImageArtifact{{}, {URL: "b"}, {URL: "c"}}}
	ref, ok := s.StyleReference()
	require.True(t, ok)
	assert.Equal(t, "b", ref.URL)

	_, ok = (&Session{}).StyleReference()
	assert.False(t, ok)
}

func TestSession_ShotPosition(t *testing.T) {
	s := &Session{Shots: []Shot{{Index: 1}, {Index: 2}, {Index: 3}}}
	pos, ok := s.ShotPosition(2)
	require.True(t, ok)
	assert.Equal(t, 1, pos)
	_, ok = s.ShotPosition(4)
	assert.False(t, ok)
}

func TestDecodeCheckpoint_RejectsUnknownVersion(t *testing.T) {
	_, err := DecodeCheckpoint([]byte(`{"version":99,"sessionId":"x"}`))
	require.Error(t, err)

	s, err := DecodeCheckpoint([]byte(`{"sessionId":"x","phase":"scenes"}`))
	require.NoError(t, err)
	assert.Equal(t, PhaseScenes, s.Phase)
}

func TestErrorReport_Error(t *testing.T) {
	code := 429
	r := &ErrorReport{Summary: "quota", Type: "rate_limited", StatusCode: &code}
	assert.Equal(t, "quota (rate_limited, status 429)", r.Error())
	assert.Equal(t, "boom (error)", (&ErrorReport{Summary: "boom", Type: "error"}).Error())
}

func genShot(index int) *rapid.Generator[Shot] {
	return rapid.Custom(func(t *rapid.T) Shot {
		return Shot{
			Index:    index,
			Prompt:   rapid.StringMatching(`[a-zA-Z ,.]{1,40}`).Draw(t, "prompt"),
			Duration: rapid.SampledFrom(AllowedDurations).Draw(t, "duration"),
			Dialogue: rapid.SliceOfN(rapid.Custom(func(t *rapid.T) DialogueLine {
				return DialogueLine{
					Speaker: rapid.StringMatching(`[A-Z][a-z]{1,8}`).Draw(t, "speaker"),
					Text:    rapid.StringMatching(`[a-z ]{0,30}`).Draw(t, "text"),
				}
			}), 0, 3).Draw(t, "dialogue"),
			Characters: rapid.SliceOfN(rapid.StringMatching(`[A-Z][a-z]{1,8}`), 0, 3).Draw(t, "characters"),
		}
	})
}

func TestCheckpoint_RoundTripIsIdempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 6).Draw(t, "shots")
		s := &Session{
			Version: CheckpointVersion,
			ID:      rapid.StringMatching(`[a-f0-9]{8}`).Draw(t, "id"),
			Phase:   rapid.SampledFrom(phaseOrder).Draw(t, "phase"),
			Prompt:  rapid.String().Draw(t, "prompt"),
			Concept: &Concept{
				Title:             rapid.String().Draw(t, "title"),
				Style:             rapid.String().Draw(t, "style"),
				Mood:              rapid.String().Draw(t, "mood"),
				KeyVisualElements: rapid.SliceOfN(rapid.String(), 0, 4).Draw(t, "elements"),
			},
		}
		for i := 1; i <= n; i++ {
			s.Shots = append(s.Shots, genShot(i).Draw(t, "shot"))
		}
		s.Characters = rapid.SliceOfN(rapid.Custom(func(t *rapid.T) Character {
			return Character{
				Name:        rapid.StringMatching(`[A-Z][a-z]{1,8}`).Draw(t, "name"),
				Description: rapid.String().Draw(t, "description"),
				Scenes:      rapid.SliceOfN(rapid.IntRange(1, n), 0, n).Draw(t, "scenes"),
			}
		}), 1, 4).Draw(t, "characters")

		first, err := EncodeCheckpoint(s)
		require.NoError(t, err)
		back, err := DecodeCheckpoint(first)
		require.NoError(t, err)
		second, err := EncodeCheckpoint(back)
		require.NoError(t, err)
		assert.Equal(t, string(first), string(second))

		for _, part := range []struct{ a, b any }{
			{s.Concept, back.Concept},
			{s.Shots, back.Shots},
			{s.Characters, back.Characters},
		} {
			wa, _ := json.Marshal(part.a)
			wb, _ := json.Marshal(part.b)
			assert.Equal(t, string(wa), string(wb))
		}
	})
}
