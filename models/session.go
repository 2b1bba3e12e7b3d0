package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Phase 是流水线阶段；顺序即推进顺序，Error 为任意阶段可达的终态。
type Phase string

const (
	PhaseIdea            Phase = "idea"
	PhaseScenes          Phase = "scenes"
	PhaseMoodBoardReview Phase = "mood_board_review" // 确认闸门
	PhasePortraits       Phase = "portraits"
	PhaseCharacterReview Phase = "character_review" // 确认闸门
	PhaseStoryboard      Phase = "storyboard"
	PhaseReviewing       Phase = "reviewing"
	PhaseRenderingVideo  Phase = "rendering_video"
	PhaseComplete        Phase = "complete"
	PhaseError           Phase = "error"
)

var phaseOrder = []Phase{
	PhaseIdea,
	PhaseScenes,
	PhaseMoodBoardReview,
	PhasePortraits,
	PhaseCharacterReview,
	PhaseStoryboard,
	PhaseReviewing,
	PhaseRenderingVideo,
	PhaseComplete,
}

// Rank returns the phase's position in the progression, or -1 for Error/unknown.
func (p Phase) Rank() int {
	for i, q := range phaseOrder {
		if q == p {
			return i
		}
	}
	return -1
}

// Next returns the phase that follows p. Complete and Error have no successor.
func (p Phase) Next() (Phase, bool) {
	r := p.Rank()
	if r < 0 || r == len(phaseOrder)-1 {
		return "", false
	}
	return phaseOrder[r+1], true
}

// IsGate reports whether the phase is a confirmation gate that only a continue call leaves.
func (p Phase) IsGate() bool {
	return p == PhaseMoodBoardReview || p == PhaseCharacterReview
}

func (p Phase) Terminal() bool {
	return p == PhaseComplete || p == PhaseError
}

// Concept 是 Idea 阶段的产出
type Concept struct {
	Title             string   `json:"title"`
	Description       string   `json:"description"`
	Style             string   `json:"style"`
	Mood              string   `json:"mood"`
	KeyVisualElements []string `json:"keyVisualElements"`
}

// Character 以 Name 作为跨分镜的唯一身份
type Character struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
	Scenes      []int  `json:"scenes"`
}

// ImageArtifact 是任意生成图片的句柄及其来源
type ImageArtifact struct {
	URL        string   `json:"url"`
	References []string `json:"references,omitempty"`
}

func (a ImageArtifact) Empty() bool { return a.URL == "" }

// AxisScores 连续性评分（1-10）
type AxisScores struct {
	ColorGrade        int `json:"colorGrade"`
	Lighting          int `json:"lighting"`
	CharacterLikeness int `json:"characterLikeness"`
	EnvironmentMatch  int `json:"environmentMatch"`
}

func (s AxisScores) Min() int {
	m := s.ColorGrade
	for _, v := range []int{s.Lighting, s.CharacterLikeness, s.EnvironmentMatch} {
		if v < m {
			m = v
		}
	}
	return m
}

// FrameArtifact 分镜帧，带连续性检查结果
type FrameArtifact struct {
	ImageArtifact
	Continuity  *AxisScores `json:"continuity,omitempty"`
	Feedback    string      `json:"feedback,omitempty"`
	Regenerated bool        `json:"regenerated,omitempty"`
}

type Clip struct {
	ShotIndex int    `json:"shotIndex"`
	URL       string `json:"url"`
	Prompt    string `json:"prompt"`
}

func (c Clip) Empty() bool { return c.URL == "" }

// LocationGroup 同一物理空间的分镜集合；Primary 为组内最先出现的分镜序号
type LocationGroup struct {
	ID      int   `json:"id"`
	Primary int   `json:"primary"`
	Members []int `json:"members"`
}

// ErrorReport 是可序列化的扁平错误报告
type ErrorReport struct {
	Summary    string   `json:"summary"`
	Type       string   `json:"type"`
	StatusCode *int     `json:"statusCode,omitempty"`
	Body       string   `json:"body,omitempty"`
	Causes     []string `json:"causes,omitempty"`
}

func (r *ErrorReport) Error() string {
	if r.StatusCode != nil {
		return fmt.Sprintf("%s (%s, status %d)", r.Summary, r.Type, *r.StatusCode)
	}
	return fmt.Sprintf("%s (%s)", r.Summary, r.Type)
}

// CheckpointVersion bumps whenever the checkpoint layout changes incompatibly.
const CheckpointVersion = 1

// Session is the full accumulated pipeline state. Its JSON encoding is the checkpoint
// exchanged with the client at every phase boundary.
type Session struct {
	Version     int          `json:"version"`
	ID          string       `json:"sessionId"`
	Phase       Phase        `json:"phase"`
	FailedPhase Phase        `json:"failedPhase,omitempty"`
	Error       *ErrorReport `json:"error,omitempty"`

	Prompt          string   `json:"prompt"`
	ShotCount       int      `json:"shotCount"`
	AspectRatio     string   `json:"aspectRatio"`
	ReferenceImages []string `json:"referenceImages,omitempty"`

	Concept    *Concept    `json:"concept,omitempty"`
	Shots      []Shot      `json:"shots,omitempty"`
	Characters []Character `json:"characters,omitempty"`

	MoodBoard       []ImageArtifact          `json:"moodBoard,omitempty"`
	Portraits       map[string]ImageArtifact `json:"portraits,omitempty"`
	GroupReferences map[string]ImageArtifact `json:"groupReferences,omitempty"`
	LocationGroups  []LocationGroup          `json:"locationGroups,omitempty"`
	Environments    []ImageArtifact          `json:"environments,omitempty"`
	Frames          []FrameArtifact          `json:"frames,omitempty"`
	Clips           []Clip                   `json:"clips,omitempty"`
	FailedShots     []int                    `json:"failedShots,omitempty"`

	UpdatedAt time.Time `json:"updatedAt"`
}

// EffectivePhase is the phase a continuation resumes at: the failed phase for an
// errored session, the current phase otherwise.
func (s *Session) EffectivePhase() Phase {
	if s.Phase == PhaseError && s.FailedPhase != "" {
		return s.FailedPhase
	}
	if s.Phase == "" {
		return PhaseIdea
	}
	return s.Phase
}

// ShotPosition returns the slice position of the shot with the given 1-based index.
func (s *Session) ShotPosition(index int) (int, bool) {
	for i, sh := range s.Shots {
		if sh.Index == index {
			return i, true
		}
	}
	return -1, false
}

// StyleReference is the user's chosen mood-board image, if any.
func (s *Session) StyleReference() (ImageArtifact, bool) {
	for _, a := range s.MoodBoard {
		if !a.Empty() {
			return a, true
		}
	}
	return ImageArtifact{}, false
}

func EncodeCheckpoint(s *Session) ([]byte, error) {
	return json.Marshal(s)
}

func DecodeCheckpoint(data []byte) (*Session, error) {
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	if s.Version != 0 && s.Version != CheckpointVersion {
		return nil, fmt.Errorf("unsupported checkpoint version %d", s.Version)
	}
	return &s, nil
}
