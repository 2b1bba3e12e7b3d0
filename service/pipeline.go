package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"PromptToVideo-server/models"
	"PromptToVideo-server/service/gateway"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrUnauthorized = errors.New("actor is not authorized to start a pipeline")
	ErrInvalidInput = errors.New("invalid phase input")
	ErrWrongPhase   = errors.New("checkpoint is not at a phase this call can continue")
	ErrShotNotFound = errors.New("shot not found")
)

// Options tune the pipeline; zero values fall back to defaults.
type Options struct {
	DefaultShotCount    int
	MoodBoardSize       int
	ContinuityThreshold int
	SpeakingRate        float64
	AspectRatio         string
	RenderConcurrency   int
}

func (o Options) withDefaults() Options {
	if o.DefaultShotCount <= 0 {
		o.DefaultShotCount = 3
	}
	if o.MoodBoardSize <= 0 {
		o.MoodBoardSize = 3
	}
	if o.ContinuityThreshold <= 0 {
		o.ContinuityThreshold = DefaultContinuityThreshold
	}
	if o.SpeakingRate <= 0 {
		o.SpeakingRate = 2.5
	}
	if o.AspectRatio == "" {
		o.AspectRatio = "16:9"
	}
	return o
}

// IdeaInput starts a session.
type IdeaInput struct {
	Prompt          string   `json:"prompt" validate:"required"`
	ShotCount       int      `json:"shotCount" validate:"omitempty,min=1,max=12"`
	AspectRatio     string   `json:"aspectRatio" validate:"omitempty,oneof=16:9 9:16"`
	ReferenceImages []string `json:"referenceImages" validate:"omitempty,max=4,dive,required"`
}

// MoodBoardSelection leaves the mood-board gate. MoodBoard, when set, is the
// user's reordered subset with the chosen style image first. Shots and Characters,
// when set, replace the plan with the user's edits.
type MoodBoardSelection struct {
	MoodBoard  []models.ImageArtifact `json:"moodBoard"`
	Shots      []models.Shot          `json:"shots" validate:"omitempty,dive"`
	Characters []models.Character     `json:"characters" validate:"omitempty,dive"`
}

// CharacterSelection leaves the character gate. Portraits, when set, is the kept
// subset of portraits.
type CharacterSelection struct {
	Portraits  map[string]models.ImageArtifact `json:"portraits"`
	Shots      []models.Shot                   `json:"shots" validate:"omitempty,dive"`
	Characters []models.Character              `json:"characters" validate:"omitempty,dive"`
}

// RenderInput leaves the storyboard review with optional prompt edits.
type RenderInput struct {
	Shots   []models.Shot `json:"shots" validate:"omitempty,dive"`
	Options RenderOptions `json:"options"`
}

type RerunInput struct {
	ShotIndex int           `json:"shotIndex" validate:"min=1"`
	Prompt    string        `json:"prompt"`
	Options   RenderOptions `json:"options"`
}

// PhaseInput carries whichever input the checkpoint's phase needs.
type PhaseInput struct {
	Idea       *IdeaInput          `json:"idea,omitempty"`
	MoodBoard  *MoodBoardSelection `json:"moodBoard,omitempty"`
	Characters *CharacterSelection `json:"characters,omitempty"`
	Render     *RenderInput        `json:"render,omitempty"`
}

// Result is what every entry point hands back: the full accumulated checkpoint,
// the events emitted by this invocation and the phase the session now sits at.
// A stage failure is not a Go error: the checkpoint is returned at PhaseError
// with the partial state preserved.
type Result struct {
	Checkpoint *models.Session `json:"checkpoint"`
	Events     []models.Event  `json:"events"`
	Next       models.Phase    `json:"next"`
}

// Deps are the orchestrator's collaborators.
type Deps struct {
	Gateway    gateway.Gateway
	Store      ArtifactStore
	Recorder   Recorder
	Authorizer Authorizer
	Logger     *zap.Logger
}

// Orchestrator drives sessions through the phase state machine. It holds no session
// state; everything flows through the checkpoint.
type Orchestrator struct {
	gw        gateway.Gateway
	store     ArtifactStore
	recorder  Recorder
	authz     Authorizer
	planner   *Planner
	clusterer *LocationClusterer
	checker   *ContinuityChecker
	validate  *validator.Validate
	opts      Options
	logger    *zap.Logger
	newID     func() string
	now       func() time.Time
}

func NewOrchestrator(deps Deps, opts Options) *Orchestrator {
	opts = opts.withDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	store := deps.Store
	if store == nil {
		store = InlineStore{}
	}
	recorder := deps.Recorder
	if recorder == nil {
		recorder = NopRecorder{}
	}
	authz := deps.Authorizer
	if authz == nil {
		authz = RoleAuthorizer{}
	}
	validate := validator.New()
	return &Orchestrator{
		gw:        deps.Gateway,
		store:     store,
		recorder:  recorder,
		authz:     authz,
		planner:   NewPlanner(deps.Gateway, opts.SpeakingRate, validate, logger),
		clusterer: NewLocationClusterer(deps.Gateway, logger),
		checker:   NewContinuityChecker(deps.Gateway, opts.ContinuityThreshold, logger),
		validate:  validate,
		opts:      opts,
		logger:    logger.With(zap.String("component", "orchestrator")),
		newID:     uuid.NewString,
		now:       time.Now,
	}
}

// Start creates a session and runs Idea and Scenes, stopping at the mood-board gate.
func (o *Orchestrator) Start(ctx context.Context, actor Actor, in IdeaInput, sink EventSink) (Result, error) {
	if !o.authz.IsAuthorized(ctx, actor) {
		return Result{}, ErrUnauthorized
	}
	in.Prompt = strings.TrimSpace(in.Prompt)
	if err := o.validate.Struct(in); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	s := &models.Session{
		Version:         models.CheckpointVersion,
		ID:              o.newID(),
		Phase:           models.PhaseIdea,
		Prompt:          in.Prompt,
		ShotCount:       in.ShotCount,
		AspectRatio:     in.AspectRatio,
		ReferenceImages: in.ReferenceImages,
	}
	if s.ShotCount == 0 {
		s.ShotCount = o.opts.DefaultShotCount
	}
	if s.AspectRatio == "" {
		s.AspectRatio = o.opts.AspectRatio
	}
	o.logger.Info("session started", zap.String("session_id", s.ID), zap.String("actor", actor.ID), zap.Int("shots", s.ShotCount))
	return o.newRun(s, sink, RenderOptions{}).drive(ctx), nil
}

// ContinueMoodBoard finalizes the mood-board selection and runs Portraits, stopping
// at the character gate.
func (o *Orchestrator) ContinueMoodBoard(ctx context.Context, cp *models.Session, sel MoodBoardSelection, sink EventSink) (Result, error) {
	s, err := o.resume(cp, models.PhaseMoodBoardReview, models.PhasePortraits)
	if err != nil {
		return Result{}, err
	}
	if err := o.validate.Struct(sel); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := applyPlanEdits(s, sel.Shots, sel.Characters); err != nil {
		return Result{}, err
	}
	if sel.MoodBoard != nil {
		s.MoodBoard = nonEmptyArtifacts(sel.MoodBoard)
	}
	s.Phase = models.PhasePortraits
	return o.newRun(s, sink, RenderOptions{}).drive(ctx), nil
}

// ContinueCharacters finalizes the character selection and runs Storyboard,
// stopping for review.
func (o *Orchestrator) ContinueCharacters(ctx context.Context, cp *models.Session, sel CharacterSelection, sink EventSink) (Result, error) {
	s, err := o.resume(cp, models.PhaseCharacterReview, models.PhaseStoryboard)
	if err != nil {
		return Result{}, err
	}
	if err := o.validate.Struct(sel); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := applyPlanEdits(s, sel.Shots, sel.Characters); err != nil {
		return Result{}, err
	}
	if sel.Portraits != nil {
		s.Portraits = sel.Portraits
	}
	if len(s.Shots) == 0 || len(s.Characters) == 0 {
		return Result{}, fmt.Errorf("%w: storyboard needs a shot plan and a character set", ErrInvalidInput)
	}
	s.Phase = models.PhaseStoryboard
	return o.newRun(s, sink, RenderOptions{}).drive(ctx), nil
}

// Render applies final prompt edits and renders every shot.
func (o *Orchestrator) Render(ctx context.Context, cp *models.Session, in RenderInput, sink EventSink) (Result, error) {
	s, err := o.resume(cp, models.PhaseReviewing, models.PhaseRenderingVideo)
	if err != nil {
		return Result{}, err
	}
	if err := o.validate.Struct(in); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	before := s.Shots
	if err := applyPlanEdits(s, in.Shots, nil); err != nil {
		return Result{}, err
	}
	if len(s.Shots) == 0 {
		return Result{}, fmt.Errorf("%w: nothing to render", ErrInvalidInput)
	}
	if in.Shots != nil {
		if err := realignShotArtifacts(s, before); err != nil {
			return Result{}, err
		}
	}
	s.Phase = models.PhaseRenderingVideo
	return o.newRun(s, sink, in.Options).drive(ctx), nil
}

// Rerun re-renders exactly one shot, optionally with an edited prompt. Every other
// clip is left as it was. A failed rerun marks the shot failed only if it has no clip.
func (o *Orchestrator) Rerun(ctx context.Context, cp *models.Session, in RerunInput, sink EventSink) (Result, error) {
	s, err := o.resume(cp, models.PhaseComplete)
	if err != nil {
		return Result{}, err
	}
	if err := o.validate.Struct(in); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	pos, ok := s.ShotPosition(in.ShotIndex)
	if !ok {
		return Result{}, fmt.Errorf("%w: %d", ErrShotNotFound, in.ShotIndex)
	}
	if p := strings.TrimSpace(in.Prompt); p != "" {
		s.Shots[pos].Prompt = p
	}
	if len(s.Clips) < len(s.Shots) {
		clips := make([]models.Clip, len(s.Shots))
		copy(clips, s.Clips)
		s.Clips = clips
	}

	r := o.newRun(s, sink, in.Options)
	rd := r.renderer()
	frameURL := ""
	if pos < len(s.Frames) {
		frameURL = s.Frames[pos].URL
	}
	r.em.StageStart(stageVideo, fmt.Sprintf("rerun shot %d", in.ShotIndex))
	clip, err := rd.renderOne(ctx, s.Shots[pos], frameURL)
	if err != nil {
		if s.Clips[pos].Empty() && !containsInt(s.FailedShots, in.ShotIndex) {
			s.FailedShots = append(s.FailedShots, in.ShotIndex)
		}
		r.em.StageComplete(stageVideo, 0, 1)
	} else {
		s.Clips[pos] = clip
		s.FailedShots = removeInt(s.FailedShots, in.ShotIndex)
		r.em.StageComplete(stageVideo, 1, 1)
	}
	return r.finish(), nil
}

// Advance continues a checkpoint from wherever it stands, dispatching on its
// effective phase. An errored checkpoint resumes at the phase that failed.
func (o *Orchestrator) Advance(ctx context.Context, actor Actor, cp *models.Session, in PhaseInput, sink EventSink) (Result, error) {
	if cp == nil {
		if in.Idea == nil {
			return Result{}, fmt.Errorf("%w: idea input required to start", ErrInvalidInput)
		}
		return o.Start(ctx, actor, *in.Idea, sink)
	}
	switch cp.EffectivePhase() {
	case models.PhaseIdea, models.PhaseScenes:
		s, err := o.resume(cp, models.PhaseIdea, models.PhaseScenes)
		if err != nil {
			return Result{}, err
		}
		if strings.TrimSpace(s.Prompt) == "" {
			return Result{}, fmt.Errorf("%w: prompt is empty", ErrInvalidInput)
		}
		return o.newRun(s, sink, RenderOptions{}).drive(ctx), nil
	case models.PhaseMoodBoardReview, models.PhasePortraits:
		var sel MoodBoardSelection
		if in.MoodBoard != nil {
			sel = *in.MoodBoard
		}
		return o.ContinueMoodBoard(ctx, cp, sel, sink)
	case models.PhaseCharacterReview, models.PhaseStoryboard:
		var sel CharacterSelection
		if in.Characters != nil {
			sel = *in.Characters
		}
		return o.ContinueCharacters(ctx, cp, sel, sink)
	case models.PhaseReviewing, models.PhaseRenderingVideo:
		var rin RenderInput
		if in.Render != nil {
			rin = *in.Render
		}
		return o.Render(ctx, cp, rin, sink)
	}
	return Result{}, fmt.Errorf("%w: %s", ErrWrongPhase, cp.Phase)
}

// resume copies the checkpoint and checks its effective phase is one of allowed.
// An errored checkpoint is reset to the phase that failed.
func (o *Orchestrator) resume(cp *models.Session, allowed ...models.Phase) (*models.Session, error) {
	if cp == nil {
		return nil, fmt.Errorf("%w: checkpoint required", ErrInvalidInput)
	}
	if cp.ID == "" {
		return nil, fmt.Errorf("%w: checkpoint has no session id", ErrInvalidInput)
	}
	phase := cp.EffectivePhase()
	ok := false
	for _, a := range allowed {
		if a == phase {
			ok = true
			break
		}
	}
	if !ok {
		return nil, fmt.Errorf("%w: at %s", ErrWrongPhase, phase)
	}
	s, err := cloneSession(cp)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	s.Phase = phase
	s.FailedPhase = ""
	s.Error = nil
	if s.Version == 0 {
		s.Version = models.CheckpointVersion
	}
	return s, nil
}

// cloneSession deep-copies through the checkpoint encoding so the caller's value is never mutated.
func cloneSession(cp *models.Session) (*models.Session, error) {
	data, err := models.EncodeCheckpoint(cp)
	if err != nil {
		return nil, err
	}
	return models.DecodeCheckpoint(data)
}

// applyPlanEdits replaces the shot plan and/or character set with user edits.
func applyPlanEdits(s *models.Session, shots []models.Shot, chars []models.Character) error {
	if shots != nil {
		seen := make(map[int]bool, len(shots))
		for _, sh := range shots {
			if seen[sh.Index] {
				return fmt.Errorf("%w: duplicate shot index %d", ErrInvalidInput, sh.Index)
			}
			seen[sh.Index] = true
		}
		s.Shots = shots
	}
	if chars != nil {
		s.Characters = dedupeCharacters(chars)
	}
	if shots != nil || chars != nil {
		s.Characters = models.CharacterScenes(s.Shots, s.Characters)
	}
	return nil
}

// realignShotArtifacts keeps Environments, Frames and Clips aligned with s.Shots after
// an edit that dropped or reordered shots. A shot index absent from before has no
// storyboard frame and is rejected.
func realignShotArtifacts(s *models.Session, before []models.Shot) error {
	pos := make(map[int]int, len(before))
	for i, sh := range before {
		pos[sh.Index] = i
	}
	var (
		envs   = make([]models.ImageArtifact, len(s.Shots))
		frames = make([]models.FrameArtifact, len(s.Shots))
		clips  = make([]models.Clip, len(s.Shots))
		kept   = make(map[int]bool, len(s.Shots))
	)
	for i, sh := range s.Shots {
		old, ok := pos[sh.Index]
		if !ok {
			return fmt.Errorf("%w: shot %d has no storyboard frame", ErrInvalidInput, sh.Index)
		}
		kept[sh.Index] = true
		if old < len(s.Environments) {
			envs[i] = s.Environments[old]
		}
		if old < len(s.Frames) {
			frames[i] = s.Frames[old]
		}
		if old < len(s.Clips) {
			clips[i] = s.Clips[old]
		}
	}
	if len(s.Environments) > 0 {
		s.Environments = envs
	}
	if len(s.Frames) > 0 {
		s.Frames = frames
	}
	if len(s.Clips) > 0 {
		s.Clips = clips
	}
	var failed []int
	for _, idx := range s.FailedShots {
		if kept[idx] {
			failed = append(failed, idx)
		}
	}
	s.FailedShots = failed
	return nil
}

func nonEmptyArtifacts(in []models.ImageArtifact) []models.ImageArtifact {
	out := make([]models.ImageArtifact, 0, len(in))
	for _, a := range in {
		if !a.Empty() {
			out = append(out, a)
		}
	}
	return out
}

func reportOf(err error) *models.ErrorReport {
	return gateway.NormalizePtr(err)
}

// run is one invocation over one session.
type run struct {
	o          *Orchestrator
	s          *models.Session
	em         *Emitter
	img        *imager
	renderOpts RenderOptions
	logger     *zap.Logger
}

func (o *Orchestrator) newRun(s *models.Session, sink EventSink, opts RenderOptions) *run {
	logger := o.logger.With(zap.String("session_id", s.ID))
	return &run{
		o:  o,
		s:  s,
		em: NewEmitter(s.ID, sink, o.logger),
		img: &imager{
			gw:        o.gw,
			store:     o.store,
			refs:      newRefCache(o.store),
			sessionID: s.ID,
			aspect:    s.AspectRatio,
			logger:    logger,
		},
		renderOpts: opts,
		logger:     logger,
	}
}

// stops are the phases an invocation ends at: the two gates, storyboard review and the end.
func stops(p models.Phase) bool {
	switch p {
	case models.PhaseMoodBoardReview, models.PhaseCharacterReview, models.PhaseReviewing, models.PhaseComplete:
		return true
	}
	return false
}

// drive executes phases until the session reaches a stop or a phase fails.
func (r *run) drive(ctx context.Context) Result {
	for !stops(r.s.Phase) {
		phase := r.s.Phase
		step := r.step(phase)
		if step == nil {
			r.fail(phase, fmt.Errorf("no stage for phase %s", phase))
			break
		}
		if err := ctx.Err(); err != nil {
			r.fail(phase, err)
			break
		}
		if err := step(ctx); err != nil {
			r.fail(phase, err)
			break
		}
		next, ok := phase.Next()
		if !ok {
			break
		}
		r.s.Phase = next
	}
	return r.finish()
}

func (r *run) step(p models.Phase) func(context.Context) error {
	switch p {
	case models.PhaseIdea:
		return r.idea
	case models.PhaseScenes:
		return r.scenes
	case models.PhasePortraits:
		return r.portraits
	case models.PhaseStoryboard:
		return r.storyboard
	case models.PhaseRenderingVideo:
		return r.render
	}
	return nil
}

func (r *run) finish() Result {
	r.s.UpdatedAt = r.o.now()
	switch {
	case r.s.Phase == models.PhaseComplete:
		r.em.PipelineComplete(r.s.Phase)
	case stops(r.s.Phase):
		// paused at a review point; the client continues with the returned checkpoint
		r.em.Log(string(r.s.Phase), "awaiting review")
	}
	return Result{Checkpoint: r.s, Events: r.em.Events(), Next: r.s.Phase}
}

// fail moves the session to Error and keeps every artifact produced so far.
func (r *run) fail(phase models.Phase, err error) {
	rep := reportOf(err)
	r.s.FailedPhase = phase
	r.s.Phase = models.PhaseError
	r.s.Error = rep
	r.em.PipelineError(phase, rep)
}

func (r *run) idea(ctx context.Context) error {
	r.em.StageStart(stageIdea, "developing concept")
	var refs []gateway.Image
	for _, u := range r.s.ReferenceImages {
		if ref, ok := r.img.load(ctx, u); ok {
			refs = append(refs, *ref.img)
		}
	}
	c, err := r.o.planner.Concept(ctx, r.s.Prompt, refs)
	if err != nil {
		return err
	}
	r.s.Concept = c
	r.em.Log(stageIdea, "concept: "+c.Title)
	r.em.StageComplete(stageIdea, 1, 1)
	return nil
}

func (r *run) scenes(ctx context.Context) error {
	if r.s.Concept == nil {
		return fmt.Errorf("%w: scenes need a concept", ErrInvalidInput)
	}
	r.em.StageStart(stageScenes, fmt.Sprintf("planning %d shot(s)", r.s.ShotCount))
	plan, err := r.o.planner.Plan(ctx, r.s.Prompt, r.s.Concept, r.s.ShotCount)
	if err != nil {
		return err
	}
	for _, note := range plan.Notes {
		r.em.Log(stageScenes, note)
	}
	r.s.Shots = plan.Shots
	r.s.Characters = plan.Characters
	r.em.StageComplete(stageScenes, len(plan.Shots), r.s.ShotCount)

	r.s.MoodBoard = moodBoard(ctx, r.img, r.em, r.s.Concept, r.o.opts.MoodBoardSize, r.s.ReferenceImages)
	return ctx.Err()
}

func (r *run) portraits(ctx context.Context) error {
	if len(r.s.Shots) == 0 {
		return fmt.Errorf("%w: portraits need a shot plan", ErrInvalidInput)
	}
	pg := &PortraitGenerator{img: r.img, em: r.em, concept: r.concept()}
	style, _ := r.s.StyleReference()
	r.s.Portraits = pg.Portraits(ctx, r.s.Characters, style.URL)
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.GroupReferences = pg.GroupReferences(ctx, r.s.Shots, r.s.Characters, r.s.Portraits)
	return ctx.Err()
}

func (r *run) storyboard(ctx context.Context) error {
	if len(r.s.Shots) == 0 || len(r.s.Characters) == 0 {
		return fmt.Errorf("%w: storyboard needs a shot plan and a character set", ErrInvalidInput)
	}
	concept := r.concept()

	r.em.StageStart(stageClustering, "grouping shots by location")
	cl := r.o.clusterer.Cluster(ctx, r.s.Shots)
	if cl.Fallback {
		r.em.Fallback(stageClustering, cl.Reason)
	}
	r.s.LocationGroups = BuildLocationGroups(r.s.Shots, cl.IDs)
	r.em.StageComplete(stageClustering, len(r.s.LocationGroups), len(r.s.Shots))
	if err := ctx.Err(); err != nil {
		return err
	}

	style, _ := r.s.StyleReference()
	eg := &EnvironmentGenerator{img: r.img, em: r.em, concept: concept}
	r.s.Environments = eg.Generate(ctx, r.s.Shots, r.s.LocationGroups, style.URL)
	if err := ctx.Err(); err != nil {
		return err
	}

	fs := &FrameSynthesizer{img: r.img, checker: r.o.checker, em: r.em, concept: concept}
	frames, err := fs.Synthesize(ctx, FrameInput{
		Shots:        r.s.Shots,
		Characters:   r.s.Characters,
		Groups:       r.s.LocationGroups,
		Environments: r.s.Environments,
		Portraits:    r.s.Portraits,
		GroupRefs:    r.s.GroupReferences,
	})
	r.s.Frames = frames
	return err
}

func (r *run) render(ctx context.Context) error {
	clips, failed := r.renderer().RenderAll(ctx, r.s.Shots, r.s.Frames)
	r.s.Clips = clips
	r.s.FailedShots = failed
	return ctx.Err()
}

func (r *run) renderer() *Renderer {
	return &Renderer{
		img:      r.img,
		recorder: r.o.recorder,
		em:       r.em,
		concept:  r.s.Concept,
		opts:     r.renderOpts,
		limit:    r.o.opts.RenderConcurrency,
	}
}

func (r *run) concept() *models.Concept {
	if r.s.Concept != nil {
		return r.s.Concept
	}
	return &models.Concept{}
}
