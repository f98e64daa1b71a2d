// Package pipeline orchestrates a try-on run: quality gate, face
// extraction, scene authority, generation, face overwrite, optional
// refinement. The one invariant it exists to uphold is that no generator
// output ever reaches the user without the reference face pixels pasted
// back over it.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/DridhaTeamHQ/Tria-pilot-sub001/internal/compositor"
	"github.com/DridhaTeamHQ/Tria-pilot-sub001/internal/config"
	"github.com/DridhaTeamHQ/Tria-pilot-sub001/internal/drift"
	"github.com/DridhaTeamHQ/Tria-pilot-sub001/internal/generator"
	"github.com/DridhaTeamHQ/Tria-pilot-sub001/internal/imaging"
	"github.com/DridhaTeamHQ/Tria-pilot-sub001/internal/policy"
	"github.com/DridhaTeamHQ/Tria-pilot-sub001/internal/promptbuild"
	"github.com/DridhaTeamHQ/Tria-pilot-sub001/internal/quality"
	"github.com/DridhaTeamHQ/Tria-pilot-sub001/internal/scene"
)

// User-visible run statuses. Internal errors are logged, never surfaced
// verbatim.
const (
	StatusOK               = "PASS"
	StatusInvalidInput     = "invalid input image"
	StatusNoFace           = "no face detected"
	StatusGenerationFailed = "generation failed, please retry"
	StatusRateLimited      = "rate limited, try again later"
)

// Stage names for the trace.
const (
	StageQualityGate    = "quality_gate"
	StageFaceExtraction = "face_extraction"
	StageSceneAuthority = "scene_authority"
	StagePromptBuild    = "prompt_build"
	StageGeneration     = "generation"
	StageFaceOverwrite  = "face_overwrite"
	StageValidation     = "validation"
	StageRefinement     = "refinement"
)

// StageResult statuses.
const (
	StageOK   = "PASS"
	StageFail = "FAIL"
	StageSkip = "SKIP"
)

// StageResult is one trace entry.
type StageResult struct {
	Stage      string `json:"stage"`
	Status     string `json:"status"`
	Detail     string `json:"detail,omitempty"`
	Attempt    int    `json:"attempt,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Debug carries run internals for diagnosis, not for user display.
type Debug struct {
	RunID           string  `json:"run_id"`
	FaceOverwritten bool    `json:"face_overwritten"`
	Attempts        int     `json:"attempts"`
	DriftPercent    float64 `json:"drift_percent"`
	LightingDelta   float64 `json:"lighting_delta"`
}

// Request is one try-on run.
type Request struct {
	UserID       string
	PersonImage  []byte
	PersonMIME   string
	GarmentImage []byte
	GarmentMIME  string

	// FaceBox is the detector-provided face bounding box; nil falls back to
	// the extraction heuristic.
	FaceBox *imaging.Box

	// SkipQualityGate bypasses stage 0 entirely.
	SkipQualityGate bool

	// Refine requests the optional scene/lighting refinement pass.
	Refine bool

	// OutputFormat is png, jpeg, or webp; empty defaults to png.
	OutputFormat string

	User promptbuild.UserRequest
}

// Result is the run outcome.
type Result struct {
	Success    bool          `json:"success"`
	Status     string        `json:"status"`
	FinalImage []byte        `json:"-"`
	MIMEType   string        `json:"mime_type,omitempty"`
	Warnings   []string      `json:"warnings,omitempty"`
	StageTrace []StageResult `json:"stage_trace"`
	Debug      Debug         `json:"debug"`
}

// Orchestrator wires the pipeline stages together. Safe for concurrent
// runs: all per-run state lives on the stack of Run.
type Orchestrator struct {
	cfg        config.Config
	timeouts   config.TimeoutConfig
	compositor *compositor.Compositor
	classifier *scene.Classifier
	scorer     *drift.Scorer
	engine     *policy.Engine
	generator  generator.Generator
	analyzer   quality.Analyzer
	builder    promptbuild.Builder
	traces     *TraceStore
}

// New assembles an Orchestrator from its collaborators.
func New(cfg config.Config, timeouts config.TimeoutConfig, gen generator.Generator, analyzer quality.Analyzer) *Orchestrator {
	limiter := policy.NewRateLimiter(
		cfg.MaxRetriesPerSession,
		time.Duration(cfg.RateWindowSeconds)*time.Second,
		0, nil,
	)
	return &Orchestrator{
		cfg:      cfg,
		timeouts: timeouts,
		compositor: compositor.New(compositor.Config{
			ExpandFactor:    cfg.FaceExpandFactor,
			FeatherRadiusPx: cfg.FeatherRadiusPx,
		}),
		classifier: scene.NewClassifier(cfg.SceneCacheSize),
		scorer: drift.New(drift.Config{
			PassPercent:     cfg.DriftPassPercent,
			SoftPassPercent: cfg.DriftSoftPassPercent,
			FailOpen:        cfg.DriftFailOpen,
		}),
		engine:    policy.NewEngine(limiter, cfg.MaxLightingDeltaPercent),
		generator: gen,
		analyzer:  analyzer,
		builder:   promptbuild.NewDefault(),
		traces:    NewTraceStore(cfg.TraceRetention),
	}
}

// Traces exposes the bounded run-trace store.
func (o *Orchestrator) Traces() *TraceStore {
	return o.traces
}

// run tracks the mutable state of one Run invocation.
type run struct {
	result  *Result
	started time.Time
}

func (r *run) stage(stage, status, detail string, attempt int, started time.Time) {
	r.result.StageTrace = append(r.result.StageTrace, StageResult{
		Stage:      stage,
		Status:     status,
		Detail:     detail,
		Attempt:    attempt,
		DurationMs: time.Since(started).Milliseconds(),
	})
}

func (r *run) warn(msg string) {
	r.result.Warnings = append(r.result.Warnings, msg)
}

// Run executes the full pipeline for one request. It always returns a
// Result; errors are reflected in Status, never panics or raw error text.
func (o *Orchestrator) Run(ctx context.Context, req Request) *Result {
	runID := uuid.New().String()
	r := &run{
		result:  &Result{Status: StatusOK, Debug: Debug{RunID: runID}},
		started: time.Now(),
	}
	defer func() {
		o.traces.Put(runID, r.result)
		log.Info().
			Str("run_id", runID).
			Bool("success", r.result.Success).
			Str("status", r.result.Status).
			Int("attempts", r.result.Debug.Attempts).
			Dur("duration", time.Since(r.started)).
			Msg("Pipeline run finished")
	}()

	log.Info().
		Str("run_id", runID).
		Str("user_id", req.UserID).
		Int("person_bytes", len(req.PersonImage)).
		Int("garment_bytes", len(req.GarmentImage)).
		Bool("refine", req.Refine).
		Msg("Pipeline run started")

	// Stage 0: quality gate. Only a missing face is fatal.
	o.runQualityGate(ctx, req, r)
	if r.result.Status == StatusNoFace {
		return r.result
	}

	// Stage 1: face pixel extraction. Unrecoverable when it fails.
	person, region := o.extractFace(req, r)
	if region == nil {
		return r.result
	}

	// Stage 1.5: scene authority, best-effort with a strict fallback.
	authority := o.detectAuthority(person, r)

	// Stages 2-4 under the retry ladder.
	final := o.generateLoop(ctx, req, r, person, region, authority)
	if final == nil {
		return r.result
	}

	// Stage 5: optional refinement, never allowed to lose face safety. A
	// caller that has already disconnected does not pay for another
	// generator call; the frame in hand is face-safe as is.
	if req.Refine {
		if err := ctx.Err(); err != nil {
			r.stage(StageRefinement, StageSkip, "canceled by caller", 0, time.Now())
		} else {
			final = o.refine(ctx, req, r, region, final)
		}
	}

	format := req.OutputFormat
	if format == "" {
		format = "png"
	}
	encoded, err := imaging.Encode(final, format)
	if err != nil {
		log.Error().Err(err).Str("run_id", runID).Str("format", format).Msg("Failed to encode final image")
		r.result.Success = false
		r.result.Status = StatusGenerationFailed
		return r.result
	}

	r.result.Success = true
	r.result.Status = StatusOK
	r.result.FinalImage = encoded
	r.result.MIMEType = "image/" + format
	return r.result
}

// runQualityGate runs stage 0. EXIF inspection piggybacks here because both
// produce stage-0 warnings.
func (o *Orchestrator) runQualityGate(ctx context.Context, req Request, r *run) {
	started := time.Now()

	if meta, err := imaging.InspectMetadata(req.PersonImage); err == nil && meta != nil {
		if summary := meta.Summary(); summary != "" {
			r.warn("source photo: " + summary)
		}
	}

	if req.SkipQualityGate {
		r.stage(StageQualityGate, StageSkip, "skipped by caller", 0, started)
		return
	}

	gateCtx, cancel := context.WithTimeout(ctx, o.timeouts.QualityGate)
	defer cancel()

	report, err := o.analyzer.Assess(gateCtx, req.PersonImage, req.PersonMIME)
	if err != nil {
		// The gate is advisory except for the face check; an unavailable
		// analyzer downgrades to a warning.
		log.Warn().Err(err).Msg("Quality gate unavailable")
		r.stage(StageQualityGate, StageFail, "analyzer unavailable", 0, started)
		r.warn("input quality could not be verified")
		return
	}

	if !report.FaceVisible {
		r.stage(StageQualityGate, StageFail, "no visible face", 0, started)
		r.result.Success = false
		r.result.Status = StatusNoFace
		return
	}

	for _, w := range report.Warnings() {
		r.warn(w)
	}
	r.stage(StageQualityGate, StageOK, "", 0, started)
}

// extractFace runs stage 1 and returns the decoded person buffer plus the
// face region, or (nil, nil) after recording the fatal trace entry.
func (o *Orchestrator) extractFace(req Request, r *run) (*imaging.Buffer, *compositor.FaceRegion) {
	started := time.Now()

	person, err := imaging.Decode(req.PersonImage)
	if err != nil {
		log.Error().Err(err).Msg("Failed to decode person image")
		r.stage(StageFaceExtraction, StageFail, "undecodable input", 0, started)
		r.result.Success = false
		r.result.Status = StatusInvalidInput
		return nil, nil
	}

	region := o.compositor.Extract(person, req.FaceBox)
	if region == nil {
		r.stage(StageFaceExtraction, StageFail, "no extractable face region", 0, started)
		r.result.Success = false
		r.result.Status = StatusNoFace
		return nil, nil
	}

	r.stage(StageFaceExtraction, StageOK, "", 0, started)
	return person, region
}

// detectAuthority runs stage 1.5. Failures degrade to the strict default,
// never abort.
func (o *Orchestrator) detectAuthority(person *imaging.Buffer, r *run) scene.Authority {
	started := time.Now()

	if person == nil {
		r.stage(StageSceneAuthority, StageFail, "fell back to strict default", 0, started)
		return scene.StrictDefaultAuthority(o.cfg.MaxLightingDeltaPercent)
	}

	authority := o.classifier.DetectAuthority(person, o.cfg.MaxLightingDeltaPercent)
	r.stage(StageSceneAuthority, StageOK, string(authority.DetectedEnvironment), 0, started)
	return authority
}

// generateLoop drives stages 2-4 under the policy engine's retry ladder.
// Returns the face-safe composited buffer, or nil with the result already
// marked failed.
func (o *Orchestrator) generateLoop(ctx context.Context, req Request, r *run, person *imaging.Buffer, region *compositor.FaceRegion, authority scene.Authority) *imaging.Buffer {
	constraints := policy.DefaultConstraints(o.cfg.MaxLightingDeltaPercent)

	for attempt := 1; ; attempt++ {
		// Cancellation is honored at stage transitions, never mid-call: a
		// disconnected client stops the run before the next generation.
		if err := ctx.Err(); err != nil {
			log.Warn().Err(err).Int("attempt", attempt).Msg("Run canceled before generation")
			r.stage(StageGeneration, StageSkip, "canceled by caller", attempt, time.Now())
			r.result.Success = false
			r.result.Status = StatusGenerationFailed
			return nil
		}

		r.result.Debug.Attempts = attempt

		// Stage 2: prompt assembly, minimal fallback on failure.
		promptStart := time.Now()
		params, err := o.builder.Build(authority, req.User, constraints)
		if err != nil {
			log.Warn().Err(err).Msg("Prompt build failed")
			r.stage(StagePromptBuild, StageFail, "minimal fallback", attempt, promptStart)
			params = promptbuild.Minimal(req.User)
		} else {
			r.stage(StagePromptBuild, StageOK, "", attempt, promptStart)
		}

		// Stage 3: generation. Output is untrusted until composited.
		genStart := time.Now()
		genCtx, cancel := context.WithTimeout(ctx, o.timeouts.Generation)
		genResult, err := o.generator.Generate(genCtx, generator.Request{
			PersonImage:  req.PersonImage,
			PersonMIME:   req.PersonMIME,
			GarmentImage: req.GarmentImage,
			GarmentMIME:  req.GarmentMIME,
			Prompt:       params.Prompt,
			SystemPrompt: params.SystemPrompt,
			Temperature:  params.Temperature,
			Mode:         params.Mode,
		})
		cancel()
		if err != nil {
			log.Error().Err(err).Int("attempt", attempt).Msg("Generation failed")
			r.stage(StageGeneration, StageFail, "generator error", attempt, genStart)
			r.result.Success = false
			r.result.Status = StatusGenerationFailed
			return nil
		}

		genBuf, err := imaging.Decode(genResult.ImageData)
		if err != nil {
			log.Error().Err(err).Int("attempt", attempt).Msg("Generated image undecodable")
			r.stage(StageGeneration, StageFail, "undecodable output", attempt, genStart)
			r.result.Success = false
			r.result.Status = StatusGenerationFailed
			return nil
		}
		r.stage(StageGeneration, StageOK, "", attempt, genStart)

		// Stage 4: mandatory face overwrite. The raw generated buffer is
		// dead after this point regardless of outcome.
		overwriteStart := time.Now()
		composite := o.compositor.Composite(genBuf, region)
		if !composite.Success {
			log.Error().Str("reason", composite.Err).Int("attempt", attempt).Msg("Face overwrite failed")
			r.stage(StageFaceOverwrite, StageFail, composite.Err, attempt, overwriteStart)
			r.result.Success = false
			r.result.Status = StatusGenerationFailed
			return nil
		}
		r.result.Debug.FaceOverwritten = true
		r.stage(StageFaceOverwrite, StageOK, "", attempt, overwriteStart)

		// Validation: drift on the raw generated frame, scene consistency
		// against the authority.
		valStart := time.Now()
		metrics := o.scorer.Score(person, genBuf)
		lightingDelta, sceneSwitched, sceneOK := authority.ValidateAgainst(o.classifier, person, genBuf)
		r.result.Debug.DriftPercent = metrics.WeightedDriftPercent
		r.result.Debug.LightingDelta = lightingDelta

		failure := policy.FailureNone
		detail := string(metrics.Status)
		switch {
		case metrics.Status == drift.StatusRetry:
			failure = policy.FailureDrift
		case sceneSwitched:
			failure = policy.FailureSceneSwitch
			detail = "scene switched"
		case !sceneOK:
			failure = policy.FailureLightingDelta
			detail = "lighting delta exceeded"
		}

		// Creative mode gets a second safety net: even an attempt that
		// cleared drift and scene checks is inspected for identity
		// over-correction before it is accepted.
		if failure == policy.FailureNone && params.Mode == generator.ModeCreative && !metrics.ExtractionFailed {
			guard := policy.GuardOverCorrection(identityDeltaFrom(metrics), policy.DefaultStrictThresholds())
			if guard.Action == policy.GuardRetryStricter && attempt < 3 {
				r.stage(StageValidation, StageFail, "over-correction guard: stricter retry", attempt, valStart)
				constraints.ForcedTemperature = guard.ForcedTemperature
				log.Info().
					Int("next_attempt", attempt+1).
					Float64("forced_temperature", guard.ForcedTemperature).
					Msg("Retrying creative generation at minimum temperature")
				continue
			}
			if guard.Action != policy.GuardAccept {
				// FALLBACK_TO_FLASH, or stricter retries exhausted. The
				// composited frame already carries deterministic face
				// pixels, so the fallback is the output in hand.
				r.stage(StageValidation, StageOK, "over-correction guard: deterministic fallback", attempt, valStart)
				r.warn("creative generation altered the subject; kept deterministic face pixels")
				return composite.Output
			}
		}

		decision := o.engine.Next(req.UserID, attempt, failure, lightingDelta, constraints)
		if failure == policy.FailureNone {
			r.stage(StageValidation, StageOK, detail, attempt, valStart)
		} else {
			r.stage(StageValidation, StageFail, detail, attempt, valStart)
		}

		switch decision.Action {
		case policy.ActionAccept:
			if metrics.Status == drift.StatusSoftPass {
				r.warn("slight face drift detected in the generated frame")
			}
			if metrics.ExtractionFailed {
				r.warn("face drift could not be measured for this attempt")
			}
			return composite.Output

		case policy.ActionAbort:
			r.result.Success = false
			if decision.Reason == StatusRateLimited {
				r.result.Status = StatusRateLimited
			} else {
				r.result.Status = StatusGenerationFailed
			}
			return nil

		default:
			// RETRY_STRICT or DOWNGRADE_REALISM: loop with the adjusted
			// constraints.
			constraints = decision.Constraints
			log.Info().
				Str("action", string(decision.Action)).
				Int("next_attempt", attempt+1).
				Msg("Retrying generation with adjusted constraints")
		}
	}
}

// identityDeltaFrom projects pixel drift metrics onto the identity-delta
// shape the over-correction guard judges. Shoulder and body shifts are not
// measurable from face-region drift and stay zero.
func identityDeltaFrom(m drift.Metrics) policy.IdentityDelta {
	return policy.IdentityDelta{
		FaceSimilarity:   1.0 - m.WeightedDriftPercent/100.0,
		EyeShiftPercent:  m.PerFeatureDeltaPercent[drift.FeatureEyeSpacingDelta],
		NoseShiftPercent: m.PerFeatureDeltaPercent[drift.FeatureCheekVolumeRatio],
		JawShiftPercent:  m.PerFeatureDeltaPercent[drift.FeatureJawContourVar],
	}
}

// refinePrompt restricts the refinement pass to scene-only edits. The
// re-composite after it is still mandatory.
const refinePrompt = `Refine only the environment and lighting of this image for photorealism.
Treat the person - face, hair, skin, body, and clothing - as read-only.
Do not add, remove, or move any objects.`

// refine runs stage 5. Every failure path keeps the already face-safe
// pre-refinement image.
func (o *Orchestrator) refine(ctx context.Context, req Request, r *run, region *compositor.FaceRegion, current *imaging.Buffer) *imaging.Buffer {
	started := time.Now()

	encoded, err := imaging.Encode(current, "png")
	if err != nil {
		log.Warn().Err(err).Msg("Could not encode frame for refinement")
		r.stage(StageRefinement, StageFail, "encode failed, kept unrefined image", 0, started)
		return current
	}

	refineCtx, cancel := context.WithTimeout(ctx, o.timeouts.Refinement)
	defer cancel()

	result, err := o.generator.Generate(refineCtx, generator.Request{
		PersonImage:  encoded,
		PersonMIME:   "image/png",
		Prompt:       refinePrompt,
		SystemPrompt: refinePrompt,
		Temperature:  0.2,
		Mode:         generator.ModeDeterministic,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Refinement pass failed")
		r.stage(StageRefinement, StageFail, "generator error, kept unrefined image", 0, started)
		r.warn("scene refinement unavailable for this result")
		return current
	}

	refined, err := imaging.Decode(result.ImageData)
	if err != nil {
		log.Warn().Err(err).Msg("Refined image undecodable")
		r.stage(StageRefinement, StageFail, "undecodable output, kept unrefined image", 0, started)
		return current
	}

	// Refinement may have touched the face region; re-composite before
	// accepting it.
	composite := o.compositor.Composite(refined, region)
	if !composite.Success {
		log.Warn().Str("reason", composite.Err).Msg("Re-composite after refinement failed")
		r.stage(StageRefinement, StageFail, "re-composite failed, kept unrefined image", 0, started)
		return current
	}

	r.stage(StageRefinement, StageOK, "", 0, started)
	return composite.Output
}
