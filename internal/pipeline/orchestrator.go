// Package pipeline drives the studio's staged run: color analysis, design
// clone or redesign, background removal, print resizing, and the concurrent
// per-product mockup fan-out.
package pipeline

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"studio/internal/domain"
	"studio/internal/imaging"
	"studio/internal/providers/prompt"
)

// ImageGenerator produces one image from a prompt and a conditioning image.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, apiKey, promptText string, input imaging.Image) (imaging.Image, error)
}

// DesignAnalyzer learns the dominant color and base prompt of an uploaded
// design.
type DesignAnalyzer interface {
	AnalyzeDesign(ctx context.Context, apiKey string, mode domain.RunMode, input imaging.Image) (domain.AnalysisResult, error)
}

// BackgroundRemover strips the background from a generated design.
type BackgroundRemover interface {
	RemoveBackground(ctx context.Context, apiKey string, input imaging.Image) (imaging.Image, error)
}

// CopyGenerator authors marketing copy for a finished design.
type CopyGenerator interface {
	GenerateDetails(ctx context.Context, apiKey string, input imaging.Image) (domain.ProductDetails, error)
}

// RunRecorder persists run lifecycle records. It is optional; a nil recorder
// disables persistence.
type RunRecorder interface {
	Create(ctx context.Context, run *domain.Run) error
	Finish(ctx context.Context, runID string, status domain.RunStatus, errMessage string, snapshot []byte) error
	SaveDetails(ctx context.Context, runID string, details domain.ProductDetails) error
}

// Options wires the orchestrator's collaborators.
type Options struct {
	Generator ImageGenerator
	Analyzer  DesignAnalyzer
	Remover   BackgroundRemover
	Copy      CopyGenerator
	Store     *Store
	Recorder  RunRecorder
	Logger    *zerolog.Logger
}

// Orchestrator owns the per-run state machine. It never retries anything on
// its own and has no side effects beyond invoking collaborators and updating
// the store.
type Orchestrator struct {
	generator ImageGenerator
	analyzer  DesignAnalyzer
	remover   BackgroundRemover
	copygen   CopyGenerator
	store     *Store
	recorder  RunRecorder
	logger    zerolog.Logger

	doneMu sync.Mutex
	done   map[string]chan struct{}
}

func New(opts Options) *Orchestrator {
	logger := zerolog.New(io.Discard)
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	store := opts.Store
	if store == nil {
		store = NewStore()
	}
	return &Orchestrator{
		generator: opts.Generator,
		analyzer:  opts.Analyzer,
		remover:   opts.Remover,
		copygen:   opts.Copy,
		store:     store,
		recorder:  opts.Recorder,
		logger:    logger,
		done:      make(map[string]chan struct{}),
	}
}

// Store exposes the run store for snapshot queries.
func (o *Orchestrator) Store() *Store {
	return o.store
}

// StartRun validates the input, creates the run record, and executes the
// stage sequence asynchronously. It returns the run id immediately; callers
// observe progress through snapshots.
//
// The image-generation credential is checked before anything else: a missing
// key fails the run up front with zero collaborator calls.
func (o *Orchestrator) StartRun(ctx context.Context, sessionID string, input imaging.Image, cfg domain.RunConfiguration, creds domain.Credentials) (string, error) {
	if strings.TrimSpace(creds.GeminiAPIKey) == "" {
		return "", domain.Errf(domain.ErrKindMissingCredential, "image generation key is missing")
	}
	if input.IsZero() {
		return "", domain.Errf(domain.ErrKindInvalidInput, "no image provided")
	}
	if err := cfg.Validate(); err != nil {
		return "", err
	}

	run := domain.NewRun(uuid.NewString(), sessionID, cfg)
	o.store.Put(run)
	if o.recorder != nil {
		if err := o.recorder.Create(ctx, run); err != nil {
			o.logger.Warn().Err(err).Str("run_id", run.ID).Msg("pipeline: failed to record run start")
		}
	}

	o.doneMu.Lock()
	o.done[run.ID] = make(chan struct{})
	o.doneMu.Unlock()

	// The run outlives the originating request; collaborator calls carry
	// their own timeouts.
	go o.execute(context.Background(), run.ID, input, cfg, creds)

	return run.ID, nil
}

// Done returns a channel closed when the run's stage sequence and mockup
// fan-out have fully settled.
func (o *Orchestrator) Done(runID string) <-chan struct{} {
	o.doneMu.Lock()
	defer o.doneMu.Unlock()
	ch, ok := o.done[runID]
	if !ok {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return ch
}

func (o *Orchestrator) execute(ctx context.Context, runID string, input imaging.Image, cfg domain.RunConfiguration, creds domain.Credentials) {
	defer o.signalDone(runID)

	analysis, err := o.analyzer.AnalyzeDesign(ctx, creds.GeminiAPIKey, cfg.Mode, input)
	if err != nil {
		// Analysis is part of the critical path: its failure aborts the
		// run exactly like a clone failure, under its own kind.
		o.failCriticalPath(ctx, runID, domain.StageAnalysis, domain.WrapErr(domain.ErrKindAnalysisFailed, err))
		return
	}
	o.store.Update(runID, func(run *domain.Run) {
		result := analysis
		run.Analysis = &result
	})

	clonePrompt := prompt.ComposeClonePrompt(analysis.BasePrompt, cfg.AdditionalInstructions)
	cloned, err := o.generator.GenerateImage(ctx, creds.GeminiAPIKey, clonePrompt, input)
	if err != nil {
		o.failCriticalPath(ctx, runID, domain.StageClone, err)
		return
	}
	o.setStage(runID, domain.StageClone, domain.StageSuccess, cloned.DataURL())

	transparent, err := o.remover.RemoveBackground(ctx, creds.RemoveBgAPIKey, cloned)
	if err != nil {
		o.failCriticalPath(ctx, runID, domain.StageBackgroundRemoval, err)
		return
	}
	o.setStage(runID, domain.StageBackgroundRemoval, domain.StageSuccess, transparent.DataURL())

	resized, err := imaging.ResizeToCanvas(transparent, imaging.PrintWidth, imaging.PrintHeight)
	if err != nil {
		o.failCriticalPath(ctx, runID, domain.StageResize, err)
		return
	}
	o.setStage(runID, domain.StageResize, domain.StageSuccess, resized.DataURL())

	o.fanOutMockups(ctx, runID, cfg, analysis.DominantColor, resized, creds)

	o.store.Update(runID, func(run *domain.Run) {
		run.Status = domain.RunStatusSucceeded
		run.UpdatedAt = time.Now().UTC()
	})
	o.recordFinish(ctx, runID, domain.RunStatusSucceeded, "")
	o.logger.Info().Str("run_id", runID).Msg("pipeline: run completed")
}

// fanOutMockups issues one generation call per selected product concurrently
// and joins the whole batch. Each call resolves only its own item; one bad
// mockup never fails or blocks the others.
func (o *Orchestrator) fanOutMockups(ctx context.Context, runID string, cfg domain.RunConfiguration, dominantColor string, resized imaging.Image, creds domain.Credentials) {
	if len(cfg.SelectedProductIDs) == 0 {
		return
	}
	var eg errgroup.Group
	for _, pid := range cfg.SelectedProductIDs {
		product, ok := domain.ProductByID(pid)
		if !ok {
			continue
		}
		eg.Go(func() error {
			o.generateMockup(ctx, runID, product, dominantColor, cfg.AdditionalInstructions, resized, creds.GeminiAPIKey)
			return nil
		})
	}
	_ = eg.Wait()
}

// generateMockup runs one per-product call and records its outcome against
// that product's slot only. Failures are logged here and never reach the
// run's top-level error channel.
func (o *Orchestrator) generateMockup(ctx context.Context, runID string, product domain.Product, dominantColor, instructions string, resized imaging.Image, apiKey string) {
	scene := prompt.MockupScenePrompt(product, dominantColor)
	mockup, err := o.generator.GenerateImage(ctx, apiKey, prompt.ComposeMockupPrompt(scene, instructions), resized)
	if err != nil {
		o.logger.Warn().Err(err).Str("run_id", runID).Str("product", product.ID).Msg("pipeline: mockup generation failed")
		o.store.UpdateMockup(runID, product.ID, func(item *domain.MockupItem) {
			item.Status = domain.StageFailed
			item.ImageURL = ""
			item.Error = err.Error()
		})
		return
	}
	o.store.UpdateMockup(runID, product.ID, func(item *domain.MockupItem) {
		item.Status = domain.StageSuccess
		item.ImageURL = mockup.DataURL()
		item.Error = ""
	})
}

// RetryMockup re-enters the generation call for one failed item in isolation.
// It requires a resized design and runs asynchronously like the original
// fan-out. Only failed items are retryable: a pending item still has a live
// writer, and re-entering a successful one would race it.
func (o *Orchestrator) RetryMockup(ctx context.Context, runID, productID string, creds domain.Credentials) error {
	if strings.TrimSpace(creds.GeminiAPIKey) == "" {
		return domain.Errf(domain.ErrKindMissingCredential, "image generation key is missing")
	}
	run, err := o.store.Get(runID)
	if err != nil {
		return err
	}
	item := run.Mockup(productID)
	if item == nil {
		return domain.ErrNotFound
	}
	if item.Status != domain.StageFailed {
		return domain.Errf(domain.ErrKindInvalidInput, "mockup %s is not in a failed state", productID)
	}
	if run.Resized.Status != domain.StageSuccess {
		return domain.Errf(domain.ErrKindInvalidInput, "run has no resized design to mock up")
	}
	resized, err := imaging.ParseDataURL(run.Resized.ImageURL)
	if err != nil {
		return err
	}
	product, ok := domain.ProductByID(productID)
	if !ok {
		return domain.ErrNotFound
	}

	var dominantColor string
	if run.Analysis != nil {
		dominantColor = run.Analysis.DominantColor
	}
	o.store.UpdateMockup(runID, productID, func(item *domain.MockupItem) {
		item.Status = domain.StagePending
		item.Error = ""
	})
	go o.generateMockup(context.Background(), runID, product, dominantColor, run.Config.AdditionalInstructions, resized, creds.GeminiAPIKey)
	return nil
}

// GenerateDetails authors marketing copy for the run's resized design. It is
// independent of the mockup items and may be invoked at most once per
// resized design by the caller.
func (o *Orchestrator) GenerateDetails(ctx context.Context, runID string, creds domain.Credentials) (domain.ProductDetails, error) {
	if strings.TrimSpace(creds.GeminiAPIKey) == "" {
		return domain.ProductDetails{}, domain.Errf(domain.ErrKindMissingCredential, "image generation key is missing")
	}
	run, err := o.store.Get(runID)
	if err != nil {
		return domain.ProductDetails{}, err
	}
	if run.Resized.Status != domain.StageSuccess {
		return domain.ProductDetails{}, domain.Errf(domain.ErrKindInvalidInput, "run has no resized design yet")
	}
	resized, err := imaging.ParseDataURL(run.Resized.ImageURL)
	if err != nil {
		return domain.ProductDetails{}, err
	}
	details, err := o.copygen.GenerateDetails(ctx, creds.GeminiAPIKey, resized)
	if err != nil {
		return domain.ProductDetails{}, err
	}
	o.store.Update(runID, func(run *domain.Run) {
		d := details
		run.Details = &d
		run.UpdatedAt = time.Now().UTC()
	})
	if o.recorder != nil {
		if err := o.recorder.SaveDetails(ctx, runID, details); err != nil {
			o.logger.Warn().Err(err).Str("run_id", runID).Msg("pipeline: failed to record details")
		}
	}
	return details, nil
}

// setStage records a stage transition and keeps the Success<->ImageURL
// invariant of StagedAsset.
func (o *Orchestrator) setStage(runID string, stage domain.Stage, status domain.StageStatus, imageURL string) {
	o.store.Update(runID, func(run *domain.Run) {
		asset := stageAsset(run, stage)
		if asset == nil {
			return
		}
		asset.Status = status
		if status == domain.StageSuccess {
			asset.ImageURL = imageURL
		} else {
			asset.ImageURL = ""
		}
		now := time.Now().UTC()
		run.Transitions = append(run.Transitions, domain.Transition{Stage: stage, Status: status, At: now})
		run.UpdatedAt = now
	})
}

// failCriticalPath marks the failing stage and every not-yet-attempted
// downstream single-output stage Failed, fails all still-pending mockups,
// and surfaces one human-readable message on the run.
func (o *Orchestrator) failCriticalPath(ctx context.Context, runID string, failed domain.Stage, err error) {
	o.logger.Warn().Err(err).Str("run_id", runID).Str("stage", string(failed)).Msg("pipeline: critical path failed")
	o.store.Update(runID, func(run *domain.Run) {
		now := time.Now().UTC()
		for _, stage := range []domain.Stage{domain.StageClone, domain.StageBackgroundRemoval, domain.StageResize} {
			if !downstreamOf(stage, failed) {
				continue
			}
			asset := stageAsset(run, stage)
			if asset.Status.Terminal() {
				continue
			}
			asset.Status = domain.StageFailed
			asset.ImageURL = ""
			run.Transitions = append(run.Transitions, domain.Transition{Stage: stage, Status: domain.StageFailed, At: now})
		}
		for i := range run.Mockups {
			if !run.Mockups[i].Status.Terminal() {
				run.Mockups[i].Status = domain.StageFailed
				run.Mockups[i].Error = "upstream stage failed"
			}
		}
		run.Status = domain.RunStatusFailed
		run.Error = err.Error()
		run.UpdatedAt = now
	})
	o.recordFinish(ctx, runID, domain.RunStatusFailed, err.Error())
}

// downstreamOf reports whether stage is at or below failed on the critical
// path. An analysis failure cascades from the clone stage down.
func downstreamOf(stage, failed domain.Stage) bool {
	order := map[domain.Stage]int{
		domain.StageAnalysis:          0,
		domain.StageClone:             1,
		domain.StageBackgroundRemoval: 2,
		domain.StageResize:            3,
	}
	return order[stage] >= order[failed]
}

func stageAsset(run *domain.Run, stage domain.Stage) *domain.StagedAsset {
	switch stage {
	case domain.StageClone:
		return &run.Cloned
	case domain.StageBackgroundRemoval:
		return &run.BackgroundRemoved
	case domain.StageResize:
		return &run.Resized
	default:
		return nil
	}
}

func (o *Orchestrator) recordFinish(ctx context.Context, runID string, status domain.RunStatus, errMessage string) {
	if o.recorder == nil {
		return
	}
	run, err := o.store.Get(runID)
	if err != nil {
		return
	}
	snapshot, err := json.Marshal(run)
	if err != nil {
		snapshot = nil
	}
	if err := o.recorder.Finish(ctx, runID, status, errMessage, snapshot); err != nil {
		o.logger.Warn().Err(err).Str("run_id", runID).Msg("pipeline: failed to record run finish")
	}
}

func (o *Orchestrator) signalDone(runID string) {
	o.doneMu.Lock()
	ch, ok := o.done[runID]
	delete(o.done, runID)
	o.doneMu.Unlock()
	if ok {
		close(ch)
	}
}
