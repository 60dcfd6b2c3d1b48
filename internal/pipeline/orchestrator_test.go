package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"testing"
	"time"

	"studio/internal/domain"
	"studio/internal/imaging"
)

func testPNG(t *testing.T, width, height int) imaging.Image {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode test png: %v", err)
	}
	return imaging.Image{MIME: "image/png", Data: buf.Bytes()}
}

type fakeGenerator struct {
	mu    sync.Mutex
	calls int
	fn    func(promptText string, input imaging.Image) (imaging.Image, error)
}

func (f *fakeGenerator) GenerateImage(ctx context.Context, apiKey, promptText string, input imaging.Image) (imaging.Image, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.fn(promptText, input)
}

func (f *fakeGenerator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeAnalyzer struct {
	calls int
	fn    func() (domain.AnalysisResult, error)
}

func (f *fakeAnalyzer) AnalyzeDesign(ctx context.Context, apiKey string, mode domain.RunMode, input imaging.Image) (domain.AnalysisResult, error) {
	f.calls++
	if f.fn != nil {
		return f.fn()
	}
	return domain.AnalysisResult{
		DominantColor: "#112233",
		BasePrompt:    "A bold fox emblem on a solid white background.",
	}, nil
}

type fakeRemover struct {
	calls  int
	result imaging.Image
	fn     func() (imaging.Image, error)
}

func (f *fakeRemover) RemoveBackground(ctx context.Context, apiKey string, input imaging.Image) (imaging.Image, error) {
	f.calls++
	if f.fn != nil {
		return f.fn()
	}
	return f.result, nil
}

type fakeCopy struct {
	fn func() (domain.ProductDetails, error)
}

func (f *fakeCopy) GenerateDetails(ctx context.Context, apiKey string, input imaging.Image) (domain.ProductDetails, error) {
	if f.fn != nil {
		return f.fn()
	}
	return domain.ProductDetails{Title: "Fox Emblem", Description: "A bold fox.", Tags: "fox,emblem"}, nil
}

var testCreds = domain.Credentials{GeminiAPIKey: "g-key", RemoveBgAPIKey: "r-key"}

func newTestOrchestrator(t *testing.T, gen *fakeGenerator, analyzer *fakeAnalyzer, remover *fakeRemover, copygen *fakeCopy) *Orchestrator {
	t.Helper()
	if remover.result.IsZero() && remover.fn == nil {
		remover.result = testPNG(t, 30, 20)
	}
	return New(Options{
		Generator: gen,
		Analyzer:  analyzer,
		Remover:   remover,
		Copy:      copygen,
	})
}

func startAndWait(t *testing.T, o *Orchestrator, cfg domain.RunConfiguration, input imaging.Image) *domain.Run {
	t.Helper()
	runID, err := o.StartRun(context.Background(), "session", input, cfg, testCreds)
	if err != nil {
		t.Fatalf("StartRun returned error: %v", err)
	}
	select {
	case <-o.Done(runID):
	case <-time.After(10 * time.Second):
		t.Fatal("run did not settle in time")
	}
	run, err := o.Store().Get(runID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	return run
}

func TestStartRunMissingCredentialZeroCalls(t *testing.T) {
	gen := &fakeGenerator{fn: func(string, imaging.Image) (imaging.Image, error) { return imaging.Image{}, nil }}
	analyzer := &fakeAnalyzer{}
	remover := &fakeRemover{}
	o := newTestOrchestrator(t, gen, analyzer, remover, &fakeCopy{})

	_, err := o.StartRun(context.Background(), "session", testPNG(t, 10, 10),
		domain.RunConfiguration{Mode: domain.ModeClone}, domain.Credentials{RemoveBgAPIKey: "r"})
	if !domain.IsKind(err, domain.ErrKindMissingCredential) {
		t.Fatalf("expected missing credential, got %v", err)
	}
	if gen.callCount() != 0 || analyzer.calls != 0 || remover.calls != 0 {
		t.Fatal("collaborators were invoked despite the credential guard")
	}
}

func TestStartRunRejectsInvalidInput(t *testing.T) {
	o := newTestOrchestrator(t, &fakeGenerator{}, &fakeAnalyzer{}, &fakeRemover{}, &fakeCopy{})

	_, err := o.StartRun(context.Background(), "session", imaging.Image{},
		domain.RunConfiguration{Mode: domain.ModeClone}, testCreds)
	if !domain.IsKind(err, domain.ErrKindInvalidInput) {
		t.Fatalf("expected invalid input for missing image, got %v", err)
	}

	_, err = o.StartRun(context.Background(), "session", testPNG(t, 10, 10),
		domain.RunConfiguration{Mode: domain.ModeClone, SelectedProductIDs: []string{"hovercraft"}}, testCreds)
	if !domain.IsKind(err, domain.ErrKindInvalidInput) {
		t.Fatalf("expected invalid input for unknown product, got %v", err)
	}
}

func TestRunHappyPathWithoutMockups(t *testing.T) {
	result := testPNG(t, 10, 10)
	gen := &fakeGenerator{fn: func(string, imaging.Image) (imaging.Image, error) { return result, nil }}
	o := newTestOrchestrator(t, gen, &fakeAnalyzer{}, &fakeRemover{}, &fakeCopy{})

	run := startAndWait(t, o, domain.RunConfiguration{Mode: domain.ModeClone}, testPNG(t, 40, 30))

	for name, asset := range map[string]domain.StagedAsset{
		"cloned":  run.Cloned,
		"removed": run.BackgroundRemoved,
		"resized": run.Resized,
	} {
		if asset.Status != domain.StageSuccess {
			t.Fatalf("%s status = %q, want success", name, asset.Status)
		}
		if asset.ImageURL == "" {
			t.Fatalf("%s succeeded without an image payload", name)
		}
	}
	if run.Status != domain.RunStatusSucceeded {
		t.Fatalf("run status = %q", run.Status)
	}
	if !run.Done() {
		t.Fatal("run should be done")
	}
	if run.Analysis == nil || run.Analysis.DominantColor != "#112233" {
		t.Fatalf("analysis result not recorded: %+v", run.Analysis)
	}
	if gen.callCount() != 1 {
		t.Fatalf("generator calls = %d, want 1 (clone only)", gen.callCount())
	}
}

func TestCloneFailureCascades(t *testing.T) {
	gen := &fakeGenerator{fn: func(string, imaging.Image) (imaging.Image, error) {
		return imaging.Image{}, domain.Errf(domain.ErrKindBlockedContent, "request blocked: SAFETY")
	}}
	remover := &fakeRemover{}
	o := newTestOrchestrator(t, gen, &fakeAnalyzer{}, remover, &fakeCopy{})

	cfg := domain.RunConfiguration{Mode: domain.ModeClone, SelectedProductIDs: []string{"tshirt", "mug"}}
	run := startAndWait(t, o, cfg, testPNG(t, 40, 30))

	if run.Cloned.Status != domain.StageFailed {
		t.Fatalf("cloned status = %q", run.Cloned.Status)
	}
	if run.BackgroundRemoved.Status != domain.StageFailed || run.Resized.Status != domain.StageFailed {
		t.Fatal("downstream stages were not marked failed")
	}
	for _, item := range run.Mockups {
		if item.Status != domain.StageFailed {
			t.Fatalf("mockup %s status = %q, want failed", item.ID, item.Status)
		}
	}
	if remover.calls != 0 {
		t.Fatal("background removal was attempted after a clone failure")
	}
	if run.Status != domain.RunStatusFailed || !strings.Contains(run.Error, "SAFETY") {
		t.Fatalf("run error not surfaced: %q", run.Error)
	}
}

func TestBackgroundRemovalFailureSkipsResize(t *testing.T) {
	result := testPNG(t, 10, 10)
	gen := &fakeGenerator{fn: func(string, imaging.Image) (imaging.Image, error) { return result, nil }}
	remover := &fakeRemover{fn: func() (imaging.Image, error) {
		return imaging.Image{}, domain.BackendErr(402, "insufficient credits")
	}}
	o := newTestOrchestrator(t, gen, &fakeAnalyzer{}, remover, &fakeCopy{})

	cfg := domain.RunConfiguration{Mode: domain.ModeClone, SelectedProductIDs: []string{"poster"}}
	run := startAndWait(t, o, cfg, testPNG(t, 40, 30))

	if run.Cloned.Status != domain.StageSuccess {
		t.Fatalf("cloned status = %q", run.Cloned.Status)
	}
	if run.BackgroundRemoved.Status != domain.StageFailed || run.Resized.Status != domain.StageFailed {
		t.Fatal("removal failure did not cascade to resize")
	}
	if run.Resized.ImageURL != "" {
		t.Fatal("failed resize stage carries an image payload")
	}
	if run.Mockups[0].Status != domain.StageFailed {
		t.Fatal("pending mockup not failed with the critical path")
	}
	// Only the clone call happened; resize was never attempted so no
	// mockup generation ran either.
	if gen.callCount() != 1 {
		t.Fatalf("generator calls = %d, want 1", gen.callCount())
	}
}

func TestAnalysisFailureAbortsLikeCloneFailure(t *testing.T) {
	gen := &fakeGenerator{fn: func(string, imaging.Image) (imaging.Image, error) { return testPNG(t, 5, 5), nil }}
	analyzer := &fakeAnalyzer{fn: func() (domain.AnalysisResult, error) {
		return domain.AnalysisResult{}, errors.New("model returned garbage")
	}}
	o := newTestOrchestrator(t, gen, analyzer, &fakeRemover{}, &fakeCopy{})

	run := startAndWait(t, o, domain.RunConfiguration{Mode: domain.ModeRedesign}, testPNG(t, 40, 30))

	if run.Cloned.Status != domain.StageFailed {
		t.Fatalf("cloned status = %q, want failed", run.Cloned.Status)
	}
	if run.Status != domain.RunStatusFailed {
		t.Fatalf("run status = %q", run.Status)
	}
	if gen.callCount() != 0 {
		t.Fatal("clone was attempted after an analysis failure")
	}
}

func TestMockupFanOutIsolation(t *testing.T) {
	result := testPNG(t, 10, 10)
	gen := &fakeGenerator{fn: func(promptText string, input imaging.Image) (imaging.Image, error) {
		if !strings.Contains(promptText, "product mockup") {
			return result, nil // clone call
		}
		switch {
		case strings.Contains(promptText, "ceramic mug"):
			return imaging.Image{}, domain.Errf(domain.ErrKindTextOnlyResponse, "the model declined")
		case strings.Contains(promptText, "hoodie"):
			time.Sleep(50 * time.Millisecond)
		}
		return result, nil
	}}
	o := newTestOrchestrator(t, gen, &fakeAnalyzer{}, &fakeRemover{}, &fakeCopy{})

	cfg := domain.RunConfiguration{
		Mode:               domain.ModeClone,
		SelectedProductIDs: []string{"tshirt", "hoodie", "mug", "poster"},
	}
	run := startAndWait(t, o, cfg, testPNG(t, 40, 30))

	want := map[string]domain.StageStatus{
		"tshirt": domain.StageSuccess,
		"hoodie": domain.StageSuccess,
		"mug":    domain.StageFailed,
		"poster": domain.StageSuccess,
	}
	if len(run.Mockups) != 4 {
		t.Fatalf("mockups = %d, want 4", len(run.Mockups))
	}
	for _, item := range run.Mockups {
		if item.Status != want[item.ID] {
			t.Fatalf("mockup %s status = %q, want %q", item.ID, item.Status, want[item.ID])
		}
		if item.Status == domain.StageSuccess && item.ImageURL == "" {
			t.Fatalf("mockup %s succeeded without a payload", item.ID)
		}
	}
	if run.Mockup("mug").Error == "" {
		t.Fatal("failed mockup carries no error detail")
	}
	if run.Status != domain.RunStatusSucceeded {
		t.Fatalf("one failed mockup must not fail the run, status = %q", run.Status)
	}
	if !run.Done() {
		t.Fatal("run should be done once every mockup settled")
	}
}

func TestRetryMockup(t *testing.T) {
	result := testPNG(t, 10, 10)
	failMug := true
	var mu sync.Mutex
	gen := &fakeGenerator{fn: func(promptText string, input imaging.Image) (imaging.Image, error) {
		mu.Lock()
		fail := failMug
		mu.Unlock()
		if strings.Contains(promptText, "ceramic mug") && fail {
			return imaging.Image{}, domain.Errf(domain.ErrKindNoImageReturned, "no image")
		}
		return result, nil
	}}
	o := newTestOrchestrator(t, gen, &fakeAnalyzer{}, &fakeRemover{}, &fakeCopy{})

	cfg := domain.RunConfiguration{Mode: domain.ModeClone, SelectedProductIDs: []string{"mug"}}
	run := startAndWait(t, o, cfg, testPNG(t, 40, 30))
	if run.Mockup("mug").Status != domain.StageFailed {
		t.Fatalf("precondition: mug should have failed, got %q", run.Mockup("mug").Status)
	}

	mu.Lock()
	failMug = false
	mu.Unlock()
	if err := o.RetryMockup(context.Background(), run.ID, "mug", testCreds); err != nil {
		t.Fatalf("RetryMockup returned error: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		snapshot, err := o.Store().Get(run.ID)
		if err != nil {
			t.Fatalf("Get returned error: %v", err)
		}
		item := snapshot.Mockup("mug")
		if item.Status == domain.StageSuccess {
			if item.Error != "" {
				t.Fatalf("retried mockup still carries an error: %q", item.Error)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("retry did not resolve, status = %q", item.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRetryMockupRequiresFailedItem(t *testing.T) {
	result := testPNG(t, 10, 10)
	gen := &fakeGenerator{fn: func(string, imaging.Image) (imaging.Image, error) { return result, nil }}
	o := newTestOrchestrator(t, gen, &fakeAnalyzer{}, &fakeRemover{}, &fakeCopy{})

	cfg := domain.RunConfiguration{Mode: domain.ModeClone, SelectedProductIDs: []string{"tshirt"}}
	run := startAndWait(t, o, cfg, testPNG(t, 40, 30))
	if run.Mockup("tshirt").Status != domain.StageSuccess {
		t.Fatalf("precondition: tshirt should have succeeded, got %q", run.Mockup("tshirt").Status)
	}
	calls := gen.callCount()

	err := o.RetryMockup(context.Background(), run.ID, "tshirt", testCreds)
	if !domain.IsKind(err, domain.ErrKindInvalidInput) {
		t.Fatalf("expected invalid input for a successful item, got %v", err)
	}
	if gen.callCount() != calls {
		t.Fatal("retry of a successful item re-entered generation")
	}
}

func TestRetryMockupRequiresResizedDesign(t *testing.T) {
	gen := &fakeGenerator{fn: func(string, imaging.Image) (imaging.Image, error) {
		return imaging.Image{}, domain.Errf(domain.ErrKindEmptyResponse, "nothing")
	}}
	o := newTestOrchestrator(t, gen, &fakeAnalyzer{}, &fakeRemover{}, &fakeCopy{})

	cfg := domain.RunConfiguration{Mode: domain.ModeClone, SelectedProductIDs: []string{"mug"}}
	run := startAndWait(t, o, cfg, testPNG(t, 40, 30))

	err := o.RetryMockup(context.Background(), run.ID, "mug", testCreds)
	if !domain.IsKind(err, domain.ErrKindInvalidInput) {
		t.Fatalf("expected invalid input without a resized design, got %v", err)
	}
}

func TestGenerateDetails(t *testing.T) {
	result := testPNG(t, 10, 10)
	gen := &fakeGenerator{fn: func(string, imaging.Image) (imaging.Image, error) { return result, nil }}
	o := newTestOrchestrator(t, gen, &fakeAnalyzer{}, &fakeRemover{}, &fakeCopy{})

	run := startAndWait(t, o, domain.RunConfiguration{Mode: domain.ModeClone}, testPNG(t, 40, 30))

	details, err := o.GenerateDetails(context.Background(), run.ID, testCreds)
	if err != nil {
		t.Fatalf("GenerateDetails returned error: %v", err)
	}
	if details.Title != "Fox Emblem" {
		t.Fatalf("unexpected details: %+v", details)
	}
	snapshot, _ := o.Store().Get(run.ID)
	if snapshot.Details == nil || snapshot.Details.Title != "Fox Emblem" {
		t.Fatal("details not recorded on the run")
	}
}

func TestGenerateDetailsRequiresResizedDesign(t *testing.T) {
	gen := &fakeGenerator{fn: func(string, imaging.Image) (imaging.Image, error) {
		return imaging.Image{}, domain.Errf(domain.ErrKindEmptyResponse, "nothing")
	}}
	o := newTestOrchestrator(t, gen, &fakeAnalyzer{}, &fakeRemover{}, &fakeCopy{})

	run := startAndWait(t, o, domain.RunConfiguration{Mode: domain.ModeClone}, testPNG(t, 40, 30))

	_, err := o.GenerateDetails(context.Background(), run.ID, testCreds)
	if !domain.IsKind(err, domain.ErrKindInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestNewRunClearsPreviousDetails(t *testing.T) {
	result := testPNG(t, 10, 10)
	gen := &fakeGenerator{fn: func(string, imaging.Image) (imaging.Image, error) { return result, nil }}
	o := newTestOrchestrator(t, gen, &fakeAnalyzer{}, &fakeRemover{}, &fakeCopy{})

	first := startAndWait(t, o, domain.RunConfiguration{Mode: domain.ModeClone}, testPNG(t, 40, 30))
	if _, err := o.GenerateDetails(context.Background(), first.ID, testCreds); err != nil {
		t.Fatalf("GenerateDetails returned error: %v", err)
	}

	second := startAndWait(t, o, domain.RunConfiguration{Mode: domain.ModeClone}, testPNG(t, 40, 30))
	if second.Details != nil {
		t.Fatal("a new run must start without inherited details")
	}
}
