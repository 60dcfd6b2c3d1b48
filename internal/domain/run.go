package domain

import (
	"fmt"
	"strings"
	"time"
)

// StageStatus enumerates the lifecycle states of a single pipeline stage.
type StageStatus string

const (
	StageIdle    StageStatus = "idle"
	StagePending StageStatus = "pending"
	StageSuccess StageStatus = "success"
	StageFailed  StageStatus = "failed"
)

// Terminal reports whether the status is an end state for the current run.
func (s StageStatus) Terminal() bool {
	return s == StageSuccess || s == StageFailed
}

// Stage identifies one unit of pipeline work.
type Stage string

const (
	StageAnalysis          Stage = "analysis"
	StageClone             Stage = "clone"
	StageBackgroundRemoval Stage = "background_removal"
	StageResize            Stage = "resize"
	StageMockups           Stage = "mockups"
)

// RunMode selects between a faithful clone of the uploaded design and a
// creative redesign of it.
type RunMode string

const (
	ModeClone    RunMode = "clone"
	ModeRedesign RunMode = "redesign"
)

const (
	// MaxInstructionLength bounds the free-form instructions a caller may
	// attach to a run.
	MaxInstructionLength = 2000
	// MaxSelectedProducts bounds the mockup fan-out width per run.
	MaxSelectedProducts = 6
)

// StagedAsset is the output slot of a single-output pipeline stage. ImageURL
// is set exactly when Status is StageSuccess.
type StagedAsset struct {
	Status   StageStatus `json:"status"`
	ImageURL string      `json:"imageUrl,omitempty"`
}

// MockupItem tracks one per-product mockup generation. Items are created
// Pending at run start and resolve independently of their siblings.
type MockupItem struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	Status   StageStatus `json:"status"`
	ImageURL string      `json:"imageUrl,omitempty"`
	Error    string      `json:"error,omitempty"`
}

// ProductDetails is the AI-authored marketing copy for a finished design.
type ProductDetails struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Tags        string `json:"tags"`
}

// AnalysisResult carries what the analysis stage learned about the uploaded
// design: its dominant color and the extracted base prompt used by the clone
// stage.
type AnalysisResult struct {
	DominantColor string `json:"dominantColor,omitempty"`
	BasePrompt    string `json:"-"`
}

// RunConfiguration is supplied by the caller before a run starts and is
// immutable for the duration of that run.
type RunConfiguration struct {
	Mode                   RunMode  `json:"mode"`
	AdditionalInstructions string   `json:"additionalInstructions"`
	SelectedProductIDs     []string `json:"selectedProductIds"`
}

// Validate enforces the caller-side limits before a run is admitted.
func (c RunConfiguration) Validate() error {
	switch c.Mode {
	case ModeClone, ModeRedesign:
	default:
		return Errf(ErrKindInvalidInput, "unknown run mode %q", c.Mode)
	}
	if len(c.AdditionalInstructions) > MaxInstructionLength {
		return Errf(ErrKindInvalidInput, "additional instructions exceed %d characters", MaxInstructionLength)
	}
	if len(c.SelectedProductIDs) > MaxSelectedProducts {
		return Errf(ErrKindInvalidInput, "at most %d products may be selected", MaxSelectedProducts)
	}
	seen := make(map[string]struct{}, len(c.SelectedProductIDs))
	for _, id := range c.SelectedProductIDs {
		if _, ok := ProductByID(id); !ok {
			return Errf(ErrKindInvalidInput, "unknown product %q", id)
		}
		if _, dup := seen[id]; dup {
			return Errf(ErrKindInvalidInput, "product %q selected twice", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// Credentials are the opaque secrets passed into every client call. The core
// never persists them.
type Credentials struct {
	GeminiAPIKey   string
	RemoveBgAPIKey string
}

// RunStatus is the aggregate status persisted for a whole run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// Transition records one stage status change, in order of occurrence.
type Transition struct {
	Stage  Stage       `json:"stage"`
	Status StageStatus `json:"status"`
	At     time.Time   `json:"at"`
}

// Run is the aggregate state of one pipeline execution. All per-run entities
// are created at run start and replaced wholesale by the next run.
type Run struct {
	ID        string           `json:"id"`
	SessionID string           `json:"-"`
	Config    RunConfiguration `json:"config"`

	Cloned            StagedAsset `json:"cloned"`
	BackgroundRemoved StagedAsset `json:"backgroundRemoved"`
	Resized           StagedAsset `json:"resized"`

	Analysis *AnalysisResult `json:"analysis,omitempty"`
	Mockups  []MockupItem    `json:"mockups"`
	Details  *ProductDetails `json:"details,omitempty"`

	Status      RunStatus    `json:"status"`
	Error       string       `json:"error,omitempty"`
	Transitions []Transition `json:"transitions,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewRun builds the initial state for a run: every single-output stage
// Pending, one Pending mockup per selected product, details cleared.
func NewRun(id, sessionID string, cfg RunConfiguration) *Run {
	now := time.Now().UTC()
	run := &Run{
		ID:                id,
		SessionID:         sessionID,
		Config:            cfg,
		Cloned:            StagedAsset{Status: StagePending},
		BackgroundRemoved: StagedAsset{Status: StagePending},
		Resized:           StagedAsset{Status: StagePending},
		Status:            RunStatusRunning,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	run.Mockups = make([]MockupItem, 0, len(cfg.SelectedProductIDs))
	for _, pid := range cfg.SelectedProductIDs {
		product, ok := ProductByID(pid)
		if !ok {
			continue
		}
		run.Mockups = append(run.Mockups, MockupItem{
			ID:     product.ID,
			Name:   product.Name,
			Status: StagePending,
		})
	}
	return run
}

// Mockup returns a pointer to the item with the given product id, or nil.
func (r *Run) Mockup(productID string) *MockupItem {
	for i := range r.Mockups {
		if r.Mockups[i].ID == productID {
			return &r.Mockups[i]
		}
	}
	return nil
}

// Done reports whether every single-output stage and every mockup item has
// reached a terminal status.
func (r *Run) Done() bool {
	if !r.Cloned.Status.Terminal() || !r.BackgroundRemoved.Status.Terminal() || !r.Resized.Status.Terminal() {
		return false
	}
	for i := range r.Mockups {
		if !r.Mockups[i].Status.Terminal() {
			return false
		}
	}
	return true
}

// Clone returns a deep copy safe to hand to other goroutines.
func (r *Run) Clone() *Run {
	cp := *r
	cp.Mockups = make([]MockupItem, len(r.Mockups))
	copy(cp.Mockups, r.Mockups)
	cp.Transitions = make([]Transition, len(r.Transitions))
	copy(cp.Transitions, r.Transitions)
	if r.Analysis != nil {
		analysis := *r.Analysis
		cp.Analysis = &analysis
	}
	if r.Details != nil {
		details := *r.Details
		cp.Details = &details
	}
	return &cp
}

// NormalizeMode sanitizes free-form caller input into a supported run mode.
func NormalizeMode(mode string) RunMode {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeRedesign):
		return ModeRedesign
	default:
		return ModeClone
	}
}

func (r *Run) String() string {
	return fmt.Sprintf("run %s (%s)", r.ID, r.Status)
}
