package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"studio/internal/domain"
	"studio/internal/imaging"
	"studio/pkg/zip"
)

type startRunRequest struct {
	Image                  string   `json:"image"`
	Mode                   string   `json:"mode"`
	AdditionalInstructions string   `json:"additionalInstructions"`
	ProductIDs             []string `json:"productIds"`
}

type startRunResponse struct {
	RunID string `json:"runId"`
}

// StartRun admits a new pipeline run. Starting a run supersedes the
// session's previous run; its late updates are discarded by the store.
func (a *App) StartRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	input, err := imaging.ParseDataURL(req.Image)
	if err != nil {
		a.fail(w, err)
		return
	}
	cfg := domain.RunConfiguration{
		Mode:                   domain.NormalizeMode(req.Mode),
		AdditionalInstructions: req.AdditionalInstructions,
		SelectedProductIDs:     req.ProductIDs,
	}
	runID, err := a.Orchestrator.StartRun(r.Context(), sessionFrom(r), input, cfg, credentialsFrom(r))
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusAccepted, startRunResponse{RunID: runID})
}

// GetRun returns the current snapshot of a run. Runs evicted from memory by
// a restart are answered from their persisted status record.
func (a *App) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	run, err := a.Store.Get(runID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) && a.Statuses != nil {
			a.getArchivedRun(w, r, runID)
			return
		}
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, run)
}

func (a *App) getArchivedRun(w http.ResponseWriter, r *http.Request, runID string) {
	status, err := a.Statuses.GetStatus(r.Context(), runID)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"id": runID, "status": status, "archived": true})
}

// RetryMockup re-enters the generation call for one failed mockup.
func (a *App) RetryMockup(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	productID := chi.URLParam(r, "productID")
	if err := a.Orchestrator.RetryMockup(r.Context(), runID, productID, credentialsFrom(r)); err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusAccepted, map[string]string{"runId": runID, "productId": productID})
}

// GenerateDetails produces marketing copy for the run's resized design.
func (a *App) GenerateDetails(w http.ResponseWriter, r *http.Request) {
	details, err := a.Orchestrator.GenerateDetails(r.Context(), chi.URLParam(r, "id"), credentialsFrom(r))
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, details)
}

// ExportRun bundles every finished image of a run into a zip archive for
// download.
func (a *App) ExportRun(w http.ResponseWriter, r *http.Request) {
	run, err := a.Store.Get(chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, err)
		return
	}

	var assets []zip.Asset
	appendAsset := func(name string, staged domain.StagedAsset) {
		if staged.Status != domain.StageSuccess {
			return
		}
		img, err := imaging.ParseDataURL(staged.ImageURL)
		if err != nil {
			return
		}
		assets = append(assets, zip.Asset{Filename: name + extFor(img.MIME), MIME: img.MIME, Data: img.Data})
	}
	appendAsset("design", run.Cloned)
	appendAsset("design-transparent", run.BackgroundRemoved)
	appendAsset("design-print", run.Resized)
	for _, item := range run.Mockups {
		appendAsset("mockup-"+item.ID, domain.StagedAsset{Status: item.Status, ImageURL: item.ImageURL})
	}
	if len(assets) == 0 {
		a.error(w, http.StatusConflict, "no_assets", "run has no finished images to export")
		return
	}

	archive := zip.ArchiveAssets(assets)
	if a.Files != nil {
		if _, err := a.Files.Write(r.Context(), fmt.Sprintf("exports/%s.zip", run.ID), archive); err != nil {
			a.Logger.Warn().Err(err).Str("run_id", run.ID).Msg("handlers: failed to store export archive")
		}
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", run.ID+".zip"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(archive)
}

// DownloadAsset serves one finished image of a run as a file download. Asset
// names mirror the export archive: design, design-transparent, design-print,
// and mockup-{productID}. Each download is written through to the file store,
// so runs evicted from memory keep serving previously downloaded assets.
func (a *App) DownloadAsset(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	name := chi.URLParam(r, "name")

	run, err := a.Store.Get(runID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) && a.Files != nil {
			a.serveStoredAsset(w, r, runID, name)
			return
		}
		a.fail(w, err)
		return
	}
	img, ok := runAsset(run, name)
	if !ok {
		a.fail(w, domain.ErrNotFound)
		return
	}
	if a.Files != nil {
		if _, err := a.Files.Write(r.Context(), assetKey(runID, name), img.Data); err != nil {
			a.Logger.Warn().Err(err).Str("run_id", runID).Str("asset", name).Msg("handlers: failed to store asset copy")
		}
	}
	serveAttachment(w, img.MIME, name+extFor(img.MIME), img.Data)
}

func (a *App) serveStoredAsset(w http.ResponseWriter, r *http.Request, runID, name string) {
	data, err := a.Files.Read(r.Context(), assetKey(runID, name))
	if err != nil {
		a.fail(w, domain.ErrNotFound)
		return
	}
	mime := http.DetectContentType(data)
	serveAttachment(w, mime, name+extFor(mime), data)
}

func serveAttachment(w http.ResponseWriter, mime, filename string, data []byte) {
	w.Header().Set("Content-Type", mime)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func assetKey(runID, name string) string {
	return fmt.Sprintf("exports/%s/%s", runID, name)
}

// runAsset resolves an asset name against the snapshot. Only successfully
// finished assets are downloadable.
func runAsset(run *domain.Run, name string) (imaging.Image, bool) {
	var staged domain.StagedAsset
	switch name {
	case "design":
		staged = run.Cloned
	case "design-transparent":
		staged = run.BackgroundRemoved
	case "design-print":
		staged = run.Resized
	default:
		pid, ok := strings.CutPrefix(name, "mockup-")
		if !ok {
			return imaging.Image{}, false
		}
		item := run.Mockup(pid)
		if item == nil {
			return imaging.Image{}, false
		}
		staged = domain.StagedAsset{Status: item.Status, ImageURL: item.ImageURL}
	}
	if staged.Status != domain.StageSuccess {
		return imaging.Image{}, false
	}
	img, err := imaging.ParseDataURL(staged.ImageURL)
	if err != nil {
		return imaging.Image{}, false
	}
	return img, true
}

func extFor(mime string) string {
	switch {
	case strings.Contains(mime, "jpeg"), strings.Contains(mime, "jpg"):
		return ".jpg"
	case strings.Contains(mime, "webp"):
		return ".webp"
	default:
		return ".png"
	}
}
