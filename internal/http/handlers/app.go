// Package handlers exposes the pipeline to the browser front-end. The UI is
// an external collaborator: it supplies the image, the run configuration,
// and the credentials with every request, and polls run snapshots.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"studio/internal/domain"
	"studio/internal/infra"
	"studio/internal/pipeline"
	"studio/internal/storage"
)

const (
	headerSession     = "X-Session-ID"
	headerGeminiKey   = "X-Gemini-Api-Key"
	headerRemoveBgKey = "X-RemoveBg-Api-Key"
)

// RunStatusSource reads the persisted status of runs that are no longer held
// in memory, typically after a restart. It is optional.
type RunStatusSource interface {
	GetStatus(ctx context.Context, runID string) (domain.RunStatus, error)
}

type App struct {
	Orchestrator *pipeline.Orchestrator
	Store        *pipeline.Store
	Files        *storage.FileStore
	Statuses     RunStatusSource
	Logger       infra.Logger
}

func NewApp(orc *pipeline.Orchestrator, files *storage.FileStore, statuses RunStatusSource, logger infra.Logger) *App {
	return &App{
		Orchestrator: orc,
		Store:        orc.Store(),
		Files:        files,
		Statuses:     statuses,
		Logger:       logger,
	}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, kind, message string) {
	a.json(w, code, map[string]string{"error": kind, "message": message})
}

// fail maps a pipeline error onto an HTTP response, surfacing the kind and
// one human-readable message.
func (a *App) fail(w http.ResponseWriter, err error) {
	kind := domain.KindOf(err)
	switch kind {
	case domain.ErrKindMissingCredential:
		a.error(w, http.StatusUnauthorized, string(kind), err.Error())
	case domain.ErrKindInvalidInput, domain.ErrKindDecodeError:
		a.error(w, http.StatusBadRequest, string(kind), err.Error())
	case "":
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "unknown run or product")
			return
		}
		a.error(w, http.StatusInternalServerError, "internal", err.Error())
	default:
		a.error(w, http.StatusBadGateway, string(kind), err.Error())
	}
}

func credentialsFrom(r *http.Request) domain.Credentials {
	return domain.Credentials{
		GeminiAPIKey:   strings.TrimSpace(r.Header.Get(headerGeminiKey)),
		RemoveBgAPIKey: strings.TrimSpace(r.Header.Get(headerRemoveBgKey)),
	}
}

func sessionFrom(r *http.Request) string {
	if sid := strings.TrimSpace(r.Header.Get(headerSession)); sid != "" {
		return sid
	}
	return "default"
}
