package handlers

import (
	"net/http"

	"studio/internal/domain"
)

// ListProducts returns the static mockup catalog.
func (a *App) ListProducts(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]any{
		"products":     domain.Products(),
		"maxSelection": domain.MaxSelectedProducts,
	})
}
