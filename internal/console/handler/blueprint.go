package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/scalegov-prototype/internal/console/service"
)

type BlueprintHandler struct {
	service *service.BlueprintService
}

func NewBlueprintHandler(s *service.BlueprintService) *BlueprintHandler {
	return &BlueprintHandler{service: s}
}

// History — версии Blueprint сервиса, новые сверху
// GET /v1/blueprints/{service}?limit=...
func (h *BlueprintHandler) History(w http.ResponseWriter, r *http.Request) {
	serviceName := chi.URLParam(r, "service")

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}

	versions, err := h.service.History(r.Context(), serviceName, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(versions)
}
