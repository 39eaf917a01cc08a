package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/xela07ax/scalegov-prototype/internal/audit"
	"github.com/xela07ax/scalegov-prototype/internal/console/service"
)

type AuditHandler struct {
	service *service.AuditService
}

func NewAuditHandler(s *service.AuditService) *AuditHandler {
	return &AuditHandler{service: s}
}

// GetEntries возвращает журнал контура с поддержкой фильтрации
// GET /v1/audit?service=...&decision_id=...&from=...&to=...&limit=...
func (h *AuditHandler) GetEntries(w http.ResponseWriter, r *http.Request) {
	q := audit.Query{
		ServiceName: r.URL.Query().Get("service"),
		DecisionID:  r.URL.Query().Get("decision_id"),
	}

	if v := r.URL.Query().Get("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			q.From = t
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			q.To = t
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		q.Limit, _ = strconv.Atoi(v)
	}

	entries, err := h.service.FetchEntries(r.Context(), q)
	if err != nil {
		http.Error(w, "Failed to fetch audit entries", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}
