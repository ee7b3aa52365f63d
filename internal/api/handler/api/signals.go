// internal/api/handler/api/signals.go
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/newthinker/tinkclaw/internal/api/response"
	"github.com/newthinker/tinkclaw/internal/storage/signal"
)

// SignalsHandler serves the decision journal: one entry per evaluated
// symbol with the snapshot seen and the intents produced.
type SignalsHandler struct {
	store signal.Store
}

// NewSignalsHandler creates a new signals handler.
func NewSignalsHandler(store signal.Store) *SignalsHandler {
	return &SignalsHandler{store: store}
}

// List returns journal entries matching query parameters.
func (h *SignalsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := signal.ListFilter{
		Symbol:  q.Get("symbol"),
		Outcome: signal.Outcome(q.Get("outcome")),
		From:    parseTime(q.Get("from")),
		To:      parseTime(q.Get("to")),
		Limit:   50,
	}

	if limit := q.Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil {
			filter.Limit = n
		}
	}
	if offset := q.Get("offset"); offset != "" {
		if n, err := strconv.Atoi(offset); err == nil {
			filter.Offset = n
		}
	}

	entries, err := h.store.List(r.Context(), filter)
	if err != nil {
		response.Fail(w, err)
		return
	}

	count, _ := h.store.Count(r.Context(), filter)

	response.JSON(w, http.StatusOK, map[string]any{
		"signals": entries,
		"total":   count,
		"limit":   filter.Limit,
		"offset":  filter.Offset,
	})
}

// GetByID returns a single journal entry.
func (h *SignalsHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	entry, err := h.store.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		response.Fail(w, err)
		return
	}

	response.JSON(w, http.StatusOK, entry)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t
	}
	return time.Time{}
}
