// internal/api/handler/api/intents.go
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/newthinker/tinkclaw/internal/api/response"
	"github.com/newthinker/tinkclaw/internal/broker"
)

// IntentQueue is the confirm-mode queue of the executor.
type IntentQueue interface {
	Pending() []broker.PendingIntent
	Confirm(ctx context.Context, id string) (broker.ExecuteResult, error)
	Reject(id string) error
}

// IntentsHandler exposes intents awaiting confirmation.
type IntentsHandler struct {
	queue IntentQueue
}

// NewIntentsHandler creates a new intents handler.
func NewIntentsHandler(queue IntentQueue) *IntentsHandler {
	return &IntentsHandler{queue: queue}
}

// List returns pending intents, oldest first.
func (h *IntentsHandler) List(w http.ResponseWriter, r *http.Request) {
	pending := h.queue.Pending()
	response.JSON(w, http.StatusOK, map[string]any{
		"intents": pending,
		"count":   len(pending),
	})
}

// Confirm places a pending intent with the broker.
func (h *IntentsHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := h.queue.Confirm(r.Context(), id)
	if err != nil {
		response.Fail(w, err)
		return
	}

	body := map[string]any{
		"id":       id,
		"executed": res.Executed,
		"position": res.Position,
	}
	if res.Ack != nil {
		body["order_id"] = res.Ack.OrderID
	}
	response.JSON(w, http.StatusOK, body)
}

// Reject drops a pending intent.
func (h *IntentsHandler) Reject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.queue.Reject(id); err != nil {
		response.Fail(w, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]any{
		"id":       id,
		"rejected": true,
	})
}
