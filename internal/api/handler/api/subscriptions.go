// internal/api/handler/api/subscriptions.go
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/newthinker/tinkclaw/internal/api/response"
	"github.com/newthinker/tinkclaw/internal/core"
	"github.com/newthinker/tinkclaw/internal/subscription"
)

// Subscriptions defines what the handler needs from the registry.
type Subscriptions interface {
	List() []subscription.Subscription
	Subscribe(ctx context.Context, target subscription.Target, symbol string, cond subscription.Condition, threshold float64) (subscription.Subscription, error)
	Unsubscribe(ctx context.Context, id string) error
}

// SubscriptionsHandler handles alert subscription requests.
type SubscriptionsHandler struct {
	subs Subscriptions
}

// NewSubscriptionsHandler creates a new subscriptions handler.
func NewSubscriptionsHandler(subs Subscriptions) *SubscriptionsHandler {
	return &SubscriptionsHandler{subs: subs}
}

// AddRequest is the request body for creating a subscription. Exactly one
// of WebhookURL and Channel selects the target.
type AddRequest struct {
	Symbol     string  `json:"symbol"`
	Condition  string  `json:"condition"`
	Threshold  float64 `json:"threshold"`
	WebhookURL string  `json:"webhook_url,omitempty"`
	Channel    string  `json:"channel,omitempty"`
}

// List returns all subscriptions in creation order.
func (h *SubscriptionsHandler) List(w http.ResponseWriter, r *http.Request) {
	subs := h.subs.List()
	response.JSON(w, http.StatusOK, map[string]any{
		"subscriptions": subs,
		"count":         len(subs),
	})
}

// Add creates a subscription.
func (h *SubscriptionsHandler) Add(w http.ResponseWriter, r *http.Request) {
	var req AddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest,
			core.WrapError(core.ErrConfigInvalid, err))
		return
	}

	target := subscription.WebhookTarget(req.WebhookURL)
	if req.Channel != "" {
		target = subscription.StreamTarget(req.Channel)
	}

	sub, err := h.subs.Subscribe(r.Context(), target, req.Symbol, subscription.Condition(req.Condition), req.Threshold)
	if err != nil {
		response.Fail(w, err)
		return
	}

	response.JSON(w, http.StatusCreated, sub)
}

// Remove deletes a subscription.
func (h *SubscriptionsHandler) Remove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.subs.Unsubscribe(r.Context(), id); err != nil {
		response.Fail(w, err)
		return
	}

	response.JSON(w, http.StatusOK, map[string]any{
		"id":      id,
		"removed": true,
	})
}
