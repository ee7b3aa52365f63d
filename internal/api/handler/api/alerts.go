// internal/api/handler/api/alerts.go
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/newthinker/tinkclaw/internal/api/response"
	"github.com/newthinker/tinkclaw/internal/core"
	"github.com/newthinker/tinkclaw/internal/notifier"
	"go.uber.org/zap"
)

const maxAlertBody = 64 << 10

// AlertPayload is what the service POSTs to a subscription's webhook URL.
type AlertPayload struct {
	SubscriptionID string   `json:"subscription_id"`
	Symbol         string   `json:"symbol"`
	Condition      string   `json:"condition"`
	Threshold      float64  `json:"threshold"`
	Score          *float64 `json:"score"`
	Signal         string   `json:"signal"`
	SetupType      string   `json:"setup_type"`
	Regime         string   `json:"regime"`
	Confidence     float64  `json:"confidence"`
	Price          float64  `json:"price"`
	Message        string   `json:"message"`
	TriggeredAt    string   `json:"triggered_at"`
}

// SnapshotSink receives snapshots carried by alerts.
type SnapshotSink interface {
	Put(snap core.Snapshot)
}

// AlertsHandler receives alert webhooks.
type AlertsHandler struct {
	sink      SnapshotSink
	notifiers *notifier.Registry
	now       func() time.Time
	logger    *zap.Logger
}

// NewAlertsHandler creates an alerts handler. sink and notifiers may be nil.
func NewAlertsHandler(sink SnapshotSink, notifiers *notifier.Registry, now func() time.Time, logger *zap.Logger) *AlertsHandler {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AlertsHandler{sink: sink, notifiers: notifiers, now: now, logger: logger}
}

// Receive accepts one alert. Alerts that carry a score refresh the
// snapshot mailbox; all alerts are forwarded to notifiers.
func (h *AlertsHandler) Receive(w http.ResponseWriter, r *http.Request) {
	var p AlertPayload
	if err := json.NewDecoder(io.LimitReader(r.Body, maxAlertBody)).Decode(&p); err != nil {
		response.Error(w, http.StatusBadRequest, core.WrapError(core.ErrMalformedEvent, err))
		return
	}
	p.Symbol = strings.ToUpper(strings.TrimSpace(p.Symbol))
	if p.Symbol == "" {
		response.Error(w, http.StatusBadRequest,
			core.WrapError(core.ErrMalformedEvent, errors.New("symbol is required")))
		return
	}

	now := h.now()
	stored := false
	var score float64
	if p.Score != nil {
		score = *p.Score
		snap := core.Snapshot{
			Symbol:     p.Symbol,
			Score:      score,
			Signal:     p.Signal,
			SetupType:  p.SetupType,
			Regime:     p.Regime,
			Confidence: p.Confidence,
			Price:      p.Price,
			Source:     "webhook",
			ReceivedAt: now,
		}
		if snap.IsValid() && h.sink != nil {
			h.sink.Put(snap)
			stored = true
		}
	}

	msg := p.Message
	if msg == "" {
		msg = fmt.Sprintf("%s %s %g triggered", p.Symbol, p.Condition, p.Threshold)
	}
	h.logger.Info("alert received",
		zap.String("symbol", p.Symbol),
		zap.String("subscription_id", p.SubscriptionID),
		zap.String("condition", p.Condition),
		zap.Bool("snapshot", stored),
	)

	if h.notifiers != nil && h.notifiers.Len() > 0 {
		for name, err := range h.notifiers.NotifyAll(notifier.ForAlert(p.Symbol, msg, score, p.Price, now)) {
			h.logger.Warn("alert forward failed", zap.String("notifier", name), zap.Error(err))
		}
	}

	response.JSON(w, http.StatusAccepted, map[string]any{
		"accepted": true,
		"snapshot": stored,
	})
}
