package stream

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/newthinker/tinkclaw/internal/core"
)

// Channel names carried on data frames.
const (
	ChannelTick          = "tick"
	ChannelSignal        = "signal"
	ChannelOptionsSignal = "options_signal"
	ChannelAlert         = "alert"
)

// IsCandle reports whether ch is a candle channel such as "candle:60".
func IsCandle(ch string) bool {
	return strings.HasPrefix(ch, "candle:")
}

// Event is one push event delivered to subscribers.
type Event struct {
	Channel        string
	Symbol         string
	SubscriptionID string
	Data           json.RawMessage
	ReceivedAt     time.Time
}

// frame is the wire envelope in both directions.
type frame struct {
	Type           string          `json:"type"`
	Token          string          `json:"token,omitempty"`
	Channel        string          `json:"channel,omitempty"`
	Channels       []string        `json:"channels,omitempty"`
	Symbol         string          `json:"symbol,omitempty"`
	Symbols        []string        `json:"symbols,omitempty"`
	ID             string          `json:"id,omitempty"`
	SubscriptionID string          `json:"subscription_id,omitempty"`
	Condition      string          `json:"condition,omitempty"`
	Threshold      *float64        `json:"threshold,omitempty"`
	Target         string          `json:"target,omitempty"`
	Plan           string          `json:"plan,omitempty"`
	Message        string          `json:"message,omitempty"`
	Error          string          `json:"error,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`
}

func (f frame) errorText() string {
	if f.Message != "" {
		return f.Message
	}
	if f.Error != "" {
		return f.Error
	}
	return "unspecified error"
}

type signalPayload struct {
	Symbol     string   `json:"symbol"`
	Score      *float64 `json:"score"`
	Signal     string   `json:"signal"`
	SetupType  string   `json:"setup_type"`
	Regime     string   `json:"regime"`
	Confidence float64  `json:"confidence"`
	Price      float64  `json:"price"`
}

// Snapshot extracts a confluence snapshot from a signal or alert event.
// Events without a symbol or score are not snapshots.
func (e Event) Snapshot() (core.Snapshot, bool) {
	if e.Channel != ChannelSignal && e.Channel != ChannelAlert {
		return core.Snapshot{}, false
	}
	var p signalPayload
	if err := json.Unmarshal(e.Data, &p); err != nil {
		return core.Snapshot{}, false
	}
	symbol := p.Symbol
	if symbol == "" {
		symbol = e.Symbol
	}
	if symbol == "" || p.Score == nil {
		return core.Snapshot{}, false
	}
	var raw map[string]any
	_ = json.Unmarshal(e.Data, &raw)
	return core.Snapshot{
		Symbol:     symbol,
		Score:      *p.Score,
		Signal:     p.Signal,
		SetupType:  p.SetupType,
		Regime:     p.Regime,
		Confidence: p.Confidence,
		Price:      p.Price,
		Source:     "stream",
		ReceivedAt: e.ReceivedAt,
		Raw:        raw,
	}, true
}
