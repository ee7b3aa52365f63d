package notifier

import (
	"fmt"
	"time"

	"github.com/newthinker/tinkclaw/internal/core"
	"github.com/shopspring/decimal"
)

// Config holds notifier configuration
type Config struct {
	Type   string         `mapstructure:"type"`
	Params map[string]any `mapstructure:"params"`
}

// Kind distinguishes what a notification reports.
type Kind string

const (
	// KindIntent is an order intent from the strategy runtime.
	KindIntent Kind = "intent"
	// KindAlert is a threshold alert delivered by the signal service.
	KindAlert Kind = "alert"
	// KindHealth is a local operational alert about the runtime itself.
	KindHealth Kind = "health"
)

// Notification is one message fanned out to notifiers.
type Notification struct {
	Kind     Kind            `json:"kind"`
	Symbol   string          `json:"symbol"`
	Side     core.Side       `json:"side,omitempty"`
	Size     decimal.Decimal `json:"size"`
	Reason   string          `json:"reason,omitempty"`
	Advisory bool            `json:"advisory"`
	Score    float64         `json:"score"`
	Setup    string          `json:"setup_type,omitempty"`
	Price    float64         `json:"price,omitempty"`
	Message  string          `json:"message,omitempty"`
	At       time.Time       `json:"at"`
}

// ForIntent builds an intent notification from the snapshot that caused it.
func ForIntent(in core.Intent, snap core.Snapshot, advisory bool, at time.Time) Notification {
	return Notification{
		Kind:     KindIntent,
		Symbol:   in.Symbol,
		Side:     in.Side,
		Size:     in.Size,
		Reason:   in.Reason,
		Advisory: advisory,
		Score:    snap.Score,
		Setup:    snap.SetupType,
		Price:    snap.Price,
		At:       at,
	}
}

// ForAlert builds an alert notification.
func ForAlert(symbol, message string, score, price float64, at time.Time) Notification {
	return Notification{
		Kind:    KindAlert,
		Symbol:  symbol,
		Score:   score,
		Price:   price,
		Message: message,
		At:      at,
	}
}

// ForHealth builds an operational alert. reason names the rule that fired.
func ForHealth(reason, message string, at time.Time) Notification {
	return Notification{
		Kind:    KindHealth,
		Reason:  reason,
		Message: message,
		At:      at,
	}
}

// Title is a one-line summary.
func (n Notification) Title() string {
	switch n.Kind {
	case KindAlert:
		return fmt.Sprintf("Alert: %s", n.Symbol)
	case KindHealth:
		return fmt.Sprintf("Health: %s", n.Reason)
	}
	mode := ""
	if n.Advisory {
		mode = " (advisory)"
	}
	return fmt.Sprintf("%s %s %s%s", n.Side, n.Size, n.Symbol, mode)
}

// Notifier defines the interface for intent and alert notification
type Notifier interface {
	// Name returns the unique identifier for this notifier
	Name() string

	// Init initializes the notifier with configuration
	Init(cfg Config) error

	// Send sends a single notification
	Send(n Notification) error

	// SendBatch sends multiple notifications
	SendBatch(ns []Notification) error
}
