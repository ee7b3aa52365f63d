package subscription

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/newthinker/tinkclaw/internal/core"
)

// Condition is a threshold-crossing trigger.
type Condition string

const (
	ConfluenceGTE Condition = "confluence_gte"
	ConfluenceLTE Condition = "confluence_lte"
	RSIGTE        Condition = "rsi_gte"
	RSILTE        Condition = "rsi_lte"
	PriceGTE      Condition = "price_gte"
	PriceLTE      Condition = "price_lte"
)

// Valid reports whether c is a known condition.
func (c Condition) Valid() bool {
	switch c {
	case ConfluenceGTE, ConfluenceLTE, RSIGTE, RSILTE, PriceGTE, PriceLTE:
		return true
	}
	return false
}

// TargetKind says where triggered alerts are delivered.
type TargetKind string

const (
	TargetWebhook TargetKind = "webhook"
	TargetStream  TargetKind = "stream"
)

// Target is either a webhook URL or a streaming channel tag.
type Target struct {
	Kind    TargetKind `json:"kind"`
	URL     string     `json:"url,omitempty"`
	Channel string     `json:"channel,omitempty"`
}

// WebhookTarget delivers alerts by HTTP POST to url.
func WebhookTarget(u string) Target { return Target{Kind: TargetWebhook, URL: u} }

// StreamTarget delivers alerts on a streaming channel.
func StreamTarget(channel string) Target { return Target{Kind: TargetStream, Channel: channel} }

func (t Target) String() string {
	if t.Kind == TargetStream {
		return "stream:" + t.Channel
	}
	return t.URL
}

// Spec is a subscription request.
type Spec struct {
	Target    Target
	Symbol    string
	Condition Condition
	Threshold float64
}

// Validate checks a spec before anything is sent to the service.
func (s Spec) Validate() error {
	if strings.TrimSpace(s.Symbol) == "" {
		return core.WrapError(core.ErrRejected, fmt.Errorf("symbol is required"))
	}
	if !s.Condition.Valid() {
		return core.WrapError(core.ErrRejected, fmt.Errorf("unknown condition %q", s.Condition))
	}
	switch s.Target.Kind {
	case TargetWebhook:
		u, err := url.Parse(s.Target.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return core.WrapError(core.ErrRejected, fmt.Errorf("invalid webhook url %q", s.Target.URL))
		}
	case TargetStream:
		if s.Target.Channel == "" {
			return core.WrapError(core.ErrRejected, fmt.Errorf("stream channel is required"))
		}
	default:
		return core.WrapError(core.ErrRejected, fmt.Errorf("unknown target kind %q", s.Target.Kind))
	}
	return nil
}

// Subscription is a confirmed remote subscription.
type Subscription struct {
	ID        string    `json:"id"`
	Target    Target    `json:"target"`
	Symbol    string    `json:"symbol"`
	Condition Condition `json:"condition"`
	Threshold float64   `json:"threshold"`
	CreatedAt time.Time `json:"created_at"`
}

// ChangeKind describes a registry mutation.
type ChangeKind string

const (
	Added   ChangeKind = "added"
	Removed ChangeKind = "removed"
	Expired ChangeKind = "expired"
	Reset   ChangeKind = "reset"
)

// Change is delivered to watchers after the mirror has been updated.
type Change struct {
	Kind         ChangeKind
	Subscription Subscription
}
