package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/newthinker/tinkclaw/internal/clock"
	"github.com/newthinker/tinkclaw/internal/core"
	"github.com/newthinker/tinkclaw/internal/credential"
	"github.com/newthinker/tinkclaw/internal/subscription"
)

// Gateway is the typed facade over the service endpoints. Calls use the
// manager's active credential unless the gateway is pinned to one.
type Gateway struct {
	transport *Transport
	keys      *credential.Manager
	clock     clock.Clock
	pinned    *credential.Credential
}

// New creates a gateway.
func New(transport *Transport, keys *credential.Manager, clk clock.Clock) *Gateway {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Gateway{transport: transport, keys: keys, clock: clk}
}

// WithCredential returns a gateway that always uses c, for completing work
// started under a credential that has since been rotated out.
func (g *Gateway) WithCredential(c credential.Credential) *Gateway {
	cp := *g
	cp.pinned = &c
	return &cp
}

func (g *Gateway) credential() credential.Credential {
	if g.pinned != nil {
		return *g.pinned
	}
	return g.keys.Active()
}

// call issues req. An authentication failure is never retried under a
// different credential; it is classified against the credential used.
func (g *Gateway) call(ctx context.Context, req Request) error {
	cred := g.credential()
	err := g.transport.Do(ctx, cred, req)
	if g.keys != nil {
		err = g.keys.Classify(cred.ID, err)
	}
	return err
}

func symbolsParam(symbols []string) string {
	if len(symbols) == 0 {
		return "BTC,ETH"
	}
	return strings.Join(symbols, ",")
}

// Signals returns the current signals for symbols.
func (g *Gateway) Signals(ctx context.Context, symbols []string) ([]Signal, error) {
	var out struct {
		Signals []Signal `json:"signals"`
	}
	err := g.call(ctx, Request{
		Endpoint: "signals",
		Path:     "/v1/signals",
		Query:    map[string]string{"symbols": symbolsParam(symbols)},
		Result:   &out,
	})
	return out.Signals, err
}

// SignalsML returns the model-based signals for symbols.
func (g *Gateway) SignalsML(ctx context.Context, symbols []string) ([]Signal, error) {
	var out struct {
		Signals []Signal `json:"signals"`
	}
	err := g.call(ctx, Request{
		Endpoint: "signals_ml",
		Path:     "/v1/signals-ml",
		Query:    map[string]string{"symbols": symbolsParam(symbols)},
		Result:   &out,
	})
	return out.Signals, err
}

// Analysis returns the full analysis for one symbol.
func (g *Gateway) Analysis(ctx context.Context, symbol string) (Payload, error) {
	var out Payload
	err := g.call(ctx, Request{
		Endpoint: "analysis",
		Path:     "/v1/analysis",
		Query:    map[string]string{"symbol": symbol},
		Result:   &out,
	})
	return out, err
}

// Confluence returns the confluence score for one symbol.
func (g *Gateway) Confluence(ctx context.Context, symbol string) (Confluence, error) {
	var out Confluence
	err := g.call(ctx, Request{
		Endpoint: "confluence",
		Path:     "/v1/confluence",
		Query:    map[string]string{"symbol": symbol},
		Result:   &out,
	})
	if err == nil && out.Symbol == "" {
		out.Symbol = symbol
	}
	return out, err
}

// Latest implements the snapshot source contract by polling confluence.
func (g *Gateway) Latest(ctx context.Context, symbol string) (core.Snapshot, error) {
	c, err := g.Confluence(ctx, symbol)
	if err != nil {
		return core.Snapshot{}, err
	}
	return c.Snapshot(g.clock.Now()), nil
}

// Indicators returns indicator series for a symbol over rangeDays.
func (g *Gateway) Indicators(ctx context.Context, symbol string, rangeDays int) (Payload, error) {
	if rangeDays <= 0 {
		rangeDays = 30
	}
	var out Payload
	err := g.call(ctx, Request{
		Endpoint: "indicators",
		Path:     "/v1/indicators",
		Query:    map[string]string{"symbols": symbol, "range": strconv.Itoa(rangeDays)},
		Result:   &out,
	})
	return out, err
}

// RiskMetrics returns risk metrics for symbols.
func (g *Gateway) RiskMetrics(ctx context.Context, symbols []string) (Payload, error) {
	return g.payload(ctx, "risk_metrics", "/v1/risk-metrics", map[string]string{"symbols": symbolsParam(symbols)})
}

// Correlation returns the correlation matrix for symbols.
func (g *Gateway) Correlation(ctx context.Context, symbols []string) (Payload, error) {
	return g.payload(ctx, "correlation", "/v1/correlation", map[string]string{"symbols": symbolsParam(symbols)})
}

// Screener returns the market screener.
func (g *Gateway) Screener(ctx context.Context) (Payload, error) {
	return g.payload(ctx, "screener", "/v1/screener", nil)
}

// CrossMarket returns crypto-to-stock correlations for symbol.
func (g *Gateway) CrossMarket(ctx context.Context, symbol string) (Payload, error) {
	if symbol == "" {
		symbol = "BTC"
	}
	return g.payload(ctx, "cross_market", "/v1/cross-market", map[string]string{"symbol": symbol})
}

// MarketSummary returns the market overview.
func (g *Gateway) MarketSummary(ctx context.Context) (Payload, error) {
	return g.payload(ctx, "market_summary", "/v1/market-summary", nil)
}

// News returns news, optionally filtered by symbol.
func (g *Gateway) News(ctx context.Context, symbol string) (Payload, error) {
	var q map[string]string
	if symbol != "" {
		q = map[string]string{"symbol": symbol}
	}
	return g.payload(ctx, "news", "/v1/news", q)
}

// Indices returns index levels.
func (g *Gateway) Indices(ctx context.Context) (Payload, error) {
	return g.payload(ctx, "indices", "/v1/indices", nil)
}

// Symbols returns the supported symbols.
func (g *Gateway) Symbols(ctx context.Context) (Payload, error) {
	return g.payload(ctx, "symbols", "/v1/symbols", nil)
}

// Backtest runs a built-in strategy server-side over days of history.
func (g *Gateway) Backtest(ctx context.Context, symbol, strategy string, days int) (BacktestResult, error) {
	if strategy == "" {
		strategy = "hurst_momentum"
	}
	if days <= 0 {
		days = 365
	}
	var out BacktestResult
	err := g.call(ctx, Request{
		Endpoint: "backtest",
		Path:     "/v1/backtest",
		Query:    map[string]string{"symbol": symbol, "strategy": strategy, "days": strconv.Itoa(days)},
		Result:   &out,
	})
	if err == nil {
		if out.Symbol == "" {
			out.Symbol = symbol
		}
		if out.Strategy == "" {
			out.Strategy = strategy
		}
	}
	return out, err
}

// Usage returns the service's usage report for the active credential.
func (g *Gateway) Usage(ctx context.Context) (Usage, error) {
	var out Usage
	err := g.call(ctx, Request{Endpoint: "usage", Path: "/v1/usage", Result: &out})
	return out, err
}

// KeyInfo returns the service's metadata for the active credential.
func (g *Gateway) KeyInfo(ctx context.Context) (KeyInfo, error) {
	var out KeyInfo
	err := g.call(ctx, Request{Endpoint: "key_info", Path: "/v1/api-keys/info", Result: &out})
	return out, err
}

// Health checks the service without a credential and without quota.
func (g *Gateway) Health(ctx context.Context) (Health, error) {
	var out Health
	err := g.transport.Do(ctx, credential.Credential{}, Request{
		Endpoint: "health",
		Path:     "/v1/health",
		Result:   &out,
		Public:   true,
	})
	return out, err
}

func (g *Gateway) payload(ctx context.Context, endpoint, path string, q map[string]string) (Payload, error) {
	var out Payload
	err := g.call(ctx, Request{Endpoint: endpoint, Path: path, Query: q, Result: &out})
	return out, err
}

// Mint implements credential.Minter. It authenticates with the credential
// being replaced.
func (t *Transport) Mint(ctx context.Context, current credential.Credential) (string, error) {
	var out struct {
		APIKey string `json:"api_key"`
	}
	err := t.Do(ctx, current, Request{
		Endpoint: "rotate_key",
		Method:   http.MethodPost,
		Path:     "/v1/api-keys/rotate",
		Result:   &out,
	})
	if err != nil {
		return "", err
	}
	if out.APIKey == "" {
		return "", core.WrapError(core.ErrRejected, errors.New("rotation response carried no api_key"))
	}
	return out.APIKey, nil
}

// Subscriptions adapts the webhook endpoints to the subscription registry.
func (g *Gateway) Subscriptions() subscription.Remote {
	return remoteSubscriptions{g}
}

type remoteSubscriptions struct {
	g *Gateway
}

func (r remoteSubscriptions) Create(ctx context.Context, spec subscription.Spec) (subscription.Subscription, error) {
	body := map[string]any{
		"symbol":    spec.Symbol,
		"condition": string(spec.Condition),
		"threshold": spec.Threshold,
	}
	switch spec.Target.Kind {
	case subscription.TargetStream:
		body["channel"] = spec.Target.Channel
	default:
		body["url"] = spec.Target.URL
	}

	var out Webhook
	err := r.g.call(ctx, Request{
		Endpoint: "webhook_subscribe",
		Method:   http.MethodPost,
		Path:     "/v1/webhooks/subscribe",
		Body:     body,
		Result:   &out,
	})
	if err != nil {
		return subscription.Subscription{}, err
	}
	if out.ID == "" {
		return subscription.Subscription{}, core.WrapError(core.ErrRejected, errors.New("subscribe response carried no id"))
	}
	sub := toSubscription(out)
	if sub.Symbol == "" {
		sub.Symbol = spec.Symbol
		sub.Condition = spec.Condition
		sub.Threshold = spec.Threshold
	}
	if sub.Target.URL == "" && sub.Target.Channel == "" {
		sub.Target = spec.Target
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = r.g.clock.Now()
	}
	return sub, nil
}

func (r remoteSubscriptions) Delete(ctx context.Context, id string) error {
	return r.g.call(ctx, Request{
		Endpoint: "webhook_delete",
		Method:   http.MethodDelete,
		Path:     "/v1/webhooks/" + url.PathEscape(id),
	})
}

func (r remoteSubscriptions) List(ctx context.Context) ([]subscription.Subscription, error) {
	var out struct {
		Webhooks []Webhook `json:"webhooks"`
	}
	if err := r.g.call(ctx, Request{Endpoint: "webhook_list", Path: "/v1/webhooks", Result: &out}); err != nil {
		return nil, err
	}
	subs := make([]subscription.Subscription, 0, len(out.Webhooks))
	for _, w := range out.Webhooks {
		subs = append(subs, toSubscription(w))
	}
	return subs, nil
}

func toSubscription(w Webhook) subscription.Subscription {
	target := subscription.WebhookTarget(w.URL)
	if w.Channel != "" {
		target = subscription.StreamTarget(w.Channel)
	}
	return subscription.Subscription{
		ID:        w.ID,
		Target:    target,
		Symbol:    w.Symbol,
		Condition: subscription.Condition(w.Condition),
		Threshold: w.Threshold,
		CreatedAt: w.CreatedAt,
	}
}
