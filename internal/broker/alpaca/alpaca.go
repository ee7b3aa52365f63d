// Package alpaca routes intents to Alpaca Markets as market orders.
package alpaca

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/newthinker/tinkclaw/internal/broker"
	"github.com/newthinker/tinkclaw/internal/core"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	PaperURL = "https://paper-api.alpaca.markets"
	LiveURL  = "https://api.alpaca.markets"
)

// Config holds Alpaca credentials and endpoint selection.
type Config struct {
	KeyID     string
	SecretKey string
	Paper     bool
	BaseURL   string // overrides the paper/live choice
	Timeout   time.Duration
}

// Broker implements broker.Adapter against the Alpaca trading API.
type Broker struct {
	client *resty.Client
	logger *zap.Logger
}

// New creates an Alpaca broker.
func New(cfg Config, logger *zap.Logger) (*Broker, error) {
	if cfg.KeyID == "" || cfg.SecretKey == "" {
		return nil, core.WrapError(core.ErrConfigMissing, fmt.Errorf("alpaca key id and secret are required"))
	}
	base := cfg.BaseURL
	if base == "" {
		base = LiveURL
		if cfg.Paper {
			base = PaperURL
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := resty.New().
		SetBaseURL(strings.TrimSuffix(base, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("APCA-API-KEY-ID", cfg.KeyID).
		SetHeader("APCA-API-SECRET-KEY", cfg.SecretKey).
		SetHeader("Accept", "application/json")

	return &Broker{client: client, logger: logger.With(zap.String("broker", "alpaca"))}, nil
}

// Name returns the broker identifier.
func (b *Broker) Name() string {
	return "alpaca"
}

type orderRequest struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	TimeInForce   string `json:"time_in_force"`
	ClientOrderID string `json:"client_order_id"`
}

type order struct {
	ID             string              `json:"id"`
	ClientOrderID  string              `json:"client_order_id"`
	Symbol         string              `json:"symbol"`
	Qty            decimal.Decimal     `json:"qty"`
	FilledQty      decimal.Decimal     `json:"filled_qty"`
	FilledAvgPrice decimal.NullDecimal `json:"filled_avg_price"`
	Side           string              `json:"side"`
	Status         string              `json:"status"`
	SubmittedAt    time.Time           `json:"submitted_at"`
}

type position struct {
	Symbol        string          `json:"symbol"`
	Qty           decimal.Decimal `json:"qty"`
	AvgEntryPrice decimal.Decimal `json:"avg_entry_price"`
	Side          string          `json:"side"`
}

type account struct {
	ID          string          `json:"id"`
	Currency    string          `json:"currency"`
	Cash        decimal.Decimal `json:"cash"`
	Equity      decimal.Decimal `json:"equity"`
	BuyingPower decimal.Decimal `json:"buying_power"`
	Status      string          `json:"status"`
}

// Buy places a market buy for size shares.
func (b *Broker) Buy(ctx context.Context, symbol string, size decimal.Decimal) (broker.Ack, error) {
	return b.place(ctx, core.SideBuy, symbol, size)
}

// Sell places a market sell for size shares.
func (b *Broker) Sell(ctx context.Context, symbol string, size decimal.Decimal) (broker.Ack, error) {
	return b.place(ctx, core.SideSell, symbol, size)
}

func (b *Broker) place(ctx context.Context, side core.Side, symbol string, size decimal.Decimal) (broker.Ack, error) {
	if err := broker.ValidateIntent(core.Intent{Symbol: symbol, Side: side, Size: size}); err != nil {
		return broker.Ack{}, err
	}
	req := orderRequest{
		Symbol:        symbol,
		Qty:           size.String(),
		Side:          string(side),
		Type:          "market",
		TimeInForce:   "day",
		ClientOrderID: uuid.NewString(),
	}

	var o order
	if err := b.do(ctx, http.MethodPost, "/v2/orders", req, &o); err != nil {
		return broker.Ack{}, err
	}
	b.logger.Info("order placed",
		zap.String("order_id", o.ID),
		zap.String("symbol", symbol),
		zap.String("side", string(side)),
		zap.String("qty", size.String()),
		zap.String("status", o.Status),
	)

	ack := o.ack()
	ack.Symbol = symbol
	ack.Side = side
	ack.Size = size
	return ack, nil
}

func (o order) ack() broker.Ack {
	ack := broker.Ack{
		OrderID:       o.ID,
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Side:          core.Side(o.Side),
		Size:          o.Qty,
		FilledSize:    o.FilledQty,
		Status:        statusOf(o.Status),
		At:            o.SubmittedAt,
	}
	if o.FilledAvgPrice.Valid {
		ack.FillPrice = o.FilledAvgPrice.Decimal
	}
	return ack
}

// Orders lists orders by status: open (the default), closed or all.
func (b *Broker) Orders(ctx context.Context, status string) ([]broker.Order, error) {
	switch status {
	case "":
		status = broker.OrdersOpen
	case broker.OrdersOpen, broker.OrdersClosed, broker.OrdersAll:
	default:
		return nil, core.WrapError(core.ErrRejected, fmt.Errorf("unknown order status filter %q", status))
	}

	var list []order
	if err := b.do(ctx, http.MethodGet, "/v2/orders?status="+url.QueryEscape(status), nil, &list); err != nil {
		return nil, err
	}
	out := make([]broker.Order, len(list))
	for i, o := range list {
		out[i] = broker.Order{Ack: o.ack(), State: o.Status}
	}
	return out, nil
}

func statusOf(s string) broker.OrderStatus {
	switch s {
	case "filled":
		return broker.OrderStatusFilled
	case "partially_filled":
		return broker.OrderStatusPartial
	default:
		return broker.OrderStatusAccepted
	}
}

// GetPosition returns the open position or NotFound.
func (b *Broker) GetPosition(ctx context.Context, symbol string) (core.Position, error) {
	var p position
	if err := b.do(ctx, http.MethodGet, "/v2/positions/"+url.PathEscape(symbol), nil, &p); err != nil {
		return core.Position{}, err
	}
	size := p.Qty
	if p.Side == "short" && size.IsPositive() {
		size = size.Neg()
	}
	return core.Position{Symbol: symbol, Size: size, AvgEntry: p.AvgEntryPrice, UpdatedAt: time.Now()}, nil
}

// GetAccount returns the account summary.
func (b *Broker) GetAccount(ctx context.Context) (core.AccountSnapshot, error) {
	var a account
	if err := b.do(ctx, http.MethodGet, "/v2/account", nil, &a); err != nil {
		return core.AccountSnapshot{}, err
	}
	return core.AccountSnapshot{
		ID:          a.ID,
		Currency:    a.Currency,
		Cash:        a.Cash,
		Equity:      a.Equity,
		BuyingPower: a.BuyingPower,
		Status:      a.Status,
		UpdatedAt:   time.Now(),
	}, nil
}

func (b *Broker) do(ctx context.Context, method, path string, body, out any) error {
	r := b.client.R().SetContext(ctx)
	if body != nil {
		r.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	resp, err := r.Execute(method, path)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return core.Transient(fmt.Errorf("alpaca %s %s: %w", method, path, err))
	}

	status := resp.StatusCode()
	switch {
	case status >= 200 && status < 300:
		if out == nil || len(resp.Body()) == 0 {
			return nil
		}
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return core.Transient(fmt.Errorf("alpaca %s: decoding response: %w", path, err))
		}
		return nil
	case status == http.StatusNotFound:
		return core.NotFound("alpaca " + path)
	case status == http.StatusUnauthorized:
		return core.WrapError(core.ErrAuthInvalid, fmt.Errorf("alpaca: %s", message(resp.Body())))
	case status == http.StatusTooManyRequests || status >= 500:
		return core.Transient(fmt.Errorf("alpaca %s: status %d: %s", path, status, message(resp.Body())))
	default:
		return core.WrapError(core.ErrBrokerFailed, fmt.Errorf("alpaca %s: status %d: %s", path, status, message(resp.Body())))
	}
}

func message(body []byte) string {
	var e struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &e) == nil && e.Message != "" {
		return e.Message
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

var (
	_ broker.Adapter     = (*Broker)(nil)
	_ broker.OrderLister = (*Broker)(nil)
)
