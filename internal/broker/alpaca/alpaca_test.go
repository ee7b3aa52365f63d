package alpaca

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/newthinker/tinkclaw/internal/broker"
	"github.com/newthinker/tinkclaw/internal/core"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBroker(t *testing.T, h http.HandlerFunc) *Broker {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	b, err := New(Config{KeyID: "AKTEST", SecretKey: "secret", BaseURL: srv.URL}, nil)
	require.NoError(t, err)
	return b
}

func TestNew_RequiresCredentials(t *testing.T) {
	_, err := New(Config{KeyID: "AK"}, nil)
	assert.ErrorIs(t, err, core.ErrConfigMissing)
}

func TestBuy_PlacesMarketOrder(t *testing.T) {
	var got orderRequest
	b := newTestBroker(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v2/orders", r.URL.Path)
		assert.Equal(t, "AKTEST", r.Header.Get("APCA-API-KEY-ID"))
		assert.Equal(t, "secret", r.Header.Get("APCA-API-SECRET-KEY"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"ord-1","client_order_id":"c-1","symbol":"AAPL","qty":"10","filled_qty":"10","filled_avg_price":"187.5","side":"buy","status":"filled","submitted_at":"2026-03-02T14:30:00Z"}`))
	})

	ack, err := b.Buy(context.Background(), "AAPL", decimal.NewFromInt(10))
	require.NoError(t, err)

	assert.Equal(t, "AAPL", got.Symbol)
	assert.Equal(t, "10", got.Qty)
	assert.Equal(t, "buy", got.Side)
	assert.Equal(t, "market", got.Type)
	assert.Equal(t, "day", got.TimeInForce)
	assert.NotEmpty(t, got.ClientOrderID)

	assert.Equal(t, "ord-1", ack.OrderID)
	assert.Equal(t, broker.OrderStatusFilled, ack.Status)
	assert.True(t, ack.FillPrice.Equal(decimal.RequireFromString("187.5")))
	assert.True(t, ack.Executed().Equal(decimal.NewFromInt(10)))
}

func TestSell_AcceptedWithoutFill(t *testing.T) {
	b := newTestBroker(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"ord-2","symbol":"AAPL","qty":"5","filled_qty":"0","filled_avg_price":null,"side":"sell","status":"accepted"}`))
	})

	ack, err := b.Sell(context.Background(), "AAPL", decimal.NewFromInt(5))
	require.NoError(t, err)
	assert.Equal(t, broker.OrderStatusAccepted, ack.Status)
	assert.True(t, ack.FillPrice.IsZero())
	assert.True(t, ack.Executed().Equal(decimal.NewFromInt(5)))
}

func TestGetPosition(t *testing.T) {
	b := newTestBroker(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v2/positions/AAPL":
			w.Write([]byte(`{"symbol":"AAPL","qty":"12","avg_entry_price":"150.25","side":"long"}`))
		case "/v2/positions/TSLA":
			w.Write([]byte(`{"symbol":"TSLA","qty":"3","avg_entry_price":"200","side":"short"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"code":40410000,"message":"position does not exist"}`))
		}
	})
	ctx := context.Background()

	pos, err := b.GetPosition(ctx, "AAPL")
	require.NoError(t, err)
	assert.True(t, pos.Size.Equal(decimal.NewFromInt(12)))
	assert.True(t, pos.AvgEntry.Equal(decimal.RequireFromString("150.25")))

	pos, err = b.GetPosition(ctx, "TSLA")
	require.NoError(t, err)
	assert.True(t, pos.Size.Equal(decimal.NewFromInt(-3)))

	_, err = b.GetPosition(ctx, "MSFT")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestOrders_ListsByStatus(t *testing.T) {
	b := newTestBroker(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v2/orders", r.URL.Path)
		assert.Equal(t, "closed", r.URL.Query().Get("status"))
		w.Write([]byte(`[
			{"id":"ord-1","symbol":"AAPL","qty":"10","filled_qty":"10","filled_avg_price":"187.5","side":"buy","status":"filled","submitted_at":"2026-03-02T14:30:00Z"},
			{"id":"ord-2","symbol":"MSFT","qty":"3","filled_qty":"0","filled_avg_price":null,"side":"sell","status":"canceled","submitted_at":"2026-03-02T15:00:00Z"}
		]`))
	})

	orders, err := b.Orders(context.Background(), broker.OrdersClosed)
	require.NoError(t, err)
	require.Len(t, orders, 2)

	assert.Equal(t, "ord-1", orders[0].OrderID)
	assert.Equal(t, "AAPL", orders[0].Symbol)
	assert.Equal(t, core.SideBuy, orders[0].Side)
	assert.Equal(t, broker.OrderStatusFilled, orders[0].Status)
	assert.True(t, orders[0].FillPrice.Equal(decimal.RequireFromString("187.5")))

	assert.Equal(t, core.SideSell, orders[1].Side)
	assert.Equal(t, "canceled", orders[1].State)
	assert.True(t, orders[1].Size.Equal(decimal.NewFromInt(3)))
}

func TestOrders_DefaultsToOpen(t *testing.T) {
	b := newTestBroker(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "open", r.URL.Query().Get("status"))
		w.Write([]byte(`[]`))
	})

	orders, err := b.Orders(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestOrders_RejectsUnknownFilter(t *testing.T) {
	b := newTestBroker(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("request must not be sent")
	})

	_, err := b.Orders(context.Background(), "pending")
	assert.ErrorIs(t, err, core.ErrRejected)
}

func TestGetAccount(t *testing.T) {
	b := newTestBroker(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/account", r.URL.Path)
		w.Write([]byte(`{"id":"acct-1","currency":"USD","cash":"1000.50","equity":"2500","buying_power":"2000","status":"ACTIVE"}`))
	})

	acct, err := b.GetAccount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "acct-1", acct.ID)
	assert.True(t, acct.Cash.Equal(decimal.RequireFromString("1000.50")))
	assert.True(t, acct.Equity.Equal(decimal.NewFromInt(2500)))
	assert.Equal(t, "ACTIVE", acct.Status)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, core.ErrAuthInvalid},
		{http.StatusForbidden, core.ErrBrokerFailed},
		{http.StatusUnprocessableEntity, core.ErrBrokerFailed},
		{http.StatusTooManyRequests, core.ErrTransient},
		{http.StatusBadGateway, core.ErrTransient},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			b := newTestBroker(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"message":"nope"}`))
			})
			_, err := b.Buy(context.Background(), "AAPL", decimal.NewFromInt(1))
			assert.ErrorIs(t, err, tt.want)
			assert.Contains(t, err.Error(), "nope")
		})
	}
}

func TestPaperURLSelection(t *testing.T) {
	b, err := New(Config{KeyID: "a", SecretKey: "b", Paper: true}, nil)
	require.NoError(t, err)
	assert.Equal(t, PaperURL, b.client.BaseURL)

	b, err = New(Config{KeyID: "a", SecretKey: "b"}, nil)
	require.NoError(t, err)
	assert.Equal(t, LiveURL, b.client.BaseURL)
}
