// internal/api/handler/api/signals_test.go
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/newthinker/tinkclaw/internal/api/response"
	"github.com/newthinker/tinkclaw/internal/storage/signal"
)

func TestSignalsHandler_List(t *testing.T) {
	store := signal.NewMemoryStore(100)
	store.Save(context.Background(), signal.Entry{
		Symbol:  "AAPL",
		Outcome: signal.OutcomeExecuted,
		At:      time.Now(),
	})

	handler := NewSignalsHandler(store)

	req := httptest.NewRequest("GET", "/api/v1/signals", nil)
	w := httptest.NewRecorder()

	handler.List(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	var resp response.SuccessResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	data := resp.Data.(map[string]any)
	signals := data["signals"].([]any)
	if len(signals) != 1 {
		t.Errorf("expected 1 signal, got %d", len(signals))
	}
}

func TestSignalsHandler_ListWithFilters(t *testing.T) {
	store := signal.NewMemoryStore(100)
	store.Save(context.Background(), signal.Entry{Symbol: "AAPL", Outcome: signal.OutcomeExecuted, At: time.Now()})
	store.Save(context.Background(), signal.Entry{Symbol: "GOOG", Outcome: signal.OutcomeFailed, At: time.Now()})
	store.Save(context.Background(), signal.Entry{Symbol: "GOOG", Outcome: signal.OutcomeHold, At: time.Now()})

	handler := NewSignalsHandler(store)

	req := httptest.NewRequest("GET", "/api/v1/signals?symbol=GOOG&outcome=failed", nil)
	w := httptest.NewRecorder()
	handler.List(w, req)

	var resp response.SuccessResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	data := resp.Data.(map[string]any)
	if n := len(data["signals"].([]any)); n != 1 {
		t.Errorf("expected 1 filtered signal, got %d", n)
	}
	if data["total"].(float64) != 1 {
		t.Errorf("expected total 1, got %v", data["total"])
	}
}

func TestSignalsHandler_GetByID(t *testing.T) {
	store := signal.NewMemoryStore(100)
	saved, _ := store.Save(context.Background(), signal.Entry{Symbol: "BTC", At: time.Now()})

	r := chi.NewRouter()
	r.Get("/signals/{id}", NewSignalsHandler(store).GetByID)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/signals/"+saved.ID, nil))
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/signals/dec_999", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}
