// internal/api/handler/api/intents_test.go
package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/newthinker/tinkclaw/internal/broker"
	"github.com/newthinker/tinkclaw/internal/broker/paper"
	"github.com/newthinker/tinkclaw/internal/core"
	"github.com/shopspring/decimal"
)

func TestIntentsHandler_ListAndReject(t *testing.T) {
	exec := broker.NewExecutor(broker.ExecutionConfirm, paper.New(decimal.NewFromInt(1000)), broker.NewLedger(time.Now), nil, nil)
	res, err := exec.Execute(context.Background(), core.Buy("ETH", decimal.NewFromInt(1), "score 80"), decimal.NewFromInt(3000))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	h := NewIntentsHandler(exec)
	r := chi.NewRouter()
	r.Get("/intents", h.List)
	r.Post("/intents/{id}/reject", h.Reject)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/intents", nil))
	if !strings.Contains(w.Body.String(), `"count":1`) {
		t.Fatalf("expected one pending intent, got %s", w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/intents/"+res.PendingID+"/reject", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(exec.Pending()) != 0 {
		t.Error("expected queue to be empty after reject")
	}
	if !exec.Ledger().Position("ETH").IsFlat() {
		t.Error("rejected intent must not move the ledger")
	}
}

func TestIntentsHandler_ConfirmBrokerFailureKeepsIntent(t *testing.T) {
	pb := paper.New(decimal.NewFromInt(1000))
	exec := broker.NewExecutor(broker.ExecutionConfirm, pb, broker.NewLedger(time.Now), nil, nil)
	res, _ := exec.Execute(context.Background(), core.Buy("ETH", decimal.NewFromInt(1), ""), decimal.NewFromInt(3000))

	r := chi.NewRouter()
	r.Post("/intents/{id}/confirm", NewIntentsHandler(exec).Confirm)

	pb.FailNext(errors.New("exchange closed"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/intents/"+res.PendingID+"/confirm", nil))
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", w.Code, w.Body.String())
	}
	if len(exec.Pending()) != 1 {
		t.Error("failed confirmation must leave the intent queued")
	}
}
