package broker_test

import (
	"context"
	"errors"
	"testing"

	"github.com/newthinker/tinkclaw/internal/broker"
	"github.com/newthinker/tinkclaw/internal/broker/paper"
	"github.com/newthinker/tinkclaw/internal/core"
	"github.com/shopspring/decimal"
)

func TestParseMode(t *testing.T) {
	for in, want := range map[string]broker.ExecutionMode{
		"":         broker.ExecutionAuto,
		"auto":     broker.ExecutionAuto,
		"confirm":  broker.ExecutionConfirm,
		"advisory": broker.ExecutionAdvisory,
	} {
		got, err := broker.ParseMode(in)
		if err != nil || got != want {
			t.Errorf("ParseMode(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := broker.ParseMode("batch"); !errors.Is(err, core.ErrConfigInvalid) {
		t.Errorf("expected config error, got %v", err)
	}
}

func TestExecutor_AutoUpdatesLedgerAfterAck(t *testing.T) {
	ctx := context.Background()
	pb := paper.New(dec("100000"))
	pb.SetMark("BTC", dec("50"))
	l := broker.NewLedger(fixedNow)
	ex := broker.NewExecutor(broker.ExecutionAuto, pb, l, nil, nil)

	res, err := ex.Execute(ctx, core.Buy("BTC", dec("100"), "score 78"), dec("49"))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !res.Executed || res.Advisory || res.Ack == nil {
		t.Errorf("unexpected result %+v", res)
	}
	if !l.Position("BTC").Size.Equal(dec("100")) {
		t.Errorf("expected ledger 100, got %s", l.Position("BTC").Size)
	}
	// fill price wins over the mark
	if !l.Position("BTC").AvgEntry.Equal(dec("50")) {
		t.Errorf("expected entry at fill price, got %s", l.Position("BTC").AvgEntry)
	}
}

func TestExecutor_BrokerFailureLeavesLedger(t *testing.T) {
	ctx := context.Background()
	pb := paper.New(dec("100000"))
	pb.FailNext(errors.New("connection refused"))
	l := broker.NewLedger(fixedNow)
	ex := broker.NewExecutor(broker.ExecutionAuto, pb, l, nil, nil)

	res, err := ex.Execute(ctx, core.Buy("BTC", dec("100"), ""), dec("50"))
	if !errors.Is(err, core.ErrBrokerFailed) {
		t.Fatalf("expected BROKER_FAILED, got %v", err)
	}
	if res.Executed {
		t.Error("failed call must not be reported executed")
	}
	if !l.Position("BTC").IsFlat() {
		t.Error("ledger must not move without an ack")
	}
}

func TestExecutor_NilAdapterIsAdvisory(t *testing.T) {
	l := broker.NewLedger(fixedNow)
	ex := broker.NewExecutor(broker.ExecutionAuto, nil, l, nil, nil)
	if ex.Mode() != broker.ExecutionAdvisory {
		t.Fatalf("expected advisory mode, got %s", ex.Mode())
	}

	res, err := ex.Execute(context.Background(), core.Buy("ETH", dec("2"), ""), dec("3000"))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !res.Advisory || !res.Executed {
		t.Errorf("unexpected result %+v", res)
	}
	if !l.Position("ETH").Size.Equal(dec("2")) {
		t.Errorf("advisory mode still updates the ledger")
	}
}

func TestExecutor_RiskRejection(t *testing.T) {
	l := broker.NewLedger(fixedNow)
	pb := paper.New(dec("1000"))
	rc := broker.NewRiskChecker(broker.RiskConfig{MaxPositionSize: dec("10")}, l, nil)
	ex := broker.NewExecutor(broker.ExecutionAuto, pb, l, rc, nil)

	_, err := ex.Execute(context.Background(), core.Buy("BTC", dec("11"), ""), decimal.Zero)
	if !errors.Is(err, core.ErrRiskRejected) {
		t.Fatalf("expected risk rejection, got %v", err)
	}
	if len(pb.Calls()) != 0 {
		t.Error("rejected intents never reach the broker")
	}
}

func TestExecutor_InvalidIntent(t *testing.T) {
	ex := broker.NewExecutor(broker.ExecutionAuto, paper.New(dec("1")), broker.NewLedger(fixedNow), nil, nil)
	_, err := ex.Execute(context.Background(), core.Intent{Symbol: "BTC", Side: core.SideBuy}, decimal.Zero)
	if !errors.Is(err, core.ErrRejected) {
		t.Errorf("expected rejection for zero size, got %v", err)
	}
}

func TestExecutor_ConfirmFlow(t *testing.T) {
	ctx := context.Background()
	pb := paper.New(dec("100000"))
	pb.SetMark("AAPL", dec("100"))
	l := broker.NewLedger(fixedNow)
	ex := broker.NewExecutor(broker.ExecutionConfirm, pb, l, nil, nil)

	res, err := ex.Execute(ctx, core.Buy("AAPL", dec("10"), ""), dec("100"))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if res.PendingID == "" || res.Executed {
		t.Fatalf("expected queued intent, got %+v", res)
	}
	second, _ := ex.Execute(ctx, core.Buy("MSFT", dec("1"), ""), dec("400"))

	pending := ex.Pending()
	if len(pending) != 2 || pending[0].ID != res.PendingID {
		t.Fatalf("unexpected pending list %+v", pending)
	}
	if !l.Position("AAPL").IsFlat() {
		t.Error("queued intents do not move the ledger")
	}

	pb.FailNext(errors.New("rejected by venue"))
	if _, err := ex.Confirm(ctx, res.PendingID); err == nil {
		t.Fatal("expected confirm failure")
	}
	if len(ex.Pending()) != 2 {
		t.Error("failed confirm keeps the intent queued")
	}

	if _, err := ex.Confirm(ctx, res.PendingID); err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}
	if !l.Position("AAPL").Size.Equal(dec("10")) {
		t.Errorf("expected AAPL 10 after confirm")
	}

	if err := ex.Reject(second.PendingID); err != nil {
		t.Fatalf("Reject failed: %v", err)
	}
	if err := ex.Reject(second.PendingID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
	if _, err := ex.Confirm(ctx, "pending-99"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
	if len(ex.Pending()) != 0 {
		t.Error("expected empty queue")
	}
}
