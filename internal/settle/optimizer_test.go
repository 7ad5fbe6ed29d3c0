package settle

import (
	"math"
	"reflect"
	"testing"

	"splitledger/internal/core"
)

func edge(debtor, creditor int64, amount float64) core.BalanceEdge {
	return core.BalanceEdge{GroupID: 1, DebtorID: debtor, CreditorID: creditor, Amount: amount}
}

func netPositions(edges []core.BalanceEdge) map[int64]float64 {
	net := make(map[int64]float64)
	for _, e := range edges {
		net[e.DebtorID] -= e.Amount
		net[e.CreditorID] += e.Amount
	}
	return net
}

func TestOptimizeEmpty(t *testing.T) {
	if got := Optimize(nil, nil); len(got) != 0 {
		t.Errorf("got %d suggestions for empty ledger", len(got))
	}
}

func TestOptimizeSinglePair(t *testing.T) {
	got := Optimize([]core.BalanceEdge{edge(2, 1, 40)}, nil)
	want := []core.SettlementSuggestion{
		{FromUserID: 2, ToUserID: 1, Amount: 40, Description: "user 2 pays user 1 40.00"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestOptimizeCollapsesChain(t *testing.T) {
	// A owes B, B owes C the same amount: one transfer A -> C settles
	// everything, since B nets to zero.
	edges := []core.BalanceEdge{
		edge(1, 2, 25),
		edge(2, 3, 25),
	}
	got := Optimize(edges, nil)
	if len(got) != 1 {
		t.Fatalf("got %d transfers, want 1: %+v", len(got), got)
	}
	s := got[0]
	if s.FromUserID != 1 || s.ToUserID != 3 || s.Amount != 25 {
		t.Errorf("transfer = %+v, want 1 pays 3 25.00", s)
	}
}

func TestOptimizeTransferCountBound(t *testing.T) {
	edges := []core.BalanceEdge{
		edge(1, 5, 10),
		edge(2, 5, 20),
		edge(3, 5, 30),
		edge(4, 1, 15),
		edge(2, 4, 5),
	}
	got := Optimize(edges, nil)
	participants := len(netPositions(edges))
	if len(got) > participants-1 {
		t.Errorf("got %d transfers for %d participants, want at most %d", len(got), participants, participants-1)
	}
}

func TestOptimizeConservesNetPositions(t *testing.T) {
	edges := []core.BalanceEdge{
		edge(1, 2, 12.37),
		edge(3, 2, 44.10),
		edge(4, 1, 8.25),
		edge(5, 3, 19.99),
		edge(5, 4, 3.33),
	}
	want := netPositions(edges)

	got := make(map[int64]float64)
	for _, s := range Optimize(edges, nil) {
		got[s.FromUserID] -= s.Amount
		got[s.ToUserID] += s.Amount
	}
	for id, w := range want {
		if math.Abs(got[id]-w) > core.Epsilon {
			t.Errorf("user %d: transfers net to %.2f, want %.2f", id, got[id], w)
		}
	}
}

func TestOptimizeDeterministicTieBreak(t *testing.T) {
	// Users 2 and 3 owe the same amount; user 2 is matched first.
	edges := []core.BalanceEdge{
		edge(3, 1, 10),
		edge(2, 1, 10),
	}
	got := Optimize(edges, nil)
	if len(got) != 2 {
		t.Fatalf("got %d transfers, want 2", len(got))
	}
	if got[0].FromUserID != 2 || got[1].FromUserID != 3 {
		t.Errorf("order = %d then %d, want 2 then 3", got[0].FromUserID, got[1].FromUserID)
	}
}

func TestOptimizeLargestMatchedFirst(t *testing.T) {
	edges := []core.BalanceEdge{
		edge(2, 1, 50),
		edge(3, 1, 10),
	}
	got := Optimize(edges, nil)
	if len(got) != 2 {
		t.Fatalf("got %d transfers, want 2", len(got))
	}
	if got[0].FromUserID != 2 || got[0].Amount != 50 {
		t.Errorf("first transfer = %+v, want user 2 paying 50.00", got[0])
	}
}

func TestOptimizeIgnoresSettledResiduals(t *testing.T) {
	edges := []core.BalanceEdge{
		edge(2, 1, 10.00),
		edge(1, 3, 9.99),
	}
	// User 1 nets to +0.01, below the cent threshold.
	got := Optimize(edges, nil)
	if len(got) != 1 {
		t.Fatalf("got %d transfers, want 1: %+v", len(got), got)
	}
	if got[0].FromUserID != 2 || got[0].ToUserID != 3 {
		t.Errorf("transfer = %+v, want 2 pays 3", got[0])
	}
}

func TestOptimizeUsesNames(t *testing.T) {
	names := map[int64]string{1: "Alice", 2: "Bob"}
	got := Optimize([]core.BalanceEdge{edge(2, 1, 5)}, names)
	if len(got) != 1 {
		t.Fatalf("got %d transfers, want 1", len(got))
	}
	if got[0].Description != "Bob pays Alice 5.00" {
		t.Errorf("description = %q", got[0].Description)
	}
}
