package ledger

import (
	"sync"
	"testing"
)

func TestBook_BuyFillAccumulates(t *testing.T) {
	b := NewBook(0)

	pos, err := b.ApplyBuyFill(1, 1_000_000_000, 1_000_000, 136_963)
	if err != nil {
		t.Fatalf("ApplyBuyFill: %v", err)
	}
	if pos.TotalAlphaRao != 1_000_000 || pos.TotalTaoSpentRao != 1_000_000_000 {
		t.Errorf("position = %+v", pos)
	}
	if pos.TotalFeePaidRao != 136_963 || pos.NumTransactions != 1 {
		t.Errorf("fee/tx = %d/%d", pos.TotalFeePaidRao, pos.NumTransactions)
	}

	pos, err = b.ApplyBuyFill(1, 500_000_000, 400_000, 136_963)
	if err != nil {
		t.Fatalf("ApplyBuyFill: %v", err)
	}
	if pos.TotalAlphaRao != 1_400_000 || pos.TotalTaoSpentRao != 1_500_000_000 {
		t.Errorf("position after second buy = %+v", pos)
	}
	if pos.NumTransactions != 2 {
		t.Errorf("NumTransactions = %d; want 2", pos.NumTransactions)
	}
}

func TestBook_BuyAttemptFeeIsSunkCost(t *testing.T) {
	b := NewBook(0)

	pos, err := b.ApplyBuyAttemptFee(1, 136_963)
	if err != nil {
		t.Fatalf("ApplyBuyAttemptFee: %v", err)
	}
	if pos.TotalTaoSpentRao != 136_963 {
		t.Errorf("TotalTaoSpentRao = %d; want sunk fee 136963", pos.TotalTaoSpentRao)
	}
	if pos.NumTransactions != 0 {
		t.Errorf("attempt fee must not count as a transaction, got %d", pos.NumTransactions)
	}
}

func TestBook_SellFillAverageCost(t *testing.T) {
	b := NewBook(0)
	mustBuy(t, b, 7, 1_000_000_000, 1_000_000)

	// Sell 40% for 600 mTAO: removes floor(1e9 * 400000 / 1000000) = 4e8.
	res, err := b.ApplySellFill(7, 400_000, 600_000_000, 0)
	if err != nil {
		t.Fatalf("ApplySellFill: %v", err)
	}
	if res.RemovedCostRao != 400_000_000 {
		t.Errorf("RemovedCostRao = %d; want 400000000", res.RemovedCostRao)
	}
	if res.RealizedProfitRao != 200_000_000 {
		t.Errorf("RealizedProfitRao = %d; want 200000000", res.RealizedProfitRao)
	}
	if res.Position.TotalAlphaRao != 600_000 || res.Position.TotalTaoSpentRao != 600_000_000 {
		t.Errorf("remaining position = %+v", res.Position)
	}
}

func TestBook_SellFillClampsOversell(t *testing.T) {
	b := NewBook(0)
	mustBuy(t, b, 3, 1_000_000_000, 1_000_000)

	res, err := b.ApplySellFill(3, 2_000_000, 1_500_000_000, 0)
	if err != nil {
		t.Fatalf("ApplySellFill: %v", err)
	}
	if res.SoldAlphaRao != 1_000_000 {
		t.Errorf("SoldAlphaRao = %d; want clamp to 1000000", res.SoldAlphaRao)
	}
	if res.Position.TotalAlphaRao != 0 {
		t.Errorf("TotalAlphaRao = %d; want 0", res.Position.TotalAlphaRao)
	}
	if res.Position.TotalTaoSpentRao != 0 {
		t.Errorf("cost basis must be zero on a closed position, got %d", res.Position.TotalTaoSpentRao)
	}
}

// Closing through partial sells must never strand cost basis: whenever
// the quantity reaches zero (or dust), the cost basis is zero too.
func TestBook_CostBasisZeroWheneverEmpty(t *testing.T) {
	b := NewBook(0)
	mustBuy(t, b, 5, 999_999_937, 1_000_003) // awkward primes force rounding remainder

	remaining := int64(1_000_003)
	for _, sell := range []int64{333_334, 333_334, 333_335} {
		res, err := b.ApplySellFill(5, sell, 400_000_000, 0)
		if err != nil {
			t.Fatalf("ApplySellFill(%d): %v", sell, err)
		}
		remaining -= sell
		if res.Position.TotalAlphaRao != remaining {
			t.Fatalf("TotalAlphaRao = %d; want %d", res.Position.TotalAlphaRao, remaining)
		}
	}

	pos, _ := b.Position(5)
	if pos.TotalAlphaRao != 0 || pos.TotalTaoSpentRao != 0 {
		t.Errorf("closed position retains state: %+v", pos)
	}
}

func TestBook_DustThresholdClosesPosition(t *testing.T) {
	b := NewBook(10)
	mustBuy(t, b, 9, 1_000_000_000, 1_000_000)

	// Leave 7 rao of alpha, below the dust threshold of 10.
	res, err := b.ApplySellFill(9, 999_993, 1_200_000_000, 0)
	if err != nil {
		t.Fatalf("ApplySellFill: %v", err)
	}
	if res.Position.TotalAlphaRao != 7 {
		t.Fatalf("TotalAlphaRao = %d; want 7", res.Position.TotalAlphaRao)
	}
	if res.Position.TotalTaoSpentRao != 0 {
		t.Errorf("dust residual cost basis not zeroed: %d", res.Position.TotalTaoSpentRao)
	}
}

func TestBook_SellAttemptFeeDebitsProfit(t *testing.T) {
	b := NewBook(0)
	mustBuy(t, b, 2, 1_000_000_000, 1_000_000)

	pos, err := b.ApplySellAttemptFee(2, 135_688)
	if err != nil {
		t.Fatalf("ApplySellAttemptFee: %v", err)
	}
	if pos.RealizedProfitRao != -135_688 {
		t.Errorf("RealizedProfitRao = %d; want -135688", pos.RealizedProfitRao)
	}
	if pos.TotalTaoSpentRao != 1_000_000_000 {
		t.Errorf("sell attempt fee must not touch cost basis, got %d", pos.TotalTaoSpentRao)
	}
}

func TestBook_Reconcile(t *testing.T) {
	b := NewBook(0)
	mustBuy(t, b, 4, 1_000_000_000, 1_000_000)

	// External reports more (yield accrued outside the ledger's view).
	res, err := b.Reconcile(4, 1_050_000)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !res.Adjusted || res.ClampedDown || res.Position.TotalAlphaRao != 1_050_000 {
		t.Errorf("upward reconcile = %+v", res)
	}

	// External reports less (a sell already landed on chain).
	res, err = b.Reconcile(4, 800_000)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !res.ClampedDown || res.Position.TotalAlphaRao != 800_000 {
		t.Errorf("downward reconcile = %+v", res)
	}
	if res.Position.TotalTaoSpentRao != 1_000_000_000 {
		t.Errorf("reconcile must not adjust cost basis, got %d", res.Position.TotalTaoSpentRao)
	}

	// Match: no adjustment.
	res, err = b.Reconcile(4, 800_000)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.Adjusted {
		t.Errorf("matching reconcile adjusted: %+v", res)
	}
}

func TestBook_ReconcileNeverLeavesExcess(t *testing.T) {
	b := NewBook(0)
	mustBuy(t, b, 6, 500_000_000, 700_000)

	for _, external := range []int64{0, 1, 699_999, 700_000, 900_000} {
		res, err := b.Reconcile(6, external)
		if err != nil {
			t.Fatalf("Reconcile(%d): %v", external, err)
		}
		if res.Position.TotalAlphaRao > external {
			t.Errorf("quantity %d exceeds external %d", res.Position.TotalAlphaRao, external)
		}
	}
}

func TestBook_RejectsNegativeInputs(t *testing.T) {
	b := NewBook(0)

	if _, err := b.ApplyBuyFill(1, -1, 0, 0); err == nil {
		t.Error("negative buy accepted")
	}
	if _, err := b.ApplySellFill(1, 0, -1, 0); err == nil {
		t.Error("negative sell accepted")
	}
	if _, err := b.ApplyBuyAttemptFee(1, -1); err == nil {
		t.Error("negative buy fee accepted")
	}
	if _, err := b.ApplySellAttemptFee(1, -1); err == nil {
		t.Error("negative sell fee accepted")
	}
	if _, err := b.Reconcile(1, -1); err == nil {
		t.Error("negative external quantity accepted")
	}
}

func TestBook_SnapshotRestoreRoundTrip(t *testing.T) {
	b := NewBook(0)
	mustBuy(t, b, 11, 1_000_000_000, 1_000_000)
	mustBuy(t, b, 12, 2_000_000_000, 3_000_000)
	if _, err := b.ApplySellAttemptFee(11, 135_688); err != nil {
		t.Fatal(err)
	}

	snap := b.Snapshot()

	restored := NewBook(0)
	restored.Restore(snap)

	for _, netuid := range []uint16{11, 12} {
		want, _ := b.Position(netuid)
		got, ok := restored.Position(netuid)
		if !ok || got != want {
			t.Errorf("netuid %d: restored %+v; want %+v", netuid, got, want)
		}
	}
}

// Concurrent fills on one market must serialize; across markets they may
// interleave freely. The totals must come out exact either way.
func TestBook_ConcurrentFills(t *testing.T) {
	b := NewBook(0)

	var wg sync.WaitGroup
	for netuid := uint16(1); netuid <= 4; netuid++ {
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(n uint16) {
				defer wg.Done()
				if _, err := b.ApplyBuyFill(n, 1000, 10, 1); err != nil {
					t.Error(err)
				}
			}(netuid)
		}
	}
	wg.Wait()

	for netuid := uint16(1); netuid <= 4; netuid++ {
		pos, _ := b.Position(netuid)
		if pos.TotalAlphaRao != 500 || pos.TotalTaoSpentRao != 50_000 {
			t.Errorf("netuid %d: %+v", netuid, pos)
		}
		if pos.NumTransactions != 50 {
			t.Errorf("netuid %d: NumTransactions = %d", netuid, pos.NumTransactions)
		}
	}
}

func mustBuy(t *testing.T, b *Book, netuid uint16, taoRao, alphaRao int64) {
	t.Helper()
	if _, err := b.ApplyBuyFill(netuid, taoRao, alphaRao, 0); err != nil {
		t.Fatalf("ApplyBuyFill: %v", err)
	}
}
