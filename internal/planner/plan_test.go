package planner

import (
	"testing"

	"github.com/sarna320/scalp/internal/amm"
	"github.com/sarna320/scalp/pkg/quant"
)

// Baseline scenario: 0.001 alpha held at 1000 TAO/alpha average entry,
// 10% profit target, 2% slippage, remove-stake flat fee.
func baseInputs(pool amm.Pool) Inputs {
	return Inputs{
		NetUID:              19,
		PositionAlphaRao:    1_000_000,
		PositionTaoSpentRao: 1_000_000_000,
		Pool:                pool,
		ProfitMultiplierPPM: 1_100_000,
		SlippageSellPPM:     20_000,
		AlphaFeePPM:         amm.DefaultAlphaFeePPM,
		FlatFeeSellRao:      135_688,
	}
}

func TestBuild_FullPositionPlan(t *testing.T) {
	// Pool spot at 2x entry: the whole position fits under the limit.
	plan, err := Build(baseInputs(amm.Pool{AlphaInRao: 50_000_000, TaoInRao: 100_000_000_000}))
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	if plan == nil {
		t.Fatal("expected a plan")
	}

	if plan.LimitPriceRao != 1_100_686_031_016 {
		t.Errorf("LimitPriceRao = %d; want 1100686031016", plan.LimitPriceRao)
	}
	if plan.ActivationPriceRao != 1_123_149_011_241 {
		t.Errorf("ActivationPriceRao = %d; want 1123149011241", plan.ActivationPriceRao)
	}
	if plan.AmountAlphaToSellRao != 1_000_000 {
		t.Errorf("AmountAlphaToSellRao = %d; want 1000000", plan.AmountAlphaToSellRao)
	}
	if plan.AmountAlphaIntoPoolRao != 999_500 {
		t.Errorf("AmountAlphaIntoPoolRao = %d; want 999500", plan.AmountAlphaIntoPoolRao)
	}
	if plan.ExpectedTaoOutRao != 1_959_823_136 {
		t.Errorf("ExpectedTaoOutRao = %d; want 1959823136", plan.ExpectedTaoOutRao)
	}
	if plan.ExpectedTaoOutAfterFlatFeeRao != 1_959_687_448 {
		t.Errorf("ExpectedTaoOutAfterFlatFeeRao = %d; want 1959687448", plan.ExpectedTaoOutAfterFlatFeeRao)
	}
	if plan.AssumedCostBasisRao != 1_000_000_000 {
		t.Errorf("AssumedCostBasisRao = %d; want 1000000000", plan.AssumedCostBasisRao)
	}
	if plan.RequiredProceedsRao != 1_100_135_688 {
		t.Errorf("RequiredProceedsRao = %d; want 1100135688", plan.RequiredProceedsRao)
	}
	if plan.ExpectedFillPPMOfPosition != quant.PPMDen {
		t.Errorf("ExpectedFillPPMOfPosition = %d; want full fill", plan.ExpectedFillPPMOfPosition)
	}

	assertPlanSound(t, plan)
}

func TestBuild_PartialFillFixedPoint(t *testing.T) {
	// Shallower pool: only part of the position fills before the price is
	// pushed through the limit. The quantity/limit pair must converge.
	plan, err := Build(baseInputs(amm.Pool{AlphaInRao: 50_000_000, TaoInRao: 56_000_000_000}))
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	if plan == nil {
		t.Fatal("expected a plan")
	}

	if plan.AmountAlphaToSellRao != 432_882 {
		t.Errorf("AmountAlphaToSellRao = %d; want 432882", plan.AmountAlphaToSellRao)
	}
	if plan.AmountAlphaIntoPoolRao != 432_665 {
		t.Errorf("AmountAlphaIntoPoolRao = %d; want 432665", plan.AmountAlphaIntoPoolRao)
	}
	if plan.LimitPriceRao != 1_100_865_306_878 {
		t.Errorf("LimitPriceRao = %d; want 1100865306878", plan.LimitPriceRao)
	}
	if plan.ActivationPriceRao != 1_123_331_945_794 {
		t.Errorf("ActivationPriceRao = %d; want 1123331945794", plan.ActivationPriceRao)
	}
	if plan.AssumedCostBasisRao != 432_882_000 {
		t.Errorf("AssumedCostBasisRao = %d; want 432882000", plan.AssumedCostBasisRao)
	}
	if plan.RequiredProceedsRao != 476_305_888 {
		t.Errorf("RequiredProceedsRao = %d; want 476305888", plan.RequiredProceedsRao)
	}
	if plan.ExpectedTaoOutRao != 480_427_517 {
		t.Errorf("ExpectedTaoOutRao = %d; want 480427517", plan.ExpectedTaoOutRao)
	}

	assertPlanSound(t, plan)
}

// Soundness: a converged plan filling at exactly the limit price still
// meets the profit contract: floor(limit * net / UNIT) >= required.
func assertPlanSound(t *testing.T, plan *SellPlan) {
	t.Helper()
	proceedsAtLimit := quant.MulDivFloor(int64(plan.LimitPriceRao), plan.AmountAlphaIntoPoolRao, quant.RaoPerTao)
	if proceedsAtLimit < plan.RequiredProceedsRao {
		t.Errorf("plan unsound: proceeds at limit %d < required %d", proceedsAtLimit, plan.RequiredProceedsRao)
	}
	if plan.ExpectedTaoOutRao < plan.RequiredProceedsRao {
		t.Errorf("AMM estimate %d below required proceeds %d", plan.ExpectedTaoOutRao, plan.RequiredProceedsRao)
	}
}

func TestBuild_LimitCoversProfitOverEntry(t *testing.T) {
	in := baseInputs(amm.Pool{AlphaInRao: 50_000_000, TaoInRao: 100_000_000_000})
	plan, err := Build(in)
	if err != nil || plan == nil {
		t.Fatalf("Build = (%v, %v)", plan, err)
	}

	avgEntry := quant.MulDivFloor(in.PositionTaoSpentRao, quant.RaoPerTao, in.PositionAlphaRao)
	minLimit := quant.MulDivCeil(avgEntry, in.ProfitMultiplierPPM, quant.PPMDen)
	if int64(plan.LimitPriceRao) < minLimit {
		t.Errorf("limit %d below profit-adjusted entry %d", plan.LimitPriceRao, minLimit)
	}
}

func TestBuild_PoolAtEntryPrice_NoPlan(t *testing.T) {
	// Spot price equals the average entry: no profitable fill can exist.
	plan, err := Build(baseInputs(amm.Pool{AlphaInRao: 50_000_000, TaoInRao: 50_000_000_000}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan != nil {
		t.Fatalf("expected no plan, got %+v", plan)
	}
}

func TestBuild_DegeneratePools_NoPlan(t *testing.T) {
	pools := []amm.Pool{
		{AlphaInRao: 0, TaoInRao: 50_000_000_000},
		{AlphaInRao: 50_000_000, TaoInRao: 0},
		{AlphaInRao: 0, TaoInRao: 0},
	}
	for _, pool := range pools {
		plan, err := Build(baseInputs(pool))
		if err != nil {
			t.Errorf("pool %+v: unexpected error: %v", pool, err)
		}
		if plan != nil {
			t.Errorf("pool %+v: expected no plan", pool)
		}
	}
}

func TestBuild_DustQuantity_NoPlan(t *testing.T) {
	// A remainder of a rao or two cannot clear the alpha fee ceiling, so
	// nothing reaches the pool. Infeasible like an empty position, not an
	// error.
	for _, qty := range []int64{1, 2} {
		in := baseInputs(amm.Pool{AlphaInRao: 50_000_000, TaoInRao: 100_000_000_000})
		in.PositionAlphaRao = qty
		in.PositionTaoSpentRao = 0
		plan, err := Build(in)
		if err != nil {
			t.Errorf("qty %d: unexpected error: %v", qty, err)
		}
		if plan != nil {
			t.Errorf("qty %d: expected no plan, got %+v", qty, plan)
		}
	}
}

func TestBuild_EmptyPosition_NoPlan(t *testing.T) {
	in := baseInputs(amm.Pool{AlphaInRao: 50_000_000, TaoInRao: 100_000_000_000})
	in.PositionAlphaRao = 0
	plan, err := Build(in)
	if err != nil || plan != nil {
		t.Fatalf("empty position: got (%v, %v); want (nil, nil)", plan, err)
	}
}

func TestBuild_RejectsBadParameters(t *testing.T) {
	pool := amm.Pool{AlphaInRao: 50_000_000, TaoInRao: 100_000_000_000}

	tests := []struct {
		name   string
		mutate func(*Inputs)
	}{
		{"Profit multiplier at 1.0", func(in *Inputs) { in.ProfitMultiplierPPM = quant.PPMDen }},
		{"Profit multiplier below 1.0", func(in *Inputs) { in.ProfitMultiplierPPM = 900_000 }},
		{"Slippage at 1.0", func(in *Inputs) { in.SlippageSellPPM = quant.PPMDen }},
		{"Negative slippage", func(in *Inputs) { in.SlippageSellPPM = -1 }},
		{"Negative flat fee", func(in *Inputs) { in.FlatFeeSellRao = -1 }},
		{"Negative cost basis", func(in *Inputs) { in.PositionTaoSpentRao = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := baseInputs(pool)
			tt.mutate(&in)
			if _, err := Build(in); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestBuild_MaxGrossSellCap(t *testing.T) {
	in := baseInputs(amm.Pool{AlphaInRao: 50_000_000, TaoInRao: 100_000_000_000})
	in.MaxGrossSellRao = 500_000

	plan, err := Build(in)
	if err != nil || plan == nil {
		t.Fatalf("Build = (%v, %v)", plan, err)
	}
	if plan.AmountAlphaToSellRao != 500_000 {
		t.Errorf("AmountAlphaToSellRao = %d; want 500000", plan.AmountAlphaToSellRao)
	}
	if plan.LimitPriceRao != 1_100_821_786_894 {
		t.Errorf("LimitPriceRao = %d; want 1100821786894", plan.LimitPriceRao)
	}
	if plan.RequiredProceedsRao != 550_135_688 {
		t.Errorf("RequiredProceedsRao = %d; want 550135688", plan.RequiredProceedsRao)
	}
	assertPlanSound(t, plan)
}

func TestBuild_MinGrossFillThreshold(t *testing.T) {
	in := baseInputs(amm.Pool{AlphaInRao: 50_000_000, TaoInRao: 100_000_000_000})
	in.MinGrossFillRao = 1_000_000_000 // more than the whole position

	plan, err := Build(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan != nil {
		t.Fatal("expected no plan below minimum fill threshold")
	}
}

// Exhausting the iteration cap must still return a best-effort plan
// rather than blocking or erroring.
func TestBuild_IterationCapBestEffort(t *testing.T) {
	in := baseInputs(amm.Pool{AlphaInRao: 50_000_000, TaoInRao: 56_000_000_000})
	in.MaxIters = 1

	plan, err := Build(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan == nil {
		t.Fatal("expected a best-effort plan")
	}
	if plan.AmountAlphaToSellRao <= 0 || plan.AmountAlphaToSellRao > in.PositionAlphaRao {
		t.Errorf("best-effort quantity %d out of range", plan.AmountAlphaToSellRao)
	}
}

// The estimate sequence is non-increasing, so convergence always happens
// within the default cap for any pool depth.
func TestBuild_TerminatesAcrossDepths(t *testing.T) {
	for tao := int64(51_000_000_000); tao <= 120_000_000_000; tao += 3_000_000_000 {
		plan, err := Build(baseInputs(amm.Pool{AlphaInRao: 50_000_000, TaoInRao: tao}))
		if err != nil {
			t.Fatalf("tao reserve %d: error %v", tao, err)
		}
		if plan != nil {
			if plan.AmountAlphaToSellRao > 1_000_000 {
				t.Errorf("tao reserve %d: plan exceeds position", tao)
			}
			assertPlanSound(t, plan)
		}
	}
}
