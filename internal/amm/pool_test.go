package amm

import (
	"testing"

	"github.com/sarna320/scalp/pkg/quant"
)

func TestPool_SpotPriceRao(t *testing.T) {
	tests := []struct {
		name string
		pool Pool
		want quant.PriceRao
	}{
		{"Balanced", Pool{AlphaInRao: 50_000_000, TaoInRao: 50_000_000_000}, 1_000_000_000_000},
		{"Deep tao side", Pool{AlphaInRao: 50_000_000, TaoInRao: 100_000_000_000}, 2_000_000_000_000},
		{"Empty alpha reserve", Pool{AlphaInRao: 0, TaoInRao: 5}, 0},
		{"Negative alpha reserve", Pool{AlphaInRao: -1, TaoInRao: 5}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.pool.SpotPriceRao(); got != tt.want {
				t.Errorf("SpotPriceRao() = %d; want %d", got, tt.want)
			}
		})
	}
}

func TestPool_MaxNetInflowUnderLimit(t *testing.T) {
	pool := Pool{AlphaInRao: 50_000_000, TaoInRao: 100_000_000_000}

	tests := []struct {
		name  string
		limit quant.PriceRao
		want  int64
	}{
		{"Limit below spot", 1_100_686_031_016, 17_398_972},
		{"Limit near spot", 1_959_000_000_000, 520_516},
		{"Limit at spot", 2_000_000_000_000, 0},
		{"Limit zero", 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := pool.MaxNetInflowUnderLimit(tt.limit); got != tt.want {
				t.Errorf("MaxNetInflowUnderLimit(%d) = %d; want %d", tt.limit, got, tt.want)
			}
		})
	}
}

func TestPool_MaxNetInflowUnderLimit_Degenerate(t *testing.T) {
	for _, pool := range []Pool{
		{AlphaInRao: 0, TaoInRao: 1000},
		{AlphaInRao: 1000, TaoInRao: 0},
		{AlphaInRao: 0, TaoInRao: 0},
	} {
		if got := pool.MaxNetInflowUnderLimit(1); got != 0 {
			t.Errorf("degenerate pool %+v: got %d; want 0", pool, got)
		}
	}
}

// The resulting spot price after filling the maximum inflow must still be
// at or above the limit, and one more rao must breach it.
func TestPool_MaxNetInflowUnderLimit_Exact(t *testing.T) {
	pool := Pool{AlphaInRao: 50_000_000, TaoInRao: 100_000_000_000}
	limit := quant.PriceRao(1_500_000_000_000)

	inflow := pool.MaxNetInflowUnderLimit(limit)
	if inflow <= 0 {
		t.Fatalf("expected positive inflow, got %d", inflow)
	}

	_, after := pool.Execute(inflow)
	if after.SpotPriceRao() < limit {
		t.Errorf("spot after max inflow = %d, breached limit %d", after.SpotPriceRao(), limit)
	}

	_, afterPlusOne := pool.Execute(inflow + 1)
	if afterPlusOne.SpotPriceRao() >= limit {
		t.Errorf("inflow bound not tight: spot after inflow+1 = %d still >= limit %d",
			afterPlusOne.SpotPriceRao(), limit)
	}
}

func TestPool_Execute(t *testing.T) {
	pool := Pool{AlphaInRao: 50_000_000, TaoInRao: 100_000_000_000}

	taoOut, after := pool.Execute(999_500)
	if taoOut != 1_959_823_136 {
		t.Errorf("taoOut = %d; want 1959823136", taoOut)
	}
	if after.AlphaInRao != 50_999_500 {
		t.Errorf("after.AlphaInRao = %d; want 50999500", after.AlphaInRao)
	}
	if after.TaoInRao != 100_000_000_000-1_959_823_136 {
		t.Errorf("after.TaoInRao = %d", after.TaoInRao)
	}

	// Constant product must not grow in the trader's favor.
	if after.AlphaInRao*after.TaoInRao < 0 {
		t.Fatal("reserve overflow")
	}
}

func TestPool_ExecuteBuy(t *testing.T) {
	pool := Pool{AlphaInRao: 50_000_000, TaoInRao: 100_000_000_000}

	alphaOut, after := pool.ExecuteBuy(1_000_000_000)
	if alphaOut != 495_049 {
		t.Errorf("alphaOut = %d; want 495049", alphaOut)
	}
	if after.TaoInRao != 101_000_000_000 {
		t.Errorf("after.TaoInRao = %d; want 101000000000", after.TaoInRao)
	}
	if after.AlphaInRao != 50_000_000-495_049 {
		t.Errorf("after.AlphaInRao = %d", after.AlphaInRao)
	}

	// Buying pushes the price up.
	if after.SpotPriceRao() <= pool.SpotPriceRao() {
		t.Errorf("spot after buy %d not above %d", after.SpotPriceRao(), pool.SpotPriceRao())
	}

	small := Pool{AlphaInRao: 1000, TaoInRao: 1000}
	alphaOut, after = small.ExecuteBuy(1000)
	if alphaOut != 500 || after.AlphaInRao != 500 || after.TaoInRao != 2000 {
		t.Errorf("small pool: alphaOut=%d after=%+v", alphaOut, after)
	}

	alphaOut, _ = Pool{}.ExecuteBuy(100)
	if alphaOut != 0 {
		t.Errorf("degenerate pool alphaOut = %d; want 0", alphaOut)
	}
}

func TestPool_Execute_NeverNegative(t *testing.T) {
	small := Pool{AlphaInRao: 1000, TaoInRao: 1000}
	taoOut, after := small.Execute(1000)
	if taoOut != 500 {
		t.Errorf("taoOut = %d; want 500", taoOut)
	}
	if after.TaoInRao != 500 || after.AlphaInRao != 2000 {
		t.Errorf("after = %+v", after)
	}

	taoOut, _ = small.Execute(0)
	if taoOut != 0 {
		t.Errorf("zero inflow taoOut = %d; want 0", taoOut)
	}

	taoOut, _ = Pool{}.Execute(100)
	if taoOut != 0 {
		t.Errorf("degenerate pool taoOut = %d; want 0", taoOut)
	}
}
