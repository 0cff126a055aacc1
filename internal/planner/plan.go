// Package planner computes self-consistent sell plans: a limit price,
// activation price, and quantity such that a fill at or above the limit
// price meets the configured profit target net of the pool's alpha fee
// and the flat extrinsic fee.
//
// The solver is pure relative to its inputs. It never mutates the ledger
// and never blocks; a discarded plan has no side effects.
package planner

import (
	"errors"
	"fmt"

	"github.com/sarna320/scalp/internal/amm"
	"github.com/sarna320/scalp/pkg/quant"
)

// DefaultMaxIters bounds the fixed-point iteration. The assumed quantity
// is monotonically non-increasing across iterations, so the loop
// terminates either at a fixed point or at zero well within this cap.
const DefaultMaxIters = 20

var (
	ErrEmptyPosition   = errors.New("planner: position holds no alpha")
	ErrNoEffectiveFill = errors.New("planner: effective alpha after fee is zero")
)

// SellPlan is the planner's output: ephemeral, recomputed each cycle from
// current pool state, consumed by the submission layer and discarded.
type SellPlan struct {
	NetUID uint16

	ActivationPriceRao quant.PriceRao // price threshold to submit
	LimitPriceRao      quant.PriceRao // worst acceptable fill price

	AmountAlphaToSellRao   int64 // gross alpha to put into the extrinsic
	AmountAlphaIntoPoolRao int64 // net alpha reaching the pool after alpha fee

	ExpectedTaoOutRao             int64 // AMM estimate, excludes flat extrinsic fee
	ExpectedTaoOutAfterFlatFeeRao int64

	ExpectedFillPPMOfPosition int64 // debug: gross/position in ppm
	AssumedCostBasisRao       int64
	RequiredProceedsRao       int64
}

// Inputs carries everything a planning cycle needs, read-only. Ledger
// state arrives as a snapshot; the plan tolerates that snapshot going
// stale between planning and fill application.
type Inputs struct {
	NetUID uint16

	PositionAlphaRao    int64 // quantity held
	PositionTaoSpentRao int64 // average-cost basis total

	Pool amm.Pool

	ProfitMultiplierPPM int64 // > 1_000_000
	SlippageSellPPM     int64 // in [0, 1_000_000)
	AlphaFeePPM         int64
	FlatFeeSellRao      int64

	MinGrossFillRao int64 // below this, no plan is worth submitting
	MaxGrossSellRao int64 // 0 means the whole position
	MaxIters        int   // 0 means DefaultMaxIters
}

func (in *Inputs) validate() error {
	if in.PositionAlphaRao <= 0 {
		return ErrEmptyPosition
	}
	if in.PositionTaoSpentRao < 0 {
		return fmt.Errorf("planner: negative cost basis %d", in.PositionTaoSpentRao)
	}
	if in.ProfitMultiplierPPM <= quant.PPMDen {
		return fmt.Errorf("planner: profit multiplier %d ppm must exceed %d", in.ProfitMultiplierPPM, quant.PPMDen)
	}
	if in.SlippageSellPPM < 0 || in.SlippageSellPPM >= quant.PPMDen {
		return fmt.Errorf("planner: slippage %d ppm outside [0, %d)", in.SlippageSellPPM, quant.PPMDen)
	}
	if in.AlphaFeePPM < 0 || in.AlphaFeePPM >= quant.PPMDen {
		return fmt.Errorf("planner: alpha fee %d ppm outside [0, %d)", in.AlphaFeePPM, quant.PPMDen)
	}
	if in.FlatFeeSellRao < 0 {
		return fmt.Errorf("planner: negative flat fee %d", in.FlatFeeSellRao)
	}
	return nil
}

// priceTerms is one iteration's pricing for an assumed gross fill.
type priceTerms struct {
	activationRao quant.PriceRao
	limitRao      quant.PriceRao
	costBasisRao  int64
	requiredRao   int64
}

// termsFor computes activation and limit prices such that, if
// grossFillRao fills at or above the limit, the proceeds meet the profit
// target after the alpha fee and the flat fee.
func termsFor(in *Inputs, grossFillRao int64) (priceTerms, error) {
	if grossFillRao <= 0 {
		return priceTerms{}, fmt.Errorf("planner: non-positive gross fill %d", grossFillRao)
	}
	if grossFillRao > in.PositionAlphaRao {
		grossFillRao = in.PositionAlphaRao
	}

	effectiveAlpha := amm.NetAlphaIntoPoolRao(grossFillRao, in.AlphaFeePPM)
	if effectiveAlpha <= 0 {
		return priceTerms{}, ErrNoEffectiveFill
	}

	// Average-cost basis for the sold portion, rounded up: the ceiling
	// biases toward requiring more profit, never less.
	costBasis := quant.MulDivCeil(in.PositionTaoSpentRao, grossFillRao, in.PositionAlphaRao)

	// Proceeds that clear the profit target plus the flat extrinsic fee.
	required := quant.MulDivCeil(costBasis, in.ProfitMultiplierPPM, quant.PPMDen) + in.FlatFeeSellRao

	// Minimal limit so that floor(limit * effectiveAlpha / 10^9) >= required.
	limit := quant.MulDivCeil(required, quant.RaoPerTao, effectiveAlpha)

	// Activation tolerates slippage down to the limit.
	activation := quant.MulDivCeil(limit, quant.PPMDen, quant.PPMDen-in.SlippageSellPPM)

	return priceTerms{
		activationRao: quant.PriceRao(activation),
		limitRao:      quant.PriceRao(limit),
		costBasisRao:  costBasis,
		requiredRao:   required,
	}, nil
}

// estimateMaxFill returns the largest gross fill whose execution keeps the
// final spot price at or above the limit, capped at maxGrossRao, plus the
// corresponding net inflow and AMM TAO-out estimate.
func estimateMaxFill(in *Inputs, limitRao quant.PriceRao, maxGrossRao int64) (gross, net, taoOut int64) {
	netLimit := in.Pool.MaxNetInflowUnderLimit(limitRao)
	if netLimit <= 0 {
		return 0, 0, 0
	}

	gross = amm.MaxGrossAlphaForNetLimit(netLimit, in.AlphaFeePPM)
	if gross > maxGrossRao {
		gross = maxGrossRao
	}
	net = amm.NetAlphaIntoPoolRao(gross, in.AlphaFeePPM)
	if net <= 0 {
		return 0, 0, 0
	}

	taoOut, _ = in.Pool.Execute(net)
	return gross, net, taoOut
}

// Build solves the fixed point between "how much can sell before the
// price is pushed through the limit" and "what limit does this size need
// to stay profitable".
//
// A nil plan with nil error means no profitable, executable fill exists
// under current pool depth; that is a normal outcome, retried next cycle.
func Build(in Inputs) (*SellPlan, error) {
	if err := in.validate(); err != nil {
		if errors.Is(err, ErrEmptyPosition) {
			return nil, nil
		}
		return nil, err
	}

	sellCap := in.PositionAlphaRao
	if in.MaxGrossSellRao > 0 && in.MaxGrossSellRao < sellCap {
		sellCap = in.MaxGrossSellRao
	}

	maxIters := in.MaxIters
	if maxIters <= 0 {
		maxIters = DefaultMaxIters
	}

	assumed := sellCap
	for i := 0; i < maxIters; i++ {
		terms, err := termsFor(&in, assumed)
		if errors.Is(err, ErrNoEffectiveFill) {
			// The whole sellable quantity is consumed by the alpha fee;
			// nothing can reach the pool. Infeasible, not a caller bug.
			return nil, nil
		}
		if err != nil {
			return nil, err
		}

		estGross, estNet, estTaoOut := estimateMaxFill(&in, terms.limitRao, sellCap)
		if estGross <= 0 {
			return nil, nil
		}
		if in.MinGrossFillRao > 0 && estGross < in.MinGrossFillRao {
			return nil, nil
		}

		if estGross == assumed {
			return makePlan(&in, terms, estGross, estNet, estTaoOut), nil
		}

		// Monotone decrease toward the fixed point. An increase cannot
		// happen (the estimate is capped at the previous assumption), but
		// accept it and stop rather than loop.
		if estGross < assumed {
			assumed = estGross
			continue
		}
		assumed = estGross
		break
	}

	// Iteration cap exhausted: emit the best-effort plan for the last
	// assumed quantity rather than blocking the cycle.
	terms, err := termsFor(&in, assumed)
	if errors.Is(err, ErrNoEffectiveFill) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	estGross, estNet, estTaoOut := estimateMaxFill(&in, terms.limitRao, sellCap)
	if estGross <= 0 {
		return nil, nil
	}
	return makePlan(&in, terms, estGross, estNet, estTaoOut), nil
}

func makePlan(in *Inputs, terms priceTerms, gross, net, taoOut int64) *SellPlan {
	afterFlat := taoOut - in.FlatFeeSellRao
	if afterFlat < 0 {
		afterFlat = 0
	}

	return &SellPlan{
		NetUID:                        in.NetUID,
		ActivationPriceRao:            terms.activationRao,
		LimitPriceRao:                 terms.limitRao,
		AmountAlphaToSellRao:          gross,
		AmountAlphaIntoPoolRao:        net,
		ExpectedTaoOutRao:             taoOut,
		ExpectedTaoOutAfterFlatFeeRao: afterFlat,
		ExpectedFillPPMOfPosition:     quant.MulDivFloor(gross, quant.PPMDen, in.PositionAlphaRao),
		AssumedCostBasisRao:           terms.costBasisRao,
		RequiredProceedsRao:           terms.requiredRao,
	}
}
