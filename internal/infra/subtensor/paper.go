package subtensor

import (
	"context"
	"fmt"
	"sync"

	"github.com/sarna320/scalp/internal/amm"
	"github.com/sarna320/scalp/pkg/safe"
)

// PaperGateway simulates the chain against in-memory pools. Submissions
// execute against the constant-product curve with the same fee model
// the live chain applies, so paper runs exercise the full planning and
// settlement path.
type PaperGateway struct {
	mu sync.Mutex

	pools       map[uint16]amm.Pool
	stakes      map[string]int64 // netuid:hotkey -> alpha rao
	freeTaoRao  int64
	alphaFeePPM int64
	blockNumber int64
	extrinsics  int64
}

// NewPaperGateway seeds a simulated chain. Pools are keyed by netuid;
// freeTaoRao is the wallet's unstaked balance.
func NewPaperGateway(pools map[uint16]amm.Pool, freeTaoRao int64, alphaFeePPM int64) *PaperGateway {
	cp := make(map[uint16]amm.Pool, len(pools))
	for netuid, pool := range pools {
		cp[netuid] = pool
	}
	return &PaperGateway{
		pools:       cp,
		stakes:      make(map[string]int64),
		freeTaoRao:  freeTaoRao,
		alphaFeePPM: alphaFeePPM,
		blockNumber: 1,
	}
}

func stakeKey(netuid uint16, hotkey string) string {
	return fmt.Sprintf("%d:%s", netuid, hotkey)
}

// AdvanceBlock moves the simulated chain head forward, as the block
// worker would observe.
func (g *PaperGateway) AdvanceBlock() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.blockNumber++
	return g.blockNumber
}

// SetPool replaces a pool's reserves, simulating outside trading flow.
func (g *PaperGateway) SetPool(netuid uint16, pool amm.Pool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pools[netuid] = pool
}

func (g *PaperGateway) SubnetPool(_ context.Context, netuid uint16) (amm.Pool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	pool, ok := g.pools[netuid]
	if !ok {
		return amm.Pool{}, &Error{Kind: Fatal, Op: "SubnetPool", Err: fmt.Errorf("unknown netuid %d", netuid)}
	}
	return pool, nil
}

func (g *PaperGateway) StakeBalance(_ context.Context, netuid uint16, validatorHotkey string) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stakes[stakeKey(netuid, validatorHotkey)], nil
}

func (g *PaperGateway) FreeTaoBalance(_ context.Context) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.freeTaoRao, nil
}

// SubmitBuy stakes TAO into the pool. The order fills in full when the
// post-trade spot price stays at or below the limit; otherwise nothing
// executes and the caller still owes the flat fee.
func (g *PaperGateway) SubmitBuy(_ context.Context, req BuyRequest) (FillResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if req.AmountTaoRao <= 0 {
		return FillResult{}, &Error{Kind: Fatal, Op: "SubmitBuy", Err: fmt.Errorf("non-positive amount %d", req.AmountTaoRao)}
	}
	pool, ok := g.pools[req.NetUID]
	if !ok {
		return FillResult{}, &Error{Kind: Fatal, Op: "SubmitBuy", Err: fmt.Errorf("unknown netuid %d", req.NetUID)}
	}
	if req.AmountTaoRao > g.freeTaoRao {
		return FillResult{}, &Error{Kind: Fatal, Op: "SubmitBuy", Err: fmt.Errorf("insufficient free TAO: have %d, need %d", g.freeTaoRao, req.AmountTaoRao)}
	}

	alphaOut, after := pool.ExecuteBuy(req.AmountTaoRao)
	if alphaOut <= 0 || after.SpotPriceRao() > req.LimitPriceRao {
		return g.noFill(), nil
	}

	fee := amm.AlphaFeeRao(alphaOut, g.alphaFeePPM)
	credited := alphaOut - fee

	g.pools[req.NetUID] = after
	g.freeTaoRao -= req.AmountTaoRao
	key := stakeKey(req.NetUID, req.ValidatorHotkey)
	g.stakes[key] = safe.Add(g.stakes[key], credited)

	return g.fill(-req.AmountTaoRao, credited, fee), nil
}

// SubmitSell unstakes alpha. The fill executes down to the limit price:
// when the full quantity would push the spot price through the limit,
// only the portion that keeps it at or above the limit fills.
func (g *PaperGateway) SubmitSell(_ context.Context, req SellRequest) (FillResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if req.AmountAlphaRao <= 0 {
		return FillResult{}, &Error{Kind: Fatal, Op: "SubmitSell", Err: fmt.Errorf("non-positive amount %d", req.AmountAlphaRao)}
	}
	pool, ok := g.pools[req.NetUID]
	if !ok {
		return FillResult{}, &Error{Kind: Fatal, Op: "SubmitSell", Err: fmt.Errorf("unknown netuid %d", req.NetUID)}
	}
	key := stakeKey(req.NetUID, req.ValidatorHotkey)
	if req.AmountAlphaRao > g.stakes[key] {
		return FillResult{}, &Error{Kind: Fatal, Op: "SubmitSell", Err: fmt.Errorf("insufficient stake: have %d, need %d", g.stakes[key], req.AmountAlphaRao)}
	}

	gross := req.AmountAlphaRao
	netCap := pool.MaxNetInflowUnderLimit(req.LimitPriceRao)
	if netCap <= 0 {
		return g.noFill(), nil
	}
	if maxGross := amm.MaxGrossAlphaForNetLimit(netCap, g.alphaFeePPM); gross > maxGross {
		gross = maxGross
	}
	if gross <= 0 {
		return g.noFill(), nil
	}

	fee := amm.AlphaFeeRao(gross, g.alphaFeePPM)
	net := gross - fee
	taoOut, after := pool.Execute(net)
	if taoOut <= 0 {
		return g.noFill(), nil
	}

	g.pools[req.NetUID] = after
	g.freeTaoRao = safe.Add(g.freeTaoRao, taoOut)
	g.stakes[key] -= gross

	return g.fill(taoOut, -gross, fee), nil
}

func (g *PaperGateway) fill(taoDelta, alphaDelta, fee int64) FillResult {
	g.extrinsics++
	return FillResult{
		Filled:        true,
		TaoDeltaRao:   taoDelta,
		AlphaDeltaRao: alphaDelta,
		FeePaidRao:    fee,
		ExtrinsicHash: fmt.Sprintf("0xpaper%08d", g.extrinsics),
		BlockHash:     fmt.Sprintf("0xblock%08d", g.blockNumber),
		BlockNumber:   g.blockNumber,
	}
}

func (g *PaperGateway) noFill() FillResult {
	g.extrinsics++
	return FillResult{
		Filled:        false,
		ExtrinsicHash: fmt.Sprintf("0xpaper%08d", g.extrinsics),
		BlockHash:     fmt.Sprintf("0xblock%08d", g.blockNumber),
		BlockNumber:   g.blockNumber,
	}
}
