// Package engine runs the trading loop: one worker per configured
// market, all clocked by chain head events. Each cycle reconciles the
// ledger against the chain, then either accumulates (buy side) or
// plans and submits a profitable exit (sell side).
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sarna320/scalp/internal/amm"
	"github.com/sarna320/scalp/internal/domain"
	"github.com/sarna320/scalp/internal/infra"
	"github.com/sarna320/scalp/internal/infra/subtensor"
	"github.com/sarna320/scalp/internal/ledger"
	"github.com/sarna320/scalp/internal/planner"
	"github.com/sarna320/scalp/pkg/quant"
)

// maxSubmitRetries bounds in-cycle retries of transient submission
// failures. Anything still failing is left for the next block.
const maxSubmitRetries = 3

// Persister stores fills and position updates. *storage.Store
// implements it.
type Persister interface {
	RecordFill(ctx context.Context, tx domain.Transaction, pos domain.Position) error
	UpsertPosition(ctx context.Context, pos domain.Position) error
}

// Snapshotter mirrors the book to a human-readable file after each
// change. *storage.SnapshotWriter implements it.
type Snapshotter interface {
	Save(positions map[uint16]domain.Position) error
}

// Engine owns the per-market workers and the block fan-out.
type Engine struct {
	cfg   *infra.Config
	gw    subtensor.Gateway
	book  *ledger.Book
	store Persister
	snap  Snapshotter

	inbox   chan subtensor.BlockEvent
	workers []*marketWorker
	wg      sync.WaitGroup

	// backoff is swappable for tests.
	backoff func(retry int) time.Duration
}

type marketWorker struct {
	market  infra.MarketConfig
	breaker *infra.CircuitBreaker
	ticks   chan int64
}

// New wires an engine from its dependencies.
func New(cfg *infra.Config, gw subtensor.Gateway, book *ledger.Book, store Persister, snap Snapshotter) *Engine {
	e := &Engine{
		cfg:     cfg,
		gw:      gw,
		book:    book,
		store:   store,
		snap:    snap,
		inbox:   make(chan subtensor.BlockEvent, 64),
		backoff: infra.CalculateBackoff,
	}
	for i := range cfg.Markets {
		name := fmt.Sprintf("submit-netuid-%d", cfg.Markets[i].NetUID)
		e.workers = append(e.workers, &marketWorker{
			market:  cfg.Markets[i],
			breaker: infra.NewCircuitBreaker(infra.DefaultCircuitBreakerConfig(name)),
			ticks:   make(chan int64, 1),
		})
	}
	return e
}

// Inbox is where the block worker delivers head events.
func (e *Engine) Inbox() chan<- subtensor.BlockEvent { return e.inbox }

// Run starts the market workers and fans block events out to them. A
// worker still busy with the previous block skips the tick: cycle state
// is fully refetched each block, so a skipped tick loses nothing.
func (e *Engine) Run(ctx context.Context) {
	for _, w := range e.workers {
		e.wg.Add(1)
		go func(w *marketWorker) {
			defer e.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case block := <-w.ticks:
					e.runCycle(ctx, w, block)
				}
			}
		}(w)
	}

	for {
		select {
		case <-ctx.Done():
			e.wg.Wait()
			return
		case ev := <-e.inbox:
			for _, w := range e.workers {
				select {
				case w.ticks <- ev.Number:
				default:
					slog.Debug("BLOCK_TICK_SKIPPED",
						slog.Int("netuid", int(w.market.NetUID)),
						slog.Int64("block", ev.Number))
				}
			}
		}
	}
}

func (e *Engine) queryTimeout() time.Duration {
	if ms := e.cfg.Chain.QueryTimeoutMS; ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return 5 * time.Second
}

func (e *Engine) submitTimeout() time.Duration {
	if ms := e.cfg.Chain.SubmitTimeoutMS; ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return 30 * time.Second
}

// runCycle executes one block's worth of decisions for one market.
func (e *Engine) runCycle(ctx context.Context, w *marketWorker, block int64) {
	m := &w.market

	qctx, cancel := context.WithTimeout(ctx, e.queryTimeout())
	defer cancel()

	pool, err := e.gw.SubnetPool(qctx, m.NetUID)
	if err != nil {
		slog.Warn("POOL_QUERY_FAILED", slog.Int("netuid", int(m.NetUID)), slog.Any("err", err))
		return
	}
	if pool.SpotPriceRao() <= 0 {
		return
	}

	stake, err := e.gw.StakeBalance(qctx, m.NetUID, m.ValidatorHotkey)
	if err != nil {
		slog.Warn("STAKE_QUERY_FAILED", slog.Int("netuid", int(m.NetUID)), slog.Any("err", err))
		return
	}

	rec, err := e.book.Reconcile(m.NetUID, stake)
	if err != nil {
		slog.Error("RECONCILE_FAILED", slog.Int("netuid", int(m.NetUID)), slog.Any("err", err))
		return
	}
	if rec.Adjusted {
		e.persistPosition(ctx, rec.Position)
	}

	// A closing sell can strand a rounding remainder at or below the
	// book's dust threshold. Such a position counts as closed: the
	// remainder is too small to plan an exit for, and the market re-enters
	// on the buy side.
	if rec.Position.TotalAlphaRao > e.book.DustAlphaRao() {
		e.sellCycle(ctx, w, pool, rec.Position, block)
	} else {
		e.buyCycle(ctx, w, pool.SpotPriceRao(), block)
	}
}

// buyCycle submits a stake when the price has dipped to the entry
// threshold and the wallet can fund it.
func (e *Engine) buyCycle(ctx context.Context, w *marketWorker, spot quant.PriceRao, block int64) {
	m := &w.market
	if spot > m.ActivationPriceBuyRao {
		return
	}

	qctx, cancel := context.WithTimeout(ctx, e.queryTimeout())
	free, err := e.gw.FreeTaoBalance(qctx)
	cancel()
	if err != nil {
		slog.Warn("BALANCE_QUERY_FAILED", slog.Int("netuid", int(m.NetUID)), slog.Any("err", err))
		return
	}
	if free < m.StakeAmountRao {
		slog.Warn("BUY_SKIPPED_INSUFFICIENT_TAO",
			slog.Int("netuid", int(m.NetUID)),
			slog.Int64("free", free),
			slog.Int64("needed", m.StakeAmountRao))
		return
	}

	slog.Info("BUY_TRIGGERED",
		slog.Int("netuid", int(m.NetUID)),
		slog.String("spot", spot.String()),
		slog.String("activation", m.ActivationPriceBuyRao.String()),
		slog.Int64("block", block))

	e.submitBuy(ctx, w, subtensor.BuyRequest{
		NetUID:          m.NetUID,
		ValidatorHotkey: m.ValidatorHotkey,
		AmountTaoRao:    m.StakeAmountRao,
		LimitPriceRao:   m.LimitPriceBuyRao,
	})
}

// sellCycle plans an exit against current pool depth and submits it
// once the spot price reaches the activation threshold.
func (e *Engine) sellCycle(ctx context.Context, w *marketWorker, pool amm.Pool, pos domain.Position, block int64) {
	m := &w.market

	plan, err := planner.Build(planner.Inputs{
		NetUID:              m.NetUID,
		PositionAlphaRao:    pos.TotalAlphaRao,
		PositionTaoSpentRao: pos.TotalTaoSpentRao,
		Pool:                pool,
		ProfitMultiplierPPM: m.ProfitMultiplierPPM,
		SlippageSellPPM:     m.SlippageSellPPM,
		AlphaFeePPM:         e.cfg.Fees.AlphaFeePPM,
		FlatFeeSellRao:      e.cfg.Fees.FlatFeeSellRao,
		MinGrossFillRao:     quant.MulDivFloor(pos.TotalAlphaRao, m.MinSellFractionPPM, quant.PPMDen),
		MaxGrossSellRao:     quant.MulDivFloor(pos.TotalAlphaRao, m.MaxSellFractionPPM, quant.PPMDen),
	})
	if err != nil {
		slog.Error("PLAN_FAILED", slog.Int("netuid", int(m.NetUID)), slog.Any("err", err))
		return
	}
	if plan == nil {
		return
	}

	spot := pool.SpotPriceRao()
	if spot < plan.ActivationPriceRao {
		return
	}

	slog.Info("SELL_TRIGGERED",
		slog.Int("netuid", int(m.NetUID)),
		slog.String("spot", spot.String()),
		slog.String("activation", plan.ActivationPriceRao.String()),
		slog.String("limit", plan.LimitPriceRao.String()),
		slog.Int64("gross_alpha", plan.AmountAlphaToSellRao),
		slog.Int64("block", block))

	e.submitSell(ctx, w, subtensor.SellRequest{
		NetUID:          m.NetUID,
		ValidatorHotkey: m.ValidatorHotkey,
		AmountAlphaRao:  plan.AmountAlphaToSellRao,
		LimitPriceRao:   plan.LimitPriceRao,
	})
}

// submitBuy pushes the extrinsic through the circuit breaker with
// bounded retries. Every submission consumes the flat fee, fill or not.
func (e *Engine) submitBuy(ctx context.Context, w *marketWorker, req subtensor.BuyRequest) {
	m := &w.market
	if !w.breaker.Allow() {
		slog.Warn("BUY_BLOCKED_BY_BREAKER", slog.Int("netuid", int(m.NetUID)))
		return
	}

	for attempt := 0; attempt < maxSubmitRetries; attempt++ {
		sctx, cancel := context.WithTimeout(ctx, e.submitTimeout())
		res, err := e.gw.SubmitBuy(sctx, req)
		cancel()

		pos, ferr := e.book.ApplyBuyAttemptFee(m.NetUID, e.cfg.Fees.FlatFeeBuyRao)
		if ferr != nil {
			slog.Error("ATTEMPT_FEE_FAILED", slog.Int("netuid", int(m.NetUID)), slog.Any("err", ferr))
		}

		if err != nil {
			w.breaker.RecordFailure()
			e.persistPosition(ctx, pos)
			if !e.retryable(ctx, m.NetUID, "buy", err, attempt) {
				return
			}
			continue
		}

		w.breaker.RecordSuccess()
		if !res.Filled {
			slog.Info("BUY_NOT_FILLED", slog.Int("netuid", int(m.NetUID)))
			e.persistPosition(ctx, pos)
			return
		}

		filledPos, err := e.book.ApplyBuyFill(m.NetUID, -res.TaoDeltaRao, res.AlphaDeltaRao, res.FeePaidRao)
		if err != nil {
			slog.Error("BUY_FILL_APPLY_FAILED", slog.Int("netuid", int(m.NetUID)), slog.Any("err", err))
			return
		}

		slog.Info("BUY_FILLED",
			slog.Int("netuid", int(m.NetUID)),
			slog.Int64("tao_spent", -res.TaoDeltaRao),
			slog.Int64("alpha_received", res.AlphaDeltaRao),
			slog.String("extrinsic", res.ExtrinsicHash))

		e.persistFill(ctx, domain.Transaction{
			NetUID:          m.NetUID,
			ValidatorHotkey: m.ValidatorHotkey,
			Direction:       domain.DirectionBuy,
			TaoDeltaRao:     res.TaoDeltaRao,
			AlphaDeltaRao:   res.AlphaDeltaRao,
			FeePaidRao:      res.FeePaidRao,
			ExtrinsicHash:   res.ExtrinsicHash,
			BlockHash:       res.BlockHash,
			BlockNumber:     res.BlockNumber,
			CreatedAtUnixM:  time.Now().UnixMicro(),
		}, filledPos)
		return
	}
}

// submitSell mirrors submitBuy for the exit side.
func (e *Engine) submitSell(ctx context.Context, w *marketWorker, req subtensor.SellRequest) {
	m := &w.market
	if !w.breaker.Allow() {
		slog.Warn("SELL_BLOCKED_BY_BREAKER", slog.Int("netuid", int(m.NetUID)))
		return
	}

	for attempt := 0; attempt < maxSubmitRetries; attempt++ {
		sctx, cancel := context.WithTimeout(ctx, e.submitTimeout())
		res, err := e.gw.SubmitSell(sctx, req)
		cancel()

		pos, ferr := e.book.ApplySellAttemptFee(m.NetUID, e.cfg.Fees.FlatFeeSellRao)
		if ferr != nil {
			slog.Error("ATTEMPT_FEE_FAILED", slog.Int("netuid", int(m.NetUID)), slog.Any("err", ferr))
		}

		if err != nil {
			w.breaker.RecordFailure()
			e.persistPosition(ctx, pos)
			if !e.retryable(ctx, m.NetUID, "sell", err, attempt) {
				return
			}
			continue
		}

		w.breaker.RecordSuccess()
		if !res.Filled {
			slog.Info("SELL_NOT_FILLED", slog.Int("netuid", int(m.NetUID)))
			e.persistPosition(ctx, pos)
			return
		}

		sellRes, err := e.book.ApplySellFill(m.NetUID, -res.AlphaDeltaRao, res.TaoDeltaRao, res.FeePaidRao)
		if err != nil {
			slog.Error("SELL_FILL_APPLY_FAILED", slog.Int("netuid", int(m.NetUID)), slog.Any("err", err))
			return
		}

		slog.Info("SELL_FILLED",
			slog.Int("netuid", int(m.NetUID)),
			slog.Int64("alpha_sold", sellRes.SoldAlphaRao),
			slog.Int64("tao_received", res.TaoDeltaRao),
			slog.Int64("realized_profit", sellRes.RealizedProfitRao),
			slog.String("extrinsic", res.ExtrinsicHash))

		realized := sellRes.RealizedProfitRao
		e.persistFill(ctx, domain.Transaction{
			NetUID:            m.NetUID,
			ValidatorHotkey:   m.ValidatorHotkey,
			Direction:         domain.DirectionSell,
			TaoDeltaRao:       res.TaoDeltaRao,
			AlphaDeltaRao:     res.AlphaDeltaRao,
			FeePaidRao:        res.FeePaidRao,
			RealizedProfitRao: &realized,
			ExtrinsicHash:     res.ExtrinsicHash,
			BlockHash:         res.BlockHash,
			BlockNumber:       res.BlockNumber,
			CreatedAtUnixM:    time.Now().UnixMicro(),
		}, sellRes.Position)
		return
	}
}

// retryable decides whether a failed submission gets another in-cycle
// attempt. Only transient failures do; a timeout means the outcome is
// unknown and retrying could double-fill, so the next cycle's reconcile
// resolves it instead.
func (e *Engine) retryable(ctx context.Context, netuid uint16, side string, err error, attempt int) bool {
	kind := subtensor.KindOf(err)
	slog.Warn("SUBMIT_FAILED",
		slog.Int("netuid", int(netuid)),
		slog.String("side", side),
		slog.String("kind", kind.String()),
		slog.Int("attempt", attempt),
		slog.Any("err", err))

	if kind != subtensor.Transient || attempt+1 >= maxSubmitRetries {
		return false
	}

	select {
	case <-ctx.Done():
		return false
	case <-time.After(e.backoff(attempt)):
		return true
	}
}

func (e *Engine) persistPosition(ctx context.Context, pos domain.Position) {
	if err := e.store.UpsertPosition(ctx, pos); err != nil {
		slog.Error("POSITION_PERSIST_FAILED", slog.Int("netuid", int(pos.NetUID)), slog.Any("err", err))
	}
	e.saveSnapshot()
}

func (e *Engine) persistFill(ctx context.Context, tx domain.Transaction, pos domain.Position) {
	if err := e.store.RecordFill(ctx, tx, pos); err != nil {
		slog.Error("FILL_PERSIST_FAILED", slog.Int("netuid", int(tx.NetUID)), slog.Any("err", err))
	}
	e.saveSnapshot()
}

func (e *Engine) saveSnapshot() {
	if e.snap == nil {
		return
	}
	if err := e.snap.Save(e.book.Snapshot()); err != nil {
		slog.Error("SNAPSHOT_FAILED", slog.Any("err", err))
	}
}
