// Package ledger owns per-subnet position state under average-cost
// accounting. All fill applications for one netuid are serialized; reads
// for planning receive copies and must tolerate going stale between
// planning and fill application (reconcile closes that gap).
package ledger

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sarna320/scalp/internal/domain"
	"github.com/sarna320/scalp/pkg/quant"
	"github.com/sarna320/scalp/pkg/safe"
)

// DefaultDustAlphaRao is the quantity at or below which a position is
// treated as fully closed after a sell: integer rounding across partial
// fills can strand a remainder of a few rao, and its residual cost basis
// must not leak into the next position lifecycle.
const DefaultDustAlphaRao = 1

var errNegativeInput = errors.New("ledger: negative input")

// Book is the position ledger, keyed by netuid. Each entry carries its
// own mutex: fills for distinct markets proceed concurrently, fills for
// one market never interleave their read-modify-write.
type Book struct {
	mu       sync.RWMutex
	entries  map[uint16]*entry
	dustRao  int64
	nowUnixM func() int64
}

type entry struct {
	mu  sync.Mutex
	pos domain.Position
}

// SellResult reports what a sell fill did to the books.
type SellResult struct {
	SoldAlphaRao      int64 // after clamping to the held quantity
	RemovedCostRao    int64
	RealizedProfitRao int64
	Position          domain.Position
}

// ReconcileResult reports how the ledger moved toward the authoritative
// external quantity.
type ReconcileResult struct {
	PreviousAlphaRao int64
	ExternalAlphaRao int64
	Adjusted         bool
	ClampedDown      bool
	Position         domain.Position
}

// NewBook creates a ledger with the given dust threshold; pass 0 to use
// DefaultDustAlphaRao.
func NewBook(dustAlphaRao int64) *Book {
	if dustAlphaRao <= 0 {
		dustAlphaRao = DefaultDustAlphaRao
	}
	return &Book{
		entries:  make(map[uint16]*entry),
		dustRao:  dustAlphaRao,
		nowUnixM: func() int64 { return time.Now().UnixMicro() },
	}
}

func (b *Book) entryFor(netuid uint16) *entry {
	b.mu.RLock()
	e, ok := b.entries[netuid]
	b.mu.RUnlock()
	if ok {
		return e
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok = b.entries[netuid]; ok {
		return e
	}
	e = &entry{pos: domain.Position{NetUID: netuid}}
	b.entries[netuid] = e
	return e
}

// DustAlphaRao returns the threshold at or below which a held quantity
// counts as closed.
func (b *Book) DustAlphaRao() int64 { return b.dustRao }

// ApplyBuyFill adds a buy fill: cost basis and quantity both grow. No
// profit impact.
func (b *Book) ApplyBuyFill(netuid uint16, taoSpentRao, alphaReceivedRao, feePaidRao int64) (domain.Position, error) {
	if taoSpentRao < 0 || alphaReceivedRao < 0 || feePaidRao < 0 {
		return domain.Position{}, fmt.Errorf("%w: buy fill (%d, %d, %d)", errNegativeInput, taoSpentRao, alphaReceivedRao, feePaidRao)
	}

	e := b.entryFor(netuid)
	e.mu.Lock()
	defer e.mu.Unlock()

	e.pos.TotalAlphaRao = safe.Add(e.pos.TotalAlphaRao, alphaReceivedRao)
	e.pos.TotalTaoSpentRao = safe.Add(e.pos.TotalTaoSpentRao, taoSpentRao)
	e.pos.TotalFeePaidRao = safe.Add(e.pos.TotalFeePaidRao, feePaidRao)
	e.pos.NumTransactions++
	e.pos.LastUpdatedUnixM = b.nowUnixM()

	return e.pos, nil
}

// ApplyBuyAttemptFee charges the flat extrinsic fee for a submitted buy,
// filled or not. An unsuccessful order still consumed settlement value,
// so the fee lands in cost basis as sunk cost.
func (b *Book) ApplyBuyAttemptFee(netuid uint16, flatFeeRao int64) (domain.Position, error) {
	if flatFeeRao < 0 {
		return domain.Position{}, fmt.Errorf("%w: buy attempt fee %d", errNegativeInput, flatFeeRao)
	}

	e := b.entryFor(netuid)
	e.mu.Lock()
	defer e.mu.Unlock()

	e.pos.TotalTaoSpentRao = safe.Add(e.pos.TotalTaoSpentRao, flatFeeRao)
	e.pos.TotalFeePaidRao = safe.Add(e.pos.TotalFeePaidRao, flatFeeRao)
	e.pos.LastUpdatedUnixM = b.nowUnixM()

	return e.pos, nil
}

// ApplySellFill removes a sell fill under average cost. A sold quantity
// exceeding the held quantity is clamped to it. Realized profit is
// proceeds minus the removed average cost; the flat attempt fee is
// accounted separately.
func (b *Book) ApplySellFill(netuid uint16, alphaSoldRao, taoReceivedRao, feePaidRao int64) (SellResult, error) {
	if alphaSoldRao < 0 || taoReceivedRao < 0 || feePaidRao < 0 {
		return SellResult{}, fmt.Errorf("%w: sell fill (%d, %d, %d)", errNegativeInput, alphaSoldRao, taoReceivedRao, feePaidRao)
	}

	e := b.entryFor(netuid)
	e.mu.Lock()
	defer e.mu.Unlock()

	sold := alphaSoldRao
	if sold > e.pos.TotalAlphaRao {
		slog.Warn("SELL_FILL_CLAMPED",
			slog.Int("netuid", int(netuid)),
			slog.Int64("sold", alphaSoldRao),
			slog.Int64("held", e.pos.TotalAlphaRao))
		sold = e.pos.TotalAlphaRao
	}

	var removed int64
	if e.pos.TotalAlphaRao > 0 {
		removed = quant.MulDivFloor(e.pos.TotalTaoSpentRao, sold, e.pos.TotalAlphaRao)
	}

	realized := safe.Sub(taoReceivedRao, removed)

	e.pos.TotalAlphaRao = safe.Sub(e.pos.TotalAlphaRao, sold)
	e.pos.TotalTaoSpentRao = safe.Sub(e.pos.TotalTaoSpentRao, removed)
	e.pos.RealizedProfitRao = safe.Add(e.pos.RealizedProfitRao, realized)
	e.pos.TotalFeePaidRao = safe.Add(e.pos.TotalFeePaidRao, feePaidRao)
	e.pos.NumTransactions++
	e.pos.LastUpdatedUnixM = b.nowUnixM()

	// Fully closed, modulo rounding dust: zero residual cost basis so the
	// remainder cannot distort the next lifecycle's average entry.
	if e.pos.TotalAlphaRao <= b.dustRao && e.pos.TotalTaoSpentRao != 0 {
		slog.Debug("POSITION_CLOSED_RESIDUAL_ZEROED",
			slog.Int("netuid", int(netuid)),
			slog.Int64("residual_cost_rao", e.pos.TotalTaoSpentRao))
		e.pos.TotalTaoSpentRao = 0
	}

	return SellResult{
		SoldAlphaRao:      sold,
		RemovedCostRao:    removed,
		RealizedProfitRao: realized,
		Position:          e.pos,
	}, nil
}

// ApplySellAttemptFee debits the flat extrinsic fee for a submitted sell,
// filled or not, against realized profit.
func (b *Book) ApplySellAttemptFee(netuid uint16, flatFeeRao int64) (domain.Position, error) {
	if flatFeeRao < 0 {
		return domain.Position{}, fmt.Errorf("%w: sell attempt fee %d", errNegativeInput, flatFeeRao)
	}

	e := b.entryFor(netuid)
	e.mu.Lock()
	defer e.mu.Unlock()

	e.pos.RealizedProfitRao = safe.Sub(e.pos.RealizedProfitRao, flatFeeRao)
	e.pos.TotalFeePaidRao = safe.Add(e.pos.TotalFeePaidRao, flatFeeRao)
	e.pos.LastUpdatedUnixM = b.nowUnixM()

	return e.pos, nil
}

// Reconcile aligns the held quantity with the authoritative external
// balance. Upward moves absorb accrual the ledger never saw; downward
// moves mean the ledger is stale (a sell already landed on chain) and
// clamping prevents overselling. Cost basis is never adjusted here.
func (b *Book) Reconcile(netuid uint16, externalAlphaRao int64) (ReconcileResult, error) {
	if externalAlphaRao < 0 {
		return ReconcileResult{}, fmt.Errorf("%w: external quantity %d", errNegativeInput, externalAlphaRao)
	}

	e := b.entryFor(netuid)
	e.mu.Lock()
	defer e.mu.Unlock()

	res := ReconcileResult{
		PreviousAlphaRao: e.pos.TotalAlphaRao,
		ExternalAlphaRao: externalAlphaRao,
	}

	switch {
	case externalAlphaRao > e.pos.TotalAlphaRao:
		e.pos.TotalAlphaRao = externalAlphaRao
		res.Adjusted = true
	case externalAlphaRao < e.pos.TotalAlphaRao:
		slog.Warn("STALE_LEDGER_CLAMPED",
			slog.Int("netuid", int(netuid)),
			slog.Int64("ledger", e.pos.TotalAlphaRao),
			slog.Int64("external", externalAlphaRao))
		e.pos.TotalAlphaRao = externalAlphaRao
		res.Adjusted = true
		res.ClampedDown = true
	}

	if res.Adjusted {
		e.pos.LastUpdatedUnixM = b.nowUnixM()
	}
	res.Position = e.pos
	return res, nil
}

// Position returns a copy of the position for planning. The zero value
// (with ok=false) means the market has never traded.
func (b *Book) Position(netuid uint16) (domain.Position, bool) {
	b.mu.RLock()
	e, ok := b.entries[netuid]
	b.mu.RUnlock()
	if !ok {
		return domain.Position{NetUID: netuid}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pos, true
}

// Snapshot copies every position for persistence.
func (b *Book) Snapshot() map[uint16]domain.Position {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[uint16]domain.Position, len(b.entries))
	for netuid, e := range b.entries {
		e.mu.Lock()
		out[netuid] = e.pos
		e.mu.Unlock()
	}
	return out
}

// Restore seeds the book from persisted positions. Intended for startup,
// before any worker is running.
func (b *Book) Restore(positions map[uint16]domain.Position) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for netuid, pos := range positions {
		pos.NetUID = netuid
		b.entries[netuid] = &entry{pos: pos}
	}
}
