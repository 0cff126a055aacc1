// Package subtensor is the chain boundary: pool queries, stake queries,
// and stake/unstake extrinsic submission. Everything above this package
// works in settlement integers and never sees wire encodings.
package subtensor

import (
	"context"
	"errors"
	"fmt"

	"github.com/sarna320/scalp/internal/amm"
	"github.com/sarna320/scalp/pkg/quant"
)

// ErrorKind classifies gateway failures for retry policy.
type ErrorKind int

const (
	// Transient failures (connection drop, pool busy) may be retried
	// with backoff within the same cycle.
	Transient ErrorKind = iota
	// Timeout means the submission outcome is unknown; the flat fee is
	// charged and the next cycle's reconcile picks up whatever landed.
	Timeout
	// Fatal failures (bad params, insufficient balance) must not be
	// retried until operator intervention.
	Fatal
)

func (k ErrorKind) String() string {
	switch k {
	case Transient:
		return "TRANSIENT"
	case Timeout:
		return "TIMEOUT"
	case Fatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// Error wraps a gateway failure with its retry classification.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("subtensor: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the classification; unwrapped errors default to Fatal
// so an unknown failure is never retried blindly.
func KindOf(err error) ErrorKind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return Fatal
}

// BuyRequest stakes TAO into a subnet pool through a validator.
type BuyRequest struct {
	NetUID          uint16
	ValidatorHotkey string
	AmountTaoRao    int64
	LimitPriceRao   quant.PriceRao // worst (highest) acceptable fill price
}

// SellRequest unstakes alpha from a subnet pool.
type SellRequest struct {
	NetUID          uint16
	ValidatorHotkey string
	AmountAlphaRao  int64
	LimitPriceRao   quant.PriceRao // worst (lowest) acceptable fill price
}

// FillResult reports what an extrinsic actually did. Filled=false with
// a nil error means the order was accepted but could not execute under
// its limit; the flat fee was still consumed.
type FillResult struct {
	Filled        bool
	TaoDeltaRao   int64 // negative on buys, positive on sells
	AlphaDeltaRao int64 // positive on buys, negative on sells
	FeePaidRao    int64 // pool alpha fee, informational
	ExtrinsicHash string
	BlockHash     string
	BlockNumber   int64
}

// Gateway abstracts the chain. The paper gateway simulates it against
// in-memory pools; the live gateway speaks to a node.
type Gateway interface {
	// SubnetPool returns the current reserve pair for a subnet.
	SubnetPool(ctx context.Context, netuid uint16) (amm.Pool, error)

	// StakeBalance returns the alpha staked with a validator on a
	// subnet, the authoritative quantity the ledger reconciles to.
	StakeBalance(ctx context.Context, netuid uint16, validatorHotkey string) (int64, error)

	// FreeTaoBalance returns the unstaked TAO available for buys.
	FreeTaoBalance(ctx context.Context) (int64, error)

	SubmitBuy(ctx context.Context, req BuyRequest) (FillResult, error)
	SubmitSell(ctx context.Context, req SellRequest) (FillResult, error)
}
