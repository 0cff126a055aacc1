package domain

// Direction of a fill relative to the alpha asset.
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
)

// Transaction is one applied fill. Records are append-only: written once
// by the ledger path when a fill is applied, never mutated or deleted.
type Transaction struct {
	ID              int64     `json:"id"`
	NetUID          uint16    `json:"netuid"`
	ValidatorHotkey string    `json:"validator_hotkey"`
	Direction       Direction `json:"direction"`
	TaoDeltaRao     int64     `json:"tao_delta_rao"`   // spent on BUY, received on SELL
	AlphaDeltaRao   int64     `json:"alpha_delta_rao"` // received on BUY, sold on SELL
	FeePaidRao      int64     `json:"fee_paid_rao"`
	// RealizedProfitRao is nil for buys; a sell records the fill's
	// realized profit against average cost.
	RealizedProfitRao *int64 `json:"realized_profit_rao,omitempty"`
	ExtrinsicHash     string `json:"extrinsic_hash"`
	BlockHash         string `json:"block_hash"`
	BlockNumber       int64  `json:"block_number"`
	CreatedAtUnixM    int64  `json:"created_at_unix"`
}
