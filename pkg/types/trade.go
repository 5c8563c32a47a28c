package types

import (
	"strconv"
	"strings"
	"time"
)

// Direction is the side a counterparty took on a fill.
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
)

// CanonicalTrade is one deduplicated, market-resolved fill in the trade
// ledger. Derived from a RawFillEvent and never mutated after creation.
type CanonicalTrade struct {
	Timestamp      time.Time
	MarketID       string
	Maker          string
	Taker          string
	NonQuoteSide   Side
	MakerDirection Direction
	TakerDirection Direction
	Price          float64
	QuoteAmount    float64
	TokenAmount    float64
	// Raw fixed-point amounts from the source event, kept so the uniqueness
	// key survives the float descaling.
	MakerAmountRaw int64
	TakerAmountRaw int64
	TxHash         string
}

// Key returns the uniqueness key of the source fill. Replaying the source
// event must yield the same key.
func (t *CanonicalTrade) Key() string {
	return strings.Join([]string{
		t.TxHash,
		t.Maker,
		t.Taker,
		strconv.FormatInt(t.MakerAmountRaw, 10),
		strconv.FormatInt(t.TakerAmountRaw, 10),
	}, "|")
}
