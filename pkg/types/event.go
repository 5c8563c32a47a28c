package types

import (
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// QuoteAssetID is the asset id of the quote currency (USDC collateral).
// Exactly one side of a well-formed fill carries it.
const QuoteAssetID = "0"

// AmountScale is the fixed-point divisor applied to raw on-chain amounts.
const AmountScale = 1_000_000

// RawFillEvent is one maker order matched against one taker order, as
// delivered by the on-chain order-fill feed. Immutable once ingested.
// Asset ids are arbitrary-precision strings; amounts are fixed-point
// integers scaled by AmountScale.
type RawFillEvent struct {
	Timestamp    int64
	Maker        string
	Taker        string
	MakerAssetID string
	MakerAmount  int64
	TakerAssetID string
	TakerAmount  int64
	TxHash       string
}

// Key returns the uniqueness key for deduplication. A transaction hash alone
// is not unique: one transaction may settle multiple independent fills, so
// the participant addresses and both raw amounts are part of the key.
func (e *RawFillEvent) Key() string {
	return strings.Join([]string{
		e.TxHash,
		e.Maker,
		e.Taker,
		strconv.FormatInt(e.MakerAmount, 10),
		strconv.FormatInt(e.TakerAmount, 10),
	}, "|")
}

// NormalizeTxHash canonicalizes a transaction hash to its checksummed-free
// 0x-prefixed lowercase form so that duplicate deliveries with different
// casing dedupe correctly.
func NormalizeTxHash(h string) string {
	if h == "" {
		return h
	}

	return common.HexToHash(h).Hex()
}
