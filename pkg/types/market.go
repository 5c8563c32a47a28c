package types

import "time"

// Side identifies which outcome token of a binary market an asset id maps to.
type Side string

const (
	SideToken1 Side = "token1"
	SideToken2 Side = "token2"
)

// Market represents a Polymarket binary market as stored in the registry.
// Token ids are arbitrary-precision integers on chain and must always be
// handled as strings; they do not fit in 63 bits.
type Market struct {
	ID        string
	Question  string
	Slug      string
	Token1    string
	Token2    string
	CreatedAt time.Time
	ClosedAt  *time.Time
	Volume    float64
	Closed    bool
}

// TokenSide returns which side of the market a token id belongs to.
func (m *Market) TokenSide(tokenID string) (Side, bool) {
	switch tokenID {
	case m.Token1:
		return SideToken1, true
	case m.Token2:
		return SideToken2, true
	}

	return "", false
}

// HasTokens reports whether the market carries both outcome token ids. Markets
// without a full token pair cannot be indexed and are rejected at load time.
func (m *Market) HasTokens() bool {
	return m.Token1 != "" && m.Token2 != ""
}
