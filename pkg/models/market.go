package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// QueryKind tells whether a scan targets a contract address or a ticker symbol
type QueryKind string

const (
	QueryAddress QueryKind = "address"
	QueryTicker  QueryKind = "ticker"
)

// Query is a recognized scan target
type Query struct {
	Kind  QueryKind `json:"kind"`
	Value string    `json:"value"`
	// Chain pins the lookup to one chain, empty means any supported chain
	Chain string `json:"chain,omitempty"`
}

// Token is one side of a pair
type Token struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	Symbol  string `json:"symbol"`
}

// Liquidity of a pair in USD and in units of each side
type Liquidity struct {
	USD   float64 `json:"usd"`
	Base  float64 `json:"base"`
	Quote float64 `json:"quote"`
}

// Windowed holds a metric over the standard DexScreener windows
type Windowed struct {
	M5  float64 `json:"m5"`
	H1  float64 `json:"h1"`
	H6  float64 `json:"h6"`
	H24 float64 `json:"h24"`
}

// TxnCount is the buy/sell count in a window
type TxnCount struct {
	Buys  int64 `json:"buys"`
	Sells int64 `json:"sells"`
}

// Pair is a fully defaulted market record. Missing lists the fields that were
// absent from the upstream response and were defaulted to zero values.
type Pair struct {
	ChainID       string          `json:"chain_id"`
	DexID         string          `json:"dex_id"`
	URL           string          `json:"url"`
	PairAddress   string          `json:"pair_address"`
	BaseToken     Token           `json:"base_token"`
	QuoteToken    Token           `json:"quote_token"`
	PriceUSD      decimal.Decimal `json:"price_usd"`
	PriceNative   decimal.Decimal `json:"price_native"`
	Liquidity     Liquidity       `json:"liquidity"`
	FDV           float64         `json:"fdv"`
	MarketCap     float64         `json:"market_cap"`
	Volume        Windowed        `json:"volume"`
	PriceChange   Windowed        `json:"price_change"`
	Txns24h       TxnCount        `json:"txns_24h"`
	PairCreatedAt time.Time       `json:"pair_created_at"`
	Profile       *TokenProfile   `json:"profile,omitempty"`
	Missing       []string        `json:"missing,omitempty"`
}

// IsMissing reports whether field was defaulted during decode
func (p *Pair) IsMissing(field string) bool {
	for _, f := range p.Missing {
		if f == field {
			return true
		}
	}
	return false
}

// Age returns how long ago the pair was created, zero when unknown
func (p *Pair) Age(now time.Time) time.Duration {
	if p.PairCreatedAt.IsZero() {
		return 0
	}
	return now.Sub(p.PairCreatedAt)
}

// Link is a named external URL
type Link struct {
	Label string `json:"label"`
	Type  string `json:"type,omitempty"`
	URL   string `json:"url"`
}

// TokenProfile is the social/profile metadata of a token
type TokenProfile struct {
	ImageURL  string `json:"image_url,omitempty"`
	HeaderURL string `json:"header_url,omitempty"`
	Websites  []Link `json:"websites,omitempty"`
	Socials   []Link `json:"socials,omitempty"`
}

// HasSocials reports whether any website or social link is present
func (p *TokenProfile) HasSocials() bool {
	return p != nil && (len(p.Websites) > 0 || len(p.Socials) > 0)
}

// Order is a paid promotion order for a token page
type Order struct {
	Type   string    `json:"type"`
	Status string    `json:"status"`
	PaidAt time.Time `json:"paid_at"`
}

// PaidState is the paid-promotion status of a token
type PaidState string

const (
	PaidStateUnknown PaidState = "unknown"
	PaidStatePaid    PaidState = "paid"
	PaidStateNotPaid PaidState = "not_paid"
)

// PaidStatus is the resolved paid-promotion status
type PaidStatus struct {
	State PaidState `json:"state"`
	At    time.Time `json:"at,omitempty"`
}

// ScanResult is everything rendered for one scan
type ScanResult struct {
	Query     Query         `json:"query"`
	Pair      Pair          `json:"pair"`
	Paid      PaidStatus    `json:"paid"`
	Profile   *TokenProfile `json:"profile,omitempty"`
	FetchedAt time.Time     `json:"fetched_at"`
	Cached    bool          `json:"-"`
}
