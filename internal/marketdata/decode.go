package marketdata

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/LADAN401/Elite-Degen/pkg/models"
)

// num decodes a JSON number or a numeric string
type num struct {
	d  decimal.Decimal
	ok bool
}

func (n *num) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		return nil
	}
	s = strings.Trim(s, `"`)
	if s == "" {
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("invalid number %q: %w", s, err)
	}
	n.d, n.ok = d, true
	return nil
}

type rawToken struct {
	Address *string `json:"address"`
	Name    *string `json:"name"`
	Symbol  *string `json:"symbol"`
}

type rawTxns struct {
	Buys  *num `json:"buys"`
	Sells *num `json:"sells"`
}

type rawWindowed struct {
	M5  *num `json:"m5"`
	H1  *num `json:"h1"`
	H6  *num `json:"h6"`
	H24 *num `json:"h24"`
}

type rawLink struct {
	Label *string `json:"label"`
	Type  *string `json:"type"`
	URL   *string `json:"url"`
}

type rawInfo struct {
	ImageURL *string   `json:"imageUrl"`
	Header   *string   `json:"header"`
	Websites []rawLink `json:"websites"`
	Socials  []rawLink `json:"socials"`
}

type rawTxnWindows struct {
	H24 *rawTxns `json:"h24"`
}

type rawLiquidity struct {
	USD   *num `json:"usd"`
	Base  *num `json:"base"`
	Quote *num `json:"quote"`
}

type rawPair struct {
	ChainID       *string        `json:"chainId"`
	DexID         *string        `json:"dexId"`
	URL           *string        `json:"url"`
	PairAddress   *string        `json:"pairAddress"`
	BaseToken     *rawToken      `json:"baseToken"`
	QuoteToken    *rawToken      `json:"quoteToken"`
	PriceNative   *num           `json:"priceNative"`
	PriceUSD      *num           `json:"priceUsd"`
	Txns          *rawTxnWindows `json:"txns"`
	Volume        *rawWindowed   `json:"volume"`
	PriceChange   *rawWindowed   `json:"priceChange"`
	Liquidity     *rawLiquidity  `json:"liquidity"`
	FDV           *num           `json:"fdv"`
	MarketCap     *num           `json:"marketCap"`
	PairCreatedAt *num           `json:"pairCreatedAt"`
	Info          *rawInfo       `json:"info"`
}

type rawOrder struct {
	Type             *string `json:"type"`
	Status           *string `json:"status"`
	PaymentTimestamp *num    `json:"paymentTimestamp"`
	Timestamp        *num    `json:"timestamp"`
}

// defaults converts optional raw fields to zero values and records which
// fields were absent
type defaults struct {
	missing []string
}

func (d *defaults) str(field string, s *string) string {
	if s == nil {
		d.missing = append(d.missing, field)
		return ""
	}
	return *s
}

func (d *defaults) dec(field string, n *num) decimal.Decimal {
	if n == nil || !n.ok {
		d.missing = append(d.missing, field)
		return decimal.Zero
	}
	return n.d
}

func (d *defaults) float(field string, n *num) float64 {
	v, _ := d.dec(field, n).Float64()
	return v
}

func (d *defaults) token(field string, t *rawToken) models.Token {
	if t == nil {
		d.missing = append(d.missing, field)
		return models.Token{}
	}
	return models.Token{
		Address: strings.ToLower(d.str(field+".address", t.Address)),
		Name:    d.str(field+".name", t.Name),
		Symbol:  d.str(field+".symbol", t.Symbol),
	}
}

func (d *defaults) windowed(field string, w *rawWindowed) models.Windowed {
	if w == nil {
		w = &rawWindowed{}
	}
	return models.Windowed{
		M5:  d.float(field+".m5", w.M5),
		H1:  d.float(field+".h1", w.H1),
		H6:  d.float(field+".h6", w.H6),
		H24: d.float(field+".h24", w.H24),
	}
}

func decodeSearch(body []byte) ([]models.Pair, error) {
	var envelope struct {
		Pairs []rawPair `json:"pairs"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return convertPairs(envelope.Pairs), nil
}

// decodePairs accepts a bare array or a {"pairs": [...]} envelope
func decodePairs(body []byte) ([]models.Pair, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	var raw []rawPair
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecode, err)
		}
	case '{':
		var envelope struct {
			Pairs []rawPair `json:"pairs"`
		}
		if err := json.Unmarshal(trimmed, &envelope); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		raw = envelope.Pairs
	default:
		return nil, fmt.Errorf("%w: unexpected body", ErrDecode)
	}
	return convertPairs(raw), nil
}

// decodeOrders accepts a bare array or an {"orders": [...]} envelope
func decodeOrders(body []byte) ([]models.Order, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	var raw []rawOrder
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecode, err)
		}
	case '{':
		var envelope struct {
			Orders []rawOrder `json:"orders"`
		}
		if err := json.Unmarshal(trimmed, &envelope); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		raw = envelope.Orders
	default:
		return nil, fmt.Errorf("%w: unexpected body", ErrDecode)
	}

	orders := make([]models.Order, 0, len(raw))
	for _, r := range raw {
		o := models.Order{}
		if r.Type != nil {
			o.Type = *r.Type
		}
		if r.Status != nil {
			o.Status = *r.Status
		}
		ts := r.PaymentTimestamp
		if ts == nil || !ts.ok {
			ts = r.Timestamp
		}
		if ts != nil && ts.ok {
			o.PaidAt = epochTime(ts.d.IntPart())
		}
		orders = append(orders, o)
	}
	return orders, nil
}

func convertPairs(raw []rawPair) []models.Pair {
	pairs := make([]models.Pair, 0, len(raw))
	for i := range raw {
		pairs = append(pairs, convertPair(&raw[i]))
	}
	return pairs
}

func convertPair(r *rawPair) models.Pair {
	d := &defaults{}

	p := models.Pair{
		ChainID:     strings.ToLower(d.str("chainId", r.ChainID)),
		DexID:       d.str("dexId", r.DexID),
		URL:         d.str("url", r.URL),
		PairAddress: d.str("pairAddress", r.PairAddress),
		BaseToken:   d.token("baseToken", r.BaseToken),
		QuoteToken:  d.token("quoteToken", r.QuoteToken),
		PriceUSD:    d.dec("priceUsd", r.PriceUSD),
		PriceNative: d.dec("priceNative", r.PriceNative),
		FDV:         d.float("fdv", r.FDV),
		MarketCap:   d.float("marketCap", r.MarketCap),
		Volume:      d.windowed("volume", r.Volume),
		PriceChange: d.windowed("priceChange", r.PriceChange),
	}

	if r.Liquidity == nil {
		d.missing = append(d.missing, "liquidity.usd", "liquidity.base", "liquidity.quote")
	} else {
		p.Liquidity = models.Liquidity{
			USD:   d.float("liquidity.usd", r.Liquidity.USD),
			Base:  d.float("liquidity.base", r.Liquidity.Base),
			Quote: d.float("liquidity.quote", r.Liquidity.Quote),
		}
	}

	if r.Txns == nil || r.Txns.H24 == nil {
		d.missing = append(d.missing, "txns.h24")
	} else {
		p.Txns24h = models.TxnCount{
			Buys:  d.dec("txns.h24.buys", r.Txns.H24.Buys).IntPart(),
			Sells: d.dec("txns.h24.sells", r.Txns.H24.Sells).IntPart(),
		}
	}

	if r.PairCreatedAt == nil || !r.PairCreatedAt.ok {
		d.missing = append(d.missing, "pairCreatedAt")
	} else {
		p.PairCreatedAt = epochTime(r.PairCreatedAt.d.IntPart())
	}

	if r.Info != nil {
		p.Profile = convertInfo(r.Info)
	}

	p.Missing = d.missing
	return p
}

func convertInfo(info *rawInfo) *models.TokenProfile {
	profile := &models.TokenProfile{}
	if info.ImageURL != nil {
		profile.ImageURL = *info.ImageURL
	}
	if info.Header != nil {
		profile.HeaderURL = *info.Header
	}
	for _, w := range info.Websites {
		if link, ok := convertLink(w); ok {
			profile.Websites = append(profile.Websites, link)
		}
	}
	for _, s := range info.Socials {
		if link, ok := convertLink(s); ok {
			profile.Socials = append(profile.Socials, link)
		}
	}
	return profile
}

func convertLink(r rawLink) (models.Link, bool) {
	if r.URL == nil || *r.URL == "" {
		return models.Link{}, false
	}
	link := models.Link{URL: *r.URL}
	if r.Type != nil {
		link.Type = *r.Type
	}
	if r.Label != nil {
		link.Label = *r.Label
	}
	if link.Label == "" {
		link.Label = link.Type
	}
	if link.Label == "" {
		link.Label = "Link"
	}
	return link, true
}

// epochTime converts a unix timestamp in seconds or milliseconds
func epochTime(v int64) time.Time {
	if v <= 0 {
		return time.Time{}
	}
	if v >= 1e12 {
		return time.UnixMilli(v).UTC()
	}
	return time.Unix(v, 0).UTC()
}
