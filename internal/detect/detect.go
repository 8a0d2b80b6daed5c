// Package detect recognizes token contract addresses and ticker symbols in
// free-form chat text.
package detect

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/LADAN401/Elite-Degen/pkg/models"
)

var (
	// ErrNoMatch is returned when the text holds neither an address nor a ticker
	ErrNoMatch = errors.New("no address or ticker found")
	// ErrInvalidAddress is returned when an address is not 0x + 40 hex chars
	ErrInvalidAddress = errors.New("invalid address")
	// ErrInvalidTicker is returned when a ticker is empty or not alphanumeric
	ErrInvalidTicker = errors.New("invalid ticker")
)

var (
	addressPattern = regexp.MustCompile(`(0x[0-9a-fA-F]{40})(?:[^0-9a-fA-F]|$)`)
	tickerPattern  = regexp.MustCompile(`\$[A-Za-z0-9]+`)
	bareTicker     = regexp.MustCompile(`^[A-Za-z0-9]+$`)
)

// Recognize returns the earliest address or $ticker found in text.
// An address is 0x followed by exactly 40 hex chars. Addresses are
// normalized and tickers are uppercased without the sigil.
func Recognize(text string) (models.Query, error) {
	addrLoc := findAddress(text)
	tickLoc := tickerPattern.FindStringIndex(text)

	switch {
	case addrLoc == nil && tickLoc == nil:
		return models.Query{}, ErrNoMatch
	case tickLoc == nil || (addrLoc != nil && addrLoc[0] <= tickLoc[0]):
		return models.Query{
			Kind:  models.QueryAddress,
			Value: strings.ToLower(text[addrLoc[0]:addrLoc[1]]),
		}, nil
	default:
		return models.Query{
			Kind:  models.QueryTicker,
			Value: strings.ToUpper(text[tickLoc[0]+1 : tickLoc[1]]),
		}, nil
	}
}

// findAddress locates a 0x run of exactly 40 hex chars. Longer runs such as
// transaction hashes are skipped.
func findAddress(text string) []int {
	for off := 0; off < len(text); {
		m := addressPattern.FindStringSubmatchIndex(text[off:])
		if m == nil {
			return nil
		}
		start := off + m[2]
		if start == 0 || !isHex(text[start-1]) {
			return []int{start, off + m[3]}
		}
		off = off + m[3]
	}
	return nil
}

func isHex(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'a' && b <= 'f') || (b >= 'A' && b <= 'F')
}

// NormalizeAddress validates s as a 0x-prefixed 20 byte hex address and
// returns it lowercased. It is idempotent.
func NormalizeAddress(s string) (string, error) {
	s = strings.TrimSpace(s)
	if len(s) != 42 || !strings.HasPrefix(s, "0x") {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	if !common.IsHexAddress(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return "0x" + strings.ToLower(s[2:]), nil
}

// ParseQuery parses an explicit scan argument: an address, a $TICKER or a
// bare ticker.
func ParseQuery(arg string) (models.Query, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return models.Query{}, ErrNoMatch
	}

	if strings.HasPrefix(arg, "0x") || strings.HasPrefix(arg, "0X") {
		// 0X fails NormalizeAddress instead of reading as a ticker
		addr, err := NormalizeAddress(arg)
		if err != nil {
			return models.Query{}, err
		}
		return models.Query{Kind: models.QueryAddress, Value: addr}, nil
	}

	symbol := strings.TrimPrefix(arg, "$")
	if !bareTicker.MatchString(symbol) {
		return models.Query{}, fmt.Errorf("%w: %q", ErrInvalidTicker, arg)
	}
	return models.Query{Kind: models.QueryTicker, Value: strings.ToUpper(symbol)}, nil
}

// ShortAddress renders an address as 0x1234...abcd
func ShortAddress(addr string) string {
	if len(addr) <= 12 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}
