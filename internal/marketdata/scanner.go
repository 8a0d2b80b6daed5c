package marketdata

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/LADAN401/Elite-Degen/internal/logger"
	"github.com/LADAN401/Elite-Degen/pkg/models"
)

// Cache stores scan results between requests
type Cache interface {
	Get(ctx context.Context, key string) (*models.ScanResult, bool)
	Set(ctx context.Context, key string, result *models.ScanResult)
}

// Scanner resolves a query to the best pair and its paid status and profile
type Scanner struct {
	client *Client
	chains []string
	cache  Cache
	log    logger.Logger
	now    func() time.Time
}

// NewScanner creates a scanner over chains. The first chain is tried first
// for address lookups.
func NewScanner(client *Client, chains []string, log logger.Logger) *Scanner {
	return &Scanner{
		client: client,
		chains: chains,
		log:    log.With(logger.F("component", "scanner")),
		now:    time.Now,
	}
}

// SetCache enables result caching
func (s *Scanner) SetCache(c Cache) {
	s.cache = c
}

// Scan resolves q, serving from the cache when possible
func (s *Scanner) Scan(ctx context.Context, q models.Query) (*models.ScanResult, error) {
	return s.scan(ctx, q, true)
}

// Rescan resolves q bypassing the cache and refreshes the cached entry.
// A chain-pinned rescan also replaces the unpinned entry plain scans read.
func (s *Scanner) Rescan(ctx context.Context, q models.Query) (*models.ScanResult, error) {
	return s.scan(ctx, q, false)
}

// CacheKey returns the cache key of a query
func CacheKey(q models.Query) string {
	chain := q.Chain
	if chain == "" {
		chain = "any"
	}
	return fmt.Sprintf("%s:%s:%s", q.Kind, chain, strings.ToLower(q.Value))
}

func (s *Scanner) scan(ctx context.Context, q models.Query, useCache bool) (*models.ScanResult, error) {
	key := CacheKey(q)
	if useCache && s.cache != nil {
		if cached, ok := s.cache.Get(ctx, key); ok {
			cached.Cached = true
			return cached, nil
		}
	}

	var (
		pairs []models.Pair
		err   error
	)
	switch q.Kind {
	case models.QueryAddress:
		pairs, err = s.addressPairs(ctx, q)
	case models.QueryTicker:
		pairs, err = s.tickerPairs(ctx, q)
	default:
		return nil, fmt.Errorf("unsupported query kind %q", q.Kind)
	}
	if err != nil {
		return nil, err
	}

	best, ok := BestPair(pairs)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, q.Value)
	}

	result := &models.ScanResult{
		Query:     q,
		Pair:      best,
		FetchedAt: s.now(),
	}
	result.Query.Chain = best.ChainID

	token := best.BaseToken.Address
	if token == "" {
		token = q.Value
	}
	result.Paid = s.client.PaidStatus(ctx, best.ChainID, token)
	result.Profile = s.profile(ctx, best, pairs, token)

	if s.cache != nil {
		s.cache.Set(ctx, key, result)
		if !useCache && q.Chain != "" {
			s.cache.Set(ctx, CacheKey(models.Query{Kind: q.Kind, Value: q.Value}), result)
		}
	}

	return result, nil
}

// addressPairs tries the pinned chain, or every supported chain in order,
// and returns the pairs where the token is the base token when there are any.
// Upstream failures stop the search so the caller's time bound holds.
func (s *Scanner) addressPairs(ctx context.Context, q models.Query) ([]models.Pair, error) {
	chains := s.chains
	if q.Chain != "" {
		chains = []string{q.Chain}
	}

	for _, chain := range chains {
		pairs, err := s.client.TokenPairs(ctx, chain, q.Value)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}

		var base []models.Pair
		for _, p := range pairs {
			if strings.EqualFold(p.BaseToken.Address, q.Value) {
				base = append(base, p)
			}
		}
		if len(base) > 0 {
			return base, nil
		}
		return pairs, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrNotFound, q.Value)
}

// tickerPairs searches by symbol, keeps supported chains and prefers exact
// symbol matches
func (s *Scanner) tickerPairs(ctx context.Context, q models.Query) ([]models.Pair, error) {
	pairs, err := s.client.Search(ctx, q.Value)
	if err != nil {
		return nil, err
	}

	allowed := make(map[string]bool)
	if q.Chain != "" {
		allowed[strings.ToLower(q.Chain)] = true
	} else {
		for _, c := range s.chains {
			allowed[c] = true
		}
	}

	var onChain, exact []models.Pair
	for _, p := range pairs {
		if !allowed[p.ChainID] {
			continue
		}
		onChain = append(onChain, p)
		if strings.EqualFold(p.BaseToken.Symbol, q.Value) {
			exact = append(exact, p)
		}
	}

	if len(exact) > 0 {
		return exact, nil
	}
	if len(onChain) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, q.Value)
	}
	return onChain, nil
}

// profile picks the best pair's info block, then any sibling pair of the same
// token, then falls back to a token lookup.
func (s *Scanner) profile(ctx context.Context, best models.Pair, pairs []models.Pair, token string) *models.TokenProfile {
	if best.Profile != nil {
		return best.Profile
	}
	for _, p := range pairs {
		if p.Profile != nil && strings.EqualFold(p.BaseToken.Address, token) {
			return p.Profile
		}
	}

	profile, err := s.client.Profile(ctx, best.ChainID, token)
	if err != nil {
		s.log.Debug("No token profile", logger.F("token", token), logger.F("error", err))
		return nil
	}
	return profile
}
