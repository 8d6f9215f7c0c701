package services

import (
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"market_values_backend/services/marketdata"

	"github.com/shopspring/decimal"
)

// Quote fetch constants
const (
	QuoteFetchAttempts = 3
	QuoteLookback      = 2 // latest close plus previous close
	QuoteBaseBackoff   = 500 * time.Millisecond
	LiveQuoteCacheTTL  = 15 * time.Second
	LiveQuoteKeyPrefix = "stocks:live:"
)

// Quote is a point-in-time price snapshot for a symbol.
type Quote struct {
	Symbol        string  `json:"symbol"`
	CurrentPrice  float64 `json:"current_price"`
	PreviousClose float64 `json:"previous_close"`
	Change        float64 `json:"change"`
	PercentChange float64 `json:"percent_change"`
	AsOf          string  `json:"as_of"`
}

// QuoteService fetches live quotes from the upstream provider with
// per-symbol retry and a short-TTL cache in front of batch fetches.
type QuoteService struct {
	provider marketdata.Provider
	cache    *CacheService
	sleep    func(time.Duration)
}

// Global quote service instance
var GlobalQuoteService *QuoteService

// InitQuoteService initializes the global quote service
func InitQuoteService(provider marketdata.Provider, cache *CacheService) {
	GlobalQuoteService = NewQuoteService(provider, cache)
	log.Println("Quote Service initialized")
}

// NewQuoteService creates a quote service
func NewQuoteService(provider marketdata.Provider, cache *CacheService) *QuoteService {
	return &QuoteService{
		provider: provider,
		cache:    cache,
		sleep:    time.Sleep,
	}
}

// FetchQuote fetches the current quote for one symbol. Upstream failures
// are retried up to QuoteFetchAttempts with exponential backoff; nil is
// returned once the budget is exhausted so the symbol drops out of the
// batch instead of failing it.
func (s *QuoteService) FetchQuote(symbol string) *Quote {
	for attempt := 1; attempt <= QuoteFetchAttempts; attempt++ {
		candles, err := s.provider.History(symbol, QuoteLookback)
		if err == nil {
			if len(candles) == 0 {
				return nil
			}
			return buildQuote(symbol, candles)
		}

		log.Printf("Attempt %d failed for %s: %v", attempt, symbol, err)
		if attempt < QuoteFetchAttempts {
			s.sleep(backoffDelay(attempt))
		}
	}
	return nil
}

// FetchAll fetches quotes for every symbol in the set concurrently and
// returns whichever subset succeeded. The whole batch is served from cache
// when a previous identical batch is still fresh.
func (s *QuoteService) FetchAll(symbols []string) []Quote {
	unique := dedupeSorted(symbols)
	if len(unique) == 0 {
		return nil
	}

	cacheKey := LiveQuoteKeyPrefix + strings.Join(unique, ",")
	var cached []Quote
	if s.cache.GetJSON(cacheKey, &cached) {
		return cached
	}

	results := make([]*Quote, len(unique))
	var wg sync.WaitGroup
	for i, symbol := range unique {
		wg.Add(1)
		go func(i int, symbol string) {
			defer wg.Done()
			results[i] = s.FetchQuote(symbol)
		}(i, symbol)
	}
	wg.Wait()

	quotes := make([]Quote, 0, len(unique))
	for _, quote := range results {
		if quote != nil {
			quotes = append(quotes, *quote)
		}
	}

	s.cache.SetJSON(cacheKey, quotes, LiveQuoteCacheTTL)
	return quotes
}

// PriceMap collapses quotes into a symbol -> current price map.
func PriceMap(quotes []Quote) map[string]float64 {
	prices := make(map[string]float64, len(quotes))
	for _, quote := range quotes {
		prices[quote.Symbol] = quote.CurrentPrice
	}
	return prices
}

// backoffDelay returns the sleep before the attempt following attempt n:
// 0.5s, 1s, 2s, ...
func backoffDelay(attempt int) time.Duration {
	return QuoteBaseBackoff * time.Duration(1<<(attempt-1))
}

// buildQuote derives a quote from history rows sorted newest first.
func buildQuote(symbol string, candles []marketdata.Candle) *Quote {
	latest := candles[0]
	previous := latest
	if len(candles) > 1 {
		previous = candles[1]
	}

	percentChange := 0.0
	if previous.Close != 0 {
		percentChange = (latest.Close - previous.Close) / previous.Close * 100
	}

	return &Quote{
		Symbol:        symbol,
		CurrentPrice:  round2(latest.Close),
		PreviousClose: round2(previous.Close),
		Change:        round2(latest.Close - previous.Close),
		PercentChange: round2(percentChange),
		AsOf:          time.Now().Format(time.RFC3339),
	}
}

// round2 rounds a price to 2 decimal places at quote construction.
func round2(value float64) float64 {
	rounded, _ := decimal.NewFromFloat(value).Round(2).Float64()
	return rounded
}

// dedupeSorted returns the sorted set of symbols with duplicates collapsed.
func dedupeSorted(symbols []string) []string {
	seen := make(map[string]bool, len(symbols))
	unique := make([]string, 0, len(symbols))
	for _, symbol := range symbols {
		if symbol == "" || seen[symbol] {
			continue
		}
		seen[symbol] = true
		unique = append(unique, symbol)
	}
	sort.Strings(unique)
	return unique
}
