package services

import (
	"math"
	"sort"
	"time"
)

// Market overview constants
const (
	MarketOverviewCacheKey = "market:overview"
	MarketSectorsCacheKey  = "market:sectors"
	MarketCacheTTL         = 30 * time.Second
	TopMoversCount         = 5
)

// MarketOverview is the aggregated market snapshot.
type MarketOverview struct {
	Indices    []Quote `json:"indices"`
	Gainers    []Quote `json:"gainers"`
	Losers     []Quote `json:"losers"`
	MostActive []Quote `json:"most_active"`
}

// SectorPerformance is the average move of one sector and its members.
type SectorPerformance struct {
	AvgChange float64 `json:"avg_change"`
	Stocks    []Quote `json:"stocks"`
}

// MarketService aggregates live quotes into market-wide views.
type MarketService struct {
	quotes       *QuoteService
	cache        *CacheService
	stockCodes   []string
	indexSymbols []string
	sectors      map[string][]string
}

// Global market service instance
var GlobalMarketService *MarketService

// InitMarketService initializes the global market service
func InitMarketService(quotes *QuoteService, cache *CacheService, stockCodes, indexSymbols []string, sectors map[string][]string) {
	GlobalMarketService = NewMarketService(quotes, cache, stockCodes, indexSymbols, sectors)
}

// NewMarketService creates a market service over the given symbol universe
func NewMarketService(quotes *QuoteService, cache *CacheService, stockCodes, indexSymbols []string, sectors map[string][]string) *MarketService {
	return &MarketService{
		quotes:       quotes,
		cache:        cache,
		stockCodes:   stockCodes,
		indexSymbols: indexSymbols,
		sectors:      sectors,
	}
}

// Overview returns indices plus top gainers, losers and most active
// movers, cached for MarketCacheTTL.
func (s *MarketService) Overview() *MarketOverview {
	var cached MarketOverview
	if s.cache.GetJSON(MarketOverviewCacheKey, &cached) {
		return &cached
	}

	stocks := s.quotes.FetchAll(s.stockCodes)
	indices := s.quotes.FetchAll(s.indexSymbols)

	byChange := make([]Quote, len(stocks))
	copy(byChange, stocks)
	sort.Slice(byChange, func(i, j int) bool {
		return byChange[i].PercentChange > byChange[j].PercentChange
	})

	gainers := topN(byChange, TopMoversCount)
	losers := topN(reversed(byChange), TopMoversCount)

	byActivity := make([]Quote, len(stocks))
	copy(byActivity, stocks)
	sort.Slice(byActivity, func(i, j int) bool {
		return math.Abs(byActivity[i].Change) > math.Abs(byActivity[j].Change)
	})
	mostActive := topN(byActivity, TopMoversCount)

	overview := &MarketOverview{
		Indices:    indices,
		Gainers:    gainers,
		Losers:     losers,
		MostActive: mostActive,
	}

	s.cache.SetJSON(MarketOverviewCacheKey, overview, MarketCacheTTL)
	return overview
}

// SectorPerformance returns the average percent change per sector, cached
// for MarketCacheTTL. Sectors with no live quotes this cycle are omitted.
func (s *MarketService) SectorPerformance() map[string]SectorPerformance {
	cached := make(map[string]SectorPerformance)
	if s.cache.GetJSON(MarketSectorsCacheKey, &cached) {
		return cached
	}

	stocks := s.quotes.FetchAll(s.stockCodes)
	bySymbol := make(map[string]Quote, len(stocks))
	for _, quote := range stocks {
		bySymbol[quote.Symbol] = quote
	}

	performance := make(map[string]SectorPerformance, len(s.sectors))
	for sector, symbols := range s.sectors {
		members := make([]Quote, 0, len(symbols))
		total := 0.0
		for _, symbol := range symbols {
			quote, ok := bySymbol[symbol]
			if !ok {
				continue
			}
			members = append(members, quote)
			total += quote.PercentChange
		}
		if len(members) == 0 {
			continue
		}
		performance[sector] = SectorPerformance{
			AvgChange: round2(total / float64(len(members))),
			Stocks:    members,
		}
	}

	s.cache.SetJSON(MarketSectorsCacheKey, performance, MarketCacheTTL)
	return performance
}

// topN returns up to n leading quotes without sharing backing storage.
func topN(quotes []Quote, n int) []Quote {
	if len(quotes) < n {
		n = len(quotes)
	}
	top := make([]Quote, n)
	copy(top, quotes[:n])
	return top
}

// reversed returns a reversed copy of quotes.
func reversed(quotes []Quote) []Quote {
	out := make([]Quote, len(quotes))
	for i, quote := range quotes {
		out[len(quotes)-1-i] = quote
	}
	return out
}
