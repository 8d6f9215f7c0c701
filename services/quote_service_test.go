package services

import (
	"errors"
	"sync"
	"testing"
	"time"

	"market_values_backend/services/marketdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider serves canned history per symbol and counts calls.
type fakeProvider struct {
	mu      sync.Mutex
	candles map[string][]marketdata.Candle
	errs    map[string]error
	calls   map[string]int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		candles: make(map[string][]marketdata.Candle),
		errs:    make(map[string]error),
		calls:   make(map[string]int),
	}
}

func (p *fakeProvider) History(symbol string, lookback int) ([]marketdata.Candle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[symbol]++
	if err, ok := p.errs[symbol]; ok {
		return nil, err
	}
	return p.candles[symbol], nil
}

func (p *fakeProvider) callCount(symbol string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[symbol]
}

func newTestQuoteService(provider marketdata.Provider, cache *CacheService) *QuoteService {
	svc := NewQuoteService(provider, cache)
	svc.sleep = func(time.Duration) {}
	return svc
}

func candlePair(symbol string, latest, previous float64) []marketdata.Candle {
	return []marketdata.Candle{
		{Symbol: symbol, Close: latest},
		{Symbol: symbol, Close: previous},
	}
}

func TestFetchQuoteComputesChange(t *testing.T) {
	provider := newFakeProvider()
	provider.candles["TCS.NS"] = candlePair("TCS.NS", 102.5, 100.0)
	svc := newTestQuoteService(provider, NewDisabledCacheService())

	quote := svc.FetchQuote("TCS.NS")
	require.NotNil(t, quote)
	assert.Equal(t, "TCS.NS", quote.Symbol)
	assert.Equal(t, 102.5, quote.CurrentPrice)
	assert.Equal(t, 100.0, quote.PreviousClose)
	assert.Equal(t, 2.5, quote.Change)
	assert.Equal(t, 2.5, quote.PercentChange)
	assert.NotEmpty(t, quote.AsOf)
}

func TestFetchQuoteRoundsToTwoDecimals(t *testing.T) {
	provider := newFakeProvider()
	provider.candles["INFY.NS"] = candlePair("INFY.NS", 100.0/3.0, 30.0)
	svc := newTestQuoteService(provider, NewDisabledCacheService())

	quote := svc.FetchQuote("INFY.NS")
	require.NotNil(t, quote)
	assert.Equal(t, 33.33, quote.CurrentPrice)
	assert.Equal(t, 3.33, quote.Change)
	assert.Equal(t, 11.11, quote.PercentChange)
}

func TestFetchQuoteZeroPreviousClose(t *testing.T) {
	provider := newFakeProvider()
	provider.candles["NEW.NS"] = candlePair("NEW.NS", 50.0, 0.0)
	svc := newTestQuoteService(provider, NewDisabledCacheService())

	quote := svc.FetchQuote("NEW.NS")
	require.NotNil(t, quote)
	assert.Equal(t, 0.0, quote.PercentChange)
}

func TestFetchQuoteRetriesThenGivesUp(t *testing.T) {
	provider := newFakeProvider()
	provider.errs["DOWN.NS"] = errors.New("upstream unavailable")
	svc := newTestQuoteService(provider, NewDisabledCacheService())

	quote := svc.FetchQuote("DOWN.NS")
	assert.Nil(t, quote)
	assert.Equal(t, QuoteFetchAttempts, provider.callCount("DOWN.NS"))
}

func TestFetchQuoteEmptyHistoryDoesNotRetry(t *testing.T) {
	provider := newFakeProvider()
	svc := newTestQuoteService(provider, NewDisabledCacheService())

	quote := svc.FetchQuote("GHOST.NS")
	assert.Nil(t, quote)
	assert.Equal(t, 1, provider.callCount("GHOST.NS"))
}

func TestFetchQuoteBackoffSchedule(t *testing.T) {
	provider := newFakeProvider()
	provider.errs["DOWN.NS"] = errors.New("upstream unavailable")
	svc := NewQuoteService(provider, NewDisabledCacheService())

	var slept []time.Duration
	svc.sleep = func(d time.Duration) { slept = append(slept, d) }

	svc.FetchQuote("DOWN.NS")

	// Two sleeps for three attempts, doubling from the base delay
	require.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, slept)
}

func TestBackoffDelayDoubles(t *testing.T) {
	assert.Equal(t, 500*time.Millisecond, backoffDelay(1))
	assert.Equal(t, time.Second, backoffDelay(2))
	assert.Equal(t, 2*time.Second, backoffDelay(3))
}

func TestFetchAllDropsFailedSymbols(t *testing.T) {
	provider := newFakeProvider()
	provider.candles["A.NS"] = candlePair("A.NS", 10, 9)
	provider.candles["B.NS"] = candlePair("B.NS", 20, 21)
	provider.errs["C.NS"] = errors.New("upstream unavailable")
	svc := newTestQuoteService(provider, NewDisabledCacheService())

	quotes := svc.FetchAll([]string{"A.NS", "B.NS", "C.NS"})

	require.Len(t, quotes, 2)
	symbols := []string{quotes[0].Symbol, quotes[1].Symbol}
	assert.ElementsMatch(t, []string{"A.NS", "B.NS"}, symbols)
}

func TestFetchAllDeduplicatesSymbols(t *testing.T) {
	provider := newFakeProvider()
	provider.candles["A.NS"] = candlePair("A.NS", 10, 9)
	svc := newTestQuoteService(provider, NewDisabledCacheService())

	quotes := svc.FetchAll([]string{"A.NS", "A.NS", "", "A.NS"})

	require.Len(t, quotes, 1)
	assert.Equal(t, 1, provider.callCount("A.NS"))
}

func TestFetchAllServesFromCache(t *testing.T) {
	provider := newFakeProvider()
	provider.candles["A.NS"] = candlePair("A.NS", 10, 9)
	svc := newTestQuoteService(provider, NewCacheService(newMemoryBackend()))

	first := svc.FetchAll([]string{"A.NS"})
	second := svc.FetchAll([]string{"A.NS"})

	assert.Equal(t, first, second)
	assert.Equal(t, 1, provider.callCount("A.NS"), "second batch should come from cache")
}

func TestFetchAllEmptyInput(t *testing.T) {
	svc := newTestQuoteService(newFakeProvider(), NewDisabledCacheService())
	assert.Nil(t, svc.FetchAll(nil))
}

func TestPriceMap(t *testing.T) {
	prices := PriceMap([]Quote{
		{Symbol: "A.NS", CurrentPrice: 10.5},
		{Symbol: "B.NS", CurrentPrice: 20.25},
	})
	assert.Equal(t, map[string]float64{"A.NS": 10.5, "B.NS": 20.25}, prices)
}
