package marketdata

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Candle is one OHLC row from the upstream provider, most recent first.
type Candle struct {
	Symbol string  `json:"code"`
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"nmVolume"`
}

// Provider fetches recent daily price history for a symbol.
type Provider interface {
	History(symbol string, lookback int) ([]Candle, error)
}

// HTTPProvider calls the upstream quote API over HTTP.
type HTTPProvider struct {
	baseURL    string
	httpClient *http.Client
}

type historyResponse struct {
	Data          []Candle `json:"data"`
	TotalElements int      `json:"totalElements"`
}

// NewHTTPProvider creates a provider against the given history endpoint
func NewHTTPProvider(baseURL string) *HTTPProvider {
	return &HTTPProvider{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// History fetches the last lookback daily rows for symbol, newest first.
func (p *HTTPProvider) History(symbol string, lookback int) ([]Candle, error) {
	url := fmt.Sprintf("%s?sort=date:desc&q=code:%s&size=%d", p.baseURL, symbol, lookback)

	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var historyResp historyResponse
	if err := json.Unmarshal(body, &historyResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return historyResp.Data, nil
}
