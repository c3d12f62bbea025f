package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"go_market_ranking/models"
)

// VNDirect price API endpoint
const VNDirectPriceAPIURL = "https://api-finfo.vndirect.com.vn/v4/stock_prices"

const vndirectDateLayout = "2006-01-02"

// APIError is a non-success response from the provider.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Body)
}

// VNDirectResponse represents the API response
type VNDirectResponse struct {
	Data          []VNDirectPriceData `json:"data"`
	TotalElements int                 `json:"totalElements"`
}

// VNDirectPriceData represents one daily price record from VNDirect
type VNDirectPriceData struct {
	Code     string  `json:"code"`
	Date     string  `json:"date"`
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	NmVolume float64 `json:"nmVolume"`
	NmValue  float64 `json:"nmValue"`
}

// VNDirectProvider fetches daily candles from the VNDirect price API.
type VNDirectProvider struct {
	baseURL    string
	httpClient *http.Client
}

// NewVNDirectProvider creates a provider with a 30 second request timeout.
func NewVNDirectProvider() *VNDirectProvider {
	return &VNDirectProvider{
		baseURL:    VNDirectPriceAPIURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// FetchDailyCandles fetches daily OHLCV bars for symbol within [from, to].
func (p *VNDirectProvider) FetchDailyCandles(ctx context.Context, symbol string, from, to time.Time) ([]models.Candle, error) {
	url := fmt.Sprintf("%s?sort=date:desc&q=code:%s~date:gte:%s~date:lte:%s&size=1000",
		p.baseURL, symbol, from.Format(vndirectDateLayout), to.Format(vndirectDateLayout))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Referer", "https://www.vndirect.com.vn/")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var priceResp VNDirectResponse
	if err := json.Unmarshal(body, &priceResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	candles := make([]models.Candle, 0, len(priceResp.Data))
	for _, d := range priceResp.Data {
		date, err := time.Parse(vndirectDateLayout, d.Date)
		if err != nil {
			return nil, fmt.Errorf("failed to parse date %q for %s: %w", d.Date, symbol, err)
		}
		candles = append(candles, models.Candle{
			Symbol: symbol,
			Date:   date,
			Open:   decimal.NewFromFloat(d.Open),
			High:   decimal.NewFromFloat(d.High),
			Low:    decimal.NewFromFloat(d.Low),
			Close:  decimal.NewFromFloat(d.Close),
			Volume: int64(d.NmVolume),
			Value:  decimal.NewFromFloat(d.NmValue),
		})
	}
	return candles, nil
}
