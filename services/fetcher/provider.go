package fetcher

import (
	"context"
	"time"

	"go_market_ranking/models"
)

// QuoteProvider fetches daily price history for one symbol. Transport and
// authentication details belong to the implementation.
type QuoteProvider interface {
	FetchDailyCandles(ctx context.Context, symbol string, from, to time.Time) ([]models.Candle, error)
}
