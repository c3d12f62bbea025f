package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Candle is one daily OHLCV bar as returned by the market data provider
type Candle struct {
	Symbol string          `json:"symbol"`
	Date   time.Time       `json:"date"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume int64           `json:"volume"`
	Value  decimal.Decimal `json:"value"`
}
