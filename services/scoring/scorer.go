package scoring

import (
	"math"
	"sort"

	"go_market_ranking/models"
	"go_market_ranking/services/ranking"
)

// Scorer turns fetched price history into named raw metrics per symbol.
// Implementations own the indicator formulas; the ranking repository only
// sees the resulting metric table.
type Scorer interface {
	Score(candles map[string][]models.Candle) map[string]ranking.RawMetrics
}

// Trading-day offsets for the relative strength windows
const (
	offset3D = 3
	offset1M = 22
	offset3M = 66
	offset1Y = 252
)

// RelativeStrengthScorer computes percent price change over 3-day, 1-month,
// 3-month and 1-year trading windows, plus their average. Windows the price
// history cannot cover yield nil, never a placeholder value.
type RelativeStrengthScorer struct{}

// NewRelativeStrengthScorer creates the default scorer.
func NewRelativeStrengthScorer() *RelativeStrengthScorer {
	return &RelativeStrengthScorer{}
}

// Score computes raw metrics for every symbol in candles.
func (s *RelativeStrengthScorer) Score(candles map[string][]models.Candle) map[string]ranking.RawMetrics {
	out := make(map[string]ranking.RawMetrics, len(candles))
	for symbol, series := range candles {
		out[symbol] = scoreSymbol(series)
	}
	return out
}

func scoreSymbol(series []models.Candle) ranking.RawMetrics {
	closes := make([]float64, 0, len(series))
	sorted := make([]models.Candle, len(series))
	copy(sorted, series)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Date.After(sorted[j].Date)
	})
	for _, c := range sorted {
		closes = append(closes, c.Close.InexactFloat64())
	}

	metrics := ranking.RawMetrics{
		"rs_3d": priceChange(closes, offset3D),
		"rs_1m": priceChange(closes, offset1M),
		"rs_3m": priceChange(closes, offset3M),
		"rs_1y": priceChange(closes, offset1Y),
	}
	metrics["rs_avg"] = average(metrics["rs_3d"], metrics["rs_1m"], metrics["rs_3m"], metrics["rs_1y"])
	return metrics
}

// priceChange returns the percent change between the newest close and the
// close offset trading days earlier. closes must be newest-first.
func priceChange(closes []float64, offset int) *float64 {
	if len(closes) <= offset {
		return nil
	}
	current := closes[0]
	past := closes[offset]
	if past == 0 {
		return nil
	}
	change := math.Round((current-past)/past*100*100) / 100
	return &change
}

// average returns the mean of the non-nil values, nil when none are present.
func average(values ...*float64) *float64 {
	sum := 0.0
	n := 0
	for _, v := range values {
		if v != nil {
			sum += *v
			n++
		}
	}
	if n == 0 {
		return nil
	}
	avg := math.Round(sum/float64(n)*100) / 100
	return &avg
}
