package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"go_market_ranking/models"
	"go_market_ranking/services/cache"
	"go_market_ranking/services/catalog"
	"go_market_ranking/services/fetcher"
	"go_market_ranking/services/notify"
	"go_market_ranking/services/ranking"
	"go_market_ranking/services/scoring"
)

type fakeProvider struct {
	perCall time.Duration
	fail    bool
}

func (f *fakeProvider) FetchDailyCandles(ctx context.Context, symbol string, from, to time.Time) ([]models.Candle, error) {
	if f.perCall > 0 {
		select {
		case <-time.After(f.perCall):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.fail {
		return nil, errors.New("provider unavailable")
	}

	base := 100.0
	if symbol == "BBB" {
		base = 50.0
	}
	candles := make([]models.Candle, 0, 10)
	for i := 0; i < 10; i++ {
		candles = append(candles, models.Candle{
			Symbol: symbol,
			Date:   to.AddDate(0, 0, -i),
			Close:  decimal.NewFromFloat(base + float64(10-i)),
		})
	}
	return candles, nil
}

type captureNotifier struct {
	summaries chan notify.Summary
}

func (c *captureNotifier) Notify(_ context.Context, s notify.Summary) error {
	c.summaries <- s
	return nil
}

func newTestPipeline(t *testing.T, provider fetcher.QuoteProvider, notifier notify.Notifier) (*Pipeline, *ranking.Repository) {
	t.Helper()
	dir := t.TempDir()

	cat, err := catalog.NewStore(filepath.Join(dir, "app.db"))
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })
	for _, symbol := range []string{"AAA", "BBB"} {
		require.NoError(t, cat.Upsert(models.Instrument{Symbol: symbol, Status: "active"}))
	}

	fetchCache, err := cache.New(filepath.Join(dir, "cache"), 16)
	require.NoError(t, err)

	repo, err := ranking.NewRepository(filepath.Join(dir, "scores.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	p := New(
		cat,
		fetcher.NewOrchestrator(provider, fetchCache),
		scoring.NewRelativeStrengthScorer(),
		repo,
		notifier,
		fetcher.Options{MaxConcurrency: 2, CacheTTL: time.Hour},
	)
	return p, repo
}

func TestRunOnceStoresRankedScores(t *testing.T) {
	sink := &captureNotifier{summaries: make(chan notify.Summary, 1)}
	p, repo := newTestPipeline(t, &fakeProvider{}, sink)

	require.NoError(t, p.RunOnce(context.Background()))

	rows, err := repo.Latest("")
	require.NoError(t, err)
	require.Len(t, rows, 2)

	byRank := map[string]int{}
	for _, row := range rows {
		require.NotNil(t, row.Ranks["rs_3d"])
		byRank[row.Symbol] = *row.Ranks["rs_3d"]
	}
	// Both series gain the same absolute amount, so the cheaper one gains more
	// in percent terms and ranks first.
	require.Equal(t, 1, byRank["BBB"])
	require.Equal(t, 2, byRank["AAA"])

	summary := <-sink.summaries
	require.True(t, summary.Success)
	require.Equal(t, "daily-sync", summary.Job)
	require.Contains(t, summary.Details, "symbols=2")
}

func TestRunOnceFailsWhenAllFetchesFail(t *testing.T) {
	sink := &captureNotifier{summaries: make(chan notify.Summary, 1)}
	p, repo := newTestPipeline(t, &fakeProvider{fail: true}, sink)

	err := p.RunOnce(context.Background())
	require.Error(t, err)

	rows, err := repo.Latest("")
	require.NoError(t, err)
	require.Empty(t, rows)

	summary := <-sink.summaries
	require.False(t, summary.Success)
}

func TestRunOnceRefusesOverlap(t *testing.T) {
	p, _ := newTestPipeline(t, &fakeProvider{perCall: 300 * time.Millisecond}, nil)

	done := make(chan error, 1)
	go func() { done <- p.RunOnce(context.Background()) }()

	require.Eventually(t, p.Running, time.Second, 5*time.Millisecond)
	require.ErrorIs(t, p.RunOnce(context.Background()), ErrRunInProgress)

	require.NoError(t, <-done)
	require.False(t, p.Running())
}
