package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go_market_ranking/models"
	"go_market_ranking/services/catalog"
	"go_market_ranking/services/fetcher"
	"go_market_ranking/services/jobreport"
	"go_market_ranking/services/notify"
	"go_market_ranking/services/ranking"
	"go_market_ranking/services/scoring"
)

// ErrRunInProgress is returned when a sync cycle is requested while another
// one is still running.
var ErrRunInProgress = errors.New("sync is already in progress")

// Pipeline runs one full scoring cycle: load the instrument universe, fetch a
// year of price history per symbol, compute raw metrics and upsert the ranked
// result for the day.
type Pipeline struct {
	catalog      *catalog.Store
	orchestrator *fetcher.Orchestrator
	scorer       scoring.Scorer
	repo         *ranking.Repository
	notifier     notify.Notifier
	opts         fetcher.Options

	mu      sync.Mutex
	running bool
}

// New wires a pipeline from its parts. notifier may be nil.
func New(
	cat *catalog.Store,
	orch *fetcher.Orchestrator,
	scorer scoring.Scorer,
	repo *ranking.Repository,
	notifier notify.Notifier,
	opts fetcher.Options,
) *Pipeline {
	if notifier == nil {
		notifier = notify.NopNotifier{}
	}
	return &Pipeline{
		catalog:      cat,
		orchestrator: orch,
		scorer:       scorer,
		repo:         repo,
		notifier:     notifier,
		opts:         opts,
	}
}

// Running reports whether a cycle is currently executing.
func (p *Pipeline) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Progress exposes the orchestrator's live snapshot.
func (p *Pipeline) Progress() fetcher.Progress {
	return p.orchestrator.Progress()
}

// RunOnce executes a single sync cycle. Overlapping runs are refused with
// ErrRunInProgress.
func (p *Pipeline) RunOnce(ctx context.Context) (err error) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return ErrRunInProgress
	}
	p.running = true
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	report := jobreport.Begin("daily-sync")
	defer func() {
		report.Fail(err)
		report.Finalize(context.WithoutCancel(ctx), p.notifier)
	}()

	symbols, err := p.catalog.ActiveSymbols()
	if err != nil {
		return fmt.Errorf("failed to load instrument universe: %w", err)
	}
	if len(symbols) == 0 {
		return fmt.Errorf("no active instruments to sync")
	}
	report.Addf("symbols=%d", len(symbols))

	now := time.Now()
	tasks := make([]fetcher.Task, 0, len(symbols))
	for _, symbol := range symbols {
		tasks = append(tasks, fetcher.Task{
			Symbol: symbol,
			From:   now.AddDate(-1, 0, -7),
			To:     now,
		})
	}

	outcomes, err := p.orchestrator.Run(ctx, tasks, p.opts)
	if err != nil {
		return fmt.Errorf("fetch run failed: %w", err)
	}

	candles := make(map[string][]models.Candle, len(outcomes))
	failed := 0
	for _, outcome := range outcomes {
		if outcome.Err != nil {
			failed++
			continue
		}
		candles[outcome.Symbol] = outcome.Candles
	}
	report.Addf("fetched=%d failed=%d", len(candles), failed)

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("sync cancelled: %w", err)
	}
	if len(candles) == 0 {
		return fmt.Errorf("all %d fetches failed, nothing to score", len(tasks))
	}

	date := latestCandleDate(candles, now).Format("2006-01-02")
	metrics := p.scorer.Score(candles)

	rows, err := p.repo.Upsert(date, metrics)
	if err != nil {
		return fmt.Errorf("failed to store scores for %s: %w", date, err)
	}
	report.Addf("date=%s rows_written=%d", date, rows)
	return nil
}

// latestCandleDate returns the most recent trading day present in the fetched
// data, falling back to now when the series carry no dates.
func latestCandleDate(candles map[string][]models.Candle, now time.Time) time.Time {
	latest := time.Time{}
	for _, series := range candles {
		for _, c := range series {
			if c.Date.After(latest) {
				latest = c.Date
			}
		}
	}
	if latest.IsZero() {
		return now
	}
	return latest
}
