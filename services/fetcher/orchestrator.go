package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"go_market_ranking/models"
	"go_market_ranking/services/cache"
)

// ErrCancelled marks outcomes for tasks that were still queued when the run
// was cancelled.
var ErrCancelled = errors.New("fetch cancelled before dispatch")

// Task is one immutable unit of fetch work.
type Task struct {
	Symbol string
	From   time.Time
	To     time.Time
}

// Outcome is the per-task result of an orchestration run. Every submitted
// task yields exactly one outcome.
type Outcome struct {
	Symbol      string
	Candles     []models.Candle
	Err         error
	AttemptedAt time.Time
	FromCache   bool
}

// Options control one orchestration run.
type Options struct {
	MaxConcurrency    int
	InterRequestDelay time.Duration
	CacheTTL          time.Duration
}

// Progress is a point-in-time snapshot of a running (or finished) sync.
type Progress struct {
	Total         int    `json:"total"`
	Completed     int    `json:"completed"`
	Succeeded     int    `json:"succeeded"`
	Failed        int    `json:"failed"`
	Cached        int    `json:"cached"`
	CurrentSymbol string `json:"current_symbol"`
	Running       bool   `json:"running"`
	ElapsedTime   string `json:"elapsed_time"`
}

// Orchestrator fans a list of fetch tasks out over a bounded worker pool,
// rate-limiting external calls with a flat inter-request delay and consulting
// the tiered cache before each call. It never retries: one external attempt
// per non-cached task, and retry policy belongs to the caller.
type Orchestrator struct {
	provider QuoteProvider
	cache    *cache.Cache

	mu       sync.RWMutex
	progress Progress
	started  time.Time
}

// NewOrchestrator creates an orchestrator over the given provider and cache.
func NewOrchestrator(provider QuoteProvider, c *cache.Cache) *Orchestrator {
	return &Orchestrator{provider: provider, cache: c}
}

// Progress returns a snapshot of the current run. It is a side channel only
// and has no effect on run correctness.
func (o *Orchestrator) Progress() Progress {
	o.mu.RLock()
	defer o.mu.RUnlock()
	p := o.progress
	if p.Running {
		p.ElapsedTime = time.Since(o.started).Round(time.Second).String()
	}
	return p
}

// Run executes every task and returns one outcome per task, keyed by symbol
// with no ordering guarantee. On cancellation, in-flight calls finish but
// queued tasks come back with ErrCancelled outcomes rather than being
// dropped.
func (o *Orchestrator) Run(ctx context.Context, tasks []Task, opts Options) ([]Outcome, error) {
	if opts.MaxConcurrency <= 0 {
		return nil, fmt.Errorf("max concurrency must be > 0, got %d", opts.MaxConcurrency)
	}
	if opts.InterRequestDelay < 0 {
		return nil, fmt.Errorf("inter-request delay must be >= 0, got %s", opts.InterRequestDelay)
	}

	o.mu.Lock()
	o.progress = Progress{Total: len(tasks), Running: true}
	o.started = time.Now()
	o.mu.Unlock()

	taskCh := make(chan Task)
	outcomeCh := make(chan Outcome, len(tasks))

	workers := opts.MaxConcurrency
	if workers > len(tasks) {
		workers = len(tasks)
	}

	var g errgroup.Group
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for task := range taskCh {
				outcomeCh <- o.execute(ctx, task, opts)
			}
			return nil
		})
	}

	for _, task := range tasks {
		taskCh <- task
	}
	close(taskCh)
	g.Wait()

	close(outcomeCh)
	outcomes := make([]Outcome, 0, len(tasks))
	for outcome := range outcomeCh {
		outcomes = append(outcomes, outcome)
	}

	o.mu.Lock()
	o.progress.Running = false
	o.progress.CurrentSymbol = ""
	o.progress.ElapsedTime = time.Since(o.started).Round(time.Second).String()
	final := o.progress
	o.mu.Unlock()

	log.Printf("Fetch run completed: total=%d succeeded=%d failed=%d cached=%d",
		final.Total, final.Succeeded, final.Failed, final.Cached)

	return outcomes, nil
}

func (o *Orchestrator) execute(ctx context.Context, task Task, opts Options) Outcome {
	outcome := Outcome{Symbol: task.Symbol, AttemptedAt: time.Now()}

	// A cancelled run drains the queue into cancelled outcomes so the 1:1
	// task/outcome invariant holds.
	if ctx.Err() != nil {
		outcome.Err = ErrCancelled
		o.record(outcome)
		return outcome
	}

	o.mu.Lock()
	o.progress.CurrentSymbol = task.Symbol
	o.mu.Unlock()

	key := cacheKey(task)

	var cached []models.Candle
	if o.cache.Get(key, &cached) {
		// Cache hits skip the external call and consume no rate-limit budget.
		outcome.Candles = cached
		outcome.FromCache = true
		o.record(outcome)
		return outcome
	}

	if opts.InterRequestDelay > 0 {
		timer := time.NewTimer(opts.InterRequestDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			outcome.Err = ErrCancelled
			o.record(outcome)
			return outcome
		case <-timer.C:
		}
	}

	candles, err := o.provider.FetchDailyCandles(ctx, task.Symbol, task.From, task.To)
	outcome.AttemptedAt = time.Now()
	if err != nil {
		outcome.Err = err
		o.record(outcome)
		return outcome
	}

	if err := o.cache.Put(key, candles, opts.CacheTTL); err != nil {
		log.Printf("Warning: failed to cache candles for %s: %v", task.Symbol, err)
	}

	outcome.Candles = candles
	o.record(outcome)
	return outcome
}

func (o *Orchestrator) record(outcome Outcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.progress.Completed++
	switch {
	case outcome.Err != nil:
		o.progress.Failed++
	case outcome.FromCache:
		o.progress.Succeeded++
		o.progress.Cached++
	default:
		o.progress.Succeeded++
	}
}

func cacheKey(task Task) string {
	return cache.KeyFromFields(map[string]string{
		"symbol": task.Symbol,
		"from":   task.From.Format("2006-01-02"),
		"to":     task.To.Format("2006-01-02"),
	})
}
