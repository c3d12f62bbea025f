package jobreport

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"go_market_ranking/services/notify"
)

// Report accumulates the result of one background job run. Begin it at the
// start of the job, add detail lines as work completes, mark it failed on
// error, and Finalize exactly once on every exit path.
type Report struct {
	name      string
	startedAt time.Time

	mu        sync.Mutex
	details   []string
	err       error
	finalized bool
}

// Begin starts a report for the named job.
func Begin(name string) *Report {
	return &Report{name: name, startedAt: time.Now()}
}

// Addf appends a formatted detail line.
func (r *Report) Addf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.details = append(r.details, fmt.Sprintf(format, args...))
}

// Fail marks the run as failed. The first error wins.
func (r *Report) Fail(err error) {
	if err == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err == nil {
		r.err = err
	}
}

// Finalize closes the report, logs the outcome and delivers it through the
// notifier. Calls after the first are no-ops, so it is safe to defer.
func (r *Report) Finalize(ctx context.Context, notifier notify.Notifier) notify.Summary {
	r.mu.Lock()
	if r.finalized {
		r.mu.Unlock()
		return notify.Summary{}
	}
	r.finalized = true

	finishedAt := time.Now()
	summary := notify.Summary{
		Job:        r.name,
		Success:    r.err == nil,
		Details:    append([]string(nil), r.details...),
		StartedAt:  r.startedAt,
		FinishedAt: finishedAt,
		Elapsed:    finishedAt.Sub(r.startedAt).Round(time.Millisecond).String(),
	}
	if r.err != nil {
		summary.Error = r.err.Error()
	}
	r.mu.Unlock()

	if summary.Success {
		log.Printf("Job %s completed in %s", summary.Job, summary.Elapsed)
	} else {
		log.Printf("Job %s failed after %s: %s", summary.Job, summary.Elapsed, summary.Error)
	}

	if notifier != nil {
		if err := notifier.Notify(ctx, summary); err != nil {
			log.Printf("Warning: failed to deliver summary for job %s: %v", summary.Job, err)
		}
	}
	return summary
}
