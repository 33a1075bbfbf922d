package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"

	"github.com/use-agent/harvest/models"
)

// Batch scrapes urls with shared options. Fetching runs through the
// fetcher's worker pool ("pool") or semaphore ("async") variant; the
// remaining stages run with the same width. Cached URLs skip the fetch.
// onResult, when set, is called as each URL finishes. Results come back
// in first-seen order, one per distinct URL.
func (r *Runner) Batch(ctx context.Context, urls []string, opts models.ScrapeOptions, mode string, width int, onResult func(*models.ScrapeResult)) []*models.ScrapeResult {
	if width <= 0 {
		width = r.cfg.BatchWorkers
		if mode == models.BatchModeAsync {
			width = r.cfg.AsyncConcurrency
		}
	}
	if width <= 0 {
		width = 5
	}

	urls = dedupe(urls)
	results := make([]*models.ScrapeResult, len(urls))
	jobs := make(map[string]*scrapeJob, len(urls))
	var pending []string

	// ── 1. Prepare: templates, cache, fetch requests ──────────────────
	for i, u := range urls {
		o := opts
		j, done := r.prepare(u, &o)
		if done != nil {
			results[i] = done
			if onResult != nil {
				onResult(done)
			}
			continue
		}
		jobs[u] = j
		pending = append(pending, u)
	}
	if len(pending) == 0 {
		return results
	}

	// ── 2. Fetch ──────────────────────────────────────────────────────
	// Each URL keeps the request its own template and options produced.
	build := func(u string) *models.FetchRequest { return jobs[u].freq }
	var fetched map[string]*models.FetchResult
	if mode == models.BatchModeAsync {
		fetched = r.fetcher.AsyncBatchFetch(ctx, pending, width, build)
	} else {
		fetched = r.fetcher.BatchFetch(ctx, pending, width, build)
	}

	// ── 3. Finish each URL ────────────────────────────────────────────
	var g errgroup.Group
	g.SetLimit(width)
	for i, u := range urls {
		j, ok := jobs[u]
		if !ok {
			continue
		}
		g.Go(func() error {
			fr := fetched[u]
			if fr == nil {
				fr = models.Failed(u, models.MethodStatic,
					models.NewScrapeError(models.ErrCodeInternal, "batch produced no fetch result", nil), 0)
			}
			res := r.finish(ctx, j, fr)
			results[i] = res
			if onResult != nil {
				onResult(res)
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func dedupe(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

// maxBatchJobs bounds how many jobs are kept for polling.
const maxBatchJobs = 10000

// Batches runs batch scrapes in the background and keeps their jobs
// queryable for a retention period.
type Batches struct {
	runner *Runner
	ctx    context.Context
	jobs   *expirable.LRU[string, *models.BatchJob]
	wg     sync.WaitGroup
}

// NewBatches creates a job store. Jobs run under ctx, so canceling it
// stops outstanding batches at their next suspension point.
func NewBatches(ctx context.Context, runner *Runner, retention time.Duration) *Batches {
	if retention <= 0 {
		retention = time.Hour
	}
	return &Batches{
		runner: runner,
		ctx:    ctx,
		jobs:   expirable.NewLRU[string, *models.BatchJob](maxBatchJobs, nil, retention),
	}
}

// Submit starts req in the background and returns its job.
func (b *Batches) Submit(req *models.BatchRequest) *models.BatchJob {
	urls := dedupe(req.URLs)
	job := models.NewBatchJob("batch-"+uuid.NewString(), len(urls))
	b.jobs.Add(job.ID, job)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.runner.Batch(b.ctx, urls, req.Options, req.Mode, req.Concurrency, job.Add)
		job.Finish()
		st := job.Status()
		slog.Info("pipeline: batch finished",
			"id", job.ID, "status", st.Status, "failed", st.Failed, "total", st.Total)
	}()
	return job
}

// Get looks up a job.
func (b *Batches) Get(id string) (*models.BatchJob, bool) {
	return b.jobs.Get(id)
}

// Wait blocks until every submitted batch has finished.
func (b *Batches) Wait() { b.wg.Wait() }
