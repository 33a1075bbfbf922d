package fetcher

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/use-agent/harvest/models"
)

// RequestFunc builds the request for one batch URL. A nil RequestFunc, or
// a nil request, fetches with defaults. Returned requests are cloned.
type RequestFunc func(rawURL string) *models.FetchRequest

// Shared fetches every URL with tmpl's settings.
func Shared(tmpl *models.FetchRequest) RequestFunc {
	return func(string) *models.FetchRequest { return tmpl }
}

// BatchFetch fetches every URL through a fixed-width worker pool. Each URL
// gets its own request from build. Duplicate URLs are fetched once. A
// failure never stops the batch; every URL maps to exactly one result.
func (f *Fetcher) BatchFetch(ctx context.Context, urls []string, workers int, build RequestFunc) map[string]*models.FetchResult {
	if workers <= 0 {
		workers = f.cfg.BatchWorkers
	}
	if workers <= 0 {
		workers = 5
	}
	unique := dedupe(urls)
	results := make(map[string]*models.FetchResult, len(unique))
	var mu sync.Mutex

	jobs := make(chan string)
	var wg sync.WaitGroup
	for w := 0; w < min(workers, len(unique)); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for u := range jobs {
				res := f.fetchOne(ctx, u, build)
				mu.Lock()
				results[u] = res
				mu.Unlock()
			}
		}()
	}
	for _, u := range unique {
		jobs <- u
	}
	close(jobs)
	wg.Wait()
	return results
}

// AsyncBatchFetch starts one goroutine per URL and bounds how many fetch
// at once with a weighted semaphore. URLs still waiting when ctx ends get
// a failed result.
func (f *Fetcher) AsyncBatchFetch(ctx context.Context, urls []string, concurrency int, build RequestFunc) map[string]*models.FetchResult {
	if concurrency <= 0 {
		concurrency = f.cfg.AsyncConcurrency
	}
	if concurrency <= 0 {
		concurrency = 10
	}
	unique := dedupe(urls)
	results := make(map[string]*models.FetchResult, len(unique))
	var mu sync.Mutex
	sem := semaphore.NewWeighted(int64(concurrency))

	var wg sync.WaitGroup
	for _, u := range unique {
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			var res *models.FetchResult
			if err := sem.Acquire(ctx, 1); err != nil {
				res = models.Failed(u, models.MethodStatic,
					models.NewScrapeError(models.ErrCodeTimeout, "batch canceled before fetch started", err), 0)
			} else {
				res = f.fetchOne(ctx, u, build)
				sem.Release(1)
			}
			mu.Lock()
			results[u] = res
			mu.Unlock()
		}(u)
	}
	wg.Wait()
	return results
}

func (f *Fetcher) fetchOne(ctx context.Context, rawURL string, build RequestFunc) *models.FetchResult {
	var req *models.FetchRequest
	if build != nil {
		req = build(rawURL)
	}
	if req != nil {
		req = req.Clone()
	} else {
		req = &models.FetchRequest{}
	}
	req.URL = rawURL
	return f.Fetch(ctx, req)
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
