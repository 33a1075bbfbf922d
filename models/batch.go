package models

import (
	"sync"
	"time"
)

// Batch fetch modes.
const (
	BatchModePool  = "pool"
	BatchModeAsync = "async"
)

// Batch job statuses.
const (
	BatchProcessing = "processing"
	BatchCompleted  = "completed"
	BatchPartial    = "partial"
	BatchFailed     = "failed"
)

// BatchRequest is the payload for POST /api/v1/batch/scrape.
type BatchRequest struct {
	// URLs is the list of target pages. Duplicates are scraped once.
	URLs []string `json:"urls" binding:"required,min=1,max=100,dive,url"`

	// Options are shared by every URL in the batch.
	Options ScrapeOptions `json:"options"`

	// Mode is "pool" (fixed worker pool) or "async" (semaphore). Default: "pool".
	Mode string `json:"mode,omitempty" binding:"omitempty,oneof=pool async"`

	// Concurrency overrides the configured width of the chosen mode.
	Concurrency int `json:"concurrency,omitempty" binding:"omitempty,min=1,max=50"`
}

// BatchResponse is the immediate response for POST /api/v1/batch/scrape.
type BatchResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Total  int    `json:"total"`
}

// BatchStatusResponse is the response for GET /api/v1/batch/:id.
type BatchStatusResponse struct {
	ID        string          `json:"id"`
	Status    string          `json:"status"`
	Completed int             `json:"completed"`
	Failed    int             `json:"failed"`
	Total     int             `json:"total"`
	Results   []*ScrapeResult `json:"results,omitempty"`
}

// BatchJob tracks a batch scrape. It is updated by the batch runner while
// readers poll it, so all access goes through its methods.
type BatchJob struct {
	ID        string
	CreatedAt time.Time

	mu        sync.RWMutex
	status    string
	total     int
	completed int
	failed    int
	results   []*ScrapeResult
}

// NewBatchJob creates a job in the processing state.
func NewBatchJob(id string, total int) *BatchJob {
	return &BatchJob{ID: id, CreatedAt: time.Now(), status: BatchProcessing, total: total}
}

// Add records one finished result.
func (j *BatchJob) Add(r *ScrapeResult) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.results = append(j.results, r)
	j.completed++
	if !r.Success {
		j.failed++
	}
}

// Finish sets the terminal status from the success and failure counts.
func (j *BatchJob) Finish() {
	j.mu.Lock()
	defer j.mu.Unlock()
	switch {
	case j.total > 0 && j.failed == j.total:
		j.status = BatchFailed
	case j.failed > 0:
		j.status = BatchPartial
	default:
		j.status = BatchCompleted
	}
}

// Status returns a snapshot of the job.
func (j *BatchJob) Status() BatchStatusResponse {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return BatchStatusResponse{
		ID:        j.ID,
		Status:    j.status,
		Completed: j.completed,
		Failed:    j.failed,
		Total:     j.total,
		Results:   append([]*ScrapeResult(nil), j.results...),
	}
}
