package main

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/use-agent/harvest/models"
)

// pollInterval is the delay between batch status checks.
const pollInterval = 2 * time.Second

// apiClient talks to a running harvest server.
type apiClient struct {
	http *resty.Client
	poll time.Duration
}

func newAPIClient(baseURL, apiKey string, timeout time.Duration) *apiClient {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "harvest-mcp/"+version)
	if apiKey != "" {
		c.SetHeader("X-API-Key", apiKey)
	}
	return &apiClient{http: c, poll: pollInterval}
}

// post sends payload to path and decodes the body into out, for both
// success and error statuses. The server reports failures in the body.
func (c *apiClient) post(ctx context.Context, path string, payload, out any) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(payload).
		SetResult(out).
		SetError(out).
		Post(path)
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	if resp.StatusCode() == 401 || resp.StatusCode() == 429 {
		return fmt.Errorf("POST %s: %s", path, resp.Status())
	}
	return nil
}

// waitBatch polls the batch endpoint until the job leaves the processing
// state or ctx is done.
func (c *apiClient) waitBatch(ctx context.Context, id string) (*models.BatchStatusResponse, error) {
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			var st models.BatchStatusResponse
			resp, err := c.http.R().
				SetContext(ctx).
				SetResult(&st).
				Get("/api/v1/batch/" + id)
			if err != nil {
				return nil, fmt.Errorf("poll batch %s: %w", id, err)
			}
			if resp.IsError() {
				return nil, fmt.Errorf("poll batch %s: %s", id, resp.Status())
			}
			if st.Status != models.BatchProcessing {
				return &st, nil
			}
		}
	}
}
