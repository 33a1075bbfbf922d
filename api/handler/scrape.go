package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/use-agent/harvest/models"
	"github.com/use-agent/harvest/pipeline"
)

// Scrape returns a handler for POST /api/v1/scrape.
//
// Orchestration flow lives in pipeline.Runner.Scrape:
//  1. Template and data type resolution, cache lookup.
//  2. Fetch with retry, escalation and re-dispatch.
//  3. Extract, transform, optional sink.
//
// The response status follows the error code of a failed result.
func Scrape(runner *pipeline.Runner) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.ScrapeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		res := runner.Scrape(c.Request.Context(), &req)
		c.JSON(statusFor(res.Error), res)
	}
}

// Fetch returns a handler for POST /api/v1/fetch. It runs the fetch stage
// alone and returns the page content with routing details.
func Fetch(runner *pipeline.Runner) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.ScrapeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		resp := models.NewFetchResponse(runner.Fetch(c.Request.Context(), &req))
		c.JSON(statusFor(resp.Error), resp)
	}
}

// Extract returns a handler for POST /api/v1/extract. It runs an extractor
// over HTML supplied in the request.
func Extract(runner *pipeline.Runner) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.ExtractRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		res := runner.Extract(c.Request.Context(), &req)
		c.JSON(statusFor(res.Error), res)
	}
}
