package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/harvest/models"
	"github.com/use-agent/harvest/pipeline"
	"github.com/use-agent/harvest/transform"
)

// Classify returns a handler for POST /api/v1/classify.
func Classify(runner *pipeline.Runner) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.ClassifyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		c.JSON(http.StatusOK, runner.Classify(c.Request.Context(), req.URL, req.Content))
	}
}

// Transform returns a handler for POST /api/v1/transform.
func Transform() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.TransformRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		opts := transform.DefaultOptions()
		if req.Options != nil {
			opts = *req.Options
		}
		c.JSON(http.StatusOK, models.TransformResponse{Record: transform.Record(req.Record, opts)})
	}
}
