package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/harvest/models"
	"github.com/use-agent/harvest/pipeline"
)

// PostBatch returns a handler for POST /api/v1/batch/scrape. It validates
// the request, starts the job in the background and answers at once.
func PostBatch(batches *pipeline.Batches) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.BatchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		job := batches.Submit(&req)
		st := job.Status()
		c.JSON(http.StatusAccepted, models.BatchResponse{ID: st.ID, Status: st.Status, Total: st.Total})
	}
}

// GetBatch returns a handler for GET /api/v1/batch/:id.
func GetBatch(batches *pipeline.Batches) gin.HandlerFunc {
	return func(c *gin.Context) {
		job, ok := batches.Get(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, models.ErrorResponse{
				Error: &models.ErrorDetail{Code: models.ErrCodeNotFound, Message: "batch job not found"},
			})
			return
		}
		c.JSON(http.StatusOK, job.Status())
	}
}
