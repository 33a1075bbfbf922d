package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/harvest/models"
)

// badRequest writes a 400 for a request that failed binding.
func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, models.ErrorResponse{
		Error: &models.ErrorDetail{Code: models.ErrCodeInvalidInput, Message: err.Error()},
	})
}

// statusFor picks the HTTP status for a result error.
func statusFor(detail *models.ErrorDetail) int {
	if detail == nil {
		return http.StatusOK
	}
	return mapErrorToStatus(detail.Code)
}

// mapErrorToStatus translates error codes to HTTP status codes.
func mapErrorToStatus(code string) int {
	switch code {
	case models.ErrCodeTimeout:
		return http.StatusGatewayTimeout // 504
	case models.ErrCodeNavigation, models.ErrCodeTransport, models.ErrCodeHTTPStatus, models.ErrCodeBrowser:
		return http.StatusBadGateway // 502
	case models.ErrCodeInvalidInput:
		return http.StatusBadRequest // 400
	case models.ErrCodeNotFound:
		return http.StatusNotFound // 404
	case models.ErrCodeParse, models.ErrCodeExtraction:
		return http.StatusUnprocessableEntity // 422
	case models.ErrCodeRateLimited:
		return http.StatusTooManyRequests // 429
	case models.ErrCodeUnauthorized:
		return http.StatusUnauthorized // 401
	default:
		return http.StatusInternalServerError // 500
	}
}
