// Package middleware holds the gin middleware chain: tenant resolution,
// session authentication, guards and request telemetry.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/askeywa/Immigration-V2-sub004/internal/apperr"
)

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Error apperr.Code `json:"error"`
}

// AbortWithError aborts the request with the error's status and {"error": CODE}
// and adds the error to the gin context for access logging. Errors without a
// code are reported as INTERNAL.
func AbortWithError(c *gin.Context, err error) {
	ae := apperr.From(err)
	_ = c.Error(err)
	if ae.Retryable() && ae.HTTPStatus() == http.StatusServiceUnavailable {
		c.Header("Retry-After", "1")
	}
	c.AbortWithStatusJSON(ae.HTTPStatus(), ErrorResponse{Error: ae.Code})
}
