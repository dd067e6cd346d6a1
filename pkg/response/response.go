package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	appErrors "github.com/openroster/roster-api/pkg/errors"
)

// Envelope wraps error payloads so every failure shares one shape.
type Envelope struct {
	Error *appErrors.Error `json:"error,omitempty"`
}

// JSON sends a success payload. Token-bearing responses must never be cached
// by intermediaries, so every response carries no-store headers.
func JSON(c *gin.Context, status int, payload interface{}) {
	c.Header("Cache-Control", "no-store")
	c.Header("Pragma", "no-cache")
	c.JSON(status, payload)
}

// Created responds with HTTP 201 Created.
func Created(c *gin.Context, payload interface{}) {
	JSON(c, http.StatusCreated, payload)
}

// Error sends an error response converting the error to the common structure.
func Error(c *gin.Context, err error) {
	appErr := appErrors.FromError(err)
	c.Header("Cache-Control", "no-store")
	c.Header("Pragma", "no-cache")
	c.JSON(appErr.Status, Envelope{Error: appErr})
}

// NoContent sends a 204 response.
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
