// Package handlers implements the HTTP handlers for the CraftVault API.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/craftvault/craftvault/internal/errdefs"
)

// respondError maps a domain error to an HTTP response. Internal errors are
// logged and returned as an opaque 500.
func respondError(c *gin.Context, logger zerolog.Logger, err error) {
	status := errdefs.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		logger.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
		c.JSON(status, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
