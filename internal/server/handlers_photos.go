package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/tender/internal/catalog"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const photoCacheControl = "public, max-age=86400"

// handlePhoto relays a venue photo so the provider key never reaches the browser.
func (h *httpHandler) handlePhoto(c *gin.Context) {
	reference := strings.TrimSpace(c.Param("reference"))
	if h.photos == nil || reference == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "photo_not_found"})
		return
	}

	photo, err := h.photos.Photo(c.Request.Context(), reference)
	if err != nil {
		if errors.Is(err, catalog.ErrPhotoNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "photo_not_found"})
			return
		}
		h.logger.Warn("photo relay failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "photo_unavailable"})
		return
	}
	defer photo.Body.Close()

	c.DataFromReader(http.StatusOK, photo.Size, photo.ContentType, photo.Body, map[string]string{
		"Cache-Control": photoCacheControl,
	})
}
