package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/your-org/lookout/internal/detection"
	"github.com/your-org/lookout/internal/gallery"
	"github.com/your-org/lookout/internal/store"
)

// statusFor maps err to an HTTP status code.
func statusFor(err error) int {
	var verr *gallery.ValidationError
	switch {
	case errors.As(err, &verr), errors.Is(err, detection.ErrInvalidThreshold):
		return http.StatusBadRequest
	case errors.Is(err, gallery.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrUnavailable), errors.Is(err, store.ErrInitTimeout):
		return http.StatusServiceUnavailable
	case errors.Is(err, detection.ErrRunning):
		return http.StatusConflict
	case errors.Is(err, detection.ErrNoSource):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes {"error": ...} with the status for err.
func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
	}

	body := gin.H{"error": err.Error()}
	var verr *gallery.ValidationError
	if errors.As(err, &verr) && verr.Field != "" {
		body["field"] = verr.Field
	}
	c.JSON(status, body)
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}
