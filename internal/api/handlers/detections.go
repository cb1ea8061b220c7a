package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/lookout/internal/gallery"
	"github.com/your-org/lookout/internal/models"
	"github.com/your-org/lookout/pkg/dto"
)

const maxImportSize = 256 << 20

// DetectionStore is the part of the record store the detection endpoints use.
type DetectionStore interface {
	GetAllDetectionEvents(ctx context.Context) ([]models.DetectionEvent, error)
	GetDetectionEventsByPersonName(ctx context.Context, name string) ([]models.DetectionEvent, error)
	ClearAllDetectionEvents(ctx context.Context) error
}

type SnapshotSource interface {
	GetObject(ctx context.Context, key string) ([]byte, error)
}

type DetectionHandler struct {
	store   DetectionStore
	gallery *gallery.Service
	archive SnapshotSource
}

// NewDetectionHandler creates the handler. archive may be nil.
func NewDetectionHandler(st DetectionStore, svc *gallery.Service, archive SnapshotSource) *DetectionHandler {
	return &DetectionHandler{store: st, gallery: svc, archive: archive}
}

// List returns detections newest first. "person" filters by exact name and
// "limit" caps the result.
func (h *DetectionHandler) List(c *gin.Context) {
	ctx := c.Request.Context()

	var (
		events []models.DetectionEvent
		err    error
	)
	if person := c.Query("person"); person != "" {
		events, err = h.store.GetDetectionEventsByPersonName(ctx, person)
	} else {
		events, err = h.store.GetAllDetectionEvents(ctx)
	}
	if err != nil {
		respondError(c, err)
		return
	}

	total := len(events)
	if s := c.Query("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		if limit < len(events) {
			events = events[:limit]
		}
	}

	c.JSON(http.StatusOK, dto.DetectionListResponse{Detections: events, Total: total})
}

func (h *DetectionHandler) Clear(c *gin.Context) {
	if err := h.store.ClearAllDetectionEvents(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Snapshot serves an archived still by its object key.
func (h *DetectionHandler) Snapshot(c *gin.Context) {
	if h.archive == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "snapshot archive not configured"})
		return
	}
	key := strings.TrimPrefix(c.Param("key"), "/")
	if !strings.HasPrefix(key, "snapshots/") || strings.Contains(key, "..") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid snapshot key"})
		return
	}

	data, err := h.archive.GetObject(c.Request.Context(), key)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "snapshot not found"})
		return
	}
	c.Data(http.StatusOK, "image/jpeg", data)
}

// Export downloads every gallery entry and detection as one JSON document.
func (h *DetectionHandler) Export(c *gin.Context) {
	snap, err := h.gallery.Export(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		respondError(c, err)
		return
	}
	filename := fmt.Sprintf("missing-persons-data-%s.json", time.Now().UTC().Format(time.DateOnly))
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, "application/json", data)
}

// Import accepts an export document either as the JSON body or as a
// multipart "file" upload.
func (h *DetectionHandler) Import(c *gin.Context) {
	var r io.Reader = c.Request.Body
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		fh, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file required"})
			return
		}
		f, err := fh.Open()
		if err != nil {
			respondError(c, err)
			return
		}
		defer f.Close()
		r = f
	}

	var snap models.Snapshot
	if err := json.NewDecoder(io.LimitReader(r, maxImportSize)).Decode(&snap); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid import file: " + err.Error()})
		return
	}

	res, err := h.gallery.Import(c.Request.Context(), &snap)
	resp := dto.ImportResponse{GalleryEntries: res.GalleryEntries, DetectionEvents: res.DetectionEvents}
	if err != nil {
		resp.Error = err.Error()
		c.JSON(statusFor(err), resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}
