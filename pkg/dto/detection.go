package dto

import (
	"github.com/your-org/lookout/internal/models"
)

type DetectionListResponse struct {
	Detections []models.DetectionEvent `json:"detections"`
	Total      int                     `json:"total"`
}

type UpdateDetectorRequest struct {
	Threshold       *float64 `json:"threshold" binding:"omitempty,gt=0,lt=1"`
	LivenessEnabled *bool    `json:"liveness_enabled"`
}

type ImportResponse struct {
	GalleryEntries  int    `json:"gallery_entries"`
	DetectionEvents int    `json:"detection_events"`
	Error           string `json:"error,omitempty"`
}

// WS message types.
const (
	WSTypeDetection      = "missing_person_detected"
	WSTypeGalleryChanged = "gallery_changed"
)

// WSEvent is a WebSocket message for real-time alert delivery.
type WSEvent struct {
	Type      string                 `json:"type"`
	Detection *models.DetectionEvent `json:"detection,omitempty"`
}
