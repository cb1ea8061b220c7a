package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/lookout/internal/detection"
	"github.com/your-org/lookout/internal/models"
	"github.com/your-org/lookout/pkg/dto"
)

// Detector is the control surface of the detection monitor.
type Detector interface {
	Start(ctx context.Context) error
	Stop()
	Reload(ctx context.Context) error
	SetThreshold(ctx context.Context, threshold float64) error
	SetLivenessEnabled(ctx context.Context, enabled bool) error
	Status() detection.Status
	History() []models.DetectionEvent
}

type DetectorHandler struct {
	det Detector
}

func NewDetectorHandler(det Detector) *DetectorHandler {
	return &DetectorHandler{det: det}
}

func (h *DetectorHandler) status(c *gin.Context, code int) {
	c.JSON(code, gin.H{
		"status":  h.det.Status(),
		"history": h.det.History(),
	})
}

func (h *DetectorHandler) Get(c *gin.Context) {
	h.status(c, http.StatusOK)
}

func (h *DetectorHandler) Start(c *gin.Context) {
	if err := h.det.Start(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	h.status(c, http.StatusAccepted)
}

func (h *DetectorHandler) Stop(c *gin.Context) {
	h.det.Stop()
	h.status(c, http.StatusOK)
}

func (h *DetectorHandler) Update(c *gin.Context) {
	var req dto.UpdateDetectorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	if req.Threshold != nil {
		if err := h.det.SetThreshold(ctx, *req.Threshold); err != nil {
			respondError(c, err)
			return
		}
	}
	if req.LivenessEnabled != nil {
		if err := h.det.SetLivenessEnabled(ctx, *req.LivenessEnabled); err != nil {
			respondError(c, err)
			return
		}
	}
	h.status(c, http.StatusOK)
}

func (h *DetectorHandler) Reload(c *gin.Context) {
	if err := h.det.Reload(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	h.status(c, http.StatusOK)
}
