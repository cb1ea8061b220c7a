package handlers

import (
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/your-org/lookout/internal/gallery"
	"github.com/your-org/lookout/pkg/dto"
)

const maxPhotoSize = 10 << 20

type GalleryHandler struct {
	svc *gallery.Service
}

func NewGalleryHandler(svc *gallery.Service) *GalleryHandler {
	return &GalleryHandler{svc: svc}
}

// Create accepts a multipart form with profile fields and one or more
// "photos" files.
func (h *GalleryHandler) Create(c *gin.Context) {
	var form dto.CreateEntryForm
	if err := c.ShouldBind(&form); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	mf, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart form required"})
		return
	}
	files := append(mf.File["photos"], mf.File["photos[]"]...)

	photos := make([]gallery.Photo, 0, len(files))
	for _, fh := range files {
		p, err := readPhoto(fh)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		photos = append(photos, p)
	}

	in := gallery.NewEntry{
		Name:        form.Name,
		Description: form.Description,
		ContactInfo: form.ContactInfo,
		Photos:      photos,
	}
	if s := strings.TrimSpace(form.Age); s != "" {
		if age, err := strconv.Atoi(s); err == nil {
			in.Age = &age
		}
	}

	res, err := h.svc.Add(c.Request.Context(), in)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, dto.CreateEntryResponse{
		Entry:    dto.NewEntrySummary(*res.Entry),
		Warnings: res.Warnings,
	})
}

func readPhoto(fh *multipart.FileHeader) (gallery.Photo, error) {
	if fh.Size > maxPhotoSize {
		return gallery.Photo{}, &gallery.ValidationError{Field: "photos", Message: fh.Filename + " is larger than 10MB"}
	}
	f, err := fh.Open()
	if err != nil {
		return gallery.Photo{}, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxPhotoSize+1))
	if err != nil {
		return gallery.Photo{}, err
	}
	return gallery.Photo{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

func (h *GalleryHandler) List(c *gin.Context) {
	entries, err := h.svc.Search(c.Request.Context(), c.Query("q"))
	if err != nil {
		respondError(c, err)
		return
	}

	resp := make([]dto.EntrySummary, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, dto.NewEntrySummary(e))
	}
	c.JSON(http.StatusOK, dto.EntryListResponse{Entries: resp, Total: len(resp)})
}

func (h *GalleryHandler) Get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	entry, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	if entry == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "gallery entry not found"})
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (h *GalleryHandler) Update(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req dto.UpdateEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entry, err := h.svc.Update(c.Request.Context(), id, gallery.Changes{
		Name:        req.Name,
		Age:         req.Age,
		Description: req.Description,
		ContactInfo: req.ContactInfo,
		Status:      req.Status,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	if entry == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "gallery entry not found"})
		return
	}
	c.JSON(http.StatusOK, dto.NewEntrySummary(*entry))
}

func (h *GalleryHandler) Delete(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.svc.Delete(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *GalleryHandler) Detections(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	events, err := h.svc.Detections(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.DetectionListResponse{Detections: events, Total: len(events)})
}
