// Package gallery manages missing person profiles: validation, descriptor
// extraction from photos, and change notification.
package gallery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/your-org/lookout/internal/models"
	"github.com/your-org/lookout/internal/recognition"
	"github.com/your-org/lookout/internal/store"
)

// ErrNotFound is returned by lookups keyed on an entry that does not exist.
var ErrNotFound = errors.New("gallery entry not found")

// Store is the subset of the record store the gallery uses.
type Store interface {
	AddGalleryEntry(ctx context.Context, entry *models.GalleryEntry) (int64, error)
	GetAllGalleryEntries(ctx context.Context) ([]models.GalleryEntry, error)
	GetGalleryEntry(ctx context.Context, id int64) (*models.GalleryEntry, error)
	UpdateGalleryEntry(ctx context.Context, entry *models.GalleryEntry) (int64, error)
	DeleteGalleryEntry(ctx context.Context, id int64) error
	GetDetectionEventsByPersonName(ctx context.Context, name string) ([]models.DetectionEvent, error)
	ExportAll(ctx context.Context) (*models.Snapshot, error)
	ImportAll(ctx context.Context, snap *models.Snapshot) (store.ImportResult, error)
}

type Notifier interface {
	GalleryChanged(ctx context.Context) error
}

// Photo is one uploaded image.
type Photo struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type" validate:"image_type"`
	Data        []byte `json:"data" validate:"min=1"`
}

type NewEntry struct {
	Name        string  `json:"name" validate:"required,max=200"`
	Age         *int    `json:"age" validate:"omitempty,min=0,max=150"`
	Description string  `json:"description" validate:"max=5000"`
	ContactInfo string  `json:"contactInfo" validate:"max=1000"`
	Photos      []Photo `json:"photos" validate:"min=1,dive"`
}

// Changes holds the editable profile fields; nil fields are left as is.
type Changes struct {
	Name        *string `json:"name" validate:"omitempty,min=1,max=200"`
	Age         *int    `json:"age" validate:"omitempty,min=0,max=150"`
	Description *string `json:"description" validate:"omitempty,max=5000"`
	ContactInfo *string `json:"contactInfo" validate:"omitempty,max=1000"`
	Status      *string `json:"status" validate:"omitempty,oneof=active found closed"`
}

// AddResult is the stored entry plus any per-photo warnings.
type AddResult struct {
	Entry    *models.GalleryEntry `json:"entry"`
	Warnings []string             `json:"warnings,omitempty"`
}

type Service struct {
	store    Store
	analyzer recognition.Analyzer
	notifier Notifier
	now      func() time.Time
}

// New creates a Service. A nil analyzer adds entries without face data.
func New(st Store, analyzer recognition.Analyzer, notifier Notifier) *Service {
	return &Service{store: st, analyzer: analyzer, notifier: notifier, now: time.Now}
}

func (s *Service) Add(ctx context.Context, in NewEntry) (*AddResult, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	in.ContactInfo = strings.TrimSpace(in.ContactInfo)
	for i := range in.Photos {
		if in.Photos[i].ContentType == "" {
			in.Photos[i].ContentType = http.DetectContentType(in.Photos[i].Data)
		}
	}

	if in.Name == "" {
		return nil, invalid("name", "is required")
	}
	if len(in.Photos) == 0 {
		return nil, invalid("photos", "needs at least 1 item(s)")
	}
	if err := validateStruct(in); err != nil {
		return nil, err
	}

	descriptors, warnings := s.extractDescriptors(ctx, in.Photos)

	photos := make([]string, len(in.Photos))
	for i, p := range in.Photos {
		photos[i] = recognition.DataURL(p.ContentType, p.Data)
	}

	entry := &models.GalleryEntry{
		Name:        in.Name,
		Age:         in.Age,
		Description: in.Description,
		ContactInfo: in.ContactInfo,
		Descriptors: descriptors,
		Photos:      photos,
		DateAdded:   s.now().UTC(),
		Status:      models.EntryStatusActive,
	}

	id, err := s.store.AddGalleryEntry(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("add gallery entry: %w", err)
	}
	entry.ID = id

	slog.Info("gallery entry added", "id", id, "name", entry.Name, "descriptors", len(descriptors), "photos", len(photos))
	s.changed(ctx)
	return &AddResult{Entry: entry, Warnings: warnings}, nil
}

// extractDescriptors computes one descriptor per photo. A photo that cannot
// be decoded or has no face is skipped and reported as a warning.
func (s *Service) extractDescriptors(ctx context.Context, photos []Photo) ([][]float32, []string) {
	if s.analyzer == nil {
		return [][]float32{}, []string{"face analysis unavailable; entry added without face recognition data"}
	}

	descriptors := make([][]float32, 0, len(photos))
	var warnings []string
	for i, p := range photos {
		desc, err := s.describe(ctx, p)
		if err != nil {
			slog.Warn("photo skipped", "index", i+1, "filename", p.Filename, "error", err)
			warnings = append(warnings, fmt.Sprintf("photo %d: %v", i+1, err))
			continue
		}
		descriptors = append(descriptors, desc)
	}
	if len(descriptors) == 0 {
		warnings = append(warnings, "no faces detected in photos; face recognition will not work for this entry")
	}
	return descriptors, warnings
}

func (s *Service) describe(ctx context.Context, p Photo) ([]float32, error) {
	img, err := recognition.DecodeImage(p.Data)
	if err != nil {
		return nil, err
	}
	face, err := s.analyzer.DetectSingle(ctx, img)
	if err != nil {
		return nil, err
	}
	return face.Descriptor, nil
}

// Update applies c to entry id. It returns (nil, nil) when the entry does
// not exist.
func (s *Service) Update(ctx context.Context, id int64, c Changes) (*models.GalleryEntry, error) {
	if c.Name != nil {
		name := strings.TrimSpace(*c.Name)
		if name == "" {
			return nil, invalid("name", "is required")
		}
		c.Name = &name
	}
	if err := validateStruct(c); err != nil {
		return nil, err
	}

	entry, err := s.store.GetGalleryEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, nil
	}

	if c.Name != nil {
		entry.Name = *c.Name
	}
	if c.Age != nil {
		entry.Age = c.Age
	}
	if c.Description != nil {
		entry.Description = strings.TrimSpace(*c.Description)
	}
	if c.ContactInfo != nil {
		entry.ContactInfo = strings.TrimSpace(*c.ContactInfo)
	}
	if c.Status != nil {
		entry.Status = *c.Status
	}

	if _, err := s.store.UpdateGalleryEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("update gallery entry: %w", err)
	}
	s.changed(ctx)
	return entry, nil
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.store.DeleteGalleryEntry(ctx, id); err != nil {
		return fmt.Errorf("delete gallery entry: %w", err)
	}
	slog.Info("gallery entry deleted", "id", id)
	s.changed(ctx)
	return nil
}

func (s *Service) Get(ctx context.Context, id int64) (*models.GalleryEntry, error) {
	return s.store.GetGalleryEntry(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]models.GalleryEntry, error) {
	return s.store.GetAllGalleryEntries(ctx)
}

// Search returns entries whose name or description contains term, ignoring
// case. An empty term matches everything.
func (s *Service) Search(ctx context.Context, term string) ([]models.GalleryEntry, error) {
	entries, err := s.store.GetAllGalleryEntries(ctx)
	if err != nil {
		return nil, err
	}
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return entries, nil
	}
	out := make([]models.GalleryEntry, 0, len(entries))
	for _, e := range entries {
		if strings.Contains(strings.ToLower(e.Name), term) ||
			strings.Contains(strings.ToLower(e.Description), term) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Detections returns the events recorded under entry id's current name.
func (s *Service) Detections(ctx context.Context, id int64) ([]models.DetectionEvent, error) {
	entry, err := s.store.GetGalleryEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, ErrNotFound
	}
	return s.store.GetDetectionEventsByPersonName(ctx, entry.Name)
}

func (s *Service) Export(ctx context.Context) (*models.Snapshot, error) {
	return s.store.ExportAll(ctx)
}

// Import adds every record in snap. Records stored before a failure stay;
// the notification goes out whenever at least one entry was added.
func (s *Service) Import(ctx context.Context, snap *models.Snapshot) (store.ImportResult, error) {
	if snap == nil {
		return store.ImportResult{}, invalid("", "empty import document")
	}
	if err := checkSnapshotPhotos(snap); err != nil {
		return store.ImportResult{}, err
	}
	res, err := s.store.ImportAll(ctx, snap)
	if res.GalleryEntries > 0 {
		s.changed(ctx)
	}
	if err != nil {
		return res, fmt.Errorf("import: %w", err)
	}
	return res, nil
}

// checkSnapshotPhotos rejects a snapshot whose photos are not image data
// URLs, so a bad document is refused before anything is written.
func checkSnapshotPhotos(snap *models.Snapshot) error {
	for i, e := range snap.MissingPersons {
		for j, photo := range e.Photos {
			field := fmt.Sprintf("missingPersons[%d].photos[%d]", i, j)
			mime, _, err := recognition.ParseDataURL(photo)
			if err != nil {
				return invalid(field, "must be a base64 data URL")
			}
			if !strings.HasPrefix(mime, "image/") {
				return invalid(field, "must be an image")
			}
		}
	}
	return nil
}

func (s *Service) changed(ctx context.Context) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.GalleryChanged(ctx); err != nil {
		slog.Warn("gallery change notification failed", "error", err)
	}
}
