package dto

import (
	"time"

	"github.com/your-org/lookout/internal/models"
)

// CreateEntryForm is the multipart form of POST /v1/gallery. Photos arrive
// as repeated "photos" file parts.
type CreateEntryForm struct {
	Name        string `form:"name" binding:"required"`
	Age         string `form:"age"`
	Description string `form:"description"`
	ContactInfo string `form:"contact_info"`
}

type UpdateEntryRequest struct {
	Name        *string `json:"name"`
	Age         *int    `json:"age" binding:"omitempty,min=0"`
	Description *string `json:"description"`
	ContactInfo *string `json:"contact_info"`
	Status      *string `json:"status" binding:"omitempty,oneof=active found closed"`
}

// EntrySummary is the list form of a gallery entry, without descriptors
// and with only the first photo.
type EntrySummary struct {
	ID              int64     `json:"id"`
	Name            string    `json:"name"`
	Age             *int      `json:"age"`
	Description     string    `json:"description"`
	ContactInfo     string    `json:"contact_info"`
	Thumbnail       string    `json:"thumbnail,omitempty"`
	PhotoCount      int       `json:"photo_count"`
	DescriptorCount int       `json:"descriptor_count"`
	DateAdded       time.Time `json:"date_added"`
	Status          string    `json:"status"`
}

func NewEntrySummary(e models.GalleryEntry) EntrySummary {
	s := EntrySummary{
		ID:              e.ID,
		Name:            e.Name,
		Age:             e.Age,
		Description:     e.Description,
		ContactInfo:     e.ContactInfo,
		PhotoCount:      len(e.Photos),
		DescriptorCount: len(e.Descriptors),
		DateAdded:       e.DateAdded,
		Status:          e.Status,
	}
	if len(e.Photos) > 0 {
		s.Thumbnail = e.Photos[0]
	}
	return s
}

type EntryListResponse struct {
	Entries []EntrySummary `json:"entries"`
	Total   int            `json:"total"`
}

type CreateEntryResponse struct {
	Entry    EntrySummary `json:"entry"`
	Warnings []string     `json:"warnings,omitempty"`
}
