package models

import "time"

const EntryStatusActive = "active"

// GalleryEntry is one missing person profile. Descriptors may be empty for
// entries added without face data; such entries never produce a match.
type GalleryEntry struct {
	ID          int64       `json:"id,omitempty"`
	Name        string      `json:"name"`
	Age         *int        `json:"age"`
	Description string      `json:"description"`
	ContactInfo string      `json:"contactInfo"`
	Descriptors [][]float32 `json:"descriptors"`
	Photos      []string    `json:"photos"` // data URLs
	DateAdded   time.Time   `json:"dateAdded"`
	Status      string      `json:"status"`
}

// Clone returns a copy that shares no slices with e.
func (e GalleryEntry) Clone() GalleryEntry {
	c := e
	if e.Age != nil {
		age := *e.Age
		c.Age = &age
	}
	if e.Descriptors != nil {
		c.Descriptors = make([][]float32, len(e.Descriptors))
		for i, d := range e.Descriptors {
			c.Descriptors[i] = append([]float32(nil), d...)
		}
	}
	if e.Photos != nil {
		c.Photos = append([]string(nil), e.Photos...)
	}
	return c
}
