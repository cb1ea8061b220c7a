package models

import "time"

// ExportDateLayout matches the millisecond ISO-8601 form used in export files.
const ExportDateLayout = "2006-01-02T15:04:05.000Z07:00"

// Snapshot is the export/import document.
type Snapshot struct {
	MissingPersons []GalleryEntry   `json:"missingPersons"`
	Detections     []DetectionEvent `json:"detections"`
	ExportDate     string           `json:"exportDate"`
	Version        int              `json:"version"`
}

// FormatExportDate renders t in UTC using ExportDateLayout.
func FormatExportDate(t time.Time) string {
	return t.UTC().Format(ExportDateLayout)
}

// Setting keys stored in the settings collection.
const (
	SettingMatchThreshold  = "matchThreshold"
	SettingLivenessEnabled = "livenessEnabled"
)
