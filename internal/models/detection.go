package models

import (
	"math"
	"time"
)

const DetectionStatusNew = "new"

// DetectionEvent records one camera frame that matched a gallery entry and
// passed the liveness check. PersonName is a copy of the entry's name at
// detection time, not a reference: deleting or renaming the entry leaves
// its events untouched.
type DetectionEvent struct {
	ID          int64      `json:"id,omitempty"`
	PersonName  string     `json:"personName"`
	Confidence  float64    `json:"confidence"`
	Timestamp   time.Time  `json:"timestamp"`
	Image       string     `json:"image"` // data URL of the padded face crop
	Location    *Location  `json:"location"`
	DeviceInfo  DeviceInfo `json:"deviceInfo"`
	Status      string     `json:"status"`
	SnapshotKey string     `json:"snapshotKey,omitempty"` // archive object key, if archived
}

type Location struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy"`
	Timestamp time.Time `json:"timestamp"`
}

// DeviceInfo is a snapshot of the capturing host at detection time.
type DeviceInfo struct {
	UserAgent        string    `json:"userAgent"`
	Platform         string    `json:"platform"`
	Hostname         string    `json:"hostname,omitempty"`
	Source           string    `json:"source,omitempty"`
	ScreenResolution string    `json:"screenResolution"`
	Timestamp        time.Time `json:"timestamp"`
}

// RoundConfidence rounds c to two decimal places.
func RoundConfidence(c float64) float64 {
	return math.Round(c*100) / 100
}
