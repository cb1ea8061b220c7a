package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/your-org/lookout/internal/models"
)

// SchemaVersion is the current record schema version.
// v1: gallery entries and detection events. v2: settings.
const SchemaVersion = 2

// Engine is a concrete persistence backend. Implementations return
// (nil, nil) for single-record lookups that find nothing.
type Engine interface {
	InsertGalleryEntry(ctx context.Context, entry *models.GalleryEntry) (int64, error)
	PutGalleryEntry(ctx context.Context, entry *models.GalleryEntry) (int64, error)
	GalleryEntries(ctx context.Context) ([]models.GalleryEntry, error)
	GalleryEntry(ctx context.Context, id int64) (*models.GalleryEntry, error)
	DeleteGalleryEntry(ctx context.Context, id int64) error

	InsertDetectionEvent(ctx context.Context, ev *models.DetectionEvent) (int64, error)
	DetectionEvents(ctx context.Context) ([]models.DetectionEvent, error)
	DetectionEventsByPerson(ctx context.Context, name string) ([]models.DetectionEvent, error)
	ClearDetectionEvents(ctx context.Context) error

	Setting(ctx context.Context, key string) (json.RawMessage, error)
	PutSetting(ctx context.Context, key string, value json.RawMessage) error

	Version(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
	Close() error
}

// Opener opens an Engine, running schema upgrades as needed.
type Opener func(ctx context.Context) (Engine, error)

// encodeEntry marshals the entry document without its identifier,
// which lives in the key column.
func encodeEntry(e *models.GalleryEntry) ([]byte, error) {
	doc := *e
	doc.ID = 0
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode gallery entry: %w", err)
	}
	return data, nil
}

func decodeEntry(id int64, data []byte) (models.GalleryEntry, error) {
	var e models.GalleryEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return e, fmt.Errorf("decode gallery entry %d: %w", id, err)
	}
	e.ID = id
	return e, nil
}

func encodeEvent(ev *models.DetectionEvent) ([]byte, error) {
	doc := *ev
	doc.ID = 0
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode detection event: %w", err)
	}
	return data, nil
}

func decodeEvent(id int64, data []byte) (models.DetectionEvent, error) {
	var ev models.DetectionEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, fmt.Errorf("decode detection event %d: %w", id, err)
	}
	ev.ID = id
	return ev, nil
}
