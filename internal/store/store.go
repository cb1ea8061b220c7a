package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/your-org/lookout/internal/models"
	"github.com/your-org/lookout/internal/observability"
)

var (
	// ErrUnavailable is returned by writes when the engine could not be opened.
	ErrUnavailable = errors.New("record store unavailable")
	// ErrInitTimeout is returned, wrapped with ErrUnavailable, when the
	// engine did not finish opening in time.
	ErrInitTimeout = errors.New("record store initialization timeout")
)

type State int32

const (
	StateUninitialized State = iota
	StateOpening
	StateReady
	StateUnavailable
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateOpening:
		return "opening"
	case StateReady:
		return "ready"
	case StateUnavailable:
		return "unavailable"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

type Options struct {
	PollInterval time.Duration
	MaxAttempts  int
}

func DefaultOptions() Options {
	return Options{PollInterval: 100 * time.Millisecond, MaxAttempts: 50}
}

// Store is the record store used by the rest of the application.
//
// Reads never fail because of the engine: an unavailable or failing engine
// yields empty results. Writes report every failure. Both wait for the
// engine to finish opening, polling up to Options.MaxAttempts times.
type Store struct {
	opener Opener
	opts   Options

	state   atomic.Int32
	mu      sync.RWMutex
	engine  Engine
	openErr error
	closed  bool
}

func New(opener Opener, opts Options) *Store {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultOptions().PollInterval
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultOptions().MaxAttempts
	}
	return &Store{opener: opener, opts: opts}
}

// Open starts opening the engine in the background and returns immediately.
// Calling Open more than once has no effect.
func (s *Store) Open(ctx context.Context) {
	if !s.state.CompareAndSwap(int32(StateUninitialized), int32(StateOpening)) {
		return
	}

	go func() {
		eng, err := s.opener(ctx)
		version := 0
		if err == nil {
			if version, err = eng.Version(ctx); err != nil {
				_ = eng.Close()
				eng = nil
			}
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			if eng != nil {
				_ = eng.Close()
			}
			s.state.Store(int32(StateUnavailable))
			slog.Info("record store closed before it finished opening")
			return
		}
		s.engine = eng
		s.openErr = err
		s.mu.Unlock()

		if err != nil {
			// Unavailable still counts as initialized so callers do not block.
			slog.Error("record store initialization failed", "error", err)
			s.state.Store(int32(StateUnavailable))
			return
		}
		s.state.Store(int32(StateReady))
		slog.Info("record store opened", "schema_version", version)
	}()
}

func (s *Store) State() State {
	return State(s.state.Load())
}

// Err returns the error that made the store unavailable, if any.
func (s *Store) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.openErr
}

// Close closes the engine. An engine that finishes opening after Close is
// closed as soon as it arrives.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	eng := s.engine
	s.engine = nil
	s.mu.Unlock()

	if eng == nil {
		return nil
	}
	return eng.Close()
}

func (s *Store) initialized() bool {
	st := s.State()
	return st == StateReady || st == StateUnavailable
}

func (s *Store) waitForInit(ctx context.Context) error {
	if s.initialized() {
		return nil
	}

	for attempts := 0; attempts < s.opts.MaxAttempts; attempts++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.opts.PollInterval):
		}
		if s.initialized() {
			return nil
		}
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, ErrInitTimeout)
}

// handle waits for initialization and returns the engine, or nil when the
// store is unavailable.
func (s *Store) handle(ctx context.Context) (Engine, error) {
	if err := s.waitForInit(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine, nil
}

func (s *Store) writable(ctx context.Context) (Engine, error) {
	eng, err := s.handle(ctx)
	if err != nil {
		return nil, err
	}
	if eng == nil {
		return nil, ErrUnavailable
	}
	return eng, nil
}

func observe(op string, start time.Time) {
	observability.StoreOperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// --- Gallery entries ---

// AddGalleryEntry persists a new entry and returns its assigned identifier.
// Any identifier already set on entry is ignored.
func (s *Store) AddGalleryEntry(ctx context.Context, entry *models.GalleryEntry) (int64, error) {
	defer observe("add_gallery_entry", time.Now())

	eng, err := s.writable(ctx)
	if err != nil {
		return 0, err
	}
	id, err := eng.InsertGalleryEntry(ctx, entry)
	if err != nil {
		slog.Error("add gallery entry", "error", err)
		return 0, err
	}
	slog.Info("gallery entry added", "id", id, "name", entry.Name)
	return id, nil
}

// GetAllGalleryEntries returns every entry in engine order.
func (s *Store) GetAllGalleryEntries(ctx context.Context) ([]models.GalleryEntry, error) {
	defer observe("get_all_gallery_entries", time.Now())

	eng, err := s.handle(ctx)
	if err != nil {
		return []models.GalleryEntry{}, err
	}
	if eng == nil {
		return []models.GalleryEntry{}, nil
	}
	entries, err := eng.GalleryEntries(ctx)
	if err != nil {
		slog.Error("get gallery entries", "error", err)
		return []models.GalleryEntry{}, nil
	}
	return entries, nil
}

// GetGalleryEntry returns the entry or nil when it does not exist.
func (s *Store) GetGalleryEntry(ctx context.Context, id int64) (*models.GalleryEntry, error) {
	defer observe("get_gallery_entry", time.Now())

	eng, err := s.handle(ctx)
	if err != nil || eng == nil {
		return nil, err
	}
	entry, err := eng.GalleryEntry(ctx, id)
	if err != nil {
		slog.Error("get gallery entry", "id", id, "error", err)
		return nil, nil
	}
	return entry, nil
}

// UpdateGalleryEntry replaces the whole record with entry.ID, inserting it
// when absent. A zero ID inserts a new record. Returns the record's identifier.
func (s *Store) UpdateGalleryEntry(ctx context.Context, entry *models.GalleryEntry) (int64, error) {
	defer observe("update_gallery_entry", time.Now())

	eng, err := s.writable(ctx)
	if err != nil {
		return 0, err
	}
	id, err := eng.PutGalleryEntry(ctx, entry)
	if err != nil {
		slog.Error("update gallery entry", "id", entry.ID, "error", err)
		return 0, err
	}
	return id, nil
}

// DeleteGalleryEntry removes the entry. Deleting a missing id is not an error.
// Detection events recorded under the entry's name are kept.
func (s *Store) DeleteGalleryEntry(ctx context.Context, id int64) error {
	defer observe("delete_gallery_entry", time.Now())

	eng, err := s.writable(ctx)
	if err != nil {
		return err
	}
	if err := eng.DeleteGalleryEntry(ctx, id); err != nil {
		slog.Error("delete gallery entry", "id", id, "error", err)
		return err
	}
	slog.Info("gallery entry deleted", "id", id)
	return nil
}

// --- Detection events ---

// AddDetectionEvent persists the event with its confidence rounded to two
// decimals.
func (s *Store) AddDetectionEvent(ctx context.Context, ev *models.DetectionEvent) (int64, error) {
	defer observe("add_detection_event", time.Now())

	eng, err := s.writable(ctx)
	if err != nil {
		return 0, err
	}
	ev.Confidence = models.RoundConfidence(ev.Confidence)
	id, err := eng.InsertDetectionEvent(ctx, ev)
	if err != nil {
		slog.Error("save detection", "error", err)
		return 0, err
	}
	slog.Info("detection saved", "id", id, "person", ev.PersonName)
	return id, nil
}

// GetAllDetectionEvents returns all events, most recent first.
func (s *Store) GetAllDetectionEvents(ctx context.Context) ([]models.DetectionEvent, error) {
	defer observe("get_all_detection_events", time.Now())

	eng, err := s.handle(ctx)
	if err != nil {
		return []models.DetectionEvent{}, err
	}
	if eng == nil {
		return []models.DetectionEvent{}, nil
	}
	events, err := eng.DetectionEvents(ctx)
	if err != nil {
		slog.Error("get detections", "error", err)
		return []models.DetectionEvent{}, nil
	}
	sortByTimestampDesc(events)
	return events, nil
}

// GetDetectionEventsByPersonName returns events whose name equals name exactly.
func (s *Store) GetDetectionEventsByPersonName(ctx context.Context, name string) ([]models.DetectionEvent, error) {
	defer observe("get_detection_events_by_person", time.Now())

	eng, err := s.handle(ctx)
	if err != nil {
		return []models.DetectionEvent{}, err
	}
	if eng == nil {
		return []models.DetectionEvent{}, nil
	}
	events, err := eng.DetectionEventsByPerson(ctx, name)
	if err != nil {
		slog.Error("get detections by person", "person", name, "error", err)
		return []models.DetectionEvent{}, nil
	}
	return events, nil
}

func (s *Store) ClearAllDetectionEvents(ctx context.Context) error {
	defer observe("clear_detection_events", time.Now())

	eng, err := s.writable(ctx)
	if err != nil {
		return err
	}
	if err := eng.ClearDetectionEvents(ctx); err != nil {
		slog.Error("clear detections", "error", err)
		return err
	}
	slog.Info("all detections cleared")
	return nil
}

func sortByTimestampDesc(events []models.DetectionEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.After(events[j].Timestamp)
	})
}

// --- Settings ---

// GetSetting decodes the setting into dst. It reports false when the
// setting is absent or the store cannot be read.
func (s *Store) GetSetting(ctx context.Context, key string, dst any) (bool, error) {
	eng, err := s.handle(ctx)
	if err != nil || eng == nil {
		return false, err
	}
	raw, err := eng.Setting(ctx, key)
	if err != nil {
		slog.Error("get setting", "key", key, "error", err)
		return false, nil
	}
	if raw == nil {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("decode setting %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) PutSetting(ctx context.Context, key string, value any) error {
	eng, err := s.writable(ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode setting %s: %w", key, err)
	}
	if err := eng.PutSetting(ctx, key, raw); err != nil {
		slog.Error("put setting", "key", key, "error", err)
		return err
	}
	return nil
}

// --- Export / import ---

// ExportAll returns a snapshot of every entry and event.
func (s *Store) ExportAll(ctx context.Context) (*models.Snapshot, error) {
	defer observe("export_all", time.Now())

	entries, err := s.GetAllGalleryEntries(ctx)
	if err != nil {
		return nil, fmt.Errorf("export gallery entries: %w", err)
	}
	events, err := s.GetAllDetectionEvents(ctx)
	if err != nil {
		return nil, fmt.Errorf("export detections: %w", err)
	}

	return &models.Snapshot{
		MissingPersons: entries,
		Detections:     events,
		ExportDate:     models.FormatExportDate(time.Now()),
		Version:        SchemaVersion,
	}, nil
}

type ImportResult struct {
	GalleryEntries  int `json:"gallery_entries"`
	DetectionEvents int `json:"detection_events"`
}

// ImportAll inserts every record of snap as a new record, discarding the
// identifiers it carries. Importing the same snapshot twice duplicates it.
// On failure the records imported so far are kept and counted.
func (s *Store) ImportAll(ctx context.Context, snap *models.Snapshot) (ImportResult, error) {
	defer observe("import_all", time.Now())

	var res ImportResult
	for i := range snap.MissingPersons {
		entry := snap.MissingPersons[i].Clone()
		entry.ID = 0
		if _, err := s.AddGalleryEntry(ctx, &entry); err != nil {
			return res, fmt.Errorf("import gallery entry %q: %w", entry.Name, err)
		}
		res.GalleryEntries++
	}
	for i := range snap.Detections {
		ev := snap.Detections[i]
		ev.ID = 0
		if _, err := s.AddDetectionEvent(ctx, &ev); err != nil {
			return res, fmt.Errorf("import detection event: %w", err)
		}
		res.DetectionEvents++
	}

	slog.Info("data imported", "gallery_entries", res.GalleryEntries, "detections", res.DetectionEvents)
	return res, nil
}

// SchemaVersion reports the schema version recorded by the open engine.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	eng, err := s.writable(ctx)
	if err != nil {
		return 0, err
	}
	return eng.Version(ctx)
}

// Ping checks the engine. It fails when the store is not ready.
func (s *Store) Ping(ctx context.Context) error {
	switch s.State() {
	case StateReady:
	case StateUnavailable:
		return ErrUnavailable
	default:
		return fmt.Errorf("record store %s", s.State())
	}
	s.mu.RLock()
	eng := s.engine
	s.mu.RUnlock()
	if eng == nil {
		return ErrUnavailable
	}
	return eng.Ping(ctx)
}
