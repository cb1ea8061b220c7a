package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/your-org/lookout/internal/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lookout.db")
	s := New(SQLiteOpener(path), Options{PollInterval: 5 * time.Millisecond, MaxAttempts: 200})
	s.Open(context.Background())
	t.Cleanup(func() { s.Close() })

	if err := s.waitForInit(context.Background()); err != nil {
		t.Fatalf("store did not open: %v", err)
	}
	if s.State() != StateReady {
		t.Fatalf("state = %s, err = %v", s.State(), s.Err())
	}
	return s
}

func sampleEntry(name string) *models.GalleryEntry {
	age := 34
	return &models.GalleryEntry{
		Name:        name,
		Age:         &age,
		Description: "last seen near the station",
		ContactInfo: "555-0100",
		Descriptors: [][]float32{{0.1, 0.2, 0.3}},
		Photos:      []string{"data:image/jpeg;base64,AAAA"},
		DateAdded:   time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Status:      models.EntryStatusActive,
	}
}

func sampleEvent(name string, ts time.Time) *models.DetectionEvent {
	return &models.DetectionEvent{
		PersonName: name,
		Confidence: 0.87,
		Timestamp:  ts,
		Image:      "data:image/jpeg;base64,BBBB",
		DeviceInfo: models.DeviceInfo{UserAgent: "lookout/test", Platform: "linux/amd64", Timestamp: ts},
		Status:     models.DetectionStatusNew,
	}
}

func TestGalleryEntryLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	id, err := s.AddGalleryEntry(ctx, sampleEntry("Jane Doe"))
	if err != nil {
		t.Fatalf("AddGalleryEntry: %v", err)
	}
	if id == 0 {
		t.Fatal("expected non-zero id")
	}

	got, err := s.GetGalleryEntry(ctx, id)
	if err != nil {
		t.Fatalf("GetGalleryEntry: %v", err)
	}
	if got == nil {
		t.Fatal("entry not found")
	}
	if got.ID != id || got.Name != "Jane Doe" || *got.Age != 34 {
		t.Errorf("unexpected entry: %+v", got)
	}
	if len(got.Descriptors) != 1 || len(got.Descriptors[0]) != 3 {
		t.Errorf("descriptors not preserved: %v", got.Descriptors)
	}
	if !got.DateAdded.Equal(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("DateAdded = %v", got.DateAdded)
	}

	got.Description = "updated"
	got.Descriptors = nil
	if _, err := s.UpdateGalleryEntry(ctx, got); err != nil {
		t.Fatalf("UpdateGalleryEntry: %v", err)
	}
	updated, _ := s.GetGalleryEntry(ctx, id)
	if updated.Description != "updated" || len(updated.Descriptors) != 0 {
		t.Errorf("update did not replace the record: %+v", updated)
	}

	if err := s.DeleteGalleryEntry(ctx, id); err != nil {
		t.Fatalf("DeleteGalleryEntry: %v", err)
	}
	missing, err := s.GetGalleryEntry(ctx, id)
	if err != nil || missing != nil {
		t.Errorf("expected (nil, nil) after delete, got (%v, %v)", missing, err)
	}
}

func TestUpdateGalleryEntryInsertsWhenAbsent(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	e := sampleEntry("Upserted")
	e.ID = 42
	id, err := s.UpdateGalleryEntry(ctx, e)
	if err != nil {
		t.Fatalf("UpdateGalleryEntry: %v", err)
	}
	if id != 42 {
		t.Errorf("id = %d, want 42", id)
	}

	next, err := s.AddGalleryEntry(ctx, sampleEntry("Next"))
	if err != nil {
		t.Fatalf("AddGalleryEntry: %v", err)
	}
	if next <= 42 {
		t.Errorf("new id %d should follow explicit id 42", next)
	}
}

func TestDeleteMissingGalleryEntry(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if _, err := s.AddGalleryEntry(ctx, sampleEntry("Kept")); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteGalleryEntry(ctx, 9999); err != nil {
		t.Fatalf("delete of missing id failed: %v", err)
	}
	entries, _ := s.GetAllGalleryEntries(ctx)
	if len(entries) != 1 {
		t.Errorf("entries = %d, want 1", len(entries))
	}
}

func TestEntryWithoutDescriptors(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	e := &models.GalleryEntry{
		Name:        "Jane Doe",
		Photos:      []string{"data:image/jpeg;base64,AAAA"},
		Descriptors: [][]float32{},
		DateAdded:   time.Now(),
		Status:      models.EntryStatusActive,
	}
	if _, err := s.AddGalleryEntry(ctx, e); err != nil {
		t.Fatalf("AddGalleryEntry: %v", err)
	}

	entries, err := s.GetAllGalleryEntries(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name != "Jane Doe" || len(entries[0].Descriptors) != 0 {
		t.Errorf("unexpected entries: %+v", entries)
	}
}

func TestDetectionEventsSortedDescending(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	t1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	t3 := time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC)
	for _, ts := range []time.Time{t1, t2, t3} {
		if _, err := s.AddDetectionEvent(ctx, sampleEvent("Alice", ts)); err != nil {
			t.Fatalf("AddDetectionEvent: %v", err)
		}
	}

	events, err := s.GetAllDetectionEvents(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := []time.Time{t2, t1, t3}
	if len(events) != len(want) {
		t.Fatalf("events = %d, want %d", len(events), len(want))
	}
	for i, ts := range want {
		if !events[i].Timestamp.Equal(ts) {
			t.Errorf("events[%d].Timestamp = %v, want %v", i, events[i].Timestamp, ts)
		}
	}
}

func TestDetectionEventsByPersonNameExact(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	now := time.Now()
	for _, name := range []string{"Alice", "alice", "Alice ", "Alice", "Bob"} {
		if _, err := s.AddDetectionEvent(ctx, sampleEvent(name, now)); err != nil {
			t.Fatal(err)
		}
	}

	events, err := s.GetDetectionEventsByPersonName(ctx, "Alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	for _, ev := range events {
		if ev.PersonName != "Alice" {
			t.Errorf("unexpected name %q", ev.PersonName)
		}
	}
}

func TestClearAllDetectionEvents(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	for i := 0; i < 3; i++ {
		if _, err := s.AddDetectionEvent(ctx, sampleEvent("Alice", time.Now())); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.ClearAllDetectionEvents(ctx); err != nil {
		t.Fatalf("ClearAllDetectionEvents: %v", err)
	}
	events, _ := s.GetAllDetectionEvents(ctx)
	if len(events) != 0 {
		t.Errorf("events = %d after clear", len(events))
	}
}

func TestDeleteEntryKeepsDetectionEvents(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	id, _ := s.AddGalleryEntry(ctx, sampleEntry("Alice"))
	if _, err := s.AddDetectionEvent(ctx, sampleEvent("Alice", time.Now())); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteGalleryEntry(ctx, id); err != nil {
		t.Fatal(err)
	}
	events, _ := s.GetDetectionEventsByPersonName(ctx, "Alice")
	if len(events) != 1 {
		t.Errorf("events = %d, want 1 orphaned event", len(events))
	}
}

func TestExportImportDuplicates(t *testing.T) {
	ctx := context.Background()
	src := openTestStore(t)

	src.AddGalleryEntry(ctx, sampleEntry("Alice"))
	src.AddGalleryEntry(ctx, sampleEntry("Bob"))
	src.AddDetectionEvent(ctx, sampleEvent("Alice", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))

	snap, err := src.ExportAll(ctx)
	if err != nil {
		t.Fatalf("ExportAll: %v", err)
	}
	if snap.Version != SchemaVersion {
		t.Errorf("Version = %d, want %d", snap.Version, SchemaVersion)
	}
	if _, err := time.Parse(models.ExportDateLayout, snap.ExportDate); err != nil {
		t.Errorf("ExportDate %q: %v", snap.ExportDate, err)
	}

	dst := openTestStore(t)
	for round := 0; round < 2; round++ {
		res, err := dst.ImportAll(ctx, snap)
		if err != nil {
			t.Fatalf("ImportAll: %v", err)
		}
		if res.GalleryEntries != 2 || res.DetectionEvents != 1 {
			t.Errorf("ImportResult = %+v", res)
		}
	}

	again, err := dst.ExportAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(again.MissingPersons) != 4 || len(again.Detections) != 2 {
		t.Fatalf("got %d entries, %d detections; want 4, 2",
			len(again.MissingPersons), len(again.Detections))
	}

	ids := make(map[int64]bool)
	names := make(map[string]int)
	for _, e := range again.MissingPersons {
		ids[e.ID] = true
		names[e.Name]++
	}
	if len(ids) != 4 {
		t.Errorf("imported entries should get distinct ids, got %v", ids)
	}
	if names["Alice"] != 2 || names["Bob"] != 2 {
		t.Errorf("names = %v", names)
	}
}

func TestSettings(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	var threshold float64
	ok, err := s.GetSetting(ctx, models.SettingMatchThreshold, &threshold)
	if err != nil || ok {
		t.Fatalf("GetSetting on empty store = (%v, %v)", ok, err)
	}

	if err := s.PutSetting(ctx, models.SettingMatchThreshold, 0.55); err != nil {
		t.Fatal(err)
	}
	if err := s.PutSetting(ctx, models.SettingMatchThreshold, 0.65); err != nil {
		t.Fatal(err)
	}
	ok, err = s.GetSetting(ctx, models.SettingMatchThreshold, &threshold)
	if err != nil || !ok {
		t.Fatalf("GetSetting = (%v, %v)", ok, err)
	}
	if threshold != 0.65 {
		t.Errorf("threshold = %v, want 0.65", threshold)
	}
}

func TestSchemaUpgradeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "lookout.db")

	e, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.InsertGalleryEntry(ctx, sampleEntry("Alice")); err != nil {
		t.Fatal(err)
	}
	e.Close()

	e, err = OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer e.Close()

	v, err := e.Version(ctx)
	if err != nil || v != SchemaVersion {
		t.Fatalf("Version = (%d, %v)", v, err)
	}
	entries, err := e.GalleryEntries(ctx)
	if err != nil || len(entries) != 1 {
		t.Errorf("entries after reopen = (%d, %v)", len(entries), err)
	}
}

func TestUpgradeFromVersionOne(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "lookout.db")

	e, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	e.InsertGalleryEntry(ctx, sampleEntry("Alice"))
	// Roll back to a v1 database.
	if _, err := e.db.ExecContext(ctx, `DROP TABLE settings`); err != nil {
		t.Fatal(err)
	}
	if _, err := e.db.ExecContext(ctx, `PRAGMA user_version = 1`); err != nil {
		t.Fatal(err)
	}
	e.Close()

	e, err = OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("upgrade: %v", err)
	}
	defer e.Close()

	if err := e.PutSetting(ctx, "k", []byte(`true`)); err != nil {
		t.Errorf("settings missing after upgrade: %v", err)
	}
	entries, _ := e.GalleryEntries(ctx)
	if len(entries) != 1 {
		t.Errorf("entries lost during upgrade: %d", len(entries))
	}
}

func TestUnavailableStore(t *testing.T) {
	ctx := context.Background()
	openErr := errors.New("engine not supported")
	s := New(func(context.Context) (Engine, error) { return nil, openErr },
		Options{PollInterval: time.Millisecond, MaxAttempts: 500})
	s.Open(ctx)

	entries, err := s.GetAllGalleryEntries(ctx)
	if err != nil || len(entries) != 0 {
		t.Errorf("GetAllGalleryEntries = (%v, %v), want empty, nil", entries, err)
	}
	if s.State() != StateUnavailable {
		t.Fatalf("state = %s", s.State())
	}
	if !errors.Is(s.Err(), openErr) {
		t.Errorf("Err = %v", s.Err())
	}

	events, err := s.GetAllDetectionEvents(ctx)
	if err != nil || len(events) != 0 {
		t.Errorf("GetAllDetectionEvents = (%v, %v)", events, err)
	}
	entry, err := s.GetGalleryEntry(ctx, 1)
	if err != nil || entry != nil {
		t.Errorf("GetGalleryEntry = (%v, %v)", entry, err)
	}

	if _, err := s.AddGalleryEntry(ctx, sampleEntry("Alice")); !errors.Is(err, ErrUnavailable) {
		t.Errorf("AddGalleryEntry err = %v, want ErrUnavailable", err)
	}
	if _, err := s.AddDetectionEvent(ctx, sampleEvent("Alice", time.Now())); !errors.Is(err, ErrUnavailable) {
		t.Errorf("AddDetectionEvent err = %v, want ErrUnavailable", err)
	}
	if err := s.DeleteGalleryEntry(ctx, 1); !errors.Is(err, ErrUnavailable) {
		t.Errorf("DeleteGalleryEntry err = %v, want ErrUnavailable", err)
	}
	if err := s.ClearAllDetectionEvents(ctx); !errors.Is(err, ErrUnavailable) {
		t.Errorf("ClearAllDetectionEvents err = %v, want ErrUnavailable", err)
	}
	if err := s.Ping(ctx); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Ping err = %v", err)
	}
}

func TestInitTimeout(t *testing.T) {
	ctx := context.Background()
	release := make(chan struct{})
	defer close(release)

	s := New(func(ctx context.Context) (Engine, error) {
		<-release
		return nil, errors.New("closed")
	}, Options{PollInterval: time.Millisecond, MaxAttempts: 5})
	s.Open(ctx)

	if _, err := s.GetAllGalleryEntries(ctx); !errors.Is(err, ErrInitTimeout) {
		t.Errorf("read err = %v, want ErrInitTimeout", err)
	}
	_, err := s.AddGalleryEntry(ctx, sampleEntry("Alice"))
	if !errors.Is(err, ErrInitTimeout) || !errors.Is(err, ErrUnavailable) {
		t.Errorf("write err = %v, want ErrInitTimeout wrapped with ErrUnavailable", err)
	}
	if s.State() != StateOpening {
		t.Errorf("state = %s, want opening", s.State())
	}
}

func TestWaitsForSlowOpen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "lookout.db")

	s := New(func(ctx context.Context) (Engine, error) {
		time.Sleep(30 * time.Millisecond)
		return OpenSQLite(ctx, path)
	}, Options{PollInterval: 5 * time.Millisecond, MaxAttempts: 200})
	defer s.Close()
	s.Open(ctx)

	if _, err := s.AddGalleryEntry(ctx, sampleEntry("Alice")); err != nil {
		t.Fatalf("AddGalleryEntry: %v", err)
	}
	entries, _ := s.GetAllGalleryEntries(ctx)
	if len(entries) != 1 {
		t.Errorf("entries = %d", len(entries))
	}
}

func TestConfidenceRoundedOnWrite(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	ev := sampleEvent("Alice", time.Now())
	ev.Confidence = 0.87654
	if _, err := s.AddDetectionEvent(ctx, ev); err != nil {
		t.Fatal(err)
	}

	snap := &models.Snapshot{Detections: []models.DetectionEvent{*sampleEvent("Bob", time.Now())}}
	snap.Detections[0].Confidence = 0.916
	if _, err := s.ImportAll(ctx, snap); err != nil {
		t.Fatal(err)
	}
	if snap.Detections[0].Confidence != 0.916 {
		t.Errorf("import modified the snapshot: %v", snap.Detections[0].Confidence)
	}

	want := map[string]float64{"Alice": 0.88, "Bob": 0.92}
	events, _ := s.GetAllDetectionEvents(ctx)
	if len(events) != 2 {
		t.Fatalf("events = %d", len(events))
	}
	for _, ev := range events {
		if ev.Confidence != want[ev.PersonName] {
			t.Errorf("%s confidence = %v, want %v", ev.PersonName, ev.Confidence, want[ev.PersonName])
		}
	}
}

func TestStoreSchemaVersion(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	v, err := s.SchemaVersion(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if v != SchemaVersion {
		t.Errorf("SchemaVersion = %d, want %d", v, SchemaVersion)
	}

	unavailable := New(func(context.Context) (Engine, error) { return nil, errors.New("no engine") },
		Options{PollInterval: time.Millisecond, MaxAttempts: 500})
	unavailable.Open(ctx)
	if _, err := unavailable.SchemaVersion(ctx); !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}

type closeRecorder struct {
	Engine
	closed chan struct{}
}

func (c *closeRecorder) Close() error {
	close(c.closed)
	return c.Engine.Close()
}

func TestCloseWhileOpening(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "lookout.db")
	release := make(chan struct{})
	rec := &closeRecorder{closed: make(chan struct{})}

	s := New(func(ctx context.Context) (Engine, error) {
		<-release
		eng, err := OpenSQLite(ctx, path)
		if err != nil {
			return nil, err
		}
		rec.Engine = eng
		return rec, nil
	}, Options{PollInterval: time.Millisecond, MaxAttempts: 2000})
	s.Open(ctx)

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	close(release)

	select {
	case <-rec.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("engine opened after Close was never closed")
	}
	if _, err := s.AddGalleryEntry(ctx, sampleEntry("Alice")); !errors.Is(err, ErrUnavailable) {
		t.Errorf("write after Close err = %v, want ErrUnavailable", err)
	}
}
