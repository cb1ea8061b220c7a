package gallery

import (
	"context"
	"errors"
	"image"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/your-org/lookout/internal/models"
	"github.com/your-org/lookout/internal/recognition"
	"github.com/your-org/lookout/internal/store"
)

// sizeAnalyzer finds a face in any image at least 20px wide and uses the
// image size as the descriptor.
type sizeAnalyzer struct{}

func (sizeAnalyzer) DetectAll(ctx context.Context, img image.Image) ([]recognition.Face, error) {
	f, err := sizeAnalyzer{}.DetectSingle(ctx, img)
	if err != nil {
		return nil, nil
	}
	return []recognition.Face{*f}, nil
}

func (sizeAnalyzer) DetectSingle(_ context.Context, img image.Image) (*recognition.Face, error) {
	b := img.Bounds()
	if b.Dx() < 20 {
		return nil, recognition.ErrNoFace
	}
	return &recognition.Face{Descriptor: []float32{float32(b.Dx()), float32(b.Dy())}}, nil
}

type countingNotifier struct{ n atomic.Int32 }

func (c *countingNotifier) GalleryChanged(context.Context) error {
	c.n.Add(1)
	return nil
}

func newTestService(t *testing.T, analyzer recognition.Analyzer) (*Service, *store.Store, *countingNotifier) {
	t.Helper()
	st := store.New(store.SQLiteOpener(filepath.Join(t.TempDir(), "gallery.db")), store.Options{
		PollInterval: 5 * time.Millisecond,
		MaxAttempts:  200,
	})
	st.Open(context.Background())
	t.Cleanup(func() { st.Close() })

	n := &countingNotifier{}
	svc := New(st, analyzer, n)
	svc.now = func() time.Time { return time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC) }
	return svc, st, n
}

func jpegPhoto(t *testing.T, w, h int) Photo {
	t.Helper()
	data, err := recognition.EncodeJPEG(image.NewNRGBA(image.Rect(0, 0, w, h)), 90)
	if err != nil {
		t.Fatal(err)
	}
	return Photo{Filename: "photo.jpg", ContentType: "image/jpeg", Data: data}
}

func TestAddExtractsDescriptorPerPhoto(t *testing.T) {
	ctx := context.Background()
	svc, _, n := newTestService(t, sizeAnalyzer{})

	age := 12
	res, err := svc.Add(ctx, NewEntry{
		Name:        "  Jane Doe ",
		Age:         &age,
		Description: " red jacket ",
		Photos: []Photo{
			jpegPhoto(t, 40, 50),
			jpegPhoto(t, 10, 10),
			{Filename: "broken.jpg", ContentType: "image/jpeg", Data: []byte("not a jpeg")},
			jpegPhoto(t, 60, 30),
		},
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	e := res.Entry
	if e.ID == 0 || e.Name != "Jane Doe" || e.Description != "red jacket" || e.Status != models.EntryStatusActive {
		t.Errorf("entry = %+v", e)
	}
	if len(e.Descriptors) != 2 || e.Descriptors[0][0] != 40 || e.Descriptors[1][0] != 60 {
		t.Errorf("descriptors = %v", e.Descriptors)
	}
	if len(e.Photos) != 4 {
		t.Errorf("photos = %d, want all 4 kept", len(e.Photos))
	}
	if len(res.Warnings) != 2 {
		t.Errorf("warnings = %v, want 2", res.Warnings)
	}
	if !e.DateAdded.Equal(time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)) {
		t.Errorf("dateAdded = %v", e.DateAdded)
	}
	if n.n.Load() != 1 {
		t.Errorf("notifications = %d, want 1", n.n.Load())
	}

	stored, err := svc.Get(ctx, e.ID)
	if err != nil || stored == nil {
		t.Fatalf("Get: %v, %v", stored, err)
	}
	if len(stored.Descriptors) != 2 {
		t.Errorf("stored descriptors = %d", len(stored.Descriptors))
	}
}

func TestAddWithoutFaces(t *testing.T) {
	svc, _, _ := newTestService(t, sizeAnalyzer{})
	res, err := svc.Add(context.Background(), NewEntry{Name: "Tiny", Photos: []Photo{jpegPhoto(t, 5, 5)}})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Entry.Descriptors) != 0 || len(res.Warnings) != 2 {
		t.Errorf("descriptors=%v warnings=%v", res.Entry.Descriptors, res.Warnings)
	}
}

func TestAddWithoutAnalyzer(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	res, err := svc.Add(context.Background(), NewEntry{Name: "Manual", Photos: []Photo{jpegPhoto(t, 40, 40)}})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Entry.Descriptors) != 0 || len(res.Warnings) != 1 {
		t.Errorf("descriptors=%v warnings=%v", res.Entry.Descriptors, res.Warnings)
	}
}

func TestAddValidation(t *testing.T) {
	negative := -1
	tests := []struct {
		name  string
		in    NewEntry
		field string
	}{
		{"blank name", NewEntry{Name: "   ", Photos: []Photo{{ContentType: "image/png", Data: []byte{1}}}}, "name"},
		{"no photos", NewEntry{Name: "A"}, "photos"},
		{"negative age", NewEntry{Name: "A", Age: &negative, Photos: []Photo{{ContentType: "image/png", Data: []byte{1}}}}, "age"},
		{"not an image", NewEntry{Name: "A", Photos: []Photo{{ContentType: "text/plain", Data: []byte("hi")}}}, "photos[0].content_type"},
		{"empty photo", NewEntry{Name: "A", Photos: []Photo{{ContentType: "image/png"}}}, "photos[0].data"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, st, n := newTestService(t, sizeAnalyzer{})
			_, err := svc.Add(context.Background(), tt.in)

			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
			if verr.Field != tt.field {
				t.Errorf("field = %q, want %q", verr.Field, tt.field)
			}
			if entries, _ := st.GetAllGalleryEntries(context.Background()); len(entries) != 0 {
				t.Errorf("store touched: %d entries", len(entries))
			}
			if n.n.Load() != 0 {
				t.Error("notified on rejected input")
			}
		})
	}
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t, nil)
	for _, in := range []NewEntry{
		{Name: "Jane Doe", Description: "Blue coat"},
		{Name: "John Roe", Description: "glasses"},
		{Name: "Ann Lee", Description: "last seen near the harbour"},
	} {
		in.Photos = []Photo{jpegPhoto(t, 8, 8)}
		if _, err := svc.Add(ctx, in); err != nil {
			t.Fatal(err)
		}
	}

	tests := map[string]int{
		"":       3,
		"jane":   1,
		"OE":     2,
		"COAT":   1,
		"harb":   1,
		"nobody": 0,
	}
	for term, want := range tests {
		got, err := svc.Search(ctx, term)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != want {
			t.Errorf("Search(%q) = %d results, want %d", term, len(got), want)
		}
	}
}

func TestUpdateAndDetections(t *testing.T) {
	ctx := context.Background()
	svc, st, n := newTestService(t, nil)

	res, err := svc.Add(ctx, NewEntry{Name: "Jane Doe", Photos: []Photo{jpegPhoto(t, 8, 8)}})
	if err != nil {
		t.Fatal(err)
	}
	id := res.Entry.ID

	for _, name := range []string{"Jane Doe", "Jane Doe", "Other"} {
		ev := &models.DetectionEvent{PersonName: name, Confidence: 0.8, Timestamp: time.Now(), Status: models.DetectionStatusNew}
		if _, err := st.AddDetectionEvent(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}

	events, err := svc.Detections(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Errorf("detections = %d, want 2", len(events))
	}

	status := "found"
	updated, err := svc.Update(ctx, id, Changes{Status: &status})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Status != "found" || updated.Name != "Jane Doe" {
		t.Errorf("updated = %+v", updated)
	}

	bad := "lost"
	var verr *ValidationError
	if _, err := svc.Update(ctx, id, Changes{Status: &bad}); !errors.As(err, &verr) {
		t.Errorf("bad status err = %v", err)
	}

	if got, err := svc.Update(ctx, 9999, Changes{Status: &status}); got != nil || err != nil {
		t.Errorf("Update missing = %v, %v", got, err)
	}
	if _, err := svc.Detections(ctx, 9999); !errors.Is(err, ErrNotFound) {
		t.Errorf("Detections missing err = %v", err)
	}

	if err := svc.Delete(ctx, id); err != nil {
		t.Fatal(err)
	}
	if n.n.Load() != 3 {
		t.Errorf("notifications = %d, want 3", n.n.Load())
	}
	if all, _ := st.GetAllDetectionEvents(ctx); len(all) != 3 {
		t.Errorf("events after delete = %d, want 3", len(all))
	}
}

func TestExportImport(t *testing.T) {
	ctx := context.Background()
	src, _, _ := newTestService(t, sizeAnalyzer{})
	if _, err := src.Add(ctx, NewEntry{Name: "Jane Doe", Photos: []Photo{jpegPhoto(t, 40, 40)}}); err != nil {
		t.Fatal(err)
	}
	snap, err := src.Export(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Version != store.SchemaVersion || len(snap.MissingPersons) != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}

	dst, _, n := newTestService(t, nil)
	res, err := dst.Import(ctx, snap)
	if err != nil {
		t.Fatal(err)
	}
	if res.GalleryEntries != 1 || res.DetectionEvents != 0 {
		t.Errorf("result = %+v", res)
	}
	if n.n.Load() != 1 {
		t.Errorf("notifications = %d, want 1", n.n.Load())
	}
	entries, _ := dst.List(ctx)
	if len(entries) != 1 || len(entries[0].Descriptors) != 1 {
		t.Errorf("imported entries = %+v", entries)
	}

	if _, err := dst.Import(ctx, nil); err == nil {
		t.Error("expected error for nil snapshot")
	}
}

func TestImportRejectsBadPhotos(t *testing.T) {
	ctx := context.Background()
	svc, st, n := newTestService(t, nil)

	tests := []struct {
		name  string
		photo string
	}{
		{"not a data url", "https://example.com/p.jpg"},
		{"not base64", "data:image/jpeg;base64,@@@"},
		{"not an image", recognition.DataURL("text/plain", []byte("hi"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := &models.Snapshot{MissingPersons: []models.GalleryEntry{
				{Name: "Ok", Photos: []string{recognition.DataURL("image/jpeg", []byte{0xff, 0xd8})}},
				{Name: "Bad", Photos: []string{tt.photo}},
			}}
			_, err := svc.Import(ctx, snap)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
			if verr.Field != "missingPersons[1].photos[0]" {
				t.Errorf("field = %q", verr.Field)
			}
		})
	}

	entries, _ := st.GetAllGalleryEntries(ctx)
	if len(entries) != 0 {
		t.Errorf("entries = %d, want none written", len(entries))
	}
	if n.n.Load() != 0 {
		t.Errorf("notifications = %d, want 0", n.n.Load())
	}
}
