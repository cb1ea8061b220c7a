// Package detection runs the camera loop that matches faces against the
// missing person gallery and records detections.
package detection

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/your-org/lookout/internal/capture"
	"github.com/your-org/lookout/internal/geo"
	"github.com/your-org/lookout/internal/liveness"
	"github.com/your-org/lookout/internal/models"
	"github.com/your-org/lookout/internal/observability"
	"github.com/your-org/lookout/internal/recognition"
)

var (
	ErrRunning          = errors.New("detector already running")
	ErrNoSource         = errors.New("no camera source configured")
	ErrInvalidThreshold = errors.New("threshold must be between 0 and 1")
)

// Store is the subset of the record store the monitor uses.
type Store interface {
	GetAllGalleryEntries(ctx context.Context) ([]models.GalleryEntry, error)
	AddDetectionEvent(ctx context.Context, ev *models.DetectionEvent) (int64, error)
	GetSetting(ctx context.Context, key string, dst any) (bool, error)
	PutSetting(ctx context.Context, key string, value any) error
}

type Archiver interface {
	PutSnapshot(ctx context.Context, person string, ts time.Time, jpeg []byte) (string, error)
}

type Publisher interface {
	PublishAlert(ctx context.Context, ev *models.DetectionEvent) error
}

type Options struct {
	Threshold       float64
	LivenessEnabled bool
	HistorySize     int
	CropPadding     int
	JPEGQuality     int
	LocationTimeout time.Duration
	// SourceName identifies this detector in device info and alert subjects.
	SourceName string
	Version    string
}

type Deps struct {
	Analyzer recognition.Analyzer
	Store    Store
	Source   capture.Source
	Locator  geo.Locator
	Archive  Archiver
	Alerts   Publisher
}

// Status is a point-in-time view of the monitor.
type Status struct {
	Running         bool      `json:"running"`
	Source          string    `json:"source"`
	Threshold       float64   `json:"threshold"`
	LivenessEnabled bool      `json:"liveness_enabled"`
	GallerySize     int       `json:"gallery_size"`
	GalleryEntries  int       `json:"gallery_entries"`
	FramesProcessed uint64    `json:"frames_processed"`
	FacesInFrame    int       `json:"faces_in_frame"`
	Detections      uint64    `json:"detections"`
	LastFrameAt     time.Time `json:"last_frame_at,omitzero"`
	LastError       string    `json:"last_error,omitempty"`
}

type Monitor struct {
	deps Deps
	opts Options

	mu        sync.RWMutex
	labeled   []recognition.LabeledDescriptors
	entries   int
	matcher   *recognition.Matcher
	liveness  bool
	history   []models.DetectionEvent
	sinks     []func(models.DetectionEvent)

	cancel context.CancelFunc
	done   chan struct{}

	frames      uint64
	faces       int
	detections  uint64
	lastFrameAt time.Time
	lastError   string
}

func New(deps Deps, opts Options) *Monitor {
	if opts.HistorySize <= 0 {
		opts.HistorySize = 10
	}
	if opts.CropPadding < 0 {
		opts.CropPadding = 0
	}
	if opts.JPEGQuality <= 0 {
		opts.JPEGQuality = 90
	}
	if opts.LocationTimeout <= 0 {
		opts.LocationTimeout = 5 * time.Second
	}
	return &Monitor{
		deps:     deps,
		opts:     opts,
		liveness: opts.LivenessEnabled,
		matcher:  recognition.NewMatcher(nil, opts.Threshold),
	}
}

// OnAlert registers fn to be called with every saved detection.
func (m *Monitor) OnAlert(fn func(models.DetectionEvent)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sinks = append(m.sinks, fn)
}

// Init restores persisted detector settings and loads the gallery.
func (m *Monitor) Init(ctx context.Context) error {
	var threshold float64
	if ok, err := m.deps.Store.GetSetting(ctx, models.SettingMatchThreshold, &threshold); err != nil {
		slog.Warn("load threshold setting", "error", err)
	} else if ok && threshold > 0 && threshold < 1 {
		m.mu.Lock()
		m.matcher = recognition.NewMatcher(m.labeled, threshold)
		m.mu.Unlock()
	}

	var enabled bool
	if ok, err := m.deps.Store.GetSetting(ctx, models.SettingLivenessEnabled, &enabled); err != nil {
		slog.Warn("load liveness setting", "error", err)
	} else if ok {
		m.mu.Lock()
		m.liveness = enabled
		m.mu.Unlock()
	}

	return m.Reload(ctx)
}

// Reload rebuilds the matcher from the current gallery. Entries without
// descriptors are kept out of the matcher.
func (m *Monitor) Reload(ctx context.Context) error {
	entries, err := m.deps.Store.GetAllGalleryEntries(ctx)
	if err != nil {
		return fmt.Errorf("load gallery: %w", err)
	}

	labeled := make([]recognition.LabeledDescriptors, 0, len(entries))
	for _, e := range entries {
		if len(e.Descriptors) == 0 {
			continue
		}
		labeled = append(labeled, recognition.LabeledDescriptors{Label: e.Name, Descriptors: e.Descriptors})
	}

	m.mu.Lock()
	m.labeled = labeled
	m.entries = len(entries)
	m.matcher = recognition.NewMatcher(labeled, m.matcher.Threshold())
	m.mu.Unlock()

	observability.GallerySize.Set(float64(len(labeled)))
	if len(labeled) == 0 {
		slog.Warn("no missing persons with face data in database", "entries", len(entries))
	} else {
		slog.Info("missing persons loaded", "matchable", len(labeled), "entries", len(entries))
	}
	return nil
}

// SetThreshold changes the confidence threshold, which is also the
// matcher's distance cut-off, and persists it.
func (m *Monitor) SetThreshold(ctx context.Context, threshold float64) error {
	if threshold <= 0 || threshold >= 1 {
		return ErrInvalidThreshold
	}

	m.mu.Lock()
	m.matcher = recognition.NewMatcher(m.labeled, threshold)
	m.mu.Unlock()

	slog.Info("detector threshold changed", "threshold", threshold)
	if err := m.deps.Store.PutSetting(ctx, models.SettingMatchThreshold, threshold); err != nil {
		return fmt.Errorf("persist threshold: %w", err)
	}
	return nil
}

func (m *Monitor) SetLivenessEnabled(ctx context.Context, enabled bool) error {
	m.mu.Lock()
	m.liveness = enabled
	m.mu.Unlock()

	slog.Info("liveness check toggled", "enabled", enabled)
	if err := m.deps.Store.PutSetting(ctx, models.SettingLivenessEnabled, enabled); err != nil {
		return fmt.Errorf("persist liveness setting: %w", err)
	}
	return nil
}

// Start begins reading frames in the background. The loop outlives ctx's
// cancellation; use Stop to end it.
func (m *Monitor) Start(ctx context.Context) error {
	if m.deps.Source == nil {
		return ErrNoSource
	}

	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return ErrRunning
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done
	m.lastError = ""
	m.mu.Unlock()

	slot := capture.NewLatestFrame()
	frames := m.deps.Source.Frames(runCtx)
	go func() {
		slot.Pump(frames)
		if runCtx.Err() == nil {
			m.setError("camera capture ended")
			cancel()
		}
	}()

	go func() {
		defer close(done)
		defer func() {
			m.mu.Lock()
			m.cancel = nil
			m.mu.Unlock()
			cancel()
		}()
		m.loop(runCtx, slot)
	}()

	slog.Info("detector started", "source", m.opts.SourceName)
	return nil
}

// Stop ends the loop and waits for the frame in progress to finish.
func (m *Monitor) Stop() {
	m.mu.RLock()
	cancel, done := m.cancel, m.done
	m.mu.RUnlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	slog.Info("detector stopped", "source", m.opts.SourceName)
}

func (m *Monitor) Running() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cancel != nil
}

func (m *Monitor) loop(ctx context.Context, slot *capture.LatestFrame) {
	for {
		f, err := slot.Next(ctx)
		if err != nil {
			return
		}

		img, err := recognition.DecodeImage(f.JPEG)
		if err != nil {
			slog.Warn("decode frame", "frame", f.ID, "error", err)
			continue
		}
		if _, err := m.ProcessFrame(ctx, img); err != nil && ctx.Err() == nil {
			slog.Error("process frame", "frame", f.ID, "error", err)
			m.setError(err.Error())
		}
	}
}

// ProcessFrame analyzes one frame and records a detection for every face
// that matches a gallery entry above the threshold and passes the liveness
// check. It returns the saved detections.
func (m *Monitor) ProcessFrame(ctx context.Context, img image.Image) ([]models.DetectionEvent, error) {
	faces, err := m.deps.Analyzer.DetectAll(ctx, img)
	observability.FramesProcessed.Inc()
	if err != nil {
		return nil, fmt.Errorf("analyze frame: %w", err)
	}
	observability.FacesDetected.Add(float64(len(faces)))

	m.mu.Lock()
	m.frames++
	m.faces = len(faces)
	m.lastFrameAt = time.Now()
	matcher, checkLiveness := m.matcher, m.liveness
	threshold := matcher.Threshold()
	m.mu.Unlock()

	var saved []models.DetectionEvent
	for _, face := range faces {
		match := matcher.FindBestMatch(face.Descriptor)
		if match.Unknown() {
			continue
		}
		confidence := 1 - match.Distance
		if confidence <= threshold {
			continue
		}
		observability.Matches.Inc()

		if checkLiveness && !liveness.Alive(face.Landmarks) {
			observability.LivenessRejections.Inc()
			slog.Info("match rejected by liveness check", "person", match.Label, "confidence", confidence)
			continue
		}

		ev, err := m.record(ctx, img, face, match.Label, confidence)
		if err != nil {
			slog.Error("save detection", "person", match.Label, "error", err)
			continue
		}
		saved = append(saved, *ev)
	}
	return saved, nil
}

func (m *Monitor) record(ctx context.Context, img image.Image, face recognition.Face, person string, confidence float64) (*models.DetectionEvent, error) {
	ts := time.Now()

	crop, err := recognition.CropPadded(img, face.Box, m.opts.CropPadding)
	if err != nil {
		return nil, err
	}
	still, err := recognition.EncodeJPEG(crop, m.opts.JPEGQuality)
	if err != nil {
		return nil, err
	}

	b := img.Bounds()
	ev := &models.DetectionEvent{
		PersonName: person,
		Confidence: models.RoundConfidence(confidence),
		Timestamp:  ts,
		Image:      recognition.DataURL("image/jpeg", still),
		Location:   geo.Lookup(ctx, m.deps.Locator, m.opts.LocationTimeout),
		DeviceInfo: m.deviceInfo(b.Dx(), b.Dy(), ts),
		Status:     models.DetectionStatusNew,
	}

	if m.deps.Archive != nil {
		key, err := m.deps.Archive.PutSnapshot(ctx, person, ts, still)
		if err != nil {
			slog.Warn("archive snapshot", "person", person, "error", err)
		} else {
			ev.SnapshotKey = key
		}
	}

	id, err := m.deps.Store.AddDetectionEvent(ctx, ev)
	if err != nil {
		return nil, err
	}
	ev.ID = id
	observability.DetectionsSaved.Inc()
	slog.Warn("missing person detected", "person", person, "confidence", ev.Confidence, "id", id)

	m.mu.Lock()
	m.detections++
	m.history = append([]models.DetectionEvent{*ev}, m.history...)
	if len(m.history) > m.opts.HistorySize {
		m.history = m.history[:m.opts.HistorySize]
	}
	sinks := append(([]func(models.DetectionEvent))(nil), m.sinks...)
	m.mu.Unlock()

	if m.deps.Alerts != nil {
		if err := m.deps.Alerts.PublishAlert(ctx, ev); err != nil {
			slog.Warn("publish alert", "error", err)
		}
	}
	for _, sink := range sinks {
		sink(*ev)
	}
	return ev, nil
}

func (m *Monitor) deviceInfo(w, h int, ts time.Time) models.DeviceInfo {
	host, _ := os.Hostname()
	version := m.opts.Version
	if version == "" {
		version = "dev"
	}
	return models.DeviceInfo{
		UserAgent:        "lookout/" + version,
		Platform:         runtime.GOOS + "/" + runtime.GOARCH,
		Hostname:         host,
		Source:           m.opts.SourceName,
		ScreenResolution: fmt.Sprintf("%dx%d", w, h),
		Timestamp:        ts,
	}
}

func (m *Monitor) setError(msg string) {
	m.mu.Lock()
	m.lastError = msg
	m.mu.Unlock()
}

// History returns the most recent saved detections of this run, newest first.
func (m *Monitor) History() []models.DetectionEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.DetectionEvent(nil), m.history...)
}

func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Status{
		Running:         m.cancel != nil,
		Source:          m.opts.SourceName,
		Threshold:       m.matcher.Threshold(),
		LivenessEnabled: m.liveness,
		GallerySize:     m.matcher.Len(),
		GalleryEntries:  m.entries,
		FramesProcessed: m.frames,
		FacesInFrame:    m.faces,
		Detections:      m.detections,
		LastFrameAt:     m.lastFrameAt,
		LastError:       m.lastError,
	}
}
