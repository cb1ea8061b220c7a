// Package onnx implements recognition.Analyzer with ONNX Runtime models:
// RetinaFace detection, 68-point landmarks and ArcFace descriptors.
package onnx

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/lookout/internal/observability"
	"github.com/your-org/lookout/internal/recognition"
)

const (
	DetectorModel   = "det_10g.onnx"
	LandmarkModel   = "1k3d68.onnx"
	EmbedderModel   = "w600k_r50.onnx"
	defaultInputDim = 640
)

type Options struct {
	ModelsDir string
	// InputSize is the square detector input; 0 means 640.
	InputSize int
	Threshold float32
}

// Analyzer runs the three models in sequence. Sessions hold fixed input
// tensors, so calls are serialized.
type Analyzer struct {
	mu         sync.Mutex
	detector   *detector
	landmarker *landmarker
	embedder   *embedder
}

var _ recognition.Analyzer = (*Analyzer)(nil)

// InitRuntime loads the ONNX Runtime shared library. Call once per process
// before New; the returned func tears the environment down.
func InitRuntime(libPath string) (func(), error) {
	if libPath == "" {
		libPath = defaultLibPath()
	}
	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("init onnx runtime: %w", err)
	}
	return func() { ort.DestroyEnvironment() }, nil
}

func defaultLibPath() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "libonnxruntime.so"
	}
}

func New(opts Options) (*Analyzer, error) {
	size := opts.InputSize
	if size == 0 {
		size = defaultInputDim
	}

	detPath := filepath.Join(opts.ModelsDir, DetectorModel)
	lmkPath := filepath.Join(opts.ModelsDir, LandmarkModel)
	embPath := filepath.Join(opts.ModelsDir, EmbedderModel)

	slog.Info("loading detection model", "path", detPath, "input_size", size)
	det, err := newDetector(detPath, size, opts.Threshold)
	if err != nil {
		return nil, fmt.Errorf("load detector: %w", err)
	}

	slog.Info("loading landmark model", "path", lmkPath)
	lmk, err := newLandmarker(lmkPath)
	if err != nil {
		det.Close()
		return nil, fmt.Errorf("load landmarker: %w", err)
	}

	slog.Info("loading embedding model", "path", embPath)
	emb, err := newEmbedder(embPath)
	if err != nil {
		det.Close()
		lmk.Close()
		return nil, fmt.Errorf("load embedder: %w", err)
	}

	slog.Info("face analyzer ready")
	return &Analyzer{detector: det, landmarker: lmk, embedder: emb}, nil
}

func (a *Analyzer) DetectAll(ctx context.Context, img image.Image) ([]recognition.Face, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	b := img.Bounds()
	start := time.Now()
	input, scale := preprocessDetection(img, a.detector.size)
	observability.InferenceDuration.WithLabelValues("preprocess").Observe(time.Since(start).Seconds())

	start = time.Now()
	dets, err := a.detector.detect(input, scale, b.Dx(), b.Dy())
	if err != nil {
		return nil, err
	}
	observability.InferenceDuration.WithLabelValues("detect").Observe(time.Since(start).Seconds())

	faces := make([]recognition.Face, 0, len(dets))
	for _, d := range dets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// Detector boxes are relative to the image origin.
		box := d.box
		box.X1 += float64(b.Min.X)
		box.X2 += float64(b.Min.X)
		box.Y1 += float64(b.Min.Y)
		box.Y2 += float64(b.Min.Y)

		face, err := a.describe(img, box, d.score)
		if err != nil {
			slog.Warn("describe face", "error", err, "box", box)
			continue
		}
		faces = append(faces, face)
	}
	return faces, nil
}

func (a *Analyzer) describe(img image.Image, box recognition.Box, score float32) (recognition.Face, error) {
	start := time.Now()
	crop := landmarkCrop(box)
	pts, err := a.landmarker.predict(preprocessLandmarks(img, crop), crop)
	if err != nil {
		return recognition.Face{}, err
	}
	observability.InferenceDuration.WithLabelValues("landmarks").Observe(time.Since(start).Seconds())

	start = time.Now()
	desc, err := a.embedder.extract(preprocessEmbedding(img, box))
	if err != nil {
		return recognition.Face{}, err
	}
	observability.InferenceDuration.WithLabelValues("embed").Observe(time.Since(start).Seconds())

	return recognition.Face{
		Box:        box,
		Score:      score,
		Landmarks:  groupLandmarks(pts),
		Descriptor: desc,
	}, nil
}

func (a *Analyzer) DetectSingle(ctx context.Context, img image.Image) (*recognition.Face, error) {
	faces, err := a.DetectAll(ctx, img)
	if err != nil {
		return nil, err
	}
	if len(faces) == 0 {
		return nil, recognition.ErrNoFace
	}
	best := faces[0]
	for _, f := range faces[1:] {
		if f.Score > best.Score {
			best = f
		}
	}
	return &best, nil
}

// Close releases all ONNX sessions.
func (a *Analyzer) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.detector != nil {
		a.detector.Close()
	}
	if a.landmarker != nil {
		a.landmarker.Close()
	}
	if a.embedder != nil {
		a.embedder.Close()
	}
}
