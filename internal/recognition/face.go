// Package recognition defines the face analysis contract used by the
// detection monitor and the gallery, and the descriptor matcher.
package recognition

import (
	"context"
	"errors"
	"image"

	"github.com/your-org/lookout/internal/liveness"
)

var ErrNoFace = errors.New("no face detected")

// Box is a face bounding box in source image pixels.
type Box struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

func (b Box) Width() float64  { return b.X2 - b.X1 }
func (b Box) Height() float64 { return b.Y2 - b.Y1 }

// Rect returns b expanded by pad pixels on every side and clamped to bounds.
func (b Box) Rect(pad int, bounds image.Rectangle) image.Rectangle {
	r := image.Rect(
		int(b.X1)-pad, int(b.Y1)-pad,
		int(b.X2)+pad, int(b.Y2)+pad,
	)
	return r.Intersect(bounds)
}

// Face is one analyzed face.
type Face struct {
	Box        Box
	Score      float32
	Landmarks  liveness.Landmarks
	Descriptor []float32
}

// Analyzer finds faces and computes their landmarks and descriptors.
// Implementations must be safe for concurrent use.
type Analyzer interface {
	DetectAll(ctx context.Context, img image.Image) ([]Face, error)
	// DetectSingle returns the highest scoring face, or ErrNoFace.
	DetectSingle(ctx context.Context, img image.Image) (*Face, error)
}
