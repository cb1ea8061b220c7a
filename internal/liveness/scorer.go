// Package liveness classifies a detected face as live or spoofed from its
// eye and mouth landmark geometry.
package liveness

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
)

const (
	// EyeOpenThreshold is the minimum average eye aspect ratio of a live face.
	EyeOpenThreshold = 0.2
	// MouthNaturalThreshold is the mouth aspect ratio a live face stays below.
	MouthNaturalThreshold = 0.8

	eyePoints   = 6
	mouthPoints = 20
)

var ErrMalformed = errors.New("malformed landmarks")

type Point struct {
	X, Y float64
}

// Landmarks holds the point groups the scorer reads. LeftEye and RightEye
// have 6 points each, Mouth has 20 (outer lip then inner lip).
type Landmarks struct {
	LeftEye  []Point
	RightEye []Point
	Mouth    []Point
}

type Result struct {
	EyeRatio   float64 `json:"eye_ratio"`
	MouthRatio float64 `json:"mouth_ratio"`
	Alive      bool    `json:"alive"`
}

func dist(a, b Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// EyeAspectRatio is (|p1-p5| + |p2-p4|) / (2|p0-p3|). A zero-width eye
// yields 0.
func EyeAspectRatio(eye []Point) (float64, error) {
	if len(eye) != eyePoints {
		return 0, fmt.Errorf("%w: eye has %d points, want %d", ErrMalformed, len(eye), eyePoints)
	}
	width := dist(eye[0], eye[3])
	if width == 0 {
		return 0, nil
	}
	return (dist(eye[1], eye[5]) + dist(eye[2], eye[4])) / (2 * width), nil
}

// MouthAspectRatio is computed over the inner lip points 12..19. A
// zero-width mouth yields +Inf.
func MouthAspectRatio(mouth []Point) (float64, error) {
	if len(mouth) != mouthPoints {
		return 0, fmt.Errorf("%w: mouth has %d points, want %d", ErrMalformed, len(mouth), mouthPoints)
	}
	width := dist(mouth[12], mouth[16])
	if width == 0 {
		return math.Inf(1), nil
	}
	height := dist(mouth[13], mouth[19]) + dist(mouth[14], mouth[18]) + dist(mouth[15], mouth[17])
	return height / (3 * width), nil
}

// Evaluate computes both ratios and the verdict.
func Evaluate(l Landmarks) (Result, error) {
	left, err := EyeAspectRatio(l.LeftEye)
	if err != nil {
		return Result{}, fmt.Errorf("left eye: %w", err)
	}
	right, err := EyeAspectRatio(l.RightEye)
	if err != nil {
		return Result{}, fmt.Errorf("right eye: %w", err)
	}
	mouth, err := MouthAspectRatio(l.Mouth)
	if err != nil {
		return Result{}, err
	}
	for _, v := range []float64{left, right, mouth} {
		if math.IsNaN(v) {
			return Result{}, fmt.Errorf("%w: non-finite coordinates", ErrMalformed)
		}
	}

	eye := (left + right) / 2
	return Result{
		EyeRatio:   eye,
		MouthRatio: mouth,
		Alive:      eye > EyeOpenThreshold && mouth < MouthNaturalThreshold,
	}, nil
}

// Alive returns the verdict for l. Landmarks that cannot be evaluated are
// treated as alive and logged.
func Alive(l Landmarks) bool {
	res, err := Evaluate(l)
	if err != nil {
		slog.Warn("liveness check failed, defaulting to alive", "error", err)
		return true
	}
	return res.Alive
}
