package onnx

import (
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/your-org/lookout/internal/liveness"
	"github.com/your-org/lookout/internal/recognition"
)

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func TestToCHW(t *testing.T) {
	img := solid(2, 2, color.NRGBA{R: 255, G: 127, B: 0, A: 255})
	data := toCHW(img, normalization{mean: 127.5, std: 127.5})
	if len(data) != 12 {
		t.Fatalf("len = %d, want 12", len(data))
	}
	want := []float32{1, (127 - 127.5) / 127.5, -1}
	for c := 0; c < 3; c++ {
		for i := 0; i < 4; i++ {
			if got := data[c*4+i]; math.Abs(float64(got-want[c])) > 1e-6 {
				t.Errorf("channel %d pixel %d = %v, want %v", c, i, got, want[c])
			}
		}
	}
}

func TestPreprocessDetectionLetterbox(t *testing.T) {
	img := solid(1280, 720, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
	data, scale := preprocessDetection(img, 640)

	if scale != 2 {
		t.Errorf("scale = %v, want 2", scale)
	}
	if len(data) != 3*640*640 {
		t.Fatalf("len = %d", len(data))
	}
	// Row 0 is image content, row 639 is padding.
	white := (255 - detectionNorm.mean) / detectionNorm.std
	black := (0 - detectionNorm.mean) / detectionNorm.std
	if got := data[0]; math.Abs(float64(got-white)) > 1e-3 {
		t.Errorf("top-left = %v, want %v", got, white)
	}
	if got := data[639*640]; math.Abs(float64(got-black)) > 1e-3 {
		t.Errorf("bottom-left = %v, want %v", got, black)
	}
}

func TestLandmarkCrop(t *testing.T) {
	r := landmarkCrop(recognition.Box{X1: 100, Y1: 100, X2: 140, Y2: 180})
	if r.Dx() != 120 || r.Dy() != 120 {
		t.Errorf("crop = %v, want 120x120", r)
	}
	if r.Min != image.Pt(60, 80) {
		t.Errorf("crop origin = %v, want (60,80)", r.Min)
	}
}

func TestPreprocessLandmarksOutsideImage(t *testing.T) {
	img := solid(100, 100, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
	data := preprocessLandmarks(img, image.Rect(-50, -50, 50, 50))
	if len(data) != 3*landmarkInput*landmarkInput {
		t.Fatalf("len = %d", len(data))
	}
	if data[0] != 0 {
		t.Errorf("top-left outside image = %v, want 0", data[0])
	}
	last := landmarkInput*landmarkInput - 1
	if data[last] < 250 {
		t.Errorf("bottom-right inside image = %v, want ~255", data[last])
	}
}

func TestGroupLandmarks(t *testing.T) {
	var pts [landmarkPoints]liveness.Point
	for i := range pts {
		pts[i] = liveness.Point{X: float64(i)}
	}
	g := groupLandmarks(pts)
	if len(g.LeftEye) != 6 || g.LeftEye[0].X != 36 {
		t.Errorf("LeftEye = %v", g.LeftEye)
	}
	if len(g.RightEye) != 6 || g.RightEye[0].X != 42 {
		t.Errorf("RightEye = %v", g.RightEye)
	}
	if len(g.Mouth) != 20 || g.Mouth[0].X != 48 || g.Mouth[19].X != 67 {
		t.Errorf("Mouth = %v", g.Mouth)
	}
}

func TestNMS(t *testing.T) {
	dets := []detection{
		{box: recognition.Box{X1: 0, Y1: 0, X2: 10, Y2: 10}, score: 0.7},
		{box: recognition.Box{X1: 1, Y1: 1, X2: 11, Y2: 11}, score: 0.9},
		{box: recognition.Box{X1: 50, Y1: 50, X2: 60, Y2: 60}, score: 0.6},
	}
	got := nms(dets, 0.4)
	if len(got) != 2 {
		t.Fatalf("kept %d, want 2", len(got))
	}
	if got[0].score != 0.9 || got[1].score != 0.6 {
		t.Errorf("kept %+v", got)
	}
}

func TestIOU(t *testing.T) {
	a := recognition.Box{X1: 0, Y1: 0, X2: 10, Y2: 10}
	if v := iou(a, a); v != 1 {
		t.Errorf("iou(a, a) = %v", v)
	}
	if v := iou(a, recognition.Box{X1: 20, Y1: 20, X2: 30, Y2: 30}); v != 0 {
		t.Errorf("disjoint iou = %v", v)
	}
	if v := iou(a, recognition.Box{X1: 5, Y1: 0, X2: 15, Y2: 10}); math.Abs(v-1.0/3) > 1e-9 {
		t.Errorf("half overlap iou = %v, want 1/3", v)
	}
}
