package onnx

import (
	"fmt"
	"image"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/lookout/internal/liveness"
)

const (
	landmarkInput  = 192
	landmarkPoints = 68
	// 1k3d68 emits 1103 (x, y, z) triples; the 68 face points are the last ones.
	landmarkOutput = 3309
	// The model expects the face centred in a square 1.5x its longer side.
	landmarkCropScale = 1.5
)

// landmarker predicts the 68-point iBUG face landmarks (1k3d68).
type landmarker struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

func newLandmarker(modelPath string) (*landmarker, error) {
	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, landmarkInput, landmarkInput))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, landmarkOutput))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"data"},
		[]string{"fc1"},
		[]ort.Value{inputTensor},
		[]ort.Value{outputTensor},
		nil,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create landmark session: %w", err)
	}

	return &landmarker{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

// predict runs the model on input cropped from crop (see landmarkCrop) and
// returns points in source image pixels.
func (l *landmarker) predict(input []float32, crop image.Rectangle) ([landmarkPoints]liveness.Point, error) {
	var pts [landmarkPoints]liveness.Point

	copy(l.inputTensor.GetData(), input)
	if err := l.session.Run(); err != nil {
		return pts, fmt.Errorf("run landmarks: %w", err)
	}

	data := l.outputTensor.GetData()
	if len(data) < landmarkPoints*3 {
		return pts, fmt.Errorf("unexpected landmark output size: %d", len(data))
	}
	tail := data[len(data)-landmarkPoints*3:]

	// Model coordinates are in [-1, 1] over the crop.
	sx := float64(crop.Dx()) / 2
	sy := float64(crop.Dy()) / 2
	for i := range pts {
		pts[i] = liveness.Point{
			X: float64(crop.Min.X) + (float64(tail[i*3])+1)*sx,
			Y: float64(crop.Min.Y) + (float64(tail[i*3+1])+1)*sy,
		}
	}
	return pts, nil
}

func (l *landmarker) Close() {
	if l.session != nil {
		l.session.Destroy()
	}
	if l.inputTensor != nil {
		l.inputTensor.Destroy()
	}
	if l.outputTensor != nil {
		l.outputTensor.Destroy()
	}
}

// groupLandmarks splits iBUG-68 points into the groups the liveness
// scorer reads.
func groupLandmarks(pts [landmarkPoints]liveness.Point) liveness.Landmarks {
	return liveness.Landmarks{
		LeftEye:  append([]liveness.Point(nil), pts[36:42]...),
		RightEye: append([]liveness.Point(nil), pts[42:48]...),
		Mouth:    append([]liveness.Point(nil), pts[48:68]...),
	}
}
