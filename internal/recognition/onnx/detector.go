package onnx

import (
	"fmt"
	"math"
	"sort"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/lookout/internal/recognition"
)

// detection is one raw RetinaFace output in source image pixels.
type detection struct {
	box   recognition.Box
	score float32
}

// detector runs RetinaFace (det_10g) face detection.
type detector struct {
	session       *ort.AdvancedSession
	inputTensor   *ort.Tensor[float32]
	outputTensors []*ort.Tensor[float32]
	threshold     float32
	size          int
}

var strides = []int{8, 16, 32}

const anchorsPerStride = 2

// det_10g output names, grouped as scores, boxes, keypoints per stride.
var detectorOutputs = [3][3]string{
	{"448", "471", "494"},
	{"451", "474", "497"},
	{"454", "477", "500"},
}

// newDetector loads the detection model for a square input of size pixels.
// size must be a multiple of 32.
func newDetector(modelPath string, size int, threshold float32) (*detector, error) {
	if size <= 0 || size%32 != 0 {
		return nil, fmt.Errorf("detector input size %d is not a multiple of 32", size)
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(size), int64(size)))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	// Outputs have no batch dimension: [anchors, 1|4|10] per stride.
	widths := [3]int64{1, 4, 10}
	var names []string
	var tensors []*ort.Tensor[float32]
	var values []ort.Value

	destroy := func() {
		inputTensor.Destroy()
		for _, t := range tensors {
			t.Destroy()
		}
	}

	for kind := 0; kind < 3; kind++ {
		for si, stride := range strides {
			fm := size / stride
			anchors := int64(fm * fm * anchorsPerStride)
			t, err := ort.NewEmptyTensor[float32](ort.NewShape(anchors, widths[kind]))
			if err != nil {
				destroy()
				return nil, fmt.Errorf("create output tensor %s: %w", detectorOutputs[kind][si], err)
			}
			names = append(names, detectorOutputs[kind][si])
			tensors = append(tensors, t)
			values = append(values, t)
		}
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input.1"},
		names,
		[]ort.Value{inputTensor},
		values,
		nil,
	)
	if err != nil {
		destroy()
		return nil, fmt.Errorf("create detector session: %w", err)
	}

	return &detector{
		session:       session,
		inputTensor:   inputTensor,
		outputTensors: tensors,
		threshold:     threshold,
		size:          size,
	}, nil
}

// detect runs detection on CHW input produced by preprocessDetection.
// scale maps model pixels back to source pixels.
func (d *detector) detect(input []float32, scale float64, srcW, srcH int) ([]detection, error) {
	copy(d.inputTensor.GetData(), input)

	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("run detection: %w", err)
	}

	return nms(d.decode(scale, srcW, srcH), 0.4), nil
}

func (d *detector) decode(scale float64, srcW, srcH int) []detection {
	var out []detection

	for si, stride := range strides {
		scores := d.outputTensors[si].GetData()
		boxes := d.outputTensors[si+3].GetData()

		fm := d.size / stride
		st := float64(stride)
		idx := 0
		for cy := 0; cy < fm; cy++ {
			for cx := 0; cx < fm; cx++ {
				for a := 0; a < anchorsPerStride; a++ {
					score := scores[idx]
					if score >= d.threshold {
						ax := float64(cx) * st
						ay := float64(cy) * st
						box := recognition.Box{
							X1: clamp((ax-float64(boxes[idx*4+0])*st)*scale, 0, float64(srcW)),
							Y1: clamp((ay-float64(boxes[idx*4+1])*st)*scale, 0, float64(srcH)),
							X2: clamp((ax+float64(boxes[idx*4+2])*st)*scale, 0, float64(srcW)),
							Y2: clamp((ay+float64(boxes[idx*4+3])*st)*scale, 0, float64(srcH)),
						}
						if box.Width() > 0 && box.Height() > 0 {
							out = append(out, detection{box: box, score: score})
						}
					}
					idx++
				}
			}
		}
	}
	return out
}

func (d *detector) Close() {
	if d.session != nil {
		d.session.Destroy()
	}
	if d.inputTensor != nil {
		d.inputTensor.Destroy()
	}
	for _, t := range d.outputTensors {
		if t != nil {
			t.Destroy()
		}
	}
}

// nms keeps the highest scoring detection of every overlapping group.
func nms(dets []detection, iouThreshold float64) []detection {
	if len(dets) == 0 {
		return dets
	}

	sort.Slice(dets, func(i, j int) bool {
		return dets[i].score > dets[j].score
	})

	keep := make([]bool, len(dets))
	for i := range keep {
		keep[i] = true
	}
	for i := range dets {
		if !keep[i] {
			continue
		}
		for j := i + 1; j < len(dets); j++ {
			if keep[j] && iou(dets[i].box, dets[j].box) > iouThreshold {
				keep[j] = false
			}
		}
	}

	var result []detection
	for i, d := range dets {
		if keep[i] {
			result = append(result, d)
		}
	}
	return result
}

func iou(a, b recognition.Box) float64 {
	x1 := math.Max(a.X1, b.X1)
	y1 := math.Max(a.Y1, b.Y1)
	x2 := math.Min(a.X2, b.X2)
	y2 := math.Min(a.Y2, b.Y2)

	inter := math.Max(0, x2-x1) * math.Max(0, y2-y1)
	union := a.Width()*a.Height() + b.Width()*b.Height() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
