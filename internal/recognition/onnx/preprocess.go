package onnx

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"

	"github.com/your-org/lookout/internal/recognition"
)

type normalization struct {
	mean, std float32
}

var (
	detectionNorm = normalization{127.5, 128}
	embeddingNorm = normalization{127.5, 127.5}
	landmarkNorm  = normalization{0, 1}
)

// preprocessDetection letterboxes img into a size x size canvas anchored
// at the top left and returns the CHW tensor plus the model-to-source scale.
func preprocessDetection(img image.Image, size int) ([]float32, float64) {
	b := img.Bounds()
	scale := math.Max(float64(b.Dx()), float64(b.Dy())) / float64(size)

	w := int(math.Round(float64(b.Dx()) / scale))
	h := int(math.Round(float64(b.Dy()) / scale))
	resized := imaging.Resize(img, max(w, 1), max(h, 1), imaging.Linear)

	canvas := imaging.New(size, size, color.Black)
	canvas = imaging.Paste(canvas, resized, image.Pt(0, 0))

	return toCHW(canvas, detectionNorm), scale
}

// preprocessEmbedding crops the face box and resizes it to the ArcFace input.
func preprocessEmbedding(img image.Image, box recognition.Box) []float32 {
	crop := imaging.Crop(img, box.Rect(0, img.Bounds()))
	resized := imaging.Resize(crop, embedInput, embedInput, imaging.Linear)
	return toCHW(resized, embeddingNorm)
}

// landmarkCrop is the square around the face box fed to the landmark model,
// in source pixels. It may extend past the image.
func landmarkCrop(box recognition.Box) image.Rectangle {
	cx := (box.X1 + box.X2) / 2
	cy := (box.Y1 + box.Y2) / 2
	half := math.Max(box.Width(), box.Height()) * landmarkCropScale / 2
	return image.Rect(
		int(math.Round(cx-half)), int(math.Round(cy-half)),
		int(math.Round(cx+half)), int(math.Round(cy+half)),
	)
}

func preprocessLandmarks(img image.Image, crop image.Rectangle) []float32 {
	// Pixels outside the image stay black.
	square := imaging.New(crop.Dx(), crop.Dy(), color.Black)
	square = imaging.Paste(square, imaging.Crop(img, crop), crop.Intersect(img.Bounds()).Min.Sub(crop.Min))
	resized := imaging.Resize(square, landmarkInput, landmarkInput, imaging.Linear)
	return toCHW(resized, landmarkNorm)
}

// toCHW converts an NRGBA image to a planar RGB tensor:
//
//	value = (pixel - mean) / std
func toCHW(img *image.NRGBA, n normalization) []float32 {
	w := img.Rect.Dx()
	h := img.Rect.Dy()
	plane := w * h
	data := make([]float32, 3*plane)

	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for x := 0; x < w; x++ {
			i := y*w + x
			data[i] = (float32(row[x*4]) - n.mean) / n.std
			data[plane+i] = (float32(row[x*4+1]) - n.mean) / n.std
			data[2*plane+i] = (float32(row[x*4+2]) - n.mean) / n.std
		}
	}
	return data
}
