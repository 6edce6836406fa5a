package model

import (
	"image"
	"math"

	"github.com/nfnt/resize"
)

// Preprocess resizes img to the model's square input and lays it out as a
// normalized CHW float32 tensor: (pixel/255 - mean[c]) / std[c].
func (m Metadata) Preprocess(img image.Image) []float32 {
	targetSize := uint(m.ImageSize)
	resized := resize.Resize(targetSize, targetSize, img, resize.Bilinear)

	bounds := resized.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	plane := width * height

	inputData := make([]float32, 3*plane)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := resized.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()

			pixelIndex := y*width + x
			inputData[pixelIndex] = (float32(r)/65535.0 - m.Mean[0]) / m.Std[0]
			inputData[plane+pixelIndex] = (float32(g)/65535.0 - m.Mean[1]) / m.Std[1]
			inputData[2*plane+pixelIndex] = (float32(b)/65535.0 - m.Mean[2]) / m.Std[2]
		}
	}

	return inputData
}

// argmax returns the index and value of the highest score. Ties resolve to
// the lowest index. scores must not be empty.
func argmax(scores []float32) (int, float32) {
	maxIdx := 0
	maxVal := scores[0]
	for i, val := range scores[1:] {
		if val > maxVal {
			maxVal = val
			maxIdx = i + 1
		}
	}
	return maxIdx, maxVal
}

// softmax returns the probability of scores[idx] under a softmax over scores.
func softmax(scores []float32, idx int) float32 {
	maxVal := scores[idx]
	for _, v := range scores {
		if v > maxVal {
			maxVal = v
		}
	}
	var sum float64
	for _, v := range scores {
		sum += math.Exp(float64(v - maxVal))
	}
	return float32(math.Exp(float64(scores[idx]-maxVal)) / sum)
}

// predict maps raw class scores onto the label vocabulary.
func (m Metadata) predict(scores []float32) Prediction {
	if len(scores) > len(m.Classes) {
		scores = scores[:len(m.Classes)]
	}
	idx, val := argmax(scores)
	return Prediction{
		Label:      m.Classes[idx],
		Index:      idx,
		Score:      val,
		Confidence: softmax(scores, idx),
	}
}
