package model

import (
	"encoding/json"
	"fmt"
	"os"
)

// Metadata describes the exported classifier: tensor shapes, tensor names,
// the label vocabulary and the normalization applied to input pixels.
type Metadata struct {
	InputShape  []int64   `json:"input_shape"`
	OutputShape []int64   `json:"output_shape"`
	Classes     []string  `json:"classes"`
	ImageSize   int       `json:"image_size"`
	InputName   string    `json:"input_name,omitempty"`
	OutputName  string    `json:"output_name,omitempty"`
	Mean        []float32 `json:"mean,omitempty"`
	Std         []float32 `json:"std,omitempty"`
}

// Prediction is the classifier's answer for one image.
type Prediction struct {
	Label      string  `json:"label"`
	Index      int     `json:"index"`
	Score      float32 `json:"score"`
	Confidence float32 `json:"confidence"`
}

// LoadMetadata reads and validates a metadata file, filling in defaults for
// optional fields.
func LoadMetadata(path string) (Metadata, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to read metadata: %w", err)
	}

	var metadata Metadata
	if err := json.Unmarshal(raw, &metadata); err != nil {
		return Metadata{}, fmt.Errorf("failed to parse metadata: %w", err)
	}

	metadata.applyDefaults()
	if err := metadata.Validate(); err != nil {
		return Metadata{}, err
	}
	return metadata, nil
}

// ViT image processors normalize with mean and std of 0.5 on every channel.
func (m *Metadata) applyDefaults() {
	if m.InputName == "" {
		m.InputName = "input"
	}
	if m.OutputName == "" {
		m.OutputName = "output"
	}
	if len(m.Mean) == 0 {
		m.Mean = []float32{0.5, 0.5, 0.5}
	}
	if len(m.Std) == 0 {
		m.Std = []float32{0.5, 0.5, 0.5}
	}
}

// Validate checks that shapes, image size and label vocabulary agree.
func (m Metadata) Validate() error {
	if len(m.Classes) == 0 {
		return fmt.Errorf("metadata has no classes")
	}
	if m.ImageSize <= 0 {
		return fmt.Errorf("invalid image_size %d", m.ImageSize)
	}
	want := []int64{1, 3, int64(m.ImageSize), int64(m.ImageSize)}
	if len(m.InputShape) != len(want) {
		return fmt.Errorf("input_shape %v, expected %v", m.InputShape, want)
	}
	for i := range want {
		if m.InputShape[i] != want[i] {
			return fmt.Errorf("input_shape %v, expected %v", m.InputShape, want)
		}
	}
	if n := elements(m.OutputShape); n != int64(len(m.Classes)) {
		return fmt.Errorf("output_shape %v holds %d scores for %d classes", m.OutputShape, n, len(m.Classes))
	}
	if len(m.Mean) != 3 || len(m.Std) != 3 {
		return fmt.Errorf("mean and std need 3 channels, got %d and %d", len(m.Mean), len(m.Std))
	}
	for _, s := range m.Std {
		if s == 0 {
			return fmt.Errorf("std must be non-zero")
		}
	}
	return nil
}

// InputSize is the number of float32 values in one input tensor.
func (m Metadata) InputSize() int {
	return int(elements(m.InputShape))
}

func elements(shape []int64) int64 {
	if len(shape) == 0 {
		return 0
	}
	n := int64(1)
	for _, dim := range shape {
		n *= dim
	}
	return n
}
