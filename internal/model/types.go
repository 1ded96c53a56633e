package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/Brownie44l1/tsr-api/internal/labels"
	"github.com/Brownie44l1/tsr-api/internal/tensor"
)

// ErrInvalidMetadata is returned when model metadata does not describe a
// traffic sign classifier.
var ErrInvalidMetadata = errors.New("model: invalid metadata")

type Metadata struct {
	InputShape  []int64  `json:"input_shape"`
	OutputShape []int64  `json:"output_shape"`
	InputName   string   `json:"input_name"`
	OutputName  string   `json:"output_name"`
	Classes     []string `json:"classes"`
	ImageSize   int      `json:"image_size"`
	Layout      string   `json:"layout"`
}

// DefaultMetadata describes the stock model: NHWC float input of 1x30x30x3
// and 43 scores out.
func DefaultMetadata() Metadata {
	return Metadata{
		InputShape:  []int64{1, tensor.Height, tensor.Width, tensor.Channels},
		OutputShape: []int64{1, labels.Count},
		InputName:   "input",
		OutputName:  "output",
		ImageSize:   tensor.Width,
		Layout:      "nhwc",
	}
}

// LoadMetadata reads a metadata JSON file. Missing fields fall back to
// DefaultMetadata.
func LoadMetadata(path string) (Metadata, error) {
	meta := DefaultMetadata()

	data, err := os.ReadFile(path)
	if err != nil {
		return meta, fmt.Errorf("failed to read metadata: %w", err)
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("failed to parse metadata: %w", err)
	}
	if err := meta.Validate(); err != nil {
		return meta, err
	}
	return meta, nil
}

// Validate checks that the shapes agree with the image size and class count.
func (m Metadata) Validate() error {
	if m.ImageSize <= 0 {
		return fmt.Errorf("%w: image_size must be > 0 (got %d)", ErrInvalidMetadata, m.ImageSize)
	}
	if _, err := tensor.ParseLayout(m.Layout); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}
	if got, want := elements(m.InputShape), tensor.Len(m.ImageSize); got != want {
		return fmt.Errorf("%w: input_shape %v holds %d values, want %d", ErrInvalidMetadata, m.InputShape, got, want)
	}
	if got := elements(m.OutputShape); got != labels.Count {
		return fmt.Errorf("%w: output_shape %v holds %d values, want %d", ErrInvalidMetadata, m.OutputShape, got, labels.Count)
	}
	if len(m.Classes) != 0 && len(m.Classes) != labels.Count {
		return fmt.Errorf("%w: %d classes, want %d", ErrInvalidMetadata, len(m.Classes), labels.Count)
	}
	return nil
}

// Encoder returns the tensor encoder matching the model input.
func (m Metadata) Encoder() tensor.Encoder {
	layout, _ := tensor.ParseLayout(m.Layout)
	return tensor.Encoder{Size: m.ImageSize, Layout: layout}
}

// Table returns the class table from the metadata, or nil when it has none.
func (m Metadata) Table() (*labels.Table, error) {
	if len(m.Classes) == 0 {
		return nil, nil
	}
	return labels.NewTable(m.Classes)
}

// InputLen is the number of float32 values the model consumes.
func (m Metadata) InputLen() int {
	return elements(m.InputShape)
}

// OutputLen is the number of float32 values the model produces.
func (m Metadata) OutputLen() int {
	return elements(m.OutputShape)
}

func elements(shape []int64) int {
	if len(shape) == 0 {
		return 0
	}
	n := 1
	for _, d := range shape {
		if d <= 0 {
			return 0
		}
		n *= int(d)
	}
	return n
}
