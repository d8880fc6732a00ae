// Package detect turns camera frames into detections: preprocessing, inference and
// decoding of the raw {boxes, scores, classes} outputs.
package detect

import (
	"image"

	"github.com/mpromonet/tflite-live/internal/tensor"
)

// Preprocess converts a frame into a [1, height, width, 3] tensor with values in [0, 1].
// Intermediates are released before it returns; only the result is tracked by s.
func Preprocess(s *tensor.Scope, frame image.Image, width, height int) (*tensor.Tensor, error) {
	return s.Tidy(func(s *tensor.Scope) (*tensor.Tensor, error) {
		pixels, err := s.FromPixels(frame)
		if err != nil {
			return nil, err
		}
		resized, err := s.ResizeBilinear(pixels, height, width)
		if err != nil {
			return nil, err
		}
		normalized, err := s.Div(resized, 255)
		if err != nil {
			return nil, err
		}
		return s.ExpandDims(normalized, 0)
	})
}
