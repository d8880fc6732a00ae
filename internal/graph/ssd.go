/* ---------------------------------------------------------------------------
** This software is in the public domain, furnished "as is", without technical
** support, and with no warranty, express or implied, as to its usefulness for
** any purpose.
** -------------------------------------------------------------------------*/

package graph

import (
	"github.com/mattn/go-tflite"
	"github.com/pkg/errors"

	"github.com/mpromonet/tflite-live/internal/tensor"
)

// SsdPostProcessing reads the TFLite detection post-process outputs: locations
// (ymin, xmin, ymax, xmax), classes, scores and an optional detection count.
type SsdPostProcessing struct{}

func (p SsdPostProcessing) extractResult(interp *tflite.Interpreter, s *tensor.Scope) ([]*tensor.Tensor, error) {
	if interp.GetOutputTensorCount() < 3 {
		return nil, errors.Errorf("expected at least 3 outputs, got %d", interp.GetOutputTensorCount())
	}
	var outs [4][]float32
	for idx := 0; idx < interp.GetOutputTensorCount() && idx < 4; idx++ {
		f, err := readOutput(interp.GetOutputTensor(idx))
		if err != nil {
			return nil, err
		}
		outs[idx] = f
	}
	boxes, scores, classes := ssdReorder(outs[0], outs[1], outs[2], outs[3])
	return triple(s, boxes, scores, classes)
}

// ssdReorder turns SSD locations, classes and scores into aligned boxes (x1, y1, x2, y2),
// scores and classes. count, when present, limits the number of detections.
func ssdReorder(l, c, sc, count []float32) (boxes, scores, classes []float32) {
	n := min(len(l)/4, len(c), len(sc))
	if len(count) > 0 && int(count[0]) < n {
		n = max(int(count[0]), 0)
	}
	boxes = make([]float32, 0, 4*n)
	scores = make([]float32, 0, n)
	classes = make([]float32, 0, n)
	for idx := 0; idx < n; idx++ {
		boxes = append(boxes,
			clamp01(l[4*idx+1]), clamp01(l[4*idx]),
			clamp01(l[4*idx+3]), clamp01(l[4*idx+2]))
		scores = append(scores, sc[idx])
		classes = append(classes, c[idx])
	}
	return boxes, scores, classes
}
