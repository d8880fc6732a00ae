/*
 * SPDX-License-Identifier: Unlicense
 *
 * This is free and unencumbered software released into the public domain.
 *
 * Anyone is free to copy, modify, publish, use, compile, sell, or distribute this
 * software, either in source code form or as a compiled binary, for any purpose,
 * commercial or non-commercial, and by any means.
 *
 * For more information, please refer to <http://unlicense.org/>
 */

package graph

import (
	"github.com/mattn/go-tflite"
	"github.com/pkg/errors"

	"github.com/mpromonet/tflite-live/internal/loader"
	"github.com/mpromonet/tflite-live/internal/tensor"
)

// PostProcessing converts the raw interpreter outputs into boxes [1, N, 4] (normalized
// x1, y1, x2, y2), scores [1, N] and classes [1, N], allocated in s.
type PostProcessing interface {
	extractResult(interp *tflite.Interpreter, s *tensor.Scope) ([]*tensor.Tensor, error)
}

func postProcessingFor(layout string, opts Options) (PostProcessing, error) {
	switch layout {
	case loader.LayoutNMS:
		return NmsPostProcessing{}, nil
	case loader.LayoutSSD:
		return SsdPostProcessing{}, nil
	case loader.LayoutYOLO:
		return YoloPostProcessing{ScoreThreshold: opts.ScoreThreshold, NMSThreshold: opts.NMSThreshold}, nil
	default:
		return nil, errors.Errorf("unsupported output layout %q", layout)
	}
}

// NmsPostProcessing is for graphs that already end with non-max suppression and emit
// boxes, scores and classes in that order.
type NmsPostProcessing struct{}

func (NmsPostProcessing) extractResult(interp *tflite.Interpreter, s *tensor.Scope) ([]*tensor.Tensor, error) {
	if interp.GetOutputTensorCount() < 3 {
		return nil, errors.Errorf("expected 3 outputs, got %d", interp.GetOutputTensorCount())
	}
	var out []*tensor.Tensor
	for idx := 0; idx < 3; idx++ {
		output := interp.GetOutputTensor(idx)
		data, err := readOutput(output)
		if err != nil {
			tensor.Dispose(out...)
			return nil, err
		}
		t, err := s.FromData(getTensorShape(output), data)
		if err != nil {
			tensor.Dispose(out...)
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// triple allocates the boxes, scores and classes tensors for n detections.
func triple(s *tensor.Scope, boxes, scores, classes []float32) ([]*tensor.Tensor, error) {
	n := len(scores)
	b, err := s.FromData([]int{1, n, 4}, boxes)
	if err != nil {
		return nil, err
	}
	sc, err := s.FromData([]int{1, n}, scores)
	if err != nil {
		b.Dispose()
		return nil, err
	}
	c, err := s.FromData([]int{1, n}, classes)
	if err != nil {
		tensor.Dispose(b, sc)
		return nil, err
	}
	return []*tensor.Tensor{b, sc, c}, nil
}

func clamp01(v float32) float32 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
