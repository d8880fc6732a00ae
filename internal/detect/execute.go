package detect

import (
	"context"

	"github.com/pkg/errors"

	"github.com/mpromonet/tflite-live/internal/loader"
	"github.com/mpromonet/tflite-live/internal/tensor"
)

// RawOutputs are the graph outputs of one inference, in model-contract order.
type RawOutputs struct {
	Boxes   *tensor.Tensor
	Scores  *tensor.Tensor
	Classes *tensor.Tensor
}

// Dispose releases all three tensors.
func (r *RawOutputs) Dispose() {
	if r == nil {
		return
	}
	tensor.Dispose(r.Boxes, r.Scores, r.Classes)
}

// Data copies the outputs to host memory.
func (r *RawOutputs) Data() (RawData, error) {
	boxes, err := r.Boxes.DataSync()
	if err != nil {
		return RawData{}, errors.Wrap(err, "boxes")
	}
	scores, err := r.Scores.DataSync()
	if err != nil {
		return RawData{}, errors.Wrap(err, "scores")
	}
	classes, err := r.Classes.DataSync()
	if err != nil {
		return RawData{}, errors.Wrap(err, "classes")
	}
	return RawData{Boxes: boxes, Scores: scores, Classes: classes}, nil
}

// Execute runs model on input and returns its outputs allocated in s. A nil model means
// the model is not loaded yet: Execute returns (nil, nil) without doing anything.
// input is never modified; the caller disposes input and outputs.
func Execute(ctx context.Context, s *tensor.Scope, model *loader.Model, input *tensor.Tensor) (*RawOutputs, error) {
	if model == nil {
		return nil, nil
	}
	outputs, err := model.Execute(ctx, s, input)
	if err != nil {
		return nil, errors.Wrapf(err, "inference with %s failed", model.ID)
	}
	if len(outputs) < 3 {
		tensor.Dispose(outputs...)
		return nil, errors.Errorf("model %s returned %d outputs, want boxes, scores and classes", model.ID, len(outputs))
	}
	// anything past the triple (e.g. a detection count) is not used
	tensor.Dispose(outputs[3:]...)
	return &RawOutputs{Boxes: outputs[0], Scores: outputs[1], Classes: outputs[2]}, nil
}
