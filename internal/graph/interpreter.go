// Package graph executes TensorFlow Lite detection models, optionally on an Edge TPU.
package graph

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/mattn/go-tflite"
	"github.com/mattn/go-tflite/delegates/edgetpu"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/mpromonet/tflite-live/internal/loader"
	"github.com/mpromonet/tflite-live/internal/tensor"
)

// Options configure the interpreters created by Builder.
type Options struct {
	Threads        int
	EdgeTPU        bool
	ScoreThreshold float32
	NMSThreshold   float32
	Logger         *zap.SugaredLogger
}

// Interpreter is a tensor.Graph backed by a tflite interpreter.
type Interpreter struct {
	mu       sync.Mutex
	model    *tflite.Model
	interp   *tflite.Interpreter
	postproc PostProcessing
	inputs   []tensor.Info
	outputs  []tensor.Info
	logger   *zap.SugaredLogger
}

// Builder returns a loader.GraphBuilder producing Interpreters.
func Builder(opts Options) loader.GraphBuilder {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	return func(ctx context.Context, manifest *loader.Manifest, weights []byte) (tensor.Graph, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		postproc, err := postProcessingFor(manifest.OutputLayout, opts)
		if err != nil {
			return nil, err
		}
		return NewInterpreter(weights, postproc, opts)
	}
}

// NewInterpreter builds an interpreter from a flatbuffer model.
func NewInterpreter(weights []byte, postproc PostProcessing, opts Options) (*Interpreter, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	model := tflite.NewModel(weights)
	if model == nil {
		return nil, errors.New("cannot load model")
	}

	options := tflite.NewInterpreterOptions()
	defer options.Delete()

	if opts.Threads > 0 {
		options.SetNumThread(opts.Threads)
	}
	options.SetErrorReporter(func(msg string, _ interface{}) {
		logger.Warnw("tflite", "msg", msg)
	}, nil)

	if opts.EdgeTPU {
		// add TPU
		devices, err := edgetpu.DeviceList()
		if err != nil {
			logger.Warnw("could not get EdgeTPU devices", "error", err)
		}
		if len(devices) == 0 {
			logger.Info("no edge TPU devices found")
		} else {
			options.AddDelegate(edgetpu.New(devices[0]))
		}
	}

	interp := tflite.NewInterpreter(model, options)
	if interp == nil {
		model.Delete()
		return nil, errors.New("cannot create interpreter")
	}
	if status := interp.AllocateTensors(); status != tflite.OK {
		interp.Delete()
		model.Delete()
		return nil, errors.Errorf("allocate failed: %v", status)
	}

	g := &Interpreter{model: model, interp: interp, postproc: postproc, logger: logger}
	for idx := 0; idx < interp.GetInputTensorCount(); idx++ {
		g.inputs = append(g.inputs, tensorInfo(interp.GetInputTensor(idx)))
	}
	for idx := 0; idx < interp.GetOutputTensorCount(); idx++ {
		g.outputs = append(g.outputs, tensorInfo(interp.GetOutputTensor(idx)))
	}
	logger.Debugw("interpreter ready", "inputs", g.inputs, "outputs", g.outputs)
	return g, nil
}

// Inputs describes the graph inputs.
func (g *Interpreter) Inputs() []tensor.Info { return g.inputs }

// Outputs describes the raw graph outputs, before post-processing.
func (g *Interpreter) Outputs() []tensor.Info { return g.outputs }

// Execute fills the single input, invokes the interpreter and returns boxes, scores and
// classes allocated in s.
func (g *Interpreter) Execute(ctx context.Context, s *tensor.Scope, inputs ...*tensor.Tensor) ([]*tensor.Tensor, error) {
	if len(inputs) != 1 {
		return nil, errors.Errorf("expected 1 input, got %d", len(inputs))
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.interp == nil {
		return nil, loader.ErrModelClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := fillInput(g.interp.GetInputTensor(0), inputs[0]); err != nil {
		return nil, err
	}
	if status := g.interp.Invoke(); status != tflite.OK {
		return nil, errors.Errorf("invoke failed: %v", status)
	}
	return g.postproc.extractResult(g.interp, s)
}

// Close releases the interpreter and the model.
func (g *Interpreter) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.interp == nil {
		return nil
	}
	g.interp.Delete()
	g.model.Delete()
	g.interp, g.model = nil, nil
	return nil
}

func getTensorShape(t *tflite.Tensor) []int {
	shape := []int{}
	for idx := 0; idx < t.NumDims(); idx++ {
		shape = append(shape, t.Dim(idx))
	}
	return shape
}

func tensorInfo(t *tflite.Tensor) tensor.Info {
	return tensor.Info{Name: t.Name(), Shape: getTensorShape(t), DType: fmt.Sprint(t.Type())}
}

// fillInput copies a [1, h, w, 3] tensor with values in [0, 1] into the interpreter input.
// Quantized inputs get the values rescaled to [0, 255].
func fillInput(input *tflite.Tensor, t *tensor.Tensor) error {
	want := getTensorShape(input)
	if !slices.Equal(want, t.Shape()) {
		return errors.Errorf("input shape %v does not match model input %v", t.Shape(), want)
	}
	data, err := t.DataSync()
	if err != nil {
		return err
	}
	var setErr error
	switch input.Type() {
	case tflite.UInt8:
		setErr = input.SetUint8s(quantize(data))
	case tflite.Float32:
		setErr = input.SetFloat32s(data)
	default:
		return errors.Errorf("unsupported input type %v", input.Type())
	}
	return errors.Wrap(setErr, "could not set input")
}

// readOutput copies an output tensor to host memory as float32, dequantizing uint8 data.
func readOutput(output *tflite.Tensor) ([]float32, error) {
	switch output.Type() {
	case tflite.UInt8:
		q := output.QuantizationParams()
		return dequantize(output.UInt8s(), q.Scale, q.ZeroPoint), nil
	case tflite.Float32:
		f := output.Float32s()
		loc := make([]float32, len(f))
		copy(loc, f)
		return loc, nil
	default:
		return nil, errors.Errorf("unsupported output type %v for %s", output.Type(), output.Name())
	}
}

func quantize(data []float32) []uint8 {
	out := make([]uint8, len(data))
	for i, v := range data {
		v *= 255
		switch {
		case v <= 0:
			out[i] = 0
		case v >= 255:
			out[i] = 255
		default:
			out[i] = uint8(v + 0.5)
		}
	}
	return out
}

// dequantize maps uint8 values back to floats; a zero scale falls back to v/255.
func dequantize(f []uint8, scale float64, zeroPoint int) []float32 {
	loc := make([]float32, len(f))
	for i, v := range f {
		if scale == 0 {
			loc[i] = float32(v) / 255
		} else {
			loc[i] = float32(scale * float64(int(v)-zeroPoint))
		}
	}
	return loc
}
