package loader

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/mpromonet/tflite-live/internal/tensor"
)

// ErrModelClosed is returned by Execute after Close.
var ErrModelClosed = errors.New("model is closed")

// Model is a loaded, warmed-up graph together with its manifest. Inference calls on the
// same Model never overlap.
type Model struct {
	ID       ID
	Manifest *Manifest

	mu     sync.Mutex
	graph  tensor.Graph
	closed bool
}

// NewModel wraps an already built graph.
func NewModel(id ID, manifest *Manifest, graph tensor.Graph) *Model {
	return &Model{ID: id, Manifest: manifest, graph: graph}
}

// InputShape returns the declared [1, height, width, channels] input shape.
func (m *Model) InputShape() []int {
	return m.Manifest.InputShape()
}

// InputSize returns the width and height the model expects.
func (m *Model) InputSize() (width, height int) {
	shape := m.InputShape()
	return shape[2], shape[1]
}

// Layout returns the declared output layout.
func (m *Model) Layout() string {
	return m.Manifest.OutputLayout
}

// Execute runs the graph on input, allocating outputs in s.
func (m *Model) Execute(ctx context.Context, s *tensor.Scope, input *tensor.Tensor) ([]*tensor.Tensor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrModelClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.graph.Execute(ctx, s, input)
}

// Close releases the graph. It waits for an in-flight Execute to finish.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.graph.Close()
}
