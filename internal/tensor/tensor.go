package tensor

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Tensor is a float32 n-dimensional array allocated by a Scope.
type Tensor struct {
	id     uint64
	engine *Engine
	shape  []int
	dense  *tensor.Dense

	mu       sync.Mutex
	disposed bool
}

// Shape returns a copy of the tensor's shape.
func (t *Tensor) Shape() []int {
	return append([]int(nil), t.shape...)
}

// Rank returns the number of dimensions.
func (t *Tensor) Rank() int {
	return len(t.shape)
}

// Size returns the number of elements.
func (t *Tensor) Size() int {
	return numElements(t.shape)
}

// DataSync copies the tensor contents to host memory.
func (t *Tensor) DataSync() ([]float32, error) {
	d, err := t.backing()
	if err != nil {
		return nil, err
	}
	if d == nil {
		return []float32{}, nil
	}
	data, ok := d.Data().([]float32)
	if !ok {
		return nil, errors.Errorf("unexpected backing type %T", d.Data())
	}
	out := make([]float32, len(data))
	copy(out, data)
	return out, nil
}

// Disposed reports whether the tensor has been released.
func (t *Tensor) Disposed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.disposed
}

// Dispose releases the tensor. It is safe to call more than once.
func (t *Tensor) Dispose() {
	if t == nil {
		return
	}
	t.mu.Lock()
	if t.disposed {
		t.mu.Unlock()
		return
	}
	t.disposed = true
	t.dense = nil
	t.mu.Unlock()
	t.engine.live.Dec()
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor#%d%v", t.id, t.shape)
}

// backing returns the dense array, or ErrDisposed once the tensor is released. Tensors
// with no elements have no dense array.
func (t *Tensor) backing() (*tensor.Dense, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disposed {
		return nil, ErrDisposed
	}
	return t.dense, nil
}

func numElements(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// Dispose releases every tensor in ts, skipping nil entries.
func Dispose(ts ...*Tensor) {
	for _, t := range ts {
		t.Dispose()
	}
}

// wrap registers a dense array with the engine and the scope.
func (s *Scope) wrap(d *tensor.Dense) *Tensor {
	return s.wrapShape(d.Shape(), d)
}

// wrapShape is wrap with an explicit shape; d is nil for empty tensors.
func (s *Scope) wrapShape(shape []int, d *tensor.Dense) *Tensor {
	t := &Tensor{
		id:     s.engine.nextID.Inc(),
		engine: s.engine,
		shape:  append([]int(nil), shape...),
		dense:  d,
	}
	s.engine.live.Inc()
	s.track(t)
	return t
}
