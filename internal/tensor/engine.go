// Package tensor is the numeric runtime used by the detection pipeline. It hands out
// float32 tensors backed by gorgonia dense arrays and tracks every live allocation so
// that per-frame work can be released in bulk when its scope ends.
package tensor

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

// ErrDisposed is returned when an operation receives a tensor that was already released.
var ErrDisposed = errors.New("tensor already disposed")

// Engine owns tensor accounting. Scopes are explicit values so that goroutines never
// share an implicit scope stack.
type Engine struct {
	live   atomic.Int64
	nextID atomic.Uint64
}

// NewEngine returns an engine with no live tensors.
func NewEngine() *Engine {
	return &Engine{}
}

// NumTensors returns the number of allocated tensors that have not been disposed.
func (e *Engine) NumTensors() int {
	return int(e.live.Load())
}

// StartScope opens a root scope. Every tensor allocated through it (or through scopes
// nested in it) is disposed by End unless it was kept.
func (e *Engine) StartScope() *Scope {
	return &Scope{engine: e}
}

// Scope tracks the tensors allocated during a bounded region.
type Scope struct {
	engine  *Engine
	parent  *Scope
	mu      sync.Mutex
	tracked []*Tensor
	ended   bool
}

// Engine returns the engine the scope allocates from.
func (s *Scope) Engine() *Engine {
	return s.engine
}

// Child opens a nested scope whose kept tensors move into s.
func (s *Scope) Child() *Scope {
	return &Scope{engine: s.engine, parent: s}
}

// End disposes every tracked tensor that is still alive. Calling End twice is a no-op,
// which lets callers defer it and also end it early.
func (s *Scope) End() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	tracked := s.tracked
	s.tracked = nil
	s.mu.Unlock()

	for _, t := range tracked {
		t.Dispose()
	}
}

// Keep moves t out of s. If s has a parent the tensor is tracked there instead, so it
// survives the end of s but not the end of the parent.
func (s *Scope) Keep(t *Tensor) *Tensor {
	if t == nil {
		return nil
	}
	s.mu.Lock()
	for i, tt := range s.tracked {
		if tt == t {
			s.tracked = append(s.tracked[:i], s.tracked[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
	if s.parent != nil {
		s.parent.track(t)
	}
	return t
}

// Tidy runs fn in a child scope. The tensor fn returns escapes into s; everything else
// fn allocated is disposed before Tidy returns, including when fn fails.
func (s *Scope) Tidy(fn func(*Scope) (*Tensor, error)) (*Tensor, error) {
	child := s.Child()
	defer child.End()

	out, err := fn(child)
	if err != nil {
		return nil, err
	}
	return child.Keep(out), nil
}

func (s *Scope) track(t *Tensor) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		// nothing would ever release it
		t.Dispose()
		return
	}
	s.tracked = append(s.tracked, t)
	s.mu.Unlock()
}
