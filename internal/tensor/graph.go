package tensor

import "context"

// Info describes one input or output of a graph.
type Info struct {
	Name  string
	Shape []int
	DType string
}

// Graph is a loaded inference graph. Execute allocates its outputs in s; the caller owns
// both the inputs and the outputs.
type Graph interface {
	Inputs() []Info
	Outputs() []Info
	Execute(ctx context.Context, s *Scope, inputs ...*Tensor) ([]*Tensor, error)
	Close() error
}
