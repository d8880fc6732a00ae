// Package loader fetches detection model artifacts, builds their graphs and warms them up.
package loader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mpromonet/tflite-live/internal/tensor"
)

// LoadError reports a failed fetch, parse, build or warm-up. The capture loop must not
// start while the current model is in this state.
type LoadError struct {
	ID  ID
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("loading model %s: %v", e.ID, e.Err)
}

// Unwrap returns the underlying error.
func (e *LoadError) Unwrap() error { return e.Err }

// Cause returns the underlying error for github.com/pkg/errors.
func (e *LoadError) Cause() error { return e.Err }

// GraphBuilder turns the concatenated weight shards into an executable graph.
type GraphBuilder func(ctx context.Context, manifest *Manifest, weights []byte) (tensor.Graph, error)

// Loader loads models by ID.
type Loader struct {
	fetcher Fetcher
	build   GraphBuilder
	engine  *tensor.Engine
	logger  *zap.SugaredLogger
}

// New returns a Loader.
func New(fetcher Fetcher, build GraphBuilder, engine *tensor.Engine, logger *zap.SugaredLogger) *Loader {
	return &Loader{fetcher: fetcher, build: build, engine: engine, logger: logger}
}

// Load fetches model/<family>/<variant>/model.json and its shards, builds the graph and
// runs one warm-up inference. onProgress receives a non-decreasing sequence of fractions
// that ends at 1.0 once every shard has been received. Failures are *LoadError.
func (l *Loader) Load(ctx context.Context, id ID, onProgress func(float64)) (*Model, error) {
	start := time.Now()
	l.logger.Infow("loading model", "model", id.String())

	manifest, err := l.fetchManifest(ctx, id)
	if err != nil {
		return nil, &LoadError{ID: id, Err: err}
	}
	weights, err := l.fetchWeights(ctx, id, manifest, onProgress)
	if err != nil {
		return nil, &LoadError{ID: id, Err: err}
	}
	graph, err := l.build(ctx, manifest, weights)
	if err != nil {
		return nil, &LoadError{ID: id, Err: errors.Wrap(err, "could not build graph")}
	}

	model := NewModel(id, manifest, graph)
	if err := l.warmUp(ctx, model); err != nil {
		return nil, &LoadError{ID: id, Err: multierr.Combine(errors.Wrap(err, "warm-up failed"), model.Close())}
	}
	l.logger.Infow("model ready",
		"model", id.String(),
		"input_shape", model.InputShape(),
		"layout", manifest.OutputLayout,
		"elapsed", time.Since(start))
	return model, nil
}

func (l *Loader) fetchManifest(ctx context.Context, id ID) (*Manifest, error) {
	name := manifestPath(id)
	rc, _, err := l.fetcher.Fetch(ctx, name)
	if err != nil {
		return nil, errors.Wrapf(err, "could not fetch %s", name)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read %s", name)
	}
	return ParseManifest(data)
}

func (l *Loader) fetchWeights(ctx context.Context, id ID, manifest *Manifest, onProgress func(float64)) ([]byte, error) {
	dir := path.Dir(manifestPath(id))
	paths := manifest.ShardPaths()

	readers := make([]io.ReadCloser, 0, len(paths))
	sizes := make([]int64, 0, len(paths))
	defer func() {
		for _, rc := range readers {
			rc.Close()
		}
	}()
	for _, p := range paths {
		rc, size, err := l.fetcher.Fetch(ctx, path.Join(dir, p))
		if err != nil {
			return nil, errors.Wrapf(err, "could not fetch shard %s", p)
		}
		readers = append(readers, rc)
		sizes = append(sizes, size)
	}

	prog := newProgress(onProgress, sizes)
	shards := make([][]byte, len(readers))
	var g errgroup.Group
	for i, rc := range readers {
		i, rc := i, rc
		g.Go(func() error {
			var buf bytes.Buffer
			if sizes[i] > 0 {
				buf.Grow(int(sizes[i]))
			}
			if _, err := io.Copy(&buf, &countingReader{r: rc, p: prog}); err != nil {
				return errors.Wrapf(err, "could not read shard %s", paths[i])
			}
			shards[i] = buf.Bytes()
			prog.shardDone()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	prog.finish()
	return bytes.Join(shards, nil), nil
}

// warmUp forces deferred graph setup onto load time. Every tensor it allocates is
// released before it returns.
func (l *Loader) warmUp(ctx context.Context, model *Model) error {
	s := l.engine.StartScope()
	defer s.End()

	dummy, err := s.Zeros(model.InputShape())
	if err != nil {
		return err
	}
	outputs, err := model.Execute(ctx, s, dummy)
	tensor.Dispose(outputs...)
	dummy.Dispose()
	return err
}
