package loader

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.viam.com/test"

	"github.com/mpromonet/tflite-live/internal/tensor"
)

const testManifest = `{
  "format": "tflite",
  "inputs": [{"name": "images", "shape": [1, 4, 4, 3], "dtype": "float32"}],
  "outputs": [{"name": "boxes"}, {"name": "scores"}, {"name": "classes"}],
  "outputLayout": "nms",
  "weightsManifest": [{"paths": ["group1-shard1of2.bin", "group1-shard2of2.bin"]}]
}`

type memFetcher struct {
	files       map[string][]byte
	unknownSize bool
}

func (m *memFetcher) Fetch(_ context.Context, name string) (io.ReadCloser, int64, error) {
	data, ok := m.files[name]
	if !ok {
		return nil, 0, os.ErrNotExist
	}
	size := int64(len(data))
	if m.unknownSize {
		size = -1
	}
	return io.NopCloser(bytes.NewReader(data)), size, nil
}

type stubGraph struct {
	inputs   [][]int
	closed   bool
	execErr  error
	executed int
}

func (g *stubGraph) Inputs() []tensor.Info  { return nil }
func (g *stubGraph) Outputs() []tensor.Info { return nil }
func (g *stubGraph) Close() error           { g.closed = true; return nil }

func (g *stubGraph) Execute(_ context.Context, s *tensor.Scope, inputs ...*tensor.Tensor) ([]*tensor.Tensor, error) {
	g.executed++
	g.inputs = append(g.inputs, inputs[0].Shape())
	if g.execErr != nil {
		return nil, g.execErr
	}
	boxes, err := s.Zeros([]int{1, 2, 4})
	if err != nil {
		return nil, err
	}
	scores, err := s.Zeros([]int{1, 2})
	if err != nil {
		return nil, err
	}
	classes, err := s.Zeros([]int{1, 2})
	if err != nil {
		return nil, err
	}
	return []*tensor.Tensor{boxes, scores, classes}, nil
}

func newTestFetcher() *memFetcher {
	return &memFetcher{files: map[string][]byte{
		"model/yolov5/yolov5s/model.json":           []byte(testManifest),
		"model/yolov5/yolov5s/group1-shard1of2.bin": bytes.Repeat([]byte{1}, 3000),
		"model/yolov5/yolov5s/group1-shard2of2.bin": bytes.Repeat([]byte{2}, 1000),
	}}
}

func TestLoadReportsProgressAndWarmsUp(t *testing.T) {
	for _, unknown := range []bool{false, true} {
		fetcher := newTestFetcher()
		fetcher.unknownSize = unknown
		graph := &stubGraph{}
		var weights []byte
		build := func(_ context.Context, m *Manifest, w []byte) (tensor.Graph, error) {
			weights = w
			return graph, nil
		}
		eng := tensor.NewEngine()
		l := New(fetcher, build, eng, zap.NewNop().Sugar())

		var fractions []float64
		model, err := l.Load(context.Background(), DefaultID, func(f float64) {
			fractions = append(fractions, f)
		})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, model.ID, test.ShouldResemble, DefaultID)

		test.That(t, fractions, test.ShouldNotBeEmpty)
		for i := 1; i < len(fractions); i++ {
			test.That(t, fractions[i], test.ShouldBeGreaterThanOrEqualTo, fractions[i-1])
		}
		test.That(t, fractions[len(fractions)-1], test.ShouldEqual, 1.0)

		// shards concatenated in manifest order
		test.That(t, len(weights), test.ShouldEqual, 4000)
		test.That(t, weights[0], test.ShouldEqual, byte(1))
		test.That(t, weights[3999], test.ShouldEqual, byte(2))

		// one warm-up pass on the declared shape, nothing left allocated
		test.That(t, graph.executed, test.ShouldEqual, 1)
		test.That(t, graph.inputs[0], test.ShouldResemble, []int{1, 4, 4, 3})
		test.That(t, eng.NumTensors(), test.ShouldEqual, 0)

		w, h := model.InputSize()
		test.That(t, w, test.ShouldEqual, 4)
		test.That(t, h, test.ShouldEqual, 4)
		test.That(t, model.Close(), test.ShouldBeNil)
		test.That(t, graph.closed, test.ShouldBeTrue)
	}
}

func TestLoadMissingManifest(t *testing.T) {
	l := New(&memFetcher{files: map[string][]byte{}}, nil, tensor.NewEngine(), zap.NewNop().Sugar())
	_, err := l.Load(context.Background(), DefaultID, nil)
	test.That(t, err, test.ShouldNotBeNil)

	var loadErr *LoadError
	test.That(t, errors.As(err, &loadErr), test.ShouldBeTrue)
	test.That(t, loadErr.ID, test.ShouldResemble, DefaultID)
	test.That(t, errors.Is(err, os.ErrNotExist), test.ShouldBeTrue)
}

func TestLoadMissingShard(t *testing.T) {
	fetcher := newTestFetcher()
	delete(fetcher.files, "model/yolov5/yolov5s/group1-shard2of2.bin")
	l := New(fetcher, nil, tensor.NewEngine(), zap.NewNop().Sugar())
	_, err := l.Load(context.Background(), DefaultID, nil)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "group1-shard2of2.bin")
}

func TestLoadBuildAndWarmUpFailures(t *testing.T) {
	eng := tensor.NewEngine()
	build := func(context.Context, *Manifest, []byte) (tensor.Graph, error) {
		return nil, errors.New("bad flatbuffer")
	}
	_, err := New(newTestFetcher(), build, eng, zap.NewNop().Sugar()).Load(context.Background(), DefaultID, nil)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "bad flatbuffer")

	graph := &stubGraph{execErr: errors.New("invoke failed")}
	build = func(context.Context, *Manifest, []byte) (tensor.Graph, error) { return graph, nil }
	_, err = New(newTestFetcher(), build, eng, zap.NewNop().Sugar()).Load(context.Background(), DefaultID, nil)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "warm-up failed")
	test.That(t, graph.closed, test.ShouldBeTrue)
	test.That(t, eng.NumTensors(), test.ShouldEqual, 0)
}

// newModelServer serves fetcher's files under /assets. In chunked mode responses carry
// no Content-Length.
func newModelServer(t *testing.T, files map[string][]byte, chunked bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, ok := files[strings.TrimPrefix(r.URL.Path, "/assets/")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		if chunked {
			w.WriteHeader(http.StatusOK)
			w.(http.Flusher).Flush()
		}
		w.Write(data)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPFetcherLoad(t *testing.T) {
	for _, chunked := range []bool{false, true} {
		srv := newModelServer(t, newTestFetcher().files, chunked)
		fetcher, err := NewFetcher(srv.URL + "/assets")
		test.That(t, err, test.ShouldBeNil)
		_, isHTTP := fetcher.(*HTTPFetcher)
		test.That(t, isHTTP, test.ShouldBeTrue)

		rc, size, err := fetcher.Fetch(context.Background(), "model/yolov5/yolov5s/group1-shard2of2.bin")
		test.That(t, err, test.ShouldBeNil)
		test.That(t, rc.Close(), test.ShouldBeNil)
		if chunked {
			test.That(t, size, test.ShouldEqual, -1)
		} else {
			test.That(t, size, test.ShouldEqual, 1000)
		}

		var weights []byte
		build := func(_ context.Context, _ *Manifest, w []byte) (tensor.Graph, error) {
			weights = w
			return &stubGraph{}, nil
		}
		var fractions []float64
		model, err := New(fetcher, build, tensor.NewEngine(), zap.NewNop().Sugar()).
			Load(context.Background(), DefaultID, func(f float64) { fractions = append(fractions, f) })
		test.That(t, err, test.ShouldBeNil)
		test.That(t, weights, test.ShouldHaveLength, 4000)
		test.That(t, fractions, test.ShouldNotBeEmpty)
		for i := 1; i < len(fractions); i++ {
			test.That(t, fractions[i], test.ShouldBeGreaterThanOrEqualTo, fractions[i-1])
		}
		test.That(t, fractions[len(fractions)-1], test.ShouldEqual, 1.0)
		test.That(t, model.Close(), test.ShouldBeNil)
	}
}

func TestHTTPFetcherNotFound(t *testing.T) {
	files := newTestFetcher().files
	delete(files, "model/yolov5/yolov5s/model.json")
	srv := newModelServer(t, files, false)
	fetcher, err := NewFetcher(srv.URL + "/assets")
	test.That(t, err, test.ShouldBeNil)

	_, err = New(fetcher, nil, tensor.NewEngine(), zap.NewNop().Sugar()).Load(context.Background(), DefaultID, nil)
	var loadErr *LoadError
	test.That(t, errors.As(err, &loadErr), test.ShouldBeTrue)
	test.That(t, loadErr.ID, test.ShouldResemble, DefaultID)
	test.That(t, err.Error(), test.ShouldContainSubstring, "404")
	test.That(t, err.Error(), test.ShouldContainSubstring, "model.json")
}

func TestDirFetcher(t *testing.T) {
	dir := t.TempDir()
	modelDir := filepath.Join(dir, "model", "yolov5", "yolov5s")
	test.That(t, os.MkdirAll(modelDir, 0o755), test.ShouldBeNil)
	for name, data := range newTestFetcher().files {
		test.That(t, os.WriteFile(filepath.Join(dir, filepath.FromSlash(name)), data, 0o644), test.ShouldBeNil)
	}

	fetcher, err := NewFetcher(dir)
	test.That(t, err, test.ShouldBeNil)
	build := func(context.Context, *Manifest, []byte) (tensor.Graph, error) { return &stubGraph{}, nil }
	model, err := New(fetcher, build, tensor.NewEngine(), zap.NewNop().Sugar()).Load(context.Background(), DefaultID, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, model.Layout(), test.ShouldEqual, LayoutNMS)
}

func TestManifestValidation(t *testing.T) {
	for _, tc := range []struct {
		name string
		doc  string
		msg  string
	}{
		{"not json", `{`, "invalid model manifest"},
		{"format", `{"format":"onnx"}`, "unsupported model format"},
		{"rank", `{"inputs":[{"shape":[1,4,4]}],"outputLayout":"nms"}`, "input shape"},
		{"layout", `{"inputs":[{"shape":[1,4,4,3]}],"outputLayout":"mystery"}`, "unknown output layout"},
		{"shards", `{"inputs":[{"shape":[1,4,4,3]}],"outputLayout":"ssd"}`, "no weight shards"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseManifest([]byte(tc.doc))
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, err.Error(), test.ShouldContainSubstring, tc.msg)
		})
	}

	m, err := ParseManifest([]byte(`{"inputs":[{"shape":[-1,320,320,3]}],"outputLayout":"yolo","weightsManifest":[{"paths":["a.bin"]}]}`))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m.InputShape(), test.ShouldResemble, []int{1, 320, 320, 3})
}

func TestZooResolve(t *testing.T) {
	id, err := DefaultZoo.Resolve("yolov5", "yolov5n")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, id.String(), test.ShouldEqual, "yolov5/yolov5n")

	_, err = DefaultZoo.Resolve("yolov5", "yolov5x")
	test.That(t, err, test.ShouldNotBeNil)
	_, err = DefaultZoo.Resolve("ssd", "mobilenet")
	test.That(t, err, test.ShouldNotBeNil)
}
