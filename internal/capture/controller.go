// Package capture runs the acquire, preprocess, infer, decode and render loop over a
// camera stream.
package capture

import (
	"context"
	"image"
	"iter"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/mpromonet/tflite-live/internal/camera"
	"github.com/mpromonet/tflite-live/internal/detect"
	"github.com/mpromonet/tflite-live/internal/loader"
	"github.com/mpromonet/tflite-live/internal/overlay"
	"github.com/mpromonet/tflite-live/internal/tensor"
)

var (
	// ErrModelNotLoaded is returned by Start before a model is set.
	ErrModelNotLoaded = errors.New("model is not loaded")
	// ErrStreaming is returned by SetModel while the loop runs.
	ErrStreaming = errors.New("cannot switch model while streaming")
)

// State of the controller.
type State int

// Controller states.
const (
	Idle State = iota
	Streaming
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Streaming:
		return "streaming"
	default:
		return "unknown"
	}
}

// Frame is the result of one completed iteration.
type Frame struct {
	Image      image.Image
	Overlay    *image.RGBA
	Detections []detect.Detection
	Notable    bool
	At         time.Time
}

// FrameSink receives every rendered frame.
type FrameSink interface {
	Publish(f Frame)
}

// Metrics counts loop outcomes.
type Metrics struct {
	Frames      int64         `json:"frames"`
	NoOps       int64         `json:"noops"`
	Failures    int64         `json:"failures"`
	LastLatency time.Duration `json:"last_latency"`
}

// Config holds the collaborators of a Controller.
type Config struct {
	Devices   camera.MediaDevices
	Scheduler FrameScheduler
	Engine    *tensor.Engine
	Labels    detect.Labels
	Canvas    *overlay.Canvas
	Renderer  *overlay.Renderer
	Sink      FrameSink
	Clock     clock.Clock
	Logger    *zap.SugaredLogger
}

// session is one Streaming period, from Start to Stop.
type session struct {
	stream camera.Stream
	ctx    context.Context
	cancel context.CancelFunc

	// guarded by Controller.mu
	pending Handle
	armed   bool

	inflight sync.WaitGroup
}

// Controller owns the loop state. Iterations run one at a time on the scheduler's
// callback; the next one is requested only when the current one ends.
type Controller struct {
	cfg Config

	// lifecycle serializes Start, Stop and SetModel
	lifecycle sync.Mutex

	mu      sync.Mutex
	state   State
	model   *loader.Model
	session *session
	err     error

	frames   atomic.Int64
	noops    atomic.Int64
	failures atomic.Int64
	latency  atomic.Duration
}

// NewController returns an Idle controller.
func NewController(cfg Config) *Controller {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	if cfg.Engine == nil {
		cfg.Engine = tensor.NewEngine()
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = NewRefreshScheduler(cfg.Clock, DefaultFrameRate)
	}
	return &Controller{cfg: cfg}
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the error that ended the last session, if any.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Model returns the current model, nil until one is set.
func (c *Controller) Model() *loader.Model {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model
}

// Metrics returns a snapshot of the loop counters.
func (c *Controller) Metrics() Metrics {
	return Metrics{
		Frames:      c.frames.Load(),
		NoOps:       c.noops.Load(),
		Failures:    c.failures.Load(),
		LastLatency: c.latency.Load(),
	}
}

// SetModel installs m and returns the model it replaces. The caller closes the old one.
func (c *Controller) SetModel(m *loader.Model) (*loader.Model, error) {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Streaming {
		return nil, ErrStreaming
	}
	old := c.model
	c.model = m
	return old, nil
}

// Start acquires the camera and schedules the first iteration. It is a no-op while
// already Streaming. ctx bounds camera acquisition only.
func (c *Controller) Start(ctx context.Context, constraints camera.Constraints) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.Lock()
	if c.state == Streaming {
		c.mu.Unlock()
		return nil
	}
	if c.model == nil {
		c.mu.Unlock()
		return ErrModelNotLoaded
	}
	c.mu.Unlock()

	stream, err := c.cfg.Devices.GetUserMedia(ctx, constraints)
	if err != nil {
		return err
	}

	sctx, cancel := context.WithCancel(context.Background())
	sess := &session{stream: stream, ctx: sctx, cancel: cancel}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = sess
	c.state = Streaming
	c.err = nil
	c.arm(sess)
	c.cfg.Logger.Infow("capture started", "model", c.model.ID, "constraints", constraints)
	return nil
}

// Stop cancels the pending iteration, waits for an in-flight one to finish and stops every
// camera track. No render happens after Stop returns. It is a no-op while Idle.
func (c *Controller) Stop() {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.Lock()
	sess := c.session
	if sess == nil {
		c.mu.Unlock()
		return
	}
	c.detach(sess)
	c.mu.Unlock()

	sess.inflight.Wait()
	camera.StopAll(sess.stream)
	c.cfg.Logger.Info("capture stopped")
}

// Close stops the loop and releases the model.
func (c *Controller) Close() error {
	c.Stop()
	old, err := c.SetModel(nil)
	if err != nil {
		return err
	}
	if old != nil {
		return old.Close()
	}
	return nil
}

// detach ends sess without waiting for it. c.mu must be held.
func (c *Controller) detach(sess *session) {
	if sess.armed {
		c.cfg.Scheduler.CancelFrame(sess.pending)
		sess.armed = false
	}
	sess.cancel()
	if c.session == sess {
		c.session = nil
		c.state = Idle
	}
}

// arm requests the next iteration of sess. c.mu must be held.
func (c *Controller) arm(sess *session) {
	if c.session != sess || sess.armed {
		return
	}
	sess.pending = c.cfg.Scheduler.RequestFrame(func() { c.tick(sess) })
	sess.armed = true
}

func (c *Controller) tick(sess *session) {
	c.mu.Lock()
	if c.session != sess {
		c.mu.Unlock()
		return
	}
	sess.armed = false
	sess.inflight.Add(1)
	model := c.model
	c.mu.Unlock()
	defer sess.inflight.Done()

	start := c.cfg.Clock.Now()
	rendered, err := c.iterate(sess, model)

	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case err != nil:
		c.failures.Inc()
		if c.session == sess {
			c.cfg.Logger.Errorw("capture iteration failed", "error", err)
			c.err = err
			c.detach(sess)
			camera.StopAll(sess.stream)
		}
		return
	case rendered:
		c.frames.Inc()
		c.latency.Store(c.cfg.Clock.Since(start))
	default:
		c.noops.Inc()
	}
	c.arm(sess)
}

// iterate runs one acquire-to-render pass. It returns false without error when there is
// nothing to do: no model, a detached stream, or a session that ended mid-flight.
func (c *Controller) iterate(sess *session, model *loader.Model) (bool, error) {
	scope := c.cfg.Engine.StartScope()
	defer scope.End()

	if model == nil || !attached(sess.stream) {
		return false, nil
	}
	frame, err := sess.stream.ReadFrame(sess.ctx)
	if err != nil {
		if sess.ctx.Err() != nil || errors.Is(err, camera.ErrStreamStopped) {
			return false, nil
		}
		return false, errors.Wrap(err, "could not read frame")
	}

	width, height := model.InputSize()
	input, err := detect.Preprocess(scope, frame, width, height)
	if err != nil {
		return false, errors.Wrap(err, "preprocess")
	}
	out, err := detect.Execute(sess.ctx, scope, model, input)
	if err != nil {
		if sess.ctx.Err() != nil {
			return false, nil
		}
		return false, err
	}
	if out == nil {
		return false, nil
	}
	defer out.Dispose()

	raw, err := out.Data()
	if err != nil {
		return false, err
	}
	seq, err := detect.Decode(raw, c.cfg.Labels, c.cfg.Canvas.Width(), c.cfg.Canvas.Height())
	if err != nil {
		return false, err
	}

	var dets []detect.Detection
	c.mu.Lock()
	if c.session != sess {
		c.mu.Unlock()
		return false, nil
	}
	notable := c.cfg.Renderer.Render(collect(seq, &dets), c.cfg.Canvas)
	var snapshot *image.RGBA
	if c.cfg.Sink != nil {
		snapshot = c.cfg.Canvas.Snapshot()
	}
	c.mu.Unlock()

	c.cfg.Logger.Debugw("frame rendered", "detections", len(dets), "notable", notable)
	if c.cfg.Sink != nil {
		c.cfg.Sink.Publish(Frame{
			Image:      frame,
			Overlay:    snapshot,
			Detections: dets,
			Notable:    notable,
			At:         c.cfg.Clock.Now(),
		})
	}
	return true, nil
}

func attached(s camera.Stream) bool {
	if s == nil {
		return false
	}
	for _, t := range s.Tracks() {
		if t.Live() {
			return true
		}
	}
	return false
}

// collect passes seq through, keeping a copy of every detection in dst.
func collect(seq iter.Seq[detect.Detection], dst *[]detect.Detection) iter.Seq[detect.Detection] {
	return func(yield func(detect.Detection) bool) {
		for d := range seq {
			*dst = append(*dst, d)
			if !yield(d) {
				return
			}
		}
	}
}
