// Package web exposes the detector over HTTP: the page, an MJPEG stream of the annotated
// video and a small JSON control API.
package web

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/mpromonet/tflite-live/internal/alert"
	"github.com/mpromonet/tflite-live/internal/camera"
	"github.com/mpromonet/tflite-live/internal/capture"
	"github.com/mpromonet/tflite-live/internal/detect"
	"github.com/mpromonet/tflite-live/internal/loader"
	"github.com/mpromonet/tflite-live/internal/tensor"
)

// ErrNotReady is returned by webcam operations while a model is loading or failed to load.
var ErrNotReady = errors.New("model is not ready")

// ModelLoader loads models by ID. *loader.Loader implements it.
type ModelLoader interface {
	Load(ctx context.Context, id loader.ID, onProgress func(float64)) (*loader.Model, error)
}

// Config holds the collaborators of an App.
type Config struct {
	Loader      ModelLoader
	Zoo         loader.Zoo
	Controller  *capture.Controller
	Flag        *alert.Flag
	Hub         *Hub
	Engine      *tensor.Engine
	Labels      detect.Labels
	Constraints camera.Constraints
	// Autostart starts the webcam whenever a background switch completes.
	Autostart bool
	StaticDir string
	Logger    *zap.SugaredLogger
}

// Status is the state reported to the page.
type Status struct {
	Model     string          `json:"model"`
	Requested string          `json:"requested,omitempty"`
	Loading   bool            `json:"loading"`
	Progress  float64         `json:"progress"`
	Ready     bool            `json:"ready"`
	LoadError string          `json:"load_error,omitempty"`
	State     string          `json:"state"`
	Error     string          `json:"error,omitempty"`
	Notable   bool            `json:"notable"`
	Viewers   int             `json:"viewers"`
	Metrics   capture.Metrics `json:"metrics"`
}

// App ties model selection, the capture loop and the notable flag together.
type App struct {
	cfg Config

	// switching allows one model switch at a time
	switching sync.Mutex
	// webcam serializes webcam start/stop with the stop and restart of a switch
	webcam sync.Mutex

	mu      sync.Mutex
	current loader.ID
	loading bool
	loadErr error
	// queued counts background switches that have not finished; requested is the
	// latest of them
	queued    int
	requested loader.ID

	progress atomic.Float64
	loads    sync.WaitGroup
}

// NewApp returns an App with no model loaded.
func NewApp(cfg Config) *App {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	if cfg.Zoo == nil {
		cfg.Zoo = loader.DefaultZoo
	}
	if cfg.Engine == nil {
		cfg.Engine = tensor.NewEngine()
	}
	if cfg.Flag != nil {
		logger := cfg.Logger
		cfg.Flag.OnChange(func(v bool) {
			logger.Infow("notable object", "detected", v)
		})
	}
	return &App{cfg: cfg}
}

// LoadModel replaces the current model with id. A running loop is stopped first and
// restarted once the new model is in place. On failure no model is installed.
func (a *App) LoadModel(ctx context.Context, id loader.ID) error {
	a.switching.Lock()
	defer a.switching.Unlock()
	return a.loadModel(ctx, id)
}

// SwitchModel starts LoadModel in the background. The webcam stays unavailable until
// every queued switch has finished.
func (a *App) SwitchModel(id loader.ID) {
	a.mu.Lock()
	a.queued++
	a.requested = id
	a.mu.Unlock()

	a.loads.Add(1)
	go func() {
		defer a.loads.Done()
		err := a.LoadModel(context.Background(), id)

		a.mu.Lock()
		a.queued--
		last := a.queued == 0
		a.mu.Unlock()

		if err != nil {
			a.cfg.Logger.Errorw("model switch failed", "model", id, "error", err)
			return
		}
		if a.cfg.Autostart && last {
			if err := a.StartWebcam(context.Background()); err != nil {
				a.cfg.Logger.Errorw("could not start webcam", "error", err)
			}
		}
	}()
}

func (a *App) loadModel(ctx context.Context, id loader.ID) error {
	ctrl := a.cfg.Controller

	a.webcam.Lock()
	a.mu.Lock()
	a.current = id
	a.loading = true
	a.loadErr = nil
	a.mu.Unlock()
	a.progress.Store(0)
	wasStreaming := ctrl.State() == capture.Streaming
	ctrl.Stop()
	a.webcam.Unlock()

	a.cfg.Logger.Infow("loading model", "model", id)
	model, loadErr := a.cfg.Loader.Load(ctx, id, a.progress.Store)

	a.webcam.Lock()
	defer a.webcam.Unlock()
	old, err := ctrl.SetModel(model)
	if err != nil {
		// only reachable if someone bypassed the webcam lock
		loadErr = multierr.Append(loadErr, err)
	}
	if old != nil {
		if err := old.Close(); err != nil {
			a.cfg.Logger.Warnw("could not close previous model", "model", old.ID, "error", err)
		}
	}

	a.mu.Lock()
	a.loading = false
	a.loadErr = loadErr
	a.mu.Unlock()

	if loadErr != nil {
		return loadErr
	}
	a.cfg.Logger.Infow("model ready", "model", id, "input", model.InputShape())
	if wasStreaming {
		return a.cfg.Controller.Start(ctx, a.cfg.Constraints)
	}
	return nil
}

// StartWebcam starts the capture loop.
func (a *App) StartWebcam(ctx context.Context) error {
	a.webcam.Lock()
	defer a.webcam.Unlock()
	if err := a.ready(); err != nil {
		return err
	}
	return a.cfg.Controller.Start(ctx, a.cfg.Constraints)
}

// StopWebcam stops the capture loop and releases the camera.
func (a *App) StopWebcam() {
	a.webcam.Lock()
	defer a.webcam.Unlock()
	a.cfg.Controller.Stop()
}

// ToggleWebcam starts the loop when Idle and stops it when Streaming. It returns the new
// state.
func (a *App) ToggleWebcam(ctx context.Context) (capture.State, error) {
	a.webcam.Lock()
	defer a.webcam.Unlock()
	ctrl := a.cfg.Controller
	if ctrl.State() == capture.Streaming {
		ctrl.Stop()
		return capture.Idle, nil
	}
	if err := a.ready(); err != nil {
		return capture.Idle, err
	}
	if err := ctrl.Start(ctx, a.cfg.Constraints); err != nil {
		return capture.Idle, err
	}
	return ctrl.State(), nil
}

func (a *App) ready() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.loading || a.queued > 0 {
		return ErrNotReady
	}
	if a.loadErr != nil {
		return a.loadErr
	}
	return nil
}

// Status returns a snapshot for the page.
func (a *App) Status() Status {
	a.mu.Lock()
	st := Status{Loading: a.loading || a.queued > 0}
	if a.current != (loader.ID{}) {
		st.Model = a.current.String()
	}
	if a.queued > 0 && a.requested != a.current {
		st.Requested = a.requested.String()
	}
	if a.loadErr != nil {
		st.LoadError = a.loadErr.Error()
	}
	a.mu.Unlock()

	ctrl := a.cfg.Controller
	st.Progress = a.progress.Load()
	st.Ready = !st.Loading && st.LoadError == "" && ctrl.Model() != nil
	st.State = ctrl.State().String()
	if err := ctrl.Err(); err != nil {
		st.Error = err.Error()
	}
	if a.cfg.Flag != nil {
		st.Notable = a.cfg.Flag.Value()
	}
	if a.cfg.Hub != nil {
		st.Viewers = a.cfg.Hub.Viewers()
	}
	st.Metrics = ctrl.Metrics()
	return st
}

// Close stops the loop, waits for background loads and releases the model.
func (a *App) Close() error {
	a.loads.Wait()
	a.webcam.Lock()
	defer a.webcam.Unlock()
	return a.cfg.Controller.Close()
}
