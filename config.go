package main

import (
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mpromonet/tflite-live/internal/alert"
	"github.com/mpromonet/tflite-live/internal/camera"
	"github.com/mpromonet/tflite-live/internal/capture"
	"github.com/mpromonet/tflite-live/internal/loader"
	"github.com/mpromonet/tflite-live/internal/overlay"
	"github.com/mpromonet/tflite-live/internal/web"
)

// Config is the command line configuration.
type Config struct {
	ModelBase string
	Family    string
	Variant   string
	Labels    string
	StaticDir string
	Listen    string

	CameraDevice string
	CameraImage  string
	Facing       string
	CameraWidth  int
	CameraHeight int

	CanvasWidth  int
	CanvasHeight int
	Sentinel     string
	NotableTTL   time.Duration
	FrameRate    int
	JPEGQuality  int

	Threads        int
	EdgeTPU        bool
	ScoreThreshold float64
	NMSThreshold   float64

	LogLevel  string
	Autostart bool
}

func flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "model-base", Value: ".", Usage: "directory or http(s) URL containing model/<family>/<variant>/model.json", EnvVars: []string{"DETECT_MODEL_BASE"}},
		&cli.StringFlag{Name: "family", Value: loader.DefaultID.Family, Usage: "model family", EnvVars: []string{"DETECT_FAMILY"}},
		&cli.StringFlag{Name: "variant", Value: loader.DefaultID.Variant, Usage: "model variant", EnvVars: []string{"DETECT_VARIANT"}},
		&cli.StringFlag{Name: "labels", Value: "models/coco.names", Usage: "label table, `FILE` .json or one name per line", EnvVars: []string{"DETECT_LABELS"}},
		&cli.StringFlag{Name: "static", Value: "./static", Usage: "directory of the web page", EnvVars: []string{"DETECT_STATIC"}},
		&cli.StringFlag{Name: "listen", Value: ":8080", Usage: "HTTP listen address", EnvVars: []string{"DETECT_LISTEN"}},
		&cli.StringFlag{Name: "camera-device", Usage: "camera index, file or URL; empty selects by facing mode", EnvVars: []string{"DETECT_CAMERA_DEVICE"}},
		&cli.StringFlag{Name: "camera-image", Usage: "serve this still image instead of a camera", EnvVars: []string{"DETECT_CAMERA_IMAGE"}},
		&cli.StringFlag{Name: "facing", Value: camera.FacingEnvironment, Usage: "preferred camera: user or environment", EnvVars: []string{"DETECT_FACING"}},
		&cli.IntFlag{Name: "camera-width", Usage: "requested capture width", EnvVars: []string{"DETECT_CAMERA_WIDTH"}},
		&cli.IntFlag{Name: "camera-height", Usage: "requested capture height", EnvVars: []string{"DETECT_CAMERA_HEIGHT"}},
		&cli.IntFlag{Name: "canvas-width", Value: 540, Usage: "overlay width", EnvVars: []string{"DETECT_CANVAS_WIDTH"}},
		&cli.IntFlag{Name: "canvas-height", Value: 500, Usage: "overlay height", EnvVars: []string{"DETECT_CANVAS_HEIGHT"}},
		&cli.StringFlag{Name: "sentinel", Value: overlay.DefaultSentinel, Usage: "class that raises the notable flag", EnvVars: []string{"DETECT_SENTINEL"}},
		&cli.DurationFlag{Name: "notable-ttl", Value: alert.DefaultTTL, Usage: "how long the notable flag stays raised", EnvVars: []string{"DETECT_NOTABLE_TTL"}},
		&cli.IntFlag{Name: "fps", Value: capture.DefaultFrameRate, Usage: "loop refresh rate", EnvVars: []string{"DETECT_FPS"}},
		&cli.IntFlag{Name: "jpeg-quality", Value: web.DefaultJPEGQuality, Usage: "MJPEG quality", EnvVars: []string{"DETECT_JPEG_QUALITY"}},
		&cli.IntFlag{Name: "threads", Value: 4, Usage: "interpreter threads", EnvVars: []string{"DETECT_THREADS"}},
		&cli.BoolFlag{Name: "edgetpu", Usage: "use the first Edge TPU if any", EnvVars: []string{"DETECT_EDGETPU"}},
		&cli.Float64Flag{Name: "score-threshold", Value: 0.3, Usage: "objectness threshold for raw YOLO outputs", EnvVars: []string{"DETECT_SCORE_THRESHOLD"}},
		&cli.Float64Flag{Name: "nms-threshold", Value: 0.5, Usage: "IoU threshold for raw YOLO outputs", EnvVars: []string{"DETECT_NMS_THRESHOLD"}},
		&cli.StringFlag{Name: "log-level", Value: "info", Usage: "debug, info, warn or error", EnvVars: []string{"DETECT_LOG_LEVEL"}},
		&cli.BoolFlag{Name: "autostart", Usage: "start the webcam once the model is ready", EnvVars: []string{"DETECT_AUTOSTART"}},
	}
}

func configFromContext(c *cli.Context) Config {
	return Config{
		ModelBase:      c.String("model-base"),
		Family:         c.String("family"),
		Variant:        c.String("variant"),
		Labels:         c.String("labels"),
		StaticDir:      c.String("static"),
		Listen:         c.String("listen"),
		CameraDevice:   c.String("camera-device"),
		CameraImage:    c.String("camera-image"),
		Facing:         c.String("facing"),
		CameraWidth:    c.Int("camera-width"),
		CameraHeight:   c.Int("camera-height"),
		CanvasWidth:    c.Int("canvas-width"),
		CanvasHeight:   c.Int("canvas-height"),
		Sentinel:       c.String("sentinel"),
		NotableTTL:     c.Duration("notable-ttl"),
		FrameRate:      c.Int("fps"),
		JPEGQuality:    c.Int("jpeg-quality"),
		Threads:        c.Int("threads"),
		EdgeTPU:        c.Bool("edgetpu"),
		ScoreThreshold: c.Float64("score-threshold"),
		NMSThreshold:   c.Float64("nms-threshold"),
		LogLevel:       c.String("log-level"),
		Autostart:      c.Bool("autostart"),
	}
}

// Validate checks ranges before anything is started.
func (c Config) Validate() error {
	if c.ModelBase == "" {
		return errors.New("model-base is required")
	}
	if _, err := loader.DefaultZoo.Resolve(c.Family, c.Variant); err != nil {
		return err
	}
	if c.Labels == "" {
		return errors.New("labels is required")
	}
	if c.Listen == "" {
		return errors.New("listen address is required")
	}
	if err := c.Constraints().Validate(); err != nil {
		return err
	}
	if c.CanvasWidth <= 0 || c.CanvasHeight <= 0 {
		return errors.Errorf("invalid canvas size %dx%d", c.CanvasWidth, c.CanvasHeight)
	}
	if c.NotableTTL <= 0 {
		return errors.Errorf("notable-ttl must be positive, got %v", c.NotableTTL)
	}
	if c.FrameRate <= 0 || c.FrameRate > 240 {
		return errors.Errorf("fps must be in (0, 240], got %d", c.FrameRate)
	}
	if c.JPEGQuality <= 0 || c.JPEGQuality > 100 {
		return errors.Errorf("jpeg-quality must be in (0, 100], got %d", c.JPEGQuality)
	}
	if c.Threads < 0 {
		return errors.Errorf("threads must not be negative, got %d", c.Threads)
	}
	for name, v := range map[string]float64{"score-threshold": c.ScoreThreshold, "nms-threshold": c.NMSThreshold} {
		if v < 0 || v > 1 {
			return errors.Errorf("%s must be in [0, 1], got %v", name, v)
		}
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrap(err, "log-level")
	}
	return nil
}

// ModelID is the model loaded at startup.
func (c Config) ModelID() loader.ID {
	return loader.ID{Family: c.Family, Variant: c.Variant}
}

// Constraints are the camera constraints of the webcam button.
func (c Config) Constraints() camera.Constraints {
	return camera.Constraints{
		Video: camera.VideoConstraints{
			FacingMode: c.Facing,
			DeviceID:   c.CameraDevice,
			Width:      c.CameraWidth,
			Height:     c.CameraHeight,
		},
	}
}

func newLogger(level string) (*zap.SugaredLogger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	logger, err := zap.Config{
		Level:    zap.NewAtomicLevelAt(lvl),
		Encoding: "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			FunctionKey:    zapcore.OmitKey,
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		DisableStacktrace: true,
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
	}.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}
