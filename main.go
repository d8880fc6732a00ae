package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mpromonet/tflite-live/internal/alert"
	"github.com/mpromonet/tflite-live/internal/camera"
	"github.com/mpromonet/tflite-live/internal/camera/opencv"
	"github.com/mpromonet/tflite-live/internal/capture"
	"github.com/mpromonet/tflite-live/internal/detect"
	"github.com/mpromonet/tflite-live/internal/graph"
	"github.com/mpromonet/tflite-live/internal/loader"
	"github.com/mpromonet/tflite-live/internal/overlay"
	"github.com/mpromonet/tflite-live/internal/tensor"
	"github.com/mpromonet/tflite-live/internal/web"
)

const shutdownTimeout = 5 * time.Second

func main() {
	app := &cli.App{
		Name:   "tflite-live",
		Usage:  "live object detection on a camera feed with TensorFlow Lite",
		Flags:  flags(),
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg := configFromContext(c)
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	labels, err := detect.LoadLabels(cfg.Labels)
	if err != nil {
		return err
	}
	fetcher, err := loader.NewFetcher(cfg.ModelBase)
	if err != nil {
		return err
	}
	devices, err := newDevices(cfg, logger)
	if err != nil {
		return err
	}
	canvas, err := overlay.NewCanvas(cfg.CanvasWidth, cfg.CanvasHeight)
	if err != nil {
		return err
	}

	clk := clock.New()
	engine := tensor.NewEngine()
	builder := graph.Builder(graph.Options{
		Threads:        cfg.Threads,
		EdgeTPU:        cfg.EdgeTPU,
		ScoreThreshold: float32(cfg.ScoreThreshold),
		NMSThreshold:   float32(cfg.NMSThreshold),
		Logger:         logger.Named("graph"),
	})
	flag := alert.NewFlag(clk, cfg.NotableTTL)
	hub := web.NewHub(cfg.CanvasWidth, cfg.CanvasHeight, cfg.JPEGQuality, logger.Named("mjpeg"))
	renderer := overlay.NewRenderer(flag)
	renderer.Sentinel = cfg.Sentinel

	ctrl := capture.NewController(capture.Config{
		Devices:   devices,
		Scheduler: capture.NewRefreshScheduler(clk, cfg.FrameRate),
		Engine:    engine,
		Labels:    labels,
		Canvas:    canvas,
		Renderer:  renderer,
		Sink:      hub,
		Clock:     clk,
		Logger:    logger.Named("capture"),
	})
	webApp := web.NewApp(web.Config{
		Loader:      loader.New(fetcher, builder, engine, logger.Named("loader")),
		Zoo:         loader.DefaultZoo,
		Controller:  ctrl,
		Flag:        flag,
		Hub:         hub,
		Engine:      engine,
		Labels:      labels,
		Constraints: cfg.Constraints(),
		Autostart:   cfg.Autostart,
		StaticDir:   cfg.StaticDir,
		Logger:      logger.Named("web"),
	})

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           webApp.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	webApp.SwitchModel(cfg.ModelID())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infow("listening", "addr", cfg.Listen, "model", cfg.ModelID(), "labels", len(labels))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	err = g.Wait()
	flag.Stop()
	err = multierr.Combine(err, webApp.Close())
	logger.Infow("stopped", "live_tensors", engine.NumTensors())
	return err
}

func newDevices(cfg Config, logger *zap.SugaredLogger) (camera.MediaDevices, error) {
	if cfg.CameraImage != "" {
		img, err := imaging.Open(cfg.CameraImage)
		if err != nil {
			return nil, errors.Wrap(err, "could not open camera image")
		}
		return camera.NewStaticDevices(img), nil
	}
	return &opencv.Devices{Facing: opencv.DefaultFacing, Logger: logger.Named("camera")}, nil
}
