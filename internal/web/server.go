package web

import (
	"net/http"
	"time"

	"github.com/gin-contrib/static"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/mpromonet/tflite-live/internal/camera"
	"github.com/mpromonet/tflite-live/internal/capture"
	"github.com/mpromonet/tflite-live/internal/loader"
)

type modelRequest struct {
	Family  string `json:"family" binding:"required"`
	Variant string `json:"variant" binding:"required"`
}

type modelsResponse struct {
	Models  loader.Zoo `json:"models"`
	Current string     `json:"current"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Router returns the HTTP handler of the app.
func (a *App) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(a.cfg.Logger))
	if a.cfg.StaticDir != "" {
		r.Use(static.Serve("/", static.LocalFile(a.cfg.StaticDir, false)))
	}

	api := r.Group("/api")
	api.GET("/status", a.handleStatus)
	api.GET("/models", a.handleModels)
	api.PUT("/model", a.handleSelectModel)
	api.POST("/webcam", a.handleToggleWebcam)
	api.POST("/webcam/start", a.handleStartWebcam)
	api.POST("/webcam/stop", a.handleStopWebcam)

	if a.cfg.Hub != nil {
		r.GET("/stream.mjpeg", a.cfg.Hub.ServeMJPEG)
	}
	r.POST("/runmodel", a.handleRunModel)
	return r
}

func (a *App) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, a.Status())
}

func (a *App) handleModels(c *gin.Context) {
	c.JSON(http.StatusOK, modelsResponse{Models: a.cfg.Zoo, Current: a.Status().Model})
}

func (a *App) handleSelectModel(c *gin.Context) {
	var req modelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	id, err := a.cfg.Zoo.Resolve(req.Family, req.Variant)
	if err != nil {
		c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	}
	a.SwitchModel(id)
	c.JSON(http.StatusAccepted, a.Status())
}

func (a *App) handleToggleWebcam(c *gin.Context) {
	if _, err := a.ToggleWebcam(c.Request.Context()); err != nil {
		a.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, a.Status())
}

func (a *App) handleStartWebcam(c *gin.Context) {
	if err := a.StartWebcam(c.Request.Context()); err != nil {
		a.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, a.Status())
}

func (a *App) handleStopWebcam(c *gin.Context) {
	a.StopWebcam()
	c.JSON(http.StatusOK, a.Status())
}

func (a *App) abortWithError(c *gin.Context, err error) {
	code := statusCode(err)
	if code >= http.StatusInternalServerError {
		a.cfg.Logger.Errorw("request failed", "path", c.FullPath(), "error", err)
	}
	c.AbortWithStatusJSON(code, errorResponse{Error: err.Error()})
}

func statusCode(err error) int {
	var perr *camera.PermissionError
	var lerr *loader.LoadError
	switch {
	case errors.As(err, &perr):
		return http.StatusForbidden
	case errors.As(err, &lerr):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrNotReady),
		errors.Is(err, capture.ErrModelNotLoaded),
		errors.Is(err, loader.ErrModelClosed),
		errors.Is(err, capture.ErrStreaming):
		return http.StatusConflict
	case errors.Is(err, camera.ErrAudioUnsupported):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func requestLogger(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		// the MJPEG stream logs once, when the viewer leaves
		logger.Debugw("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start))
	}
}
