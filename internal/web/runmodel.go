package web

import (
	"bytes"
	"context"
	"image"
	"io"
	"net/http"

	"github.com/disintegration/imaging"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/mpromonet/tflite-live/internal/capture"
	"github.com/mpromonet/tflite-live/internal/detect"
)

// maxImageSize bounds the body of /runmodel.
const maxImageSize = 16 << 20

// handleRunModel runs detection on one uploaded image, either a multipart "file" field or
// the raw request body. Boxes are in the pixels of the uploaded image.
func (a *App) handleRunModel(c *gin.Context) {
	data, err := readImageBody(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid image: " + err.Error()})
		return
	}
	a.cfg.Logger.Debugw("runmodel", "bytes", len(data), "size", img.Bounds().Size())

	dets, err := a.DetectImage(c.Request.Context(), img)
	if err != nil {
		a.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, dets)
}

// DetectImage runs the current model on img outside the capture loop. Inference shares
// the model lock with the loop.
func (a *App) DetectImage(ctx context.Context, img image.Image) ([]detect.Detection, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	model := a.cfg.Controller.Model()
	if model == nil {
		return nil, capture.ErrModelNotLoaded
	}

	scope := a.cfg.Engine.StartScope()
	defer scope.End()

	width, height := model.InputSize()
	input, err := detect.Preprocess(scope, img, width, height)
	if err != nil {
		return nil, err
	}
	out, err := detect.Execute(ctx, scope, model, input)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, capture.ErrModelNotLoaded
	}
	defer out.Dispose()

	raw, err := out.Data()
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	seq, err := detect.Decode(raw, a.cfg.Labels, b.Dx(), b.Dy())
	if err != nil {
		return nil, err
	}
	dets := []detect.Detection{}
	for d := range seq {
		dets = append(dets, d)
	}
	return dets, nil
}

func readImageBody(c *gin.Context) ([]byte, error) {
	if fh, err := c.FormFile("file"); err == nil {
		f, err := fh.Open()
		if err != nil {
			return nil, errors.Wrap(err, "could not open upload")
		}
		defer f.Close()
		return io.ReadAll(io.LimitReader(f, maxImageSize))
	}
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxImageSize))
	if err != nil {
		return nil, errors.Wrap(err, "could not read body")
	}
	if len(data) == 0 {
		return nil, errors.New("empty image")
	}
	return data, nil
}
