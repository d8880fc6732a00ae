package web

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"mime/multipart"
	"net/textproto"
	"strconv"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mpromonet/tflite-live/internal/capture"
)

// DefaultJPEGQuality is the quality of the MJPEG frames.
const DefaultJPEGQuality = 80

// Hub composes rendered frames (video stretched to the canvas, overlay on top) into JPEGs
// and fans them out to MJPEG viewers. Slow viewers miss frames.
type Hub struct {
	width, height int
	quality       int
	logger        *zap.SugaredLogger

	mu      sync.Mutex
	latest  []byte
	viewers map[chan []byte]struct{}
}

// NewHub returns a hub producing width x height JPEGs.
func NewHub(width, height, quality int, logger *zap.SugaredLogger) *Hub {
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Hub{
		width:   width,
		height:  height,
		quality: quality,
		logger:  logger,
		viewers: map[chan []byte]struct{}{},
	}
}

// Publish implements capture.FrameSink.
func (h *Hub) Publish(f capture.Frame) {
	var composed image.Image = imaging.New(h.width, h.height, color.Black)
	if f.Image != nil {
		composed = imaging.Resize(f.Image, h.width, h.height, imaging.Linear)
	}
	if f.Overlay != nil {
		composed = imaging.Overlay(composed, f.Overlay, image.Pt(0, 0), 1.0)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, composed, imaging.JPEG, imaging.JPEGQuality(h.quality)); err != nil {
		h.logger.Warnw("could not encode frame", "error", err)
		return
	}
	jpg := buf.Bytes()

	h.mu.Lock()
	defer h.mu.Unlock()
	h.latest = jpg
	for ch := range h.viewers {
		// keep only the newest frame for each viewer
		select {
		case <-ch:
		default:
		}
		ch <- jpg
	}
}

// Latest returns the last composed JPEG, nil before the first frame.
func (h *Hub) Latest() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.latest
}

// Viewers returns the number of connected MJPEG clients.
func (h *Hub) Viewers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.viewers)
}

func (h *Hub) subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, 1)
	h.mu.Lock()
	h.viewers[ch] = struct{}{}
	if h.latest != nil {
		ch <- h.latest
	}
	h.mu.Unlock()
	return ch, func() {
		h.mu.Lock()
		delete(h.viewers, ch)
		h.mu.Unlock()
	}
}

// ServeMJPEG streams frames as multipart/x-mixed-replace until the client goes away.
func (h *Hub) ServeMJPEG(c *gin.Context) {
	frames, unsubscribe := h.subscribe()
	defer unsubscribe()

	mw := multipart.NewWriter(c.Writer)
	c.Header("Content-Type", "multipart/x-mixed-replace; boundary="+mw.Boundary())
	c.Header("Cache-Control", "no-cache")
	c.Status(200)
	c.Writer.Flush()

	if err := h.stream(c.Request.Context(), mw, c.Writer, frames); err != nil {
		h.logger.Debugw("mjpeg viewer left", "error", err)
	}
}

func (h *Hub) stream(ctx context.Context, mw *multipart.Writer, w gin.ResponseWriter, frames <-chan []byte) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case jpg := <-frames:
			part, err := mw.CreatePart(textproto.MIMEHeader{
				"Content-Type":   {"image/jpeg"},
				"Content-Length": {strconv.Itoa(len(jpg))},
			})
			if err != nil {
				return err
			}
			if _, err := part.Write(jpg); err != nil {
				return err
			}
			w.Flush()
		}
	}
}
