// Package opencv acquires cameras through OpenCV.
package opencv

import (
	"context"
	"image"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/mpromonet/tflite-live/internal/camera"
)

// DefaultFacing maps facing modes to device indices.
var DefaultFacing = map[string]int{
	camera.FacingUser:        0,
	camera.FacingEnvironment: 0,
}

// Devices opens V4L/OpenCV capture devices.
type Devices struct {
	// Facing maps a facing mode to a device index when no DeviceID is given.
	Facing map[string]int
	Logger *zap.SugaredLogger
}

// GetUserMedia opens the device selected by c. A DeviceID that is a number is a device
// index; anything else is handed to OpenCV as a file or URL.
func (d *Devices) GetUserMedia(ctx context.Context, c camera.Constraints) (camera.Stream, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	device := d.device(c.Video)
	var name string
	switch v := device.(type) {
	case int:
		name = strconv.Itoa(v)
	case string:
		name = v
	}

	capture, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, &camera.PermissionError{Device: name, Err: err}
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, &camera.PermissionError{Device: name, Err: errors.New("video capture is not opened")}
	}
	if c.Video.Width > 0 {
		capture.Set(gocv.VideoCaptureFrameWidth, float64(c.Video.Width))
	}
	if c.Video.Height > 0 {
		capture.Set(gocv.VideoCaptureFrameHeight, float64(c.Video.Height))
	}
	logger.Infow("camera opened", "device", name,
		"width", capture.Get(gocv.VideoCaptureFrameWidth),
		"height", capture.Get(gocv.VideoCaptureFrameHeight))

	s := &stream{capture: capture, img: gocv.NewMat()}
	s.track = camera.NewVideoTrack(name, s.release)
	return s, nil
}

func (d *Devices) device(v camera.VideoConstraints) interface{} {
	if v.DeviceID != "" {
		if idx, err := strconv.Atoi(v.DeviceID); err == nil {
			return idx
		}
		return v.DeviceID
	}
	facing := d.Facing
	if facing == nil {
		facing = DefaultFacing
	}
	mode := v.FacingMode
	if mode == "" {
		mode = camera.FacingEnvironment
	}
	return facing[mode]
}

type stream struct {
	mu      sync.Mutex
	capture *gocv.VideoCapture
	img     gocv.Mat
	track   *camera.VideoTrack
}

func (s *stream) ReadFrame(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.capture == nil {
		return nil, camera.ErrStreamStopped
	}
	if !s.capture.Read(&s.img) || s.img.Empty() {
		return nil, errors.New("could not read frame")
	}
	// ToImage copies the BGR pixels, so the Mat can be reused for the next read
	img, err := s.img.ToImage()
	if err != nil {
		return nil, errors.Wrap(err, "could not convert frame")
	}
	return img, nil
}

func (s *stream) Tracks() []camera.Track { return []camera.Track{s.track} }

func (s *stream) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.capture == nil {
		return
	}
	s.capture.Close()
	s.img.Close()
	s.capture = nil
}
