package camera

import (
	"context"
	"image"

	"github.com/disintegration/imaging"
	"go.uber.org/atomic"
)

// StaticDevices serves a fixed picture as a camera. It stands in for hardware when no
// device is attached.
type StaticDevices struct {
	Frame image.Image

	opened atomic.Int64
}

// NewStaticDevices returns devices that serve frame.
func NewStaticDevices(frame image.Image) *StaticDevices {
	return &StaticDevices{Frame: frame}
}

// Opened returns how many streams have been acquired.
func (d *StaticDevices) Opened() int64 { return d.opened.Load() }

// GetUserMedia returns a stream of d.Frame, resized to the requested size if any.
func (d *StaticDevices) GetUserMedia(ctx context.Context, c Constraints) (Stream, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	frame := d.Frame
	if frame == nil {
		return nil, &PermissionError{Device: "static", Err: ErrStreamStopped}
	}
	if c.Video.Width > 0 || c.Video.Height > 0 {
		frame = imaging.Resize(frame, c.Video.Width, c.Video.Height, imaging.Linear)
	}
	d.opened.Inc()
	return &staticStream{frame: frame, track: NewVideoTrack("static", nil)}, nil
}

type staticStream struct {
	frame image.Image
	track *VideoTrack
}

func (s *staticStream) ReadFrame(ctx context.Context) (image.Image, error) {
	if !s.track.Live() {
		return nil, ErrStreamStopped
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.frame, nil
}

func (s *staticStream) Tracks() []Track { return []Track{s.track} }
