// Package camera describes camera acquisition: constraints, streams and their tracks.
package camera

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

// Facing modes.
const (
	FacingUser        = "user"
	FacingEnvironment = "environment"
)

var (
	// ErrAudioUnsupported is returned when audio capture is requested.
	ErrAudioUnsupported = errors.New("audio capture is not supported")
	// ErrStreamStopped is returned by ReadFrame once every track is stopped.
	ErrStreamStopped = errors.New("stream is stopped")
)

// VideoConstraints select and size the video device.
type VideoConstraints struct {
	FacingMode string `json:"facingMode,omitempty"`
	DeviceID   string `json:"deviceId,omitempty"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
}

// Constraints are passed to GetUserMedia.
type Constraints struct {
	Audio bool             `json:"audio"`
	Video VideoConstraints `json:"video"`
}

// DefaultConstraints asks for the rear camera and no audio.
func DefaultConstraints() Constraints {
	return Constraints{Video: VideoConstraints{FacingMode: FacingEnvironment}}
}

// Validate rejects constraints no device can satisfy.
func (c Constraints) Validate() error {
	if c.Audio {
		return ErrAudioUnsupported
	}
	switch c.Video.FacingMode {
	case "", FacingUser, FacingEnvironment:
	default:
		return errors.Errorf("unknown facing mode %q", c.Video.FacingMode)
	}
	if c.Video.Width < 0 || c.Video.Height < 0 {
		return errors.Errorf("invalid video size %dx%d", c.Video.Width, c.Video.Height)
	}
	return nil
}

// PermissionError reports that the camera could not be acquired.
type PermissionError struct {
	Device string
	Err    error
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("camera %s is not available: %v", e.Device, e.Err)
}

// Unwrap returns the underlying error.
func (e *PermissionError) Unwrap() error { return e.Err }

// Track is one media track of a stream.
type Track interface {
	ID() string
	Kind() string
	Live() bool
	Stop()
}

// Stream is an acquired camera.
type Stream interface {
	// ReadFrame returns the current frame. It fails with ErrStreamStopped after the
	// tracks are stopped.
	ReadFrame(ctx context.Context) (image.Image, error)
	Tracks() []Track
}

// MediaDevices acquires streams.
type MediaDevices interface {
	GetUserMedia(ctx context.Context, c Constraints) (Stream, error)
}

// StopAll stops every track of s.
func StopAll(s Stream) {
	if s == nil {
		return
	}
	for _, t := range s.Tracks() {
		t.Stop()
	}
}

// VideoTrack is a Track that runs release once when stopped.
type VideoTrack struct {
	id      string
	stopped atomic.Bool
	once    sync.Once
	release func()
}

// NewVideoTrack returns a live video track.
func NewVideoTrack(id string, release func()) *VideoTrack {
	return &VideoTrack{id: id, release: release}
}

// ID of the track.
func (t *VideoTrack) ID() string { return t.id }

// Kind is always "video".
func (t *VideoTrack) Kind() string { return "video" }

// Live reports whether the track has not been stopped.
func (t *VideoTrack) Live() bool { return !t.stopped.Load() }

// Stop ends the track.
func (t *VideoTrack) Stop() {
	t.once.Do(func() {
		t.stopped.Store(true)
		if t.release != nil {
			t.release()
		}
	})
}
