// Package overlay draws detections onto a transparent canvas stacked over the video.
package overlay

import (
	"image"
	"image/draw"
	"sync"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"github.com/pkg/errors"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

// FontSize is the label font size in pixels.
const FontSize = 16

var (
	fontOnce  sync.Once
	labelFont *truetype.Font
	fontErr   error
)

func newLabelFace() (font.Face, error) {
	fontOnce.Do(func() {
		labelFont, fontErr = truetype.Parse(goregular.TTF)
	})
	if fontErr != nil {
		return nil, errors.Wrap(fontErr, "could not parse label font")
	}
	return truetype.NewFace(labelFont, &truetype.Options{Size: FontSize}), nil
}

// Canvas is a fixed-size RGBA drawing surface. It is not safe for concurrent drawing;
// Snapshot may be called while no Render is in progress.
type Canvas struct {
	mu sync.Mutex
	dc *gg.Context
}

// NewCanvas allocates a transparent canvas.
func NewCanvas(width, height int) (*Canvas, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("invalid canvas size %dx%d", width, height)
	}
	face, err := newLabelFace()
	if err != nil {
		return nil, err
	}
	dc := gg.NewContext(width, height)
	dc.SetFontFace(face)
	return &Canvas{dc: dc}, nil
}

// Width of the canvas in pixels.
func (c *Canvas) Width() int { return c.dc.Width() }

// Height of the canvas in pixels.
func (c *Canvas) Height() int { return c.dc.Height() }

// Snapshot returns a copy of the current canvas pixels.
func (c *Canvas) Snapshot() *image.RGBA {
	c.mu.Lock()
	defer c.mu.Unlock()
	src := c.dc.Image()
	dst := image.NewRGBA(src.Bounds())
	draw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, draw.Src)
	return dst
}
