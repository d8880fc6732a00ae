package overlay

import (
	"image/color"
	"iter"

	"github.com/mpromonet/tflite-live/internal/detect"
)

// DefaultSentinel is the class that raises the notable-object signal.
const DefaultSentinel = "cat"

var (
	boxColor  = color.RGBA{R: 0x00, G: 0x3B, B: 0x5F, A: 0xff}
	textColor = color.White
)

const (
	lineWidth = 2
	// tag geometry relative to the box corner
	tagPad    = 4
	textInset = 2
)

// Signal is notified when the sentinel class is on screen.
type Signal interface {
	Trigger()
}

// Renderer draws detections and raises Signal while Sentinel is visible.
type Renderer struct {
	Sentinel string
	Signal   Signal
}

// NewRenderer returns a renderer for the default sentinel class.
func NewRenderer(signal Signal) *Renderer {
	return &Renderer{Sentinel: DefaultSentinel, Signal: signal}
}

// Render clears canvas to transparent and draws every detection: a box outline, a filled
// label tag above its top-left corner and the label text. It reports whether a detection of
// the sentinel class was drawn, and triggers the signal if so.
func (r *Renderer) Render(dets iter.Seq[detect.Detection], canvas *Canvas) bool {
	canvas.mu.Lock()
	dc := canvas.dc
	dc.SetColor(color.Transparent)
	dc.Clear()

	seen := false
	if dets != nil {
		for d := range dets {
			x1, y1 := d.Box.X1, d.Box.Y1

			dc.SetColor(boxColor)
			dc.SetLineWidth(lineWidth)
			dc.DrawRectangle(x1, y1, d.Box.Width(), d.Box.Height())
			dc.Stroke()

			tw, _ := dc.MeasureString(d.Label)
			dc.DrawRectangle(x1-1, y1-(FontSize+tagPad), tw+6, FontSize+tagPad)
			dc.Fill()

			dc.SetColor(textColor)
			dc.DrawStringAnchored(d.Label, x1+textInset, y1-(FontSize+textInset), 0, 1)

			if d.Class == r.Sentinel {
				seen = true
			}
		}
	}
	canvas.mu.Unlock()

	if seen && r.Signal != nil {
		r.Signal.Trigger()
	}
	return seen
}
