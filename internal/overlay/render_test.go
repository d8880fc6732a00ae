package overlay

import (
	"iter"
	"slices"
	"testing"

	"go.viam.com/test"

	"github.com/mpromonet/tflite-live/internal/detect"
)

type countingSignal struct{ n int }

func (s *countingSignal) Trigger() { s.n++ }

func catDetection() detect.Detection {
	return detect.Detection{
		ClassID: 16,
		Class:   "cat",
		Score:   0.97,
		Label:   "cat - 97.0%",
		Box:     detect.Box{X1: 54, Y1: 100, X2: 270, Y2: 300},
	}
}

func dogDetection() detect.Detection {
	return detect.Detection{
		ClassID: 17,
		Class:   "dog",
		Score:   0.5,
		Label:   "dog - 50.0%",
		Box:     detect.Box{X1: 300, Y1: 200, X2: 500, Y2: 480},
	}
}

func seq(dets ...detect.Detection) iter.Seq[detect.Detection] {
	return slices.Values(dets)
}

func TestRenderCatTriggersSignal(t *testing.T) {
	canvas, err := NewCanvas(540, 500)
	test.That(t, err, test.ShouldBeNil)
	signal := &countingSignal{}
	r := NewRenderer(signal)

	test.That(t, r.Render(seq(catDetection()), canvas), test.ShouldBeTrue)
	test.That(t, signal.n, test.ShouldEqual, 1)

	img := canvas.Snapshot()
	// left edge of the box outline
	test.That(t, img.RGBAAt(54, 200).A, test.ShouldEqual, uint8(0xff))
	// tag background just above the corner
	test.That(t, img.RGBAAt(53, 81).A, test.ShouldEqual, uint8(0xff))
	// box interior stays transparent
	test.That(t, img.RGBAAt(160, 200).A, test.ShouldEqual, uint8(0))

	// retriggered on every frame the cat is still there
	r.Render(seq(catDetection()), canvas)
	test.That(t, signal.n, test.ShouldEqual, 2)
}

func TestRenderWithoutSentinel(t *testing.T) {
	canvas, err := NewCanvas(540, 500)
	test.That(t, err, test.ShouldBeNil)
	signal := &countingSignal{}
	r := NewRenderer(signal)
	test.That(t, r.Render(seq(dogDetection()), canvas), test.ShouldBeFalse)
	test.That(t, signal.n, test.ShouldEqual, 0)

	r.Sentinel = "dog"
	test.That(t, r.Render(seq(dogDetection()), canvas), test.ShouldBeTrue)
	test.That(t, signal.n, test.ShouldEqual, 1)
}

func TestRenderIsIdempotent(t *testing.T) {
	r := NewRenderer(nil)
	a, err := NewCanvas(540, 500)
	test.That(t, err, test.ShouldBeNil)
	b, err := NewCanvas(540, 500)
	test.That(t, err, test.ShouldBeNil)

	r.Render(seq(catDetection(), dogDetection()), a)
	first := a.Snapshot()
	r.Render(seq(catDetection(), dogDetection()), a)
	test.That(t, a.Snapshot().Pix, test.ShouldResemble, first.Pix)

	// nothing from a previous frame survives
	r.Render(seq(dogDetection()), a)
	r.Render(seq(dogDetection()), b)
	test.That(t, a.Snapshot().Pix, test.ShouldResemble, b.Snapshot().Pix)
}

func TestRenderEmptyClears(t *testing.T) {
	canvas, err := NewCanvas(64, 48)
	test.That(t, err, test.ShouldBeNil)
	r := NewRenderer(nil)
	r.Render(seq(detect.Detection{Label: "x", Box: detect.Box{X1: 10, Y1: 30, X2: 40, Y2: 40}}), canvas)
	r.Render(seq(), canvas)
	for _, v := range canvas.Snapshot().Pix {
		test.That(t, v, test.ShouldEqual, uint8(0))
	}
	r.Render(nil, canvas)
}

func TestNewCanvasRejectsEmpty(t *testing.T) {
	_, err := NewCanvas(0, 10)
	test.That(t, err, test.ShouldNotBeNil)
}
