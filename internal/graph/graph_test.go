package graph

import (
	"testing"

	"go.viam.com/test"

	"github.com/mpromonet/tflite-live/internal/loader"
	"github.com/mpromonet/tflite-live/internal/tensor"
)

func TestSsdReorder(t *testing.T) {
	l := []float32{0.2, 0.1, 0.6, 0.5, 0, 0, 1, 1}
	c := []float32{16, 0}
	sc := []float32{0.97, 0.1}

	boxes, scores, classes := ssdReorder(l, c, sc, nil)
	test.That(t, boxes, test.ShouldResemble, []float32{0.1, 0.2, 0.5, 0.6, 0, 0, 1, 1})
	test.That(t, scores, test.ShouldResemble, []float32{0.97, 0.1})
	test.That(t, classes, test.ShouldResemble, []float32{16, 0})

	boxes, scores, classes = ssdReorder(l, c, sc, []float32{1})
	test.That(t, boxes, test.ShouldHaveLength, 4)
	test.That(t, scores, test.ShouldHaveLength, 1)
	test.That(t, classes, test.ShouldHaveLength, 1)
}

func TestYoloCandidates(t *testing.T) {
	// two rows of cx, cy, w, h, objectness, 3 class scores
	loc := []float32{
		0.5, 0.5, 0.2, 0.4, 0.9, 0.1, 0.8, 0.1,
		0.5, 0.5, 0.2, 0.4, 0.1, 0.9, 0.0, 0.0,
	}
	cands := yoloCandidates(loc, 8, 0.25)
	test.That(t, cands, test.ShouldHaveLength, 1)
	c := cands[0]
	test.That(t, c.class, test.ShouldEqual, 1)
	test.That(t, c.score, test.ShouldAlmostEqual, 0.72, 1e-6)
	test.That(t, c.box[0], test.ShouldAlmostEqual, 0.4, 1e-6)
	test.That(t, c.box[1], test.ShouldAlmostEqual, 0.3, 1e-6)
	test.That(t, c.box[2], test.ShouldAlmostEqual, 0.6, 1e-6)
	test.That(t, c.box[3], test.ShouldAlmostEqual, 0.7, 1e-6)

	test.That(t, yoloCandidates(loc, 5, 0.25), test.ShouldBeNil)
}

func TestYoloSuppress(t *testing.T) {
	p := YoloPostProcessing{ScoreThreshold: 0.25, NMSThreshold: 0.45}
	cands := []candidate{
		{box: [4]float32{0.1, 0.1, 0.5, 0.5}, score: 0.9, class: 15},
		{box: [4]float32{0.11, 0.1, 0.51, 0.5}, score: 0.6, class: 15},
		{box: [4]float32{0.6, 0.6, 0.9, 0.9}, score: 0.7, class: 0},
	}
	kept := p.suppress(cands)
	test.That(t, kept, test.ShouldHaveLength, 2)
	scores := []float32{kept[0].score, kept[1].score}
	test.That(t, scores, test.ShouldContain, float32(0.9))
	test.That(t, scores, test.ShouldContain, float32(0.7))

	test.That(t, p.suppress(nil), test.ShouldBeNil)
}

func TestQuantization(t *testing.T) {
	test.That(t, quantize([]float32{-1, 0, 0.5, 1, 2}), test.ShouldResemble, []uint8{0, 0, 128, 255, 255})
	test.That(t, dequantize([]uint8{0, 255}, 0, 0), test.ShouldResemble, []float32{0, 1})
	test.That(t, dequantize([]uint8{128}, 0.5, 128), test.ShouldResemble, []float32{0})
}

func TestPostProcessingFor(t *testing.T) {
	for _, layout := range []string{loader.LayoutNMS, loader.LayoutSSD, loader.LayoutYOLO} {
		p, err := postProcessingFor(layout, Options{})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, p, test.ShouldNotBeNil)
	}
	_, err := postProcessingFor("centernet", Options{})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestTripleEmpty(t *testing.T) {
	eng := tensor.NewEngine()
	s := eng.StartScope()
	out, err := triple(s, nil, nil, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldHaveLength, 3)
	test.That(t, out[0].Shape(), test.ShouldResemble, []int{1, 0, 4})
	s.End()
	test.That(t, eng.NumTensors(), test.ShouldEqual, 0)
}
