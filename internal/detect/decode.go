package detect

import (
	"fmt"
	"image"
	"iter"
	"math"

	"github.com/pkg/errors"
)

// ErrMisalignedOutputs is returned when boxes, scores and classes disagree on the
// number of detections.
var ErrMisalignedOutputs = errors.New("boxes, scores and classes are not index-aligned")

// RawData is the host copy of one inference: detection i spans Boxes[4i:4i+4],
// Scores[i] and Classes[i]. Box coordinates are normalized (x1, y1, x2, y2).
type RawData struct {
	Boxes   []float32
	Scores  []float32
	Classes []float32
}

// Validate checks the index alignment of the three arrays.
func (r RawData) Validate() error {
	if len(r.Boxes) != 4*len(r.Scores) || len(r.Classes) != len(r.Scores) {
		return errors.Wrapf(ErrMisalignedOutputs, "%d box values, %d scores, %d classes",
			len(r.Boxes), len(r.Scores), len(r.Classes))
	}
	return nil
}

// Box is an axis-aligned rectangle in canvas pixels.
type Box struct {
	X1, Y1, X2, Y2 float64
}

// Width of the box.
func (b Box) Width() float64 { return b.X2 - b.X1 }

// Height of the box.
func (b Box) Height() float64 { return b.Y2 - b.Y1 }

// Rect rounds the box to integer pixels.
func (b Box) Rect() image.Rectangle {
	return image.Rect(
		int(math.Round(b.X1)), int(math.Round(b.Y1)),
		int(math.Round(b.X2)), int(math.Round(b.Y2)))
}

// Detection is one decoded object.
type Detection struct {
	ClassID int     `json:"class_id"`
	Class   string  `json:"class"`
	Score   float32 `json:"score"`
	Label   string  `json:"label"`
	Box     Box     `json:"box"`
}

// Decode yields one detection per score. Class names come from labels, scores are
// formatted as a percentage with one decimal, and box coordinates are scaled by width on
// x and height on y independently. Nothing is filtered.
func Decode(raw RawData, labels Labels, width, height int) (iter.Seq[Detection], error) {
	if err := raw.Validate(); err != nil {
		return nil, err
	}
	w, h := float64(width), float64(height)
	return func(yield func(Detection) bool) {
		for i := range raw.Scores {
			classID := int(raw.Classes[i])
			class := labels.Name(classID)
			score := raw.Scores[i]
			b := raw.Boxes[i*4 : (i+1)*4]
			d := Detection{
				ClassID: classID,
				Class:   class,
				Score:   score,
				Label:   fmt.Sprintf("%s - %.1f%%", class, float64(score)*100),
				Box: Box{
					X1: float64(b[0]) * w,
					Y1: float64(b[1]) * h,
					X2: float64(b[2]) * w,
					Y2: float64(b[3]) * h,
				},
			}
			if !yield(d) {
				return
			}
		}
	}, nil
}
