/* ---------------------------------------------------------------------------
** This software is in the public domain, furnished "as is", without technical
** support, and with no warranty, express or implied, as to its usefulness for
** any purpose.
** -------------------------------------------------------------------------*/

package graph

import (
	"image"

	"github.com/mattn/go-tflite"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/mpromonet/tflite-live/internal/tensor"
)

// nmsScale converts normalized boxes to the integer rectangles gocv.NMSBoxes works on.
const nmsScale = 10000

// YoloPostProcessing decodes a raw [1, N, 5+classes] YOLO output (cx, cy, w, h,
// objectness, class scores) and applies non-max suppression.
type YoloPostProcessing struct {
	ScoreThreshold float32
	NMSThreshold   float32
}

type candidate struct {
	box   [4]float32
	score float32
	class int
}

func (p YoloPostProcessing) extractResult(interp *tflite.Interpreter, s *tensor.Scope) ([]*tensor.Tensor, error) {
	if interp.GetOutputTensorCount() < 1 {
		return nil, errors.New("model has no output")
	}
	output := interp.GetOutputTensor(0)
	if output.NumDims() != 3 {
		return nil, errors.Errorf("yolo output must be [1, N, 5+classes], got %v", getTensorShape(output))
	}
	loc, err := readOutput(output)
	if err != nil {
		return nil, err
	}
	cands := yoloCandidates(loc, output.Dim(2), p.ScoreThreshold)
	kept := p.suppress(cands)

	boxes := make([]float32, 0, 4*len(kept))
	scores := make([]float32, 0, len(kept))
	classes := make([]float32, 0, len(kept))
	for _, c := range kept {
		boxes = append(boxes, c.box[:]...)
		scores = append(scores, c.score)
		classes = append(classes, float32(c.class))
	}
	return triple(s, boxes, scores, classes)
}

// yoloCandidates keeps the rows whose objectness exceeds scoreTh. Boxes are converted to
// normalized corners; the score is objectness times the best class score.
func yoloCandidates(loc []float32, stride int, scoreTh float32) []candidate {
	if stride < 6 {
		return nil
	}
	var cands []candidate
	for idx := 0; idx+stride <= len(loc); idx += stride {
		obj := loc[idx+4]
		if obj <= scoreTh {
			continue
		}
		x, y, w, h := loc[idx+0], loc[idx+1], loc[idx+2], loc[idx+3]
		classID, score := argmax(loc[idx+5 : idx+stride])
		cands = append(cands, candidate{
			box:   [4]float32{clamp01(x - w/2), clamp01(y - h/2), clamp01(x + w/2), clamp01(y + h/2)},
			score: obj * score,
			class: classID,
		})
	}
	return cands
}

func (p YoloPostProcessing) suppress(cands []candidate) []candidate {
	if len(cands) == 0 {
		return nil
	}
	bboxes := make([]image.Rectangle, len(cands))
	confidences := make([]float32, len(cands))
	for i, c := range cands {
		bboxes[i] = image.Rect(
			int(c.box[0]*nmsScale), int(c.box[1]*nmsScale),
			int(c.box[2]*nmsScale), int(c.box[3]*nmsScale))
		confidences[i] = c.score
	}
	indices := gocv.NMSBoxes(bboxes, confidences, p.ScoreThreshold, p.NMSThreshold)

	kept := make([]candidate, 0, len(indices))
	for _, idx := range indices {
		if idx >= 0 && idx < len(cands) {
			kept = append(kept, cands[idx])
		}
	}
	return kept
}

func argmax(f []float32) (int, float32) {
	r, m := 0, f[0]
	for i, v := range f {
		if v > m {
			m = v
			r = i
		}
	}
	return r, m
}
