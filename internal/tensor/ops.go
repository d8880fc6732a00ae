package tensor

import (
	"image"
	"image/color"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// FromData allocates a tensor of the given shape that owns a copy of data.
func (s *Scope) FromData(shape []int, data []float32) (*Tensor, error) {
	if len(shape) == 0 {
		return nil, errors.New("tensor shape must have at least one dimension")
	}
	n := numElements(shape)
	if n != len(data) {
		return nil, errors.Errorf("shape %v needs %d values, got %d", shape, n, len(data))
	}
	if n == 0 {
		return s.wrapShape(shape, nil), nil
	}
	backing := make([]float32, len(data))
	copy(backing, data)
	return s.wrap(tensor.New(tensor.WithShape(shape...), tensor.WithBacking(backing))), nil
}

// Zeros allocates a zero-filled tensor.
func (s *Scope) Zeros(shape []int) (*Tensor, error) {
	return s.FromData(shape, make([]float32, numElements(shape)))
}

// Ones allocates a tensor filled with 1.
func (s *Scope) Ones(shape []int) (*Tensor, error) {
	data := make([]float32, numElements(shape))
	for i := range data {
		data[i] = 1
	}
	return s.FromData(shape, data)
}

// FromPixels decodes an image into a [height, width, 3] tensor of RGB intensities in [0, 255].
func (s *Scope) FromPixels(img image.Image) (*Tensor, error) {
	if img == nil {
		return nil, errors.New("no pixel source")
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil, errors.Errorf("empty pixel source %v", b)
	}
	data := make([]float32, 0, w*h*3)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			data = append(data, float32(c.R), float32(c.G), float32(c.B))
		}
	}
	return s.wrap(tensor.New(tensor.WithShape(h, w, 3), tensor.WithBacking(data))), nil
}

// ResizeBilinear resizes a [height, width, 3] pixel tensor to [height, width, 3] of the
// requested size using bilinear interpolation.
func (s *Scope) ResizeBilinear(t *Tensor, height, width int) (*Tensor, error) {
	if t.Rank() != 3 || t.shape[2] != 3 {
		return nil, errors.Errorf("resize expects a [h, w, 3] tensor, got %v", t.shape)
	}
	if height <= 0 || width <= 0 {
		return nil, errors.Errorf("invalid resize target %dx%d", width, height)
	}
	img, err := t.toNRGBA()
	if err != nil {
		return nil, err
	}
	resized := resize.Resize(uint(width), uint(height), img, resize.Bilinear)
	return s.FromPixels(resized)
}

// Div returns t / v element-wise.
func (s *Scope) Div(t *Tensor, v float32) (*Tensor, error) {
	if v == 0 {
		return nil, errors.New("division by zero")
	}
	d, err := t.backing()
	if err != nil {
		return nil, err
	}
	if d == nil {
		return s.wrapShape(t.shape, nil), nil
	}
	out, err := d.DivScalar(v, true)
	if err != nil {
		return nil, errors.Wrap(err, "div")
	}
	return s.wrap(out), nil
}

// ExpandDims returns a copy of t with a dimension of size 1 inserted at axis.
func (s *Scope) ExpandDims(t *Tensor, axis int) (*Tensor, error) {
	if axis < 0 || axis > t.Rank() {
		return nil, errors.Errorf("axis %d out of range for rank %d", axis, t.Rank())
	}
	d, err := t.backing()
	if err != nil {
		return nil, err
	}
	shape := make([]int, 0, t.Rank()+1)
	shape = append(shape, t.shape[:axis]...)
	shape = append(shape, 1)
	shape = append(shape, t.shape[axis:]...)
	if d == nil {
		return s.wrapShape(shape, nil), nil
	}

	out, ok := d.Clone().(*tensor.Dense)
	if !ok {
		return nil, errors.New("clone did not return a dense tensor")
	}
	if err := out.Reshape(shape...); err != nil {
		return nil, errors.Wrap(err, "expand dims")
	}
	return s.wrap(out), nil
}

func (t *Tensor) toNRGBA() (*image.NRGBA, error) {
	data, err := t.DataSync()
	if err != nil {
		return nil, err
	}
	h, w := t.shape[0], t.shape[1]
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < w*h; i++ {
		img.Pix[i*4+0] = clampByte(data[i*3+0])
		img.Pix[i*4+1] = clampByte(data[i*3+1])
		img.Pix[i*4+2] = clampByte(data[i*3+2])
		img.Pix[i*4+3] = 0xff
	}
	return img, nil
}

func clampByte(v float32) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(v + 0.5)
	}
}
