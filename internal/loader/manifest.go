package loader

import (
	"encoding/json"
	"path"

	"github.com/pkg/errors"
)

// Output layouts understood by the graph adapter. The layout fixes how raw graph
// outputs map onto the {boxes, scores, classes} triple.
const (
	LayoutNMS  = "nms"
	LayoutSSD  = "ssd"
	LayoutYOLO = "yolo"
)

// TensorSpec declares one graph input or output.
type TensorSpec struct {
	Name  string `json:"name"`
	Shape []int  `json:"shape,omitempty"`
	DType string `json:"dtype,omitempty"`
}

// WeightGroup lists shard files relative to the manifest.
type WeightGroup struct {
	Paths []string `json:"paths"`
}

// Manifest is the model.json describing a model artifact.
type Manifest struct {
	Format          string        `json:"format"`
	GeneratedBy     string        `json:"generatedBy,omitempty"`
	Inputs          []TensorSpec  `json:"inputs"`
	Outputs         []TensorSpec  `json:"outputs"`
	OutputLayout    string        `json:"outputLayout"`
	WeightsManifest []WeightGroup `json:"weightsManifest"`
}

// ParseManifest decodes and validates a model.json document.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, "invalid model manifest")
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the fields the loader depends on.
func (m *Manifest) Validate() error {
	if m.Format != "" && m.Format != "tflite" {
		return errors.Errorf("unsupported model format %q", m.Format)
	}
	if len(m.Inputs) != 1 {
		return errors.Errorf("expected exactly one input, got %d", len(m.Inputs))
	}
	shape := m.Inputs[0].Shape
	if len(shape) != 4 {
		return errors.Errorf("input shape must be [batch, height, width, channels], got %v", shape)
	}
	for _, d := range shape[1:] {
		if d <= 0 {
			return errors.Errorf("input shape %v has a non-positive dimension", shape)
		}
	}
	switch m.OutputLayout {
	case LayoutNMS, LayoutSSD, LayoutYOLO:
	default:
		return errors.Errorf("unknown output layout %q", m.OutputLayout)
	}
	if len(m.ShardPaths()) == 0 {
		return errors.New("manifest lists no weight shards")
	}
	return nil
}

// ShardPaths flattens the weight groups in manifest order.
func (m *Manifest) ShardPaths() []string {
	var paths []string
	for _, g := range m.WeightsManifest {
		paths = append(paths, g.Paths...)
	}
	return paths
}

// InputShape returns the declared input shape with a batch size of 1.
func (m *Manifest) InputShape() []int {
	shape := append([]int(nil), m.Inputs[0].Shape...)
	if shape[0] <= 0 {
		shape[0] = 1
	}
	return shape
}

// manifestPath follows the model/<family>/<variant>/model.json convention.
func manifestPath(id ID) string {
	return path.Join("model", id.Family, id.Variant, "model.json")
}
