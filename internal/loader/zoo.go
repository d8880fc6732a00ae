package loader

import (
	"fmt"

	"github.com/pkg/errors"
)

// ID names a model variant within a family, e.g. yolov5/yolov5s.
type ID struct {
	Family  string `json:"family"`
	Variant string `json:"variant"`
}

func (id ID) String() string {
	return fmt.Sprintf("%s/%s", id.Family, id.Variant)
}

// Family groups the variants of one architecture.
type Family struct {
	Name     string   `json:"name"`
	Variants []string `json:"child"`
}

// Zoo lists the models that can be selected.
type Zoo []Family

// DefaultZoo is the built-in model list.
var DefaultZoo = Zoo{
	{Name: "yolov5", Variants: []string{"yolov5n", "yolov5s"}},
}

// DefaultID is the model loaded at startup.
var DefaultID = ID{Family: "yolov5", Variant: "yolov5s"}

// Resolve validates a family/variant pair against the zoo.
func (z Zoo) Resolve(family, variant string) (ID, error) {
	for _, f := range z {
		if f.Name != family {
			continue
		}
		for _, v := range f.Variants {
			if v == variant {
				return ID{Family: family, Variant: variant}, nil
			}
		}
		return ID{}, errors.Errorf("model family %q has no variant %q", family, variant)
	}
	return ID{}, errors.Errorf("unknown model family %q", family)
}
