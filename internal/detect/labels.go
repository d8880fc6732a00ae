package detect

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Labels maps class indices to category names.
type Labels []string

// Name returns the category for class, or "unknown" when the index is out of range.
func (l Labels) Name(class int) string {
	label := "unknown"
	if class >= 0 && class < len(l) {
		label = l[class]
	}
	return label
}

// LoadLabels reads a label table: a JSON array of names (classes.json) or one name per
// line (coco.names).
func LoadLabels(filename string) (Labels, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrap(err, "could not open label table")
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(filename), ".json") {
		var labels Labels
		if err := json.NewDecoder(f).Decode(&labels); err != nil {
			return nil, errors.Wrapf(err, "invalid label table %s", filename)
		}
		return labels, nil
	}

	labels := Labels{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		labels = append(labels, strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "could not read label table %s", filename)
	}
	return labels, nil
}
