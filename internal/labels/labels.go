// Package labels decodes classifier output vectors into traffic sign categories.
package labels

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Count is the number of categories the classifier scores.
const Count = 43

var (
	// ErrInvalidVectorLength is returned when an output vector does not hold Count scores.
	ErrInvalidVectorLength = errors.New("labels: invalid vector length")

	// ErrNoMaximum is returned when a vector has no comparable element.
	ErrNoMaximum = errors.New("labels: no maximum")

	// ErrInvalidTable is returned when a label table is malformed.
	ErrInvalidTable = errors.New("labels: invalid table")
)

// Table is an immutable list of category names indexed by class id.
type Table struct {
	names []string
}

var defaultTable = func() *Table {
	names := make([]string, Count)
	for i := range names {
		names[i] = fmt.Sprintf("Category %d", i)
	}
	return &Table{names: names}
}()

// Default returns the placeholder table "Category 0" ... "Category 42".
func Default() *Table {
	return defaultTable
}

// NewTable copies names into a Table. It needs exactly Count non-empty names.
func NewTable(names []string) (*Table, error) {
	if len(names) != Count {
		return nil, fmt.Errorf("%w: %d names, want %d", ErrInvalidTable, len(names), Count)
	}
	cp := make([]string, len(names))
	for i, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			return nil, fmt.Errorf("%w: empty name at index %d", ErrInvalidTable, i)
		}
		cp[i] = n
	}
	return &Table{names: cp}, nil
}

type tableFile struct {
	Labels []string `json:"labels" yaml:"labels"`
}

// Load reads a table from a YAML or JSON file. The file holds either a bare
// list of names or an object with a "labels" list.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read labels: %w", err)
	}

	var names []string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		names, err = parseJSON(data)
	default:
		names, err = parseYAML(data)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse labels %s: %w", path, err)
	}
	return NewTable(names)
}

func parseJSON(data []byte) ([]string, error) {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var f tableFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return f.Labels, nil
}

func parseYAML(data []byte) ([]string, error) {
	var list []string
	if err := yaml.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var f tableFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return f.Labels, nil
}

// Len returns the number of categories.
func (t *Table) Len() int {
	return len(t.names)
}

// Name returns the label for class i, or "" when i is out of range.
func (t *Table) Name(i int) string {
	if i < 0 || i >= len(t.names) {
		return ""
	}
	return t.names[i]
}

// Names returns a copy of all labels.
func (t *Table) Names() []string {
	return append([]string(nil), t.names...)
}

// ArgMax returns the index of the largest score. The first maximum wins ties
// and NaN scores are skipped.
func ArgMax(scores []float32) (int, error) {
	best := -1
	for i, v := range scores {
		if math.IsNaN(float64(v)) {
			continue
		}
		if best < 0 || v > scores[best] {
			best = i
		}
	}
	if best < 0 {
		return 0, ErrNoMaximum
	}
	return best, nil
}

// Decode returns the default table's label for the highest score.
func Decode(scores []float32) (string, error) {
	return defaultTable.Decode(scores)
}

// Decode returns the label for the highest score.
func (t *Table) Decode(scores []float32) (string, error) {
	idx, err := t.argMax(scores)
	if err != nil {
		return "", err
	}
	return t.names[idx], nil
}

func (t *Table) argMax(scores []float32) (int, error) {
	if len(scores) != len(t.names) {
		return 0, fmt.Errorf("%w: got %d, want %d", ErrInvalidVectorLength, len(scores), len(t.names))
	}
	return ArgMax(scores)
}

// Prediction is a decoded classifier output.
type Prediction struct {
	Index  int                `json:"index"`
	Label  string             `json:"label"`
	Score  float32            `json:"score"`
	Scores map[string]float32 `json:"scores,omitempty"`
}

// Predict decodes scores and keeps every label's score.
func (t *Table) Predict(scores []float32) (*Prediction, error) {
	idx, err := t.argMax(scores)
	if err != nil {
		return nil, err
	}

	all := make(map[string]float32, len(scores))
	for i, v := range scores {
		all[t.names[i]] = v
	}
	return &Prediction{
		Index:  idx,
		Label:  t.names[idx],
		Score:  scores[idx],
		Scores: all,
	}, nil
}

// TopK returns the k best categories, highest score first. Equal scores keep
// index order and NaN scores sort last.
func (t *Table) TopK(scores []float32, k int) ([]Prediction, error) {
	if _, err := t.argMax(scores); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}
	if k > len(scores) {
		k = len(scores)
	}

	idx := make([]int, len(scores))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		va, vb := scores[idx[a]], scores[idx[b]]
		if math.IsNaN(float64(vb)) {
			return !math.IsNaN(float64(va))
		}
		return va > vb
	})

	out := make([]Prediction, k)
	for i := 0; i < k; i++ {
		out[i] = Prediction{Index: idx[i], Label: t.names[idx[i]], Score: scores[idx[i]]}
	}
	return out, nil
}
