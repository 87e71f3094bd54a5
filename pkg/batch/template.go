package batch

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

	"github.com/quantfold/quantfold/pkg/jobstore"
)

// Template is a parameterized batch description. Each params entry is an
// axis; expansion takes the cartesian product of all axes in a fixed
// deterministic order (axis names sorted, values in natural order).
type Template struct {
	JobType jobstore.JobType `yaml:"job_type" json:"job_type"`
	Season  string           `yaml:"season,omitempty" json:"season,omitempty"`
	Tags    []string         `yaml:"tags,omitempty" json:"tags,omitempty"`
	Params  map[string]Axis  `yaml:"params" json:"params"`
}

// Axis is one parameter dimension: a single value, an enumerated list,
// or a numeric range.
type Axis struct {
	Value  any
	Values []any
	Range  *AxisRange
}

// AxisRange is an inclusive numeric range with a positive step.
type AxisRange struct {
	From float64 `yaml:"from" json:"from"`
	To   float64 `yaml:"to" json:"to"`
	Step float64 `yaml:"step" json:"step"`
}

// UnmarshalYAML accepts the three axis shapes:
//
//	timeframe: 1h                      # single value
//	timeframe: [1h, 4h, 1d]           # enumerated list
//	lookback: {from: 10, to: 50, step: 10}
func (a *Axis) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var v any
		if err := node.Decode(&v); err != nil {
			return err
		}
		a.Value = v
		return nil
	case yaml.SequenceNode:
		var vs []any
		if err := node.Decode(&vs); err != nil {
			return err
		}
		a.Values = vs
		return nil
	case yaml.MappingNode:
		var r AxisRange
		if err := node.Decode(&r); err != nil {
			return err
		}
		a.Range = &r
		return nil
	default:
		return fmt.Errorf("unsupported axis shape at line %d", node.Line)
	}
}

// Cardinality returns the number of concrete values this axis expands to.
func (a Axis) Cardinality() (int, error) {
	switch {
	case a.Range != nil:
		if a.Range.Step <= 0 {
			return 0, errors.New("range step must be > 0")
		}
		if a.Range.To < a.Range.From {
			return 0, errors.New("range to must be >= from")
		}
		return int(math.Floor((a.Range.To-a.Range.From)/a.Range.Step)) + 1, nil
	case a.Values != nil:
		if len(a.Values) == 0 {
			return 0, errors.New("enumerated axis must not be empty")
		}
		return len(a.Values), nil
	default:
		return 1, nil
	}
}

// expand materializes the axis values in natural order: ranges ascending,
// enumerated lists in declaration order.
func (a Axis) expand() ([]any, error) {
	n, err := a.Cardinality()
	if err != nil {
		return nil, err
	}
	switch {
	case a.Range != nil:
		out := make([]any, 0, n)
		for i := 0; i < n; i++ {
			v := a.Range.From + float64(i)*a.Range.Step
			if v == math.Trunc(v) {
				out = append(out, int(v))
			} else {
				out = append(out, v)
			}
		}
		return out, nil
	case a.Values != nil:
		return a.Values, nil
	default:
		return []any{a.Value}, nil
	}
}

// LoadTemplate reads a batch template from a YAML or JSON file.
//
// The file format is determined by extension: .yaml/.yml for YAML, .json
// for JSON. If the extension is unrecognized, YAML is attempted first.
func LoadTemplate(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("template file not found: %s", path)
		}
		return nil, fmt.Errorf("read template file: %w", err)
	}
	return LoadTemplateFromBytes(data, path)
}

// LoadTemplateFromBytes parses a template from raw bytes. The path
// parameter is used for format detection and error messages only.
func LoadTemplateFromBytes(data []byte, path string) (*Template, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errors.New("template file is empty")
	}

	var tpl Template
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := ValidateTemplateRaw(data); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &tpl); err != nil {
			return nil, fmt.Errorf("parse JSON template: %w", err)
		}
	default:
		if err := ValidateTemplateYAML(data); err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &tpl); err != nil {
			return nil, fmt.Errorf("parse YAML template: %w", err)
		}
	}

	if err := tpl.Validate(); err != nil {
		return nil, err
	}
	return &tpl, nil
}

// UnmarshalJSON mirrors the YAML axis shapes for JSON templates.
func (a *Axis) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	switch {
	case strings.HasPrefix(trimmed, "["):
		return json.Unmarshal(data, &a.Values)
	case strings.HasPrefix(trimmed, "{"):
		a.Range = &AxisRange{}
		return json.Unmarshal(data, a.Range)
	default:
		return json.Unmarshal(data, &a.Value)
	}
}

// Validate checks structural requirements before expansion.
func (t *Template) Validate() error {
	if t.JobType == "" {
		return errors.New("template job_type is required")
	}
	if len(t.Params) == 0 {
		return errors.New("template params must not be empty")
	}
	for name, axis := range t.Params {
		if _, err := axis.Cardinality(); err != nil {
			return fmt.Errorf("axis %q: %w", name, err)
		}
	}
	return nil
}

// EstimateTotal returns the number of concrete job specs the template
// expands to, without materializing the expansion. Used for pre-flight
// capacity checks before a large grid is admitted.
func EstimateTotal(t *Template) (int, error) {
	if err := t.Validate(); err != nil {
		return 0, err
	}
	total := 1
	for _, axis := range t.Params {
		n, err := axis.Cardinality()
		if err != nil {
			return 0, err
		}
		total *= n
	}
	return total, nil
}

// ExpandTemplate materializes the parameter grid into concrete job specs.
//
// Order is fully deterministic: axis names are iterated in sorted order
// and the rightmost axis varies fastest, like an odometer. Expanding the
// same template always yields the same spec sequence.
func ExpandTemplate(t *Template) ([]jobstore.JobSpec, error) {
	total, err := EstimateTotal(t)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(t.Params))
	for name := range t.Params {
		names = append(names, name)
	}
	sort.Strings(names)

	values := make([][]any, len(names))
	for i, name := range names {
		vs, err := t.Params[name].expand()
		if err != nil {
			return nil, fmt.Errorf("axis %q: %w", name, err)
		}
		values[i] = vs
	}

	specs := make([]jobstore.JobSpec, 0, total)
	odometer := make([]int, len(names))
	for {
		params := make(map[string]any, len(names))
		for i, name := range names {
			params[name] = values[i][odometer[i]]
		}
		specs = append(specs, jobstore.JobSpec{JobType: t.JobType, Params: params})

		// Advance the odometer, rightmost digit fastest.
		i := len(odometer) - 1
		for ; i >= 0; i-- {
			odometer[i]++
			if odometer[i] < len(values[i]) {
				break
			}
			odometer[i] = 0
		}
		if i < 0 {
			break
		}
	}

	return specs, nil
}
