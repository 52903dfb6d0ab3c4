package grading

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Criterion is one scorecard line the model grades a call against.
type Criterion struct {
	Name        string `json:"criterion" koanf:"criterion" validate:"required"`
	Description string `json:"description,omitempty" koanf:"description"`
}

// String renders the criterion the way it is listed in a grading prompt.
func (c Criterion) String() string {
	if c.Description == "" {
		return c.Name
	}
	return c.Name + ": " + c.Description
}

// Names returns the bare criterion names.
func Names(cs []Criterion) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Name
	}
	return out
}

// FromNames builds criteria without descriptions, skipping blanks.
func FromNames(names []string) []Criterion {
	out := make([]Criterion, 0, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, Criterion{Name: n})
		}
	}
	return out
}

// nameColumns are the accepted headers for the criterion column, in priority order.
var nameColumns = []string{"criterion", "criteria", "question", "item"}

// ReadCSV reads criteria from a CSV whose header has a criterion, criteria,
// question or item column (case and surrounding space ignored). An optional
// description column is carried along.
func ReadCSV(r io.Reader) ([]Criterion, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrNoCriteria
		}
		return nil, fmt.Errorf("%w: %v", ErrScorecardFormat, err)
	}

	cols := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, dup := cols[h]; !dup {
			cols[h] = i
		}
	}

	nameIdx := -1
	for _, c := range nameColumns {
		if i, ok := cols[c]; ok {
			nameIdx = i
			break
		}
	}
	if nameIdx < 0 {
		return nil, fmt.Errorf("%w: expected one of %s columns", ErrScorecardFormat, strings.Join(nameColumns, ", "))
	}
	descIdx, hasDesc := cols["description"]

	var out []Criterion
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrScorecardFormat, err)
		}
		if nameIdx >= len(row) {
			continue
		}
		c := Criterion{Name: strings.TrimSpace(row[nameIdx])}
		if c.Name == "" {
			continue
		}
		if hasDesc && descIdx < len(row) {
			c.Description = strings.TrimSpace(row[descIdx])
		}
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil, ErrNoCriteria
	}
	return out, nil
}

// LoadFile reads a scorecard from a .csv or .yaml/.yml file. YAML files hold a
// top-level criteria list whose items are strings or criterion/description maps.
func LoadFile(path string) ([]Criterion, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrScorecardFormat, err)
		}
		defer func() { _ = f.Close() }()
		return ReadCSV(f)
	case ".yaml", ".yml":
		return loadYAML(path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrScorecardFormat, filepath.Ext(path))
	}
}

func loadYAML(path string) ([]Criterion, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScorecardFormat, err)
	}
	items, ok := k.Get("criteria").([]interface{})
	if !ok {
		return nil, ErrNoCriteria
	}

	var out []Criterion
	for _, it := range items {
		switch v := it.(type) {
		case string:
			out = append(out, FromNames([]string{v})...)
		case map[string]interface{}:
			name, _ := v["criterion"].(string)
			desc, _ := v["description"].(string)
			if name = strings.TrimSpace(name); name != "" {
				out = append(out, Criterion{Name: name, Description: strings.TrimSpace(desc)})
			}
		}
	}
	if len(out) == 0 {
		return nil, ErrNoCriteria
	}
	return out, nil
}
