package replay

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kostaslazaros/cpgenius/internal/artifact"
	"github.com/kostaslazaros/cpgenius/internal/ranking"
)

// #region fixture-types

// Fixture pins the expected rankings of one dataset.
type Fixture struct {
	Description string `json:"description"`
	// Dataset is resolved against the fixture's directory when relative.
	Dataset        string   `json:"dataset"`
	LabelColumn    string   `json:"label_column,omitempty"`
	SelectedLabels []string `json:"selected_labels,omitempty"`
	DropNonNumeric bool     `json:"drop_non_numeric,omitempty"`
	// Params overrides the default strategy hyper-parameters.
	Params *ranking.Params `json:"params,omitempty"`
	Cases  []FixtureCase   `json:"cases"`

	dir string
}

// FixtureCase is one strategy run and the feature order it must produce.
// An empty Expected only checks that repeated runs agree.
type FixtureCase struct {
	Strategy ranking.ID `json:"strategy"`
	Seed     int64      `json:"seed"`
	Expected []string   `json:"expected,omitempty"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	if f.Dataset == "" {
		return nil, fmt.Errorf("fixture %s: no dataset", path)
	}
	for i, c := range f.Cases {
		if _, err := ranking.Parse(string(c.Strategy)); err != nil {
			return nil, fmt.Errorf("fixture %s: case %d: %w", path, i, err)
		}
	}
	f.dir = filepath.Dir(path)
	return &f, nil
}

// DatasetPath returns the dataset location.
func (f *Fixture) DatasetPath() string {
	if filepath.IsAbs(f.Dataset) || f.dir == "" {
		return f.Dataset
	}
	return filepath.Join(f.dir, f.Dataset)
}

// Save writes the fixture as indented JSON.
func (f *Fixture) Save(path string) error {
	return artifact.WriteJSON(path, f)
}

// #endregion fixture-loader
