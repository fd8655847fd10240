package catalog

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadFromFile reads a YAML catalog file and returns a validated Catalog.
func LoadFromFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog file: %w", err)
	}

	cat := defaults()
	if err := yaml.Unmarshal(data, cat); err != nil {
		return nil, fmt.Errorf("parsing catalog YAML: %w", err)
	}

	if err := validate(cat); err != nil {
		return nil, fmt.Errorf("validating catalog: %w", err)
	}

	return cat, nil
}

// defaults returns a Catalog with the February fiscal calendar and standard
// query conventions pre-filled; the YAML file overrides what it sets.
func defaults() *Catalog {
	return &Catalog{
		Version: 1,
		Fiscal: Fiscal{
			StartMonth: time.February,
			StartDay:   1,
		},
		Defaults: QueryDefaults{
			TopNLimit: 10,
			OrderBy:   "cost DESC",
		},
	}
}
