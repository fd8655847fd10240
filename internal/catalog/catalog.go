package catalog

import (
	"fmt"
	"time"
)

// Catalog is the versioned, operator-controlled description of what the agent
// may query: the physical cost table, its columns, the fiscal calendar, and
// the business vocabulary. It replaces schema knowledge embedded in prompt
// prose — prompts are rendered from this structure and nothing else.
type Catalog struct {
	Version  int           `yaml:"version"`
	Dataset  Dataset       `yaml:"dataset"`
	Fiscal   Fiscal        `yaml:"fiscal"`
	Concepts []ConceptHint `yaml:"concepts"`
	Defaults QueryDefaults `yaml:"defaults"`
}

// Dataset maps the logical dataset onto one physical warehouse table.
type Dataset struct {
	Name        string   `yaml:"name"`
	Schema      string   `yaml:"schema"`
	Table       string   `yaml:"table"`
	Description string   `yaml:"description"`
	Columns     []Column `yaml:"columns"`
}

// Column describes one queryable column.
type Column struct {
	Name        string `yaml:"name"`
	Type        string `yaml:"type"`
	Description string `yaml:"description"`
}

// Fiscal defines when a fiscal year starts. The default calendar starts
// February 1st, so FY2026 covers 2025-02-01 through 2026-01-31.
type Fiscal struct {
	StartMonth time.Month `yaml:"start_month"`
	StartDay   int        `yaml:"start_day"`
}

// ConceptHint maps business vocabulary to a SQL predicate, e.g. "GenAI"
// questions to managed_service = 'AI/ML'.
type ConceptHint struct {
	Terms     []string `yaml:"terms"`
	Predicate string   `yaml:"predicate"`
}

// QueryDefaults holds generation-time conventions.
type QueryDefaults struct {
	TopNLimit int    `yaml:"top_n_limit"`
	OrderBy   string `yaml:"order_by"`
}

// QualifiedTable returns the schema-qualified physical table name.
func (c *Catalog) QualifiedTable() string {
	if c.Dataset.Schema == "" {
		return c.Dataset.Table
	}
	return c.Dataset.Schema + "." + c.Dataset.Table
}

// FiscalYear resolves fiscal year fy to its inclusive date range. With the
// February calendar, FY2026 = 2025-02-01 .. 2026-01-31; with a January
// calendar the fiscal year equals the calendar year.
func (c *Catalog) FiscalYear(fy int) (start, end time.Time) {
	month := c.Fiscal.StartMonth
	day := c.Fiscal.StartDay
	startYear := fy
	if month > time.January {
		startYear = fy - 1
	}
	start = time.Date(startYear, month, day, 0, 0, 0, 0, time.UTC)
	end = start.AddDate(1, 0, -1)
	return start, end
}

// Column returns the column named name, if present.
func (d *Dataset) Column(name string) (Column, bool) {
	for _, col := range d.Columns {
		if col.Name == name {
			return col, true
		}
	}
	return Column{}, false
}

func validate(c *Catalog) error {
	if c.Dataset.Name == "" {
		return fmt.Errorf("dataset.name is required")
	}
	if c.Dataset.Table == "" {
		return fmt.Errorf("dataset.table is required")
	}
	if len(c.Dataset.Columns) == 0 {
		return fmt.Errorf("dataset.columns must not be empty")
	}
	seen := make(map[string]bool, len(c.Dataset.Columns))
	for i, col := range c.Dataset.Columns {
		if col.Name == "" {
			return fmt.Errorf("dataset.columns[%d].name is required", i)
		}
		if seen[col.Name] {
			return fmt.Errorf("dataset.columns contains duplicate %q", col.Name)
		}
		seen[col.Name] = true
	}
	if c.Fiscal.StartMonth < time.January || c.Fiscal.StartMonth > time.December {
		return fmt.Errorf("fiscal.start_month: invalid month %d", c.Fiscal.StartMonth)
	}
	if c.Fiscal.StartDay < 1 || c.Fiscal.StartDay > 28 {
		return fmt.Errorf("fiscal.start_day: %d is out of range (1-28)", c.Fiscal.StartDay)
	}
	for i, hint := range c.Concepts {
		if len(hint.Terms) == 0 {
			return fmt.Errorf("concepts[%d].terms must not be empty", i)
		}
		if hint.Predicate == "" {
			return fmt.Errorf("concepts[%d].predicate is required", i)
		}
	}
	return nil
}
