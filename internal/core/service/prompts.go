package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/costlens/costlens/internal/catalog"
)

// renderGenerationPrompt builds the system prompt for the SQL generation
// stage. Everything schema- or business-rule-shaped comes from the catalog;
// the prompt text itself carries no knowledge of its own.
func renderGenerationPrompt(cat *catalog.Catalog, now time.Time) string {
	var b strings.Builder

	table := cat.QualifiedTable()

	b.WriteString("You convert natural-language cost questions into a single SQL SELECT query.\n\n")
	fmt.Fprintf(&b, "## Table\n\n%s", table)
	if cat.Dataset.Description != "" {
		fmt.Fprintf(&b, " — %s", cat.Dataset.Description)
	}
	b.WriteString("\n\n## Columns (use EXACTLY these names)\n\n")
	for _, col := range cat.Dataset.Columns {
		fmt.Fprintf(&b, "- %s (%s)", col.Name, col.Type)
		if col.Description != "" {
			fmt.Fprintf(&b, " - %s", col.Description)
		}
		b.WriteByte('\n')
	}

	if len(cat.Concepts) > 0 {
		b.WriteString("\n## Business vocabulary\n\n")
		for _, hint := range cat.Concepts {
			fmt.Fprintf(&b, "- When the question mentions %s, filter with: %s\n",
				strings.Join(hint.Terms, ", "), hint.Predicate)
		}
	}

	fy := fiscalYearFor(cat, now)
	b.WriteString("\n## Fiscal calendar\n\n")
	for _, year := range []int{fy, fy - 1} {
		start, end := cat.FiscalYear(year)
		fmt.Fprintf(&b, "- FY%d = %s to %s\n",
			year, start.Format("2006-01-02"), end.Format("2006-01-02"))
	}
	fmt.Fprintf(&b, "- The current fiscal year is FY%d.\n", fy)

	b.WriteString("\n## Rules\n\n")
	fmt.Fprintf(&b, "1. Always query the fully qualified table: %s\n", table)
	b.WriteString("2. Use date filters whenever a time range is implied.\n")
	fmt.Fprintf(&b, "3. For top-N questions add LIMIT (default %d) and ORDER BY %s.\n",
		cat.Defaults.TopNLimit, cat.Defaults.OrderBy)
	b.WriteString("4. Generate ONLY a SELECT (or WITH ... SELECT) query. Never any other statement.\n")
	b.WriteString("5. No semicolons, no SQL comments.\n")
	b.WriteString("\nReturn ONLY the raw SQL. No markdown, no explanation.\n")

	return b.String()
}

// renderSynthesisPrompt builds the system prompt for the insight synthesis
// stage.
func renderSynthesisPrompt(cat *catalog.Catalog) string {
	var b strings.Builder
	b.WriteString("You summarize cloud cost query results for a business audience.\n\n")
	fmt.Fprintf(&b, "The data comes from the %s dataset", cat.Dataset.Name)
	if cat.Dataset.Description != "" {
		fmt.Fprintf(&b, " (%s)", cat.Dataset.Description)
	}
	b.WriteString(".\n\n")
	b.WriteString("Given the original question, the SQL that was run, and the result rows (tab-separated, header first):\n")
	b.WriteString("- Answer the question directly in one or two sentences, with concrete figures.\n")
	b.WriteString("- Mention notable patterns (largest contributors, trends) when the rows show them.\n")
	b.WriteString("- If there are no rows, say so plainly; do not invent numbers.\n")
	b.WriteString("- Do not repeat the SQL.\n")
	return b.String()
}

// fiscalYearFor returns the fiscal year containing now. With the February
// calendar, 2025-03-01 falls in FY2026.
func fiscalYearFor(cat *catalog.Catalog, now time.Time) int {
	fy := now.Year()
	if cat.Fiscal.StartMonth > time.January {
		boundary := time.Date(now.Year(), cat.Fiscal.StartMonth, cat.Fiscal.StartDay, 0, 0, 0, 0, time.UTC)
		if !now.Before(boundary) {
			fy = now.Year() + 1
		}
	}
	return fy
}
