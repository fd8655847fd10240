package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_AllowsPlainSelect(t *testing.T) {
	v := NewSafetyValidator()

	verdict := v.Validate("SELECT SUM(cost) FROM cost_analysis WHERE date BETWEEN '2025-02-01' AND '2026-01-31'")
	assert.True(t, verdict.OK())
	assert.Equal(t, "VALID", verdict.String())
	assert.Empty(t, verdict.Reason())
}

func TestValidate_AllowsCTEWithTrailingSemicolon(t *testing.T) {
	v := NewSafetyValidator()

	verdict := v.Validate("WITH recent AS (SELECT * FROM t) SELECT * FROM recent;")
	assert.True(t, verdict.OK())
}

func TestValidate_RejectsForbiddenKeywords(t *testing.T) {
	v := NewSafetyValidator()

	tests := []struct {
		name    string
		sql     string
		keyword string
	}{
		{"drop", "DROP TABLE cost_analysis", "DROP"},
		{"drop lowercase", "drop table cost_analysis", "DROP"},
		{"drop mixed case", "DrOp TaBlE cost_analysis", "DROP"},
		{"delete", "DELETE FROM t WHERE id = 1", "DELETE"},
		{"insert", "INSERT INTO t VALUES (1)", "INSERT"},
		{"update", "UPDATE t SET x = 1", "UPDATE"},
		{"alter", "ALTER TABLE t ADD COLUMN x int", "ALTER"},
		{"create", "CREATE TABLE t (id int)", "CREATE"},
		{"truncate", "TRUNCATE t", "TRUNCATE"},
		{"grant", "GRANT ALL ON t TO PUBLIC", "GRANT"},
		{"revoke", "REVOKE ALL ON t FROM PUBLIC", "REVOKE"},
		{"merge", "MERGE INTO t USING s ON t.id = s.id", "MERGE"},
		{"exec", "EXEC sp_who", "EXEC"},
		{"execute", "EXECUTE IMMEDIATE 'SELECT 1'", "EXECUTE"},
		{"call", "CALL my_proc()", "CALL"},
		{"embedded in select", "SELECT * FROM t WHERE x IN (SELECT 1) UNION SELECT 2 FROM y CROSS JOIN DROP", "DROP"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict := v.Validate(tt.sql)
			require.False(t, verdict.OK())
			assert.Equal(t, ReasonForbiddenKeyword, verdict.Kind)
			assert.Equal(t, tt.keyword, verdict.Detail)
			assert.Equal(t, "INVALID: forbidden keyword "+tt.keyword, verdict.String())
		})
	}
}

func TestCheckForbiddenKeywords_WholeTokenOnly(t *testing.T) {
	v := NewSafetyValidator()

	// Identifiers that contain a banned word as a substring must not fire.
	tests := []string{
		"SELECT application_id FROM t",            // contains no whole CALL/ALTER token
		"SELECT created_at FROM t",                // CREATE is a prefix of created_at
		"SELECT * FROM t OFFSET 10",               // SET inside OFFSET
		"SELECT updated_by FROM t",                // UPDATE inside updated_by
		"SELECT * FROM my_dataset.cost_analysis",  // SET inside dataset
		"SELECT dropped_requests FROM t",          // DROP inside dropped_requests
		"SELECT granted_total, insertions FROM t", // GRANT, INSERT as substrings
	}
	for _, sql := range tests {
		assert.True(t, v.CheckForbiddenKeywords(sql).OK(), "false positive on %q", sql)
	}
}

func TestCheckForbiddenKeywords_InsideStringLiteral(t *testing.T) {
	v := NewSafetyValidator()

	// Literal contents are scanned too: the gate fails closed rather than
	// trying to understand quoting.
	verdict := v.CheckForbiddenKeywords("SELECT * FROM t WHERE name = 'DROP'")
	assert.False(t, verdict.OK())
	assert.Equal(t, "DROP", verdict.Detail)
}

func TestValidate_RejectsMultipleStatements(t *testing.T) {
	v := NewSafetyValidator()

	tests := []struct {
		name string
		sql  string
	}{
		{"chained select", "SELECT * FROM a; SELECT * FROM b"},
		{"semicolon then payload", "SELECT 1; x"},
		{"two semicolons", "SELECT 1;;"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict := v.Validate(tt.sql)
			require.False(t, verdict.OK())
			assert.Equal(t, ReasonMultipleStatements, verdict.Kind)
			assert.Equal(t, "INVALID: multiple statements", verdict.String())
		})
	}
}

func TestValidate_ChainedMutationIsRejected(t *testing.T) {
	v := NewSafetyValidator()

	// Caught by the separator rule before the keyword scan; either reason
	// would be acceptable, but the outcome must be Invalid.
	verdict := v.Validate("SELECT * FROM t; DELETE FROM t")
	require.False(t, verdict.OK())
	assert.Equal(t, ReasonMultipleStatements, verdict.Kind)
}

func TestValidate_RejectsCommentInjection(t *testing.T) {
	v := NewSafetyValidator()

	tests := []struct {
		name string
		sql  string
	}{
		{"line comment hiding a drop", "SELECT * FROM t -- ; DROP TABLE t"},
		{"benign-looking line comment", "SELECT * FROM t -- just a note"},
		{"block comment open", "SELECT /* hidden */ * FROM t"},
		{"block comment close only", "SELECT * FROM t */"},
		{"leading comment", "-- preamble\nSELECT 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict := v.Validate(tt.sql)
			require.False(t, verdict.OK())
			assert.Equal(t, ReasonCommentInjection, verdict.Kind)
			assert.Contains(t, verdict.String(), "INVALID: comment injection")
		})
	}
}

func TestValidate_RejectsNonSelect(t *testing.T) {
	v := NewSafetyValidator()

	tests := []struct {
		name string
		sql  string
	}{
		{"show", "SHOW TABLES"},
		{"explain", "EXPLAIN SELECT 1"},
		{"values", "VALUES (1, 2)"},
		{"garbage", "hello world"},
		{"number first", "42 SELECT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict := v.Validate(tt.sql)
			require.False(t, verdict.OK())
			assert.Equal(t, ReasonNotASelect, verdict.Kind)
			assert.Equal(t, "INVALID: not a SELECT/WITH statement", verdict.String())
		})
	}
}

func TestValidate_RejectsEmptyInput(t *testing.T) {
	v := NewSafetyValidator()

	for _, sql := range []string{"", "   ", "\n\t  \r\n", ";"} {
		verdict := v.Validate(sql)
		require.False(t, verdict.OK(), "input %q", sql)
		assert.Equal(t, ReasonEmptyStatement, verdict.Kind)
		assert.Equal(t, "INVALID: empty statement", verdict.String())
	}
}

func TestValidate_RejectsUnbalancedSyntax(t *testing.T) {
	v := NewSafetyValidator()

	tests := []struct {
		name string
		sql  string
	}{
		{"open paren", "SELECT SUM(cost FROM t"},
		{"close paren", "SELECT cost) FROM t"},
		{"single quote", "SELECT * FROM t WHERE name = 'x"},
		{"double quote", `SELECT "col FROM t`},
		{"backtick", "SELECT * FROM `project.ds.table"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict := v.Validate(tt.sql)
			require.False(t, verdict.OK())
			assert.Equal(t, ReasonUnbalancedSyntax, verdict.Kind)
		})
	}
}

func TestValidate_Idempotent(t *testing.T) {
	v := NewSafetyValidator()

	inputs := []string{
		"SELECT 1",
		"DROP TABLE t",
		"",
		"SELECT * FROM t;",
		"SELECT * FROM t -- x",
	}
	for _, sql := range inputs {
		first := v.Validate(sql)
		second := v.Validate(sql)
		assert.Equal(t, first, second, "verdict changed between calls for %q", sql)
	}
}

func TestValidate_TrailingSemicolonNormalization(t *testing.T) {
	v := NewSafetyValidator()

	// A statement accepted with its trailing semicolon must still be accepted
	// once the semicolon is stripped, and stripping is idempotent.
	sql := "SELECT cloud, SUM(cost) FROM cost_analysis GROUP BY cloud;"
	require.True(t, v.Validate(sql).OK())

	stripped := strings.TrimSuffix(sql, ";")
	assert.True(t, v.Validate(stripped).OK())
	assert.True(t, v.Validate(strings.TrimSuffix(stripped, ";")).OK())
}

func TestValidate_LargeInputDoesNotPanic(t *testing.T) {
	v := NewSafetyValidator()

	// Tens of kilobytes of IN-list; must terminate with a verdict.
	var b strings.Builder
	b.WriteString("SELECT * FROM t WHERE id IN (")
	for i := 0; i < 20000; i++ {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('1')
	}
	b.WriteString(")")

	verdict := v.Validate(b.String())
	assert.True(t, verdict.OK())

	// Same input with garbage appended still terminates, and fails closed.
	verdict = v.Validate(b.String() + "; DROP TABLE t")
	assert.False(t, verdict.OK())
}

func TestValidate_SelectWithoutFrom(t *testing.T) {
	v := NewSafetyValidator()
	assert.True(t, v.Validate("SELECT 1").OK())
}

func TestValidate_LeadingWhitespace(t *testing.T) {
	v := NewSafetyValidator()
	assert.True(t, v.Validate("   \n\t SELECT 1").OK())
	assert.True(t, v.Validate("\n  with x as (select 1) select * from x").OK())
}

func TestCheckStructure_Standalone(t *testing.T) {
	v := NewSafetyValidator()

	assert.True(t, v.CheckStructure("SELECT 1").OK())
	assert.True(t, v.CheckStructure("SELECT 1;").OK())
	assert.Equal(t, ReasonEmptyStatement, v.CheckStructure("  ").Kind)
	assert.Equal(t, ReasonEmptyStatement, v.CheckStructure(" ; ").Kind)
	assert.Equal(t, ReasonNotASelect, v.CheckStructure("UPDATE t SET x = 1").Kind)
}

func TestVerdict_WireForm(t *testing.T) {
	assert.Equal(t, "VALID", Verdict{}.String())
	assert.Equal(t, "INVALID: forbidden keyword DROP",
		Verdict{Outcome: Invalid, Kind: ReasonForbiddenKeyword, Detail: "DROP"}.String())
	assert.Equal(t, "INVALID: empty statement",
		Verdict{Outcome: Invalid, Kind: ReasonEmptyStatement}.String())
}
