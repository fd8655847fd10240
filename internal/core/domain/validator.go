package domain

import (
	"regexp"
	"strings"
)

// forbiddenKeywords lists data- and schema-mutating keywords that must never
// reach the warehouse. EXEC/EXECUTE/CALL cover stored routines; DECLARE and
// SET cover scripting blocks.
var forbiddenKeywords = []string{
	"DROP", "DELETE", "INSERT", "UPDATE", "ALTER",
	"CREATE", "TRUNCATE", "GRANT", "REVOKE", "MERGE",
	"EXEC", "EXECUTE", "CALL", "DECLARE", "SET",
}

// keywordPatterns matches on whole-token boundaries so identifiers that merely
// contain a banned word (application_id, OFFSET, my_dataset) never fire.
var keywordPatterns = func() []*regexp.Regexp {
	patterns := make([]*regexp.Regexp, 0, len(forbiddenKeywords))
	for _, kw := range forbiddenKeywords {
		patterns = append(patterns, regexp.MustCompile(`(?i)\b`+kw+`\b`))
	}
	return patterns
}()

// SafetyValidator decides whether a candidate SQL statement produced upstream
// is safe to execute with read-only intent. It is a pure lexical gate: the
// input is treated strictly as text to be scanned, never executed or fully
// parsed. All methods are stateless and safe for concurrent use.
//
// The input is effectively attacker-controlled (a prompt-injected model can
// emit destructive SQL), so every ambiguity resolves to Invalid and no input
// may cause a panic.
type SafetyValidator struct{}

func NewSafetyValidator() *SafetyValidator {
	return &SafetyValidator{}
}

// Validate is the single entry point for the rest of the system. It layers
// the independent checks and returns the first failing verdict.
//
// Comment markers are scanned before keywords: a marker can hide anything
// after it, so "comment injection" is the more truthful reason even when the
// hidden tail also contains a banned keyword.
func (v *SafetyValidator) Validate(sql string) Verdict {
	trimmed := strings.TrimSpace(sql)
	if trimmed == "" {
		return invalid(ReasonEmptyStatement, "")
	}

	if verdict := checkCommentMarkers(trimmed); !verdict.OK() {
		return verdict
	}
	if verdict := checkStatementSeparators(trimmed); !verdict.OK() {
		return verdict
	}
	if verdict := v.CheckForbiddenKeywords(trimmed); !verdict.OK() {
		return verdict
	}
	return v.CheckStructure(trimmed)
}

// CheckForbiddenKeywords scans for deny-listed mutating keywords,
// case-insensitively and on whole-token boundaries. The scan deliberately
// does not exempt string literals: quote-confusion tricks would otherwise
// smuggle keywords past the gate, and a false positive on a literal is a
// rejection, not a breach.
func (v *SafetyValidator) CheckForbiddenKeywords(sql string) Verdict {
	for i, pattern := range keywordPatterns {
		if pattern.MatchString(sql) {
			return invalid(ReasonForbiddenKeyword, forbiddenKeywords[i])
		}
	}
	return valid()
}

// CheckStructure verifies the statement is a single top-level SELECT or WITH
// query with balanced delimiters. This is a lightweight shape check, not a
// parser: a CTE prefix is allowed because it always resolves to a terminal
// SELECT.
func (v *SafetyValidator) CheckStructure(sql string) Verdict {
	trimmed := strings.TrimSpace(sql)
	if trimmed == "" {
		return invalid(ReasonEmptyStatement, "")
	}

	// A single trailing separator is tolerated and normalized away.
	trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	if trimmed == "" {
		return invalid(ReasonEmptyStatement, "")
	}

	switch strings.ToUpper(firstKeyword(trimmed)) {
	case "SELECT", "WITH":
	default:
		return invalid(ReasonNotASelect, "")
	}

	if strings.Count(trimmed, "(") != strings.Count(trimmed, ")") {
		return invalid(ReasonUnbalancedSyntax, "(parentheses)")
	}
	if strings.Count(trimmed, "'")%2 != 0 {
		return invalid(ReasonUnbalancedSyntax, "(single quotes)")
	}
	if strings.Count(trimmed, `"`)%2 != 0 {
		return invalid(ReasonUnbalancedSyntax, "(double quotes)")
	}
	if strings.Count(trimmed, "`")%2 != 0 {
		return invalid(ReasonUnbalancedSyntax, "(backticks)")
	}

	return valid()
}

// checkCommentMarkers rejects any line or block comment marker. Comments have
// no place in machine-generated reporting SQL and are the standard vehicle
// for hiding a second clause from naive scanners.
func checkCommentMarkers(sql string) Verdict {
	for _, marker := range []string{"--", "/*", "*/"} {
		if strings.Contains(sql, marker) {
			return invalid(ReasonCommentInjection, marker)
		}
	}
	return valid()
}

// checkStatementSeparators allows at most one semicolon, and only as the
// final non-whitespace character.
func checkStatementSeparators(sql string) Verdict {
	idx := strings.IndexByte(sql, ';')
	if idx < 0 {
		return valid()
	}
	if strings.Count(sql, ";") > 1 {
		return invalid(ReasonMultipleStatements, "")
	}
	if strings.TrimSpace(sql[idx+1:]) != "" {
		return invalid(ReasonMultipleStatements, "")
	}
	return valid()
}

// firstKeyword returns the leading identifier-shaped token of s.
func firstKeyword(s string) string {
	s = strings.TrimLeft(s, " \t\r\n")
	end := 0
	for end < len(s) {
		c := s[end]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_' {
			end++
			continue
		}
		break
	}
	return s[:end]
}
