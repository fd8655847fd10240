package domain

import (
	"errors"
	"fmt"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

var (
	ErrEmptyQuery     = errors.New("empty query")
	ErrNotAllowed     = errors.New("only SELECT queries are allowed")
	ErrMultiStatement = errors.New("multiple statements are not allowed")
	ErrParseFailed    = errors.New("failed to parse SQL")
)

// ParserGate re-validates SQL using PostgreSQL's actual parser. It runs after
// the lexical SafetyValidator as an independent second layer: the lexical gate
// owns the verdict contract, the parser gate catches anything shaped to slip
// past a textual scan.
//
// Only meaningful when the warehouse speaks the Postgres dialect; disable it
// for other dialects rather than rejecting their syntax wholesale.
type ParserGate struct{}

func NewParserGate() *ParserGate {
	return &ParserGate{}
}

// Check parses the SQL and rejects anything that isn't a single SELECT
// statement. Parse failure is a rejection, never a pass.
func (g *ParserGate) Check(sql string) error {
	tree, err := pg_query.Parse(sql)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrParseFailed, err)
	}

	if len(tree.Stmts) == 0 {
		return ErrEmptyQuery
	}
	if len(tree.Stmts) > 1 {
		return ErrMultiStatement
	}

	stmt := tree.Stmts[0].Stmt
	if stmt == nil {
		return ErrEmptyQuery
	}

	if _, ok := stmt.Node.(*pg_query.Node_SelectStmt); !ok {
		return ErrNotAllowed
	}
	return nil
}
