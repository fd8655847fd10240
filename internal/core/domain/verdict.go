package domain

// Outcome is the binary result of safety validation.
type Outcome int

const (
	Valid Outcome = iota
	Invalid
)

// ReasonKind classifies why a statement was rejected.
type ReasonKind string

const (
	ReasonNone               ReasonKind = ""
	ReasonEmptyStatement     ReasonKind = "empty statement"
	ReasonForbiddenKeyword   ReasonKind = "forbidden keyword"
	ReasonNotASelect         ReasonKind = "not a SELECT/WITH statement"
	ReasonMultipleStatements ReasonKind = "multiple statements"
	ReasonCommentInjection   ReasonKind = "comment injection"
	ReasonUnbalancedSyntax   ReasonKind = "unbalanced syntax"
)

// Verdict is the result of validating one candidate SQL statement.
// A zero Verdict is Valid with no reason.
type Verdict struct {
	Outcome Outcome
	Kind    ReasonKind
	Detail  string // extra context, e.g. the matched keyword
}

// OK reports whether the statement may be executed.
func (v Verdict) OK() bool { return v.Outcome == Valid }

// Reason returns the human-readable rejection reason, empty when valid.
func (v Verdict) Reason() string {
	if v.Outcome == Valid {
		return ""
	}
	if v.Detail == "" {
		return string(v.Kind)
	}
	return string(v.Kind) + " " + v.Detail
}

// String renders the verdict in its wire form: "VALID" or "INVALID: <reason>".
// Downstream stages branch on this exact shape.
func (v Verdict) String() string {
	if v.Outcome == Valid {
		return "VALID"
	}
	return "INVALID: " + v.Reason()
}

func valid() Verdict {
	return Verdict{Outcome: Valid}
}

func invalid(kind ReasonKind, detail string) Verdict {
	return Verdict{Outcome: Invalid, Kind: kind, Detail: detail}
}
