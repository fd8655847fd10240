package port

import "github.com/costlens/costlens/internal/core/domain"

// Validator produces the go/no-go verdict for a candidate SQL statement.
// Implementations must be pure and must never panic on adversarial input.
type Validator interface {
	Validate(sql string) domain.Verdict
}

// DeepValidator is an optional second gate run after the verdict, typically
// backed by a real SQL parser. A nil error means the statement passed.
type DeepValidator interface {
	Check(sql string) error
}
