package port

import "context"

// Completer is a text-completion service: given a system prompt and a user
// input, it returns the model's text reply. Both the SQL generation and
// insight synthesis stages sit behind this interface so they can be mocked;
// nothing deterministic lives on the other side of it.
type Completer interface {
	Complete(ctx context.Context, prompt, input string) (string, error)
}
