package deskports

import (
	"context"
)

// Generator is the abstraction for text generation backends.
// Implementations are stateless per call; the instruction carries the grounding rules
// and groundingContext carries the reference material and recent history.
// Implementations must return promptly once ctx is done; the engine's generation
// timeout is enforced only through ctx.
type Generator interface {
	Complete(ctx context.Context, instruction, groundingContext string) (string, error)
}
