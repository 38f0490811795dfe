// internal/conversation/budget.go
package conversation

import (
	"errors"
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// ErrPromptTooLarge is returned by Submit when the prompt exceeds the
// configured token budget. The check runs before dispatch, so nothing is
// sent and the typed content stays available.
var ErrPromptTooLarge = errors.New("prompt exceeds token budget")

// Budget guards outgoing prompts against the model's token limit.
type Budget struct {
	tokenizer *tiktoken.Tiktoken
	max       int
}

// NewBudget creates a Budget for the given model with the given maximum
// prompt size in tokens. model selects the tokenizer (e.g. "gpt-4o").
func NewBudget(model string, max int) (*Budget, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		// Fallback to cl100k_base for unknown models
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("get tokenizer: %w", err)
		}
	}
	return &Budget{tokenizer: enc, max: max}, nil
}

// Count returns the token count for the prompt.
func (b *Budget) Count(prompt string) int {
	return len(b.tokenizer.Encode(prompt, nil, nil))
}

// Check returns ErrPromptTooLarge when the prompt is over budget.
func (b *Budget) Check(prompt string) error {
	if b.max <= 0 {
		return nil
	}
	if n := b.Count(prompt); n > b.max {
		return fmt.Errorf("%w: %d tokens, budget %d", ErrPromptTooLarge, n, b.max)
	}
	return nil
}
