// internal/tokens/counter.go
package tokens

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultModel selects the tokenizer when none is configured.
const DefaultModel = "gpt-4o-mini"

// Counter measures text in model tokens.
type Counter struct {
	enc *tiktoken.Tiktoken
}

// NewCounter returns a Counter for model. Unknown models use cl100k_base.
func NewCounter(model string) (*Counter, error) {
	if model == "" {
		model = DefaultModel
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("get tokenizer: %w", err)
		}
	}
	return &Counter{enc: enc}, nil
}

func (c *Counter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// Budget limits questions to a maximum token count. A zero limit disables
// the check.
type Budget struct {
	counter *Counter
	limit   int
}

func NewBudget(counter *Counter, limit int) *Budget {
	return &Budget{counter: counter, limit: limit}
}

func (b *Budget) Limit() int { return b.limit }

// Check returns the token count of text and whether it fits the budget.
func (b *Budget) Check(text string) (int, bool) {
	if b == nil || b.counter == nil || b.limit <= 0 {
		return 0, true
	}
	n := b.counter.Count(text)
	return n, n <= b.limit
}
