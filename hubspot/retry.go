// ABOUTME: Per-invocation retry budget shared by every CRM call in one sync run
// ABOUTME: The budget travels in the request context and is decremented at the call site
package hubspot

import (
	"context"
	"sync"
)

// DefaultRetryBudget is the number of retries one invocation may spend in total.
const DefaultRetryBudget = 3

// perCallRetries is the number of retries a single call may spend.
const perCallRetries = 1

// RetryBudget counts the retries left for one invocation.
type RetryBudget struct {
	mu        sync.Mutex
	remaining int
}

// NewRetryBudget returns a budget allowing n retries.
func NewRetryBudget(n int) *RetryBudget {
	return &RetryBudget{remaining: n}
}

// spend decrements the budget and reports whether it is still non-negative.
func (b *RetryBudget) spend() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.remaining--
	return b.remaining >= 0
}

// Remaining reports the retries left.
func (b *RetryBudget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remaining
}

type budgetKey struct{}

// WithRetryBudget attaches b to ctx.
func WithRetryBudget(ctx context.Context, b *RetryBudget) context.Context {
	return context.WithValue(ctx, budgetKey{}, b)
}

// RetryBudgetFrom returns the budget attached to ctx, or nil.
func RetryBudgetFrom(ctx context.Context) *RetryBudget {
	b, _ := ctx.Value(budgetKey{}).(*RetryBudget)
	return b
}
