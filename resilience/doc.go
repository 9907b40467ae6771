// Package resilience provides the retry combinator and the small
// fault-isolation primitives the rest of connkit builds on.
//
//   - Retry / RetryFunc: exponential-backoff retry of any fallible call.
//   - Backoff: the single delay law shared with the connection manager.
//   - CircuitBreaker: fails fast on a resolution tier that keeps failing.
//   - Bulkhead: bounds concurrent network loads.
//   - RateLimiter: token bucket capping broad recovery resets.
//
// Retry does not classify errors. Every failure is retried until the budget
// is spent, after which the returned error matches ErrMaxRetriesExceeded:
//
//	client, err := resilience.Retry(ctx, policy, func(ctx context.Context) (*redis.Client, error) {
//	    return dial(ctx)
//	})
//	if errors.Is(err, resilience.ErrMaxRetriesExceeded) { ... }
package resilience
