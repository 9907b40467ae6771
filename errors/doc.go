// Package errors provides the unified error taxonomy for connkit.
// Every failure class the connectivity layer reports (transport, loader
// tier, client construction, exhausted budgets, configuration) has an
// error code, a retryable flag and a constructor.
package errors
