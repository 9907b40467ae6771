// Package recovery turns a stream of runtime errors into bounded recovery
// actions.
//
// Every error passed to Coordinator.Observe is classified. Transient errors
// are grouped per scope: a burst inside the debounce window becomes one
// incident. Each incident runs the scope's narrow remedy until the scope
// has seen more than EscalationThreshold incidents without a
// MarkRecovered, at which point the broad remedy runs and the count starts
// over. Configuration issues and fatal errors are reported to subscribers
// and never remedied.
package recovery
