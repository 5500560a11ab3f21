// Package runner owns process execution.
//
// Ownership boundary:
// - command value types (CommandSpec, Result, OutputChunk)
//
// - the Runner capability and its variants: host, broker-wrapped, ssh, mock
//
// - exit status and spawn failure classification
//
// A non-zero exit is a Result, not a transport error. Only spawn failures and
// cancellation are returned as errors from Run.
//
// Variant selection happens once at startup (see New and Detect). Callers hold
// a Runner and never branch on the concrete type.
package runner
