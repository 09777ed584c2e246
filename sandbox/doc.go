// Package sandbox executes validated scripts inside an isolated goja
// runtime.
//
// Every execution gets a fresh global context: a buffering console proxy
// that captures rather than forwards output, a require loader restricted
// to an allow-list gated by the same network/filesystem flags used during
// validation, a neutered process object with an empty environment and no
// exit, and timer primitives that throw. Execution is bounded by the
// configured maximum runtime via VM interrupt; no state survives between
// invocations.
//
// The sandbox expects the module contract enforced by package validate: a
// CommonJS-style export of a single async entry point receiving one input
// value. The settled promise result is the execution value.
package sandbox
