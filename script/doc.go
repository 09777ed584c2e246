// Package script defines the shared vocabulary for generated script
// artifacts: the entry-point convention, execution constraints, candidates,
// descriptors, validation reports, and test cases.
//
// A generated script is a CommonJS-style module exporting a single
// asynchronous function named by [EntrypointName]. The function receives one
// input value and must return one output value. When determinism is
// requested, the script's output may depend only on its input: wall-clock
// reads, random generators, and timers are rejected by validation.
//
// # Candidate vs. Descriptor
//
// A [Candidate] is a not-yet-validated script as extracted from a model
// response. A [Descriptor] is the validated, final representation, including
// its [ValidationReport]. The repair loop in package engine turns candidates
// into descriptors.
//
// # Validation errors
//
// [ValidationError] carries a stable machine-readable code plus structured
// context. Validation errors raised during a generation attempt are consumed
// by the repair loop and converted into prompt feedback; they surface to the
// caller only once attempts are exhausted.
package script
