// Package validate is the trust boundary between model output and the
// sandbox. It analyzes candidate source text and never executes it.
//
// Hard checks — syntax, entry-point export, async declaration, named input
// parameter, and a return path — raise retryable validation errors that
// the repair loop converts into prompt feedback. Determinism violations
// are hard only when the constraints demand determinism. Forbidden
// process-control and module patterns are recorded as forbiddenApis plus
// warnings rather than rejected outright, so policy can evolve
// independently of hard rejection.
//
// Syntax is verified with the goja parser; the remaining checks are
// deliberately lightweight textual pattern scans. Pattern matching can
// both over- and under-approximate real semantics, which is an accepted
// trade for speed — the sandbox, not this scan, is the execution boundary.
package validate
