// Package engine drives the generation pipeline: it owns the job queue,
// the bounded repair loop, and the public operations consumed by the
// transport layer.
//
// # Queue model
//
// Generation jobs are processed strictly FIFO by a single worker
// goroutine consuming a channel. At most one job is in flight, which
// bounds outbound LLM calls to one per engine and makes job ordering
// deterministic for a given submission order. Sandbox test runs are
// synchronous within a job's processing.
//
// # Repair loop
//
// Each job runs up to a fixed number of attempts. An attempt flows
// through prompt assembly, the LLM adapter, candidate extraction, the
// structural return patch, static validation, and — when test cases were
// supplied — the sandboxed test runner. A validation failure is converted
// into structured feedback for the next attempt rather than surfaced; any
// other failure terminates the job. Exhausting attempts surfaces the last
// validation error annotated with the attempt count.
//
// # Resume chains
//
// Resume targets a failed generation job, composes a new normalized input
// from the original plus repair guidance, and enqueues an entirely new
// job linked via its continued-from id. Chain depth is computed by
// walking those backlinks and is capped, preventing unbounded repair
// chains. The original job is never mutated.
package engine
