// Package job defines the tool-job records produced by the generation
// engine and the Store interface that owns them.
//
// A [Job] is a tagged union discriminated by [Kind]: a vetted-script job is
// stored for manual review and never executed; a generation job runs the
// full generation pipeline. Consumers switch exhaustively on Kind so that
// adding a third kind is a compile-visible change.
//
// Each job record is exclusively owned by its Store for its lifetime. Store
// implementations return caller-owned snapshots; the single worker loop in
// package engine is the only writer of status, progress, and results, so no
// field is ever mutated by two call paths concurrently.
package job
