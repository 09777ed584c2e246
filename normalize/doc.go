// Package normalize turns raw generation requests into bounded, sanitized
// inputs for the generation engine.
//
// Normalization is a contract, not a cleanup: every text field has an
// explicit maximum length and violating it fails with a
// [script.ValidationError] carrying a stable code, never a silent
// truncation. Attachments are chunked into weighted reference snippets that
// are guaranteed to outrank caller-supplied references, deduplicated by
// content hash, and merged under a fixed overall cap.
//
// # Message-type hints
//
// Free text, attachment filenames and content samples, and reference
// titles each contribute weighted votes toward a closed set of structured
// message-type tokens (HL7 v2 families). The highest-scoring token becomes
// the primary hint only if it clears a fixed threshold; a single weak
// mention never narrows retrieval on its own.
package normalize
