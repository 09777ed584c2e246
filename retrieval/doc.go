// Package retrieval assembles the ranked, capped context-snippet set that
// grounds a generation prompt.
//
// Three tiers contribute, in strict priority order: caller and
// attachment-derived references marked for prompt use, a secondary lookup
// for pre-structured guidance keyed by detected message types, and a
// generic semantic-search fallback over the request's free text. Snippets
// are deduplicated by normalized text and capped at a fixed size.
//
// The semantic index behind [Searcher] is an external collaborator;
// retrieval failures are logged and an empty snippet set is a valid,
// non-fatal outcome. [BleveSearcher] is the bundled in-memory
// implementation.
package retrieval
