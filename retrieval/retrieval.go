package retrieval

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/jonwraymond/scriptgen/normalize"
)

// MaxSnippets caps the assembled context set.
const MaxSnippets = 8

// GuidanceKind tags documents holding pre-structured guidance content; the
// secondary lookup accepts only documents tagged with it.
const GuidanceKind = "structured-guidance"

// SearchOptions tunes one semantic search call.
type SearchOptions struct {
	// Limit bounds the number of results.
	Limit int

	// OutlineScoping restricts the search to pre-structured guidance
	// documents.
	OutlineScoping bool

	// ExcludeVisual drops documents tagged as visual-only content.
	ExcludeVisual bool
}

// SearchResult is one hit from the semantic collaborator.
type SearchResult struct {
	ID        string
	Score     float64
	Payload   map[string]any
	Highlight string
}

// Searcher is the semantic-search collaborator.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: must honor cancellation and return ctx.Err() when canceled.
// - Errors: failures are reported, never panicked; the assembler treats
//   them as non-fatal.
type Searcher interface {
	SemanticSearch(ctx context.Context, query string, opts SearchOptions) ([]SearchResult, error)
}

// Snippet is one assembled context item.
type Snippet struct {
	// Source identifies the contributing tier: "reference", "guidance",
	// or "semantic".
	Source string `json:"source"`

	ID    string  `json:"id"`
	Title string  `json:"title,omitempty"`
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

// Assembler builds context snippet sets for generation prompts.
type Assembler struct {
	searcher Searcher
	logger   *slog.Logger
}

// NewAssembler creates an Assembler. searcher may be nil, in which case
// only reference snippets are produced. logger may be nil.
func NewAssembler(searcher Searcher, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Assembler{searcher: searcher, logger: logger}
}

// Assemble returns the ordered, deduplicated, capped context set for a
// normalized input. It never fails: retrieval errors are logged and an
// empty result is a valid outcome.
func (a *Assembler) Assemble(ctx context.Context, input *normalize.Input) []Snippet {
	var snippets []Snippet
	seen := map[string]bool{}

	add := func(s Snippet) bool {
		if len(snippets) >= MaxSnippets {
			return false
		}
		key := dedupeKey(s.Text)
		if key == "" || seen[key] {
			return true
		}
		seen[key] = true
		snippets = append(snippets, s)
		return len(snippets) < MaxSnippets
	}

	// Tier 1: references marked for prompt use, already weight-sorted.
	for _, ref := range input.ReferenceDocuments {
		if !ref.UseForPrompt {
			continue
		}
		if !add(Snippet{Source: "reference", ID: ref.ID, Title: ref.Title, Text: ref.Snippet, Score: ref.Weight}) {
			return snippets
		}
	}

	if a.searcher == nil {
		return snippets
	}
	expected := typeSet(input.DetectedMessageTypes)

	// Tier 2: pre-structured guidance keyed by detected message types.
	for _, mt := range input.DetectedMessageTypes {
		results, err := a.searcher.SemanticSearch(ctx, mt+" message guidance", SearchOptions{
			Limit:          MaxSnippets,
			OutlineScoping: true,
			ExcludeVisual:  true,
		})
		if err != nil {
			a.logger.Warn("guidance lookup failed", "messageType", mt, "error", err)
			continue
		}
		for _, res := range results {
			if payloadString(res.Payload, "kind") != GuidanceKind {
				continue
			}
			if src := payloadString(res.Payload, "messageType"); src != "" && !expected[strings.ToLower(src)] {
				continue
			}
			if !add(Snippet{Source: "guidance", ID: res.ID, Title: payloadString(res.Payload, "title"), Text: resultText(res), Score: res.Score}) {
				return snippets
			}
		}
	}

	// Tier 3: generic semantic fallback over the combined free text.
	query := strings.TrimSpace(input.Instructions + "\n" + input.AdditionalContext)
	results, err := a.searcher.SemanticSearch(ctx, query, SearchOptions{
		Limit:         MaxSnippets,
		ExcludeVisual: true,
	})
	if err != nil {
		a.logger.Warn("semantic fallback failed", "error", err)
		return snippets
	}
	for _, res := range results {
		if src := payloadString(res.Payload, "messageType"); src != "" && len(expected) > 0 && !expected[strings.ToLower(src)] {
			continue
		}
		if !add(Snippet{Source: "semantic", ID: res.ID, Title: payloadString(res.Payload, "title"), Text: resultText(res), Score: res.Score}) {
			return snippets
		}
	}
	return snippets
}

func typeSet(types []string) map[string]bool {
	out := make(map[string]bool, len(types))
	for _, t := range types {
		out[strings.ToLower(t)] = true
	}
	return out
}

func payloadString(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}

func resultText(res SearchResult) string {
	if text := payloadString(res.Payload, "text"); text != "" {
		return text
	}
	return res.Highlight
}

// dedupeKey normalizes snippet text for deduplication.
func dedupeKey(text string) string {
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}
