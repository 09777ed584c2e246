package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2"
)

// Document is one entry in the bundled semantic index.
type Document struct {
	// ID identifies the document.
	ID string `json:"id"`

	// Title is a short human-readable label.
	Title string `json:"title"`

	// Text is the searchable body.
	Text string `json:"text"`

	// MessageType optionally declares the structured message family the
	// document is about.
	MessageType string `json:"messageType,omitempty"`

	// Kind tags the document class; GuidanceKind marks pre-structured
	// guidance accepted by the secondary lookup.
	Kind string `json:"kind,omitempty"`

	// Visual marks diagram/screenshot-only content that text prompts
	// cannot use.
	Visual bool `json:"visual,omitempty"`
}

// BleveSearcher is an in-memory Searcher over a bleve index. It serves as
// the default semantic collaborator in tests, the CLI, and deployments
// without an external vector index.
type BleveSearcher struct {
	index bleve.Index
}

// NewBleveSearcher builds a mem-only index over the given documents.
func NewBleveSearcher(docs []Document) (*BleveSearcher, error) {
	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("retrieval: create index: %w", err)
	}
	s := &BleveSearcher{index: index}
	for _, doc := range docs {
		if err := s.Add(doc); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Add indexes one document.
func (s *BleveSearcher) Add(doc Document) error {
	if doc.ID == "" {
		return fmt.Errorf("retrieval: document id is required")
	}
	fields := map[string]any{
		"title":       doc.Title,
		"text":        doc.Text,
		"messageType": strings.ToLower(doc.MessageType),
		"kind":        doc.Kind,
		"visual":      doc.Visual,
	}
	if err := s.index.Index(doc.ID, fields); err != nil {
		return fmt.Errorf("retrieval: index %s: %w", doc.ID, err)
	}
	return nil
}

// Close releases the index.
func (s *BleveSearcher) Close() error {
	return s.index.Close()
}

// SemanticSearch implements Searcher. Kind and visual scoping are applied
// as post-filters so the text analyzer cannot split the filter terms.
func (s *BleveSearcher) SemanticSearch(ctx context.Context, query string, opts SearchOptions) ([]SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = MaxSnippets
	}

	mq := bleve.NewMatchQuery(query)
	// Over-fetch to survive post-filtering.
	req := bleve.NewSearchRequestOptions(mq, limit*4, 0, false)
	req.Fields = []string{"title", "text", "messageType", "kind", "visual"}
	req.Highlight = bleve.NewHighlight()

	res, err := s.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("retrieval: search: %w", err)
	}

	out := make([]SearchResult, 0, limit)
	for _, hit := range res.Hits {
		kind, _ := hit.Fields["kind"].(string)
		if opts.OutlineScoping && kind != GuidanceKind {
			continue
		}
		if visual, _ := hit.Fields["visual"].(bool); opts.ExcludeVisual && visual {
			continue
		}
		payload := map[string]any{
			"title":       stringField(hit.Fields, "title"),
			"text":        stringField(hit.Fields, "text"),
			"messageType": stringField(hit.Fields, "messageType"),
			"kind":        kind,
		}
		highlight := ""
		if frags, ok := hit.Fragments["text"]; ok && len(frags) > 0 {
			highlight = frags[0]
		}
		out = append(out, SearchResult{ID: hit.ID, Score: hit.Score, Payload: payload, Highlight: highlight})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func stringField(fields map[string]any, key string) string {
	v, _ := fields[key].(string)
	return v
}
