package retrieval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonwraymond/scriptgen/normalize"
)

func newTestIndex(t *testing.T) *BleveSearcher {
	t.Helper()
	s, err := NewBleveSearcher([]Document{
		{ID: "adt-guide", Title: "ADT admissions guide", Text: "Handling ADT admission messages and PV1 segments", MessageType: "adt", Kind: GuidanceKind},
		{ID: "oru-guide", Title: "ORU results guide", Text: "Handling ORU lab result messages and OBX segments", MessageType: "oru", Kind: GuidanceKind},
		{ID: "blog-post", Title: "Integration blog", Text: "General notes on admission message plumbing", Kind: "freeform"},
		{ID: "diagram", Title: "Flow diagram", Text: "admission message flow diagram", Kind: GuidanceKind, Visual: true},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBleveSearcher_Search(t *testing.T) {
	s := newTestIndex(t)

	results, err := s.SemanticSearch(context.Background(), "admission messages", SearchOptions{Limit: 10})
	require.NoError(t, err)
	require.NotEmpty(t, results)

	ids := map[string]bool{}
	for _, r := range results {
		ids[r.ID] = true
	}
	assert.True(t, ids["adt-guide"])
}

func TestBleveSearcher_OutlineScoping(t *testing.T) {
	s := newTestIndex(t)

	results, err := s.SemanticSearch(context.Background(), "admission message", SearchOptions{
		Limit:          10,
		OutlineScoping: true,
		ExcludeVisual:  true,
	})
	require.NoError(t, err)

	for _, r := range results {
		assert.Equal(t, GuidanceKind, r.Payload["kind"], "non-guidance hit %s leaked through", r.ID)
		assert.NotEqual(t, "blog-post", r.ID)
		assert.NotEqual(t, "diagram", r.ID)
	}
}

func TestBleveSearcher_EmptyQuery(t *testing.T) {
	s := newTestIndex(t)
	results, err := s.SemanticSearch(context.Background(), "   ", SearchOptions{})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestBleveSearcher_AddRequiresID(t *testing.T) {
	s := newTestIndex(t)
	assert.Error(t, s.Add(Document{Title: "no id"}))
}

func TestBleveSearcher_LimitHonored(t *testing.T) {
	s := newTestIndex(t)
	results, err := s.SemanticSearch(context.Background(), "messages", SearchOptions{Limit: 1})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(results), 1)
}

func TestAssemble_WithBleveIndex(t *testing.T) {
	s := newTestIndex(t)
	a := NewAssembler(s, nil)

	input := &normalize.Input{
		Instructions:         "map ADT admission messages",
		DetectedMessageTypes: []string{"adt"},
	}
	snippets := a.Assemble(context.Background(), input)
	require.NotEmpty(t, snippets)

	var sawGuidance bool
	for _, snip := range snippets {
		if snip.Source == "guidance" {
			sawGuidance = true
			assert.Equal(t, "adt-guide", snip.ID)
		}
	}
	assert.True(t, sawGuidance)
}
