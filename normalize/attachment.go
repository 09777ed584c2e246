package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/jonwraymond/scriptgen/script"
)

// Attachment chunking bounds.
const (
	MaxChunksPerAttachment = 4
	ChunkTargetLength      = 1200
)

// attachmentBoostFactor guarantees attachment-derived references outrank
// any caller-supplied reference after weight sorting.
const attachmentBoostFactor = 1.25

var titleCaser = cases.Title(language.English)

func normalizeAttachments(atts []Attachment) ([]Attachment, error) {
	if len(atts) > MaxAttachments {
		return nil, script.NewValidationError(
			"too_many_attachments",
			fmt.Sprintf("%d attachments supplied, maximum is %d", len(atts), MaxAttachments),
			map[string]any{"count": len(atts), "max": MaxAttachments},
		)
	}
	total := 0
	out := make([]Attachment, 0, len(atts))
	for i, att := range atts {
		if att.Filename == "" && att.Content == "" {
			return nil, script.NewValidationError(
				"invalid_attachments_type",
				fmt.Sprintf("attachment %d has neither filename nor content", i),
				map[string]any{"index": i},
			)
		}
		if att.Filename == "" {
			att.Filename = fmt.Sprintf("attachment-%d.txt", i+1)
		}
		total += len(att.Content)
		att.Weight = clampWeight(att.Weight)
		att.DisplayName = displayName(att.Filename)
		out = append(out, att)
	}
	if total > MaxAttachmentTotalBytes {
		return nil, script.NewValidationError(
			"attachments_total_too_large",
			fmt.Sprintf("attachments total %d bytes, maximum is %d", total, MaxAttachmentTotalBytes),
			map[string]any{"totalBytes": total, "max": MaxAttachmentTotalBytes},
		)
	}
	return out, nil
}

// displayName derives a human-readable name from a filename:
// "lab_results-sample.hl7" becomes "Lab Results Sample".
func displayName(filename string) string {
	base := path.Base(filename)
	if idx := strings.LastIndex(base, "."); idx > 0 {
		base = base[:idx]
	}
	base = strings.NewReplacer("_", " ", "-", " ", ".", " ").Replace(base)
	base = strings.Join(strings.Fields(base), " ")
	if base == "" {
		return filename
	}
	return titleCaser.String(base)
}

// referencesFromAttachments converts each attachment into at most
// MaxChunksPerAttachment content-ordered reference snippets. Chunk weights
// are boosted above the highest caller-supplied weight so attachment
// evidence dominates ranking.
func referencesFromAttachments(atts []Attachment, callerRefs []ReferenceDocument) ([]ReferenceDocument, []string) {
	maxCaller := 0.0
	for _, ref := range callerRefs {
		if ref.Weight > maxCaller {
			maxCaller = ref.Weight
		}
	}
	if maxCaller == 0 {
		maxCaller = 1.0
	}

	var refs []ReferenceDocument
	var warnings []string
	for _, att := range atts {
		chunks, truncated := chunkContent(att.Content)
		if truncated {
			warnings = append(warnings, fmt.Sprintf("attachment %q truncated to %d chunks", att.Filename, MaxChunksPerAttachment))
		}
		for i, chunk := range chunks {
			refs = append(refs, ReferenceDocument{
				ID:           fmt.Sprintf("att:%s:%d", att.Filename, i+1),
				Title:        fmt.Sprintf("%s (part %d/%d)", att.DisplayName, i+1, len(chunks)),
				Snippet:      chunk,
				Weight:       maxCaller*attachmentBoostFactor + att.Weight - float64(i)*0.01,
				UseForPrompt: true,
			})
		}
	}
	return refs, warnings
}

// chunkContent splits content into at most MaxChunksPerAttachment chunks of
// roughly ChunkTargetLength characters, preferring line boundaries. Content
// beyond the final chunk is dropped; the second return reports whether a
// drop happened.
func chunkContent(content string) ([]string, bool) {
	content = strings.TrimSpace(segmentPrePass(content))
	if content == "" {
		return nil, false
	}

	lines := strings.Split(content, "\n")
	var chunks []string
	var cur strings.Builder
	for i, line := range lines {
		// A single oversized line is split mid-line.
		for len(line) > ChunkTargetLength {
			if cur.Len() > 0 {
				chunks = append(chunks, strings.TrimSpace(cur.String()))
				cur.Reset()
			}
			chunks = append(chunks, line[:ChunkTargetLength])
			line = line[ChunkTargetLength:]
			if len(chunks) > MaxChunksPerAttachment {
				return chunks[:MaxChunksPerAttachment], true
			}
		}
		if cur.Len() > 0 && cur.Len()+len(line)+1 > ChunkTargetLength {
			chunks = append(chunks, strings.TrimSpace(cur.String()))
			cur.Reset()
		}
		if len(chunks) == MaxChunksPerAttachment {
			return chunks, line != "" || i < len(lines)-1
		}
		if cur.Len() > 0 {
			cur.WriteByte('\n')
		}
		cur.WriteString(line)
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		chunks = append(chunks, s)
	}
	if len(chunks) > MaxChunksPerAttachment {
		return chunks[:MaxChunksPerAttachment], true
	}
	return chunks, false
}

// segmentPrePass inserts a line break after each unescaped carriage-return
// segment terminator when the content looks like a structured HL7-style
// message. The pre-pass improves chunk boundaries without altering
// semantic content.
func segmentPrePass(content string) string {
	if !IsStructuredMessage(content) {
		return content
	}
	var b strings.Builder
	b.Grow(len(content) + len(content)/32)
	for i := 0; i < len(content); i++ {
		c := content[i]
		b.WriteByte(c)
		if c != '\r' {
			continue
		}
		if i > 0 && content[i-1] == '\\' {
			continue // escaped terminator, leave framing alone
		}
		if i+1 < len(content) && content[i+1] == '\n' {
			continue
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// IsStructuredMessage reports whether content carries HL7 v2 style framing.
func IsStructuredMessage(content string) bool {
	trimmed := strings.TrimLeft(content, " \t\r\n")
	return strings.HasPrefix(trimmed, "MSH|^~\\&")
}

// mergeReferences deduplicates references by content hash, sorts the merged
// set by descending weight, and truncates it to MaxReferences.
func mergeReferences(callerRefs, attachmentRefs []ReferenceDocument) []ReferenceDocument {
	merged := make([]ReferenceDocument, 0, len(callerRefs)+len(attachmentRefs))
	seen := map[string]bool{}
	for _, ref := range append(append([]ReferenceDocument{}, attachmentRefs...), callerRefs...) {
		h := contentHash(ref.Snippet)
		if seen[h] {
			continue
		}
		seen[h] = true
		merged = append(merged, ref)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Weight > merged[j].Weight
	})
	if len(merged) > MaxReferences {
		merged = merged[:MaxReferences]
	}
	return merged
}

// contentHash produces a whitespace-insensitive hash of a snippet for
// deduplication.
func contentHash(snippet string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(snippet), " "))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
