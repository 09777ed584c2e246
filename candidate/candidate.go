// Package candidate extracts a script candidate from raw model output.
//
// The raw payload may be a decoded JSON object or a stringified one. When
// no code can be extracted the failure carries diagnostic context — the
// artifact ids seen, the response's top-level key set, and a truncated
// payload preview — so the repair loop can tell the model exactly what
// shape was wrong.
package candidate

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/jonwraymond/scriptgen/script"
)

// Caps applied to extracted metadata.
const (
	MaxDependencies = 8
	MaxNotes        = 10
)

// rawPreviewLength bounds the payload preview embedded in diagnostics.
const rawPreviewLength = 300

// codeKeys are the payload keys inspected for the script source, in order.
var codeKeys = []string{"code", "source", "script"}

// classificationKeys mark a banned classification-style response shape:
// the model answered with a label instead of a script.
var classificationKeys = []string{"classification", "category", "label", "intent", "confidence"}

// Extract parses raw model output into a script candidate. Failures are
// *script.ValidationError values with code "empty_candidate_code" and
// structured diagnostics.
func Extract(raw any) (*script.Candidate, error) {
	payload, ok := toPayload(raw)
	if !ok {
		// Not JSON at all; a bare module source is still salvageable.
		if s, isString := raw.(string); isString {
			if code := UnwrapFences(s); looksLikeModule(code) {
				return &script.Candidate{Code: code}, nil
			}
		}
		return nil, extractionFailure(raw, nil, "model output was neither a JSON object nor a module source")
	}

	cand := &script.Candidate{
		Entrypoint:   stringValue(payload, "entrypoint", "entryPoint"),
		Dependencies: sanitizeDependencies(stringSlice(payload["dependencies"])),
		Notes:        capSlice(stringSlice(payload["notes"]), MaxNotes),
	}

	for _, key := range codeKeys {
		if code, ok := payload[key].(string); ok {
			cand.Code = UnwrapFences(code)
			if cand.Code != "" {
				return cand, nil
			}
		}
	}

	artifacts := parseArtifacts(payload["artifacts"])
	if len(artifacts) > 0 {
		cand.Artifacts = artifacts
		var parts []string
		for _, a := range artifacts {
			if piece := UnwrapFences(a.Code); piece != "" {
				parts = append(parts, piece)
			}
		}
		cand.Code = strings.Join(parts, "\n")
		if strings.TrimSpace(cand.Code) != "" {
			return cand, nil
		}
	}

	return nil, extractionFailure(raw, payload, "model output carried no usable code")
}

func extractionFailure(raw any, payload map[string]any, message string) *script.ValidationError {
	details := map[string]any{
		"rawPreview": rawPreview(raw),
	}
	if payload != nil {
		keys := make([]string, 0, len(payload))
		for k := range payload {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		details["responseKeys"] = keys

		if artifacts := parseArtifacts(payload["artifacts"]); len(artifacts) > 0 {
			ids := make([]string, 0, len(artifacts))
			for _, a := range artifacts {
				ids = append(ids, a.ID)
			}
			details["artifactCount"] = len(artifacts)
			details["artifactIds"] = ids
		}
		for _, key := range classificationKeys {
			if _, present := payload[key]; present {
				details["classificationShape"] = true
				break
			}
		}
	}
	return script.NewValidationError("empty_candidate_code", message, details)
}

// toPayload normalizes raw output into a key/value payload, decoding
// stringified JSON when needed.
func toPayload(raw any) (map[string]any, bool) {
	switch v := raw.(type) {
	case map[string]any:
		return v, true
	case string:
		trimmed := strings.TrimSpace(UnwrapFences(v))
		var decoded map[string]any
		if err := json.Unmarshal([]byte(trimmed), &decoded); err == nil {
			return decoded, true
		}
		return nil, false
	default:
		return nil, false
	}
}

// parseArtifacts reads an artifacts array, ordering fragments by their
// declared order.
func parseArtifacts(v any) []script.Artifact {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]script.Artifact, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		a := script.Artifact{
			ID:    stringValue(m, "id"),
			Code:  stringValue(m, "code", "content", "source"),
			Order: i,
		}
		if order, ok := numberValue(m, "order"); ok {
			a.Order = order
		}
		if a.ID == "" {
			a.ID = fmt.Sprintf("artifact-%d", i+1)
		}
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// UnwrapFences strips surrounding markdown code-fence markers.
func UnwrapFences(code string) string {
	trimmed := strings.TrimSpace(code)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 {
		return trimmed
	}
	lines = lines[1:] // drop the opening fence with its language tag
	if strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func looksLikeModule(code string) bool {
	return strings.Contains(code, "module.exports") || strings.Contains(code, "exports.")
}

func sanitizeDependencies(deps []string) []string {
	out := make([]string, 0, len(deps))
	seen := map[string]bool{}
	for _, dep := range deps {
		dep = strings.ToLower(strings.TrimSpace(dep))
		if dep == "" || seen[dep] || !validDependencyName(dep) {
			continue
		}
		seen[dep] = true
		out = append(out, dep)
		if len(out) == MaxDependencies {
			break
		}
	}
	return out
}

func validDependencyName(dep string) bool {
	for _, r := range dep {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		case r == '@' || r == '/' || r == '.' || r == '_' || r == '-':
		default:
			return false
		}
	}
	return len(dep) <= 64
}

func stringSlice(v any) []string {
	switch items := v.(type) {
	case []string:
		return items
	case []any:
		out := make([]string, 0, len(items))
		for _, item := range items {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func capSlice(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func stringValue(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := m[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func numberValue(m map[string]any, key string) (int, bool) {
	switch n := m[key].(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	default:
		return 0, false
	}
}

func rawPreview(raw any) string {
	var text string
	switch v := raw.(type) {
	case string:
		text = v
	default:
		data, err := json.Marshal(raw)
		if err != nil {
			text = fmt.Sprintf("%v", raw)
		} else {
			text = string(data)
		}
	}
	if len(text) > rawPreviewLength {
		text = text[:rawPreviewLength]
	}
	return text
}
