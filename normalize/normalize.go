package normalize

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/jonwraymond/scriptgen/script"
)

// Field and collection bounds enforced by Normalize. Exceeding any of them
// is a contract failure with a stable error code, not a silent truncation.
const (
	MaxInstructionsLength      = 4000
	MaxAdditionalContextLength = 8000
	MaxExpectedOutputLength    = 2000
	MaxSchemaProperties        = 20
	MaxSchemaDescriptionLength = 300
	MaxAttachments             = 5
	MaxAttachmentTotalBytes    = 256 * 1024
	MaxReferences              = 12
	MaxTestCases               = 10
)

// Runtime clamp applied to constraints.MaxRuntimeMs.
const (
	MinRuntimeMs     = 250
	MaxRuntimeMs     = 30000
	DefaultRuntimeMs = 5000
)

// Attachment weight clamp.
const (
	minWeight = 0.1
	maxWeight = 5.0
)

// ReferenceDocument is one context snippet supplied by the caller or
// derived from an attachment.
type ReferenceDocument struct {
	// ID identifies the reference; attachment-derived references use a
	// filename/chunk scheme.
	ID string `json:"id"`

	// Title is a short human-readable label.
	Title string `json:"title"`

	// Snippet is the reference text itself.
	Snippet string `json:"snippet"`

	// Weight orders references during prompt assembly; higher wins.
	Weight float64 `json:"weight"`

	// UseForPrompt marks the reference for inclusion in tier-one context.
	UseForPrompt bool `json:"useForPrompt"`
}

// Attachment is a raw file supplied with a generation request.
type Attachment struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
	MimeType string `json:"mimeType,omitempty"`

	// Weight scales the boost applied to references derived from this
	// attachment. Clamped to [0.1, 5.0]; zero means 1.0.
	Weight float64 `json:"weight,omitempty"`

	// DisplayName is derived from the filename during normalization.
	DisplayName string `json:"displayName,omitempty"`
}

// SchemaProperty describes one property of the input schema.
type SchemaProperty struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// Schema is the bounded object schema describing the entry point's input.
type Schema struct {
	Type       string                    `json:"type"`
	Properties map[string]SchemaProperty `json:"properties"`
	Required   []string                  `json:"required,omitempty"`
}

// DefaultSchema returns the fixed template used when the caller omits a
// schema: an object requiring a single string property "payload".
func DefaultSchema() Schema {
	return Schema{
		Type: "object",
		Properties: map[string]SchemaProperty{
			"payload": {Type: "string", Description: "Raw input payload for the transform entry point."},
		},
		Required: []string{"payload"},
	}
}

// Request is a raw generation request before normalization.
type Request struct {
	Instructions              string               `json:"instructions"`
	AdditionalContext         string               `json:"additionalContext,omitempty"`
	ExpectedOutputDescription string               `json:"expectedOutputDescription,omitempty"`
	InputSchema               *Schema              `json:"inputSchema,omitempty"`
	Constraints               *script.Constraints  `json:"constraints,omitempty"`
	ReferenceDocuments        []ReferenceDocument  `json:"referenceDocuments,omitempty"`
	Attachments               []Attachment         `json:"attachments,omitempty"`
	TestCases                 []script.TestCase    `json:"testCases,omitempty"`
}

// Input is a fully normalized generation request. It is immutable once
// attached to a job; a resume composes a new Input rather than mutating
// the original.
type Input struct {
	Instructions              string              `json:"instructions"`
	AdditionalContext         string              `json:"additionalContext,omitempty"`
	ExpectedOutputDescription string              `json:"expectedOutputDescription,omitempty"`
	InputSchema               Schema              `json:"inputSchema"`
	Constraints               script.Constraints  `json:"constraints"`
	ReferenceDocuments        []ReferenceDocument `json:"referenceDocuments,omitempty"`
	Attachments               []Attachment        `json:"attachments,omitempty"`
	TestCases                 []script.TestCase   `json:"testCases,omitempty"`

	// DetectedMessageTypes lists structured-message hints ordered by
	// descending score.
	DetectedMessageTypes []string `json:"detectedMessageTypes,omitempty"`

	// PrimaryMessageType is the top hint when its score clears the fixed
	// threshold, otherwise empty.
	PrimaryMessageType string `json:"primaryMessageType,omitempty"`
}

var assertionTypes = map[script.AssertionType]bool{
	script.AssertContains: true,
	script.AssertEquals:   true,
	script.AssertRegex:    true,
}

// Normalize validates and bounds every field of a raw request, derives
// message-type hints, and merges attachment-derived references with
// caller-supplied ones. It returns the normalized input plus any non-fatal
// warnings, or a *script.ValidationError.
func Normalize(req Request) (*Input, []string, error) {
	var warnings []string

	instructions := sanitizeText(req.Instructions)
	if instructions == "" {
		return nil, nil, script.NewValidationError("missing_instructions", "instructions are required", nil)
	}
	if len(instructions) > MaxInstructionsLength {
		return nil, nil, tooLong("instructions", len(instructions), MaxInstructionsLength)
	}

	additional := sanitizeText(req.AdditionalContext)
	if len(additional) > MaxAdditionalContextLength {
		return nil, nil, tooLong("additional_context", len(additional), MaxAdditionalContextLength)
	}

	expected := sanitizeText(req.ExpectedOutputDescription)
	if len(expected) > MaxExpectedOutputLength {
		return nil, nil, tooLong("expected_output", len(expected), MaxExpectedOutputLength)
	}

	schema, err := normalizeSchema(req.InputSchema)
	if err != nil {
		return nil, nil, err
	}

	constraints := normalizeConstraints(req.Constraints)

	attachments, err := normalizeAttachments(req.Attachments)
	if err != nil {
		return nil, nil, err
	}

	callerRefs, err := normalizeReferences(req.ReferenceDocuments)
	if err != nil {
		return nil, nil, err
	}

	attachmentRefs, chunkWarnings := referencesFromAttachments(attachments, callerRefs)
	warnings = append(warnings, chunkWarnings...)

	merged := mergeReferences(callerRefs, attachmentRefs)
	if dropped := len(callerRefs) + len(attachmentRefs) - len(merged); dropped > 0 {
		warnings = append(warnings, fmt.Sprintf("dropped %d reference(s): duplicate content or over the cap of %d", dropped, MaxReferences))
	}

	testCases, err := normalizeTestCases(req.TestCases)
	if err != nil {
		return nil, nil, err
	}

	detected, primary := DetectMessageTypes(Evidence{
		Instructions:   instructions,
		Context:        additional,
		ExpectedOutput: expected,
		Attachments:    attachments,
		References:     merged,
	})

	return &Input{
		Instructions:              instructions,
		AdditionalContext:         additional,
		ExpectedOutputDescription: expected,
		InputSchema:               schema,
		Constraints:               constraints,
		ReferenceDocuments:        merged,
		Attachments:               attachments,
		TestCases:                 testCases,
		DetectedMessageTypes:      detected,
		PrimaryMessageType:        primary,
	}, warnings, nil
}

func tooLong(field string, got, max int) *script.ValidationError {
	return script.NewValidationError(
		"too_long_"+field,
		fmt.Sprintf("%s exceeds the maximum length of %d characters", field, max),
		map[string]any{"length": got, "max": max},
	)
}

// sanitizeText normalizes line endings, strips NUL bytes, and trims
// surrounding whitespace.
func sanitizeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\x00", "")
	return strings.TrimSpace(s)
}

func normalizeSchema(s *Schema) (Schema, error) {
	if s == nil {
		return DefaultSchema(), nil
	}
	out := Schema{Type: s.Type, Properties: map[string]SchemaProperty{}, Required: append([]string(nil), s.Required...)}
	if out.Type == "" {
		out.Type = "object"
	}
	if len(s.Properties) > MaxSchemaProperties {
		return Schema{}, script.NewValidationError(
			"too_many_schema_properties",
			fmt.Sprintf("input schema declares %d properties, maximum is %d", len(s.Properties), MaxSchemaProperties),
			map[string]any{"count": len(s.Properties), "max": MaxSchemaProperties},
		)
	}
	for name, prop := range s.Properties {
		if len(prop.Description) > MaxSchemaDescriptionLength {
			return Schema{}, script.NewValidationError(
				"too_long_schema_description",
				fmt.Sprintf("description of schema property %q exceeds %d characters", name, MaxSchemaDescriptionLength),
				map[string]any{"property": name, "max": MaxSchemaDescriptionLength},
			)
		}
		if prop.Type == "" {
			prop.Type = "string"
		}
		out.Properties[name] = prop
	}
	if len(out.Properties) == 0 {
		return DefaultSchema(), nil
	}
	return out, nil
}

func normalizeConstraints(c *script.Constraints) script.Constraints {
	if c == nil {
		return script.Constraints{Deterministic: true, MaxRuntimeMs: DefaultRuntimeMs}
	}
	out := *c
	if out.MaxRuntimeMs == 0 {
		out.MaxRuntimeMs = DefaultRuntimeMs
	}
	if out.MaxRuntimeMs < MinRuntimeMs {
		out.MaxRuntimeMs = MinRuntimeMs
	}
	if out.MaxRuntimeMs > MaxRuntimeMs {
		out.MaxRuntimeMs = MaxRuntimeMs
	}
	return out
}

func normalizeTestCases(cases []script.TestCase) ([]script.TestCase, error) {
	if len(cases) > MaxTestCases {
		return nil, script.NewValidationError(
			"too_many_test_cases",
			fmt.Sprintf("%d test cases supplied, maximum is %d", len(cases), MaxTestCases),
			map[string]any{"count": len(cases), "max": MaxTestCases},
		)
	}
	out := make([]script.TestCase, 0, len(cases))
	for i, tc := range cases {
		for _, a := range tc.Assertions {
			if !assertionTypes[a.Type] {
				return nil, script.NewValidationError(
					"invalid_assertion_type",
					fmt.Sprintf("test case %d uses unsupported assertion type %q", i, a.Type),
					map[string]any{"testCase": i, "type": string(a.Type)},
				)
			}
			if a.Type == script.AssertRegex {
				if _, err := regexp.Compile(a.Value); err != nil {
					return nil, script.NewValidationError(
						"invalid_assertion_regex",
						fmt.Sprintf("test case %d has an invalid regex assertion: %v", i, err),
						map[string]any{"testCase": i, "pattern": a.Value},
					)
				}
			}
		}
		out = append(out, tc)
	}
	return out, nil
}

func normalizeReferences(refs []ReferenceDocument) ([]ReferenceDocument, error) {
	out := make([]ReferenceDocument, 0, len(refs))
	for i, ref := range refs {
		ref.Snippet = sanitizeText(ref.Snippet)
		if ref.Snippet == "" {
			continue
		}
		if ref.ID == "" {
			ref.ID = fmt.Sprintf("ref-%d", i+1)
		}
		if ref.Title == "" {
			ref.Title = ref.ID
		}
		ref.Weight = clampWeight(ref.Weight)
		out = append(out, ref)
	}
	return out, nil
}

func clampWeight(w float64) float64 {
	if w == 0 {
		return 1.0
	}
	if w < minWeight {
		return minWeight
	}
	if w > maxWeight {
		return maxWeight
	}
	return w
}
