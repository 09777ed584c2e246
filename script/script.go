package script

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// EntrypointName is the fixed name of the exported asynchronous function
// every generated script must expose.
const EntrypointName = "transform"

// Runtime is the tag identifying the execution target of generated scripts.
const Runtime = "sandboxed-js"

// PreviewLength bounds source previews embedded in job records and
// diagnostics.
const PreviewLength = 280

// Constraints describes the execution policy a script was generated under.
// The same constraints gate both static validation and the sandbox
// module loader.
type Constraints struct {
	// Deterministic requires the script's output to depend only on its
	// input. Wall-clock reads, random generators, and timers are hard
	// validation failures when set.
	Deterministic bool `json:"deterministic"`

	// AllowNetwork permits network-capable modules in the sandbox loader
	// and suppresses the corresponding forbidden-API warnings.
	AllowNetwork bool `json:"allowNetwork"`

	// AllowFilesystem permits filesystem-capable modules in the sandbox
	// loader and suppresses the corresponding forbidden-API warnings.
	AllowFilesystem bool `json:"allowFilesystem"`

	// MaxRuntimeMs bounds a single sandboxed execution in milliseconds.
	MaxRuntimeMs int `json:"maxRuntimeMs"`
}

// SourceInfo summarizes a script body without embedding the whole of it.
type SourceInfo struct {
	// Hash is the hex-encoded SHA-256 of the source text.
	Hash string `json:"hash"`

	// ByteLength is the length of the source text in bytes.
	ByteLength int `json:"byteLength"`

	// Preview holds the first PreviewLength characters of the source.
	Preview string `json:"preview"`

	// LineCount is the number of lines in the source.
	LineCount int `json:"lineCount"`
}

// NewSourceInfo computes the SourceInfo for a source text.
func NewSourceInfo(source string) SourceInfo {
	sum := sha256.Sum256([]byte(source))
	preview := source
	if len(preview) > PreviewLength {
		preview = preview[:PreviewLength]
	}
	return SourceInfo{
		Hash:       hex.EncodeToString(sum[:]),
		ByteLength: len(source),
		Preview:    preview,
		LineCount:  strings.Count(source, "\n") + 1,
	}
}

// Artifact is one ordered code fragment of a multi-part candidate. Models
// may split an unwieldy script into several fragments; fragments are
// concatenated in Order to form the final code.
type Artifact struct {
	// ID identifies the fragment within its candidate.
	ID string `json:"id"`

	// Order is the fragment's position in the concatenation.
	Order int `json:"order"`

	// Code is the fragment's source text.
	Code string `json:"code"`
}

// Candidate is a not-yet-validated generated script as extracted from a
// model response.
type Candidate struct {
	// Code is the full source text, with fenced-code markers removed and
	// artifacts merged when the response was multi-part.
	Code string `json:"code"`

	// Entrypoint is the entry-point name the model declared. Empty means
	// the model omitted it; validation enforces EntrypointName either way.
	Entrypoint string `json:"entrypoint,omitempty"`

	// Dependencies lists module names the model claims the script needs.
	Dependencies []string `json:"dependencies,omitempty"`

	// Notes carries free-form remarks from the model about the script.
	Notes []string `json:"notes,omitempty"`

	// Artifacts preserves the original fragments for diagnostics when the
	// response was multi-part.
	Artifacts []Artifact `json:"artifacts,omitempty"`
}

// ValidationReport is the structured outcome of static validation. Soft
// violations are recorded here rather than raised as errors so policy can
// evolve independently of hard rejection.
type ValidationReport struct {
	// SyntaxValid reports whether the source parsed as a valid program.
	SyntaxValid bool `json:"syntaxValid"`

	// Deterministic reports whether no banned non-deterministic primitive
	// was found. It is meaningful regardless of whether determinism was
	// required.
	Deterministic bool `json:"deterministic"`

	// ForbiddenAPIs lists process-control and module surfaces the source
	// touches that the constraints do not permit.
	ForbiddenAPIs []string `json:"forbiddenApis"`

	// Warnings carries human-readable notices for soft violations.
	Warnings []string `json:"warnings"`
}

// Descriptor is the validated, final representation of a generated script.
type Descriptor struct {
	// Code is the final source text, including any structural repair patch.
	Code string `json:"code"`

	// Entrypoint is always EntrypointName for valid descriptors.
	Entrypoint string `json:"entrypoint"`

	// Runtime tags the execution target.
	Runtime string `json:"runtime"`

	// Deterministic mirrors the constraint the script was validated under.
	Deterministic bool `json:"deterministic"`

	// Dependencies is the sanitized, capped module list.
	Dependencies []string `json:"dependencies,omitempty"`

	// Source summarizes the final code.
	Source SourceInfo `json:"source"`

	// Validation is the static validation report for the final code.
	Validation ValidationReport `json:"validation"`

	// Notes carries capped remarks, including the auto-repair notice when
	// the structural patch was applied.
	Notes []string `json:"notes,omitempty"`

	// Artifacts preserves the fragments of a multi-part response.
	Artifacts []Artifact `json:"artifacts,omitempty"`
}

// AssertionType enumerates the supported test assertions.
type AssertionType string

// Supported assertion types, evaluated against the stringified output.
const (
	AssertContains AssertionType = "contains"
	AssertEquals   AssertionType = "equals"
	AssertRegex    AssertionType = "regex"
)

// Assertion is one expectation over a test case's stringified output.
type Assertion struct {
	Type  AssertionType `json:"type"`
	Value string        `json:"value"`
}

// TestCase pairs one input value with assertions over the output. A case
// with no assertions requires a non-empty output instead.
type TestCase struct {
	// Name optionally labels the case for diagnostics.
	Name string `json:"name,omitempty"`

	// Input is the single value passed to the entry point.
	Input string `json:"input"`

	// Assertions are evaluated in declaration order; the case fails at the
	// first failing assertion.
	Assertions []Assertion `json:"assertions,omitempty"`
}
