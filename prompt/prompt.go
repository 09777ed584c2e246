// Package prompt deterministically assembles generation prompts. The same
// inputs always produce the same prompt text — no randomness, no
// time-based content — which is what makes repair-loop fixtures
// reproducible.
package prompt

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jonwraymond/scriptgen/normalize"
	"github.com/jonwraymond/scriptgen/retrieval"
	"github.com/jonwraymond/scriptgen/script"
)

// FragmentPreviewLength bounds the offending entry-point fragment embedded
// in repair feedback.
const FragmentPreviewLength = 400

// Feedback carries the structured failure context of the previous attempt
// into a repair prompt.
type Feedback struct {
	// Code is the validation error code of the failed attempt.
	Code string

	// Message is the human-readable failure description.
	Message string

	// Violations lists the specific rule violations found.
	Violations []string

	// EntrypointFragment is a bounded preview of the previous candidate's
	// offending entry-point region.
	EntrypointFragment string

	// ClassificationShape is set when the previous response looked like a
	// banned classification-style payload instead of a script.
	ClassificationShape bool
}

// Build assembles the full generation prompt in fixed section order:
// system framing, domain rules, retrieved context, schema description,
// output format, and — on repair attempts only — the failure feedback
// block.
func Build(input *normalize.Input, snippets []retrieval.Snippet, feedback *Feedback) string {
	var b strings.Builder

	writeFraming(&b, input)
	writeDomainRules(&b, input)
	writeContext(&b, snippets)
	writeSchema(&b, input.InputSchema)
	writeOutputFormat(&b)
	if feedback != nil {
		writeFeedback(&b, feedback)
	}

	return strings.TrimSpace(b.String()) + "\n"
}

func writeFraming(b *strings.Builder, input *normalize.Input) {
	b.WriteString("## Task\n")
	b.WriteString("You are generating a sandboxed integration script. ")
	fmt.Fprintf(b, "Produce a JavaScript module that exports a single `async function %s(input)` and returns one value.\n\n", script.EntrypointName)
	b.WriteString("Instructions:\n")
	b.WriteString(input.Instructions)
	b.WriteString("\n")
	if input.AdditionalContext != "" {
		b.WriteString("\nAdditional context:\n")
		b.WriteString(input.AdditionalContext)
		b.WriteString("\n")
	}
	if input.ExpectedOutputDescription != "" {
		b.WriteString("\nExpected output:\n")
		b.WriteString(input.ExpectedOutputDescription)
		b.WriteString("\n")
	}
	b.WriteString("\n")
}

func writeDomainRules(b *strings.Builder, input *normalize.Input) {
	b.WriteString("## Rules\n")
	fmt.Fprintf(b, "- Export exactly one entry point named `%s`, declared async, taking the single parameter `input`.\n", script.EntrypointName)
	b.WriteString("- The entry point must return a value; never rely on console output as the result.\n")
	if input.Constraints.Deterministic {
		b.WriteString("- The script must be deterministic: no Date.now, new Date, Math.random, timers, or any wall-clock or randomness source.\n")
	}
	if !input.Constraints.AllowNetwork {
		b.WriteString("- No network access: do not require http, https, net, dns, or tls.\n")
	}
	if !input.Constraints.AllowFilesystem {
		b.WriteString("- No filesystem access: do not require fs or path-based file APIs.\n")
	}
	b.WriteString("- No process control: no process.exit, child_process, worker_threads, eval, or new Function.\n")
	if input.PrimaryMessageType != "" {
		fmt.Fprintf(b, "- The input is an HL7 %s message; honor its segment structure and field separators.\n", strings.ToUpper(input.PrimaryMessageType))
	} else if len(input.DetectedMessageTypes) > 0 {
		fmt.Fprintf(b, "- The input likely belongs to these HL7 families: %s.\n", strings.ToUpper(strings.Join(input.DetectedMessageTypes, ", ")))
	}
	b.WriteString("\n")
}

func writeContext(b *strings.Builder, snippets []retrieval.Snippet) {
	if len(snippets) == 0 {
		return
	}
	b.WriteString("## Reference material\n")
	for i, s := range snippets {
		title := s.Title
		if title == "" {
			title = s.ID
		}
		fmt.Fprintf(b, "[%d] %s (%s)\n%s\n\n", i+1, title, s.Source, s.Text)
	}
}

func writeSchema(b *strings.Builder, schema normalize.Schema) {
	b.WriteString("## Input schema\n")
	fmt.Fprintf(b, "The `input` parameter is a value of type %q", schema.Type)
	if len(schema.Properties) == 0 {
		b.WriteString(".\n\n")
		return
	}
	b.WriteString(" with these properties:\n")

	names := make([]string, 0, len(schema.Properties))
	for name := range schema.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	required := map[string]bool{}
	for _, name := range schema.Required {
		required[name] = true
	}
	for _, name := range names {
		prop := schema.Properties[name]
		marker := "optional"
		if required[name] {
			marker = "required"
		}
		fmt.Fprintf(b, "- %s (%s, %s)", name, prop.Type, marker)
		if prop.Description != "" {
			fmt.Fprintf(b, ": %s", prop.Description)
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
}

func writeOutputFormat(b *strings.Builder) {
	b.WriteString("## Output format\n")
	b.WriteString("Respond with a JSON object:\n")
	fmt.Fprintf(b, "{\"code\": \"<the full module source>\", \"entrypoint\": %q, \"dependencies\": [], \"notes\": []}\n", script.EntrypointName)
	b.WriteString("For very long scripts you may instead return {\"artifacts\": [{\"id\", \"order\", \"code\"}, ...]} with fragments that concatenate into the module.\n")
	b.WriteString("Do not return prose, classifications, or markdown outside the JSON object.\n\n")
}

func writeFeedback(b *strings.Builder, fb *Feedback) {
	b.WriteString("## Previous attempt failed\n")
	fmt.Fprintf(b, "Error %s: %s\n", fb.Code, fb.Message)
	if len(fb.Violations) > 0 {
		b.WriteString("Rule violations:\n")
		for _, v := range fb.Violations {
			fmt.Fprintf(b, "- %s\n", v)
		}
	}
	if fb.EntrypointFragment != "" {
		fragment := fb.EntrypointFragment
		if len(fragment) > FragmentPreviewLength {
			fragment = fragment[:FragmentPreviewLength]
		}
		b.WriteString("Offending entry-point fragment:\n")
		b.WriteString(fragment)
		b.WriteString("\n")
	}
	if fb.ClassificationShape {
		b.WriteString("The previous response was a classification-style payload, not a script. Return the JSON object with a `code` field as specified above.\n")
	}
	b.WriteString("Fix these problems and return the corrected module.\n")
}
