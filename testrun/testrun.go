// Package testrun executes supplied test cases against a sandboxed
// candidate and evaluates their assertions.
//
// Cases run sequentially, each in a fresh sandbox context. Assertions are
// evaluated in declaration order against the stringified output and a
// case fails at its first failing assertion; a case without assertions
// requires a non-empty output instead. The aggregate passes only if every
// case passed, and per-case results are retained for diagnostics either
// way.
package testrun

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/jonwraymond/scriptgen/sandbox"
	"github.com/jonwraymond/scriptgen/script"
)

// CaseResult records the outcome of one test case.
type CaseResult struct {
	// Name labels the case; defaults to its position.
	Name string `json:"name"`

	// Passed reports whether every assertion held.
	Passed bool `json:"passed"`

	// Output is the stringified execution value.
	Output string `json:"output,omitempty"`

	// FailedAssertion describes the first failing assertion, if any.
	FailedAssertion string `json:"failedAssertion,omitempty"`

	// Error carries the execution failure, if the script did not finish.
	Error string `json:"error,omitempty"`

	// DurationMs is the sandbox execution time.
	DurationMs int64 `json:"durationMs"`
}

// Report aggregates all case results.
type Report struct {
	// Passed is true only if every case passed.
	Passed bool `json:"passed"`

	// Cases holds per-case results in declaration order.
	Cases []CaseResult `json:"cases"`
}

// Summary renders a short failure summary for repair feedback.
func (r Report) Summary() string {
	var failures []string
	for _, c := range r.Cases {
		if c.Passed {
			continue
		}
		reason := c.FailedAssertion
		if reason == "" {
			reason = c.Error
		}
		failures = append(failures, fmt.Sprintf("%s: %s", c.Name, reason))
	}
	return strings.Join(failures, "; ")
}

// Run executes every test case against the candidate inside the sandbox.
func Run(ctx context.Context, exec *sandbox.Executor, code string, constraints script.Constraints, cases []script.TestCase) Report {
	report := Report{Passed: true}
	for i, tc := range cases {
		result := runCase(ctx, exec, code, constraints, tc, i)
		if !result.Passed {
			report.Passed = false
		}
		report.Cases = append(report.Cases, result)
	}
	return report
}

func runCase(ctx context.Context, exec *sandbox.Executor, code string, constraints script.Constraints, tc script.TestCase, index int) CaseResult {
	name := tc.Name
	if name == "" {
		name = fmt.Sprintf("case %d", index+1)
	}

	execResult, err := exec.Execute(ctx, code, tc.Input, constraints)
	result := CaseResult{
		Name:       name,
		Output:     execResult.Output,
		DurationMs: execResult.DurationMs,
	}
	if err != nil {
		result.Error = err.Error()
		return result
	}

	if len(tc.Assertions) == 0 {
		if strings.TrimSpace(execResult.Output) == "" {
			result.FailedAssertion = "expected non-empty output"
			return result
		}
		result.Passed = true
		return result
	}

	for _, assertion := range tc.Assertions {
		if msg := evaluate(assertion, execResult.Output); msg != "" {
			result.FailedAssertion = msg
			return result
		}
	}
	result.Passed = true
	return result
}

// evaluate returns an empty string when the assertion holds, otherwise a
// description of the failure.
func evaluate(a script.Assertion, output string) string {
	switch a.Type {
	case script.AssertContains:
		if !strings.Contains(output, a.Value) {
			return fmt.Sprintf("output does not contain %q", a.Value)
		}
	case script.AssertEquals:
		if output != a.Value {
			return fmt.Sprintf("output %q does not equal %q", truncateOutput(output), a.Value)
		}
	case script.AssertRegex:
		re, err := regexp.Compile(a.Value)
		if err != nil {
			return fmt.Sprintf("invalid regex %q: %v", a.Value, err)
		}
		if !re.MatchString(output) {
			return fmt.Sprintf("output does not match /%s/", a.Value)
		}
	default:
		return fmt.Sprintf("unsupported assertion type %q", a.Type)
	}
	return ""
}

func truncateOutput(s string) string {
	const max = 120
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
