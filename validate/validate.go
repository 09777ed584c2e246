package validate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dop251/goja/parser"

	"github.com/jonwraymond/scriptgen/script"
)

// entryFragmentLength bounds the offending entry-point fragment included
// in hard-failure diagnostics.
const entryFragmentLength = 400

// Accepted export idioms for the entry point. Each pattern captures the
// parameter list when the declaration carries one.
var (
	exportAssignFunc = regexp.MustCompile(
		`module\.exports\s*=\s*(async\s+)?function(?:\s+` + script.EntrypointName + `)?\s*\(([^)]*)\)`)
	exportAssignArrow = regexp.MustCompile(
		`module\.exports\s*=\s*(async\s*)?\(([^)]*)\)\s*=>`)
	exportProperty = regexp.MustCompile(
		`(?:module\.)?exports\.` + script.EntrypointName + `\s*=\s*(async\s*)?(?:function\s*\w*\s*)?\(([^)]*)\)`)
	exportPropertyArrow = regexp.MustCompile(
		`(?:module\.)?exports\.` + script.EntrypointName + `\s*=\s*(async\s*)?\(([^)]*)\)\s*=>`)
	exportNamed = regexp.MustCompile(
		`module\.exports\s*=\s*(?:\{\s*)?` + script.EntrypointName + `\b`)
	namedDecl = regexp.MustCompile(
		`(async\s+)?function\s+` + script.EntrypointName + `\s*\(([^)]*)\)`)
)

var returnPattern = regexp.MustCompile(`\breturn\b`)

// nonDeterministicPatterns are the banned primitives when determinism is
// required. Every match is reported.
var nonDeterministicPatterns = []struct {
	name    string
	pattern *regexp.Regexp
}{
	{"Date.now", regexp.MustCompile(`\bDate\.now\s*\(`)},
	{"new Date", regexp.MustCompile(`\bnew\s+Date\s*\(`)},
	{"Math.random", regexp.MustCompile(`\bMath\.random\s*\(`)},
	{"setTimeout", regexp.MustCompile(`\bsetTimeout\s*\(`)},
	{"setInterval", regexp.MustCompile(`\bsetInterval\s*\(`)},
	{"setImmediate", regexp.MustCompile(`\bsetImmediate\s*\(`)},
	{"process.hrtime", regexp.MustCompile(`\bprocess\.hrtime\b`)},
	{"performance.now", regexp.MustCompile(`\bperformance\.now\s*\(`)},
}

// Module surfaces gated by the execution constraints.
var (
	filesystemModules = []string{"fs", "fs/promises", "path"}
	networkModules    = []string{"http", "https", "net", "dns", "tls", "dgram"}
	bannedModules     = []string{"child_process", "worker_threads", "cluster", "vm", "os"}
)

// processControlPatterns are scanned regardless of constraints.
var processControlPatterns = []struct {
	name    string
	pattern *regexp.Regexp
}{
	{"process.exit", regexp.MustCompile(`\bprocess\.exit\s*\(`)},
	{"eval", regexp.MustCompile(`\beval\s*\(`)},
	{"new Function", regexp.MustCompile(`\bnew\s+Function\s*\(`)},
}

// Check performs static validation of a candidate source under the given
// constraints. It returns a report in every case; the error, when
// non-nil, is a retryable *script.ValidationError for one of the hard
// checks.
func Check(code string, constraints script.Constraints) (script.ValidationReport, error) {
	report := script.ValidationReport{
		ForbiddenAPIs: []string{},
		Warnings:      []string{},
	}

	if _, err := parser.ParseFile(nil, "script.js", code, 0); err != nil {
		return report, script.NewValidationError(
			"syntax_error",
			fmt.Sprintf("candidate does not parse: %v", err),
			map[string]any{"parseError": err.Error()},
		)
	}
	report.SyntaxValid = true

	entry, err := findEntrypoint(code)
	if err != nil {
		return report, err
	}
	if !entry.async {
		return report, script.NewValidationError(
			"entrypoint_not_async",
			fmt.Sprintf("the %s entry point must be declared async", script.EntrypointName),
			map[string]any{"fragment": entry.fragment},
		)
	}
	if entry.param == "" {
		return report, script.NewValidationError(
			"entrypoint_missing_parameter",
			fmt.Sprintf("the %s entry point must name its single input parameter", script.EntrypointName),
			map[string]any{"fragment": entry.fragment},
		)
	}

	if !returnPattern.MatchString(code) && !strings.Contains(code, RepairSentinel) {
		return report, script.NewValidationError(
			"entrypoint_missing_return",
			fmt.Sprintf("the %s entry point never returns a value", script.EntrypointName),
			map[string]any{"fragment": entry.fragment},
		)
	}

	var nonDeterministic []string
	for _, p := range nonDeterministicPatterns {
		if p.pattern.MatchString(code) {
			nonDeterministic = append(nonDeterministic, p.name)
		}
	}
	report.Deterministic = len(nonDeterministic) == 0
	if constraints.Deterministic && len(nonDeterministic) > 0 {
		return report, script.NewValidationError(
			"non_deterministic_code",
			fmt.Sprintf("deterministic mode forbids: %s", strings.Join(nonDeterministic, ", ")),
			map[string]any{"violations": nonDeterministic},
		)
	}

	scanForbidden(code, constraints, &report)
	return report, nil
}

// scanForbidden records module and process-control surfaces the
// constraints do not permit. Matches are warnings, never hard failures.
func scanForbidden(code string, constraints script.Constraints, report *script.ValidationReport) {
	flag := func(name, reason string) {
		for _, existing := range report.ForbiddenAPIs {
			if existing == name {
				return
			}
		}
		report.ForbiddenAPIs = append(report.ForbiddenAPIs, name)
		report.Warnings = append(report.Warnings, reason)
	}

	if !constraints.AllowFilesystem {
		for _, mod := range filesystemModules {
			if requirePattern(mod).MatchString(code) {
				flag(mod, fmt.Sprintf("script requires %q but filesystem access is not allowed", mod))
			}
		}
	}
	if !constraints.AllowNetwork {
		for _, mod := range networkModules {
			if requirePattern(mod).MatchString(code) {
				flag(mod, fmt.Sprintf("script requires %q but network access is not allowed", mod))
			}
		}
	}
	for _, mod := range bannedModules {
		if requirePattern(mod).MatchString(code) {
			flag(mod, fmt.Sprintf("script requires %q, which the sandbox never provides", mod))
		}
	}
	for _, p := range processControlPatterns {
		if p.pattern.MatchString(code) {
			flag(p.name, fmt.Sprintf("script uses %s, which the sandbox disables", p.name))
		}
	}
}

func requirePattern(module string) *regexp.Regexp {
	return regexp.MustCompile(`require\s*\(\s*['"]` + regexp.QuoteMeta(module) + `['"]\s*\)`)
}

type entrypoint struct {
	async    bool
	param    string
	fragment string
}

// findEntrypoint locates the exported entry point under any accepted
// export idiom. Returns entrypoint_not_exported when none matches.
func findEntrypoint(code string) (entrypoint, error) {
	type match struct {
		loc        []int
		asyncGroup string
		params     string
	}
	try := func(re *regexp.Regexp) *match {
		m := re.FindStringSubmatchIndex(code)
		if m == nil {
			return nil
		}
		return &match{
			loc:        m[0:2],
			asyncGroup: group(code, m, 1),
			params:     group(code, m, 2),
		}
	}

	for _, re := range []*regexp.Regexp{exportAssignFunc, exportAssignArrow, exportProperty, exportPropertyArrow} {
		if m := try(re); m != nil {
			return entrypoint{
				async:    strings.TrimSpace(m.asyncGroup) == "async",
				param:    firstParam(m.params),
				fragment: fragmentAt(code, m.loc[0]),
			}, nil
		}
	}

	// Named declaration exported separately: async function transform(..)
	// plus module.exports = transform / { transform }.
	if exportNamed.MatchString(code) {
		if m := try(namedDecl); m != nil {
			return entrypoint{
				async:    strings.TrimSpace(m.asyncGroup) == "async",
				param:    firstParam(m.params),
				fragment: fragmentAt(code, m.loc[0]),
			}, nil
		}
	}

	return entrypoint{}, script.NewValidationError(
		"entrypoint_not_exported",
		fmt.Sprintf("no exported %s entry point found", script.EntrypointName),
		map[string]any{"fragment": fragmentAt(code, 0)},
	)
}

func group(code string, m []int, n int) string {
	start, end := m[2*n], m[2*n+1]
	if start < 0 {
		return ""
	}
	return code[start:end]
}

func firstParam(params string) string {
	parts := strings.Split(params, ",")
	if len(parts) == 0 {
		return ""
	}
	name := strings.TrimSpace(parts[0])
	name = strings.TrimPrefix(name, "{")
	return strings.TrimSpace(strings.Split(name, "=")[0])
}

func fragmentAt(code string, offset int) string {
	end := offset + entryFragmentLength
	if end > len(code) {
		end = len(code)
	}
	return code[offset:end]
}
